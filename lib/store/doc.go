// Package store ties the tenant model together: user credentials, the
// database collection and the many-to-many ownership relation between them.
//
// The ownership relation is kept as two synchronized write-through indices
// (owners-of-database and databases-of-user); every mutation updates both
// sides, so for every user u and database d:
//
//	u in ownersOf(d)  <=>  d in dbsOf(u)
//
// The package also defines the full taxonomy of recoverable command errors;
// their messages are the wire protocol's error lines.
package store
