// Package persist owns the three durable artifacts of the server:
//
//   - Map: write-through JSON maps for user credentials and ownership indices
//   - StoreSnapshot: the magic+version+gob serialization of all databases,
//     written on graceful shutdown and loaded on startup
//   - WAL: the append-only command log replayed after an ungraceful shutdown
//
// The package only moves bytes; all replay semantics (root-user execution,
// clock backdating, skipping stale references) live in the server's router.
package persist
