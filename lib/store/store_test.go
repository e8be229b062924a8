package store

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenkv/tenkv/lib/clock"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{
		DataDir:          t.TempDir(),
		RootUser:         "root",
		RootPassword:     "rootpass",
		PBKDF2Iterations: 16,
	}, clock.NewMock())
	require.NoError(t, err)
	return s
}

// checkOwnershipInvariant asserts that the two ownership indices agree in
// both directions.
func checkOwnershipInvariant(t *testing.T, s *Store) {
	t.Helper()
	for _, dbName := range s.ownersOfDB.Keys() {
		owners, _ := s.ownersOfDB.Get(dbName)
		for _, owner := range owners {
			owned, _ := s.dbsOfUser.Get(owner)
			assert.Contains(t, owned, dbName, "owner %s of %s has no back reference", owner, dbName)
		}
	}
	for _, username := range s.dbsOfUser.Keys() {
		owned, _ := s.dbsOfUser.Get(username)
		for _, dbName := range owned {
			owners, _ := s.ownersOfDB.Get(dbName)
			assert.Contains(t, owners, username, "db %s of %s has no back reference", dbName, username)
		}
	}
}

func TestRootUserProvisioned(t *testing.T) {
	s := newTestStore(t)

	assert.True(t, s.AuthenticateUser("root", "rootpass"))
	assert.False(t, s.AuthenticateUser("root", "wrong"))
}

func TestCreateUser(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CreateUser("alice", "secret"))
	assert.True(t, s.AuthenticateUser("alice", "secret"))

	err := s.CreateUser("alice", "other")
	assert.Equal(t, ErrUsernameAlreadyTaken, err)

	owned, err := s.ListDBsOfUser("alice")
	require.NoError(t, err)
	assert.Empty(t, owned)
}

func TestAuthenticateUnknownUserIsNegativeNotError(t *testing.T) {
	s := newTestStore(t)
	assert.False(t, s.AuthenticateUser("nobody", "pw"))
}

func TestCreateDatabaseGrantsCreatorAndRoot(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateUser("alice", "secret"))

	require.NoError(t, s.CreateDatabase("alice", "mydb"))

	owners, err := s.ListUsersOfDB("mydb")
	require.NoError(t, err)
	sort.Strings(owners)
	assert.Equal(t, []string{"alice", "root"}, owners)
	checkOwnershipInvariant(t, s)

	assert.Equal(t, ErrDbAlreadyExists, s.CreateDatabase("alice", "mydb"))
	assert.Equal(t, ErrUserNotExist, s.CreateDatabase("nobody", "otherdb"))
}

func TestCreateDatabaseByRoot(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateDatabase("root", "sysdb"))

	owners, err := s.ListUsersOfDB("sysdb")
	require.NoError(t, err)
	assert.Equal(t, []string{"root"}, owners)
}

func TestOwnershipMasksExistence(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateUser("alice", "a"))
	require.NoError(t, s.CreateUser("bob", "b"))
	require.NoError(t, s.CreateDatabase("alice", "mydb"))

	_, err := s.GetDatabaseByName("bob", "mydb")
	assert.Equal(t, ErrDbNotExist, err, "non-owner must see the same error as for a missing db")

	_, err = s.GetDatabaseByName("bob", "nosuchdb")
	assert.Equal(t, ErrDbNotExist, err)

	db, err := s.GetDatabaseByName("alice", "mydb")
	require.NoError(t, err)
	assert.NotNil(t, db)

	// root is an implicit owner
	_, err = s.GetDatabaseByName("root", "mydb")
	assert.NoError(t, err)
}

func TestAddUserToOwners(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateUser("alice", "a"))
	require.NoError(t, s.CreateUser("bob", "b"))
	require.NoError(t, s.CreateDatabase("alice", "mydb"))

	require.NoError(t, s.AddUserToOwners("bob", "mydb"))
	require.NoError(t, s.AddUserToOwners("bob", "mydb")) // idempotent

	owners, err := s.ListUsersOfDB("mydb")
	require.NoError(t, err)
	assert.Len(t, owners, 3)
	checkOwnershipInvariant(t, s)

	assert.Equal(t, ErrUserNotExist, s.AddUserToOwners("nobody", "mydb"))
	assert.Equal(t, ErrDbNotExist, s.AddUserToOwners("bob", "nosuchdb"))
}

func TestDeleteDatabase(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateUser("alice", "a"))
	require.NoError(t, s.CreateUser("bob", "b"))
	require.NoError(t, s.CreateDatabase("alice", "mydb"))

	// non-owner delete is a silent no-op and reports that it did nothing
	deleted, err := s.DeleteDatabase("bob", "mydb")
	require.NoError(t, err)
	assert.False(t, deleted)
	_, err = s.GetDatabaseByName("alice", "mydb")
	assert.NoError(t, err)

	deleted, err = s.DeleteDatabase("alice", "mydb")
	require.NoError(t, err)
	assert.True(t, deleted)
	_, err = s.GetDatabaseByName("alice", "mydb")
	assert.Equal(t, ErrDbNotExist, err)

	owned, err := s.ListDBsOfUser("alice")
	require.NoError(t, err)
	assert.Empty(t, owned)
	checkOwnershipInvariant(t, s)

	// idempotent
	deleted, err = s.DeleteDatabase("alice", "mydb")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDropDatabaseIgnoresPurgedOwnership(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateDatabase("root", "mydb"))

	// image of a crash after a logged delete: the snapshot still holds the
	// database, the write-through owners entry is already gone
	snap := s.Export()
	deleted, err := s.DeleteDatabase("root", "mydb")
	require.NoError(t, err)
	require.True(t, deleted)
	s.RestoreSnapshot(snap)

	require.NoError(t, s.DropDatabase("mydb"))

	_, err = s.GetDatabaseByName("root", "mydb")
	assert.Equal(t, ErrDbNotExist, err)
	assert.NotContains(t, s.Export().Databases, "mydb")
	checkOwnershipInvariant(t, s)
}

func TestDeleteUserCascadesOwnership(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateUser("alice", "a"))
	require.NoError(t, s.CreateDatabase("alice", "db1"))
	require.NoError(t, s.CreateDatabase("alice", "db2"))

	require.NoError(t, s.DeleteUser("alice"))
	require.NoError(t, s.DeleteUser("alice")) // idempotent

	assert.False(t, s.AuthenticateUser("alice", "a"))
	for _, name := range []string{"db1", "db2"} {
		owners, err := s.ListUsersOfDB(name)
		require.NoError(t, err)
		assert.Equal(t, []string{"root"}, owners, "alice must be purged from %s", name)
	}
	checkOwnershipInvariant(t, s)
}

func TestOwnershipInvariantAfterMixedSequence(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateUser("alice", "a"))
	require.NoError(t, s.CreateUser("bob", "b"))
	require.NoError(t, s.CreateDatabase("alice", "db1"))
	require.NoError(t, s.CreateDatabase("bob", "db2"))
	require.NoError(t, s.AddUserToOwners("bob", "db1"))
	_, err := s.DeleteDatabase("bob", "db2")
	require.NoError(t, err)
	require.NoError(t, s.CreateDatabase("bob", "db3"))
	require.NoError(t, s.DeleteUser("bob"))

	checkOwnershipInvariant(t, s)
}

func TestListQueriesUnknownArguments(t *testing.T) {
	s := newTestStore(t)

	_, err := s.ListUsersOfDB("nosuchdb")
	assert.Equal(t, ErrDbNotExist, err)

	_, err = s.ListDBsOfUser("nobody")
	assert.Equal(t, ErrUserNotExist, err)
}

func TestCredentialsSurviveRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{DataDir: dir, RootUser: "root", RootPassword: "rootpass", PBKDF2Iterations: 16}

	s, err := New(cfg, clock.NewMock())
	require.NoError(t, err)
	require.NoError(t, s.CreateUser("alice", "secret"))
	require.NoError(t, s.CreateDatabase("alice", "mydb"))

	// a new store over the same data dir sees users and ownership, but not
	// database contents (those come back via snapshot + log replay)
	reopened, err := New(cfg, clock.NewMock())
	require.NoError(t, err)
	assert.True(t, reopened.AuthenticateUser("alice", "secret"))
	assert.True(t, reopened.AuthenticateUser("root", "rootpass"))

	owned, err := reopened.ListDBsOfUser("alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"mydb"}, owned)
}

func TestStoreSweepExpired(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(0, 0))

	s, err := New(Config{
		DataDir:          t.TempDir(),
		RootUser:         "root",
		RootPassword:     "rootpass",
		PBKDF2Iterations: 16,
	}, mock)
	require.NoError(t, err)

	require.NoError(t, s.CreateDatabase("root", "db1"))
	require.NoError(t, s.CreateDatabase("root", "db2"))

	db1, err := s.GetDatabaseByName("root", "db1")
	require.NoError(t, err)
	db1.Put("k", "v")
	db1.SetTTL("k", 1)

	db2, err := s.GetDatabaseByName("root", "db2")
	require.NoError(t, err)
	db2.Put("k", "v")
	db2.SetTTL("k", 100)

	mock.Set(time.Unix(2, 0))
	assert.Equal(t, 1, s.SweepExpired())

	_, ok := db1.Get("k")
	assert.False(t, ok)
	_, ok = db2.Get("k")
	assert.True(t, ok)
}

func TestExportRestoreSnapshot(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateDatabase("root", "mydb"))

	db, err := s.GetDatabaseByName("root", "mydb")
	require.NoError(t, err)
	db.Put("x", "1")

	snap := s.Export()
	require.Contains(t, snap.Databases, "mydb")

	s2 := newTestStore(t)
	require.NoError(t, s2.CreateDatabase("root", "mydb")) // owners entry
	s2.RestoreSnapshot(snap)

	restored, err := s2.GetDatabaseByName("root", "mydb")
	require.NoError(t, err)
	v, ok := restored.Get("x")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
}
