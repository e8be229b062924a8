package server

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenkv/tenkv/lib/clock"
	"github.com/tenkv/tenkv/lib/persist"
	"github.com/tenkv/tenkv/lib/store"
)

// newTestRouter creates a router backed by a fresh store in a temp dir.
func newTestRouter(t *testing.T) (*Router, *store.Store, *persist.WAL, *clock.Mock) {
	t.Helper()

	dir := t.TempDir()
	clk := clock.NewMock()
	st, err := store.New(store.Config{
		DataDir:          dir,
		RootUser:         "root",
		RootPassword:     "rootpass",
		PBKDF2Iterations: 16,
	}, clk)
	require.NoError(t, err)

	wal := persist.NewWAL(filepath.Join(dir, store.WALFilename))
	t.Cleanup(func() { _ = wal.Close() })

	return NewRouter(st, wal, clk), st, wal, clk
}

// dispatch runs one command and fails the test on internal errors.
func dispatch(t *testing.T, r *Router, sess *Session, line string) string {
	t.Helper()
	resp, err := r.Dispatch(sess, line)
	require.NoError(t, err)
	return resp
}

func TestRouterSessionLifecycle(t *testing.T) {
	r, _, _, _ := newTestRouter(t)
	sess := NewSession()

	assert.Equal(t, "login: ok", dispatch(t, r, sess, "login root rootpass"))
	assert.Equal(t, "root", dispatch(t, r, sess, "whoami"))
	assert.Equal(t, "create_db: ok", dispatch(t, r, sess, "create_db mydb"))
	assert.Equal(t, "select_db: ok", dispatch(t, r, sess, "select_db mydb"))
	assert.Equal(t, "mydb", dispatch(t, r, sess, "current_db"))
	assert.Equal(t, "put: ok", dispatch(t, r, sess, "put x 1"))
	assert.Equal(t, "1", dispatch(t, r, sess, "get x"))
	assert.Equal(t, "update: ok", dispatch(t, r, sess, "update x 2"))
	assert.Equal(t, "2", dispatch(t, r, sess, "get x"))
	assert.Equal(t, "delete: ok", dispatch(t, r, sess, "delete x"))
	assert.Equal(t, "invalid key", dispatch(t, r, sess, "get x"))
}

func TestRouterLoginRequired(t *testing.T) {
	r, _, _, _ := newTestRouter(t)
	sess := NewSession()

	assert.Equal(t, "you must be logged in", dispatch(t, r, sess, "whoami"))
	assert.Equal(t, "you must be logged in", dispatch(t, r, sess, "create_db mydb"))
	assert.Equal(t, "you must be logged in", dispatch(t, r, sess, "get x"))
}

func TestRouterDatabaseRequired(t *testing.T) {
	r, _, _, _ := newTestRouter(t)
	sess := NewSession()

	dispatch(t, r, sess, "login root rootpass")
	assert.Equal(t, "no database selected", dispatch(t, r, sess, "get x"))
	assert.Equal(t, "no database selected", dispatch(t, r, sess, "put x 1"))
	assert.Equal(t, "no database selected", dispatch(t, r, sess, "current_db"))
}

func TestRouterInvalidCredentials(t *testing.T) {
	r, _, _, _ := newTestRouter(t)
	sess := NewSession()

	assert.Equal(t, "invalid credentials", dispatch(t, r, sess, "login root wrong"))
	assert.Equal(t, "invalid credentials", dispatch(t, r, sess, "login nobody pw"))
	assert.Empty(t, sess.Username)
}

func TestRouterInvalidCommands(t *testing.T) {
	r, _, _, _ := newTestRouter(t)
	sess := NewSession()

	assert.Equal(t, "invalid command", dispatch(t, r, sess, "frobnicate"))
	assert.Equal(t, "invalid command", dispatch(t, r, sess, ""))
	assert.Equal(t, "invalid command", dispatch(t, r, sess, "put a b c d e"))
	assert.Equal(t, "invalid number of parameters", dispatch(t, r, sess, "login root"))
}

func TestRouterOwnershipMasking(t *testing.T) {
	r, _, _, _ := newTestRouter(t)
	rootSess := NewSession()
	dispatch(t, r, rootSess, "login root rootpass")
	dispatch(t, r, rootSess, "create_db rootdb")

	dispatch(t, r, rootSess, "register_user alice pw")
	sess := NewSession()
	dispatch(t, r, sess, "login alice pw")

	// non-owners see the same error as for a missing database
	assert.Equal(t, "database does not exist", dispatch(t, r, sess, "select_db rootdb"))
	assert.Equal(t, "database does not exist", dispatch(t, r, sess, "select_db missing"))

	// granting ownership makes it visible
	assert.Equal(t, "add_user_to_owners: ok", dispatch(t, r, rootSess, "add_user_to_owners alice rootdb"))
	assert.Equal(t, "select_db: ok", dispatch(t, r, sess, "select_db rootdb"))
}

func TestRouterRootOnlyCommands(t *testing.T) {
	r, _, _, _ := newTestRouter(t)
	rootSess := NewSession()
	dispatch(t, r, rootSess, "login root rootpass")
	dispatch(t, r, rootSess, "register_user alice pw")
	dispatch(t, r, rootSess, "register_user bob pw")

	sess := NewSession()
	dispatch(t, r, sess, "login alice pw")

	assert.Equal(t, "only root user can delete users", dispatch(t, r, sess, "delete_user bob"))
	assert.Equal(t, "cannot delete root user", dispatch(t, r, rootSess, "delete_user root"))
	assert.Equal(t, "delete_user: ok", dispatch(t, r, rootSess, "delete_user bob"))
	assert.Equal(t, "invalid credentials", dispatch(t, r, sess, "login bob pw"))
}

func TestRouterListCommands(t *testing.T) {
	r, _, _, _ := newTestRouter(t)
	sess := NewSession()
	dispatch(t, r, sess, "login root rootpass")
	dispatch(t, r, sess, "register_user alice pw")
	dispatch(t, r, sess, "create_db adb")
	dispatch(t, r, sess, "create_db bdb")
	dispatch(t, r, sess, "add_user_to_owners alice adb")
	dispatch(t, r, sess, "select_db adb")

	assert.Equal(t, "[alice root]", dispatch(t, r, sess, "list_users"))
	assert.Equal(t, "[adb bdb]", dispatch(t, r, sess, "list_dbs"))
}

func TestRouterDeleteDBDeselects(t *testing.T) {
	r, _, _, _ := newTestRouter(t)
	sess := NewSession()
	dispatch(t, r, sess, "login root rootpass")
	dispatch(t, r, sess, "create_db mydb")
	dispatch(t, r, sess, "select_db mydb")

	assert.Equal(t, "delete_db: ok", dispatch(t, r, sess, "delete_db mydb"))
	assert.Equal(t, "no database selected", dispatch(t, r, sess, "get x"))
	assert.Equal(t, "database does not exist", dispatch(t, r, sess, "select_db mydb"))
}

func TestRouterMalformedTTLRejectedBeforeWrite(t *testing.T) {
	r, _, _, _ := newTestRouter(t)
	sess := NewSession()
	dispatch(t, r, sess, "login root rootpass")
	dispatch(t, r, sess, "create_db mydb")
	dispatch(t, r, sess, "select_db mydb")

	assert.Equal(t, "invalid ttl: should be integer", dispatch(t, r, sess, "put k v notanumber"))
	assert.Equal(t, "invalid ttl: should be integer", dispatch(t, r, sess, "put k v -3"))
	assert.Equal(t, "invalid key", dispatch(t, r, sess, "get k"))

	// update with a bad TTL must not touch the value either
	dispatch(t, r, sess, "put k v")
	assert.Equal(t, "invalid ttl: should be integer", dispatch(t, r, sess, "update k w x"))
	assert.Equal(t, "v", dispatch(t, r, sess, "get k"))
}

func TestRouterTTLExpiry(t *testing.T) {
	r, st, _, clk := newTestRouter(t)
	sess := NewSession()
	dispatch(t, r, sess, "login root rootpass")
	dispatch(t, r, sess, "create_db mydb")
	dispatch(t, r, sess, "select_db mydb")

	base := time.Unix(1000, 0)
	clk.Set(base)
	dispatch(t, r, sess, "put short v 5")
	dispatch(t, r, sess, "put long v 60")
	dispatch(t, r, sess, "put forever v")

	clk.Set(base.Add(10 * time.Second))
	assert.Equal(t, 1, st.SweepExpired())

	assert.Equal(t, "invalid key", dispatch(t, r, sess, "get short"))
	assert.Equal(t, "v", dispatch(t, r, sess, "get long"))
	assert.Equal(t, "v", dispatch(t, r, sess, "get forever"))

	// an unscheduled update clears the TTL
	dispatch(t, r, sess, "update long v2")
	clk.Set(base.Add(5 * time.Minute))
	st.SweepExpired()
	assert.Equal(t, "v2", dispatch(t, r, sess, "get long"))
}

func TestRouterExit(t *testing.T) {
	r, _, _, _ := newTestRouter(t)
	sess := NewSession()

	resp, err := r.Dispatch(sess, "exit")
	require.NoError(t, err)
	assert.Empty(t, resp)
	assert.True(t, sess.Exiting)
}

func TestRouterWALAppendsMutations(t *testing.T) {
	r, _, wal, clk := newTestRouter(t)
	sess := NewSession()
	clk.Set(time.Unix(42, 0))

	dispatch(t, r, sess, "login root rootpass")
	dispatch(t, r, sess, "create_db mydb")
	dispatch(t, r, sess, "select_db mydb")
	dispatch(t, r, sess, "put k v")
	dispatch(t, r, sess, "put ttlkey v 30")
	dispatch(t, r, sess, "get k")
	dispatch(t, r, sess, "delete k")

	entries, err := wal.Load()
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, "create_db mydb", entries[0].Command)
	assert.Equal(t, "put mydb k v", entries[1].Command)
	assert.Equal(t, "put mydb ttlkey v 30", entries[2].Command)
	assert.Equal(t, "delete mydb k", entries[3].Command)
	for _, e := range entries {
		assert.Equal(t, int64(42), e.Timestamp.Unix())
	}
}

func TestRouterFailedCommandsNotLogged(t *testing.T) {
	r, _, wal, _ := newTestRouter(t)
	sess := NewSession()
	dispatch(t, r, sess, "login root rootpass")
	dispatch(t, r, sess, "create_db mydb")
	dispatch(t, r, sess, "select_db mydb")

	dispatch(t, r, sess, "put k v badttl")
	dispatch(t, r, sess, "update missing v")
	dispatch(t, r, sess, "create_db mydb")

	entries, err := wal.Load()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "create_db mydb", entries[0].Command)
}

func TestRouterReplay(t *testing.T) {
	r, st, wal, _ := newTestRouter(t)

	// a log as a crashed process would have left it: the short-lived key
	// was written far enough in the past that it is already expired
	require.NoError(t, wal.Append(time.Unix(100, 0), "create_db mydb"))
	require.NoError(t, wal.Append(time.Unix(100, 0), "put mydb stale v 5"))
	require.NoError(t, wal.Append(time.Unix(103, 0), "put mydb keep v"))
	require.NoError(t, wal.Append(time.Unix(104, 0), "put mydb gone v"))
	require.NoError(t, wal.Append(time.Unix(105, 0), "delete mydb gone"))
	require.NoError(t, wal.Close())

	replayed, err := r.Replay()
	require.NoError(t, err)
	assert.Equal(t, 5, replayed)

	db, err := st.GetDatabaseByName("root", "mydb")
	require.NoError(t, err)

	_, ok := db.Get("stale")
	assert.False(t, ok, "expired key must not survive replay")
	_, ok = db.Get("gone")
	assert.False(t, ok)
	v, ok := db.Get("keep")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	// the log is consumed after a successful replay
	entries, err := persist.NewWAL(wal.Path()).Load()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRouterReplaySkipsStaleEntries(t *testing.T) {
	r, st, wal, _ := newTestRouter(t)

	require.NoError(t, wal.Append(time.Unix(100, 0), "put nosuchdb k v"))
	require.NoError(t, wal.Append(time.Unix(101, 0), "create_db mydb"))
	require.NoError(t, wal.Append(time.Unix(102, 0), "put mydb k v"))
	require.NoError(t, wal.Close())

	replayed, err := r.Replay()
	require.NoError(t, err)
	assert.Equal(t, 2, replayed)

	db, err := st.GetDatabaseByName("root", "mydb")
	require.NoError(t, err)
	v, ok := db.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestRouterNoopDeleteDBNotLogged(t *testing.T) {
	r, st, wal, _ := newTestRouter(t)
	rootSess := NewSession()
	dispatch(t, r, rootSess, "login root rootpass")
	dispatch(t, r, rootSess, "create_db mydb")
	dispatch(t, r, rootSess, "select_db mydb")
	dispatch(t, r, rootSess, "put k v")
	dispatch(t, r, rootSess, "register_user alice pw")

	sess := NewSession()
	dispatch(t, r, sess, "login alice pw")

	// the non-owner no-op still answers ok, but must not reach the log:
	// replayed as root it would delete a database that survived the
	// original run
	assert.Equal(t, "delete_db: ok", dispatch(t, r, sess, "delete_db mydb"))
	_, err := st.GetDatabaseByName("root", "mydb")
	require.NoError(t, err)

	entries, err := wal.Load()
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Command, "delete_db")
	}
}

func TestRouterReplayDeleteDBOverSnapshot(t *testing.T) {
	r, st, wal, _ := newTestRouter(t)
	sess := NewSession()
	dispatch(t, r, sess, "login root rootpass")
	dispatch(t, r, sess, "create_db mydb")
	dispatch(t, r, sess, "select_db mydb")
	dispatch(t, r, sess, "put k v")

	// clean shutdown image: snapshot written, log consumed
	snap := st.Export()
	require.NoError(t, wal.Remove())

	// the delete runs live (purging the write-through owners entry) and is
	// logged; then the process dies before the next snapshot
	assert.Equal(t, "delete_db: ok", dispatch(t, r, sess, "delete_db mydb"))
	st.RestoreSnapshot(snap)

	replayed, err := r.Replay()
	require.NoError(t, err)
	assert.Equal(t, 1, replayed)

	// the database must not come back from the snapshot
	_, err = st.GetDatabaseByName("root", "mydb")
	assert.Equal(t, store.ErrDbNotExist, err)
	assert.NotContains(t, st.Export().Databases, "mydb")
}
