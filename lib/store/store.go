package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/tenkv/tenkv/lib/auth"
	"github.com/tenkv/tenkv/lib/clock"
	"github.com/tenkv/tenkv/lib/kv"
	"github.com/tenkv/tenkv/lib/persist"
)

// File names under the data directory
const (
	usersFilename    = "users.json"
	ownersFilename   = "owners.json"
	userDbsFilename  = "userdbs.json"
	SnapshotFilename = "store.snapshot"
	WALFilename      = "commands.log"
)

// --------------------------------------------------------------------------
// Store Type
// --------------------------------------------------------------------------

// Config carries what the store needs at construction time. It is filled
// from process configuration by the serve command.
type Config struct {
	DataDir          string
	RootUser         string
	RootPassword     string
	PBKDF2Iterations int
}

// Store owns the collection of databases, the user credential table and the
// bidirectional ownership relation between users and databases.
//
// Credentials and both ownership indices are write-through persistent maps;
// database contents are only durable via snapshot + command log, which the
// server's router manages.
//
// Thread-safety: individual operations are safe for concurrent use, but the
// multi-map updates (create/delete cascades) are not atomic across maps.
// The server serializes all mutations behind a single-writer mutex, which is
// the intended deployment.
type Store struct {
	rootUser   string
	iterations int
	clk        clock.Clock

	dbs        *xsync.MapOf[string, *kv.Database]
	users      *persist.Map[string]   // username -> hex(derivedKey||salt)
	ownersOfDB *persist.Map[[]string] // db name  -> owner usernames
	dbsOfUser  *persist.Map[[]string] // username -> owned db names
}

// New opens (or initializes) the persistent maps under cfg.DataDir and
// provisions the root user if it does not exist yet.
func New(cfg Config, clk clock.Clock) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir %s: %w", cfg.DataDir, err)
	}

	users, err := persist.NewMap[string](filepath.Join(cfg.DataDir, usersFilename))
	if err != nil {
		return nil, err
	}
	owners, err := persist.NewMap[[]string](filepath.Join(cfg.DataDir, ownersFilename))
	if err != nil {
		return nil, err
	}
	userDbs, err := persist.NewMap[[]string](filepath.Join(cfg.DataDir, userDbsFilename))
	if err != nil {
		return nil, err
	}

	s := &Store{
		rootUser:   cfg.RootUser,
		iterations: cfg.PBKDF2Iterations,
		clk:        clk,
		dbs:        xsync.NewMapOf[string, *kv.Database](),
		users:      users,
		ownersOfDB: owners,
		dbsOfUser:  userDbs,
	}

	if !s.users.Has(cfg.RootUser) {
		if err := s.CreateUser(cfg.RootUser, cfg.RootPassword); err != nil {
			return nil, fmt.Errorf("failed to provision root user: %w", err)
		}
	}
	return s, nil
}

// RootUser returns the distinguished root username.
func (s *Store) RootUser() string { return s.rootUser }

// Clock returns the clock shared by the store and all its databases.
func (s *Store) Clock() clock.Clock { return s.clk }

// --------------------------------------------------------------------------
// Users
// --------------------------------------------------------------------------

// CreateUser hashes the password and stores the credential plus an empty
// owned-database set. Fails with ErrUsernameAlreadyTaken if the name exists.
func (s *Store) CreateUser(username, password string) error {
	if s.users.Has(username) {
		return ErrUsernameAlreadyTaken
	}

	credential, err := auth.HashPassword(password, s.iterations)
	if err != nil {
		return err
	}
	if err := s.users.Set(username, credential); err != nil {
		return err
	}
	return s.dbsOfUser.Set(username, []string{})
}

// AuthenticateUser verifies the password against the stored credential.
// An unknown username is a normal negative result, not an error.
func (s *Store) AuthenticateUser(username, password string) bool {
	credential, ok := s.users.Get(username)
	if !ok {
		return false
	}
	return auth.VerifyPassword(password, credential, s.iterations)
}

// DeleteUser removes the credential and purges the user from the owner set
// of every database it owned. Deleting an unknown user is a no-op. The
// databases themselves are kept.
func (s *Store) DeleteUser(username string) error {
	if !s.users.Has(username) {
		return nil
	}

	owned, _ := s.dbsOfUser.Get(username)
	for _, dbName := range owned {
		owners, _ := s.ownersOfDB.Get(dbName)
		if err := s.ownersOfDB.Set(dbName, remove(owners, username)); err != nil {
			return err
		}
	}

	if err := s.users.Delete(username); err != nil {
		return err
	}
	return s.dbsOfUser.Delete(username)
}

// --------------------------------------------------------------------------
// Databases
// --------------------------------------------------------------------------

// CreateDatabase creates an empty database owned by the creating user and,
// implicitly, the root user. Database names are unique across the whole
// store, not per owner.
func (s *Store) CreateDatabase(username, name string) error {
	if _, ok := s.dbs.Load(name); ok {
		return ErrDbAlreadyExists
	}
	if !s.users.Has(username) {
		return ErrUserNotExist
	}

	s.dbs.Store(name, kv.New(s.clk))

	// An owners entry can already exist when the create is replayed from the
	// command log: ownership is write-through persisted and must not be reset.
	if !s.ownersOfDB.Has(name) {
		if err := s.ownersOfDB.Set(name, []string{}); err != nil {
			return err
		}
	}

	if err := s.AddUserToOwners(username, name); err != nil {
		return err
	}
	return s.AddUserToOwners(s.rootUser, name)
}

// AddUserToOwners grants ownership of the database to the user, updating
// both ownership indices. Idempotent if already an owner.
func (s *Store) AddUserToOwners(username, dbName string) error {
	if !s.users.Has(username) {
		return ErrUserNotExist
	}
	owners, ok := s.ownersOfDB.Get(dbName)
	if !ok {
		return ErrDbNotExist
	}
	if contains(owners, username) {
		return nil
	}

	if err := s.ownersOfDB.Set(dbName, append(owners, username)); err != nil {
		return err
	}
	owned, _ := s.dbsOfUser.Get(username)
	return s.dbsOfUser.Set(username, append(owned, dbName))
}

// GetDatabaseByName returns the database if the user is among its owners.
// "Does not exist" and "exists but not yours" are indistinguishable on
// purpose, both fail with ErrDbNotExist.
func (s *Store) GetDatabaseByName(username, name string) (*kv.Database, error) {
	db, ok := s.dbs.Load(name)
	if !ok {
		return nil, ErrDbNotExist
	}
	owners, _ := s.ownersOfDB.Get(name)
	if !contains(owners, username) {
		return nil, ErrDbNotExist
	}
	return db, nil
}

// DeleteDatabase removes the database and purges it from every owner's
// index. A no-op unless the database exists and username is an owner. The
// boolean reports whether a deletion actually happened: callers that record
// mutations must not record a no-op, or a later replay executed as root
// would delete a database the original call left alone.
func (s *Store) DeleteDatabase(username, name string) (bool, error) {
	if _, ok := s.dbs.Load(name); !ok {
		return false, nil
	}
	owners, _ := s.ownersOfDB.Get(name)
	if !contains(owners, username) {
		return false, nil
	}
	return true, s.DropDatabase(name)
}

// DropDatabase removes the database unconditionally, purging whatever is
// left of it in both ownership indices. This is the replay path: ownership
// was checked when the command originally executed, and the write-through
// owners entry may already be gone, so the owner check of DeleteDatabase
// would wrongly turn a logged delete into a no-op and resurrect the
// database from the snapshot.
func (s *Store) DropDatabase(name string) error {
	s.dbs.Delete(name)
	owners, _ := s.ownersOfDB.Get(name)
	for _, owner := range owners {
		owned, _ := s.dbsOfUser.Get(owner)
		if err := s.dbsOfUser.Set(owner, remove(owned, name)); err != nil {
			return err
		}
	}
	return s.ownersOfDB.Delete(name)
}

// --------------------------------------------------------------------------
// Membership Queries
// --------------------------------------------------------------------------

// ListUsersOfDB returns the owner set of the database.
func (s *Store) ListUsersOfDB(name string) ([]string, error) {
	if _, ok := s.dbs.Load(name); !ok {
		return nil, ErrDbNotExist
	}
	owners, _ := s.ownersOfDB.Get(name)
	return owners, nil
}

// ListDBsOfUser returns the names of the databases the user owns.
func (s *Store) ListDBsOfUser(username string) ([]string, error) {
	if !s.users.Has(username) {
		return nil, ErrUserNotExist
	}
	owned, _ := s.dbsOfUser.Get(username)
	return owned, nil
}

// --------------------------------------------------------------------------
// Expiry Sweep
// --------------------------------------------------------------------------

// SweepExpired runs one expiry sweep across all databases and returns the
// total number of keys removed.
func (s *Store) SweepExpired() int {
	total := 0
	s.dbs.Range(func(_ string, db *kv.Database) bool {
		total += db.SweepExpired()
		return true
	})
	return total
}

// --------------------------------------------------------------------------
// Snapshot
// --------------------------------------------------------------------------

// Export serializes the database collection. Credentials and ownership are
// not included, they are already durable.
func (s *Store) Export() persist.StoreSnapshot {
	snap := persist.StoreSnapshot{Databases: make(map[string]kv.Snapshot)}
	s.dbs.Range(func(name string, db *kv.Database) bool {
		snap.Databases[name] = db.Export()
		return true
	})
	return snap
}

// RestoreSnapshot replaces the database collection with the snapshot
// contents. Call only during startup, before the store is shared.
func (s *Store) RestoreSnapshot(snap persist.StoreSnapshot) {
	s.dbs.Clear()
	for name, dbSnap := range snap.Databases {
		db := kv.New(s.clk)
		db.Restore(dbSnap)
		s.dbs.Store(name, db)
	}
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func remove(list []string, s string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
