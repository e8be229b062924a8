package server

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/tenkv/tenkv/lib/store"
)

// Handler is one step of a command pipeline. It may read and write the
// session and must either set the response or return a taxonomy error.
type Handler func(*Session) error

// --------------------------------------------------------------------------
// Precondition Handlers
// --------------------------------------------------------------------------

// whoami doubles as the "must be logged in" precondition: standalone it
// echoes the username, as a pipeline prefix its response is overwritten by
// the action handler.
func (r *Router) whoami(s *Session) error {
	if s.Username == "" {
		return store.ErrUserNotLoggedIn
	}
	s.Response = s.Username
	return nil
}

// currentDB doubles as the "database selected" precondition.
func (r *Router) currentDB(s *Session) error {
	if s.DatabaseName == "" {
		return store.ErrNoDbSelected
	}
	s.Response = s.DatabaseName
	return nil
}

func (r *Router) requireRoot(s *Session) error {
	if s.Username != r.store.RootUser() {
		return store.ErrUserUnauthorized
	}
	return nil
}

// --------------------------------------------------------------------------
// User Handlers
// --------------------------------------------------------------------------

func (r *Router) login(s *Session) error {
	if len(s.Params) != 2 {
		return store.ErrInvalidNumberOfParams
	}
	username, password := s.Params[0], s.Params[1]
	if username == "" || password == "" || !r.store.AuthenticateUser(username, password) {
		return store.ErrInvalidCredentials
	}

	s.Username = username
	s.DatabaseName = ""
	s.Database = nil
	s.Response = "login: ok"
	return nil
}

func (r *Router) registerUser(s *Session) error {
	if len(s.Params) != 2 {
		return store.ErrInvalidNumberOfParams
	}
	if err := r.store.CreateUser(s.Params[0], s.Params[1]); err != nil {
		return err
	}
	s.Response = "create_user: ok"
	return nil
}

func (r *Router) deleteUser(s *Session) error {
	if len(s.Params) != 1 {
		return store.ErrInvalidNumberOfParams
	}
	if s.Params[0] == r.store.RootUser() {
		return store.ErrCannotDeleteRootUser
	}
	if err := r.store.DeleteUser(s.Params[0]); err != nil {
		return err
	}
	s.Response = "delete_user: ok"
	return nil
}

// --------------------------------------------------------------------------
// Database Handlers
// --------------------------------------------------------------------------

func (r *Router) createDB(s *Session) error {
	if len(s.Params) != 1 {
		return store.ErrInvalidNumberOfParams
	}
	if err := r.store.CreateDatabase(s.Username, s.Params[0]); err != nil {
		return err
	}
	s.Response = "create_db: ok"
	return nil
}

func (r *Router) selectDB(s *Session) error {
	if len(s.Params) != 1 {
		return store.ErrInvalidNumberOfParams
	}
	db, err := r.store.GetDatabaseByName(s.Username, s.Params[0])
	if err != nil {
		return err
	}

	s.DatabaseName = s.Params[0]
	s.Database = db
	s.Response = "select_db: ok"
	return nil
}

func (r *Router) deleteDB(s *Session) error {
	if len(s.Params) != 1 {
		return store.ErrInvalidNumberOfParams
	}
	deleted, err := r.store.DeleteDatabase(s.Username, s.Params[0])
	if err != nil {
		return err
	}
	// the idempotent no-op still answers ok, but must not be logged
	if !deleted {
		s.SkipWAL = true
	}

	// deselect if the victim was the session's current database
	if s.DatabaseName == s.Params[0] {
		s.DatabaseName = ""
		s.Database = nil
	}
	s.Response = "delete_db: ok"
	return nil
}

func (r *Router) addUserToOwners(s *Session) error {
	if len(s.Params) != 2 {
		return store.ErrInvalidNumberOfParams
	}
	if err := r.store.AddUserToOwners(s.Params[0], s.Params[1]); err != nil {
		return err
	}
	s.Response = "add_user_to_owners: ok"
	return nil
}

func (r *Router) listUsers(s *Session) error {
	if len(s.Params) != 0 {
		return store.ErrInvalidNumberOfParams
	}
	owners, err := r.store.ListUsersOfDB(s.DatabaseName)
	if err != nil {
		return err
	}
	s.Response = formatList(owners)
	return nil
}

func (r *Router) listDBs(s *Session) error {
	if len(s.Params) != 0 {
		return store.ErrInvalidNumberOfParams
	}
	owned, err := r.store.ListDBsOfUser(s.Username)
	if err != nil {
		return err
	}
	s.Response = formatList(owned)
	return nil
}

// --------------------------------------------------------------------------
// Entity Handlers
// --------------------------------------------------------------------------

func (r *Router) get(s *Session) error {
	if len(s.Params) != 1 {
		return store.ErrInvalidNumberOfParams
	}
	value, ok := s.Database.Get(s.Params[0])
	if !ok {
		return store.ErrInvalidKey
	}
	s.Response = value
	return nil
}

func (r *Router) put(s *Session) error {
	if len(s.Params) != 2 && len(s.Params) != 3 {
		return store.ErrInvalidNumberOfParams
	}

	// validate the TTL before any mutation
	ttl, hasTTL, err := parseTTL(s.Params)
	if err != nil {
		return err
	}

	key, value := s.Params[0], s.Params[1]
	s.Database.Put(key, value)
	applyTTL(s, key, ttl, hasTTL)
	s.Response = "put: ok"
	return nil
}

func (r *Router) update(s *Session) error {
	if len(s.Params) != 2 && len(s.Params) != 3 {
		return store.ErrInvalidNumberOfParams
	}

	ttl, hasTTL, err := parseTTL(s.Params)
	if err != nil {
		return err
	}

	key, value := s.Params[0], s.Params[1]
	if !s.Database.Update(key, value) {
		return store.ErrInvalidKey
	}
	applyTTL(s, key, ttl, hasTTL)
	s.Response = "update: ok"
	return nil
}

func (r *Router) del(s *Session) error {
	if len(s.Params) != 1 {
		return store.ErrInvalidNumberOfParams
	}
	s.Database.Delete(s.Params[0])
	s.Response = "delete: ok"
	return nil
}

// --------------------------------------------------------------------------
// Connection Handlers
// --------------------------------------------------------------------------

func (r *Router) exit(s *Session) error {
	s.Exiting = true
	return nil
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// parseTTL extracts the optional third argument of put/update. A supplied
// TTL that is not a well-formed non-negative integer fails with
// ErrInvalidTTLValue.
func parseTTL(params []string) (ttl int64, hasTTL bool, err error) {
	if len(params) < 3 {
		return 0, false, nil
	}
	ttl, parseErr := strconv.ParseInt(params[2], 10, 64)
	if parseErr != nil || ttl < 0 {
		return 0, false, store.ErrInvalidTTLValue
	}
	return ttl, true, nil
}

// applyTTL implements the put/update TTL contract: a supplied TTL overwrites
// the key's expiry, an omitted one clears any prior expiry.
func applyTTL(s *Session, key string, ttl int64, hasTTL bool) {
	if hasTTL {
		s.Database.SetTTL(key, ttl)
	} else {
		s.Database.RemoveTTL(key)
	}
}

// formatList renders a membership set as a single deterministic line.
func formatList(items []string) string {
	sorted := make([]string, len(items))
	copy(sorted, items)
	sort.Strings(sorted)
	return fmt.Sprintf("%v", sorted)
}
