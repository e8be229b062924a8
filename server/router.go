package server

import (
	"fmt"
	"strings"

	"github.com/tenkv/tenkv/lib/clock"
	"github.com/tenkv/tenkv/lib/persist"
	"github.com/tenkv/tenkv/lib/store"
)

// a command line carries at most this many parameters
const maxParams = 4

// mutatingCommands are appended to the command log after successful
// dispatch. Everything else is either read-only or already durable through
// the write-through persistent maps.
var mutatingCommands = map[string]bool{
	"create_db": true,
	"delete_db": true,
	"put":       true,
	"update":    true,
	"delete":    true,
}

// --------------------------------------------------------------------------
// Router
// --------------------------------------------------------------------------

// Router maps command names to ordered handler pipelines, dispatches parsed
// lines against a session, appends successful mutating commands to the
// write-ahead log and replays that log on startup.
type Router struct {
	store  *store.Store
	wal    *persist.WAL
	clk    *clock.Mock
	routes map[string][]Handler
	logger *Logger
}

// NewRouter wires the fixed command table. Pipelines compose cross-cutting
// preconditions (login required, database selected) in front of the action
// handler, so each precondition is written once.
func NewRouter(st *store.Store, wal *persist.WAL, clk *clock.Mock) *Router {
	r := &Router{
		store:  st,
		wal:    wal,
		clk:    clk,
		logger: GetLogger("router"),
	}

	r.routes = map[string][]Handler{
		"login":              {r.login},
		"whoami":             {r.whoami},
		"register_user":      {r.registerUser},
		"create_db":          {r.whoami, r.createDB},
		"select_db":          {r.whoami, r.selectDB},
		"current_db":         {r.whoami, r.currentDB},
		"add_user_to_owners": {r.whoami, r.requireRoot, r.addUserToOwners},
		"delete_db":          {r.whoami, r.deleteDB},
		"delete_user":        {r.whoami, r.requireRoot, r.deleteUser},
		"list_users":         {r.whoami, r.currentDB, r.listUsers},
		"list_dbs":           {r.whoami, r.listDBs},
		"get":                {r.whoami, r.currentDB, r.get},
		"put":                {r.whoami, r.currentDB, r.put},
		"update":             {r.whoami, r.currentDB, r.update},
		"delete":             {r.whoami, r.currentDB, r.del},
		"exit":               {r.exit},
	}
	return r
}

// --------------------------------------------------------------------------
// Dispatch
// --------------------------------------------------------------------------

// Dispatch parses one input line and runs its handler pipeline against the
// session. The returned string is the response line. Taxonomy errors are
// recovered here (the error message is the response); a non-nil error means
// an internal failure the caller must treat as fatal.
func (r *Router) Dispatch(sess *Session, line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || len(fields)-1 > maxParams {
		return store.ErrInvalidCommand.Error(), nil
	}
	name, params := fields[0], fields[1:]

	pipeline, ok := r.routes[name]
	if !ok {
		return store.ErrInvalidCommand.Error(), nil
	}
	commandCounter(name).Inc()

	sess.Params = params
	sess.Response = ""
	sess.SkipWAL = false

	for _, handler := range pipeline {
		if err := handler(sess); err != nil {
			if store.IsTaxonomy(err) {
				commandErrorCounter(name).Inc()
				r.logger.Warningf("session %s: %s: %v", sess.ID, name, err)
				return err.Error(), nil
			}
			return "", fmt.Errorf("%s failed: %w", name, err)
		}
	}

	if sess.Exiting {
		return "", nil
	}
	if sess.Response == "" {
		// a pipeline that succeeds without a response is a programming defect
		return "", fmt.Errorf("command %s produced no response", name)
	}

	if mutatingCommands[name] && !sess.SkipWAL {
		if err := r.wal.Append(r.clk.Now(), walLine(name, sess, params)); err != nil {
			return "", err
		}
	}
	return sess.Response, nil
}

// walLine renders the loggable form of a mutating command with the database
// name resolved from the session.
func walLine(name string, sess *Session, params []string) string {
	switch name {
	case "create_db", "delete_db":
		return name + " " + params[0]
	default:
		return name + " " + sess.DatabaseName + " " + strings.Join(params, " ")
	}
}

// --------------------------------------------------------------------------
// Replay
// --------------------------------------------------------------------------

// Replay loads the command log and re-executes every record against the
// store as the root user, pinning the clock to each record's logical
// timestamp so TTLs land where they originally would have. Individual
// records that no longer validate (stale references) are logged and
// skipped; replay itself must not abort. Afterwards the clock reverts to
// wall time, one sweep purges anything already due, and the log is deleted.
func (r *Router) Replay() (int, error) {
	entries, err := r.wal.Load()
	if err != nil {
		return 0, err
	}
	defer r.clk.Reset()

	replayed := 0
	for _, entry := range entries {
		r.clk.Set(entry.Timestamp)
		if err := r.replayEntry(entry); err != nil {
			if store.IsTaxonomy(err) {
				r.logger.Warningf("replay: skipping %q: %v", entry.Command, err)
				continue
			}
			return replayed, err
		}
		replayed++
	}
	r.clk.Reset()

	r.store.SweepExpired()
	if err := r.wal.Remove(); err != nil {
		return replayed, err
	}
	return replayed, nil
}

// replayEntry executes one logged command. The handlers run directly, not
// through Dispatch, so replay never re-appends to the log.
func (r *Router) replayEntry(entry persist.WALEntry) error {
	fields := strings.Fields(entry.Command)
	if len(fields) < 2 {
		return store.ErrInvalidCommand
	}
	name := fields[0]

	sess := NewSession()
	sess.Username = r.store.RootUser()

	switch name {
	case "create_db":
		sess.Params = fields[1:2]
		return r.createDB(sess)
	case "delete_db":
		// unconditional: the owner check already passed when the command
		// was logged, and its write-through owners entry may be gone
		return r.store.DropDatabase(fields[1])
	case "put", "update", "delete":
		dbName := fields[1]
		db, err := r.store.GetDatabaseByName(sess.Username, dbName)
		if err != nil {
			return err
		}
		sess.DatabaseName = dbName
		sess.Database = db
		sess.Params = fields[2:]

		switch name {
		case "put":
			return r.put(sess)
		case "update":
			return r.update(sess)
		default:
			return r.del(sess)
		}
	default:
		return store.ErrInvalidCommand
	}
}
