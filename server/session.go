package server

import (
	"github.com/google/uuid"

	"github.com/tenkv/tenkv/lib/kv"
)

// --------------------------------------------------------------------------
// Session
// --------------------------------------------------------------------------

// Session is the per-connection mutable state the handler pipeline operates
// on: who is logged in, which database is selected, the parameters of the
// command being dispatched and the response to send back. It is created on
// connection open, discarded on close and never persisted.
type Session struct {
	// ID correlates log lines of one connection
	ID string

	// Username is empty until a successful login
	Username string

	// DatabaseName / Database are set by select_db. Database is nil while
	// DatabaseName is empty.
	DatabaseName string
	Database     *kv.Database

	// Params are the whitespace-separated arguments of the current command
	Params []string

	// Response is the line written back to the client
	Response string

	// SkipWAL is set when a mutating command turned out to be a no-op;
	// dispatch then skips the command log append. Replaying a no-op as
	// root would not be a no-op.
	SkipWAL bool

	// Exiting is set by the exit command; the connection closes after the
	// current dispatch
	Exiting bool
}

// NewSession creates a fresh, logged-out session.
func NewSession() *Session {
	return &Session{ID: uuid.NewString()}
}
