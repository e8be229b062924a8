package store

// --------------------------------------------------------------------------
// Error Codes
// --------------------------------------------------------------------------

// Code classifies every error a command can produce. Everything in this
// taxonomy is recoverable: the dispatch loop turns it into a response line
// and keeps the connection alive. Errors outside the taxonomy are treated as
// programming defects and are fatal to the process.
type Code uint8

const (
	CodeInvalidCredentials Code = iota
	CodeUserNotLoggedIn
	CodeNoDbSelected
	CodeInvalidCommand
	CodeInvalidNumberOfParams
	CodeInvalidKey
	CodeInvalidTTLValue
	CodeDbNotExist
	CodeUserNotExist
	CodeDbAlreadyExists
	CodeUsernameAlreadyTaken
	CodeUserUnauthorized
	CodeCannotDeleteRootUser
)

// --------------------------------------------------------------------------
// Error Type
// --------------------------------------------------------------------------

// Error is a taxonomy error. Msg is exactly the wire response line, there is
// no separate error framing in the protocol.
type Error struct {
	Code Code
	Msg  string
}

// Error implements the error interface.
func (e *Error) Error() string { return e.Msg }

// Sentinel instances. The messages are part of the wire protocol and must
// not change: clients distinguish errors from success only by matching
// response text.
//
// Note on masking: ErrDbNotExist deliberately covers both "database does not
// exist" and "exists but the caller is not an owner", so a non-owner cannot
// probe for database names. The same masking is NOT applied consistently
// elsewhere (registration reveals username collisions via
// ErrUsernameAlreadyTaken); that inconsistency is inherited behavior and is
// kept as-is.
var (
	ErrInvalidCredentials    = &Error{CodeInvalidCredentials, "invalid credentials"}
	ErrUserNotLoggedIn       = &Error{CodeUserNotLoggedIn, "you must be logged in"}
	ErrNoDbSelected          = &Error{CodeNoDbSelected, "no database selected"}
	ErrInvalidCommand        = &Error{CodeInvalidCommand, "invalid command"}
	ErrInvalidNumberOfParams = &Error{CodeInvalidNumberOfParams, "invalid number of parameters"}
	ErrInvalidKey            = &Error{CodeInvalidKey, "invalid key"}
	ErrInvalidTTLValue       = &Error{CodeInvalidTTLValue, "invalid ttl: should be integer"}
	ErrDbNotExist            = &Error{CodeDbNotExist, "database does not exist"}
	ErrUserNotExist          = &Error{CodeUserNotExist, "user does not exist"}
	ErrDbAlreadyExists       = &Error{CodeDbAlreadyExists, "database already exist with the same name"}
	ErrUsernameAlreadyTaken  = &Error{CodeUsernameAlreadyTaken, "username already taken"}
	ErrUserUnauthorized      = &Error{CodeUserUnauthorized, "only root user can delete users"}
	ErrCannotDeleteRootUser  = &Error{CodeCannotDeleteRootUser, "cannot delete root user"}
)

// IsTaxonomy reports whether err is one of the recoverable taxonomy errors.
func IsTaxonomy(err error) bool {
	_, ok := err.(*Error)
	return ok
}
