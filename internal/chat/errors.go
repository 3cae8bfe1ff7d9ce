package chat

import "errors"

var (
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrRoomAlreadyExists   = errors.New("room already exists")
	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomNameRequired    = errors.New("room name required")
	ErrInvalidRoomPassword = errors.New("invalid room password")
	ErrMalformedEvent      = errors.New("malformed event")
	ErrNotInRoom           = errors.New("session is not bound to a room")

	ErrUserExists           = errors.New("user already exists")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrAlreadyAuthenticated = errors.New("already authenticated")
	ErrInvalidRegistration  = errors.New("username and password are required")

	// ErrPersistence wraps store failures. Room requests, relays and
	// registrations undo their mutation; Engine.Leave does not.
	ErrPersistence = errors.New("could not save chat state")
)

var reasons = []struct {
	err    error
	reason string
}{
	{ErrUnauthenticated, "please log in first"},
	{ErrRoomAlreadyExists, "a room with this name already exists, join it instead"},
	{ErrRoomNotFound, "this room does not exist"},
	{ErrRoomNameRequired, "room name is required"},
	{ErrInvalidRoomPassword, "wrong room password"},
	{ErrMalformedEvent, "malformed request"},
	{ErrNotInRoom, "join a room first"},
	{ErrUserExists, "this username is already taken"},
	{ErrInvalidCredentials, "wrong username or password"},
	{ErrAlreadyAuthenticated, "this connection is already logged in"},
	{ErrInvalidRegistration, "username and password are required"},
	{ErrPersistence, "the server could not save this change, try again"},
}

// Reason maps err to the user-facing string sent back on the connection.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "request failed"
}
