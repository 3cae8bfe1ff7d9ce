package chat

import (
	"context"
	"crypto/subtle"
	"fmt"
)

// Intent says how a room request treats a missing or existing room.
type Intent int

const (
	// IntentCreateOrJoin creates the room when absent, otherwise joins it.
	IntentCreateOrJoin Intent = iota
	// IntentCreate fails with ErrRoomAlreadyExists when the room exists.
	IntentCreate
	// IntentJoin fails with ErrRoomNotFound when the room is absent.
	IntentJoin
)

// IntentFromFlag maps the optional isNewRoom wire field to an Intent.
func IntentFromFlag(isNewRoom *bool) Intent {
	switch {
	case isNewRoom == nil:
		return IntentCreateOrJoin
	case *isNewRoom:
		return IntentCreate
	default:
		return IntentJoin
	}
}

// SaveFunc persists the current chat state.
type SaveFunc func(ctx context.Context) error

// JoinResult is what a successful room request reports to the session.
type JoinResult struct {
	Room    string
	Created bool
	History []Message
	Joined  []RoomInfo
}

// Engine binds sessions to rooms and keeps the session table, the room
// registry and the user directory consistent with each other.
type Engine struct {
	rooms    *RoomRegistry
	users    *UserDirectory
	sessions *Hub
	save     SaveFunc
}

func NewEngine(rooms *RoomRegistry, users *UserDirectory, sessions *Hub, save SaveFunc) *Engine {
	if save == nil {
		save = func(context.Context) error { return nil }
	}
	return &Engine{rooms: rooms, users: users, sessions: sessions, save: save}
}

// isAutoRejoinEligible reports whether an empty room password may stand in
// for the stored one: only when the user is going back to their last room.
func isAutoRejoinEligible(user *User, roomName, suppliedPassword string) bool {
	return user != nil &&
		suppliedPassword == "" &&
		user.LastRoom != "" &&
		user.LastRoom == roomName
}

func passwordAccepted(user *User, room *Room, supplied string) bool {
	if !room.IsPrivate() {
		return true
	}
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(room.Password)) == 1 {
		return true
	}
	return isAutoRejoinEligible(user, room.Name, supplied)
}

// HandleRoomRequest creates, joins or switches the session's room. On any
// error the session, registry and directory are left as they were.
func (e *Engine) HandleRoomRequest(ctx context.Context, s *Session, roomName, password string, intent Intent) (*JoinResult, error) {
	if !s.Authenticated() {
		return nil, ErrUnauthenticated
	}
	user, ok := e.users.Get(s.Username)
	if !ok {
		return nil, ErrUnauthenticated
	}
	name := cleanRoomName(roomName)
	if name == "" {
		return nil, ErrRoomNameRequired
	}

	room, exists := e.rooms.Get(name)
	if exists && intent == IntentCreate {
		return nil, ErrRoomAlreadyExists
	}
	if !exists && intent == IntentJoin {
		return nil, ErrRoomNotFound
	}
	created := false
	if !exists {
		room = e.rooms.Create(name, password)
		created = true
	}

	// A room created just now carries the supplied password, so only
	// existing rooms can fail the gate.
	if !passwordAccepted(user, room, password) {
		return nil, ErrInvalidRoomPassword
	}

	prevRoom := s.CurrentRoom
	prevLast := user.LastRoom
	hadJoined := user.HasJoined(name)

	if prevRoom != name {
		e.unbind(s)
		e.bind(s, room)
	}
	user.LastRoom = name
	user.remember(name)

	if err := e.save(ctx); err != nil {
		if prevRoom != name {
			e.unbind(s)
			if prev, ok := e.rooms.Get(prevRoom); ok {
				e.bind(s, prev)
			}
		}
		user.LastRoom = prevLast
		if !hadJoined {
			delete(user.JoinedRooms, name)
		}
		if created {
			e.rooms.drop(name)
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	return &JoinResult{
		Room:    name,
		Created: created,
		History: room.History(),
		Joined:  e.JoinedRooms(user),
	}, nil
}

// AutoRejoin places a freshly logged-in session back into the user's last
// room. It returns nil, nil when there is nothing to rejoin.
func (e *Engine) AutoRejoin(ctx context.Context, s *Session) (*JoinResult, error) {
	if !s.Authenticated() {
		return nil, ErrUnauthenticated
	}
	user, ok := e.users.Get(s.Username)
	if !ok || user.LastRoom == "" || !e.rooms.Has(user.LastRoom) {
		return nil, nil
	}
	return e.HandleRoomRequest(ctx, s, user.LastRoom, "", IntentJoin)
}

// Leave releases the session's room and remembers it as the user's last
// room. Used on disconnect and logout. The release and the lastRoom update
// are kept when the save fails.
func (e *Engine) Leave(ctx context.Context, s *Session) error {
	if s.CurrentRoom == "" {
		return nil
	}
	room := s.CurrentRoom
	e.unbind(s)
	user, ok := e.users.Get(s.Username)
	if !ok {
		return nil
	}
	user.LastRoom = room
	user.remember(room)
	if err := e.save(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// JoinedRooms lists the existing rooms user has ever joined.
func (e *Engine) JoinedRooms(user *User) []RoomInfo {
	out := make([]RoomInfo, 0, len(user.JoinedRooms))
	for _, name := range user.Joined() {
		room, ok := e.rooms.Get(name)
		if !ok {
			continue
		}
		out = append(out, RoomInfo{Room: name, IsPrivate: room.IsPrivate()})
	}
	return out
}

func (e *Engine) bind(s *Session, room *Room) {
	room.bind(s.Username)
	e.sessions.join(room.Name, s)
	s.CurrentRoom = room.Name
}

func (e *Engine) unbind(s *Session) {
	if s.CurrentRoom == "" {
		return
	}
	if room, ok := e.rooms.Get(s.CurrentRoom); ok {
		room.release(s.Username)
	}
	e.sessions.leave(s.CurrentRoom, s)
	s.CurrentRoom = ""
}
