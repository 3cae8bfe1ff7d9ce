package chat

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Conn is the outbound half of one client connection.
type Conn interface {
	// Send queues v for delivery without blocking.
	Send(v any) error
	// Ready reports whether the connection still accepts events.
	Ready() bool
	Close() error
}

// Session is the server-side state of one live connection.
type Session struct {
	ID          string
	Username    string
	CurrentRoom string

	conn   Conn
	closed bool
}

func (s *Session) Authenticated() bool { return s.Username != "" }

func (s *Session) send(v any) {
	if s.closed || !s.conn.Ready() {
		return
	}
	if err := s.conn.Send(v); err != nil {
		log.Debug().Err(err).Str("session", s.ID).Msg("send event")
	}
}

// Hub is the session table: every live session, indexed by id and by the
// room it is currently bound to. Owned by Service; not safe for concurrent use.
type Hub struct {
	sessions map[string]*Session
	rooms    map[string]map[*Session]struct{}
}

func NewHub() *Hub {
	return &Hub{
		sessions: make(map[string]*Session),
		rooms:    make(map[string]map[*Session]struct{}),
	}
}

// Open registers a new anonymous session for conn.
func (h *Hub) Open(conn Conn) *Session {
	s := &Session{ID: uuid.NewString(), conn: conn}
	h.sessions[s.ID] = s
	return s
}

// Remove drops s from the table and from any room index.
func (h *Hub) Remove(s *Session) {
	if s.CurrentRoom != "" {
		h.leave(s.CurrentRoom, s)
	}
	delete(h.sessions, s.ID)
}

func (h *Hub) join(room string, s *Session) {
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[*Session]struct{})
	}
	h.rooms[room][s] = struct{}{}
}

func (h *Hub) leave(room string, s *Session) {
	if m, ok := h.rooms[room]; ok {
		delete(m, s)
		if len(m) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Broadcast fans payload out to every session bound to room except the
// origin. Sessions whose connection is not ready are skipped.
func (h *Hub) Broadcast(room string, origin *Session, payload any) int {
	sent := 0
	for s := range h.rooms[room] {
		if s == origin {
			continue
		}
		if s.closed || !s.conn.Ready() {
			continue
		}
		s.send(payload)
		sent++
	}
	return sent
}

// InRoom returns the sessions currently bound to room.
func (h *Hub) InRoom(room string) []*Session {
	out := make([]*Session, 0, len(h.rooms[room]))
	for s := range h.rooms[room] {
		out = append(out, s)
	}
	return out
}

func (h *Hub) Get(id string) (*Session, bool) {
	s, ok := h.sessions[id]
	return s, ok
}

func (h *Hub) All() []*Session {
	out := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

func (h *Hub) Len() int { return len(h.sessions) }
