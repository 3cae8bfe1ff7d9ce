package chat

import (
	"context"
	"fmt"
	"time"
)

// Body is the payload of a relayed event.
type Body struct {
	Content   string
	Filename  string
	MediaType string
}

// Relay appends chat and file events to room history and fans them out to
// the other sessions bound to the same room.
type Relay struct {
	rooms    *RoomRegistry
	sessions *Hub
	save     SaveFunc
	now      func() time.Time
	loc      *time.Location
}

func NewRelay(rooms *RoomRegistry, sessions *Hub, save SaveFunc, now func() time.Time, loc *time.Location) *Relay {
	if save == nil {
		save = func(context.Context) error { return nil }
	}
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	return &Relay{rooms: rooms, sessions: sessions, save: save, now: now, loc: loc}
}

// Relay records the event and broadcasts it. The originating session is not
// sent its own message; clients render outgoing messages locally.
func (r *Relay) Relay(ctx context.Context, s *Session, kind MessageKind, body Body) (*Message, int, error) {
	if !s.Authenticated() {
		return nil, 0, ErrUnauthenticated
	}
	if s.CurrentRoom == "" {
		return nil, 0, ErrNotInRoom
	}
	room, ok := r.rooms.Get(s.CurrentRoom)
	if !ok {
		return nil, 0, ErrRoomNotFound
	}

	msg := Message{
		Kind:      kind,
		From:      s.Username,
		Room:      room.Name,
		Content:   body.Content,
		Timestamp: r.now().In(r.loc).Format("15:04"),
	}
	if kind == KindFile {
		msg.Filename = body.Filename
		msg.MediaType = body.MediaType
	}

	prev := room.appendMessage(msg)
	if err := r.save(ctx); err != nil {
		room.history = prev
		return nil, 0, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	sent := r.sessions.Broadcast(room.Name, s, msg)
	return &msg, sent, nil
}
