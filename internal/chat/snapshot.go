package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"roomrelay/internal/store"
)

// stateKey is the single durable record holding users and rooms.
const stateKey = "chat-state"

// snapshot is the persisted layout. Active members are never stored.
type snapshot struct {
	Users map[string]userRecord `json:"users"`
	Rooms map[string]roomRecord `json:"rooms"`
}

type userRecord struct {
	Credential  string   `json:"credential"`
	LastRoom    string   `json:"lastRoom,omitempty"`
	JoinedRooms []string `json:"joinedRooms"`
}

type roomRecord struct {
	Password string    `json:"password"`
	History  []Message `json:"history"`
}

func (s *Service) snapshot() snapshot {
	snap := snapshot{
		Users: make(map[string]userRecord, s.users.Len()),
		Rooms: make(map[string]roomRecord, s.rooms.Len()),
	}
	for _, name := range s.users.Names() {
		u, _ := s.users.Get(name)
		snap.Users[name] = userRecord{
			Credential:  u.Credential,
			LastRoom:    u.LastRoom,
			JoinedRooms: u.Joined(),
		}
	}
	for _, name := range s.rooms.Names() {
		r, _ := s.rooms.Get(name)
		snap.Rooms[name] = roomRecord{Password: r.Password, History: r.history}
	}
	return snap
}

// save writes the whole state synchronously. Failures are logged and
// returned, never retried.
func (s *Service) save(ctx context.Context) error {
	data, err := json.Marshal(s.snapshot())
	if err != nil {
		log.Error().Err(err).Msg("[chat] marshal state")
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.store.Put(ctx, stateKey, data); err != nil {
		log.Error().Err(err).Msg("[chat] save state")
		return err
	}
	return nil
}

// Load replaces the in-memory registries with the stored state. Rooms come
// back with no active members and at most HistoryLimit messages.
func (s *Service) Load(ctx context.Context) error {
	data, err := s.store.Get(ctx, stateKey)
	if errors.Is(err, store.ErrNotFound) {
		log.Info().Msg("[chat] no stored state, starting fresh")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = NewRoomRegistry()
	s.users = NewUserDirectory()
	for name, rec := range snap.Rooms {
		room := s.rooms.Create(name, rec.Password)
		h := rec.History
		if len(h) > HistoryLimit {
			h = h[len(h)-HistoryLimit:]
		}
		room.history = append(room.history, h...)
	}
	for name, rec := range snap.Users {
		u, _ := s.users.Add(name, rec.Credential)
		u.LastRoom = rec.LastRoom
		for _, r := range rec.JoinedRooms {
			u.remember(r)
		}
		if u.LastRoom != "" {
			u.remember(u.LastRoom)
		}
	}
	s.engine = NewEngine(s.rooms, s.users, s.sessions, s.save)
	s.relay = NewRelay(s.rooms, s.sessions, s.save, s.relay.now, s.relay.loc)
	log.Info().Int("users", s.users.Len()).Int("rooms", s.rooms.Len()).Msg("[chat] state loaded")
	return nil
}
