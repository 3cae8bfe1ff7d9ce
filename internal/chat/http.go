package chat

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"roomrelay/internal/auth"
	"roomrelay/internal/web"
)

type roomView struct {
	Room          string `json:"room"`
	IsPrivate     bool   `json:"isPrivate"`
	ActiveMembers int    `json:"activeMembers"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges a username and password for a bearer token for the REST
// views. It does not open a chat session.
func (s *Service) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := web.DecodeJSON(r, &req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	name := cleanUsername(req.Username)

	s.mu.Lock()
	user, ok := s.users.Get(name)
	var credential string
	if ok {
		credential = user.Credential
	}
	s.mu.Unlock()

	if !ok || !s.creds.Verify(credential, req.Password) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	token, err := s.creds.IssueToken(name)
	if err != nil {
		log.Error().Err(err).Str("user", name).Msg("issue session token")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	web.JSON(w, http.StatusOK, map[string]any{"username": name, "token": token})
}

// Rooms lists every room with its privacy flag and live member count.
func (s *Service) Rooms(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	items := make([]roomView, 0, s.rooms.Len())
	for _, name := range s.rooms.Names() {
		room, _ := s.rooms.Get(name)
		items = append(items, roomView{Room: name, IsPrivate: room.IsPrivate(), ActiveMembers: len(room.members)})
	}
	s.mu.Unlock()
	web.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Service) Me(w http.ResponseWriter, r *http.Request) {
	username := auth.Username(r)
	s.mu.Lock()
	user, ok := s.users.Get(username)
	var body map[string]any
	if ok {
		body = map[string]any{
			"username":    user.Username,
			"lastRoom":    user.LastRoom,
			"joinedRooms": s.engine.JoinedRooms(user),
		}
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	web.JSON(w, http.StatusOK, body)
}

// RoomHistory returns the newest messages of a room the caller has joined.
func (s *Service) RoomHistory(w http.ResponseWriter, r *http.Request) {
	username := auth.Username(r)
	name := web.ParamString(r, "name")
	limit := web.QueryInt(r, "limit", HistoryLimit)
	if limit <= 0 || limit > HistoryLimit {
		limit = HistoryLimit
	}

	s.mu.Lock()
	room, ok := s.rooms.Get(name)
	user, known := s.users.Get(username)
	allowed := known && user.HasJoined(name)
	var msgs []Message
	if ok && allowed {
		msgs = room.History()
	}
	s.mu.Unlock()

	switch {
	case !ok:
		http.Error(w, "not found", http.StatusNotFound)
		return
	case !allowed:
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	web.JSON(w, http.StatusOK, map[string]any{"room": name, "items": msgs})
}
