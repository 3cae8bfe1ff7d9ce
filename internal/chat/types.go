package chat

import (
	"sort"
)

// HistoryLimit bounds every room's history; the oldest entry is evicted first.
const HistoryLimit = 100

type MessageKind string

const (
	KindText MessageKind = "message"
	KindFile MessageKind = "file"
)

// Message is one relayed chat or file event. It doubles as the outbound
// wire shape and the persisted history entry.
type Message struct {
	Kind      MessageKind `json:"type"`
	From      string      `json:"from"`
	Room      string      `json:"room"`
	Content   string      `json:"content"`
	Filename  string      `json:"filename,omitempty"`
	MediaType string      `json:"mediaType,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// User is the durable per-user record.
type User struct {
	Username    string
	Credential  string
	LastRoom    string
	JoinedRooms map[string]struct{}
}

func newUser(username, credential string) *User {
	return &User{Username: username, Credential: credential, JoinedRooms: make(map[string]struct{})}
}

func (u *User) HasJoined(room string) bool {
	_, ok := u.JoinedRooms[room]
	return ok
}

func (u *User) remember(room string) {
	u.JoinedRooms[room] = struct{}{}
}

// Joined lists the rooms the user has ever been bound to, sorted by name.
func (u *User) Joined() []string {
	out := make([]string, 0, len(u.JoinedRooms))
	for r := range u.JoinedRooms {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Room is a named channel. Active members are counted per username so that
// two sessions of one user bound to the same room do not evict each other.
type Room struct {
	Name     string
	Password string

	members map[string]int
	history []Message
}

func newRoom(name, password string) *Room {
	return &Room{
		Name:     name,
		Password: password,
		members:  make(map[string]int),
		history:  make([]Message, 0),
	}
}

func (r *Room) IsPrivate() bool { return r.Password != "" }

func (r *Room) HasMember(username string) bool {
	return r.members[username] > 0
}

// Members returns the set of currently bound usernames, sorted.
func (r *Room) Members() []string {
	out := make([]string, 0, len(r.members))
	for u := range r.members {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// History returns a copy of the room history, oldest first. Never nil.
func (r *Room) History() []Message {
	out := make([]Message, len(r.history))
	copy(out, r.history)
	return out
}

func (r *Room) HistoryLen() int { return len(r.history) }

func (r *Room) bind(username string) {
	r.members[username]++
}

func (r *Room) release(username string) {
	n := r.members[username]
	if n <= 1 {
		delete(r.members, username)
		return
	}
	r.members[username] = n - 1
}

// appendMessage adds m and trims to HistoryLimit. It returns the previous
// history slice so a failed save can restore it.
func (r *Room) appendMessage(m Message) (prev []Message) {
	prev = r.history
	h := append(r.history, m)
	if len(h) > HistoryLimit {
		trimmed := make([]Message, HistoryLimit, HistoryLimit+1)
		copy(trimmed, h[len(h)-HistoryLimit:])
		h = trimmed
	}
	r.history = h
	return prev
}

// RoomInfo is the sidebar entry sent in availableRooms.
type RoomInfo struct {
	Room      string `json:"room"`
	IsPrivate bool   `json:"isPrivate"`
}
