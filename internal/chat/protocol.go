package chat

import (
	"encoding/json"
	"fmt"
)

// Event types, shared by both directions where the name matches.
const (
	EventRegister       = "register"
	EventLogin          = "login"
	EventCreateRoom     = "createRoom"
	EventMessage        = "message"
	EventFile           = "file"
	EventLogout         = "logout"
	EventAvailableRooms = "availableRooms"
	EventHistory        = "history"
	EventJoinFailed     = "joinFailed"
)

// ClientEvent is the envelope received from clients; Type selects which of
// the other fields are meaningful.
type ClientEvent struct {
	Type      string `json:"type"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	Token     string `json:"token,omitempty"`
	Room      string `json:"room,omitempty"`
	IsNewRoom *bool  `json:"isNewRoom,omitempty"`
	Content   string `json:"content,omitempty"`
	Filename  string `json:"filename,omitempty"`
}

func decodeClientEvent(raw []byte) (ClientEvent, error) {
	var ev ClientEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.Type == "" {
		return ev, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	return ev, nil
}

// AuthReply answers register and login.
type AuthReply struct {
	Type     string `json:"type"`
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Username string `json:"username,omitempty"`
	Token    string `json:"token,omitempty"`
}

type AvailableRooms struct {
	Type  string     `json:"type"`
	Rooms []RoomInfo `json:"rooms"`
}

type HistoryEvent struct {
	Type     string    `json:"type"`
	Room     string    `json:"room"`
	Messages []Message `json:"messages"`
}

type JoinFailed struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type LogoutAck struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
}
