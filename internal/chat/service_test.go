package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newTestService(t)
	sess, conn := connect(svc)

	send(t, svc, sess, map[string]any{"type": "register", "username": "bob", "password": "pw"})
	assert.Equal(t, AuthReply{Type: EventRegister, Success: true}, lastOf[AuthReply](t, conn))
	assert.False(t, sess.Authenticated(), "register does not log in")

	send(t, svc, sess, map[string]any{"type": "login", "username": "bob", "password": "pw"})
	assert.Equal(t, AuthReply{Type: EventLogin, Success: true, Username: "bob", Token: "token:bob"}, lastOf[AuthReply](t, conn))
	assert.Equal(t, "bob", sess.Username)
	assert.Empty(t, lastOf[AvailableRooms](t, conn).Rooms)
	assert.Empty(t, eventsOf[HistoryEvent](conn), "no last room to rejoin")
}

func TestRegisterRejections(t *testing.T) {
	svc, _ := newTestService(t)
	_, _ = loginAs(t, svc, "bob")

	tests := []struct {
		name     string
		username string
		password string
		want     string
	}{
		{name: "duplicate", username: "bob", password: "x", want: Reason(ErrUserExists)},
		{name: "empty password", username: "ann", password: "  ", want: Reason(ErrInvalidRegistration)},
		{name: "empty username", username: "", password: "x", want: Reason(ErrInvalidRegistration)},
		{name: "markup only username", username: "<b></b>", password: "x", want: Reason(ErrInvalidRegistration)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, conn := connect(svc)
			send(t, svc, sess, map[string]any{"type": "register", "username": tt.username, "password": tt.password})
			reply := lastOf[AuthReply](t, conn)
			assert.False(t, reply.Success)
			assert.Equal(t, tt.want, reply.Message)
		})
	}
	assert.Equal(t, 1, svc.users.Len())
}

func TestLoginRejections(t *testing.T) {
	svc, _ := newTestService(t)
	_, _ = loginAs(t, svc, "bob")

	tests := []struct {
		name  string
		event map[string]any
	}{
		{name: "unknown user", event: map[string]any{"type": "login", "username": "nobody", "password": "pw"}},
		{name: "wrong password", event: map[string]any{"type": "login", "username": "bob", "password": "nope"}},
		{name: "empty password without token", event: map[string]any{"type": "login", "username": "bob"}},
		{name: "token for another user", event: map[string]any{"type": "login", "username": "bob", "token": "token:ann"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, conn := connect(svc)
			send(t, svc, sess, tt.event)
			reply := lastOf[AuthReply](t, conn)
			assert.False(t, reply.Success)
			assert.Equal(t, Reason(ErrInvalidCredentials), reply.Message)
			assert.False(t, sess.Authenticated())
		})
	}
}

func TestLoginWithTokenRestoresSession(t *testing.T) {
	svc, _ := newTestService(t)
	_, _ = loginAs(t, svc, "bob")

	sess, conn := connect(svc)
	send(t, svc, sess, map[string]any{"type": "login", "username": "bob", "token": "token:bob"})
	assert.True(t, lastOf[AuthReply](t, conn).Success)
	assert.Equal(t, "bob", sess.Username)
}

func TestLoginTwiceOnOneConnection(t *testing.T) {
	svc, _ := newTestService(t)
	sess, conn := loginAs(t, svc, "bob")

	send(t, svc, sess, map[string]any{"type": "login", "username": "bob", "password": "pw"})
	reply := lastOf[AuthReply](t, conn)
	assert.False(t, reply.Success)
	assert.Equal(t, Reason(ErrAlreadyAuthenticated), reply.Message)
}

func TestUnauthenticatedEventsAreIgnored(t *testing.T) {
	svc, _ := newTestService(t)
	sess, conn := connect(svc)

	send(t, svc, sess, map[string]any{"type": "createRoom", "room": "team", "isNewRoom": true})
	send(t, svc, sess, map[string]any{"type": "message", "content": "hi"})
	svc.Handle(context.Background(), sess, []byte("{not json"))
	svc.Handle(context.Background(), sess, []byte(`{"content":"no type"}`))
	send(t, svc, sess, map[string]any{"type": "dance"})

	assert.Empty(t, conn.events)
	assert.Equal(t, 0, svc.rooms.Len())
}

func TestCreateJoinAndChat(t *testing.T) {
	svc, _ := newTestService(t)
	bob, bobConn := loginAs(t, svc, "bob")
	ann, annConn := loginAs(t, svc, "ann")

	send(t, svc, bob, map[string]any{"type": "createRoom", "room": "team", "password": "pw1", "isNewRoom": true})
	assert.Equal(t, HistoryEvent{Type: EventHistory, Room: "team", Messages: []Message{}}, lastOf[HistoryEvent](t, bobConn))
	assert.Equal(t, []RoomInfo{{Room: "team", IsPrivate: true}}, lastOf[AvailableRooms](t, bobConn).Rooms)

	send(t, svc, ann, map[string]any{"type": "createRoom", "room": "team", "password": "nope", "isNewRoom": false})
	assert.Equal(t, JoinFailed{Type: EventJoinFailed, Message: Reason(ErrInvalidRoomPassword)}, lastOf[JoinFailed](t, annConn))
	assert.Empty(t, ann.CurrentRoom)

	send(t, svc, ann, map[string]any{"type": "createRoom", "room": "team", "password": "pw1", "isNewRoom": true})
	assert.Equal(t, Reason(ErrRoomAlreadyExists), lastOf[JoinFailed](t, annConn).Message)

	send(t, svc, ann, map[string]any{"type": "createRoom", "room": "team", "password": "pw1", "isNewRoom": false})
	assert.Equal(t, "team", ann.CurrentRoom)

	send(t, svc, bob, map[string]any{"type": "message", "content": "  <b>hello</b> ann  "})
	want := Message{Kind: KindText, From: "bob", Room: "team", Content: "hello ann", Timestamp: "14:05"}
	assert.Equal(t, []Message{want}, eventsOf[Message](annConn))
	assert.Empty(t, eventsOf[Message](bobConn))

	send(t, svc, bob, map[string]any{"type": "message", "content": "<i></i>"})
	assert.Len(t, eventsOf[Message](annConn), 1, "empty content after cleaning is dropped")

	room, _ := svc.rooms.Get("team")
	assert.Equal(t, []Message{want}, room.History())
}

func TestCreateRoomWithoutFlagCreatesOrJoins(t *testing.T) {
	svc, _ := newTestService(t)
	bob, _ := loginAs(t, svc, "bob")
	ann, _ := loginAs(t, svc, "ann")

	send(t, svc, bob, map[string]any{"type": "createRoom", "room": "open"})
	send(t, svc, ann, map[string]any{"type": "createRoom", "room": "open"})

	assert.Equal(t, "open", bob.CurrentRoom)
	assert.Equal(t, "open", ann.CurrentRoom)
	room, _ := svc.rooms.Get("open")
	assert.Equal(t, []string{"ann", "bob"}, room.Members())
}

func TestJoinMissingRoomFails(t *testing.T) {
	svc, _ := newTestService(t)
	bob, conn := loginAs(t, svc, "bob")

	send(t, svc, bob, map[string]any{"type": "createRoom", "room": "ghost", "isNewRoom": false})
	assert.Equal(t, Reason(ErrRoomNotFound), lastOf[JoinFailed](t, conn).Message)
	assert.False(t, svc.rooms.Has("ghost"))
}

func TestFileRelay(t *testing.T) {
	svc, _ := newTestService(t)
	bob, _ := loginAs(t, svc, "bob")
	ann, annConn := loginAs(t, svc, "ann")
	send(t, svc, bob, map[string]any{"type": "createRoom", "room": "team"})
	send(t, svc, ann, map[string]any{"type": "createRoom", "room": "team"})

	send(t, svc, bob, map[string]any{"type": "file", "content": "data:image/png;base64,iVBORw0KGgo=", "filename": "../../etc/cat.png"})
	got := lastOf[Message](t, annConn)
	assert.Equal(t, KindFile, got.Kind)
	assert.Equal(t, "cat.png", got.Filename)
	assert.Equal(t, "image/png", got.MediaType)

	send(t, svc, bob, map[string]any{"type": "file", "content": "javascript:alert(1)", "filename": "x.js"})
	assert.Len(t, eventsOf[Message](annConn), 1, "non data URLs are dropped")
}

func TestDisconnectRemembersRoomAndAutoRejoins(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	bob, bobConn := loginAs(t, svc, "bob")
	ann, _ := loginAs(t, svc, "ann")
	send(t, svc, bob, map[string]any{"type": "createRoom", "room": "vault", "password": "s3cret", "isNewRoom": true})
	send(t, svc, ann, map[string]any{"type": "createRoom", "room": "vault", "password": "s3cret"})
	send(t, svc, ann, map[string]any{"type": "message", "content": "while you were out"})

	svc.Disconnect(ctx, bob)

	assert.False(t, bobConn.Ready())
	room, _ := svc.rooms.Get("vault")
	assert.Equal(t, []string{"ann"}, room.Members())
	_, ok := svc.sessions.Get(bob.ID)
	assert.False(t, ok)
	user, _ := svc.users.Get("bob")
	assert.Equal(t, "vault", user.LastRoom)

	// A second disconnect of the same session is a no-op.
	svc.Disconnect(ctx, bob)

	next, conn := connect(svc)
	send(t, svc, next, map[string]any{"type": "login", "username": "bob", "token": "token:bob"})
	require.True(t, lastOf[AuthReply](t, conn).Success)

	hist := lastOf[HistoryEvent](t, conn)
	assert.Equal(t, "vault", hist.Room)
	require.Len(t, hist.Messages, 1)
	assert.Equal(t, "while you were out", hist.Messages[0].Content)
	assert.Equal(t, "vault", next.CurrentRoom)
	assert.Equal(t, []string{"ann", "bob"}, room.Members())
}

func TestLogout(t *testing.T) {
	svc, _ := newTestService(t)
	bob, conn := loginAs(t, svc, "bob")
	send(t, svc, bob, map[string]any{"type": "createRoom", "room": "team"})

	send(t, svc, bob, map[string]any{"type": "logout"})

	assert.Equal(t, LogoutAck{Type: EventLogout, Success: true}, lastOf[LogoutAck](t, conn))
	assert.False(t, conn.Ready())
	assert.Equal(t, 0, svc.sessions.Len())
	room, _ := svc.rooms.Get("team")
	assert.Empty(t, room.Members())
	user, _ := svc.users.Get("bob")
	assert.Equal(t, "team", user.LastRoom)

	n := len(conn.events)
	send(t, svc, bob, map[string]any{"type": "message", "content": "ghost"})
	assert.Len(t, conn.events, n)
	assert.Zero(t, room.HistoryLen())
}

func TestRegisterSaveFailure(t *testing.T) {
	svc, st := newTestService(t)
	sess, conn := connect(svc)

	st.fail = true
	send(t, svc, sess, map[string]any{"type": "register", "username": "bob", "password": "pw"})

	reply := lastOf[AuthReply](t, conn)
	assert.False(t, reply.Success)
	assert.Equal(t, Reason(ErrPersistence), reply.Message)
	_, ok := svc.users.Get("bob")
	assert.False(t, ok)
}

func TestStateSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)
	bob, _ := loginAs(t, svc, "bob")
	send(t, svc, bob, map[string]any{"type": "createRoom", "room": "vault", "password": "s3cret", "isNewRoom": true})
	send(t, svc, bob, map[string]any{"type": "message", "content": "remember me"})

	restarted := NewService(Options{
		Store:       st,
		Credentials: plainCreds{},
		Location:    time.UTC,
		Now:         func() time.Time { return fixedNow },
	})
	require.NoError(t, restarted.Load(ctx))

	room, ok := restarted.rooms.Get("vault")
	require.True(t, ok)
	assert.Equal(t, "s3cret", room.Password)
	assert.Empty(t, room.Members(), "active members are not persisted")
	require.Equal(t, 1, room.HistoryLen())
	assert.Equal(t, "remember me", room.History()[0].Content)

	user, ok := restarted.users.Get("bob")
	require.True(t, ok)
	assert.Equal(t, "vault", user.LastRoom)
	assert.Equal(t, []string{"vault"}, user.Joined())

	sess, conn := connect(restarted)
	send(t, restarted, sess, map[string]any{"type": "login", "username": "bob", "password": "pw"})
	assert.Equal(t, "vault", lastOf[HistoryEvent](t, conn).Room)
}

func TestLoadNormalisesStoredState(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)

	history := make([]Message, 0, HistoryLimit+20)
	for i := 0; i < HistoryLimit+20; i++ {
		history = append(history, Message{Kind: KindText, From: "bob", Room: "big", Content: fmt.Sprintf("m%d", i)})
	}
	raw, err := json.Marshal(snapshot{
		Users: map[string]userRecord{
			"bob": {Credential: "plain:pw", LastRoom: "big"},
		},
		Rooms: map[string]roomRecord{
			"big": {History: history},
		},
	})
	require.NoError(t, err)
	require.NoError(t, st.Put(ctx, stateKey, raw))

	require.NoError(t, svc.Load(ctx))

	room, _ := svc.rooms.Get("big")
	h := room.History()
	require.Len(t, h, HistoryLimit)
	assert.Equal(t, "m20", h[0].Content)
	user, _ := svc.users.Get("bob")
	assert.True(t, user.HasJoined("big"))
}

func TestLoadWithoutStoredState(t *testing.T) {
	svc, _ := newTestService(t)
	require.NoError(t, svc.Load(context.Background()))
	assert.Zero(t, svc.rooms.Len())
	assert.Zero(t, svc.users.Len())
}

func TestSeedDemo(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)

	require.NoError(t, svc.SeedDemo(ctx))
	require.NoError(t, svc.SeedDemo(ctx))

	assert.Equal(t, []string{"ann", "bob"}, svc.users.Names())
	assert.True(t, svc.rooms.Has("lobby"))
	assert.Equal(t, 1, st.Puts())
}

func TestReason(t *testing.T) {
	assert.Equal(t, Reason(ErrRoomNotFound), Reason(fmt.Errorf("wrapped: %w", ErrRoomNotFound)))
	assert.Equal(t, "request failed", Reason(fmt.Errorf("boom")))
}

func TestSpecialCharactersSurviveRelay(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "ampersand", text: "R&D"},
		{name: "apostrophe", text: "don't"},
		{name: "double quote", text: `say "hi"`},
		{name: "less than", text: "1 < 2"},
		{name: "heart", text: "<3"},
		{name: "mixed", text: `don't do 1 < 2 & "x"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			username := "u " + tt.text
			room := "room " + tt.text
			filename := "f " + tt.text + ".txt"

			sender, senderConn := loginAs(t, svc, username)
			peer, peerConn := loginAs(t, svc, "ann")
			send(t, svc, sender, map[string]any{"type": "createRoom", "room": room, "isNewRoom": true})
			send(t, svc, peer, map[string]any{"type": "createRoom", "room": room, "isNewRoom": false})
			require.Equal(t, room, sender.CurrentRoom)
			require.Equal(t, room, peer.CurrentRoom)
			assert.Equal(t, []RoomInfo{{Room: room}}, lastOf[AvailableRooms](t, senderConn).Rooms)

			// The sender renders its own input locally; peers must see the same text.
			send(t, svc, sender, map[string]any{"type": "message", "content": tt.text})
			send(t, svc, sender, map[string]any{"type": "file", "content": "data:text/plain;base64,aGk=", "filename": filename})

			got := eventsOf[Message](peerConn)
			require.Len(t, got, 2)
			assert.Equal(t, tt.text, got[0].Content)
			assert.Equal(t, username, got[0].From)
			assert.Equal(t, room, got[0].Room)
			assert.Equal(t, filename, got[1].Filename)

			stored, ok := svc.rooms.Get(room)
			require.True(t, ok)
			assert.Equal(t, got, stored.History())
			_, ok = svc.users.Get(username)
			assert.True(t, ok)
		})
	}
}
