package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"roomrelay/internal/store"
)

// fakeConn records every event queued to it.
type fakeConn struct {
	mu     sync.Mutex
	events []any
	closed bool
}

func (c *fakeConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	c.events = append(c.events, v)
	return nil
}

func (c *fakeConn) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

func eventsOf[T any](c *fakeConn) []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []T
	for _, ev := range c.events {
		if v, ok := ev.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func lastOf[T any](t *testing.T, c *fakeConn) T {
	t.Helper()
	evs := eventsOf[T](c)
	require.NotEmpty(t, evs, "no event of type %T", *new(T))
	return evs[len(evs)-1]
}

// plainCreds stands in for auth.Service without bcrypt or RSA.
type plainCreds struct{}

func (plainCreds) Hash(p string) (string, error) { return "plain:" + p, nil }
func (plainCreds) Verify(cred, p string) bool    { return p != "" && cred == "plain:"+p }
func (plainCreds) IssueToken(u string) (string, error) {
	return "token:" + u, nil
}
func (plainCreds) VerifyToken(tok, u string) bool { return tok != "" && tok == "token:"+u }

// flakyStore fails every Put while fail is set.
type flakyStore struct {
	*store.Memory
	fail bool
}

func (f *flakyStore) Put(ctx context.Context, key string, value []byte) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.Memory.Put(ctx, key, value)
}

var fixedNow = time.Date(2026, 10, 16, 14, 5, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *flakyStore) {
	t.Helper()
	st := &flakyStore{Memory: store.NewMemory()}
	svc := NewService(Options{
		Store:       st,
		Credentials: plainCreds{},
		Location:    time.UTC,
		Now:         func() time.Time { return fixedNow },
	})
	return svc, st
}

func connect(svc *Service) (*Session, *fakeConn) {
	c := &fakeConn{}
	return svc.Connect(c), c
}

func send(t *testing.T, svc *Service, sess *Session, ev map[string]any) {
	t.Helper()
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	svc.Handle(context.Background(), sess, raw)
}

// loginAs registers name (password "pw") if needed and logs a new
// connection in.
func loginAs(t *testing.T, svc *Service, name string) (*Session, *fakeConn) {
	t.Helper()
	sess, c := connect(svc)
	send(t, svc, sess, map[string]any{"type": "register", "username": name, "password": "pw"})
	send(t, svc, sess, map[string]any{"type": "login", "username": name, "password": "pw"})
	require.Equal(t, name, sess.Username)
	c.reset()
	return sess, c
}

// engineFixture wires an Engine over fresh registries.
type engineFixture struct {
	engine   *Engine
	rooms    *RoomRegistry
	users    *UserDirectory
	sessions *Hub
	saves    int
	failSave bool
}

func newEngineFixture() *engineFixture {
	f := &engineFixture{
		rooms:    NewRoomRegistry(),
		users:    NewUserDirectory(),
		sessions: NewHub(),
	}
	f.engine = NewEngine(f.rooms, f.users, f.sessions, func(context.Context) error {
		if f.failSave {
			return errors.New("disk full")
		}
		f.saves++
		return nil
	})
	return f
}

func (f *engineFixture) session(name string) *Session {
	if _, ok := f.users.Get(name); !ok {
		_, _ = f.users.Add(name, "plain:pw")
	}
	s := f.sessions.Open(&fakeConn{})
	s.Username = name
	return s
}
