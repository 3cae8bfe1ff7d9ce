package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"roomrelay/internal/store"
)

// Credentials checks passwords and session-restore tokens. auth.Service
// implements it.
type Credentials interface {
	Hash(password string) (string, error)
	Verify(credential, password string) bool
	IssueToken(username string) (string, error)
	VerifyToken(token, username string) bool
}

type Options struct {
	Store          store.Store
	Credentials    Credentials
	Location       *time.Location
	Now            func() time.Time
	MaxEventBytes  int64
	AllowedOrigins []string
}

// Service owns the room registry, user directory and session table. Every
// inbound event is handled under one mutex, persistence included, so events
// never interleave.
type Service struct {
	mu       sync.Mutex
	store    store.Store
	creds    Credentials
	rooms    *RoomRegistry
	users    *UserDirectory
	sessions *Hub
	engine   *Engine
	relay    *Relay

	upgrader      websocket.Upgrader
	maxEventBytes int64
	// wg counts websocket pumps. Add only happens under mu while
	// shuttingDown is false.
	wg            sync.WaitGroup
	shuttingDown  bool
}

func NewService(opts Options) *Service {
	if opts.Store == nil {
		opts.Store = store.NewMemory()
	}
	if opts.MaxEventBytes <= 0 {
		opts.MaxEventBytes = 8 << 20
	}
	s := &Service{
		store:         opts.Store,
		creds:         opts.Credentials,
		rooms:         NewRoomRegistry(),
		users:         NewUserDirectory(),
		sessions:      NewHub(),
		maxEventBytes: opts.MaxEventBytes,
	}
	s.engine = NewEngine(s.rooms, s.users, s.sessions, s.save)
	s.relay = NewRelay(s.rooms, s.sessions, s.save, opts.Now, opts.Location)
	s.upgrader = websocket.Upgrader{CheckOrigin: originChecker(opts.AllowedOrigins)}
	return s
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host {
			return true
		}
		for _, a := range allowed {
			a = strings.TrimSpace(a)
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// Connect opens an anonymous session for conn.
func (s *Service) Connect(conn Conn) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open(conn)
}

func (s *Service) open(conn Conn) *Session {
	sess := s.sessions.Open(conn)
	log.Debug().Str("session", sess.ID).Msg("[chat] connected")
	return sess
}

// Handle dispatches one raw inbound event from sess.
func (s *Service) Handle(ctx context.Context, sess *Session, raw []byte) {
	ev, err := decodeClientEvent(raw)
	if err != nil {
		log.Debug().Err(err).Str("session", sess.ID).Msg("drop event")
		return
	}

	s.mu.Lock()
	if sess.closed {
		s.mu.Unlock()
		return
	}
	closeAfter := false
	switch ev.Type {
	case EventRegister:
		s.register(ctx, sess, ev)
	case EventLogin:
		s.login(ctx, sess, ev)
	case EventCreateRoom:
		s.roomRequest(ctx, sess, ev)
	case EventMessage:
		s.relayText(ctx, sess, ev)
	case EventFile:
		s.relayFile(ctx, sess, ev)
	case EventLogout:
		sess.send(LogoutAck{Type: EventLogout, Success: true})
		s.teardown(ctx, sess)
		closeAfter = true
	default:
		log.Debug().Str("type", ev.Type).Str("session", sess.ID).Msg("drop unknown event")
	}
	s.mu.Unlock()

	if closeAfter {
		_ = sess.conn.Close()
	}
}

// Disconnect tears the session down after its connection dropped.
func (s *Service) Disconnect(ctx context.Context, sess *Session) {
	s.mu.Lock()
	s.teardown(ctx, sess)
	s.mu.Unlock()
	_ = sess.conn.Close()
}

// teardown remembers the bound room as lastRoom, releases membership and
// drops the session. Safe to call twice.
func (s *Service) teardown(ctx context.Context, sess *Session) {
	if sess.closed {
		return
	}
	if err := s.engine.Leave(ctx, sess); err != nil {
		log.Error().Err(err).Str("user", sess.Username).Msg("[chat] persist on close failed")
	}
	s.sessions.Remove(sess)
	sess.closed = true
	log.Debug().Str("session", sess.ID).Str("user", sess.Username).Msg("[chat] session closed")
}

func (s *Service) register(ctx context.Context, sess *Session, ev ClientEvent) {
	reply := AuthReply{Type: EventRegister}
	if err := s.registerUser(ctx, ev.Username, ev.Password); err != nil {
		reply.Message = Reason(err)
	} else {
		reply.Success = true
	}
	sess.send(reply)
}

func (s *Service) registerUser(ctx context.Context, username, password string) error {
	name := cleanUsername(username)
	if name == "" || strings.TrimSpace(password) == "" {
		return ErrInvalidRegistration
	}
	if _, ok := s.users.Get(name); ok {
		return ErrUserExists
	}
	cred, err := s.creds.Hash(password)
	if err != nil {
		log.Error().Err(err).Msg("hash credential")
		return err
	}
	if _, err := s.users.Add(name, cred); err != nil {
		return err
	}
	if err := s.save(ctx); err != nil {
		s.users.drop(name)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	log.Info().Str("user", name).Msg("[chat] registered")
	return nil
}

func (s *Service) login(ctx context.Context, sess *Session, ev ClientEvent) {
	fail := func(err error) {
		sess.send(AuthReply{Type: EventLogin, Message: Reason(err)})
	}
	if sess.Authenticated() {
		fail(ErrAlreadyAuthenticated)
		return
	}
	name := cleanUsername(ev.Username)
	user, ok := s.users.Get(name)
	if !ok {
		fail(ErrInvalidCredentials)
		return
	}
	// An empty password is only a session restore and needs a live token.
	if ev.Password != "" {
		ok = s.creds.Verify(user.Credential, ev.Password)
	} else {
		ok = s.creds.VerifyToken(ev.Token, user.Username)
	}
	if !ok {
		fail(ErrInvalidCredentials)
		return
	}
	token, err := s.creds.IssueToken(user.Username)
	if err != nil {
		log.Error().Err(err).Str("user", user.Username).Msg("issue session token")
	}

	sess.Username = user.Username
	sess.send(AuthReply{Type: EventLogin, Success: true, Username: user.Username, Token: token})
	sess.send(AvailableRooms{Type: EventAvailableRooms, Rooms: s.engine.JoinedRooms(user)})
	log.Info().Str("user", user.Username).Str("session", sess.ID).Msg("[chat] logged in")

	res, err := s.engine.AutoRejoin(ctx, sess)
	if err != nil {
		sess.send(JoinFailed{Type: EventJoinFailed, Message: Reason(err)})
		return
	}
	if res != nil {
		s.sendJoin(sess, res)
	}
}

func (s *Service) roomRequest(ctx context.Context, sess *Session, ev ClientEvent) {
	if !sess.Authenticated() {
		return
	}
	res, err := s.engine.HandleRoomRequest(ctx, sess, ev.Room, ev.Password, IntentFromFlag(ev.IsNewRoom))
	if err != nil {
		if errors.Is(err, ErrPersistence) {
			log.Error().Err(err).Str("room", ev.Room).Msg("[chat] room request not saved")
		}
		sess.send(JoinFailed{Type: EventJoinFailed, Message: Reason(err)})
		return
	}
	s.sendJoin(sess, res)
}

func (s *Service) sendJoin(sess *Session, res *JoinResult) {
	sess.send(HistoryEvent{Type: EventHistory, Room: res.Room, Messages: res.History})
	sess.send(AvailableRooms{Type: EventAvailableRooms, Rooms: res.Joined})
	log.Debug().Str("user", sess.Username).Str("room", res.Room).Bool("created", res.Created).Msg("[chat] joined")
}

func (s *Service) relayText(ctx context.Context, sess *Session, ev ClientEvent) {
	content := cleanText(ev.Content)
	if content == "" {
		return
	}
	s.relayBody(ctx, sess, KindText, Body{Content: content})
}

func (s *Service) relayFile(ctx context.Context, sess *Session, ev ClientEvent) {
	mediaType, ok := parseDataURL(ev.Content)
	if !ok {
		log.Debug().Err(ErrMalformedEvent).Str("session", sess.ID).Msg("drop file event")
		return
	}
	s.relayBody(ctx, sess, KindFile, Body{
		Content:   ev.Content,
		Filename:  cleanFilename(ev.Filename),
		MediaType: mediaType,
	})
}

func (s *Service) relayBody(ctx context.Context, sess *Session, kind MessageKind, body Body) {
	_, _, err := s.relay.Relay(ctx, sess, kind, body)
	switch {
	case err == nil:
	case errors.Is(err, ErrPersistence):
		log.Error().Err(err).Str("room", sess.CurrentRoom).Msg("[chat] message not saved")
	default:
		log.Debug().Err(err).Str("session", sess.ID).Msg("drop message")
	}
}

// Shutdown closes every connection and waits for their pumps to exit. New
// websocket connections are refused from then on.
func (s *Service) Shutdown() {
	s.mu.Lock()
	s.shuttingDown = true
	conns := make([]Conn, 0, s.sessions.Len())
	for _, sess := range s.sessions.All() {
		conns = append(conns, sess.conn)
	}
	s.mu.Unlock()
	for _, c := range conns {
		if ga, ok := c.(interface{ CloseGoingAway() error }); ok {
			_ = ga.CloseGoingAway()
			continue
		}
		_ = c.Close()
	}
	s.wg.Wait()
}
