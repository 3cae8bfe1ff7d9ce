package chat

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	sendBufferSize = 64
)

var errConnClosed = errors.New("connection closed")

// wsConn adapts a gorilla websocket to Conn. Events are queued on send and
// written by writeLoop; a full queue drops its oldest event.
type wsConn struct {
	conn *websocket.Conn
	send chan any

	mu        sync.Mutex
	closed    bool
	closeCode int
	closeText string
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{
		conn:      conn,
		send:      make(chan any, sendBufferSize),
		closeCode: websocket.CloseNormalClosure,
	}
}

func (c *wsConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- v:
	default:
		select {
		case <-c.send:
		default:
		}
		c.send <- v
	}
	return nil
}

func (c *wsConn) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Close stops accepting events; writeLoop flushes what is queued, then sends
// a close frame.
func (c *wsConn) Close() error {
	return c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *wsConn) CloseGoingAway() error {
	return c.closeWith(websocket.CloseGoingAway, "server shutdown")
}

func (c *wsConn) closeWith(code int, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.closeCode = code
	c.closeText = text
	close(c.send)
	return nil
}

func (c *wsConn) readLoop(limit int64, handle func([]byte)) {
	c.conn.SetReadLimit(limit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("read message")
			}
			return
		}
		handle(payload)
	}
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.mu.Lock()
				code, text := c.closeCode, c.closeText
				c.mu.Unlock()
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("write json")
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

// ServeWS upgrades the request and runs the connection until it closes.
func (s *Service) ServeWS(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	closing := s.shuttingDown
	s.mu.Unlock()
	if closing {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade")
		return
	}
	c := newWSConn(conn)

	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	sess := s.open(c)
	s.wg.Add(2)
	s.mu.Unlock()

	ctx := context.WithoutCancel(r.Context())
	go func() {
		defer s.wg.Done()
		c.writeLoop()
	}()
	go func() {
		defer s.wg.Done()
		defer s.Disconnect(ctx, sess)
		c.readLoop(s.maxEventBytes, func(payload []byte) {
			s.Handle(ctx, sess, payload)
		})
	}()
}
