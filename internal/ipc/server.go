package ipc

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	maxMessageSize = 1 << 20
	pongWait       = 60 * time.Second
	pingPeriod     = 25 * time.Second
	writeWait      = 5 * time.Second
	revertTimeout  = 5 * time.Second
)

// Dispatcher runs one command and returns its response. The daemon's
// implementation funnels every call through its single command stream.
type Dispatcher interface {
	Submit(ctx context.Context, cmd Command) Response
}

// Server accepts client connections over WebSocket. Each connection is a
// session; its commands are dispatched one at a time and its responses are
// written back in the same order.
type Server struct {
	upgrader websocket.Upgrader
	d        Dispatcher

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	fullBlast bool // guarded by Server.mu
}

func NewServer(d Dispatcher) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		d:        d,
		sessions: map[string]*session{},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("IPC upgrade failed")
		return
	}

	sess := &session{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 16),
		done: make(chan struct{}),
	}
	s.add(sess)
	log.Info().Str("session", sess.id).Str("remote", r.RemoteAddr).Msg("IPC session opened")

	go s.writePump(sess)
	s.readPump(sess)
}

// Sessions is the number of open sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// CloseAll closes every session. Full blast is reverted when the last
// session that enabled it goes away.
func (s *Server) CloseAll() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.sessions))
	for _, sess := range s.sessions {
		conns = append(conns, sess.conn)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "daemon stopping"),
			time.Now().Add(time.Second))
		_ = c.Close()
	}
}

func (s *Server) add(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.id] = sess
}

// remove drops sess and reports whether its full blast request should be
// reverted, which is only when no other open session still holds one.
func (s *Server) remove(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess.id)
	if !sess.fullBlast {
		return false
	}
	for _, other := range s.sessions {
		if other.fullBlast {
			return false
		}
	}
	return true
}

func (s *Server) readPump(sess *session) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		s.closeSession(sess)
	}()

	sess.conn.SetReadLimit(maxMessageSize)
	_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("session", sess.id).Msg("IPC session read failed")
			}
			return
		}
		_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))

		var resp Response
		cmd, err := DecodeCommand(data)
		if err != nil {
			log.Warn().Err(err).Str("session", sess.id).Msg("Rejected undecodable command")
			resp = Failure{Error: err.Error()}
		} else {
			resp = s.d.Submit(ctx, cmd)
			s.track(sess, cmd, resp)
		}

		out, err := EncodeResponse(resp)
		if err != nil {
			log.Error().Err(err).Str("session", sess.id).Msg("Failed to encode response")
			continue
		}
		select {
		case sess.send <- out:
		case <-sess.done:
			return
		}
	}
}

// track remembers whether this session left full blast on.
func (s *Server) track(sess *session, cmd Command, resp Response) {
	fb, ok := cmd.(SetFullBlast)
	if !ok {
		return
	}
	if _, acked := resp.(Ack); acked {
		s.mu.Lock()
		sess.fullBlast = fb.Enabled
		s.mu.Unlock()
	}
}

func (s *Server) closeSession(sess *session) {
	revert := s.remove(sess)
	close(sess.send)
	_ = sess.conn.Close()

	if revert {
		ctx, cancel := context.WithTimeout(context.Background(), revertTimeout)
		defer cancel()
		resp := s.d.Submit(ctx, SetFullBlast{Enabled: false})
		if f, failed := resp.(Failure); failed {
			log.Error().Str("session", sess.id).Str("error", f.Error).Msg("Failed to revert full blast for closed session")
		} else {
			log.Info().Str("session", sess.id).Msg("Reverted full blast for closed session")
		}
	}
	log.Info().Str("session", sess.id).Msg("IPC session closed")
}

func (s *Server) writePump(sess *session) {
	defer close(sess.done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-sess.send:
			if !ok {
				return
			}
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = sess.conn.Close()
				return
			}
		case <-ticker.C:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = sess.conn.Close()
				return
			}
		}
	}
}
