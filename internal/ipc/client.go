package ipc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

var (
	ErrQueueFull = errors.New("command queue full")
	ErrClosed    = errors.New("client closed")
)

type ClientConfig struct {
	URL        string
	QueueSize  int
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// OnResponse is called from the connection's read goroutine for every
	// response, in arrival order. It must not block for long.
	OnResponse func(Response)
	// OnState is called on every connection state change.
	OnState func(State)
}

// Client keeps one logical connection to the daemon. Commands are delivered
// in the order Send accepted them; commands still queued when the connection
// drops are discarded.
type Client struct {
	cfg    ClientConfig
	dialer *websocket.Dialer
	queue  chan Command
	state  atomic.Int32

	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
	closed    atomic.Bool
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 10 * time.Second
	}
	return &Client{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		queue:  make(chan Command, cfg.QueueSize),
		done:   make(chan struct{}),
	}
}

// Start runs the connect/reconnect loop until ctx is cancelled or Close is
// called.
func (c *Client) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
}

// Send enqueues cmd. It never blocks.
func (c *Client) Send(cmd Command) error {
	if c.closed.Load() {
		return ErrClosed
	}
	select {
	case c.queue <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *Client) State() State { return State(c.state.Load()) }

// Close stops reconnecting. Commands already queued are written before the
// connection is closed if it is still up.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.cancel != nil {
			c.cancel()
			<-c.done
		}
	})
}

func (c *Client) setState(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	log.Debug().Str("state", s.String()).Str("url", c.cfg.URL).Msg("IPC connection state changed")
	if c.cfg.OnState != nil {
		c.cfg.OnState(s)
	}
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	defer c.setState(Disconnected)

	backoff := c.cfg.MinBackoff
	for ctx.Err() == nil {
		c.setState(Connecting)
		conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			c.setState(Disconnected)
			log.Debug().Err(err).Dur("retry_in", backoff).Msg("IPC dial failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.cfg.MaxBackoff {
				backoff = c.cfg.MaxBackoff
			}
			continue
		}

		backoff = c.cfg.MinBackoff
		c.setState(Connected)
		c.serve(ctx, conn)
		c.setState(Disconnected)

		if dropped := c.drain(); dropped > 0 {
			log.Warn().Int("dropped", dropped).Msg("Discarded queued commands after disconnect")
		}
	}
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Msg("IPC connection lost")
				}
				return
			}
			resp, err := DecodeResponse(data)
			if err != nil {
				log.Warn().Err(err).Msg("Ignoring undecodable response")
				continue
			}
			if c.cfg.OnResponse != nil {
				c.cfg.OnResponse(resp)
			}
		}
	}()

	defer func() {
		conn.Close()
		<-readDone
	}()

	for {
		select {
		case <-readDone:
			return
		case cmd := <-c.queue:
			if err := c.write(conn, cmd); err != nil {
				log.Warn().Err(err).Str("command", string(cmd.CommandKind())).Msg("IPC write failed")
				return
			}
		case <-ctx.Done():
			c.flush(conn)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			select {
			case <-readDone:
			case <-time.After(time.Second):
			}
			return
		}
	}
}

func (c *Client) write(conn *websocket.Conn, cmd Command) error {
	data, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// flush writes whatever is still queued, best effort.
func (c *Client) flush(conn *websocket.Conn) {
	for {
		select {
		case cmd := <-c.queue:
			if err := c.write(conn, cmd); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) drain() int {
	n := 0
	for {
		select {
		case <-c.queue:
			n++
		default:
			return n
		}
	}
}
