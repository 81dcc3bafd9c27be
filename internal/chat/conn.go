package chat

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// State is the connection lifecycle:
// disconnected -> connecting -> open -> closed, then back to connecting when
// the close reason allows a reconnect.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const reconnectDelay = 5 * time.Second

// ReconnectDelay is the reconnection policy as a pure function of the close
// code: never after a normal close (1000) or an authentication failure
// (1008, the user must re-authenticate), a flat 5 second delay otherwise.
func ReconnectDelay(closeCode int) (time.Duration, bool) {
	switch closeCode {
	case websocket.CloseNormalClosure, websocket.ClosePolicyViolation:
		return 0, false
	default:
		return reconnectDelay, true
	}
}

// ConnConfig configures a relay connection.
type ConnConfig struct {
	// URL is the ws:// or wss:// chat endpoint.
	URL string

	// Token is appended as the token query parameter, authenticating the
	// connection at upgrade time.
	Token string

	// OnFrame receives every inbound frame; wire it to Session.HandleFrame.
	OnFrame func([]byte)

	// OnState, when set, fires on every lifecycle transition.
	OnState func(State)

	Dialer *websocket.Dialer
	Log    *slog.Logger
}

// Conn maintains one relay connection with automatic reconnection.
type Conn struct {
	cfg ConnConfig

	mu    sync.Mutex
	ws    *websocket.Conn
	state State
}

func NewConn(cfg ConnConfig) *Conn {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Conn{cfg: cfg, state: StateDisconnected}
}

// Run dials the relay and keeps reading until the context is cancelled or
// the close reason rules out reconnection. It blocks; run it in a goroutine.
func (c *Conn) Run(ctx context.Context) error {
	for {
		c.setState(StateConnecting)

		wsConn, err := c.dial(ctx)
		if err != nil {
			c.setState(StateClosed)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.cfg.Log.Warn("chat dial failed", "error", err)
			if !c.wait(ctx, reconnectDelay) {
				return ctx.Err()
			}
			continue
		}

		c.mu.Lock()
		c.ws = wsConn
		c.mu.Unlock()
		c.setState(StateOpen)

		// ReadMessage has no context hook, so a watcher closes the socket
		// on cancellation to unblock the read loop.
		readDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				wsConn.Close()
			case <-readDone:
			}
		}()

		closeCode := c.readLoop(wsConn)
		close(readDone)
		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		c.setState(StateClosed)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		delay, retry := ReconnectDelay(closeCode)
		if !retry {
			c.cfg.Log.Info("chat connection stopped", "code", closeCode)
			return nil
		}
		c.cfg.Log.Info("chat reconnecting", "code", closeCode, "delay", delay)
		if !c.wait(ctx, delay) {
			return ctx.Err()
		}
	}
}

// Send writes one frame. It fails fast when the connection is not open; the
// session turns that into a failed optimistic entry.
func (c *Conn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen || c.ws == nil {
		return ErrNotConnected
	}
	return errors.Wrap(c.ws.WriteMessage(websocket.TextMessage, frame), "write frame")
}

func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateOpen
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close performs a clean shutdown; the normal close code suppresses any
// reconnect.
func (c *Conn) Close() error {
	c.mu.Lock()
	wsConn := c.ws
	c.mu.Unlock()
	if wsConn == nil {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	_ = wsConn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"), deadline)
	return wsConn.Close()
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "parse chat url")
	}
	if c.cfg.Token != "" {
		q := u.Query()
		q.Set("token", c.cfg.Token)
		u.RawQuery = q.Encode()
	}
	wsConn, _, err := c.cfg.Dialer.DialContext(ctx, u.String(), nil)
	return wsConn, errors.Wrap(err, "dial chat")
}

// readLoop pumps frames until the connection drops and returns the observed
// close code (CloseAbnormalClosure when none was received).
func (c *Conn) readLoop(wsConn *websocket.Conn) int {
	for {
		_, frame, err := wsConn.ReadMessage()
		if err != nil {
			wsConn.Close()
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return closeErr.Code
			}
			return websocket.CloseAbnormalClosure
		}
		if c.cfg.OnFrame != nil {
			c.cfg.OnFrame(frame)
		}
	}
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.cfg.OnState != nil {
		c.cfg.OnState(s)
	}
}

func (c *Conn) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
