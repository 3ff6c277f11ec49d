// Package transport owns the single persistent live connection of a session.
// Events are JSON envelopes {"event": name, "data": payload} over a
// websocket; reconnection uses bounded exponential backoff.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/paperchat/internal/status"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 64 << 10
)

// Handler receives the raw data of one inbound event.
type Handler = func(data json.RawMessage)

// Envelope is the frame exchanged with the server.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AuthError is returned when the server rejects the token. It is never retried.
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("live connection rejected: HTTP %d", e.Status)
}

// Config holds connection and retry settings.
type Config struct {
	URL             string
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     int
	SendBuffer      int
}

func (c *Config) defaults() {
	if c.InitialInterval <= 0 {
		c.InitialInterval = time.Second
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
}

// Manager keeps at most one connection open and routes inbound events to a
// single handler per event name.
type Manager struct {
	cfg     Config
	dialer  *websocket.Dialer
	machine *status.Machine
	logger  *zap.Logger

	mu       sync.Mutex
	handlers map[string]Handler
	out      chan []byte
	gen      uint64
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a manager. State changes are recorded on machine.
func New(cfg Config, machine *status.Machine, logger *zap.Logger) *Manager {
	cfg.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:      cfg,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		machine:  machine,
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

// Connect opens the connection authenticated with token, replacing any
// existing one. It returns immediately; progress is visible through State.
func (m *Manager) Connect(token string) {
	m.stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	if err := m.machine.Transition(status.Connecting); err != nil {
		m.logger.Warn("unexpected connection state", zap.Error(err))
	}
	go m.run(ctx, gen, token, m.done)
}

// Disconnect closes the connection and stops reconnecting.
func (m *Manager) Disconnect() {
	m.stop()
}

func (m *Manager) stop() {
	m.mu.Lock()
	m.gen++
	cancel, done := m.cancel, m.done
	m.cancel, m.done, m.out = nil, nil, nil
	m.machine.Reset()
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// State returns the current connection state.
func (m *Manager) State() status.State {
	return m.machine.Current()
}

// Subscribe sets the handler for event, replacing any previous one.
func (m *Manager) Subscribe(event string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = h
}

// Unsubscribe removes the handler for event.
func (m *Manager) Unsubscribe(event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, event)
}

// Publish queues event for sending. It is a no-op while not connected and
// drops the event when the send buffer is full.
func (m *Manager) Publish(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		m.logger.Error("encode event payload", zap.String("event", event), zap.Error(err))
		return
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		m.logger.Error("encode envelope", zap.String("event", event), zap.Error(err))
		return
	}

	m.mu.Lock()
	out := m.out
	m.mu.Unlock()
	if out == nil {
		m.logger.Debug("not connected, dropping event", zap.String("event", event))
		return
	}
	select {
	case out <- frame:
	default:
		m.logger.Warn("send buffer full, dropping event", zap.String("event", event))
	}
}

// setState applies a transition unless a newer Connect or Disconnect has
// superseded generation gen. A non-nil out becomes the writer before the
// transition is announced, so subscribers reacting to it can Publish.
func (m *Manager) setState(gen uint64, to status.State, out chan []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return false
	}
	if to == status.Disconnected {
		m.out = nil
		m.machine.Reset()
		return true
	}
	if out != nil {
		m.out = out
	}
	if err := m.machine.Transition(to); err != nil {
		m.logger.Warn("unexpected connection state", zap.Error(err))
		if out != nil {
			m.out = nil
		}
		return false
	}
	return true
}

func (m *Manager) run(ctx context.Context, gen uint64, token string, done chan struct{}) {
	defer close(done)
	for {
		conn, err := m.dial(ctx, token)
		if err != nil {
			if ctx.Err() == nil {
				m.logger.Error("live connection failed", zap.Error(err))
				m.setState(gen, status.Disconnected, nil)
			}
			return
		}
		out := make(chan []byte, m.cfg.SendBuffer)
		if !m.setState(gen, status.Connected, out) {
			conn.Close()
			return
		}
		m.logger.Info("live connection established", zap.String("url", m.cfg.URL))

		m.serve(ctx, conn, out)
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("live connection lost, reconnecting")
		if !m.setState(gen, status.Reconnecting, nil) {
			return
		}
	}
}

func (m *Manager) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	var conn *websocket.Conn
	op := func() error {
		c, resp, err := m.dialer.DialContext(ctx, m.cfg.URL, header)
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return backoff.Permanent(&AuthError{Status: resp.StatusCode})
			}
			return err
		}
		conn = c
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.InitialInterval
	b.MaxInterval = m.cfg.MaxInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(m.cfg.MaxAttempts)), ctx)

	notify := func(err error, next time.Duration) {
		m.logger.Warn("dial failed", zap.Error(err), zap.Duration("retry_in", next))
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return nil, authErr
		}
		return nil, fmt.Errorf("dial %s: %w", m.cfg.URL, err)
	}
	return conn, nil
}

// serve pumps frames until the connection fails or ctx is cancelled. out
// is already installed as the writer.
func (m *Manager) serve(ctx context.Context, conn *websocket.Conn, out chan []byte) {
	readDone := make(chan struct{})
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		m.writePump(ctx, conn, out, readDone)
	}()
	m.readPump(conn)
	close(readDone)
	<-writeDone

	m.mu.Lock()
	if m.out == out {
		m.out = nil
	}
	m.mu.Unlock()
}

func (m *Manager) readPump(conn *websocket.Conn) {
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Warn("live read failed", zap.Error(err))
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			m.logger.Warn("dropping malformed frame", zap.Int("bytes", len(data)))
			continue
		}
		m.dispatch(env)
	}
}

func (m *Manager) dispatch(env Envelope) {
	m.mu.Lock()
	h := m.handlers[env.Event]
	m.mu.Unlock()
	if h == nil {
		m.logger.Debug("no handler for event", zap.String("event", env.Event))
		return
	}
	h(env.Data)
}

func (m *Manager) writePump(ctx context.Context, conn *websocket.Conn, out <-chan []byte, readDone <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case frame := <-out:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				m.logger.Warn("live write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-readDone:
			return
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
