package stream

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/opmon/transfer-monitor/internal/clock"
	"github.com/opmon/transfer-monitor/internal/clock/system"
	"github.com/opmon/transfer-monitor/internal/event"
	"github.com/opmon/transfer-monitor/internal/logging"
	"github.com/opmon/transfer-monitor/internal/metrics"
)

// State is the connector's connection lifecycle state.
type State int

// Connection states. Failed is terminal until the caller invokes Reconnect
// (or Connect) again.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateRetrying
	StateFailed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRetrying:
		return "retrying"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Defaults for the reconnect loop.
const (
	DefaultMaxRetries     = 5
	DefaultReconnectDelay = 3 * time.Second
	dialTimeout           = 10 * time.Second
)

// Dispatcher receives every decoded envelope plus the connector's synthetic
// connection health events.
type Dispatcher interface {
	Dispatch(event.Envelope)
}

// Config controls the connector.
//   - Endpoint: the ws:// or wss:// address of the push channel (required).
//   - MaxRetries: consecutive open failures tolerated before the connector
//     goes terminal (default 5).
//   - ReconnectDelay: wait between reconnect attempts (default 3s).
//   - Dialer: optional custom dialer; defaults to a websocket.Dialer with a
//     handshake timeout.
//   - Clock: optional time source for the reconnect timer.
//   - Logger: optional structured logger.
type Config struct {
	Endpoint       string
	MaxRetries     int
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer
	Clock          clock.Clock
	Logger         *zap.Logger
}

// Connector owns at most one live transport and feeds decoded envelopes to
// the dispatcher. All exported methods are safe for concurrent use.
type Connector struct {
	cfg        Config
	dispatcher Dispatcher
	logger     *zap.Logger
	clk        clock.Clock
	dialer     *websocket.Dialer

	mu         sync.Mutex
	state      State
	retryCount int
	lastErr    error
	conn       *websocket.Conn
	retryTimer clock.Timer
	sessionID  uuid.UUID
	// gen invalidates in-flight dials, readers, and retry timers from prior
	// connection epochs. Disconnect bumps it.
	gen uint64
}

// NewConnector builds a Connector in the disconnected state. Nothing touches
// the network until Connect.
func NewConnector(cfg Config, dispatcher Dispatcher) *Connector {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: dialTimeout}
	}
	return &Connector{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logging.OrNop(cfg.Logger),
		clk:        cfg.Clock,
		dialer:     dialer,
	}
}

// Connect opens the transport. It is a no-op while already connecting or
// connected. The dial happens on its own goroutine; observe the outcome via
// State or the synthetic connection envelopes.
func (c *Connector) Connect() {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return
	}
	c.stopRetryTimerLocked()
	c.setStateLocked(StateConnecting)
	if c.sessionID == uuid.Nil {
		c.sessionID = uuid.New()
	}
	gen := c.gen
	c.mu.Unlock()

	go c.dial(gen)
}

// Disconnect cancels any armed reconnect timer, closes the transport, and
// moves to disconnected. Idempotent. It does not reset the retry counter;
// only a successful open does.
func (c *Connector) Disconnect() {
	c.mu.Lock()
	c.gen++
	c.stopRetryTimerLocked()
	wasDisconnected := c.state == StateDisconnected
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.setStateLocked(StateDisconnected)
	session := c.sessionID
	c.sessionID = uuid.Nil
	c.mu.Unlock()

	if !wasDisconnected {
		c.dispatchConnection(event.TypeConnectionClosed, session, nil)
	}
}

// Reconnect tears the transport down and dials again. The retry counter
// carries over until a successful open clears it.
func (c *Connector) Reconnect() {
	c.Disconnect()
	c.Connect()
}

// State returns the current connection state.
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RetryCount returns the number of consecutive open failures so far.
func (c *Connector) RetryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryCount
}

// LastError returns the most recent transport error, or nil after a
// successful open.
func (c *Connector) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// SessionID identifies the current connection epoch for log correlation. It
// is zero while disconnected.
func (c *Connector) SessionID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Connector) dial(gen uint64) {
	conn, resp, err := c.dialer.Dial(c.cfg.Endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c.mu.Lock()
	if gen != c.gen || c.state != StateConnecting {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.mu.Unlock()
		c.transportError(err, gen)
		return
	}
	c.conn = conn
	c.retryCount = 0
	c.lastErr = nil
	c.setStateLocked(StateConnected)
	session := c.sessionID
	c.mu.Unlock()

	c.logger.Info("push channel connected",
		zap.String("endpoint", c.cfg.Endpoint),
		zap.String("session_id", session.String()),
	)
	c.dispatchConnection(event.TypeConnectionOpen, session, nil)
	go c.readLoop(conn, gen)
}

func (c *Connector) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.transportError(err, gen)
			return
		}
		env, decodeErr := event.Decode(data)
		if decodeErr != nil {
			metrics.DecodeFailure()
			c.logger.Debug("dropping undecodable frame", zap.Error(decodeErr))
			continue
		}
		c.dispatcher.Dispatch(env)
	}
}

// transportError closes the transport and either arms a reconnect attempt or
// goes terminal once the retry budget is spent.
func (c *Connector) transportError(err error, gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state == StateDisconnected || c.state == StateFailed {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.lastErr = err
	c.retryCount++
	attempt := c.retryCount
	session := c.sessionID

	if c.retryCount < c.cfg.MaxRetries {
		c.setStateLocked(StateRetrying)
		c.stopRetryTimerLocked()
		c.retryTimer = c.clk.AfterFunc(c.cfg.ReconnectDelay, c.Connect)
		metrics.ReconnectArmed()
		c.mu.Unlock()

		c.logger.Warn("push channel error, reconnect armed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", c.cfg.MaxRetries),
			zap.Error(err),
		)
		c.dispatchConnection(event.TypeConnectionRetrying, session, map[string]any{
			"attempt": attempt,
			"error":   err.Error(),
		})
		return
	}

	c.setStateLocked(StateFailed)
	c.mu.Unlock()

	c.logger.Error("push channel failed, retry budget exhausted",
		zap.Int("attempts", attempt),
		zap.Error(err),
	)
	c.dispatchConnection(event.TypeConnectionFailed, session, map[string]any{
		"attempts": attempt,
		"error":    err.Error(),
	})
}

func (c *Connector) setStateLocked(s State) {
	c.state = s
	metrics.SetConnectionState(int(s))
}

func (c *Connector) stopRetryTimerLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

func (c *Connector) dispatchConnection(t event.Type, session uuid.UUID, extra map[string]any) {
	if c.dispatcher == nil {
		return
	}
	data := map[string]any{"sessionId": session.String()}
	for k, v := range extra {
		data[k] = v
	}
	c.dispatcher.Dispatch(event.Envelope{Type: t, Data: data})
}
