package debug

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/arkova/pipechat/internal/chat"
	"github.com/arkova/pipechat/internal/logging"
)

const (
	// DefaultHeartbeatInterval is the interval between application-level
	// ping frames.
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultConnectTimeout bounds the dial plus handshake of a single
	// connection attempt. An unresponsive server fails the attempt instead
	// of leaving it pending forever.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultHistoryLimit is the page size of the automatic history request
	// after the session is confirmed.
	DefaultHistoryLimit = 50

	reconnectBaseDelay   = 2 * time.Second
	reconnectMaxDelay    = 30 * time.Second
	maxReconnectAttempts = 5
)

var (
	// ErrNotConnected is returned when an operation requires an open
	// transport. Messages are never queued for later delivery.
	ErrNotConnected = errors.New("debug: not connected")

	// ErrAlreadyConnected is returned by Connect while a transport is open
	// or opening. Use one client per session.
	ErrAlreadyConnected = errors.New("debug: already connected")

	// ErrNoTokenProvider is returned by Connect when no token provider was
	// configured.
	ErrNoTokenProvider = errors.New("debug: token provider required")
)

// TokenProvider supplies an auth token for a connection attempt. It is
// called again for every automatic reconnect, so short-lived tokens keep
// working; the client never caches tokens.
type TokenProvider func(ctx context.Context) (string, error)

// ConnState is the transport state of a client. Transitions are driven by
// transport events only.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// Client is a realtime debug session client for one pipeline. It owns the
// transport lifecycle (connect, heartbeat, bounded reconnect, manual
// disconnect), routes inbound frames to the registered Handlers, and
// reconciles optimistic sends with server-confirmed state in its Session.
//
// It is safe for concurrent use. Construct a new Client to switch sessions
// rather than reusing one.
type Client struct {
	serverURL  string
	pipelineID string
	kind       SessionKind

	handlers       Handlers
	tokenFn        TokenProvider
	dialer         *websocket.Dialer
	connectTimeout time.Duration
	heartbeatEvery time.Duration
	historyLimit   int
	logger         *slog.Logger

	session *Session

	mu             sync.Mutex
	conn           *websocket.Conn
	state          ConnState
	manualClose    bool
	attempts       int
	heartbeatDone  chan struct{}
	reconnectTimer *time.Timer
	lastPong       time.Time
}

// Option configures the client.
type Option func(*Client)

// WithHandlers sets the event handlers.
func WithHandlers(h Handlers) Option {
	return func(c *Client) { c.handlers = h }
}

// WithSessionKind sets the session kind. Default is KindPerson.
func WithSessionKind(kind SessionKind) Option {
	return func(c *Client) { c.kind = kind }
}

// WithTokenProvider sets the auth token source. Required for Connect.
func WithTokenProvider(fn TokenProvider) Option {
	return func(c *Client) { c.tokenFn = fn }
}

// WithStaticToken sets a fixed auth token. Reconnects reuse it unchanged;
// prefer WithTokenProvider when tokens expire.
func WithStaticToken(token string) Option {
	return func(c *Client) {
		c.tokenFn = func(context.Context) (string, error) { return token, nil }
	}
}

// WithHeartbeatInterval overrides the heartbeat interval.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.heartbeatEvery = d
		}
	}
}

// WithConnectTimeout overrides the per-attempt connect timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithHistoryLimit overrides the automatic history page size.
func WithHistoryLimit(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.historyLimit = n
		}
	}
}

// WithDialer sets a custom WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a debug session client for the given pipeline.
// serverURL is the platform base URL (e.g. "http://localhost:5300").
func New(serverURL, pipelineID string, opts ...Option) *Client {
	c := &Client{
		serverURL:      serverURL,
		pipelineID:     pipelineID,
		kind:           KindPerson,
		dialer:         websocket.DefaultDialer,
		connectTimeout: DefaultConnectTimeout,
		heartbeatEvery: DefaultHeartbeatInterval,
		historyLimit:   DefaultHistoryLimit,
		state:          StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.WithSession(logging.Debug(), pipelineID, string(c.kind))
	}
	c.session = newSession(pipelineID, c.kind)
	return c
}

// Session returns the session state (message list, pending sends).
func (c *Client) Session() *Session {
	return c.session
}

// State returns the current transport state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the transport and sends the connect control frame. It
// returns once the transport is open; the server's session confirmation
// arrives later through Handlers.OnConnected.
func (c *Client) Connect(ctx context.Context) error {
	if c.tokenFn == nil {
		return ErrNoTokenProvider
	}

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.manualClose = false
	c.attempts = 0
	c.mu.Unlock()

	if err := c.dial(ctx); err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return err
	}
	return nil
}

// chatURL derives the WebSocket endpoint from the server base URL, switching
// the scheme to its WebSocket variant (https becomes wss).
func (c *Client) chatURL() (string, error) {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/api/v1/pipelines/" + url.PathEscape(c.pipelineID) + "/chat/ws"
	return u.String(), nil
}

// dial performs one connection attempt: fetch a token, open the transport,
// send the connect frame, start the read and heartbeat loops.
func (c *Client) dial(ctx context.Context) error {
	token, err := c.tokenFn(ctx)
	if err != nil {
		return fmt.Errorf("obtain token: %w", err)
	}

	wsURL, err := c.chatURL()
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()
	conn, _, err := c.dialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("websocket connect: %w", err)
	}

	// The connect control frame is the first thing on the wire.
	if err := writeFrameTo(conn, FrameTypeConnect, connectPayload{
		PipelineUUID: c.pipelineID,
		SessionType:  string(c.kind),
		Token:        token,
	}); err != nil {
		conn.Close()
		return fmt.Errorf("send connect frame: %w", err)
	}

	heartbeatDone := make(chan struct{})

	c.mu.Lock()
	// A Disconnect may have landed while the dial was in flight; it wins.
	// Publishing the connection anyway would revive heartbeat and read
	// loops the caller just tore down.
	if c.manualClose || c.state != StateConnecting {
		c.mu.Unlock()
		conn.Close()
		return ErrNotConnected
	}
	c.conn = conn
	c.state = StateConnected
	c.attempts = 0
	c.heartbeatDone = heartbeatDone
	c.mu.Unlock()

	c.logger.Info("transport open", "url", wsURL)

	go c.readLoop(conn)
	go c.heartbeat(heartbeatDone)
	return nil
}

// Disconnect closes the transport with a normal closure code, stops the
// heartbeat and suppresses automatic reconnection. Safe to call when
// already closed.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manualClose = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.heartbeatDone != nil {
		close(c.heartbeatDone)
		c.heartbeatDone = nil
	}
	conn := c.conn
	c.conn = nil
	alreadyClosed := c.state == StateDisconnected
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	}

	if !alreadyClosed {
		c.logger.Info("disconnected")
		if h := c.handlers.OnDisconnected; h != nil {
			h(nil)
		}
	}
}

// readLoop reads frames from one transport until it fails.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		c.dispatch(raw)
	}
}

// handleClose reacts to a transport failure: marks the client disconnected,
// surfaces the event, and schedules reconnection unless the close was
// requested via Disconnect.
func (c *Client) handleClose(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// A Disconnect or reconnect already replaced this transport.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = StateDisconnected
	if c.heartbeatDone != nil {
		close(c.heartbeatDone)
		c.heartbeatDone = nil
	}
	manual := c.manualClose
	c.mu.Unlock()

	conn.Close()

	clean := websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
	if clean {
		c.logger.Info("transport closed")
	} else {
		c.logger.Warn("transport closed unexpectedly", "error", err)
	}

	if h := c.handlers.OnDisconnected; h != nil {
		if clean {
			h(nil)
		} else {
			h(err)
		}
	}

	if !manual {
		c.scheduleReconnect()
	}
}

// heartbeat sends periodic ping frames until done is closed or a write
// fails. The done channel is owned by the connection that started it.
func (c *Client) heartbeat(done chan struct{}) {
	ticker := time.NewTicker(c.heartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.writeFrame(FrameTypePing, pingPayload{Timestamp: time.Now().UnixMilli()}); err != nil {
				c.logger.Debug("heartbeat stopped", "error", err)
				return
			}
		}
	}
}

// scheduleReconnect arms the backoff timer for the next automatic attempt.
// After maxReconnectAttempts consecutive failures the client stays
// disconnected; resuming then requires a fresh Connect from the caller.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.manualClose {
		c.mu.Unlock()
		return
	}
	n := c.attempts
	if n >= maxReconnectAttempts {
		c.mu.Unlock()
		c.logger.Warn("reconnect attempts exhausted, staying disconnected",
			"attempts", maxReconnectAttempts)
		return
	}
	c.attempts = n + 1
	delay := reconnectDelay(n)
	c.reconnectTimer = time.AfterFunc(delay, c.retryConnect)
	c.mu.Unlock()

	c.logger.Info("reconnect scheduled", "attempt", n+1, "delay", delay)
	if h := c.handlers.OnReconnecting; h != nil {
		h(n+1, delay)
	}
}

// retryConnect is the reconnect timer callback.
func (c *Client) retryConnect() {
	c.mu.Lock()
	if c.manualClose || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	if err := c.dial(context.Background()); err != nil {
		c.logger.Warn("reconnect failed", "error", err)
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.scheduleReconnect()
		return
	}
	c.logger.Info("reconnected")
}

// reconnectDelay returns the backoff delay for the given 0-based attempt:
// min(2s * 2^attempt, 30s).
func reconnectDelay(attempt int) time.Duration {
	d := reconnectBaseDelay << uint(attempt)
	if d > reconnectMaxDelay {
		d = reconnectMaxDelay
	}
	return d
}

// SendMessage creates a provisional message for the given content chain,
// sends it, and returns the client-generated message id so the caller can
// track it before the server acknowledges. While disconnected the message
// is dropped with a warning, never queued.
func (c *Client) SendMessage(chain chat.Chain) (string, error) {
	if c.State() != StateConnected {
		c.logger.Warn("send while disconnected, message dropped")
		return "", ErrNotConnected
	}

	clientID := newClientMessageID()
	c.session.addProvisional(clientID, chain)

	if err := c.writeFrame(FrameTypeSendMessage, sendMessagePayload{
		MessageChain:    chain,
		ClientMessageID: clientID,
	}); err != nil {
		c.session.dropProvisional(clientID)
		return "", err
	}
	return clientID, nil
}

// SendText is a convenience wrapper sending a single plain-text segment.
func (c *Client) SendText(text string) (string, error) {
	return c.SendMessage(chat.Plain(text))
}

// Interrupt asks the server to stop streaming the given reply. The
// confirmation arrives as an interrupted event.
func (c *Client) Interrupt(messageID int64) error {
	return c.writeFrame(FrameTypeInterrupt, interruptPayload{MessageID: messageID})
}

// LoadHistory requests a page of prior messages. beforeMessageID and limit
// are optional (zero omits them).
func (c *Client) LoadHistory(beforeMessageID int64, limit int) error {
	return c.writeFrame(FrameTypeLoadHistory, loadHistoryPayload{
		BeforeMessageID: beforeMessageID,
		Limit:           limit,
	})
}

// LoadOlder requests the history page preceding the oldest known message.
func (c *Client) LoadOlder() error {
	return c.LoadHistory(c.session.oldestID(), c.historyLimit)
}

// LastPong returns the arrival time of the most recent pong frame.
func (c *Client) LastPong() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPong
}

// newClientMessageID generates a client message id: millisecond timestamp
// plus a random suffix. Unique within a session, not cryptographic.
func newClientMessageID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// writeFrame marshals and sends one frame on the current transport.
func (c *Client) writeFrame(frameType string, data any) error {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", frameType, err)
		}
		raw = b
	}
	buf, err := json.Marshal(Frame{Type: frameType, Data: raw})
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", frameType, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.state != StateConnected {
		return ErrNotConnected
	}
	return c.conn.WriteMessage(websocket.TextMessage, buf)
}

// writeFrameTo sends one frame on a specific connection, bypassing client
// state. Used for the connect frame before the connection is published.
func writeFrameTo(conn *websocket.Conn, frameType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	buf, err := json.Marshal(Frame{Type: frameType, Data: raw})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, buf)
}
