// Package chat implements the realtime chat session: one persistent
// websocket multiplexed across conversation switches, with server-pushed
// events racing client actions.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"crmcli/internal/model"
)

var (
	ErrAlreadyConnected = errors.New("chat: already connected")
	ErrNotConnected     = errors.New("chat: not connected")
	ErrNotJoined        = errors.New("chat: no conversation joined")
)

// ConnState is the connection lifecycle. A dropped transport moves the client
// back to Disconnected and stays there until the owner calls Connect again;
// there is no automatic reconnect.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Joined
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Joined:
		return "joined"
	default:
		return "disconnected"
	}
}

// TokenSource yields the bearer credential the dial carries.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ClientConfig configures the realtime client.
type ClientConfig struct {
	SocketURL string
	UserID    string
	Tokens    TokenSource

	DialTimeout  time.Duration
	DialRetries  int
	PingInterval time.Duration
	WriteTimeout time.Duration

	Logger *slog.Logger

	// OnChange, when set, fires after every state, transcript or typing
	// update. Owners use it to re-render.
	OnChange func()
}

// Client owns exactly one websocket connection. Switching conversations
// reuses the connection and re-announces membership.
type Client struct {
	cfg    ClientConfig
	logger *slog.Logger

	writeMu sync.Mutex // serializes writes on the shared connection

	mu       sync.Mutex
	state    ConnState
	conn     *websocket.Conn
	stop     context.CancelFunc
	joined   string
	messages []model.Message
	typing   bool
	seen     map[string]struct{} // clientIds already appended
}

// NewClient creates a disconnected client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.DialRetries < 1 {
		cfg.DialRetries = 1
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		logger: logger,
		seen:   make(map[string]struct{}),
	}
}

// Connect fetches a credential, dials the realtime endpoint and starts the
// read loop. The dial retries with a linearly growing delay; a drop after a
// successful connect is not retried.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = Connecting
	c.mu.Unlock()
	c.changed()

	token, err := c.cfg.Tokens.Token(ctx)
	if err != nil {
		c.resetToDisconnected(nil)
		return fmt.Errorf("chat: credential: %w", err)
	}

	conn, err := c.dial(ctx, token)
	if err != nil {
		c.resetToDisconnected(nil)
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.conn = conn
	c.stop = cancel
	c.state = Connected
	c.mu.Unlock()
	c.changed()

	go c.readLoop(conn)
	go c.pingLoop(loopCtx, conn)
	return nil
}

// dial attempts the websocket handshake with retries.
func (c *Client) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	header := http.Header{"Authorization": []string{"Bearer " + token}}

	var lastErr error
	for attempt := 0; attempt < c.cfg.DialRetries; attempt++ {
		conn, _, err := dialer.DialContext(ctx, c.cfg.SocketURL, header)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == c.cfg.DialRetries-1 {
			break
		}
		delay := time.Duration(attempt+1) * time.Second
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("chat: dial failed after %d attempts: %w", c.cfg.DialRetries, lastErr)
}

// Join switches the session to the given conversation: the transcript is
// cleared immediately and membership is announced without waiting for an
// acknowledgment. History for a previously joined conversation that arrives
// late is dropped.
func (c *Client) Join(conversationID string) error {
	c.mu.Lock()
	if c.state != Connected && c.state != Joined {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.joined = conversationID
	c.state = Joined
	c.messages = nil
	c.typing = false
	c.seen = make(map[string]struct{})
	c.mu.Unlock()
	c.changed()

	return c.emit(conn, eventJoinChat, joinPayload{
		UserID:         c.cfg.UserID,
		ConversationID: conversationID,
	})
}

// Send emits one message. Whitespace-only text is a no-op; sending before any
// join returns ErrNotJoined without emitting. The transcript is not updated
// optimistically; the message appears when the server echoes it back.
func (c *Client) Send(text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	c.mu.Lock()
	if c.state != Joined || c.joined == "" {
		c.mu.Unlock()
		return ErrNotJoined
	}
	conn := c.conn
	conversationID := c.joined
	c.mu.Unlock()

	return c.emit(conn, eventSendMessage, sendPayload{
		UserID:         c.cfg.UserID,
		Message:        text,
		ConversationID: conversationID,
		ClientID:       uuid.NewString(),
	})
}

// Close tears down the transport. Unacknowledged sends are abandoned.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	c.resetToDisconnected(conn)
}

// State returns the connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// JoinedConversation returns the id of the joined conversation, or empty.
func (c *Client) JoinedConversation() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined
}

// Messages returns a copy of the local transcript in delivery order.
func (c *Client) Messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := make([]model.Message, len(c.messages))
	copy(copied, c.messages)
	return copied
}

// Typing reports whether the remote side is composing. It only changes on
// explicit ai-typing events; there is no timeout.
func (c *Client) Typing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

// emit marshals and writes one envelope. Fire and forget: no ack tracking.
func (c *Client) emit(conn *websocket.Conn, event string, data any) error {
	if conn == nil {
		return ErrNotConnected
	}
	env, err := newEnvelope(event, data)
	if err != nil {
		return fmt.Errorf("chat: encode %s: %w", event, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("chat: emit %s: %w", event, err)
	}
	return nil
}

// readLoop consumes server events until the transport drops. Delivery order
// is the arrival order on this single connection.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("realtime connection dropped", "err", err)
			}
			c.connDropped(conn)
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("invalid realtime frame", "err", err)
			continue
		}
		c.handleEvent(env)
	}
}

func (c *Client) handleEvent(env envelope) {
	switch env.Event {
	case eventChatHistory:
		var history []model.Message
		if err := json.Unmarshal(env.Data, &history); err != nil {
			c.logger.Warn("invalid chat-history payload", "err", err)
			return
		}
		c.applyHistory(history)

	case eventNewMessage:
		var msg model.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			c.logger.Warn("invalid new-message payload", "err", err)
			return
		}
		c.appendMessage(msg)

	case eventAITyping:
		var typing bool
		if err := json.Unmarshal(env.Data, &typing); err != nil {
			c.logger.Warn("invalid ai-typing payload", "err", err)
			return
		}
		c.mu.Lock()
		c.typing = typing
		c.mu.Unlock()
		c.changed()

	default:
		c.logger.Debug("ignoring unknown event", "event", env.Event)
	}
}

// applyHistory replaces the transcript wholesale. History tagged with a
// conversation other than the current join is stale (the join moved on before
// the server answered) and is ignored.
func (c *Client) applyHistory(history []model.Message) {
	c.mu.Lock()
	if c.joined == "" {
		c.mu.Unlock()
		return
	}
	if len(history) > 0 && history[0].ConversationID != "" && history[0].ConversationID != c.joined {
		c.mu.Unlock()
		return
	}

	c.messages = history
	c.seen = make(map[string]struct{})
	for _, msg := range history {
		if msg.ClientID != "" {
			c.seen[msg.ClientID] = struct{}{}
		}
	}
	c.mu.Unlock()
	c.changed()
}

// appendMessage appends one delivered message, dropping messages for other
// conversations and duplicate echoes of an already appended clientId.
func (c *Client) appendMessage(msg model.Message) {
	c.mu.Lock()
	if c.joined == "" || (msg.ConversationID != "" && msg.ConversationID != c.joined) {
		c.mu.Unlock()
		return
	}
	if msg.ClientID != "" {
		if _, dup := c.seen[msg.ClientID]; dup {
			c.mu.Unlock()
			return
		}
		c.seen[msg.ClientID] = struct{}{}
	}
	c.messages = append(c.messages, msg)
	c.mu.Unlock()
	c.changed()
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// connDropped tears the client down if conn is still the active connection.
// A stale read loop from a previous connection must not disturb a newer one.
func (c *Client) connDropped(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.resetToDisconnected(conn)
}

func (c *Client) resetToDisconnected(conn *websocket.Conn) {
	c.mu.Lock()
	if conn != nil && c.conn == conn {
		if c.stop != nil {
			c.stop()
			c.stop = nil
		}
		c.conn = nil
	}
	c.state = Disconnected
	c.joined = ""
	c.typing = false
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.changed()
}

func (c *Client) changed() {
	if c.cfg.OnChange != nil {
		c.cfg.OnChange()
	}
}
