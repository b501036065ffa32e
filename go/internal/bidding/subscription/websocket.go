package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bidwatch/go/internal/bidding/events"
)

// WebSocketConfig holds configuration for the WebSocket transport
type WebSocketConfig struct {
	URL              string
	UserID           string
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	MaxMessageSize   int64
	ReadBufferSize   int
	WriteBufferSize  int
}

// DefaultWebSocketConfig returns default WebSocket configuration
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		URL:              "ws://localhost:8080/ws/lots",
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		MaxMessageSize:   64 * 1024,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
}

// clientCommand is sent to join or leave a lot topic.
type clientCommand struct {
	Action string `json:"action"`
	LotID  string `json:"lot_id"`
}

// WebSocketTransport dials the auction's WebSocket push endpoint.
type WebSocketTransport struct {
	config WebSocketConfig
	dialer *websocket.Dialer
}

// NewWebSocketTransport creates a new WebSocket transport
func NewWebSocketTransport(config WebSocketConfig) *WebSocketTransport {
	return &WebSocketTransport{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
			ReadBufferSize:   config.ReadBufferSize,
			WriteBufferSize:  config.WriteBufferSize,
		},
	}
}

func (t *WebSocketTransport) Dial(ctx context.Context) (Conn, error) {
	u, err := url.Parse(t.config.URL)
	if err != nil {
		return nil, fmt.Errorf("parse push URL: %w", err)
	}
	sessionID := uuid.New().String()
	q := u.Query()
	if t.config.UserID != "" {
		q.Set("user_id", t.config.UserID)
	}
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()

	ws, resp, err := t.dialer.DialContext(ctx, u.String(), t.config.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", t.config.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", t.config.URL, err)
	}

	c := &wsConn{
		id:       sessionID,
		ws:       ws,
		config:   t.config,
		send:     make(chan []byte, 64),
		incoming: make(chan events.Envelope, 256),
		done:     make(chan struct{}),
	}

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("session_id", sessionID).
		Str("url", t.config.URL).
		Msg("WebSocket connection established")

	return c, nil
}

// wsConn is one WebSocket session. Writes go through send so that only writePump
// touches the socket for data frames.
type wsConn struct {
	id     string
	ws     *websocket.Conn
	config WebSocketConfig

	send     chan []byte
	incoming chan events.Envelope

	done     chan struct{}
	closeErr error
	once     sync.Once
}

func (c *wsConn) Subscribe(ctx context.Context, lotID string) error {
	return c.command(ctx, clientCommand{Action: "subscribe", LotID: lotID})
}

func (c *wsConn) Unsubscribe(ctx context.Context, lotID string) error {
	return c.command(ctx, clientCommand{Action: "unsubscribe", LotID: lotID})
}

func (c *wsConn) command(ctx context.Context, cmd clientCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal %s command: %w", cmd.Action, err)
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return c.err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *wsConn) Receive(ctx context.Context) (events.Envelope, error) {
	select {
	case env := <-c.incoming:
		return env, nil
	case <-c.done:
		select {
		case env := <-c.incoming:
			return env, nil
		default:
		}
		return events.Envelope{}, c.err()
	case <-ctx.Done():
		return events.Envelope{}, ctx.Err()
	}
}

func (c *wsConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.config.WriteTimeout))
	c.fail(ErrConnClosed)
	return nil
}

// fail records the first error and tears the socket down.
func (c *wsConn) fail(err error) {
	c.once.Do(func() {
		c.closeErr = err
		close(c.done)
		c.ws.Close()
	})
}

func (c *wsConn) err() error {
	<-c.done
	return c.closeErr
}

// writePump handles sending commands and pings to the WebSocket connection
func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("session_id", c.id).
					Msg("failed to write message to WebSocket")
				c.fail(fmt.Errorf("write: %w", err))
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("session_id", c.id).
					Msg("failed to send ping")
				c.fail(fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}

// readPump decodes envelopes from the WebSocket connection
func (c *wsConn) readPump() {
	c.ws.SetReadLimit(c.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().
					Err(err).
					Str("session_id", c.id).
					Msg("unexpected WebSocket close error")
			}
			c.fail(fmt.Errorf("read: %w", err))
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		var env events.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Warn().
				Err(err).
				Str("session_id", c.id).
				Msg("dropping undecodable push message")
			continue
		}

		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}
