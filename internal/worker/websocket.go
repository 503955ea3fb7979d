package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned by reads and writes before Connect.
var ErrNotConnected = errors.New("websocket not connected")

type WebSocketClient struct {
	url    string
	token  string
	logger *slog.Logger

	mu   sync.Mutex // guards conn for Close racing the reader
	conn *websocket.Conn
}

// Signal is a message from the dispatcher.
type Signal struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Command is a message to the dispatcher.
type Command struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

func NewWebSocketClient(serverURL, token string, logger *slog.Logger) *WebSocketClient {
	return &WebSocketClient{
		url:    serverURL,
		token:  token,
		logger: logger,
	}
}

// Connect dials the dispatcher, sending the token as a bearer header.
func (c *WebSocketClient) Connect(ctx context.Context) error {
	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Debug("Connecting to WebSocket", slog.String("url", u.String()))

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.logger.Info("WebSocket connected", slog.String("url", c.url))
	return nil
}

func (c *WebSocketClient) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// ReadSignal blocks until the next signal arrives. Cancelling ctx does not
// interrupt the read; Close does.
func (c *WebSocketClient) ReadSignal(ctx context.Context) (*Signal, error) {
	conn := c.current()
	if conn == nil {
		return nil, ErrNotConnected
	}

	var signal Signal
	if err := conn.ReadJSON(&signal); err != nil {
		return nil, fmt.Errorf("failed to read signal: %w", err)
	}

	c.logger.Debug("Received signal", slog.String("type", signal.Type))
	return &signal, nil
}

func (c *WebSocketClient) WriteCommand(ctx context.Context, cmd *Command) error {
	conn := c.current()
	if conn == nil {
		return ErrNotConnected
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	} else {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	}
	c.logger.Debug("Sending command", slog.String("type", cmd.Type))
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("failed to write command: %w", err)
	}
	return nil
}

func (c *WebSocketClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	c.logger.Info("Closing WebSocket connection")
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return conn.Close()
}
