// Package client is a small synchronous client for the deskrelay WebSocket
// protocol: one command out, one envelope back.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/codefionn/deskrelay/internal/action"
	"github.com/gorilla/websocket"
)

// ErrClosed is returned by calls on a closed client, including one whose
// connection was dropped after a failed or cancelled call.
var ErrClosed = errors.New("client is closed")

// ServerError is an error envelope returned by the server.
type ServerError struct {
	Code    string
	Details interface{}
}

func (e *ServerError) Error() string {
	if e.Details == nil {
		return e.Code
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Details)
}

// Config holds client configuration
type Config struct {
	// URL is the server endpoint, e.g. ws://127.0.0.1:8765/
	URL string
	// Token is sent with every command.
	Token string
	// ConnectTimeout is the timeout for the WebSocket handshake
	ConnectTimeout time.Duration
	// RequestTimeout bounds one command round trip
	RequestTimeout time.Duration
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		URL:            "ws://127.0.0.1:8765/",
		ConnectTimeout: 10 * time.Second,
		RequestTimeout: 60 * time.Second,
	}
}

// Client represents a connection to the server. Calls are serialized since
// the server answers strictly in order.
type Client struct {
	config *Config

	mu   sync.Mutex
	conn *websocket.Conn
}

// Dial connects to the server.
func Dial(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	dialer := websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout}

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to %s: %s", cfg.URL, resp.Status)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.URL, err)
	}
	return &Client{config: cfg, conn: conn}, nil
}

// Call sends one command and returns the decoded envelope. An error envelope
// is returned as a response, not as an error.
func (c *Client) Call(ctx context.Context, name string, params map[string]interface{}) (*action.Response, error) {
	msg := make(map[string]interface{}, len(params)+2)
	for k, v := range params {
		msg[k] = v
	}
	msg[action.FieldAction] = name
	if c.config.Token != "" {
		msg[action.FieldToken] = c.config.Token
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode command: %w", err)
	}
	raw, err := c.roundTrip(ctx, data)
	if err != nil {
		return nil, err
	}

	var resp action.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("invalid response: %w", err)
	}
	return &resp, nil
}

// Do is Call that turns error envelopes into *ServerError.
func (c *Client) Do(ctx context.Context, name string, params map[string]interface{}) (interface{}, error) {
	resp, err := c.Call(ctx, name, params)
	if err != nil {
		return nil, err
	}
	if !resp.IsOK() {
		e := &ServerError{Code: resp.Code()}
		if resp.Error != nil {
			e.Details = resp.Error.Details
		}
		return nil, e
	}
	return resp.Result, nil
}

func (c *Client) roundTrip(ctx context.Context, data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn := c.conn

	var deadline time.Time
	if c.config.RequestTimeout > 0 {
		deadline = time.Now().Add(c.config.RequestTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)

	// unblock the read when ctx is cancelled
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.discard()
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	_, raw, err := conn.ReadMessage()
	if err != nil {
		// A failed read leaves the connection unusable and the response, if
		// any, unread.
		c.discard()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return raw, nil
}

// discard drops the connection without a close handshake. c.mu must be held.
func (c *Client) discard() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Close sends a normal close frame and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	err := c.conn.Close()
	c.conn = nil
	return err
}

// ParseParams turns key=value arguments into command parameters. Values that
// parse as JSON (numbers, booleans, lists, objects) keep their type; anything
// else is a string.
func ParseParams(args []string) (map[string]interface{}, error) {
	params := make(map[string]interface{}, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", arg)
		}
		var decoded interface{}
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			params[key] = decoded
		} else {
			params[key] = value
		}
	}
	return params, nil
}
