package client

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tether/pkg/types"
)

// Conn is one live transport to the gateway.
type Conn interface {
	// Read blocks for the next inbound frame.
	Read() ([]byte, error)
	// WriteCommand sends one client command frame. Safe for concurrent
	// use.
	WriteCommand(cmd types.Command) error
	Close() error
}

// Dialer establishes transports. The session owns reconnection; a
// Dialer only ever produces a single fresh connection per call.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WebSocketDialer connects to a gateway's per-tenant path over
// gorilla/websocket.
type WebSocketDialer struct {
	// BaseURL is the gateway root, e.g. "ws://support.example.com".
	BaseURL   string
	Namespace string
	UserID    string

	HandshakeTimeout time.Duration
}

var _ Dialer = (*WebSocketDialer)(nil)

// Dial opens and hands over one websocket connection.
func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	u, err := url.Parse(d.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway URL: %w", err)
	}
	u.Path = "/ws/" + d.Namespace
	u.RawQuery = url.Values{"user_id": []string{d.UserID}}.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake rejected with status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

// wsConn adapts a gorilla connection to the Conn interface. Writes are
// serialized because the pinger and application commands share the
// socket.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) Read() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.TextMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteCommand(cmd types.Command) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return c.conn.WriteJSON(cmd)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
