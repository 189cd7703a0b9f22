package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tether/pkg/types"
)

const writeTimeout = 5 * time.Second

// Connection wraps one client websocket. It is bound to exactly one
// namespace for its whole lifetime; room membership may change at any
// time. All writes go through a single writer goroutine so concurrent
// emitters never race on the underlying socket, and events queued for a
// connection drain in emission order.
type Connection struct {
	id        string
	namespace string
	userID    string

	conn    *websocket.Conn
	writeCh chan []byte

	roomsMu sync.RWMutex
	rooms   map[string]struct{}

	lastActivity atomic.Int64 // unix nanoseconds

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection wraps an upgraded websocket. The write channel buffer
// absorbs emission bursts without blocking the fan-out path.
func NewConnection(conn *websocket.Conn, namespace, userID string, sendBuffer int, now time.Time) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:        uuid.New().String(),
		namespace: namespace,
		userID:    userID,
		conn:      conn,
		writeCh:   make(chan []byte, sendBuffer),
		rooms:     make(map[string]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	c.lastActivity.Store(now.UnixNano())

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteEnvelope queues a sealed event for delivery. Returns
// ErrSendBufferFull when the client cannot keep up; the emitter treats
// that as a delivery failure for this connection only.
func (c *Connection) WriteEnvelope(env *types.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return ErrInvalidJSON
	}
	return c.write(data)
}

// WriteJSON queues an arbitrary JSON value, used for command replies
// such as pong frames.
func (c *Connection) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}
	return c.write(data)
}

func (c *Connection) write(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Touch records activity, deferring the reaper's idle cutoff.
func (c *Connection) Touch(now time.Time) {
	c.lastActivity.Store(now.UnixNano())
}

// LastActivity returns the most recent activity timestamp.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// JoinRoom adds the connection to a room. Joining an already-joined
// room is a no-op.
func (c *Connection) JoinRoom(room string) {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	c.rooms[room] = struct{}{}
}

// LeaveRoom removes the connection from a room. Leaving a non-joined
// room is a no-op.
func (c *Connection) LeaveRoom(room string) {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	delete(c.rooms, room)
}

// InRoom reports room membership.
func (c *Connection) InRoom(room string) bool {
	c.roomsMu.RLock()
	defer c.roomsMu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

// Rooms returns a snapshot of the joined rooms.
func (c *Connection) Rooms() []string {
	c.roomsMu.RLock()
	defer c.roomsMu.RUnlock()

	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

func (c *Connection) ID() string        { return c.id }
func (c *Connection) Namespace() string { return c.namespace }
func (c *Connection) UserID() string    { return c.userID }

// Done is closed when the connection shuts down.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close tears the connection down. Safe to call from any goroutine,
// any number of times.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
