package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tether/pkg/types"
)

// fakeConn is an in-memory transport. Frames pushed into it come out of
// Read; commands written to it are recorded for assertions.
type fakeConn struct {
	frames   chan []byte
	autoPong bool
	onWrite  func(types.Command)

	mu       sync.Mutex
	commands []types.Command
	closed   bool
}

func (c *fakeConn) Read() ([]byte, error) {
	data, ok := <-c.frames
	if !ok {
		return nil, io.EOF
	}
	return data, nil
}

func (c *fakeConn) WriteCommand(cmd types.Command) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return io.ErrClosedPipe
	}
	c.commands = append(c.commands, cmd)
	c.mu.Unlock()

	if c.onWrite != nil {
		c.onWrite(cmd)
	}
	if cmd.Action == types.ActionPing && c.autoPong {
		c.push([]byte(`{"action":"pong"}`))
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.frames)
	return nil
}

func (c *fakeConn) push(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.frames <- frame:
	default:
	}
}

func (c *fakeConn) sentCommands() []types.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Command, len(c.commands))
	copy(out, c.commands)
	return out
}

func (c *fakeConn) sentJoins() []string {
	var rooms []string
	for _, cmd := range c.sentCommands() {
		if cmd.Action == types.ActionJoin {
			rooms = append(rooms, cmd.Room)
		}
	}
	return rooms
}

// fakeDialer hands out fakeConns, optionally refusing the first N dials.
type fakeDialer struct {
	mu       sync.Mutex
	failures int
	dials    int
	autoPong bool
	onWrite  func(types.Command)
	conns    []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.dials <= d.failures {
		return nil, errors.New("connection refused")
	}
	conn := &fakeConn{
		frames:   make(chan []byte, 16),
		autoPong: d.autoPong,
		onWrite:  d.onWrite,
	}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) setFailures(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = n
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 {
		i = len(d.conns) + i
	}
	return d.conns[i]
}

// recorder keeps an ordered log of what happened across goroutines.
type recorder struct {
	mu      sync.Mutex
	entries []string
}

func (r *recorder) add(entry string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	copy(out, r.entries)
	return out
}

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want },
		2*time.Second, 5*time.Millisecond, "session never reached %s", want)
}

func TestSession_StartsDisconnected(t *testing.T) {
	s := NewSession("7", "agent_1", Options{Dialer: &fakeDialer{}})
	assert.Equal(t, StateDisconnected, s.State())
	assert.Empty(t, s.Subscriptions())
}

func TestSession_ConnectTwiceFails(t *testing.T) {
	dialer := &fakeDialer{autoPong: true}
	s := NewSession("7", "agent_1", Options{Dialer: dialer})
	defer s.Close()

	require.NoError(t, s.Connect(context.Background()))
	waitForState(t, s, StateConnected)

	assert.ErrorIs(t, s.Connect(context.Background()), ErrAlreadyStarted)
}

// Subscriptions registered while disconnected must all be on the wire
// before the session reports Connected.
func TestSession_ReplaysSubscriptionsBeforeConnected(t *testing.T) {
	log := &recorder{}
	dialer := &fakeDialer{autoPong: true}
	dialer.onWrite = func(cmd types.Command) {
		if cmd.Action == types.ActionJoin {
			log.add("join:" + cmd.Room)
		}
	}

	s := NewSession("7", "agent_1", Options{Dialer: dialer})
	defer s.Close()
	s.On(string(StateConnected), func(string, json.RawMessage) {
		log.add("state:connected")
	})

	s.Subscribe("ticket-42")
	s.Subscribe(types.NotificationRoom)
	require.NoError(t, s.Connect(context.Background()))
	waitForState(t, s, StateConnected)

	entries := log.snapshot()
	require.Len(t, entries, 3)
	assert.Equal(t, "state:connected", entries[2])
	assert.ElementsMatch(t, []string{"join:ticket-42", "join:notification"}, entries[:2])
}

func TestSession_BackoffDoublesUntilTerminalFailure(t *testing.T) {
	type step struct {
		attempt int
		delay   time.Duration
	}
	var (
		mu    sync.Mutex
		steps []step
	)

	dialer := &fakeDialer{failures: 1 << 30}
	s := NewSession("7", "agent_1", Options{
		Dialer:      dialer,
		BaseDelay:   time.Millisecond,
		MaxAttempts: 4,
		OnBackoff: func(attempt int, delay time.Duration) {
			mu.Lock()
			steps = append(steps, step{attempt, delay})
			mu.Unlock()
		},
	})
	defer s.Close()

	require.NoError(t, s.Connect(context.Background()))
	waitForState(t, s, StateFailed)

	assert.Equal(t, 4, dialer.dialCount())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, steps, 3, "the final attempt fails terminally without scheduling a delay")
	assert.Equal(t, []step{
		{1, 1 * time.Millisecond},
		{2, 2 * time.Millisecond},
		{3, 4 * time.Millisecond},
	}, steps)
}

// Failed is terminal for the machine but not for the session: an
// explicit Connect starts a fresh attempt budget.
func TestSession_ConnectRecoversFromFailed(t *testing.T) {
	dialer := &fakeDialer{failures: 1 << 30}
	s := NewSession("7", "agent_1", Options{
		Dialer:      dialer,
		BaseDelay:   time.Millisecond,
		MaxAttempts: 2,
	})
	defer s.Close()

	require.NoError(t, s.Connect(context.Background()))
	waitForState(t, s, StateFailed)

	dialer.setFailures(0)
	require.NoError(t, s.Connect(context.Background()))
	waitForState(t, s, StateConnected)
}

func TestSession_ReconnectsAfterTransportLoss(t *testing.T) {
	states := &recorder{}
	dialer := &fakeDialer{autoPong: true}

	s := NewSession("7", "agent_1", Options{Dialer: dialer, BaseDelay: time.Millisecond})
	defer s.Close()
	for _, st := range []State{StateConnecting, StateConnected, StateReconnecting, StateFailed} {
		s.On(string(st), func(event string, _ json.RawMessage) {
			states.add(event)
		})
	}
	s.Subscribe("ticket-42")

	require.NoError(t, s.Connect(context.Background()))
	waitForState(t, s, StateConnected)

	// Kill the transport out from under the session.
	dialer.conn(0).Close()

	want := []string{"connecting", "connected", "reconnecting", "connected"}
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, states.snapshot())
	}, 2*time.Second, 5*time.Millisecond, "state transitions: %v", states.snapshot())

	assert.Equal(t, 2, dialer.dialCount())
	assert.Equal(t, []string{"ticket-42"}, dialer.conn(1).sentJoins(), "subscription replayed on the new transport")
}

func TestSession_CloseIsCleanDisconnect(t *testing.T) {
	dialer := &fakeDialer{autoPong: true}
	s := NewSession("7", "agent_1", Options{Dialer: dialer, BaseDelay: time.Millisecond})

	s.Subscribe("ticket-42")
	require.NoError(t, s.Connect(context.Background()))
	waitForState(t, s, StateConnected)

	require.NoError(t, s.Close())
	assert.Equal(t, StateDisconnected, s.State())

	// No reconnect attempts after an application-level close.
	dials := dialer.dialCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, dials, dialer.dialCount())

	// The target set survives for a later Connect.
	assert.Equal(t, []string{"ticket-42"}, s.Subscriptions())
	require.NoError(t, s.Connect(context.Background()))
	waitForState(t, s, StateConnected)
	require.NoError(t, s.Close())
}

func TestSession_SubscribeWhileConnectedJoinsImmediately(t *testing.T) {
	dialer := &fakeDialer{autoPong: true}
	s := NewSession("7", "agent_1", Options{Dialer: dialer})
	defer s.Close()

	require.NoError(t, s.Connect(context.Background()))
	waitForState(t, s, StateConnected)

	s.Subscribe("status:open")
	s.Subscribe("status:open") // idempotent
	require.Eventually(t, func() bool {
		return len(dialer.conn(0).sentJoins()) > 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"status:open"}, dialer.conn(0).sentJoins())
	assert.Equal(t, []string{"status:open"}, s.Subscriptions())

	s.Unsubscribe("status:open")
	require.Eventually(t, func() bool {
		cmds := dialer.conn(0).sentCommands()
		return cmds[len(cmds)-1].Action == types.ActionLeave
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, s.Subscriptions())

	// Unsubscribing a room that was never subscribed writes nothing.
	before := len(dialer.conn(0).sentCommands())
	s.Unsubscribe("status:closed")
	assert.Len(t, dialer.conn(0).sentCommands(), before)
}

func TestSession_DispatchesEnvelopesToListeners(t *testing.T) {
	dialer := &fakeDialer{autoPong: true}
	s := NewSession("7", "agent_1", Options{Dialer: dialer})
	defer s.Close()

	got := make(chan types.TicketUpdate, 1)
	s.On(types.EventTicketUpdate, func(_ string, payload json.RawMessage) {
		var update types.TicketUpdate
		if err := json.Unmarshal(payload, &update); err == nil {
			got <- update
		}
	})

	require.NoError(t, s.Connect(context.Background()))
	waitForState(t, s, StateConnected)

	env, err := types.Wrap(types.TicketUpdate{TicketID: "42", Status: "open"}, time.Now())
	require.NoError(t, err)
	frame, err := json.Marshal(env)
	require.NoError(t, err)
	dialer.conn(0).push(frame)

	select {
	case update := <-got:
		assert.Equal(t, "42", update.TicketID)
		assert.Equal(t, "open", update.Status)
	case <-time.After(time.Second):
		t.Fatal("envelope never reached the listener")
	}
}

func TestSession_ListenerRemoval(t *testing.T) {
	s := NewSession("7", "agent_1", Options{Dialer: &fakeDialer{}})

	var a, b, c int
	idA := s.On("ticket:update", func(string, json.RawMessage) { a++ })
	s.On("ticket:update", func(string, json.RawMessage) { b++ })
	s.On("notification", func(string, json.RawMessage) { c++ })

	s.emit("ticket:update", nil)
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)

	s.Off("ticket:update", idA)
	s.Off("ticket:update", 9999) // unknown id is a no-op
	s.emit("ticket:update", nil)
	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)

	s.OffEvent("ticket:update")
	s.emit("ticket:update", nil)
	assert.Equal(t, 2, b)

	s.OffAll()
	s.emit("notification", nil)
	assert.Equal(t, 0, c)
}

// An unanswered liveness probe is treated as a transport loss: the
// session drops the connection and dials again.
func TestSession_MissedPongForcesReconnect(t *testing.T) {
	dialer := &fakeDialer{} // autoPong off: pings go unanswered
	s := NewSession("7", "agent_1", Options{
		Dialer:       dialer,
		BaseDelay:    time.Millisecond,
		PingInterval: 10 * time.Millisecond,
		PongWait:     5 * time.Millisecond,
	})
	defer s.Close()

	require.NoError(t, s.Connect(context.Background()))
	require.Eventually(t, func() bool {
		return dialer.dialCount() >= 2
	}, 2*time.Second, 5*time.Millisecond, "missed pong should trigger a redial")
}

func TestSession_AnsweredPongsKeepConnectionAlive(t *testing.T) {
	dialer := &fakeDialer{autoPong: true}
	s := NewSession("7", "agent_1", Options{
		Dialer:       dialer,
		PingInterval: 5 * time.Millisecond,
		PongWait:     25 * time.Millisecond,
	})
	defer s.Close()

	require.NoError(t, s.Connect(context.Background()))
	waitForState(t, s, StateConnected)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, 1, dialer.dialCount())
}
