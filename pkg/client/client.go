// Package client implements the consuming side of the realtime core:
// one logical session per tenant+user that establishes a connection,
// monitors liveness, and reconnects with exponential backoff, replaying
// its subscriptions after every successful reconnect.
package client

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"tether/pkg/types"
)

// State is the connectivity state of a session.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// Handler receives dispatched events. For state-transition events the
// payload is nil and the event name is the new state.
type Handler func(event string, payload json.RawMessage)

// Options tunes a session. Zero values get sensible defaults.
type Options struct {
	Dialer Dialer

	// BaseDelay seeds the reconnect backoff: attempt n waits
	// BaseDelay*2^n. No jitter, so tests and operators can predict the
	// schedule.
	BaseDelay time.Duration
	// MaxAttempts bounds consecutive failed reconnects before the
	// session goes terminally Failed.
	MaxAttempts int

	PingInterval time.Duration
	PongWait     time.Duration

	// OnBackoff observes each scheduled reconnect delay.
	OnBackoff func(attempt int, delay time.Duration)
}

func (o *Options) withDefaults() {
	if o.BaseDelay <= 0 {
		o.BaseDelay = 500 * time.Millisecond
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 10 * time.Second
	}
}

// Session is one logical realtime identity (tenant+user). It persists
// across reconnects; the target subscription set, not the transport, is
// the source of truth for room membership.
type Session struct {
	namespace string
	userID    string
	opts      Options

	mu        sync.Mutex
	state     State
	conn      Conn
	subs      map[string]struct{}
	listeners map[string]map[int]Handler
	nextID    int
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewSession creates a session in the Disconnected state. The caller
// owns it and passes it by handle wherever connectivity matters; there
// is deliberately no package-level singleton.
func NewSession(namespace, userID string, opts Options) *Session {
	opts.withDefaults()
	return &Session{
		namespace: namespace,
		userID:    userID,
		opts:      opts,
		state:     StateDisconnected,
		subs:      make(map[string]struct{}),
		listeners: make(map[string]map[int]Handler),
	}
}

// State returns the current connectivity state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// On registers a listener for an event name (data events or state
// names) and returns its id for removal.
func (s *Session) On(event string, fn Handler) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listeners[event] == nil {
		s.listeners[event] = make(map[int]Handler)
	}
	s.nextID++
	s.listeners[event][s.nextID] = fn
	return s.nextID
}

// Off removes one listener. Removing an unknown id is a no-op.
func (s *Session) Off(event string, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if handlers, ok := s.listeners[event]; ok {
		delete(handlers, id)
		if len(handlers) == 0 {
			delete(s.listeners, event)
		}
	}
}

// OffEvent removes every listener for an event name.
func (s *Session) OffEvent(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, event)
}

// OffAll removes every listener.
func (s *Session) OffAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = make(map[string]map[int]Handler)
}

// Subscribe adds a room to the target set. When connected the join is
// sent immediately; either way the room is replayed on every future
// reconnect. Subscribing twice is the same as subscribing once.
func (s *Session) Subscribe(room string) {
	s.mu.Lock()
	s.subs[room] = struct{}{}
	conn := s.conn
	connected := s.state == StateConnected
	s.mu.Unlock()

	if connected && conn != nil {
		if err := conn.WriteCommand(types.Command{Action: types.ActionJoin, Room: room}); err != nil {
			log.Printf("Join send failed, will replay on reconnect: room=%s err=%v", room, err)
		}
	}
}

// Unsubscribe removes a room from the target set. Unsubscribing from a
// non-subscribed room is a no-op.
func (s *Session) Unsubscribe(room string) {
	s.mu.Lock()
	_, had := s.subs[room]
	delete(s.subs, room)
	conn := s.conn
	connected := s.state == StateConnected
	s.mu.Unlock()

	if had && connected && conn != nil {
		if err := conn.WriteCommand(types.Command{Action: types.ActionLeave, Room: room}); err != nil {
			log.Printf("Leave send failed: room=%s err=%v", room, err)
		}
	}
}

// Subscriptions returns the target subscription set.
func (s *Session) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms := make([]string, 0, len(s.subs))
	for room := range s.subs {
		rooms = append(rooms, room)
	}
	return rooms
}

// Connect starts the state machine. Valid from Disconnected and from
// Failed; a Failed session leaves that state only through this explicit
// call. Returns ErrAlreadyStarted while the machine is running.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateConnecting, StateConnected, StateReconnecting:
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.setState(StateConnecting)

	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

// Close is the explicit application-level disconnect. The machine
// stops, the transport closes, and the session lands in Disconnected;
// target subscriptions and listeners survive for a later Connect.
func (s *Session) Close() error {
	s.mu.Lock()
	cancelFn := s.cancel
	s.cancel = nil
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if cancelFn == nil {
		return nil
	}
	cancelFn()
	if conn != nil {
		_ = conn.Close()
	}
	s.wg.Wait()

	s.setState(StateDisconnected)
	return nil
}

// run drives the connect/reconnect loop until the context is cancelled
// or the attempt budget is spent.
func (s *Session) run(ctx context.Context) {
	defer s.wg.Done()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.opts.BaseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = s.opts.BaseDelay << 30
	bo.MaxElapsedTime = 0
	bo.Reset()

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.opts.Dialer.Dial(ctx)
		if err == nil {
			err = s.replaySubscriptions(conn)
			if err != nil {
				_ = conn.Close()
			}
		}

		if err != nil {
			attempt++
			if attempt >= s.opts.MaxAttempts {
				log.Printf("Reconnect attempts exhausted: namespace=%s user=%s attempts=%d",
					s.namespace, s.userID, attempt)
				s.setState(StateFailed)
				return
			}

			delay := bo.NextBackOff()
			if s.opts.OnBackoff != nil {
				s.opts.OnBackoff(attempt, delay)
			}

			s.setState(StateReconnecting)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			continue
		}

		// Subscriptions are replayed, the session is fully recovered.
		attempt = 0
		bo.Reset()

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.setState(StateConnected)

		readErr := s.readLoop(ctx, conn)

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		log.Printf("Transport lost, reconnecting: namespace=%s user=%s err=%v", s.namespace, s.userID, readErr)
		s.setState(StateReconnecting)
	}
}

// replaySubscriptions re-joins every target room. This runs strictly
// before the Connected transition so application code never
// distinguishes a first connect from a recovered one.
func (s *Session) replaySubscriptions(conn Conn) error {
	for _, room := range s.Subscriptions() {
		if err := conn.WriteCommand(types.Command{Action: types.ActionJoin, Room: room}); err != nil {
			return err
		}
	}
	return nil
}

// readLoop pumps inbound frames and runs the liveness probe. It returns
// when the transport dies; a missed pong is treated identically to a
// transport-reported disconnect.
func (s *Session) readLoop(ctx context.Context, conn Conn) error {
	done := make(chan struct{})
	defer close(done)
	pong := make(chan struct{}, 1)

	go func() {
		ticker := time.NewTicker(s.opts.PingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := conn.WriteCommand(types.Command{Action: types.ActionPing}); err != nil {
					_ = conn.Close()
					return
				}
				select {
				case <-pong:
				case <-time.After(s.opts.PongWait):
					log.Printf("Liveness probe unanswered, dropping transport: namespace=%s user=%s", s.namespace, s.userID)
					_ = conn.Close()
					return
				case <-done:
					return
				}
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			}
		}
	}()

	for {
		data, err := conn.Read()
		if err != nil {
			return err
		}
		s.handleFrame(data, pong)
	}
}

// handleFrame routes one inbound frame: pong replies feed the liveness
// probe, everything else is an event envelope for the listeners.
func (s *Session) handleFrame(data []byte, pong chan struct{}) {
	var probe struct {
		Action string `json:"action"`
		Event  string `json:"event"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		log.Printf("Dropping malformed frame: err=%v", err)
		return
	}

	if probe.Action == types.ActionPong {
		select {
		case pong <- struct{}{}:
		default:
		}
		return
	}

	if probe.Event == "" {
		return
	}
	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("Dropping malformed envelope: err=%v", err)
		return
	}
	s.emit(env.Event, env.Payload)
}

// setState applies a transition and reports it. Callbacks run outside
// the session lock.
func (s *Session) setState(next State) {
	s.mu.Lock()
	if s.state == next {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.mu.Unlock()

	s.emit(string(next), nil)
}

func (s *Session) emit(event string, payload json.RawMessage) {
	s.mu.Lock()
	handlers := make([]Handler, 0, len(s.listeners[event]))
	for _, fn := range s.listeners[event] {
		handlers = append(handlers, fn)
	}
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(event, payload)
	}
}
