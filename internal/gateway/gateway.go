package gateway

import (
	"context"
	"log"
	"sync"
	"time"

	"tether/internal/metrics"
	"tether/pkg/types"
)

// Gateway is the process-wide event publisher. Business modules hold it
// through the types.Publisher interface and never touch the registry
// directly. It owns the reaper lifecycle so background sweeps start and
// stop with the rest of the system.
type Gateway struct {
	registry *Registry
	reaper   *Reaper
	now      func() time.Time

	mu      sync.RWMutex
	running bool
}

var _ types.Publisher = (*Gateway)(nil)

// NewGateway wires the publisher over a registry. The reaper may be nil
// in tests that sweep manually.
func NewGateway(registry *Registry, reaper *Reaper) *Gateway {
	return &Gateway{
		registry: registry,
		reaper:   reaper,
		now:      time.Now,
	}
}

// Start brings up the background reaper.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return ErrGatewayAlreadyRunning
	}
	g.running = true

	log.Println("Starting namespace gateway...")

	if g.reaper != nil {
		g.reaper.Start(ctx)
	}
	return nil
}

// Stop halts the reaper. Live connections stay up; shutdown of the
// listening socket is the HTTP server's concern.
func (g *Gateway) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.running {
		return ErrGatewayNotRunning
	}
	g.running = false

	log.Println("Stopping namespace gateway...")

	if g.reaper != nil {
		g.reaper.Stop()
	}
	return nil
}

// EmitToNamespace delivers an event to every live connection in the
// namespace. Payloads are validated here, at the publish boundary;
// delivery itself is best-effort and per-connection failures are logged
// without failing the emit. A payload addressed to one namespace can
// never reach another: recipients come from the namespace-keyed
// registry and nowhere else.
func (g *Gateway) EmitToNamespace(namespace string, ev types.Event) error {
	if !types.IsValidNamespace(namespace) {
		return ErrInvalidNamespace
	}
	env, err := types.Wrap(ev, g.now())
	if err != nil {
		return err
	}

	g.deliver(g.registry.Connections(namespace), env)
	return nil
}

// EmitToRoom delivers an event only to namespace connections that have
// joined the room.
func (g *Gateway) EmitToRoom(namespace, room string, ev types.Event) error {
	if !types.IsValidNamespace(namespace) {
		return ErrInvalidNamespace
	}
	if !types.IsValidRoom(room) {
		return ErrInvalidRoom
	}
	env, err := types.Wrap(ev, g.now())
	if err != nil {
		return err
	}

	g.deliver(g.registry.RoomConnections(namespace, room), env)
	return nil
}

func (g *Gateway) deliver(conns []*Connection, env *types.Envelope) {
	for _, conn := range conns {
		if err := conn.WriteEnvelope(env); err != nil {
			log.Printf("Event delivery failed: event=%s conn=%s user=%s err=%v",
				env.Event, conn.ID(), conn.UserID(), err)
		}
	}
	metrics.EventsEmitted.WithLabelValues(env.Event).Inc()
}
