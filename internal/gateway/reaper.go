package gateway

import (
	"context"
	"log"
	"sync"
	"time"

	"tether/internal/metrics"
)

// Reaper periodically force-closes connections that have gone idle past
// the cutoff. It is the backstop for half-open transports whose close
// notification never arrived: once their connections are reaped, the
// registry's namespace set converges back to the live-connection truth.
type Reaper struct {
	registry       *Registry
	period         time.Duration
	idleMultiplier int
	now            func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// ReaperOption configures a Reaper at construction.
type ReaperOption func(*Reaper)

// WithReaperClock replaces the wall clock for deterministic sweeps in
// tests.
func WithReaperClock(now func() time.Time) ReaperOption {
	return func(r *Reaper) {
		r.now = now
	}
}

// NewReaper builds a reaper that sweeps every period and closes
// connections idle for longer than period*idleMultiplier.
func NewReaper(registry *Registry, period time.Duration, idleMultiplier int, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		registry:       registry,
		period:         period,
		idleMultiplier: idleMultiplier,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the sweep loop. The loop is owned: it stops when Stop
// is called or the context is cancelled.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}
	r.running = true

	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.run(ctx)
}

// Stop halts the sweep loop and waits for it to exit.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
}

func (r *Reaper) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Sweep closes every connection idle past the cutoff and removes it
// from the registry. Exposed so tests can drive a virtual clock instead
// of waiting on the ticker. Returns the number of connections reaped.
func (r *Reaper) Sweep() int {
	cutoff := time.Duration(r.idleMultiplier) * r.period
	now := r.now()

	reaped := 0
	for _, conn := range r.registry.AllConnections() {
		idle := now.Sub(conn.LastActivity())
		if idle <= cutoff {
			continue
		}

		log.Printf("Reaping stale connection: conn=%s user=%s namespace=%s idle=%s",
			conn.ID(), conn.UserID(), conn.Namespace(), idle)
		r.registry.Unregister(conn)
		if err := conn.Close(); err != nil {
			log.Printf("Failed to close reaped connection: conn=%s err=%v", conn.ID(), err)
		}
		reaped++
	}

	if reaped > 0 {
		metrics.ReapedConnections.Add(float64(reaped))
	}
	return reaped
}
