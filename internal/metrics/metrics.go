package metrics

import (
	"fmt"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connection metrics
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tether_connections_active",
		Help: "The current number of active realtime connections.",
	})
	TotalConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tether_connections_total",
		Help: "The total number of realtime connections accepted.",
	})
	ReapedConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tether_connections_reaped_total",
		Help: "The total number of stale connections closed by the reaper.",
	})

	// Event metrics
	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tether_events_emitted_total",
		Help: "The total number of events fanned out, by event name.",
	}, []string{"event"})
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tether_events_dropped_total",
		Help: "The total number of inbound events dropped during validation or lookup.",
	})

	// Cache metrics
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tether_cache_hits_total",
		Help: "The total number of cache hits, by bucket.",
	}, []string{"bucket"})
	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tether_cache_misses_total",
		Help: "The total number of cache misses, by bucket.",
	}, []string{"bucket"})
)

// StartServer starts the HTTP server for Prometheus metrics.
func StartServer(port int, path string) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	log.Printf("Starting metrics server on %s%s", addr, path)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("Metrics server stopped: %v", err)
		}
	}()
}
