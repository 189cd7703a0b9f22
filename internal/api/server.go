package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"tether/internal/cache"
	"tether/internal/gateway"
)

// ConnectionAdmin is the slice of the registry the API needs for
// operational visibility.
type ConnectionAdmin interface {
	Stats() gateway.ConnectionStats
	CleanupNamespace(namespace string) int
}

// CacheAdmin is the slice of the cache coordinator exposed to
// maintenance paths.
type CacheAdmin interface {
	Stats() map[string]cache.BucketStats
	FlushAll()
}

// Server exposes the administrative HTTP surface: health, stats, cache
// flush, namespace cleanup. No business logic lives here, only HTTP
// handling and JSON serialization.
type Server struct {
	connections ConnectionAdmin
	cacheAdmin  CacheAdmin
	router      *http.ServeMux
}

// NewServer wires the admin routes.
func NewServer(connections ConnectionAdmin, cacheAdmin CacheAdmin) *Server {
	s := &Server{
		connections: connections,
		cacheAdmin:  cacheAdmin,
		router:      http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/stats", s.jsonMiddleware(http.HandlerFunc(s.handleStats)))
	s.router.Handle("/api/cache/flush", s.jsonMiddleware(http.HandlerFunc(s.handleCacheFlush)))
	s.router.Handle("/api/namespaces/", s.jsonMiddleware(http.HandlerFunc(s.handleNamespace)))
	s.router.Handle("/health", s.jsonMiddleware(http.HandlerFunc(s.healthCheck)))
}

// ServeHTTP implements http.Handler for integration with the main HTTP
// server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// handleStats reports connection and cache statistics. Reading stats
// never perturbs hit/miss counters.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"connections": s.connections.Stats(),
		"cache":       s.cacheAdmin.Stats(),
		"timestamp":   time.Now(),
	})
}

// handleCacheFlush clears every bucket. Maintenance use only.
func (s *Server) handleCacheFlush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.cacheAdmin.FlushAll()
	log.Printf("Cache flush requested via admin API: remote=%s", r.RemoteAddr)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

// handleNamespace serves POST /api/namespaces/{id}/cleanup.
func (s *Server) handleNamespace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/namespaces/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "cleanup" {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	namespace := parts[0]

	closed := s.connections.CleanupNamespace(namespace)
	log.Printf("Namespace cleanup requested via admin API: namespace=%s closed=%d remote=%s",
		namespace, closed, r.RemoteAddr)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"namespace": namespace,
		"closed":    closed,
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode API response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
