package gateway

import (
	"log"
	"sync"
)

// ConnectionStats is the operational snapshot returned by Stats.
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	Namespaces       map[string]int `json:"namespaces"`
}

// Registry tracks which connections belong to which tenant namespace.
// A namespace entry exists iff it holds at least one live connection;
// Unregister and CleanupNamespace prune empty entries so the registry
// converges even when transport close notifications are lost and the
// reaper has to step in.
type Registry struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]*Connection // namespace -> connection id -> connection
	byID       map[string]*Connection            // connection id -> connection for O(1) room commands
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		namespaces: make(map[string]map[string]*Connection),
		byID:       make(map[string]*Connection),
	}
}

// Register adds a connection under its namespace, creating the
// namespace entry lazily on first connection. Idempotent per
// connection id.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[conn.ID()]; exists {
		return nil
	}

	ns := conn.Namespace()
	if r.namespaces[ns] == nil {
		r.namespaces[ns] = make(map[string]*Connection)
	}
	r.namespaces[ns][conn.ID()] = conn
	r.byID[conn.ID()] = conn

	return nil
}

// Unregister removes a connection. When the last connection in a
// namespace leaves, the namespace entry goes with it. Idempotent.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, exists := r.byID[conn.ID()]
	if !exists || registered != conn {
		return
	}

	delete(r.byID, conn.ID())

	ns := conn.Namespace()
	if conns, ok := r.namespaces[ns]; ok {
		delete(conns, conn.ID())
		if len(conns) == 0 {
			delete(r.namespaces, ns)
		}
	}
}

// JoinRoom adds the connection to a room. Unknown connection ids and
// repeated joins are no-ops.
func (r *Registry) JoinRoom(connectionID, room string) {
	r.mu.RLock()
	conn, exists := r.byID[connectionID]
	r.mu.RUnlock()

	if exists {
		conn.JoinRoom(room)
	}
}

// LeaveRoom removes the connection from a room. Unknown connection ids
// and non-joined rooms are no-ops.
func (r *Registry) LeaveRoom(connectionID, room string) {
	r.mu.RLock()
	conn, exists := r.byID[connectionID]
	r.mu.RUnlock()

	if exists {
		conn.LeaveRoom(room)
	}
}

// Connections returns every live connection in a namespace.
func (r *Registry) Connections(namespace string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.namespaces[namespace]))
	for _, conn := range r.namespaces[namespace] {
		conns = append(conns, conn)
	}
	return conns
}

// RoomConnections returns the namespace connections that have joined
// the room. Namespace scoping here is what keeps room broadcasts from
// crossing tenant boundaries.
func (r *Registry) RoomConnections(namespace, room string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []*Connection
	for _, conn := range r.namespaces[namespace] {
		if conn.InRoom(room) {
			conns = append(conns, conn)
		}
	}
	return conns
}

// AllConnections returns every registered connection, namespace
// boundaries ignored. Used by the reaper's sweep.
func (r *Registry) AllConnections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.byID))
	for _, conn := range r.byID {
		conns = append(conns, conn)
	}
	return conns
}

// CleanupNamespace force-closes and removes every connection in a
// namespace. Returns the number of connections closed.
func (r *Registry) CleanupNamespace(namespace string) int {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.namespaces[namespace]))
	for _, conn := range r.namespaces[namespace] {
		conns = append(conns, conn)
		delete(r.byID, conn.ID())
	}
	delete(r.namespaces, namespace)
	r.mu.Unlock()

	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			log.Printf("Failed to close connection during namespace cleanup: namespace=%s conn=%s err=%v",
				namespace, conn.ID(), err)
		}
	}
	return len(conns)
}

// Stats reports per-namespace connection counts without exposing the
// internal maps.
func (r *Registry) Stats() ConnectionStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := ConnectionStats{
		TotalConnections: len(r.byID),
		Namespaces:       make(map[string]int, len(r.namespaces)),
	}
	for ns, conns := range r.namespaces {
		stats.Namespaces[ns] = len(conns)
	}
	return stats
}
