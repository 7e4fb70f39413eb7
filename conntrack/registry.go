// Package conntrack keeps the set of live client connections so that a
// shutting-down server can interrupt them.
package conntrack

import (
	"net"

	"github.com/cyberinferno/upperecho/safemap"
)

// Registry maps connection ids to live connections. It is safe for concurrent
// use: the accept loop tracks and untracks while a shutdown hook may call
// CloseAll from another goroutine.
type Registry struct {
	conns *safemap.SafeMap[uint64, net.Conn]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{conns: safemap.NewSafeMap[uint64, net.Conn]()}
}

// Track records conn under id, replacing any connection already stored there.
func (r *Registry) Track(id uint64, conn net.Conn) {
	r.conns.Store(id, conn)
}

// Untrack forgets the connection stored under id. It does not close it.
func (r *Registry) Untrack(id uint64) {
	r.conns.Delete(id)
}

// Len returns the number of tracked connections. O(n).
func (r *Registry) Len() int {
	return r.conns.Len()
}

// CloseAll closes and forgets every tracked connection and reports how many
// it closed. A connection untracked concurrently is left to its owner. Close
// errors are ignored; the peer may already be gone.
func (r *Registry) CloseAll() int {
	closed := 0
	r.conns.Range(func(id uint64, _ net.Conn) bool {
		if conn, ok := r.conns.LoadAndDelete(id); ok {
			_ = conn.Close()
			closed++
		}
		return true
	})

	return closed
}
