package app

import (
	"slices"
	"sync"

	"github.com/dkeye/chatcall/internal/core"
	"github.com/dkeye/chatcall/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry maps each identity to its single live connection.
// A newer connection for the same identity replaces the older one.
type Registry struct {
	mu       sync.RWMutex
	conns    map[domain.Identity]core.Connection
	revision uint64
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[domain.Identity]core.Connection),
	}
}

// Register installs conn for its identity. The replaced connection, if any,
// is not closed. It reports whether the set of identities changed.
func (r *Registry) Register(conn core.Connection) bool {
	id := conn.Identity()
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, replaced := r.conns[id]
	r.conns[id] = conn
	if replaced {
		log.Info().Str("module", "app.registry").Str("identity", id.String()).
			Str("conn", conn.ID()).Str("stale_conn", prev.ID()).Msg("replaced connection")
		return false
	}
	r.revision++
	log.Info().Str("module", "app.registry").Str("identity", id.String()).Str("conn", conn.ID()).Msg("registered")
	return true
}

func (r *Registry) Lookup(id domain.Identity) (core.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Unregister removes the mapping only while it still points at conn, so a
// late disconnect of a replaced connection never evicts its successor.
func (r *Registry) Unregister(conn core.Connection) bool {
	id := conn.Identity()
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.conns[id]
	if !ok || cur != conn {
		log.Debug().Str("module", "app.registry").Str("identity", id.String()).Str("conn", conn.ID()).Msg("stale unregister ignored")
		return false
	}
	delete(r.conns, id)
	r.revision++
	log.Info().Str("module", "app.registry").Str("identity", id.String()).Str("conn", conn.ID()).Msg("unregistered")
	return true
}

func (r *Registry) Snapshot() core.Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() core.Presence {
	users := make([]domain.Identity, 0, len(r.conns))
	for id := range r.conns {
		users = append(users, id)
	}
	slices.Sort(users)
	return core.Presence{Users: users, Revision: r.revision}
}

// Connections returns the presence snapshot together with the connections
// it was taken from.
func (r *Registry) Connections() (core.Presence, []core.Connection) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return r.snapshotLocked(), out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
