package realtime

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Role selects connections in ListByRole
type Role string

const (
	RoleAny   Role = "any"
	RoleAdmin Role = "admin"
)

// Stats is a point-in-time view of the registry
type Stats struct {
	Total      int `json:"total"`
	Identified int `json:"identified"`
	Admins     int `json:"admins"`
	Anonymous  int `json:"anonymous"`
	Users      int `json:"users"` // distinct user ids
}

// Registry is the single source of truth for who is connected and as whom.
// Sockets are served on their own goroutines, so every access goes through mu.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection            // connection ID -> connection
	users map[string]map[string]*Connection // user ID -> connection ID -> connection
	log   zerolog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		conns: make(map[string]*Connection),
		users: make(map[string]map[string]*Connection),
		log:   log,
	}
}

// Add tracks a freshly opened, still anonymous connection
func (r *Registry) Add(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID] = c
	r.log.Debug().Str("client_id", c.ID).Msg("client_added")
}

// Register attaches identity to the connection. Calling it again overwrites the
// previous identity, so a user can re-authenticate without reconnecting.
func (r *Registry) Register(c *Connection, identity Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if previous, ok := c.Identity(); ok {
		r.unindexLocked(previous.UserID, c.ID)
	}
	c.setIdentity(identity)
	r.conns[c.ID] = c

	if identity.UserID != "" {
		byID, ok := r.users[identity.UserID]
		if !ok {
			byID = make(map[string]*Connection)
			r.users[identity.UserID] = byID
		}
		byID[c.ID] = c
	}

	r.log.Info().
		Str("client_id", c.ID).
		Str("user_id", identity.UserID).
		Bool("is_admin", identity.IsAdmin).
		Msg("client_registered")
}

// Unregister removes the connection. Unknown connections are ignored.
func (r *Registry) Unregister(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c.ID]; !ok {
		return
	}
	delete(r.conns, c.ID)
	if identity, ok := c.Identity(); ok {
		r.unindexLocked(identity.UserID, c.ID)
	}
	r.log.Debug().Str("client_id", c.ID).Msg("client_removed")
}

func (r *Registry) unindexLocked(userID, connID string) {
	if userID == "" {
		return
	}
	if byID, ok := r.users[userID]; ok {
		delete(byID, connID)
		if len(byID) == 0 {
			delete(r.users, userID)
		}
	}
}

// ListByRole returns every connection for RoleAny, admins only for RoleAdmin
func (r *Registry) ListByRole(role Role) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		if role == RoleAdmin {
			identity, ok := c.Identity()
			if !ok || !identity.IsAdmin {
				continue
			}
		}
		conns = append(conns, c)
	}
	return conns
}

// FindByUserID returns every open tab of a user
func (r *Registry) FindByUserID(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byID := r.users[userID]
	conns := make([]*Connection, 0, len(byID))
	for _, c := range byID {
		conns = append(conns, c)
	}
	return conns
}

// Get looks a connection up by its ID
func (r *Registry) Get(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	return c, ok
}

// Count returns the number of live connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Stats summarises the registry for the ws-stats endpoint
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{Total: len(r.conns), Users: len(r.users)}
	for _, c := range r.conns {
		identity, ok := c.Identity()
		switch {
		case !ok:
			stats.Anonymous++
		case identity.IsAdmin:
			stats.Identified++
			stats.Admins++
		default:
			stats.Identified++
		}
	}
	return stats
}

// CleanupIdle closes and removes connections silent for longer than timeout
func (r *Registry) CleanupIdle(timeout time.Duration) int {
	if timeout <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	now := time.Now()
	for id, c := range r.conns {
		if now.Sub(c.LastSeenAt()) <= timeout {
			continue
		}
		delete(r.conns, id)
		if identity, ok := c.Identity(); ok {
			r.unindexLocked(identity.UserID, id)
		}
		c.Close()
		removed++
		r.log.Info().Str("client_id", id).Msg("client_idle_removed")
	}
	return removed
}

// StartCleanupRoutine periodically drops idle connections until done is closed
func (r *Registry) StartCleanupRoutine(interval, timeout time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.CleanupIdle(timeout)
		case <-done:
			return
		}
	}
}

// CloseAll closes every connection and empties the registry
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.conns {
		c.Close()
		r.log.Info().Str("client_id", id).Msg("client_connection_closed")
	}
	r.conns = make(map[string]*Connection)
	r.users = make(map[string]map[string]*Connection)
}
