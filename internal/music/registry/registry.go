// Package registry is the process-wide table of live playback sessions,
// at most one per guild. It is created empty at startup and passed
// explicitly to everything that needs guild lookup.
package registry

import (
	"sync"

	"github.com/rs/zerolog"

	"groovekeeper/internal/music/session"
)

// Factory builds a session for a guild. onEnd must be invoked exactly once
// when the session terminates so the registry entry is released.
type Factory func(guildID string, onEnd func(guildID string)) *session.Session

// Registry maps guild ids to live sessions.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	factory  Factory
	log      zerolog.Logger
}

func New(factory Factory, log zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*session.Session),
		factory:  factory,
		log:      log.With().Str("component", "registry").Logger(),
	}
}

// GetOrCreate returns the guild's session, creating it if absent. This is
// the sole creation path and is atomic: concurrent callers for the same
// guild get the same session.
func (r *Registry) GetOrCreate(guildID string) *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[guildID]; ok {
		return s
	}

	s := r.factory(guildID, r.Remove)
	r.sessions[guildID] = s
	r.log.Debug().Str("guild", guildID).Msg("session created")
	return s
}

// Get returns the guild's session if one is live.
func (r *Registry) Get(guildID string) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[guildID]
	return s, ok
}

// Remove drops the guild's entry. Idempotent; removing an absent entry is
// a no-op.
func (r *Registry) Remove(guildID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[guildID]; ok {
		delete(r.sessions, guildID)
		r.log.Debug().Str("guild", guildID).Msg("session removed")
	}
}

// Snapshot returns a copy of the current guild -> session table.
func (r *Registry) Snapshot() map[string]*session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*session.Session, len(r.sessions))
	for gid, s := range r.sessions {
		out[gid] = s
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
