// Package registry provides the process-wide session registry.
package registry

import (
	"context"
	"sync"

	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/osahiro/groovebox/internal/app/admit"
	"github.com/osahiro/groovebox/internal/app/session"
)

// TransportFactory builds an audio transport bound to one guild.
type TransportFactory func(guildID string) session.Transport

// Registry maps guild identity to its playback session. Entries are
// created on first use and removed when the session destroys itself.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session

	cfg          session.Config
	resolver     session.Resolver
	newTransport TransportFactory
	admission    *admit.Chain
}

// New creates a registry.
func New(cfg session.Config, resolver session.Resolver, newTransport TransportFactory, admission *admit.Chain) *Registry {
	return &Registry{
		sessions:     make(map[string]*session.Session),
		cfg:          cfg,
		resolver:     resolver,
		newTransport: newTransport,
		admission:    admission,
	}
}

// GetOrCreate returns the guild's session, creating and starting one
// if none exists. Created reports whether this call built the session,
// so the caller can attach its event consumer exactly once. The
// session removes itself from the registry on destruction.
func (r *Registry) GetOrCreate(guildID, textChannelID string) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[guildID]; ok && s.State() != session.StateDestroyed {
		return s, false
	}

	// The destroy hook can fire long after a replacement session has
	// taken the slot: a session reports Destroyed before its teardown
	// finishes disconnecting the transport, and a command arriving in
	// that window creates the replacement. The hook must therefore
	// remove only its own entry, never whatever currently holds the
	// slot.
	var s *session.Session
	s = session.New(guildID, textChannelID, r.cfg, r.resolver, r.newTransport(guildID), r.admission, func() {
		r.removeOwn(guildID, s)
	})
	r.sessions[guildID] = s
	zlog.Info().Msgf("registry: session created: guild=%s sessions=%d", guildID, len(r.sessions))
	return s, true
}

// removeOwn drops the guild's entry only while it still belongs to s.
// Reading s is synchronized by r.mu: GetOrCreate holds the lock until
// after the assignment.
func (r *Registry) removeOwn(guildID string, s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[guildID] == s {
		delete(r.sessions, guildID)
		zlog.Info().Msgf("registry: session removed: guild=%s sessions=%d", guildID, len(r.sessions))
	}
}

// Get returns the guild's session, if one exists.
func (r *Registry) Get(guildID string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[guildID]
	return s, ok
}

// Remove drops the guild's session from the registry. The session
// itself is not stopped; destruction drives removal, not vice versa.
func (r *Registry) Remove(guildID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[guildID]; ok {
		delete(r.sessions, guildID)
		zlog.Info().Msgf("registry: session removed: guild=%s sessions=%d", guildID, len(r.sessions))
	}
}

// All returns all registered sessions.
func (r *Registry) All() []*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		result = append(result, s)
	}
	return result
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown destroys every session in parallel and waits for their
// loops to exit, or for ctx to expire.
func (r *Registry) Shutdown(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range r.All() {
		g.Go(func() error {
			if err := s.Destroy(); err != nil {
				zlog.Warn().Msgf("registry: destroy failed: guild=%s err=%v", s.GuildID(), err)
			}
			select {
			case <-s.Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	if err := g.Wait(); err != nil {
		zlog.Warn().Msgf("registry: shutdown incomplete: err=%v", err)
	}
}
