// Package session keeps one subscription coordinator per signed-in user, tied
// to that user's current session.
package session

import (
	"context"
	"fmt"
	"sync"

	"partylog/internal/app/coordinator"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/heroiclabs/nakama-common/runtime"
)

const DefaultMaxSessions = 4096

// Factory builds an unstarted coordinator for a session.
type Factory func(s coordinator.Session) *coordinator.Coordinator

// Registry maps user IDs to coordinators. The least recently used entry is
// closed when the registry is full.
type Registry struct {
	mu      sync.Mutex
	cache   *lru.Cache[string, *coordinator.Coordinator]
	factory Factory
	logger  runtime.Logger
}

// NewRegistry creates a registry holding at most size coordinators.
func NewRegistry(size int, factory Factory, logger runtime.Logger) (*Registry, error) {
	if size <= 0 {
		size = DefaultMaxSessions
	}
	cache, err := lru.NewWithEvict[string, *coordinator.Coordinator](size, func(userID string, c *coordinator.Coordinator) {
		c.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}
	return &Registry{cache: cache, factory: factory, logger: logger}, nil
}

// Acquire returns the coordinator for s.UserID, creating and starting one if
// needed. A different non-empty session ID means the user re-authenticated:
// the old coordinator is closed and replaced. A start failure is returned
// together with the coordinator, which stays usable.
func (r *Registry) Acquire(ctx context.Context, s coordinator.Session) (*coordinator.Coordinator, error) {
	r.mu.Lock()
	if c, ok := r.cache.Get(s.UserID); ok {
		if !c.Closed() && sameSession(c.Session(), s) {
			r.mu.Unlock()
			return c, nil
		}
		r.logger.Info("Replacing subscription coordinator for user %s (session %s -> %s)", s.UserID, c.Session().SessionID, s.SessionID)
		r.cache.Remove(s.UserID)
	}
	c := r.factory(s)
	r.cache.Add(s.UserID, c)
	r.mu.Unlock()

	if err := c.Start(ctx); err != nil {
		r.logger.Warn("Subscription coordinator for user %s started with errors: %v", s.UserID, err)
		return c, err
	}
	return c, nil
}

// Get returns the live coordinator for userID.
func (r *Registry) Get(userID string) (*coordinator.Coordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cache.Get(userID)
	if !ok || c.Closed() {
		return nil, false
	}
	return c, true
}

// Release closes the user's coordinator. A non-empty sessionID only releases
// a coordinator bound to that session, so a late end event from a replaced
// session leaves the new one alone.
func (r *Registry) Release(userID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cache.Peek(userID)
	if !ok {
		return false
	}
	if sessionID != "" && c.Session().SessionID != "" && c.Session().SessionID != sessionID {
		return false
	}
	return r.cache.Remove(userID)
}

func (r *Registry) Len() int {
	return r.cache.Len()
}

// CloseAll closes every coordinator.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Purge()
}

// sameSession reports whether incoming may reuse held. Callers without a
// session ID reuse anything; a sign-in replaces a resumed coordinator.
func sameSession(held, incoming coordinator.Session) bool {
	return incoming.SessionID == "" || held.SessionID == incoming.SessionID
}
