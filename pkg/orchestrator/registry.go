package orchestrator

import (
	"fmt"
	"sort"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultSessionTTL is how long finished sessions stay queryable.
const DefaultSessionTTL = time.Hour

// Registry indexes live and recently finished sessions by ID.
type Registry struct {
	cache *cache.Cache
}

// NewRegistry returns a registry whose entries expire after ttl. Expired entries are dropped on
// access; no janitor goroutine is started.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Registry{cache: cache.New(ttl, 0)}
}

// Put registers s, replacing any session with the same ID.
func (r *Registry) Put(s *Session) {
	r.cache.Set(s.ID, s, cache.DefaultExpiration)
}

// Get returns the session with id.
func (r *Registry) Get(id string) (*Session, error) {
	if x, found := r.cache.Get(id); found {
		if s, ok := x.(*Session); ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
}

// Delete forgets a session.
func (r *Registry) Delete(id string) {
	r.cache.Delete(id)
}

// List returns every unexpired session, oldest first.
func (r *Registry) List() []*Session {
	items := r.cache.Items()
	out := make([]*Session, 0, len(items))
	for _, item := range items {
		if s, ok := item.Object.(*Session); ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Len counts registered sessions, including expired ones not yet dropped.
func (r *Registry) Len() int {
	return r.cache.ItemCount()
}
