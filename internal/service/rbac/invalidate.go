package rbac

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	invalidateAttempts = 3
	invalidateBackoff  = 20 * time.Millisecond
)

// Invalidator drops cached permission sets after an assignment or role
// change. Engine implements it; Cache does too, without the failure
// handling.
type Invalidator interface {
	InvalidateUser(ctx context.Context, userID uuid.UUID) error
	InvalidateAll(ctx context.Context) error
}

var (
	_ Invalidator = (*Engine)(nil)
	_ Invalidator = Cache(nil)
)

// staleSet tracks users whose cached entry could not be dropped. While a
// user is listed the engine neither reads nor writes their cache entry, and
// every resolution retries the invalidation first.
type staleSet struct {
	mu    sync.Mutex
	all   bool
	users map[uuid.UUID]struct{}
}

func newStaleSet() *staleSet {
	return &staleSet{users: make(map[uuid.UUID]struct{})}
}

func (s *staleSet) markUser(userID uuid.UUID) {
	s.mu.Lock()
	s.users[userID] = struct{}{}
	s.mu.Unlock()
}

func (s *staleSet) markAll() {
	s.mu.Lock()
	s.all = true
	s.mu.Unlock()
}

func (s *staleSet) clearUser(userID uuid.UUID) {
	s.mu.Lock()
	delete(s.users, userID)
	s.mu.Unlock()
}

func (s *staleSet) clearAll() {
	s.mu.Lock()
	s.all = false
	s.users = make(map[uuid.UUID]struct{})
	s.mu.Unlock()
}

// state reports whether every entry is stale and whether userID is.
func (s *staleSet) state(userID uuid.UUID) (all, user bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, user = s.users[userID]
	return s.all, user
}

// InvalidateUser drops the user's cached set, retrying briefly. If the cache
// stays unreachable the user is served from the store until a later
// invalidation succeeds, and the error is returned for logging.
func (e *Engine) InvalidateUser(ctx context.Context, userID uuid.UUID) error {
	err := retryInvalidate(ctx, func() error { return e.cache.InvalidateUser(ctx, userID) })
	if err != nil {
		e.stale.markUser(userID)
		return err
	}
	e.stale.clearUser(userID)
	return nil
}

// InvalidateAll drops every cached set. On failure the whole cache is
// bypassed until a later flush succeeds.
func (e *Engine) InvalidateAll(ctx context.Context) error {
	err := retryInvalidate(ctx, func() error { return e.cache.InvalidateAll(ctx) })
	if err != nil {
		e.stale.markAll()
		return err
	}
	e.stale.clearAll()
	return nil
}

// cacheUsable reports whether the user's cache entry may be trusted. A
// stale entry is repaired first; the mark is cleared only after the cache
// confirmed the drop, which also advances its epoch.
func (e *Engine) cacheUsable(ctx context.Context, userID uuid.UUID) bool {
	all, user := e.stale.state(userID)
	if all {
		if err := e.cache.InvalidateAll(ctx); err != nil {
			return false
		}
		e.stale.clearAll()
		return true
	}
	if user {
		if err := e.cache.InvalidateUser(ctx, userID); err != nil {
			return false
		}
		e.stale.clearUser(userID)
	}
	return true
}

func (e *Engine) isStale(userID uuid.UUID) bool {
	all, user := e.stale.state(userID)
	return all || user
}

func retryInvalidate(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= invalidateAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == invalidateAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt) * invalidateBackoff):
		}
	}
	return err
}
