package rbac

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/jwalitptl/admin-rbac/internal/permission"
)

// Cache stores resolved permission sets per user.
//
// Every invalidation advances an epoch. The engine reads the epoch before
// it queries the store and writes the result back with SetIfEpoch, which
// refuses the write if any invalidation happened in between. A revoke that
// commits while a resolution is in flight therefore cannot be overwritten
// by the stale set.
type Cache interface {
	Get(ctx context.Context, userID uuid.UUID) (permission.Set, bool, error)
	Epoch(ctx context.Context) (uint64, error)
	SetIfEpoch(ctx context.Context, userID uuid.UUID, perms permission.Set, epoch uint64) (bool, error)
	InvalidateUser(ctx context.Context, userID uuid.UUID) error
	InvalidateAll(ctx context.Context) error
}

// NoCache resolves every request against the store.
type NoCache struct{}

func (NoCache) Get(context.Context, uuid.UUID) (permission.Set, bool, error) { return nil, false, nil }
func (NoCache) Epoch(context.Context) (uint64, error)                        { return 0, nil }
func (NoCache) SetIfEpoch(context.Context, uuid.UUID, permission.Set, uint64) (bool, error) {
	return false, nil
}
func (NoCache) InvalidateUser(context.Context, uuid.UUID) error { return nil }
func (NoCache) InvalidateAll(context.Context) error             { return nil }

// MemoryCache is a process-local cache on top of go-cache. Use it only when
// a single process serves all writes, otherwise invalidations from other
// instances are never seen.
type MemoryCache struct {
	mu    sync.Mutex
	epoch uint64
	items *gocache.Cache
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{items: gocache.New(ttl, 2*ttl)}
}

func (c *MemoryCache) Get(_ context.Context, userID uuid.UUID) (permission.Set, bool, error) {
	v, ok := c.items.Get(userID.String())
	if !ok {
		return nil, false, nil
	}
	return v.(permission.Set).Clone(), true, nil
}

func (c *MemoryCache) Epoch(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch, nil
}

func (c *MemoryCache) SetIfEpoch(_ context.Context, userID uuid.UUID, perms permission.Set, epoch uint64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return false, nil
	}
	c.items.SetDefault(userID.String(), perms.Clone())
	return true, nil
}

func (c *MemoryCache) InvalidateUser(_ context.Context, userID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.items.Delete(userID.String())
	return nil
}

func (c *MemoryCache) InvalidateAll(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.items.Flush()
	return nil
}
