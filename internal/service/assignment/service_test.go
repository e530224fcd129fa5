package assignment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/admin-rbac/internal/model"
	"github.com/jwalitptl/admin-rbac/internal/permission"
	"github.com/jwalitptl/admin-rbac/internal/repository/memory"
	"github.com/jwalitptl/admin-rbac/internal/service/rbac"
	apperrors "github.com/jwalitptl/admin-rbac/pkg/errors"
	"github.com/jwalitptl/admin-rbac/pkg/logger"
	"github.com/jwalitptl/admin-rbac/pkg/metrics"
)

type fixture struct {
	store  *memory.Store
	svc    *Service
	engine *rbac.Engine
	doctor *model.Role
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	cache := rbac.NewMemoryCache(time.Minute)
	doctor := &model.Role{Name: "doctor", Permissions: []permission.Permission{permission.PatientRead, permission.PrescriptionWrite}}
	require.NoError(t, store.Roles().Create(context.Background(), doctor))
	engine := rbac.NewEngine(store.Assignments(), cache, metrics.Nop(), logger.Nop())
	return &fixture{
		store:  store,
		svc:    NewService(store.Assignments(), engine, logger.Nop()),
		engine: engine,
		doctor: doctor,
	}
}

func TestAssignTwiceFailsWithAlreadyAssigned(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	grantor := uuid.New()
	p := uuid.New()

	a, err := f.svc.AssignRole(ctx, p, f.doctor.ID, &grantor)
	require.NoError(t, err)
	assert.Equal(t, "doctor", a.RoleName)
	assert.Equal(t, grantor, *a.AssignedBy)

	_, err = f.svc.AssignRole(ctx, p, f.doctor.ID, &grantor)
	assert.True(t, errors.Is(err, apperrors.ErrAlreadyAssigned))
}

func TestAssignUnknownRole(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.AssignRole(context.Background(), uuid.New(), uuid.New(), nil)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestRevokeWithoutAssignment(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RevokeRole(context.Background(), uuid.New(), f.doctor.ID, nil)
	assert.True(t, errors.Is(err, apperrors.ErrAssignmentNotFound))
}

func TestAssignThenRevokeRestoresPermissions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := uuid.New()

	before, err := f.engine.ResolvePermissions(ctx, p)
	require.NoError(t, err)

	_, err = f.svc.AssignRole(ctx, p, f.doctor.ID, nil)
	require.NoError(t, err)
	during, err := f.engine.ResolvePermissions(ctx, p)
	require.NoError(t, err)
	assert.True(t, during.Has(permission.PrescriptionWrite))

	revoked, err := f.svc.RevokeRole(ctx, p, f.doctor.ID, nil)
	require.NoError(t, err)
	assert.NotNil(t, revoked.RevokedAt)

	after, err := f.engine.ResolvePermissions(ctx, p)
	require.NoError(t, err)
	assert.True(t, before.Equal(after))
}

func TestRolledBackAssignDoesNotGrant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := uuid.New()

	err := f.store.WithinTx(ctx, func(txCtx context.Context) error {
		if _, err := f.svc.AssignRole(txCtx, p, f.doctor.ID, nil); err != nil {
			return err
		}
		// A concurrent request sees the uncommitted grant and caches it.
		seen, err := f.engine.HasPermission(ctx, p, permission.PatientRead)
		require.NoError(t, err)
		require.True(t, seen)
		return errors.New("abort")
	})
	require.Error(t, err)

	roles, err := f.svc.ListRoles(ctx, p)
	require.NoError(t, err)
	assert.Empty(t, roles)

	ok, err := f.engine.HasPermission(ctx, p, permission.PatientRead)
	require.NoError(t, err)
	assert.False(t, ok, "rolled-back grant must not authorize")
}

// flakyCache fails every invalidation while down.
type flakyCache struct {
	*rbac.MemoryCache
	mu   sync.Mutex
	down bool
}

func (c *flakyCache) setDown(down bool) {
	c.mu.Lock()
	c.down = down
	c.mu.Unlock()
}

func (c *flakyCache) isDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.down
}

func (c *flakyCache) InvalidateUser(ctx context.Context, userID uuid.UUID) error {
	if c.isDown() {
		return errors.New("redis: connection reset")
	}
	return c.MemoryCache.InvalidateUser(ctx, userID)
}

func (c *flakyCache) InvalidateAll(ctx context.Context) error {
	if c.isDown() {
		return errors.New("redis: connection reset")
	}
	return c.MemoryCache.InvalidateAll(ctx)
}

func TestRevokeWithFailedInvalidationStopsGranting(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	doctor := &model.Role{Name: "doctor", Permissions: []permission.Permission{permission.PatientRead}}
	require.NoError(t, store.Roles().Create(ctx, doctor))

	cache := &flakyCache{MemoryCache: rbac.NewMemoryCache(time.Minute)}
	engine := rbac.NewEngine(store.Assignments(), cache, metrics.Nop(), logger.Nop())
	svc := NewService(store.Assignments(), engine, logger.Nop())
	p := uuid.New()

	_, err := svc.AssignRole(ctx, p, doctor.ID, nil)
	require.NoError(t, err)
	ok, err := engine.HasPermission(ctx, p, permission.PatientRead)
	require.NoError(t, err)
	require.True(t, ok)

	cache.setDown(true)
	_, err = svc.RevokeRole(ctx, p, doctor.ID, nil)
	require.NoError(t, err)

	ok, err = engine.HasPermission(ctx, p, permission.PatientRead)
	require.NoError(t, err)
	assert.False(t, ok, "revoked role served from an undropped cache entry")

	// Once the cache recovers the next resolution drops the stale entry and
	// caches the current set again.
	cache.setDown(false)
	ok, err = engine.HasPermission(ctx, p, permission.PatientRead)
	require.NoError(t, err)
	assert.False(t, ok)

	cached, hit, err := cache.Get(ctx, p)
	require.NoError(t, err)
	require.True(t, hit)
	assert.False(t, cached.Has(permission.PatientRead))
}

func TestListRolesOrderedByAssignment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	patient := &model.Role{Name: "patient", Permissions: []permission.Permission{permission.ProfileRead}}
	require.NoError(t, f.store.Roles().Create(ctx, patient))
	u := uuid.New()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return base }
	_, err := f.svc.AssignRole(ctx, u, patient.ID, nil)
	require.NoError(t, err)
	f.svc.now = func() time.Time { return base.Add(time.Hour) }
	_, err = f.svc.AssignRole(ctx, u, f.doctor.ID, nil)
	require.NoError(t, err)

	roles, err := f.svc.ListRoles(ctx, u)
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, "patient", roles[0].Name)
	assert.Equal(t, "doctor", roles[1].Name)

	f.svc.now = func() time.Time { return base.Add(2 * time.Hour) }
	_, err = f.svc.RevokeAll(ctx, u, nil)
	require.NoError(t, err)

	atOne, err := f.svc.ListRolesAt(ctx, u, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Len(t, atOne, 2)

	active, err := f.svc.ListAssignments(ctx, u)
	require.NoError(t, err)
	assert.Empty(t, active)
}
