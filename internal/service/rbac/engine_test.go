package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/admin-rbac/internal/model"
	"github.com/jwalitptl/admin-rbac/internal/permission"
	"github.com/jwalitptl/admin-rbac/internal/repository"
	"github.com/jwalitptl/admin-rbac/internal/repository/memory"
	apperrors "github.com/jwalitptl/admin-rbac/pkg/errors"
	"github.com/jwalitptl/admin-rbac/pkg/logger"
	"github.com/jwalitptl/admin-rbac/pkg/metrics"
)

type failingAssignments struct {
	repository.AssignmentRepository
	err error
}

func (f failingAssignments) ListUserRoles(context.Context, uuid.UUID) ([]*model.UserRole, error) {
	return nil, f.err
}

func setup(t *testing.T, cache Cache) (*memory.Store, *Engine) {
	t.Helper()
	store := memory.New()
	return store, NewEngine(store.Assignments(), cache, metrics.Nop(), logger.Nop())
}

func createRole(t *testing.T, store *memory.Store, name string, perms ...permission.Permission) *model.Role {
	t.Helper()
	role := &model.Role{Name: name, Permissions: perms}
	require.NoError(t, store.Roles().Create(context.Background(), role))
	return role
}

func assign(t *testing.T, store *memory.Store, userID uuid.UUID, role *model.Role) {
	t.Helper()
	require.NoError(t, store.Assignments().Create(context.Background(), &model.Assignment{UserID: userID, RoleID: role.ID}))
}

func TestDoctorPermissions(t *testing.T) {
	ctx := context.Background()
	store, engine := setup(t, nil)
	doctor := createRole(t, store, "doctor", permission.PatientRead, permission.PrescriptionWrite)
	u := uuid.New()
	assign(t, store, u, doctor)

	ok, err := engine.HasPermission(ctx, u, permission.PatientRead)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = engine.HasPermission(ctx, u, permission.UserDelete)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = engine.HasRole(ctx, u, "doctor")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = engine.HasRole(ctx, u, "super_admin")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAuthorizeUsesAnyOfSemantics(t *testing.T) {
	ctx := context.Background()
	store, engine := setup(t, nil)
	admin := createRole(t, store, "hospital_admin", permission.UserRead, permission.DoctorApprove)
	u := uuid.New()
	assign(t, store, u, admin)

	d, err := engine.Authorize(ctx, u, permission.NewSet(permission.UserDelete, permission.DoctorApprove))
	require.NoError(t, err)
	assert.True(t, d.Granted)
	assert.Equal(t, model.ReasonGranted, d.Reason)
	assert.Equal(t, []permission.Permission{permission.DoctorApprove}, d.Matched)

	d, err = engine.Authorize(ctx, u, permission.NewSet(permission.UserDelete))
	require.NoError(t, err)
	assert.False(t, d.Granted)
	assert.Equal(t, model.ReasonMissingPermission, d.Reason)
}

func TestAuthorizeFailsClosed(t *testing.T) {
	ctx := context.Background()
	_, engine := setup(t, nil)
	stranger := uuid.New()

	requirements := []permission.Set{
		permission.NewSet(permission.UserRead),
		permission.NewSet(permission.UserCreate, permission.UserDelete),
		permission.Default().All(),
	}
	for _, req := range requirements {
		d, err := engine.Authorize(ctx, stranger, req)
		require.NoError(t, err)
		assert.False(t, d.Granted)
		assert.Equal(t, model.ReasonNoRoles, d.Reason)
	}

	d, err := engine.Authorize(ctx, stranger, permission.NewSet())
	require.NoError(t, err)
	assert.False(t, d.Granted)
	assert.Equal(t, model.ReasonEmptyRequirement, d.Reason)
}

func TestAuthorizeStoreFailureDenies(t *testing.T) {
	boom := errors.New("connection refused")
	engine := NewEngine(failingAssignments{err: boom}, nil, metrics.Nop(), logger.Nop())

	d, err := engine.Authorize(context.Background(), uuid.New(), permission.NewSet(permission.UserRead))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrStoreUnavailable))
	assert.True(t, errors.Is(err, boom))
	assert.False(t, d.Granted)
	assert.Equal(t, model.ReasonStoreUnavailable, d.Reason)
}

func TestAuthorizeActorSystem(t *testing.T) {
	_, engine := setup(t, nil)

	d, err := engine.AuthorizeActor(context.Background(), model.SystemActor("cli"), permission.NewSet(permission.RoleAssign))
	require.NoError(t, err)
	assert.True(t, d.Granted)
	assert.Equal(t, model.ReasonSystem, d.Reason)

	d, err = engine.AuthorizeActor(context.Background(), model.SystemActor("cli"), permission.NewSet())
	require.NoError(t, err)
	assert.False(t, d.Granted)
}

func TestRevokeTakesEffectImmediately(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(time.Minute)
	store, engine := setup(t, cache)
	doctor := createRole(t, store, "doctor", permission.PatientRead, permission.PrescriptionWrite)
	patient := createRole(t, store, "patient", permission.ProfileRead, permission.PatientRead)
	u := uuid.New()
	assign(t, store, u, patient)

	before, err := engine.ResolvePermissions(ctx, u)
	require.NoError(t, err)

	assign(t, store, u, doctor)
	require.NoError(t, cache.InvalidateUser(ctx, u))

	during, err := engine.ResolvePermissions(ctx, u)
	require.NoError(t, err)
	assert.True(t, during.Has(permission.PrescriptionWrite))

	_, err = store.Assignments().Revoke(ctx, u, doctor.ID, nil, time.Now())
	require.NoError(t, err)
	require.NoError(t, cache.InvalidateUser(ctx, u))

	after, err := engine.ResolvePermissions(ctx, u)
	require.NoError(t, err)
	assert.False(t, after.Has(permission.PrescriptionWrite))
	assert.True(t, after.Has(permission.PatientRead), "still granted by patient")
	assert.True(t, before.Equal(after))
}

func TestResolvePermissionsServesFromCache(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(time.Minute)
	store, engine := setup(t, cache)
	doctor := createRole(t, store, "doctor", permission.PatientRead)
	u := uuid.New()
	assign(t, store, u, doctor)

	_, err := engine.ResolvePermissions(ctx, u)
	require.NoError(t, err)

	cached, ok, err := cache.Get(ctx, u)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, cached.Has(permission.PatientRead))
}

func TestListUserRolesAt(t *testing.T) {
	ctx := context.Background()
	store, engine := setup(t, nil)
	doctor := createRole(t, store, "doctor", permission.PatientRead)
	u := uuid.New()

	t0 := time.Now().Add(-time.Hour)
	require.NoError(t, store.Assignments().Create(ctx, &model.Assignment{UserID: u, RoleID: doctor.ID, AssignedAt: t0}))
	revokedAt := t0.Add(30 * time.Minute)
	_, err := store.Assignments().Revoke(ctx, u, doctor.ID, nil, revokedAt)
	require.NoError(t, err)

	held, err := engine.ListUserRolesAt(ctx, u, t0.Add(10*time.Minute))
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, "doctor", held[0].Role.Name)

	now, err := engine.ListUserRoles(ctx, u)
	require.NoError(t, err)
	assert.Empty(t, now)
}

// unreachableFlush fails every full flush while down.
type unreachableFlush struct {
	*MemoryCache
	down bool
}

func (c *unreachableFlush) InvalidateAll(ctx context.Context) error {
	if c.down {
		return errors.New("redis: i/o timeout")
	}
	return c.MemoryCache.InvalidateAll(ctx)
}

func TestFailedFlushBypassesCacheUntilRepaired(t *testing.T) {
	ctx := context.Background()
	cache := &unreachableFlush{MemoryCache: NewMemoryCache(time.Minute)}
	store, engine := setup(t, cache)
	nurse := createRole(t, store, "nurse", permission.PatientRead)
	u := uuid.New()
	assign(t, store, u, nurse)

	ok, err := engine.HasPermission(ctx, u, permission.PatientRead)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = store.Roles().UpdatePermissions(ctx, nurse.ID, []permission.Permission{permission.PatientList})
	require.NoError(t, err)
	cache.down = true
	require.Error(t, engine.InvalidateAll(ctx))

	ok, err = engine.HasPermission(ctx, u, permission.PatientRead)
	require.NoError(t, err)
	assert.False(t, ok, "narrowed role served from an unflushed cache")

	_, hit, err := cache.Get(ctx, u)
	require.NoError(t, err)
	assert.True(t, hit, "stale entry is still stored but not served")

	cache.down = false
	ok, err = engine.HasPermission(ctx, u, permission.PatientList)
	require.NoError(t, err)
	assert.True(t, ok)

	cached, hit, err := cache.Get(ctx, u)
	require.NoError(t, err)
	require.True(t, hit)
	assert.False(t, cached.Has(permission.PatientRead))
}
