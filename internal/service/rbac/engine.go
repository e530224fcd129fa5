package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/admin-rbac/internal/model"
	"github.com/jwalitptl/admin-rbac/internal/permission"
	"github.com/jwalitptl/admin-rbac/internal/repository"
	apperrors "github.com/jwalitptl/admin-rbac/pkg/errors"
	"github.com/jwalitptl/admin-rbac/pkg/logger"
	"github.com/jwalitptl/admin-rbac/pkg/metrics"
)

// Engine answers authorization queries from the assignment store. It keeps
// no state of its own beyond the injected cache.
type Engine struct {
	assignments repository.AssignmentRepository
	cache       Cache
	stale       *staleSet
	metrics     *metrics.Metrics
	logger      *logger.Logger
}

func NewEngine(assignments repository.AssignmentRepository, cache Cache, m *metrics.Metrics, log *logger.Logger) *Engine {
	if cache == nil {
		cache = NoCache{}
	}
	return &Engine{
		assignments: assignments,
		cache:       cache,
		stale:       newStaleSet(),
		metrics:     m,
		logger:      log,
	}
}

// Cache returns the engine's cache. Writers invalidate through the engine
// itself so that failed drops are tracked.
func (e *Engine) Cache() Cache {
	return e.cache
}

// ResolvePermissions returns the union of permissions across the user's
// active roles. A user without roles, or without an account, gets an empty
// set.
func (e *Engine) ResolvePermissions(ctx context.Context, userID uuid.UUID) (permission.Set, error) {
	if !e.cacheUsable(ctx, userID) {
		e.metrics.PermissionCacheLookups.WithLabelValues("bypass").Inc()
		return e.resolve(ctx, userID)
	}

	cached, ok, err := e.cache.Get(ctx, userID)
	switch {
	case err != nil:
		e.metrics.PermissionCacheLookups.WithLabelValues("error").Inc()
		e.logger.Warn("permission cache read failed", "error", err.Error(), "user_id", userID.String())
	case ok:
		e.metrics.PermissionCacheLookups.WithLabelValues("hit").Inc()
		return cached, nil
	default:
		e.metrics.PermissionCacheLookups.WithLabelValues("miss").Inc()
	}

	epoch, epochErr := e.cache.Epoch(ctx)

	perms, err := e.resolve(ctx, userID)
	if err != nil {
		return nil, err
	}

	// A drop that failed while the store was read leaves the epoch
	// unchanged, so the stale mark is checked again before writing.
	if epochErr == nil && !e.isStale(userID) {
		if _, err := e.cache.SetIfEpoch(ctx, userID, perms, epoch); err != nil {
			e.logger.Warn("permission cache write failed", "error", err.Error(), "user_id", userID.String())
		}
	}
	return perms, nil
}

func (e *Engine) resolve(ctx context.Context, userID uuid.UUID) (permission.Set, error) {
	roles, err := e.assignments.ListUserRoles(ctx, userID)
	if err != nil {
		return nil, storeError(err)
	}

	perms := permission.NewSet()
	for _, ur := range roles {
		perms.Add(ur.Role.Permissions...)
	}
	return perms, nil
}

func (e *Engine) HasRole(ctx context.Context, userID uuid.UUID, roleName string) (bool, error) {
	roles, err := e.assignments.ListUserRoles(ctx, userID)
	if err != nil {
		return false, storeError(err)
	}
	for _, ur := range roles {
		if ur.Role.Name == roleName {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) HasPermission(ctx context.Context, userID uuid.UUID, p permission.Permission) (bool, error) {
	perms, err := e.ResolvePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return perms.Has(p), nil
}

// Authorize grants when the user holds at least one of requiredAnyOf.
// Denial is returned as a Decision with a nil error. A non-nil error means
// the store could not be read, and the accompanying Decision is a denial.
func (e *Engine) Authorize(ctx context.Context, userID uuid.UUID, requiredAnyOf permission.Set) (model.Decision, error) {
	start := time.Now()
	decision, err := e.decide(ctx, userID, requiredAnyOf)
	e.observe(decision, start)

	if !decision.Granted {
		e.logger.Debug("authorization denied",
			"user_id", userID.String(),
			"required", requiredAnyOf.Strings(),
			"reason", string(decision.Reason),
		)
	}
	return decision, err
}

// AuthorizeActor is Authorize for an Actor. System actors are always
// granted a non-empty requirement.
func (e *Engine) AuthorizeActor(ctx context.Context, actor model.Actor, requiredAnyOf permission.Set) (model.Decision, error) {
	if actor.IsSystem() {
		if len(requiredAnyOf) == 0 {
			return model.Deny(model.ReasonEmptyRequirement), nil
		}
		d := model.Decision{Granted: true, Matched: requiredAnyOf.Slice(), Reason: model.ReasonSystem}
		e.observe(d, time.Now())
		return d, nil
	}
	return e.Authorize(ctx, *actor.UserID, requiredAnyOf)
}

func (e *Engine) decide(ctx context.Context, userID uuid.UUID, requiredAnyOf permission.Set) (model.Decision, error) {
	if len(requiredAnyOf) == 0 {
		return model.Deny(model.ReasonEmptyRequirement), nil
	}

	perms, err := e.ResolvePermissions(ctx, userID)
	if err != nil {
		return model.Deny(model.ReasonStoreUnavailable), err
	}
	if len(perms) == 0 {
		return model.Deny(model.ReasonNoRoles), nil
	}

	matched := perms.Intersect(requiredAnyOf)
	if len(matched) == 0 {
		return model.Deny(model.ReasonMissingPermission), nil
	}
	return model.Grant(matched), nil
}

func (e *Engine) observe(d model.Decision, start time.Time) {
	outcome := "denied"
	if d.Granted {
		outcome = "granted"
	}
	e.metrics.AuthzDecisions.WithLabelValues(outcome, string(d.Reason)).Inc()
	e.metrics.AuthzLatency.Observe(time.Since(start).Seconds())
}

// ListUserRoles returns the user's active roles, oldest assignment first.
func (e *Engine) ListUserRoles(ctx context.Context, userID uuid.UUID) ([]*model.UserRole, error) {
	roles, err := e.assignments.ListUserRoles(ctx, userID)
	if err != nil {
		return nil, storeError(err)
	}
	return roles, nil
}

// ListUserRolesAt returns the roles the user held at t.
func (e *Engine) ListUserRolesAt(ctx context.Context, userID uuid.UUID, at time.Time) ([]*model.UserRole, error) {
	roles, err := e.assignments.ListUserRolesAt(ctx, userID, at)
	if err != nil {
		return nil, storeError(err)
	}
	return roles, nil
}

func storeError(err error) error {
	if errors.Is(err, apperrors.ErrStoreUnavailable) {
		return err
	}
	return apperrors.StoreUnavailable(fmt.Errorf("failed to list user roles: %w", err))
}
