package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jwalitptl/admin-rbac/internal/model"
	"github.com/jwalitptl/admin-rbac/internal/permission"
	"github.com/jwalitptl/admin-rbac/internal/repository"
	"github.com/jwalitptl/admin-rbac/internal/service/assignment"
	"github.com/jwalitptl/admin-rbac/internal/service/audit"
	"github.com/jwalitptl/admin-rbac/internal/service/rbac"
	"github.com/jwalitptl/admin-rbac/internal/service/role"
	apperrors "github.com/jwalitptl/admin-rbac/pkg/errors"
	"github.com/jwalitptl/admin-rbac/pkg/logger"
	"github.com/jwalitptl/admin-rbac/pkg/metrics"
	"github.com/jwalitptl/admin-rbac/pkg/security"
)

const (
	DefaultAuditWriteTimeout = 5 * time.Second
	// DefaultPageSize applies to list reads that name no page size.
	DefaultPageSize = 50
)

// Deps groups the collaborators of the admin layer.
type Deps struct {
	Tx            repository.Transactor
	Engine        *rbac.Engine
	Auditor       *audit.Service
	Roles         *role.Service
	Assignments   *assignment.Service
	Users         repository.UserRepository
	Organizations repository.OrganizationRepository
	Hasher        security.PasswordHasher
	Metrics       *metrics.Metrics
	Logger        *logger.Logger
	// AuditWriteTimeout bounds denied and failed record writes, which run
	// detached from the caller's cancellation.
	AuditWriteTimeout time.Duration
}

// Service runs every administrative use case through one protocol:
// authorize, mutate, audit. Mutations and their success record commit
// together; denials and failures are recorded on their own.
type Service struct {
	Deps
}

func NewService(deps Deps) *Service {
	if deps.AuditWriteTimeout <= 0 {
		deps.AuditWriteTimeout = DefaultAuditWriteTimeout
	}
	return &Service{Deps: deps}
}

// operation describes one invocation for authorization and audit.
type operation struct {
	action       string
	resourceType string
	resourceID   string
	required     permission.Set
}

// change is what a mutation reports for its success record.
type change struct {
	resourceID string
	oldValue   interface{}
	newValue   interface{}
	details    string
}

// mutationError marks a failure of the mutation itself.
type mutationError struct{ err error }

func (e *mutationError) Error() string { return e.err.Error() }
func (e *mutationError) Unwrap() error { return e.err }

// auditWriteError marks a failure to write the success record.
type auditWriteError struct{ err error }

func (e *auditWriteError) Error() string { return e.err.Error() }
func (e *auditWriteError) Unwrap() error { return e.err }

// authorize returns nil when actor may perform op. Otherwise it writes the
// denied record and returns a Denied error. A store failure is a denial too,
// and the returned error also matches StoreUnavailable.
func (s *Service) authorize(ctx context.Context, actor model.Actor, op operation) error {
	decision, err := s.Engine.AuthorizeActor(ctx, actor, op.required)
	if err != nil {
		s.Logger.Error(err, "authorization store unavailable, denying", "action", op.action)
		s.recordDetached(ctx, actor, op, model.OutcomeDenied, "authorization store unavailable")
		s.count(op, model.OutcomeDenied)
		return apperrors.Denied(string(model.ReasonStoreUnavailable), err)
	}
	if !decision.Granted {
		details := fmt.Sprintf("requires any of [%s]: %s", strings.Join(op.required.Strings(), ", "), decision.Reason)
		s.recordDetached(ctx, actor, op, model.OutcomeDenied, details)
		s.count(op, model.OutcomeDenied)
		return apperrors.Denied(string(decision.Reason), nil)
	}
	return nil
}

// run authorizes op and applies mutate in a transaction together with its
// success record. Exactly one audit record is written per call.
func (s *Service) run(ctx context.Context, actor model.Actor, op operation, mutate func(ctx context.Context) (*change, error)) error {
	if err := s.authorize(ctx, actor, op); err != nil {
		return err
	}
	return s.apply(ctx, actor, op, mutate)
}

func (s *Service) apply(ctx context.Context, actor model.Actor, op operation, mutate func(ctx context.Context) (*change, error)) error {
	err := s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := mutate(ctx)
		if err != nil {
			return &mutationError{err}
		}

		resourceID := op.resourceID
		if c.resourceID != "" {
			resourceID = c.resourceID
		}
		_, err = s.Auditor.Record(ctx, audit.Entry{
			Actor:        actor,
			Action:       op.action,
			ResourceType: op.resourceType,
			ResourceID:   resourceID,
			OldValue:     c.oldValue,
			NewValue:     c.newValue,
			Outcome:      model.OutcomeSuccess,
			Details:      c.details,
		})
		if err != nil {
			return &auditWriteError{err}
		}
		return nil
	})

	var mErr *mutationError
	var aErr *auditWriteError
	switch {
	case err == nil:
		s.count(op, model.OutcomeSuccess)
		return nil

	case errors.As(err, &mErr):
		s.recordDetached(ctx, actor, op, model.OutcomeFailed, mErr.err.Error())
		s.count(op, model.OutcomeFailed)
		return mErr.err

	case errors.As(err, &aErr):
		// The mutation rolled back with the record; nothing unaudited remains.
		s.Logger.Error(aErr.err, "audit store unavailable, operation aborted", "action", op.action)
		s.count(op, model.OutcomeFailed)
		if errors.Is(aErr.err, apperrors.ErrStoreUnavailable) {
			return aErr.err
		}
		return apperrors.StoreUnavailable(aErr.err)

	default:
		// Begin or commit failed, or the caller went away before commit.
		s.recordDetached(ctx, actor, op, model.OutcomeFailed, fmt.Sprintf("transaction failed: %v", err))
		s.count(op, model.OutcomeFailed)
		return err
	}
}

// recordDetached writes a denied or failed record on a context that
// survives caller cancellation. A write failure is logged as an audit gap.
func (s *Service) recordDetached(ctx context.Context, actor model.Actor, op operation, outcome model.Outcome, details string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.AuditWriteTimeout)
	defer cancel()

	_, err := s.Auditor.Record(ctx, audit.Entry{
		Actor:        actor,
		Action:       op.action,
		ResourceType: op.resourceType,
		ResourceID:   op.resourceID,
		Outcome:      outcome,
		Details:      details,
	})
	if err != nil {
		s.Logger.Error(err, "audit gap: failed to record outcome",
			"action", op.action,
			"resource_type", op.resourceType,
			"resource_id", op.resourceID,
			"outcome", string(outcome),
		)
	}
}

func (s *Service) count(op operation, outcome model.Outcome) {
	s.Metrics.AdminOperations.WithLabelValues(op.action, string(outcome)).Inc()
}

func anyOf(perms ...permission.Permission) permission.Set {
	return permission.NewSet(perms...)
}
