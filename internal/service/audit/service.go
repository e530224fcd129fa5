package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/admin-rbac/internal/model"
	"github.com/jwalitptl/admin-rbac/internal/repository"
	apperrors "github.com/jwalitptl/admin-rbac/pkg/errors"
	"github.com/jwalitptl/admin-rbac/pkg/logger"
	"github.com/jwalitptl/admin-rbac/pkg/metrics"
)

const (
	DefaultPageSize    = 50
	DefaultAllPageSize = 100
)

// Entry is what callers hand to Record. OldValue and NewValue are encoded
// as JSON and otherwise left alone.
type Entry struct {
	Actor        model.Actor
	Action       string
	ResourceType string
	ResourceID   string
	OldValue     interface{}
	NewValue     interface{}
	Outcome      model.Outcome
	Details      string
}

// Clock hands out non-decreasing timestamps at the store's microsecond
// precision. Equal timestamps are ordered by the record sequence. Stamps are
// taken before the store assigns seq, so the in-memory store raises a stamp
// that would fall behind the previous record's.
type Clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	t := c.now().UTC().Truncate(time.Microsecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}

type Service struct {
	repo      repository.AuditRepository
	clock     *Clock
	publisher *Publisher
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

type Option func(*Service)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c *Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithPublisher forwards every committed record to p.
func WithPublisher(p *Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func NewService(repo repository.AuditRepository, m *metrics.Metrics, log *logger.Logger, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		clock:   NewClock(nil),
		metrics: m,
		logger:  log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record appends one entry. It reports every store failure to the caller;
// whether the triggering operation proceeds is the caller's decision.
// Inside a transaction the record commits or rolls back with it.
func (s *Service) Record(ctx context.Context, e Entry) (*model.AuditRecord, error) {
	rec, err := s.build(e)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, rec); err != nil {
		s.metrics.AuditWriteFailures.Inc()
		s.logger.Error(err, "failed to write audit record",
			"action", rec.Action,
			"resource_type", rec.ResourceType,
			"outcome", string(rec.Outcome),
		)
		if errors.Is(err, apperrors.ErrStoreUnavailable) {
			return nil, err
		}
		return nil, apperrors.StoreUnavailable(fmt.Errorf("failed to write audit record: %w", err))
	}

	committed := *rec
	repository.AfterCommit(ctx, func() {
		s.metrics.AuditRecords.WithLabelValues(string(committed.Outcome)).Inc()
		if s.publisher != nil {
			s.publisher.Publish(context.WithoutCancel(ctx), &committed)
		}
	})
	return rec, nil
}

func (s *Service) build(e Entry) (*model.AuditRecord, error) {
	if e.Action == "" || e.ResourceType == "" {
		return nil, apperrors.BadRequest("audit entry requires action and resource type", nil)
	}
	if !e.Outcome.Valid() {
		return nil, apperrors.BadRequest(fmt.Sprintf("invalid audit outcome %q", e.Outcome), nil)
	}

	oldValue, err := snapshot(e.OldValue)
	if err != nil {
		return nil, fmt.Errorf("failed to encode old value: %w", err)
	}
	newValue, err := snapshot(e.NewValue)
	if err != nil {
		return nil, fmt.Errorf("failed to encode new value: %w", err)
	}

	rec := &model.AuditRecord{
		ID:           uuid.New(),
		ActorID:      e.Actor.UserID,
		Action:       e.Action,
		ResourceType: e.ResourceType,
		OldValue:     oldValue,
		NewValue:     newValue,
		Outcome:      e.Outcome,
		Origin:       e.Actor.OriginPtr(),
		UserAgent:    e.Actor.UserAgent,
		Details:      e.Details,
		CreatedAt:    s.clock.Now(),
	}
	if e.ResourceID != "" {
		id := e.ResourceID
		rec.ResourceID = &id
	}
	return rec, nil
}

func snapshot(v interface{}) (json.RawMessage, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(val) == 0 {
			return nil, nil
		}
		return val, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return nil, nil
	}
	return raw, nil
}

// RecordLogin notes an authentication attempt against the user's session.
func (s *Service) RecordLogin(ctx context.Context, actor model.Actor, userID uuid.UUID, outcome model.Outcome, details string) (*model.AuditRecord, error) {
	return s.Record(ctx, Entry{
		Actor:        actor,
		Action:       model.ActionLogin,
		ResourceType: model.ResourceSession,
		ResourceID:   userID.String(),
		Outcome:      outcome,
		Details:      details,
	})
}

// RecordAccess notes a read of a resource, or a refused attempt at one.
func (s *Service) RecordAccess(ctx context.Context, actor model.Actor, resourceType, resourceID string, outcome model.Outcome, details string) (*model.AuditRecord, error) {
	if details == "" {
		details = fmt.Sprintf("Accessed %s", resourceType)
	}
	return s.Record(ctx, Entry{
		Actor:        actor,
		Action:       model.ActionAccess,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Outcome:      outcome,
		Details:      details,
	})
}

// QueryByUser returns records whose actor is userID, newest first.
func (s *Service) QueryByUser(ctx context.Context, userID uuid.UUID, page model.Pagination) (*model.AuditPage, error) {
	return s.query(ctx, model.AuditFilter{ActorID: &userID}, page.Normalize(DefaultPageSize))
}

// QueryByResource returns records about one resource, newest first.
func (s *Service) QueryByResource(ctx context.Context, resourceType, resourceID string, page model.Pagination) (*model.AuditPage, error) {
	if resourceType == "" || resourceID == "" {
		return nil, apperrors.BadRequest("resource type and id are required", nil)
	}
	filter := model.AuditFilter{ResourceType: resourceType, ResourceID: resourceID}
	return s.query(ctx, filter, page.Normalize(DefaultPageSize))
}

// QueryAll returns records matching filter, newest first.
func (s *Service) QueryAll(ctx context.Context, filter model.AuditFilter, page model.Pagination) (*model.AuditPage, error) {
	if filter.Outcome != "" && !filter.Outcome.Valid() {
		return nil, apperrors.BadRequest(fmt.Sprintf("invalid outcome %q", filter.Outcome), nil)
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, apperrors.BadRequest("from must not be after to", nil)
	}
	return s.query(ctx, filter, page.Normalize(DefaultAllPageSize))
}

func (s *Service) query(ctx context.Context, filter model.AuditFilter, page model.Pagination) (*model.AuditPage, error) {
	records, total, err := s.repo.List(ctx, filter, page)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	if records == nil {
		records = []*model.AuditRecord{}
	}
	return &model.AuditPage{
		Records:  records,
		Total:    total,
		Page:     page.Page,
		PageSize: page.PageSize,
	}, nil
}
