package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/admin-rbac/internal/model"
	"github.com/jwalitptl/admin-rbac/internal/repository"
	"github.com/jwalitptl/admin-rbac/internal/repository/memory"
	apperrors "github.com/jwalitptl/admin-rbac/pkg/errors"
	"github.com/jwalitptl/admin-rbac/pkg/logger"
	"github.com/jwalitptl/admin-rbac/pkg/metrics"
)

type failingAudit struct {
	repository.AuditRepository
}

func (failingAudit) Create(context.Context, *model.AuditRecord) error {
	return errors.New("disk full")
}

type fakeBroker struct {
	published []interface{}
	err       error
}

func (b *fakeBroker) Publish(_ context.Context, _ string, message interface{}) error {
	b.published = append(b.published, message)
	return b.err
}

func (b *fakeBroker) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (b *fakeBroker) Close() error                                           { return nil }

// fixedClock always reports the same instant.
func fixedClock(t time.Time) *Clock {
	return NewClock(func() time.Time { return t })
}

func TestRecordStoresSnapshotsVerbatim(t *testing.T) {
	store := memory.New()
	svc := NewService(store.Audit(), metrics.Nop(), logger.Nop())
	actor := model.UserActor(uuid.New(), "10.0.0.7", "curl/8")
	target := uuid.New()

	rec, err := svc.Record(context.Background(), Entry{
		Actor:        actor,
		Action:       model.ActionUpdateUser,
		ResourceType: model.ResourceUser,
		ResourceID:   target.String(),
		OldValue:     map[string]string{"name": "Ann"},
		NewValue:     json.RawMessage(`{"name":"Anne","extra":[1,2]}`),
		Outcome:      model.OutcomeSuccess,
	})
	require.NoError(t, err)
	assert.NotZero(t, rec.Seq)
	assert.JSONEq(t, `{"name":"Ann"}`, string(rec.OldValue))
	assert.Equal(t, `{"name":"Anne","extra":[1,2]}`, string(rec.NewValue))
	require.NotNil(t, rec.Origin)
	assert.Equal(t, "10.0.0.7", *rec.Origin)
	assert.Equal(t, "curl/8", rec.UserAgent)
	assert.Equal(t, *actor.UserID, *rec.ActorID)
}

func TestRecordRejectsInvalidEntries(t *testing.T) {
	svc := NewService(memory.New().Audit(), metrics.Nop(), logger.Nop())

	_, err := svc.Record(context.Background(), Entry{Action: "x", ResourceType: "user", Outcome: "maybe"})
	assert.True(t, errors.Is(err, apperrors.ErrBadRequest))

	_, err = svc.Record(context.Background(), Entry{ResourceType: "user", Outcome: model.OutcomeSuccess})
	assert.True(t, errors.Is(err, apperrors.ErrBadRequest))
}

func TestRecordSurfacesStoreFailure(t *testing.T) {
	svc := NewService(failingAudit{}, metrics.Nop(), logger.Nop())

	_, err := svc.Record(context.Background(), Entry{
		Actor:        model.SystemActor("cli"),
		Action:       model.ActionSeedRole,
		ResourceType: model.ResourceRole,
		Outcome:      model.OutcomeSuccess,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrStoreUnavailable))
}

func TestQueryByUserNewestFirstWithTies(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	instant := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(store.Audit(), metrics.Nop(), logger.Nop(), WithClock(fixedClock(instant)))
	p := uuid.New()

	actions := []string{model.ActionCreateUser, model.ActionAssignRole, model.ActionUpdateUser}
	for _, action := range actions {
		_, err := svc.Record(ctx, Entry{
			Actor:        model.UserActor(p, "", ""),
			Action:       action,
			ResourceType: model.ResourceUser,
			Outcome:      model.OutcomeSuccess,
		})
		require.NoError(t, err)
	}
	_, err := svc.Record(ctx, Entry{
		Actor:        model.UserActor(uuid.New(), "", ""),
		Action:       model.ActionDeleteUser,
		ResourceType: model.ResourceUser,
		Outcome:      model.OutcomeDenied,
	})
	require.NoError(t, err)

	page, err := svc.QueryByUser(ctx, p, model.Pagination{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, DefaultPageSize, page.PageSize)
	require.Len(t, page.Records, 3)
	assert.Equal(t, model.ActionUpdateUser, page.Records[0].Action)
	assert.Equal(t, model.ActionAssignRole, page.Records[1].Action)
	assert.Equal(t, model.ActionCreateUser, page.Records[2].Action)
}

func TestQueryByResourceAndAll(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.New().Audit(), metrics.Nop(), logger.Nop())
	target := uuid.NewString()

	for _, outcome := range []model.Outcome{model.OutcomeSuccess, model.OutcomeDenied, model.OutcomeFailed} {
		_, err := svc.Record(ctx, Entry{
			Actor:        model.UserActor(uuid.New(), "", ""),
			Action:       model.ActionDeleteUser,
			ResourceType: model.ResourceUser,
			ResourceID:   target,
			Outcome:      outcome,
		})
		require.NoError(t, err)
	}

	page, err := svc.QueryByResource(ctx, model.ResourceUser, target, model.Pagination{PageSize: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
	assert.Len(t, page.Records, 2)
	assert.Equal(t, model.OutcomeFailed, page.Records[0].Outcome)

	all, err := svc.QueryAll(ctx, model.AuditFilter{Outcome: model.OutcomeDenied}, model.Pagination{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, all.Total)
	assert.Equal(t, DefaultAllPageSize, all.PageSize)

	_, err = svc.QueryAll(ctx, model.AuditFilter{Outcome: "bogus"}, model.Pagination{})
	assert.True(t, errors.Is(err, apperrors.ErrBadRequest))

	_, err = svc.QueryByResource(ctx, "", "", model.Pagination{})
	assert.True(t, errors.Is(err, apperrors.ErrBadRequest))
}

func TestPageSizeIsCapped(t *testing.T) {
	svc := NewService(memory.New().Audit(), metrics.Nop(), logger.Nop())
	page, err := svc.QueryAll(context.Background(), model.AuditFilter{}, model.Pagination{Page: 1, PageSize: 10000})
	require.NoError(t, err)
	assert.Equal(t, model.MaxPageSize, page.PageSize)
	assert.NotNil(t, page.Records)
}

func TestClockNeverGoesBackwards(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	ticks := []time.Time{base, base.Add(-time.Second), base.Add(time.Second)}
	i := 0
	clock := NewClock(func() time.Time {
		t := ticks[i]
		i++
		return t
	})

	assert.Equal(t, base, clock.Now())
	assert.Equal(t, base, clock.Now())
	assert.Equal(t, base.Add(time.Second), clock.Now())
}

func TestPublishAfterCommitOnly(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	broker := &fakeBroker{}
	svc := NewService(store.Audit(), metrics.Nop(), logger.Nop(),
		WithPublisher(NewPublisher(broker, "", metrics.Nop(), logger.Nop())))

	entry := Entry{
		Actor:        model.SystemActor("cli"),
		Action:       model.ActionSeedRole,
		ResourceType: model.ResourceRole,
		Outcome:      model.OutcomeSuccess,
	}

	err := store.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := svc.Record(ctx, entry); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)
	assert.Empty(t, broker.published)

	_, err = svc.Record(ctx, entry)
	require.NoError(t, err)
	assert.Len(t, broker.published, 1)
}

func TestPublishFailureDoesNotFailRecord(t *testing.T) {
	broker := &fakeBroker{err: errors.New("redis down")}
	svc := NewService(memory.New().Audit(), metrics.Nop(), logger.Nop(),
		WithPublisher(NewPublisher(broker, "", metrics.Nop(), logger.Nop())))

	rec, err := svc.RecordAccess(context.Background(), model.UserActor(uuid.New(), "", ""), model.ResourceRoute, "GET /x", model.OutcomeDenied, "")
	require.NoError(t, err)
	assert.Equal(t, "Accessed route", rec.Details)
	assert.Len(t, broker.published, 1)
}

func TestRecordLogin(t *testing.T) {
	u := uuid.New()
	svc := NewService(memory.New().Audit(), metrics.Nop(), logger.Nop())

	rec, err := svc.RecordLogin(context.Background(), model.UserActor(u, "1.2.3.4", ""), u, model.OutcomeFailed, "bad password")
	require.NoError(t, err)
	assert.Equal(t, model.ActionLogin, rec.Action)
	assert.Equal(t, model.ResourceSession, rec.ResourceType)
	assert.Equal(t, u.String(), *rec.ResourceID)
}
