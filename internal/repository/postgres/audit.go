package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/admin-rbac/internal/model"
	"github.com/jwalitptl/admin-rbac/internal/repository"
)

const auditColumns = `seq, id, actor_id, action, resource_type, resource_id, old_value, new_value, outcome, origin, user_agent, details, created_at`

// auditRow scans JSONB into plain byte slices, which database/sql copies.
type auditRow struct {
	Seq          int64      `db:"seq"`
	ID           uuid.UUID  `db:"id"`
	ActorID      *uuid.UUID `db:"actor_id"`
	Action       string     `db:"action"`
	ResourceType string     `db:"resource_type"`
	ResourceID   *string    `db:"resource_id"`
	OldValue     []byte     `db:"old_value"`
	NewValue     []byte     `db:"new_value"`
	Outcome      string     `db:"outcome"`
	Origin       *string    `db:"origin"`
	UserAgent    string     `db:"user_agent"`
	Details      string     `db:"details"`
	CreatedAt    time.Time  `db:"created_at"`
}

func (r auditRow) toModel() *model.AuditRecord {
	return &model.AuditRecord{
		ID:           r.ID,
		Seq:          r.Seq,
		ActorID:      r.ActorID,
		Action:       r.Action,
		ResourceType: r.ResourceType,
		ResourceID:   r.ResourceID,
		OldValue:     json.RawMessage(r.OldValue),
		NewValue:     json.RawMessage(r.NewValue),
		Outcome:      model.Outcome(r.Outcome),
		Origin:       r.Origin,
		UserAgent:    r.UserAgent,
		Details:      r.Details,
		CreatedAt:    r.CreatedAt,
	}
}

// jsonArg passes JSONB as text; lib/pq would otherwise send []byte as bytea.
func jsonArg(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

type auditRepository struct {
	BaseRepository
}

func NewAuditRepository(db *sqlx.DB) repository.AuditRepository {
	return &auditRepository{NewBaseRepository(db)}
}

// Create inserts the record and reads back its seq. Seq is drawn when the
// row is inserted, not when it commits, so across concurrent writers it only
// orders records with equal created_at; List sorts by created_at first.
func (r *auditRepository) Create(ctx context.Context, rec *model.AuditRecord) error {
	query := `
		INSERT INTO audit_logs (
			id, actor_id, action, resource_type, resource_id,
			old_value, new_value, outcome, origin, user_agent, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING seq
	`
	err := r.ext(ctx).QueryRowxContext(ctx, query,
		rec.ID,
		rec.ActorID,
		rec.Action,
		rec.ResourceType,
		rec.ResourceID,
		jsonArg(rec.OldValue),
		jsonArg(rec.NewValue),
		string(rec.Outcome),
		rec.Origin,
		rec.UserAgent,
		rec.Details,
		rec.CreatedAt,
	).Scan(&rec.Seq)
	if err != nil {
		return wrap("create audit record", err)
	}
	return nil
}

func (r *auditRepository) List(ctx context.Context, filter model.AuditFilter, page model.Pagination) ([]*model.AuditRecord, int64, error) {
	var conditions []string
	var args []interface{}

	if filter.ActorID != nil {
		args = append(args, *filter.ActorID)
		conditions = append(conditions, fmt.Sprintf("actor_id = $%d", len(args)))
	}
	if filter.Action != "" {
		args = append(args, filter.Action)
		conditions = append(conditions, fmt.Sprintf("action = $%d", len(args)))
	}
	if filter.ResourceType != "" {
		args = append(args, filter.ResourceType)
		conditions = append(conditions, fmt.Sprintf("resource_type = $%d", len(args)))
	}
	if filter.ResourceID != "" {
		args = append(args, filter.ResourceID)
		conditions = append(conditions, fmt.Sprintf("resource_id = $%d", len(args)))
	}
	if filter.Outcome != "" {
		args = append(args, string(filter.Outcome))
		conditions = append(conditions, fmt.Sprintf("outcome = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := sqlx.GetContext(ctx, r.ext(ctx), &total, "SELECT COUNT(*) FROM audit_logs"+where, args...); err != nil {
		return nil, 0, wrap("count audit records", err)
	}

	args = append(args, page.Limit(), page.Offset())
	query := "SELECT " + auditColumns + " FROM audit_logs" + where +
		fmt.Sprintf(" ORDER BY created_at DESC, seq DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var rows []auditRow
	if err := sqlx.SelectContext(ctx, r.ext(ctx), &rows, query, args...); err != nil {
		return nil, 0, wrap("list audit records", err)
	}

	out := make([]*model.AuditRecord, len(rows))
	for i, row := range rows {
		out[i] = row.toModel()
	}
	return out, total, nil
}
