package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/admin-rbac/internal/repository"
)

type txKey struct{}

// BaseRepository provides common functionality for all repositories
type BaseRepository struct {
	db *sqlx.DB
}

// NewBaseRepository creates a new base repository
func NewBaseRepository(db *sqlx.DB) BaseRepository {
	return BaseRepository{db: db}
}

// GetDB returns the database instance
func (r *BaseRepository) GetDB() *sqlx.DB {
	return r.db
}

// ext returns the transaction carried by ctx, or the pool outside one.
func (r *BaseRepository) ext(ctx context.Context) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return r.db
}

// Transactor implements repository.Transactor on a single *sqlx.DB.
type Transactor struct {
	BaseRepository
}

var _ repository.Transactor = (*Transactor)(nil)

func NewTransactor(db *sqlx.DB) *Transactor {
	return &Transactor{NewBaseRepository(db)}
}

// WithinTx executes fn within a transaction. A nested call joins the
// outer transaction. After-commit hooks run only once the outermost
// transaction commits; end hooks run on rollback too.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", classify(err))
	}

	txCtx, hooks := repository.WithTxHooks(context.WithValue(ctx, txKey{}, tx))

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			hooks.RolledBack()
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		tx.Rollback()
		hooks.RolledBack()
		return err
	}

	if err := tx.Commit(); err != nil {
		hooks.RolledBack()
		return fmt.Errorf("failed to commit transaction: %w", classify(err))
	}

	hooks.Committed()
	return nil
}

// Ping reports whether the database is reachable.
func (t *Transactor) Ping(ctx context.Context) error {
	if err := t.db.PingContext(ctx); err != nil {
		return classify(err)
	}
	return nil
}
