package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"

	apperrors "github.com/jwalitptl/admin-rbac/pkg/errors"
)

const (
	codeUniqueViolation = "23505"
	classConnection     = "08"
)

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == classConnection
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// classify tags infrastructure failures as StoreUnavailable and leaves
// everything else untouched.
func classify(err error) error {
	if err == nil || !isUnavailable(err) {
		return err
	}
	return apperrors.StoreUnavailable(err)
}

func wrap(op string, err error) error {
	return fmt.Errorf("failed to %s: %w", op, classify(err))
}
