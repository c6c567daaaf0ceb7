package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bottega-market/api/internal/repositories"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// wrapError converts low-level pgx failures into typed store errors so the
// service layer can branch on codes instead of driver internals.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return repositories.NewStoreError(repositories.ErrorNotFound, "row not found", err).WithOp(op)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return repositories.NewStoreError(repositories.ErrorConflict, "uniqueness constraint violated", err).WithOp(op)
		case pgForeignKeyViolation:
			return repositories.NewStoreError(repositories.ErrorInvalidState, "referenced row missing", err).WithOp(op)
		case pgCheckViolation:
			return repositories.NewStoreError(repositories.ErrorInvalidState, "check constraint violated", err).WithOp(op)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return repositories.NewStoreError(repositories.ErrorUnavailable, "store operation aborted", err).WithOp(op)
	}

	if pgconn.Timeout(err) {
		return repositories.NewStoreError(repositories.ErrorUnavailable, "store timeout", err).WithOp(op)
	}

	return repositories.NewStoreError(repositories.ErrorUnknown, "store operation failed", err).WithOp(op)
}
