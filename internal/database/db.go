package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MapPostgresError translates driver errors into model errors. Anything
// unrecognised is returned as an internal error wrapping the cause.
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return models.ErrConflict.Wrap(err)
		case "23503", "23502": // foreign_key_violation, not_null_violation
			return models.ErrValidation.Wrap(err)
		case "22P02": // invalid_text_representation, e.g. a malformed uuid
			return models.ErrNotFound.Wrap(err)
		}
	}

	return models.Internal(err)
}

// WithTransaction runs fn in a transaction, committing on success and rolling
// back on error or panic.
func (db *DB) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	return fn(tx)
}
