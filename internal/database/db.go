package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/BradenHooton/marketauth/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueIndexes names the value each unique index on users protects.
var uniqueIndexes = map[string]string{
	"idx_users_username":  "username",
	"idx_users_email":     "email",
	"idx_users_line_id":   "line identity",
	"idx_users_google_id": "google identity",
}

// MapPostgresError translates driver errors into model sentinels. Unique
// violations keep the colliding value's name in the message for logs; callers
// match on the sentinel only.
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
			if field, ok := uniqueIndexes[pgErr.ConstraintName]; ok {
				return fmt.Errorf("%w: %s already taken", models.ErrConflict, field)
			}
			return models.ErrConflict
		case "23503": // foreign_key_violation
			return models.ErrBadRequest
		case "23502": // not_null_violation
			return fmt.Errorf("%w: %s is required", models.ErrBadRequest, pgErr.ColumnName)
		case "23514": // check_violation, e.g. users.role outside customer/merchant
			return fmt.Errorf("%w: %s", models.ErrBadRequest, pgErr.ConstraintName)
		}
	}

	return err
}

func (db *DB) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	err = fn(tx)
	return err
}
