package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/BradenHooton/marketauth/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestMapPostgresError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    error
		message string
	}{
		{
			name: "no rows",
			err:  pgx.ErrNoRows,
			want: models.ErrNotFound,
		},
		{
			name:    "duplicate username",
			err:     &pgconn.PgError{Code: "23505", ConstraintName: "idx_users_username"},
			want:    models.ErrConflict,
			message: "resource already exists: username already taken",
		},
		{
			name:    "wrapped duplicate provider identity",
			err:     fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "idx_users_google_id"}),
			want:    models.ErrConflict,
			message: "resource already exists: google identity already taken",
		},
		{
			name:    "unknown unique index",
			err:     &pgconn.PgError{Code: "23505", ConstraintName: "merchant_profiles_pkey"},
			want:    models.ErrConflict,
			message: "resource already exists",
		},
		{
			name:    "role outside allowed set",
			err:     &pgconn.PgError{Code: "23514", ConstraintName: "users_role_check"},
			want:    models.ErrBadRequest,
			message: "bad request: users_role_check",
		},
		{
			name: "missing required column",
			err:  &pgconn.PgError{Code: "23502", ColumnName: "username"},
			want: models.ErrBadRequest,
		},
		{
			name: "foreign key",
			err:  &pgconn.PgError{Code: "23503"},
			want: models.ErrBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapPostgresError(tt.err)
			assert.ErrorIs(t, got, tt.want)
			if tt.message != "" {
				assert.EqualError(t, got, tt.message)
			}
		})
	}
}

func TestMapPostgresError_PassesThroughOtherErrors(t *testing.T) {
	assert.NoError(t, MapPostgresError(nil))

	other := errors.New("connection reset")
	assert.Same(t, other, MapPostgresError(other))

	serialization := &pgconn.PgError{Code: "40001"}
	assert.Same(t, error(serialization), MapPostgresError(serialization))
}
