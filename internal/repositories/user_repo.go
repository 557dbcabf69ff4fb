package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/marketauth/internal/database"
	"github.com/BradenHooton/marketauth/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

const userColumns = `id, username, password_hash, display_name, role, email, phone, line_id, google_id,
	failed_attempts, locked_until, created_at, updated_at`

// providerColumns whitelists the provider slot columns that may appear in dynamic SQL.
var providerColumns = map[string]string{
	models.ProviderLine:   "line_id",
	models.ProviderGoogle: "google_id",
}

type UserRepository struct {
	db   *database.DB
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db, pool: db.Pool}
}

// rowScanner interface for scanning user rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanUserRow handles nullable fields and populates a User model from a database row
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var passwordHash *string

	err := scanner.Scan(
		&user.ID, &user.Username, &passwordHash, &user.DisplayName, &user.Role,
		&user.Email, &user.Phone, &user.LineID, &user.GoogleID,
		&user.FailedAttempts, &user.LockedUntil,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if passwordHash != nil {
		user.PasswordHash = *passwordHash
	}
	if user.Role == "" {
		user.Role = models.RoleCustomer
	}

	return &user, nil
}

func providerColumn(provider string) (string, error) {
	column, ok := providerColumns[provider]
	if !ok {
		return "", fmt.Errorf("unsupported provider %q: %w", provider, models.ErrBadRequest)
	}
	return pq.QuoteIdentifier(column), nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, id))
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, username))
}

// GetByProviderID finds the account whose provider slot holds externalID.
func (r *UserRepository) GetByProviderID(ctx context.Context, provider, externalID string) (*models.User, error) {
	column, err := providerColumn(provider)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE ` + column + ` = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, externalID))
}

// Create inserts the account and, for merchants, its profile in one transaction.
func (r *UserRepository) Create(ctx context.Context, in *models.NewUser) (*models.User, error) {
	if in.Role == "" {
		in.Role = models.RoleCustomer
	}

	var lineID, googleID *string
	if in.Provider != "" {
		id := in.ExternalID
		switch in.Provider {
		case models.ProviderLine:
			lineID = &id
		case models.ProviderGoogle:
			googleID = &id
		default:
			return nil, fmt.Errorf("unsupported provider %q: %w", in.Provider, models.ErrBadRequest)
		}
	}

	var passwordHash *string
	if in.PasswordHash != "" {
		passwordHash = &in.PasswordHash
	}

	now := time.Now()
	query := `
		INSERT INTO users (id, username, password_hash, display_name, role, email, phone, line_id, google_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING ` + userColumns

	var created *models.User
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		user, err := scanUserRow(tx.QueryRow(ctx, query,
			uuid.New().String(), in.Username, passwordHash, in.DisplayName, in.Role,
			in.Email, in.Phone, lineID, googleID, now,
		))
		if err != nil {
			return err
		}

		if in.Role == models.RoleMerchant && in.Merchant != nil {
			_, err = tx.Exec(ctx, `
				INSERT INTO merchant_profiles (user_id, business_name, business_type, address, created_at)
				VALUES ($1, $2, $3, $4, $5)`,
				user.ID, in.Merchant.BusinessName, in.Merchant.BusinessType, in.Merchant.Address, now,
			)
			if err != nil {
				return database.MapPostgresError(err)
			}
		}

		created = user
		return nil
	})
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return created, nil
}

func (r *UserRepository) GetMerchantProfile(ctx context.Context, userID string) (*models.MerchantProfile, error) {
	query := `
		SELECT user_id, business_name, business_type, address, verified, rating::float8, created_at
		FROM merchant_profiles WHERE user_id = $1
	`

	var p models.MerchantProfile
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&p.UserID, &p.BusinessName, &p.BusinessType, &p.Address, &p.Verified, &p.Rating, &p.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &p, nil
}

func (r *UserRepository) UpdateUsername(ctx context.Context, id, username string) (*models.User, error) {
	query := `
		UPDATE users SET username = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns

	return scanUserRow(r.pool.QueryRow(ctx, query, id, username))
}

// UpdatePassword stores a new hash and clears any lockout state.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	query := `
		UPDATE users
		SET password_hash = $2, failed_attempts = 0, locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id, passwordHash)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// LinkProvider writes externalID into the account's provider slot. The slot
// is only written while empty or already holding externalID, so a second
// identity of the same provider never replaces the first. The partial unique
// index turns a bind already held by another account into ErrConflict.
func (r *UserRepository) LinkProvider(ctx context.Context, id, provider, externalID string) error {
	column, err := providerColumn(provider)
	if err != nil {
		return err
	}

	query := `UPDATE users SET ` + column + ` = $2, updated_at = NOW()
		WHERE id = $1 AND (` + column + ` IS NULL OR ` + column + ` = $2)`

	result, err := r.pool.Exec(ctx, query, id, externalID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
		return database.MapPostgresError(err)
	}
	if !exists {
		return models.ErrNotFound
	}
	return fmt.Errorf("%w: %s slot already holds another identity", models.ErrConflict, provider)
}

// GetLockedUntil returns the stored lockout deadline for the account, nil when none is set.
func (r *UserRepository) GetLockedUntil(ctx context.Context, username string) (*time.Time, error) {
	var lockedUntil *time.Time
	err := r.pool.QueryRow(ctx, `SELECT locked_until FROM users WHERE username = $1`, username).Scan(&lockedUntil)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return lockedUntil, nil
}

// RecordFailure applies one failed attempt as a single conditional update.
// A lock whose deadline has passed starts a fresh counter; a live lock keeps
// both counter and deadline unchanged; reaching maxAttempts arms the lock at deadline.
func (r *UserRepository) RecordFailure(ctx context.Context, username string, now, deadline time.Time, maxAttempts int) (*models.LockoutState, error) {
	query := `
		UPDATE users SET
			failed_attempts = CASE
				WHEN locked_until IS NOT NULL AND locked_until <= $2::timestamptz THEN 1
				WHEN failed_attempts >= $4::int THEN failed_attempts
				ELSE failed_attempts + 1
			END,
			locked_until = CASE
				WHEN locked_until IS NOT NULL AND locked_until <= $2::timestamptz THEN
					CASE WHEN 1 >= $4::int THEN $3::timestamptz ELSE NULL END
				WHEN locked_until IS NOT NULL THEN locked_until
				WHEN failed_attempts + 1 >= $4::int THEN $3::timestamptz
				ELSE NULL
			END,
			updated_at = $2::timestamptz
		WHERE username = $1
		RETURNING failed_attempts, locked_until, email, locked_until IS NOT DISTINCT FROM $3::timestamptz
	`

	var state models.LockoutState
	err := r.pool.QueryRow(ctx, query, username, now, deadline, maxAttempts).Scan(
		&state.FailedAttempts, &state.LockedUntil, &state.Email, &state.NewlyLocked,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &state, nil
}

func (r *UserRepository) ResetFailures(ctx context.Context, username string) error {
	query := `
		UPDATE users SET failed_attempts = 0, locked_until = NULL, updated_at = NOW()
		WHERE username = $1 AND (failed_attempts <> 0 OR locked_until IS NOT NULL)
	`

	if _, err := r.pool.Exec(ctx, query, username); err != nil {
		return database.MapPostgresError(err)
	}
	return nil
}

// ClearExpiredLocks zeroes counters on accounts whose lock deadline has passed.
func (r *UserRepository) ClearExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE users SET failed_attempts = 0, locked_until = NULL, updated_at = $1
		WHERE locked_until IS NOT NULL AND locked_until <= $1
	`

	result, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
