// Package repositories implements the data access layer for BoxIT.
// Each repository encapsulates the queries for one entity. Every inventory query is
// scoped by the owning user so that a row belonging to someone else is simply not found.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/FilipRus/boxItFindIt/internal/db/models"
)

const userColumns = `id, email, password_hash, name, email_verified, verification_token,
		password_reset_token, password_reset_expires, created_at, updated_at`

// UserRepository handles user database operations
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// CreateUser inserts a new user. A duplicate email surfaces as a unique violation.
func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	user.ID = uuid.New().String()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt

	query := `
		INSERT INTO users (id, email, password_hash, name, email_verified, verification_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.Name,
		user.EmailVerified,
		user.VerificationToken,
		user.CreatedAt,
		user.UpdatedAt,
	)

	return err
}

func scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Name,
		&user.EmailVerified,
		&user.VerificationToken,
		&user.PasswordResetToken,
		&user.PasswordResetExpires,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByID retrieves a user by ID
func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, userID))
}

// GetUserByEmail retrieves a user by email
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

// GetUserByVerificationToken retrieves the user a verification link was issued to
func (r *UserRepository) GetUserByVerificationToken(ctx context.Context, token string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE verification_token = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, token))
}

// GetUserByResetToken retrieves the user holding a password reset token.
// Expiry is checked by the caller.
func (r *UserRepository) GetUserByResetToken(ctx context.Context, token string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE password_reset_token = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, token))
}

// MarkEmailVerified sets the verified flag and consumes the verification token
func (r *UserRepository) MarkEmailVerified(ctx context.Context, userID string) error {
	query := `
		UPDATE users
		SET email_verified = true, verification_token = NULL, updated_at = $2
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, userID, time.Now())
	return err
}

// SetPasswordResetToken stores a single-use reset token and its expiry
func (r *UserRepository) SetPasswordResetToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	query := `
		UPDATE users
		SET password_reset_token = $2, password_reset_expires = $3, updated_at = $4
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, userID, token, expiresAt, time.Now())
	return err
}

// ResetPassword replaces the password hash and consumes the reset token.
// Token and expiry are matched again in the UPDATE, so a token consumed
// concurrently or expired since the lookup cannot be used.
// Returns false when no live token matched.
func (r *UserRepository) ResetPassword(ctx context.Context, userID, token, passwordHash string) (bool, error) {
	query := `
		UPDATE users
		SET password_hash = $3, password_reset_token = NULL, password_reset_expires = NULL, updated_at = $4
		WHERE id = $1 AND password_reset_token = $2 AND password_reset_expires > $4
	`
	result, err := r.db.ExecContext(ctx, query, userID, token, passwordHash, time.Now())
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdatePasswordHash replaces a user's password hash (operator resets)
func (r *UserRepository) UpdatePasswordHash(ctx context.Context, email, passwordHash string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2, updated_at = $3 WHERE email = $1`,
		email, passwordHash, time.Now(),
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClearExpiredResetTokens removes reset tokens whose expiry has passed
func (r *UserRepository) ClearExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE users
		SET password_reset_token = NULL, password_reset_expires = NULL
		WHERE password_reset_expires IS NOT NULL AND password_reset_expires < $1
	`
	result, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteUnverifiedBefore removes accounts that never verified their email and were
// created before cutoff. Their inventory cascades with them.
func (r *UserRepository) DeleteUnverifiedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE email_verified = false AND created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
