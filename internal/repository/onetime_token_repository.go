package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prperemyshlev/identity-service/internal/domain"
	"github.com/prperemyshlev/identity-service/pkg/database"
)

type verificationTokenRepository struct {
	db *database.Postgres
}

func NewVerificationTokenRepository(db *database.Postgres) VerificationTokenRepository {
	return &verificationTokenRepository{db: db}
}

func (r *verificationTokenRepository) Create(ctx context.Context, token *domain.EmailVerificationToken) error {
	query := `
		INSERT INTO email_verification_tokens (id, user_id, email, token, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	if token.ID == "" {
		token.ID = uuid.New().String()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}

	_, err := r.db.DB.ExecContext(ctx, query,
		token.ID, token.UserID, token.Email, token.Token, token.ExpiresAt, token.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("verification token already exists: %w", ErrDuplicateToken)
		}
		return fmt.Errorf("failed to create verification token: %w", err)
	}

	return nil
}

func (r *verificationTokenRepository) GetValid(ctx context.Context, token string, now time.Time) (*domain.EmailVerificationToken, error) {
	query := `
		SELECT id, user_id, email, token, expires_at, created_at
		FROM email_verification_tokens
		WHERE token = $1 AND expires_at > $2
	`

	t := &domain.EmailVerificationToken{}
	err := r.db.DB.QueryRowContext(ctx, query, token, now).Scan(
		&t.ID, &t.UserID, &t.Email, &t.Token, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("verification token not found: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get verification token: %w", err)
	}

	return t, nil
}

// Delete returns ErrNotFound when the token was already consumed.
func (r *verificationTokenRepository) Delete(ctx context.Context, id string) error {
	affected, err := execAffected(ctx, r.db, `DELETE FROM email_verification_tokens WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("verification token already used: %w", ErrNotFound)
	}
	return nil
}

func (r *verificationTokenRepository) DeleteByUserID(ctx context.Context, userID string) error {
	if _, err := r.db.DB.ExecContext(ctx, `DELETE FROM email_verification_tokens WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete verification tokens: %w", err)
	}
	return nil
}

func (r *verificationTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return execAffected(ctx, r.db, `DELETE FROM email_verification_tokens WHERE expires_at <= $1`, now)
}

type resetTokenRepository struct {
	db *database.Postgres
}

func NewResetTokenRepository(db *database.Postgres) ResetTokenRepository {
	return &resetTokenRepository{db: db}
}

func (r *resetTokenRepository) Create(ctx context.Context, token *domain.PasswordResetToken) error {
	query := `
		INSERT INTO password_reset_tokens (id, user_id, email, token, expires_at, used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	if token.ID == "" {
		token.ID = uuid.New().String()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}

	_, err := r.db.DB.ExecContext(ctx, query,
		token.ID, token.UserID, token.Email, token.Token, token.ExpiresAt, token.Used, token.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("reset token already exists: %w", ErrDuplicateToken)
		}
		return fmt.Errorf("failed to create reset token: %w", err)
	}

	return nil
}

func (r *resetTokenRepository) GetValid(ctx context.Context, token string, now time.Time) (*domain.PasswordResetToken, error) {
	query := `
		SELECT id, user_id, email, token, expires_at, used, created_at
		FROM password_reset_tokens
		WHERE token = $1 AND used = FALSE AND expires_at > $2
	`

	t := &domain.PasswordResetToken{}
	err := r.db.DB.QueryRowContext(ctx, query, token, now).Scan(
		&t.ID, &t.UserID, &t.Email, &t.Token, &t.ExpiresAt, &t.Used, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("reset token not found: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get reset token: %w", err)
	}

	return t, nil
}

func (r *resetTokenRepository) MarkUsed(ctx context.Context, id string) error {
	affected, err := execAffected(ctx, r.db, `UPDATE password_reset_tokens SET used = TRUE WHERE id = $1 AND used = FALSE`, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("reset token already used: %w", ErrNotFound)
	}
	return nil
}

func (r *resetTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return execAffected(ctx, r.db, `DELETE FROM password_reset_tokens WHERE expires_at <= $1 OR used`, now)
}

func execAffected(ctx context.Context, db *database.Postgres, query string, args ...any) (int64, error) {
	result, err := db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to execute query: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected, nil
}
