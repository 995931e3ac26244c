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

const sessionColumns = `id, user_id, refresh_token, user_agent, ip_address, expires_at, created_at, last_used_at`

type sessionRepository struct {
	db *database.Postgres
}

func NewSessionRepository(db *database.Postgres) SessionRepository {
	return &sessionRepository{db: db}
}

func scanSession(row rowScanner) (*domain.Session, error) {
	session := &domain.Session{}
	var userAgent, ipAddress sql.NullString

	if err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.RefreshToken,
		&userAgent,
		&ipAddress,
		&session.ExpiresAt,
		&session.CreatedAt,
		&session.LastUsedAt,
	); err != nil {
		return nil, err
	}

	session.UserAgent = nullString(userAgent)
	session.IPAddress = nullString(ipAddress)
	return session, nil
}

func (r *sessionRepository) Create(ctx context.Context, session *domain.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, refresh_token, user_agent, ip_address, expires_at, created_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	if session.ID == "" {
		session.ID = uuid.New().String()
	}

	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.LastUsedAt.IsZero() {
		session.LastUsedAt = session.CreatedAt
	}

	_, err := r.db.DB.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		session.RefreshToken,
		session.UserAgent,
		session.IPAddress,
		session.ExpiresAt,
		session.CreatedAt,
		session.LastUsedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("session refresh token already exists: %w", ErrDuplicateToken)
		}
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

func (r *sessionRepository) GetActiveByRefreshToken(ctx context.Context, refreshToken string, now time.Time) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE refresh_token = $1 AND expires_at > $2`

	session, err := scanSession(r.db.DB.QueryRowContext(ctx, query, refreshToken, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session not found: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get session by refresh token: %w", err)
	}

	return session, nil
}

func (r *sessionRepository) ListActiveByUserID(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND expires_at > $2
		ORDER BY last_used_at DESC
	`

	rows, err := r.db.DB.QueryContext(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

func (r *sessionRepository) CountActiveByUserID(ctx context.Context, userID string, now time.Time) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM sessions WHERE user_id = $1 AND expires_at > $2`
	if err := r.db.DB.QueryRowContext(ctx, query, userID, now).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}

func (r *sessionRepository) Touch(ctx context.Context, sessionID string, at time.Time) error {
	return r.execOne(ctx, `UPDATE sessions SET last_used_at = $2 WHERE id = $1`, sessionID, at)
}

func (r *sessionRepository) UpdateRefreshToken(ctx context.Context, sessionID, refreshToken string) error {
	err := r.execOne(ctx, `UPDATE sessions SET refresh_token = $2 WHERE id = $1`, sessionID, refreshToken)
	if isUniqueViolation(err) {
		return fmt.Errorf("session refresh token already exists: %w", ErrDuplicateToken)
	}
	return err
}

func (r *sessionRepository) Delete(ctx context.Context, sessionID string) error {
	return r.execOne(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
}

// DeleteByIDAndUserID deletes a session only when it belongs to userID.
func (r *sessionRepository) DeleteByIDAndUserID(ctx context.Context, sessionID, userID string) error {
	return r.execOne(ctx, `DELETE FROM sessions WHERE id = $1 AND user_id = $2`, sessionID, userID)
}

func (r *sessionRepository) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	return r.execMany(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
}

func (r *sessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.execMany(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
}

func (r *sessionRepository) execOne(ctx context.Context, query string, args ...any) error {
	affected, err := r.execMany(ctx, query, args...)
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("session not found: %w", ErrNotFound)
	}
	return nil
}

func (r *sessionRepository) execMany(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := r.db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to execute session query: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected, nil
}
