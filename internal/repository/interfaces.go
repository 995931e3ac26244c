package repository

import (
	"context"
	"time"

	"github.com/prperemyshlev/identity-service/internal/domain"
)

// UserRepository defines methods for user operations
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id string) (*domain.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	UpdateProfile(ctx context.Context, userID string, profile domain.Profile) (*domain.User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	MarkEmailVerified(ctx context.Context, userID string) error
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
	Stats(ctx context.Context, now time.Time) (*domain.UserStats, error)
}

// SessionRepository stores one row per logged-in device. Reads that take now
// only return sessions whose expires_at is after it.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session) error
	GetActiveByRefreshToken(ctx context.Context, refreshToken string, now time.Time) (*domain.Session, error)
	ListActiveByUserID(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error)
	CountActiveByUserID(ctx context.Context, userID string, now time.Time) (int64, error)
	Touch(ctx context.Context, sessionID string, at time.Time) error
	UpdateRefreshToken(ctx context.Context, sessionID, refreshToken string) error
	Delete(ctx context.Context, sessionID string) error
	DeleteByIDAndUserID(ctx context.Context, sessionID, userID string) error
	DeleteByUserID(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// VerificationTokenRepository stores email verification tokens.
type VerificationTokenRepository interface {
	Create(ctx context.Context, token *domain.EmailVerificationToken) error
	GetValid(ctx context.Context, token string, now time.Time) (*domain.EmailVerificationToken, error)
	Delete(ctx context.Context, id string) error
	DeleteByUserID(ctx context.Context, userID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ResetTokenRepository stores password reset tokens.
type ResetTokenRepository interface {
	Create(ctx context.Context, token *domain.PasswordResetToken) error
	GetValid(ctx context.Context, token string, now time.Time) (*domain.PasswordResetToken, error)
	// MarkUsed flips used to true only if it was false; ErrNotFound means another request got there first.
	MarkUsed(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
