package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prperemyshlev/identity-service/internal/apperr"
	"github.com/prperemyshlev/identity-service/internal/domain"
	"github.com/prperemyshlev/identity-service/internal/repository"
	"github.com/prperemyshlev/identity-service/internal/utils"
	"go.uber.org/zap"
)

type SessionConfig struct {
	Expiry               time.Duration
	RememberMeExpiry     time.Duration
	RequireVerifiedEmail bool
	// RotateRefreshTokens swaps the stored refresh token on every refresh.
	RotateRefreshTokens bool
}

// SessionManager owns the session rows and the refresh tokens mirrored into them.
type SessionManager struct {
	sessions    repository.SessionRepository
	users       repository.UserRepository
	issuer      *utils.TokenIssuer
	revocations RevocationStore
	cfg         SessionConfig
	logger      *zap.Logger
}

func NewSessionManager(
	sessions repository.SessionRepository,
	users repository.UserRepository,
	issuer *utils.TokenIssuer,
	revocations RevocationStore,
	cfg SessionConfig,
	logger *zap.Logger,
) *SessionManager {
	return &SessionManager{
		sessions:    sessions,
		users:       users,
		issuer:      issuer,
		revocations: revocations,
		cfg:         cfg,
		logger:      logger,
	}
}

func (m *SessionManager) ttl(rememberMe bool) time.Duration {
	if rememberMe {
		return m.cfg.RememberMeExpiry
	}
	return m.cfg.Expiry
}

// Create inserts a session and returns the token pair whose refresh token is stored on it.
func (m *SessionManager) Create(ctx context.Context, userID, email string, opts SessionOptions) (*domain.Session, *domain.Tokens, error) {
	now := m.issuer.Now()
	ttl := m.ttl(opts.RememberMe)

	session := &domain.Session{
		ID:         uuid.New().String(),
		UserID:     userID,
		UserAgent:  optional(opts.UserAgent),
		IPAddress:  optional(opts.IPAddress),
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
		LastUsedAt: now,
	}

	tokens, err := m.issuer.IssueTokenPair(userID, email, session.ID, ttl)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to issue tokens: %w", err)
	}
	session.RefreshToken = tokens.RefreshToken

	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, tokens, nil
}

func (m *SessionManager) ListActive(ctx context.Context, userID string) ([]*domain.Session, error) {
	sessions, err := m.sessions.ListActiveByUserID(ctx, userID, m.issuer.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

func (m *SessionManager) CountActive(ctx context.Context, userID string) (int64, error) {
	return m.sessions.CountActiveByUserID(ctx, userID, m.issuer.Now())
}

// Revoke deletes the session only if userID owns it.
func (m *SessionManager) Revoke(ctx context.Context, sessionID, userID string) error {
	if err := m.sessions.DeleteByIDAndUserID(ctx, sessionID, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound(apperr.CodeSessionNotFound, "Session not found")
		}
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// Delete removes a single session without an ownership check. A missing session is not an error.
func (m *SessionManager) Delete(ctx context.Context, sessionID string) error {
	if err := m.sessions.Delete(ctx, sessionID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// RevokeAll deletes every session of the user and stops access tokens issued before now
// from being admitted.
func (m *SessionManager) RevokeAll(ctx context.Context, userID string) error {
	deleted, err := m.sessions.DeleteByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}

	if err := m.revocations.RevokeBefore(ctx, userID, m.issuer.Now()); err != nil {
		m.logger.Warn("Failed to record access token revocation",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}

	m.logger.Info("Sessions revoked",
		zap.String("user_id", userID),
		zap.Int64("count", deleted),
	)
	return nil
}

// Touch records activity on a session. Failures are logged only.
func (m *SessionManager) Touch(ctx context.Context, sessionID string) {
	if err := m.sessions.Touch(ctx, sessionID, m.issuer.Now()); err != nil {
		m.logger.Warn("Failed to touch session",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
}

// Refresh issues a new access token for the session holding refreshToken.
func (m *SessionManager) Refresh(ctx context.Context, refreshToken string) (*domain.Tokens, error) {
	if refreshToken == "" {
		return nil, apperr.Unauthorized(apperr.CodeInvalidToken, "Refresh token is required")
	}

	claims, err := m.issuer.Verify(refreshToken, true)
	if err != nil {
		if errors.Is(err, utils.ErrTokenExpired) {
			return nil, apperr.Unauthorized(apperr.CodeSessionExpired, "Session has expired")
		}
		return nil, apperr.Unauthorized(apperr.CodeInvalidToken, "Invalid refresh token")
	}

	now := m.issuer.Now()
	session, err := m.sessions.GetActiveByRefreshToken(ctx, refreshToken, now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Unauthorized(apperr.CodeSessionExpired, "Session has expired")
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session.UserID != claims.UserID {
		return nil, apperr.Unauthorized(apperr.CodeInvalidToken, "Invalid refresh token")
	}

	user, err := m.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Unauthorized(apperr.CodeUnauthorized, "Unauthorized")
		}
		return nil, fmt.Errorf("failed to load session owner: %w", err)
	}
	if m.cfg.RequireVerifiedEmail && !user.EmailVerified {
		return nil, apperr.Unauthorized(apperr.CodeEmailNotVerified, "Email address is not verified")
	}

	m.Touch(ctx, session.ID)

	access, err := m.issuer.IssueAccessToken(user.ID, user.Email, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	refresh := session.RefreshToken
	if m.cfg.RotateRefreshTokens {
		refresh, err = m.issuer.IssueRefreshToken(user.ID, user.Email, session.ExpiresAt.Sub(now))
		if err != nil {
			return nil, fmt.Errorf("failed to issue refresh token: %w", err)
		}
		if err := m.sessions.UpdateRefreshToken(ctx, session.ID, refresh); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, apperr.Unauthorized(apperr.CodeSessionExpired, "Session has expired")
			}
			return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
		}
	}

	return &domain.Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    m.issuer.ExpiresIn(access),
	}, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
