package service

import (
	"context"
	"errors"

	"github.com/prperemyshlev/identity-service/internal/apperr"
	"github.com/prperemyshlev/identity-service/internal/domain"
	"github.com/prperemyshlev/identity-service/internal/repository"
	"github.com/prperemyshlev/identity-service/internal/utils"
	"go.uber.org/zap"
)

// Principal is the caller admitted by the Guard.
type Principal struct {
	User   *domain.User
	Claims *domain.TokenClaims
}

// Guard decides whether a bearer access token admits a request.
type Guard struct {
	users                repository.UserRepository
	issuer               *utils.TokenIssuer
	revocations          RevocationStore
	requireVerifiedEmail bool
	logger               *zap.Logger
}

func NewGuard(
	users repository.UserRepository,
	issuer *utils.TokenIssuer,
	revocations RevocationStore,
	requireVerifiedEmail bool,
	logger *zap.Logger,
) *Guard {
	return &Guard{
		users:                users,
		issuer:               issuer,
		revocations:          revocations,
		requireVerifiedEmail: requireVerifiedEmail,
		logger:               logger,
	}
}

// Authenticate verifies token, loads its user and applies the verified-email and
// revocation policies. Clients only learn TOKEN_EXPIRED, INVALID_TOKEN,
// EMAIL_NOT_VERIFIED or UNAUTHORIZED; the precise reason is logged.
func (g *Guard) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, g.reject("missing credential", apperr.CodeUnauthorized, "Authentication required")
	}

	claims, err := g.issuer.Verify(token, false)
	if err != nil {
		if errors.Is(err, utils.ErrTokenExpired) {
			return nil, g.reject("expired access token", apperr.CodeTokenExpired, "Token has expired")
		}
		g.logger.Debug("Access token rejected", zap.Error(err))
		return nil, g.reject("malformed access token", apperr.CodeInvalidToken, "Invalid token")
	}

	user, err := g.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, g.reject("token subject no longer exists", apperr.CodeUnauthorized, "Unauthorized", zap.String("user_id", claims.UserID))
		}
		g.logger.Error("Failed to load token subject", zap.String("user_id", claims.UserID), zap.Error(err))
		return nil, apperr.Internal("Authentication failed", err)
	}

	if g.requireVerifiedEmail && !user.EmailVerified {
		return nil, g.reject("email not verified", apperr.CodeEmailNotVerified, "Email address is not verified", zap.String("user_id", user.ID))
	}

	if revokedBefore, ok, err := g.revocations.RevokedBefore(ctx, user.ID); err != nil {
		g.logger.Warn("Failed to read revocation watermark", zap.String("user_id", user.ID), zap.Error(err))
	} else if ok && claims.Iat < revokedBefore.Unix() {
		return nil, g.reject("token issued before revocation", apperr.CodeSessionExpired, "Session has been revoked", zap.String("user_id", user.ID))
	}

	now := g.issuer.Now()
	if err := g.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		g.logger.Warn("Failed to update last login", zap.String("user_id", user.ID), zap.Error(err))
	} else {
		user.LastLoginAt = &now
	}

	return &Principal{User: user, Claims: claims}, nil
}

func (g *Guard) reject(reason, code, message string, fields ...zap.Field) error {
	g.logger.Debug("Request rejected by auth guard", append(fields, zap.String("reason", reason))...)
	return apperr.Unauthorized(code, message)
}
