package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/prperemyshlev/identity-service/internal/apperr"
	"github.com/prperemyshlev/identity-service/internal/domain"
	"github.com/prperemyshlev/identity-service/internal/notification"
	"github.com/prperemyshlev/identity-service/internal/repository"
	"github.com/prperemyshlev/identity-service/internal/utils"
	"github.com/prperemyshlev/identity-service/pkg/observability"
	"go.uber.org/zap"
)

type AuthConfig struct {
	RequireEmailVerification bool
	VerificationTokenTTL     time.Duration
	ResetTokenTTL            time.Duration
	FrontendURL              string
}

// authService implements AuthService interface
type authService struct {
	users              repository.UserRepository
	verificationTokens repository.VerificationTokenRepository
	resetTokens        repository.ResetTokenRepository
	hasher             *utils.PasswordHasher
	issuer             *utils.TokenIssuer
	sessions           *SessionManager
	sender             notification.Sender
	metrics            *observability.AuthMetrics
	cfg                AuthConfig
	logger             *zap.Logger
}

// NewAuthService creates a new auth service
func NewAuthService(
	repos *repository.Repositories,
	hasher *utils.PasswordHasher,
	issuer *utils.TokenIssuer,
	sessions *SessionManager,
	sender notification.Sender,
	metrics *observability.AuthMetrics,
	cfg AuthConfig,
	logger *zap.Logger,
) AuthService {
	return &authService{
		users:              repos.User,
		verificationTokens: repos.VerificationToken,
		resetTokens:        repos.ResetToken,
		hasher:             hasher,
		issuer:             issuer,
		sessions:           sessions,
		sender:             sender,
		metrics:            metrics,
		cfg:                cfg,
		logger:             logger,
	}
}

var errInvalidCredentials = apperr.Unauthorized(apperr.CodeInvalidCredentials, "Invalid email or password")

func (s *authService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	email := utils.NormalizeEmail(in.Email)
	if !utils.ValidateEmail(email) {
		return nil, apperr.BadRequest(apperr.CodeValidation, "Invalid email address")
	}

	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, s.fail("register", err, "Registration failed")
	}
	if exists {
		return nil, apperr.Conflict(apperr.CodeEmailAlreadyExists, "Email is already registered")
	}

	if err := s.checkStrength(in.Password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, s.fail("register", err, "Registration failed")
	}

	user := &domain.User{
		Email:         email,
		PasswordHash:  &hash,
		FirstName:     in.FirstName,
		LastName:      in.LastName,
		DisplayName:   utils.DisplayName(in.FirstName, in.LastName),
		EmailVerified: !s.cfg.RequireEmailVerification,
		AuthProvider:  domain.AuthProviderLocal,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, apperr.Conflict(apperr.CodeEmailAlreadyExists, "Email is already registered")
		}
		return nil, s.fail("register", err, "Registration failed")
	}

	session, tokens, err := s.sessions.Create(ctx, user.ID, user.Email, in.Device)
	if err != nil {
		return nil, s.fail("register", err, "Registration failed")
	}

	if s.cfg.RequireEmailVerification {
		if err := s.sendVerification(ctx, user); err != nil {
			return nil, s.fail("register", err, "Failed to send verification email")
		}
	} else {
		s.sendWelcome(ctx, user)
	}

	s.metrics.Registration(ctx)
	s.logger.Info("User registered", zap.String("user_id", user.ID))

	return &AuthResult{User: user, SessionID: session.ID, Tokens: tokens}, nil
}

func (s *authService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	user, err := s.users.GetByEmail(ctx, utils.NormalizeEmail(in.Email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.hasher.VerifyDummy(in.Password)
			s.metrics.Login(ctx, "invalid_credentials")
			return nil, errInvalidCredentials
		}
		return nil, s.fail("login", err, "Login failed")
	}

	if !user.HasPassword() {
		s.hasher.VerifyDummy(in.Password)
		s.metrics.Login(ctx, "invalid_credentials")
		return nil, errInvalidCredentials
	}
	if !s.hasher.Verify(in.Password, *user.PasswordHash) {
		s.metrics.Login(ctx, "invalid_credentials")
		return nil, errInvalidCredentials
	}

	if s.cfg.RequireEmailVerification && !user.EmailVerified {
		s.metrics.Login(ctx, "email_not_verified")
		return nil, apperr.Unauthorized(apperr.CodeEmailNotVerified, "Email address is not verified")
	}

	session, tokens, err := s.sessions.Create(ctx, user.ID, user.Email, in.Device)
	if err != nil {
		return nil, s.fail("login", err, "Login failed")
	}

	now := s.issuer.Now()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("Failed to update last login", zap.String("user_id", user.ID), zap.Error(err))
	} else {
		user.LastLoginAt = &now
	}

	s.metrics.Login(ctx, "success")
	return &AuthResult{User: user, SessionID: session.ID, Tokens: tokens}, nil
}

func (s *authService) Logout(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		s.logger.Warn("Failed to delete session on logout", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *authService) LogoutAll(ctx context.Context, userID string) {
	if err := s.sessions.RevokeAll(ctx, userID); err != nil {
		s.logger.Warn("Failed to revoke sessions on logout", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *authService) RefreshTokens(ctx context.Context, refreshToken string) (*domain.Tokens, error) {
	tokens, err := s.sessions.Refresh(ctx, refreshToken)
	if err != nil {
		s.metrics.Refresh(ctx, "rejected")
		return nil, s.fail("refresh", err, "Token refresh failed")
	}
	s.metrics.Refresh(ctx, "success")
	return tokens, nil
}

func (s *authService) ListSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	sessions, err := s.sessions.ListActive(ctx, userID)
	if err != nil {
		return nil, s.fail("list sessions", err, "Failed to list sessions")
	}
	return sessions, nil
}

func (s *authService) RevokeSession(ctx context.Context, sessionID, userID string) error {
	if err := s.sessions.Revoke(ctx, sessionID, userID); err != nil {
		return s.fail("revoke session", err, "Failed to revoke session")
	}
	return nil
}

// VerifyEmail consumes the token, marks the address verified and signs the user in.
func (s *authService) VerifyEmail(ctx context.Context, token string, device SessionOptions) (*AuthResult, error) {
	if token == "" {
		return nil, apperr.BadRequest(apperr.CodeInvalidToken, "Verification token is required")
	}

	record, err := s.verificationTokens.GetValid(ctx, token, s.issuer.Now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.BadRequest(apperr.CodeInvalidToken, "Invalid or expired verification token")
		}
		return nil, s.fail("verify email", err, "Email verification failed")
	}

	user, err := s.users.GetByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound(apperr.CodeUserNotFound, "User not found")
		}
		return nil, s.fail("verify email", err, "Email verification failed")
	}

	if err := s.verificationTokens.Delete(ctx, record.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.BadRequest(apperr.CodeInvalidToken, "Invalid or expired verification token")
		}
		return nil, s.fail("verify email", err, "Email verification failed")
	}
	if err := s.users.MarkEmailVerified(ctx, user.ID); err != nil {
		return nil, s.fail("verify email", err, "Email verification failed")
	}
	user.EmailVerified = true

	s.sendWelcome(ctx, user)

	session, tokens, err := s.sessions.Create(ctx, user.ID, user.Email, device)
	if err != nil {
		return nil, s.fail("verify email", err, "Email verification failed")
	}

	s.logger.Info("Email verified", zap.String("user_id", user.ID))
	return &AuthResult{User: user, SessionID: session.ID, Tokens: tokens}, nil
}

func (s *authService) ResendVerification(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, utils.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound(apperr.CodeUserNotFound, "User not found")
		}
		return s.fail("resend verification", err, "Failed to send verification email")
	}
	if user.EmailVerified {
		return apperr.BadRequest(apperr.CodeEmailAlreadyVerified, "Email address is already verified")
	}

	if err := s.verificationTokens.DeleteByUserID(ctx, user.ID); err != nil {
		return s.fail("resend verification", err, "Failed to send verification email")
	}
	if err := s.sendVerification(ctx, user); err != nil {
		return s.fail("resend verification", err, "Failed to send verification email")
	}
	return nil
}

// RequestPasswordReset answers the same way whether or not the address exists.
func (s *authService) RequestPasswordReset(ctx context.Context, email string) error {
	if !s.sender.Configured() {
		s.logger.Warn("Password reset requested but email delivery is not configured")
		return nil
	}

	token, err := utils.GenerateOpaqueToken()
	if err != nil {
		return s.fail("request password reset", err, "Failed to process password reset request")
	}

	user, err := s.users.GetByEmail(ctx, utils.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return s.fail("request password reset", err, "Failed to process password reset request")
	}
	if !user.HasPassword() {
		return nil
	}

	record := &domain.PasswordResetToken{
		UserID:    user.ID,
		Email:     user.Email,
		Token:     token,
		ExpiresAt: s.issuer.Now().Add(s.cfg.ResetTokenTTL),
	}
	if err := s.resetTokens.Create(ctx, record); err != nil {
		return s.fail("request password reset", err, "Failed to process password reset request")
	}

	link := s.frontendLink("/reset-password", token)
	if err := s.sender.SendPasswordReset(ctx, recipient(user), link, s.cfg.ResetTokenTTL); err != nil {
		s.logger.Error("Failed to send password reset email", zap.String("user_id", user.ID), zap.Error(err))
	}
	return nil
}

// ResetPassword consumes a reset token, stores the new password and signs out every device.
func (s *authService) ResetPassword(ctx context.Context, token, newPassword string) error {
	invalid := apperr.BadRequest(apperr.CodeInvalidToken, "Invalid or expired reset token")
	if token == "" {
		return invalid
	}

	record, err := s.resetTokens.GetValid(ctx, token, s.issuer.Now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return invalid
		}
		return s.fail("reset password", err, "Password reset failed")
	}

	if err := s.checkStrength(newPassword); err != nil {
		return err
	}
	// Hashed before MarkUsed: the token must stay valid if hashing fails.
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return s.fail("reset password", err, "Password reset failed")
	}

	if err := s.resetTokens.MarkUsed(ctx, record.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return invalid
		}
		return s.fail("reset password", err, "Password reset failed")
	}

	if err := s.storePassword(ctx, record.UserID, hash); err != nil {
		return s.fail("reset password", err, "Password reset failed")
	}

	s.logger.Info("Password reset", zap.String("user_id", record.UserID))
	return nil
}

func (s *authService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound(apperr.CodeUserNotFound, "User not found")
		}
		return s.fail("change password", err, "Password change failed")
	}

	if !user.HasPassword() || !s.hasher.Verify(currentPassword, *user.PasswordHash) {
		return apperr.Unauthorized(apperr.CodeInvalidCredentials, "Current password is incorrect")
	}

	if err := s.checkStrength(newPassword); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return s.fail("change password", err, "Password change failed")
	}
	if err := s.storePassword(ctx, user.ID, hash); err != nil {
		return s.fail("change password", err, "Password change failed")
	}

	s.logger.Info("Password changed", zap.String("user_id", user.ID))
	return nil
}

func (s *authService) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound(apperr.CodeUserNotFound, "User not found")
		}
		return nil, s.fail("get user", err, "Failed to load user")
	}
	return user, nil
}

// storePassword saves an already hashed password and signs out every device.
func (s *authService) storePassword(ctx context.Context, userID, hash string) error {
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	return s.sessions.RevokeAll(ctx, userID)
}

func (s *authService) checkStrength(password string) error {
	strength := s.hasher.Strength(password)
	if strength.Valid {
		return nil
	}
	return apperr.BadRequest(apperr.CodeWeakPassword, strings.Join(strength.Errors, ", "), strength.Errors...)
}

func (s *authService) sendVerification(ctx context.Context, user *domain.User) error {
	if !s.sender.Configured() {
		s.logger.Warn("Email delivery is not configured, skipping verification email", zap.String("user_id", user.ID))
		return nil
	}

	token, err := utils.GenerateOpaqueToken()
	if err != nil {
		return err
	}

	record := &domain.EmailVerificationToken{
		UserID:    user.ID,
		Email:     user.Email,
		Token:     token,
		ExpiresAt: s.issuer.Now().Add(s.cfg.VerificationTokenTTL),
	}
	if err := s.verificationTokens.Create(ctx, record); err != nil {
		return fmt.Errorf("failed to store verification token: %w", err)
	}

	link := s.frontendLink("/verify-email", token)
	if err := s.sender.SendVerification(ctx, recipient(user), token, link, s.cfg.VerificationTokenTTL); err != nil {
		return fmt.Errorf("failed to send verification email: %w", err)
	}
	return nil
}

func (s *authService) sendWelcome(ctx context.Context, user *domain.User) {
	if !s.sender.Configured() {
		return
	}
	if err := s.sender.SendWelcome(ctx, recipient(user), s.frontendLink("/dashboard", "")); err != nil {
		s.logger.Warn("Failed to send welcome email", zap.String("user_id", user.ID), zap.Error(err))
	}
}

func (s *authService) frontendLink(path, token string) string {
	link := strings.TrimRight(s.cfg.FrontendURL, "/") + path
	if token != "" {
		link += "?token=" + url.QueryEscape(token)
	}
	return link
}

// fail logs errors that are not already part of the client-facing taxonomy and hides them behind message.
func (s *authService) fail(op string, err error, message string) error {
	if apperr.As(err) == nil {
		s.logger.Error("Auth operation failed", zap.String("operation", op), zap.Error(err))
	}
	return apperr.Wrap(err, message)
}

func recipient(user *domain.User) notification.Recipient {
	name := user.Email
	switch {
	case user.DisplayName != nil && *user.DisplayName != "":
		name = *user.DisplayName
	case user.FirstName != nil && *user.FirstName != "":
		name = *user.FirstName
	}
	return notification.Recipient{Email: user.Email, Name: name}
}
