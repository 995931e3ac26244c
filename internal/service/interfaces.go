package service

import (
	"context"
	"io"
	"time"

	"github.com/prperemyshlev/identity-service/internal/domain"
)

// SessionOptions describe the device a session is created for.
type SessionOptions struct {
	UserAgent  string
	IPAddress  string
	RememberMe bool
}

type RegisterInput struct {
	Email     string
	Password  string
	FirstName *string
	LastName  *string
	Device    SessionOptions
}

type LoginInput struct {
	Email    string
	Password string
	Device   SessionOptions
}

// AuthResult is returned by every operation that signs a user in.
type AuthResult struct {
	User      *domain.User
	SessionID string
	Tokens    *domain.Tokens
}

// AuthService is the authentication and session lifecycle exposed to the HTTP layer.
// Every returned error is an *apperr.AppError.
type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (*AuthResult, error)
	Login(ctx context.Context, in LoginInput) (*AuthResult, error)
	Logout(ctx context.Context, sessionID string)
	LogoutAll(ctx context.Context, userID string)
	RefreshTokens(ctx context.Context, refreshToken string) (*domain.Tokens, error)
	ListSessions(ctx context.Context, userID string) ([]*domain.Session, error)
	RevokeSession(ctx context.Context, sessionID, userID string) error
	VerifyEmail(ctx context.Context, token string, device SessionOptions) (*AuthResult, error)
	ResendVerification(ctx context.Context, email string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error
	GetUser(ctx context.Context, userID string) (*domain.User, error)
}

// ProfileService covers the account data around authentication.
type ProfileService interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	UpdateProfile(ctx context.Context, userID string, in ProfileInput) (*domain.User, error)
	UploadAvatar(ctx context.Context, userID string, file io.Reader, size int64) (*domain.User, error)
	RemoveAvatar(ctx context.Context, userID string) (*domain.User, error)
	Stats(ctx context.Context) (*domain.UserStats, error)
	EmailExists(ctx context.Context, email string) (bool, error)
}

// Profile is a user together with how many devices are signed in.
type Profile struct {
	User           *domain.User
	ActiveSessions int64
}

// ProfileInput holds the fields a user may change; nil means unchanged.
type ProfileInput struct {
	FirstName   *string
	LastName    *string
	DisplayName *string
	AvatarURL   *string
}

// RevocationStore remembers, per user, the instant before which access tokens are no longer admitted.
type RevocationStore interface {
	RevokeBefore(ctx context.Context, userID string, at time.Time) error
	RevokedBefore(ctx context.Context, userID string) (time.Time, bool, error)
}
