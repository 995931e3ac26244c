package domain

import "time"

const AuthProviderLocal = "local"

// User is an account. PasswordHash is nil for accounts created through an external provider.
type User struct {
	ID             string     `json:"id" db:"id"`
	Email          string     `json:"email" db:"email"`
	PasswordHash   *string    `json:"-" db:"password_hash"`
	FirstName      *string    `json:"first_name" db:"first_name"`
	LastName       *string    `json:"last_name" db:"last_name"`
	DisplayName    *string    `json:"display_name" db:"display_name"`
	AvatarURL      *string    `json:"avatar_url" db:"avatar_url"`
	EmailVerified  bool       `json:"email_verified" db:"email_verified"`
	AuthProvider   string     `json:"auth_provider" db:"auth_provider"`
	AuthProviderID *string    `json:"-" db:"auth_provider_id"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
	LastLoginAt    *time.Time `json:"last_login_at" db:"last_login_at"`
}

// HasPassword reports whether the account can sign in with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// Profile is the editable part of a user.
type Profile struct {
	FirstName   *string
	LastName    *string
	DisplayName *string
	AvatarURL   *string
}

// UserStats are aggregate counters exposed by the stats endpoint.
type UserStats struct {
	TotalUsers     int64 `json:"total_users"`
	ActiveSessions int64 `json:"active_sessions"`
	VerifiedUsers  int64 `json:"verified_users"`
}
