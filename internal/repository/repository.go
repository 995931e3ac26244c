package repository

import (
	"github.com/prperemyshlev/identity-service/pkg/database"
)

// Repositories holds all repository interfaces
type Repositories struct {
	User              UserRepository
	Session           SessionRepository
	VerificationToken VerificationTokenRepository
	ResetToken        ResetTokenRepository
}

// NewRepositories creates all repositories
func NewRepositories(db *database.Postgres) *Repositories {
	return &Repositories{
		User:              NewUserRepository(db),
		Session:           NewSessionRepository(db),
		VerificationToken: NewVerificationTokenRepository(db),
		ResetToken:        NewResetTokenRepository(db),
	}
}
