package service

import (
	"context"
	"errors"
	"time"

	"github.com/prperemyshlev/identity-service/internal/repository"
	"go.uber.org/zap"
)

// Janitor purges expired sessions and spent one-time tokens. Reads already
// ignore expired rows; this only bounds table growth.
type Janitor struct {
	repos    *repository.Repositories
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

func NewJanitor(repos *repository.Repositories, interval time.Duration, now func() time.Time, logger *zap.Logger) *Janitor {
	if now == nil {
		now = time.Now
	}
	return &Janitor{repos: repos, interval: interval, now: now, logger: logger}
}

func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := j.Sweep(ctx); err != nil && ctx.Err() == nil {
				j.logger.Warn("Cleanup failed", zap.Error(err))
			}
		}
	}
}

func (j *Janitor) Sweep(ctx context.Context) error {
	now := j.now()

	sessions, err1 := j.repos.Session.DeleteExpired(ctx, now)
	verifications, err2 := j.repos.VerificationToken.DeleteExpired(ctx, now)
	resets, err3 := j.repos.ResetToken.DeleteExpired(ctx, now)

	if sessions+verifications+resets > 0 {
		j.logger.Info("Expired records removed",
			zap.Int64("sessions", sessions),
			zap.Int64("verification_tokens", verifications),
			zap.Int64("reset_tokens", resets),
		)
	}
	return errors.Join(err1, err2, err3)
}
