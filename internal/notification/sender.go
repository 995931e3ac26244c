// Package notification delivers transactional email: verification links,
// password reset links and the welcome message.
package notification

import (
	"context"
	"time"
)

type Recipient struct {
	Email string
	Name  string
}

// Sender delivers one kind of email per method. Configured reports whether the
// sender has credentials at all; callers skip optional mail when it is false.
type Sender interface {
	SendVerification(ctx context.Context, to Recipient, token, link string, ttl time.Duration) error
	SendPasswordReset(ctx context.Context, to Recipient, link string, ttl time.Duration) error
	SendWelcome(ctx context.Context, to Recipient, dashboardLink string) error
	Configured() bool
}
