// Package storage keeps user-uploaded files such as avatars in object storage.
package storage

import (
	"context"
	"errors"
	"io"
)

var ErrNotConfigured = errors.New("avatar storage is not configured")

// AvatarStorage stores avatar images and returns the public URL they are served from.
type AvatarStorage interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
	// Delete removes the object behind a URL previously returned by Upload. URLs
	// that do not belong to this storage are ignored.
	Delete(ctx context.Context, url string) error
	Configured() bool
}

// Disabled rejects uploads; it is used when no bucket is configured.
type Disabled struct{}

func (Disabled) Upload(context.Context, string, string, io.Reader, int64) (string, error) {
	return "", ErrNotConfigured
}

func (Disabled) Delete(context.Context, string) error { return nil }

func (Disabled) Configured() bool { return false }
