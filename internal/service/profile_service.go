package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/prperemyshlev/identity-service/internal/apperr"
	"github.com/prperemyshlev/identity-service/internal/domain"
	"github.com/prperemyshlev/identity-service/internal/repository"
	"github.com/prperemyshlev/identity-service/internal/storage"
	"github.com/prperemyshlev/identity-service/internal/utils"
	"go.uber.org/zap"
)

const MaxAvatarSize = 2 << 20

var allowedAvatarTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

type profileService struct {
	users    repository.UserRepository
	sessions *SessionManager
	avatars  storage.AvatarStorage
	issuer   *utils.TokenIssuer
	logger   *zap.Logger
}

func NewProfileService(
	users repository.UserRepository,
	sessions *SessionManager,
	avatars storage.AvatarStorage,
	issuer *utils.TokenIssuer,
	logger *zap.Logger,
) ProfileService {
	return &profileService{
		users:    users,
		sessions: sessions,
		avatars:  avatars,
		issuer:   issuer,
		logger:   logger,
	}
}

func (s *profileService) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	count, err := s.sessions.CountActive(ctx, userID)
	if err != nil {
		return nil, s.fail("get profile", err, "Failed to load profile")
	}

	return &Profile{User: user, ActiveSessions: count}, nil
}

// UpdateProfile applies the non-nil fields of in. An empty string clears a field.
// The display name follows first and last name unless it is set explicitly.
func (s *profileService) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (*domain.User, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	profile := domain.Profile{
		FirstName:   merge(user.FirstName, in.FirstName),
		LastName:    merge(user.LastName, in.LastName),
		DisplayName: user.DisplayName,
		AvatarURL:   merge(user.AvatarURL, in.AvatarURL),
	}
	switch {
	case in.DisplayName != nil:
		profile.DisplayName = merge(nil, in.DisplayName)
	case in.FirstName != nil || in.LastName != nil:
		profile.DisplayName = utils.DisplayName(profile.FirstName, profile.LastName)
	}

	updated, err := s.users.UpdateProfile(ctx, userID, profile)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound(apperr.CodeUserNotFound, "User not found")
		}
		return nil, s.fail("update profile", err, "Failed to update profile")
	}
	return updated, nil
}

// UploadAvatar accepts JPEG, PNG, GIF or WebP images up to 2 MB, judged by content rather than file name.
func (s *profileService) UploadAvatar(ctx context.Context, userID string, file io.Reader, size int64) (*domain.User, error) {
	if !s.avatars.Configured() {
		return nil, apperr.BadRequest(apperr.CodeInvalidFile, "Avatar uploads are not enabled")
	}
	if size > MaxAvatarSize {
		return nil, tooLarge()
	}

	data, err := io.ReadAll(io.LimitReader(file, MaxAvatarSize+1))
	if err != nil {
		return nil, apperr.BadRequest(apperr.CodeInvalidFile, "Failed to read uploaded file")
	}
	if len(data) > MaxAvatarSize {
		return nil, tooLarge()
	}
	if len(data) == 0 {
		return nil, apperr.BadRequest(apperr.CodeInvalidFile, "Uploaded file is empty")
	}

	mtype := mimetype.Detect(data)
	if !mimetype.EqualsAny(mtype.String(), allowedAvatarTypes...) {
		return nil, apperr.BadRequest(apperr.CodeInvalidFile,
			fmt.Sprintf("Unsupported file type %s, allowed: %s", mtype.String(), strings.Join(allowedAvatarTypes, ", ")))
	}

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("avatars/%s/%s%s", userID, uuid.New().String(), mtype.Extension())
	url, err := s.avatars.Upload(ctx, key, mtype.String(), bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, s.fail("upload avatar", err, "Failed to upload avatar")
	}

	updated, err := s.users.UpdateProfile(ctx, userID, domain.Profile{
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		DisplayName: user.DisplayName,
		AvatarURL:   &url,
	})
	if err != nil {
		s.deleteAvatar(ctx, userID, url)
		return nil, s.fail("upload avatar", err, "Failed to upload avatar")
	}

	if user.AvatarURL != nil {
		s.deleteAvatar(ctx, userID, *user.AvatarURL)
	}
	return updated, nil
}

func (s *profileService) RemoveAvatar(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.AvatarURL == nil {
		return user, nil
	}

	updated, err := s.users.UpdateProfile(ctx, userID, domain.Profile{
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		DisplayName: user.DisplayName,
	})
	if err != nil {
		return nil, s.fail("remove avatar", err, "Failed to remove avatar")
	}

	s.deleteAvatar(ctx, userID, *user.AvatarURL)
	return updated, nil
}

func (s *profileService) Stats(ctx context.Context) (*domain.UserStats, error) {
	stats, err := s.users.Stats(ctx, s.issuer.Now())
	if err != nil {
		return nil, s.fail("stats", err, "Failed to load statistics")
	}
	return stats, nil
}

func (s *profileService) EmailExists(ctx context.Context, email string) (bool, error) {
	exists, err := s.users.ExistsByEmail(ctx, utils.NormalizeEmail(email))
	if err != nil {
		return false, s.fail("check email", err, "Failed to check email")
	}
	return exists, nil
}

func (s *profileService) loadUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound(apperr.CodeUserNotFound, "User not found")
		}
		return nil, s.fail("load user", err, "Failed to load user")
	}
	return user, nil
}

func (s *profileService) deleteAvatar(ctx context.Context, userID, url string) {
	if err := s.avatars.Delete(ctx, url); err != nil {
		s.logger.Warn("Failed to delete avatar", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *profileService) fail(op string, err error, message string) error {
	if apperr.As(err) == nil {
		s.logger.Error("Profile operation failed", zap.String("operation", op), zap.Error(err))
	}
	return apperr.Wrap(err, message)
}

func tooLarge() error {
	return apperr.BadRequest(apperr.CodeInvalidFile, fmt.Sprintf("File is too large, maximum size is %d MB", MaxAvatarSize>>20))
}

// merge returns update when it is set, with "" meaning cleared, and current otherwise.
func merge(current, update *string) *string {
	if update == nil {
		return current
	}
	v := strings.TrimSpace(*update)
	if v == "" {
		return nil
	}
	return &v
}
