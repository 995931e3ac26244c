package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prperemyshlev/identity-service/internal/domain"
	"github.com/prperemyshlev/identity-service/internal/notification"
	"github.com/prperemyshlev/identity-service/internal/repository"
	"github.com/prperemyshlev/identity-service/internal/utils"
	"github.com/prperemyshlev/identity-service/pkg/observability"
	"go.uber.org/zap"
)

const (
	testAccessSecret  = "access-secret-key-that-is-at-least-32-characters"
	testRefreshSecret = "refresh-secret-key-that-is-at-least-32-characters"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// memStore backs every fake repository so they see one another's writes.
type memStore struct {
	mu            sync.Mutex
	users         map[string]domain.User
	sessions      map[string]domain.Session
	verifications map[string]domain.EmailVerificationToken
	resets        map[string]domain.PasswordResetToken
	now           func() time.Time

	// afterVerificationLookup runs between a verification token lookup and its return.
	afterVerificationLookup func(id string)
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{
		users:         make(map[string]domain.User),
		sessions:      make(map[string]domain.Session),
		verifications: make(map[string]domain.EmailVerificationToken),
		resets:        make(map[string]domain.PasswordResetToken),
		now:           now,
	}
}

func (s *memStore) repositories() *repository.Repositories {
	return &repository.Repositories{
		User:              &fakeUsers{s},
		Session:           &fakeSessions{s},
		VerificationToken: &fakeVerificationTokens{s},
		ResetToken:        &fakeResetTokens{s},
	}
}

type fakeUsers struct{ *memStore }

func (r *fakeUsers) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	user.ID = uuid.NewString()
	user.CreatedAt = r.now()
	user.UpdatedAt = user.CreatedAt
	r.users[user.ID] = *user
	return nil
}

func (r *fakeUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (r *fakeUsers) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := r.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *fakeUsers) update(userID string, fn func(*domain.User)) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	fn(&u)
	u.UpdatedAt = r.now()
	r.users[userID] = u
	return &u, nil
}

func (r *fakeUsers) UpdateProfile(_ context.Context, userID string, profile domain.Profile) (*domain.User, error) {
	return r.update(userID, func(u *domain.User) {
		u.FirstName = profile.FirstName
		u.LastName = profile.LastName
		u.DisplayName = profile.DisplayName
		u.AvatarURL = profile.AvatarURL
	})
}

func (r *fakeUsers) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	_, err := r.update(userID, func(u *domain.User) { u.PasswordHash = &passwordHash })
	return err
}

func (r *fakeUsers) MarkEmailVerified(_ context.Context, userID string) error {
	_, err := r.update(userID, func(u *domain.User) { u.EmailVerified = true })
	return err
}

func (r *fakeUsers) UpdateLastLogin(_ context.Context, userID string, at time.Time) error {
	_, err := r.update(userID, func(u *domain.User) { u.LastLoginAt = &at })
	return err
}

func (r *fakeUsers) Stats(_ context.Context, now time.Time) (*domain.UserStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &domain.UserStats{TotalUsers: int64(len(r.users))}
	for _, u := range r.users {
		if u.EmailVerified {
			stats.VerifiedUsers++
		}
	}
	for _, s := range r.sessions {
		if s.ExpiresAt.After(now) {
			stats.ActiveSessions++
		}
	}
	return stats, nil
}

type fakeSessions struct{ *memStore }

func (r *fakeSessions) Create(_ context.Context, session *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.RefreshToken == session.RefreshToken {
			return repository.ErrDuplicateToken
		}
	}
	r.sessions[session.ID] = *session
	return nil
}

func (r *fakeSessions) GetActiveByRefreshToken(_ context.Context, refreshToken string, now time.Time) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.RefreshToken == refreshToken && s.ExpiresAt.After(now) {
			return &s, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeSessions) ListActiveByUserID(_ context.Context, userID string, now time.Time) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Session
	for _, s := range r.sessions {
		if s.UserID == userID && s.ExpiresAt.After(now) {
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsedAt.After(out[j].LastUsedAt) })
	return out, nil
}

func (r *fakeSessions) CountActiveByUserID(ctx context.Context, userID string, now time.Time) (int64, error) {
	sessions, err := r.ListActiveByUserID(ctx, userID, now)
	return int64(len(sessions)), err
}

func (r *fakeSessions) Touch(_ context.Context, sessionID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return repository.ErrNotFound
	}
	s.LastUsedAt = at
	r.sessions[sessionID] = s
	return nil
}

func (r *fakeSessions) UpdateRefreshToken(_ context.Context, sessionID, refreshToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return repository.ErrNotFound
	}
	s.RefreshToken = refreshToken
	r.sessions[sessionID] = s
	return nil
}

func (r *fakeSessions) Delete(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		return repository.ErrNotFound
	}
	delete(r.sessions, sessionID)
	return nil
}

func (r *fakeSessions) DeleteByIDAndUserID(_ context.Context, sessionID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.UserID != userID {
		return repository.ErrNotFound
	}
	delete(r.sessions, sessionID)
	return nil
}

func (r *fakeSessions) DeleteByUserID(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *fakeSessions) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if !s.ExpiresAt.After(now) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

type fakeVerificationTokens struct{ *memStore }

func (r *fakeVerificationTokens) Create(_ context.Context, token *domain.EmailVerificationToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	token.ID = uuid.NewString()
	token.CreatedAt = r.now()
	r.verifications[token.ID] = *token
	return nil
}

func (r *fakeVerificationTokens) GetValid(_ context.Context, token string, now time.Time) (*domain.EmailVerificationToken, error) {
	r.mu.Lock()
	var found *domain.EmailVerificationToken
	for _, t := range r.verifications {
		if t.Token == token && t.ExpiresAt.After(now) {
			found = &t
			break
		}
	}
	hook := r.afterVerificationLookup
	r.mu.Unlock()

	if found == nil {
		return nil, repository.ErrNotFound
	}
	if hook != nil {
		hook(found.ID)
	}
	return found, nil
}

func (r *fakeVerificationTokens) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.verifications[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.verifications, id)
	return nil
}

func (r *fakeVerificationTokens) DeleteByUserID(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.verifications {
		if t.UserID == userID {
			delete(r.verifications, id)
		}
	}
	return nil
}

func (r *fakeVerificationTokens) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.verifications {
		if !t.ExpiresAt.After(now) {
			delete(r.verifications, id)
			n++
		}
	}
	return n, nil
}

type fakeResetTokens struct{ *memStore }

func (r *fakeResetTokens) Create(_ context.Context, token *domain.PasswordResetToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	token.ID = uuid.NewString()
	token.CreatedAt = r.now()
	r.resets[token.ID] = *token
	return nil
}

func (r *fakeResetTokens) GetValid(_ context.Context, token string, now time.Time) (*domain.PasswordResetToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.resets {
		if t.Token == token && !t.Used && t.ExpiresAt.After(now) {
			return &t, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeResetTokens) MarkUsed(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.resets[id]
	if !ok || t.Used {
		return repository.ErrNotFound
	}
	t.Used = true
	r.resets[id] = t
	return nil
}

func (r *fakeResetTokens) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.resets {
		if t.Used || !t.ExpiresAt.After(now) {
			delete(r.resets, id)
			n++
		}
	}
	return n, nil
}

type sentEmail struct {
	kind  string
	to    notification.Recipient
	token string
	link  string
}

type fakeSender struct {
	mu         sync.Mutex
	configured bool
	err        error
	sent       []sentEmail
}

func (f *fakeSender) record(e sentEmail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, e)
	return nil
}

func (f *fakeSender) SendVerification(_ context.Context, to notification.Recipient, token, link string, _ time.Duration) error {
	return f.record(sentEmail{kind: notification.KindVerification, to: to, token: token, link: link})
}

func (f *fakeSender) SendPasswordReset(_ context.Context, to notification.Recipient, link string, _ time.Duration) error {
	return f.record(sentEmail{kind: notification.KindPasswordReset, to: to, link: link})
}

func (f *fakeSender) SendWelcome(_ context.Context, to notification.Recipient, dashboardLink string) error {
	return f.record(sentEmail{kind: notification.KindWelcome, to: to, link: dashboardLink})
}

func (f *fakeSender) Configured() bool { return f.configured }

func (f *fakeSender) last(kind string) (sentEmail, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].kind == kind {
			return f.sent[i], true
		}
	}
	return sentEmail{}, false
}

type fakeRevocations struct {
	mu      sync.Mutex
	before  map[string]time.Time
	readErr error
}

func newFakeRevocations() *fakeRevocations {
	return &fakeRevocations{before: make(map[string]time.Time)}
}

func (f *fakeRevocations) RevokeBefore(_ context.Context, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.before[userID] = at
	return nil
}

func (f *fakeRevocations) RevokedBefore(_ context.Context, userID string) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return time.Time{}, false, f.readErr
	}
	at, ok := f.before[userID]
	return at, ok, nil
}

// harness wires the services the way the application does, over in-memory fakes.
type harness struct {
	clock       *fakeClock
	store       *memStore
	repos       *repository.Repositories
	issuer      *utils.TokenIssuer
	hasher      *utils.PasswordHasher
	revocations *fakeRevocations
	sender      *fakeSender
	sessions    *SessionManager
	guard       *Guard
	auth        AuthService
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	requireVerification bool
	rotate              bool
	senderConfigured    bool
}

func withVerification() harnessOption {
	return func(c *harnessConfig) { c.requireVerification = true }
}

func withRotation() harnessOption {
	return func(c *harnessConfig) { c.rotate = true }
}

func withoutEmail() harnessOption {
	return func(c *harnessConfig) { c.senderConfigured = false }
}

func newHarness(opts ...harnessOption) *harness {
	cfg := harnessConfig{senderConfigured: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &harness{clock: newFakeClock(), revocations: newFakeRevocations()}
	h.store = newMemStore(h.clock.Now)
	h.repos = h.store.repositories()
	h.issuer = utils.NewTokenIssuer(testAccessSecret, testRefreshSecret, 15*time.Minute, utils.WithClock(h.clock.Now))
	h.hasher = utils.NewPasswordHasher(4)
	h.sender = &fakeSender{configured: cfg.senderConfigured}

	logger := zap.NewNop()
	h.sessions = NewSessionManager(h.repos.Session, h.repos.User, h.issuer, h.revocations, SessionConfig{
		Expiry:               7 * 24 * time.Hour,
		RememberMeExpiry:     30 * 24 * time.Hour,
		RequireVerifiedEmail: cfg.requireVerification,
		RotateRefreshTokens:  cfg.rotate,
	}, logger)
	h.guard = NewGuard(h.repos.User, h.issuer, h.revocations, cfg.requireVerification, logger)
	h.auth = NewAuthService(h.repos, h.hasher, h.issuer, h.sessions, h.sender, observability.NewNoopAuthMetrics(), AuthConfig{
		RequireEmailVerification: cfg.requireVerification,
		VerificationTokenTTL:     24 * time.Hour,
		ResetTokenTTL:            30 * time.Minute,
		FrontendURL:              "http://localhost:3001/",
	}, logger)
	return h
}
