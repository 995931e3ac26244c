package utils

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prperemyshlev/identity-service/internal/domain"
	"golang.org/x/sync/errgroup"
)

const (
	refreshTokenType = "refresh"

	// DefaultAccessTokenTTL is also the fallback for ExpiresIn when the access token cannot be decoded.
	DefaultAccessTokenTTL = 15 * time.Minute
	defaultExpiry         = 24 * time.Hour
	opaqueTokenBytes      = 32
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

var expiryPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

type tokenClaims struct {
	Email     string `json:"email"`
	SessionID string `json:"sid,omitempty"`
	Type      string `json:"typ,omitempty"`
	jwt.RegisteredClaims
}

func (c *tokenClaims) toDomain() *domain.TokenClaims {
	out := &domain.TokenClaims{
		UserID:    c.Subject,
		Email:     c.Email,
		SessionID: c.SessionID,
		TokenID:   c.ID,
		Type:      c.Type,
	}
	if c.ExpiresAt != nil {
		out.Exp = c.ExpiresAt.Unix()
	}
	if c.IssuedAt != nil {
		out.Iat = c.IssuedAt.Unix()
	}
	return out
}

type TokenIssuerOption func(*TokenIssuer)

// WithClock replaces time.Now for issuing and verifying tokens.
func WithClock(now func() time.Time) TokenIssuerOption {
	return func(i *TokenIssuer) {
		i.now = now
	}
}

// TokenIssuer signs and verifies HS256 access and refresh tokens.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	now           func() time.Time
}

// NewTokenIssuer creates an issuer. An empty refreshSecret reuses the access secret.
func NewTokenIssuer(accessSecret, refreshSecret string, accessTTL time.Duration, opts ...TokenIssuerOption) *TokenIssuer {
	if refreshSecret == "" {
		refreshSecret = accessSecret
	}
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}
	i := &TokenIssuer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *TokenIssuer) Now() time.Time {
	return i.now()
}

func (i *TokenIssuer) AccessTTL() time.Duration {
	return i.accessTTL
}

// IssueAccessToken signs {sub, email, sid, iat, exp}.
func (i *TokenIssuer) IssueAccessToken(userID, email, sessionID string) (string, error) {
	now := i.now()
	claims := tokenClaims{
		Email:     email,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.accessTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.accessSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// IssueRefreshToken signs a refresh token with a unique jti so that two tokens
// issued in the same second for the same user never collide.
func (i *TokenIssuer) IssueRefreshToken(userID, email string, ttl time.Duration) (string, error) {
	now := i.now()
	claims := tokenClaims{
		Email: email,
		Type:  refreshTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.refreshSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return signed, nil
}

// IssueTokenPair signs both tokens. ExpiresIn is derived from the access token's own exp claim.
func (i *TokenIssuer) IssueTokenPair(userID, email, sessionID string, refreshTTL time.Duration) (*domain.Tokens, error) {
	var access, refresh string

	g := new(errgroup.Group)
	g.Go(func() error {
		var err error
		access, err = i.IssueAccessToken(userID, email, sessionID)
		return err
	})
	g.Go(func() error {
		var err error
		refresh, err = i.IssueRefreshToken(userID, email, refreshTTL)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &domain.Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    i.ExpiresIn(access),
	}, nil
}

// ExpiresIn returns the seconds left on token, or the default access TTL when it cannot be decoded.
func (i *TokenIssuer) ExpiresIn(token string) int64 {
	claims, err := i.ParseUnverified(token)
	if err != nil || claims.Exp == 0 {
		return int64(DefaultAccessTokenTTL.Seconds())
	}
	left := claims.Exp - i.now().Unix()
	if left < 0 {
		return 0
	}
	return left
}

// Verify checks signature, algorithm, expiry and token type. It returns
// ErrTokenExpired for an otherwise valid but expired token and ErrTokenInvalid for anything else.
func (i *TokenIssuer) Verify(token string, refresh bool) (*domain.TokenClaims, error) {
	secret := i.accessSecret
	if refresh {
		secret = i.refreshSecret
	}

	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	if (claims.Type == refreshTokenType) != refresh {
		return nil, fmt.Errorf("%w: unexpected token type %q", ErrTokenInvalid, claims.Type)
	}

	return claims.toDomain(), nil
}

// ParseUnverified decodes claims without checking the signature. Never use it for authorization.
func (i *TokenIssuer) ParseUnverified(token string) (*domain.TokenClaims, error) {
	var claims tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return claims.toDomain(), nil
}

// ComputeExpiry turns "30s", "15m", "24h" or "7d" into an absolute time. Unknown formats fall back to 24h.
func (i *TokenIssuer) ComputeExpiry(duration string) time.Time {
	return i.now().Add(ParseExpiry(duration))
}

func (i *TokenIssuer) IsExpired(expiresAt time.Time) bool {
	return !i.now().Before(expiresAt)
}

// ParseExpiry never returns a zero or negative duration: zero counts and counts
// that would overflow time.Duration fall back to 24h like any other bad input.
func ParseExpiry(duration string) time.Duration {
	m := expiryPattern.FindStringSubmatch(duration)
	if m == nil {
		return defaultExpiry
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return defaultExpiry
	}
	unit := map[string]time.Duration{
		"s": time.Second,
		"m": time.Minute,
		"h": time.Hour,
		"d": 24 * time.Hour,
	}[m[2]]
	if n <= 0 || n > math.MaxInt64/int64(unit) {
		return defaultExpiry
	}
	return time.Duration(n) * unit
}

// GenerateOpaqueToken returns 32 random bytes, hex encoded, for email verification and password reset links.
func GenerateOpaqueToken() (string, error) {
	b := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
