package handler

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/identity-service/internal/service"
)

const (
	ctxPrincipal = "principal"
	ctxUserID    = "user_id"
	ctxSessionID = "session_id"
)

// Authenticator admits or rejects an access token.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*service.Principal, error)
}

type AuthOption func(*authMiddleware)

// WithPublicRoutes lets the listed routes through without a credential.
// Routes are written as "METHOD /full/path", matching gin's FullPath.
func WithPublicRoutes(routes ...string) AuthOption {
	return func(m *authMiddleware) {
		for _, r := range routes {
			m.public[r] = struct{}{}
		}
	}
}

type authMiddleware struct {
	auth   Authenticator
	public map[string]struct{}
}

// AuthMiddleware validates the access token and adds the principal to the context
func AuthMiddleware(auth Authenticator, opts ...AuthOption) gin.HandlerFunc {
	m := &authMiddleware{auth: auth, public: make(map[string]struct{})}
	for _, opt := range opts {
		opt(m)
	}

	return func(c *gin.Context) {
		if _, ok := m.public[c.Request.Method+" "+c.FullPath()]; ok {
			c.Next()
			return
		}

		principal, err := m.auth.Authenticate(c.Request.Context(), extractToken(c))
		if err != nil {
			writeError(c, err)
			return
		}

		c.Set(ctxPrincipal, principal)
		c.Set(ctxUserID, principal.User.ID)
		c.Set(ctxSessionID, principal.Claims.SessionID)

		c.Next()
	}
}

// extractToken prefers the Authorization header and falls back to the access_token cookie.
func extractToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}

	token, err := c.Cookie(AccessTokenCookie)
	if err != nil {
		return ""
	}
	return token
}

func currentPrincipal(c *gin.Context) *service.Principal {
	v, ok := c.Get(ctxPrincipal)
	if !ok {
		return nil
	}
	p, _ := v.(*service.Principal)
	return p
}
