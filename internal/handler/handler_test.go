package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/identity-service/internal/apperr"
	"github.com/prperemyshlev/identity-service/internal/domain"
	"github.com/prperemyshlev/identity-service/internal/dto"
	"github.com/prperemyshlev/identity-service/internal/service"
	"github.com/prperemyshlev/identity-service/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "handler-test-secret-that-is-long-enough-32"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAuthService struct {
	service.AuthService

	register   func(service.RegisterInput) (*service.AuthResult, error)
	login      func(service.LoginInput) (*service.AuthResult, error)
	refresh    func(string) (*domain.Tokens, error)
	loggedOut  []string
	revokedAll []string
}

func (f *fakeAuthService) Register(_ context.Context, in service.RegisterInput) (*service.AuthResult, error) {
	return f.register(in)
}

func (f *fakeAuthService) Login(_ context.Context, in service.LoginInput) (*service.AuthResult, error) {
	return f.login(in)
}

func (f *fakeAuthService) RefreshTokens(_ context.Context, token string) (*domain.Tokens, error) {
	return f.refresh(token)
}

func (f *fakeAuthService) Logout(_ context.Context, sessionID string) {
	f.loggedOut = append(f.loggedOut, sessionID)
}

func (f *fakeAuthService) LogoutAll(_ context.Context, userID string) {
	f.revokedAll = append(f.revokedAll, userID)
}

type fakeAuthenticator struct {
	tokens map[string]*service.Principal
}

func (f *fakeAuthenticator) Authenticate(_ context.Context, token string) (*service.Principal, error) {
	if token == "" {
		return nil, apperr.Unauthorized(apperr.CodeUnauthorized, "Authentication required")
	}
	p, ok := f.tokens[token]
	if !ok {
		return nil, apperr.Unauthorized(apperr.CodeInvalidToken, "Invalid token")
	}
	return p, nil
}

func newTestIssuer(t *testing.T) *utils.TokenIssuer {
	t.Helper()
	return utils.NewTokenIssuer(testSecret, "", 15*time.Minute)
}

func testTokens(t *testing.T, issuer *utils.TokenIssuer) *domain.Tokens {
	t.Helper()
	tokens, err := issuer.IssueTokenPair("user-1", "alice@example.com", "session-1", 7*24*time.Hour)
	require.NoError(t, err)
	return tokens
}

func testResult(t *testing.T, issuer *utils.TokenIssuer) *service.AuthResult {
	return &service.AuthResult{
		User:      &domain.User{ID: "user-1", Email: "alice@example.com", EmailVerified: true},
		SessionID: "session-1",
		Tokens:    testTokens(t, issuer),
	}
}

func doJSON(r http.Handler, method, path string, body any, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, m := range mutate {
		m(req)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func cookieByName(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func newAuthRouter(t *testing.T, svc service.AuthService, production bool) *gin.Engine {
	issuer := newTestIssuer(t)
	h := NewAuthHandler(svc, NewCookies(issuer, "", production))

	r := gin.New()
	auth := r.Group("/api/v1/auth")
	auth.POST("/register", h.Register)
	auth.POST("/login", h.Login)
	auth.POST("/refresh", h.Refresh)
	return r
}

func TestRegister_PasswordMismatch(t *testing.T) {
	r := newAuthRouter(t, &fakeAuthService{}, false)

	w := doJSON(r, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":           "alice@example.com",
		"password":        "Abcdef1!",
		"confirmPassword": "Abcdef1?",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperr.CodePasswordMismatch, decodeError(t, w).Error)
}

func TestRegister_ValidationDetails(t *testing.T) {
	r := newAuthRouter(t, &fakeAuthService{}, false)

	w := doJSON(r, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":    "not-an-email",
		"password": "Abcdef1!",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, apperr.CodeValidation, resp.Error)
	assert.Contains(t, resp.Details, "email must be a valid email address")
	assert.Contains(t, resp.Details, "confirmPassword is required")
}

func TestRegister_PasswordTooLong(t *testing.T) {
	r := newAuthRouter(t, &fakeAuthService{}, false)
	password := "Abcdef1!" + strings.Repeat("a", 65)

	w := doJSON(r, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":           "alice@example.com",
		"password":        password,
		"confirmPassword": password,
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, apperr.CodeValidation, resp.Error)
	assert.Contains(t, resp.Details, "password must be at most 72 characters")
}

func TestRegister_SetsCookies(t *testing.T) {
	issuer := newTestIssuer(t)
	var got service.RegisterInput
	svc := &fakeAuthService{register: func(in service.RegisterInput) (*service.AuthResult, error) {
		got = in
		return testResult(t, issuer), nil
	}}
	r := newAuthRouter(t, svc, true)

	w := doJSON(r, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":           "alice@example.com",
		"password":        "Abcdef1!",
		"confirmPassword": "Abcdef1!",
		"firstName":       "Alice",
	}, func(req *http.Request) { req.Header.Set("User-Agent", "test-agent") })

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "test-agent", got.Device.UserAgent)
	require.NotNil(t, got.FirstName)
	assert.Equal(t, "Alice", *got.FirstName)

	access := cookieByName(w, AccessTokenCookie)
	require.NotNil(t, access)
	assert.True(t, access.HttpOnly)
	assert.True(t, access.Secure)
	assert.Equal(t, http.SameSiteStrictMode, access.SameSite)
	assert.Equal(t, "/", access.Path)

	refresh := cookieByName(w, RefreshTokenCookie)
	require.NotNil(t, refresh)
	assert.Equal(t, "/api/v1/auth", refresh.Path)
	assert.InDelta(t, (7 * 24 * time.Hour).Seconds(), float64(refresh.MaxAge), 5)

	flag := cookieByName(w, SessionActiveCookie)
	require.NotNil(t, flag)
	assert.False(t, flag.HttpOnly)

	var body struct {
		Data dto.AuthResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "session-1", body.Data.SessionID)
	assert.Equal(t, "alice@example.com", body.Data.User.Email)
	assert.NotEmpty(t, body.Data.Tokens.AccessToken)
}

func TestRegister_Conflict(t *testing.T) {
	svc := &fakeAuthService{register: func(service.RegisterInput) (*service.AuthResult, error) {
		return nil, apperr.Conflict(apperr.CodeEmailAlreadyExists, "Email is already registered")
	}}
	r := newAuthRouter(t, svc, false)

	w := doJSON(r, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":           "alice@example.com",
		"password":        "Abcdef1!",
		"confirmPassword": "Abcdef1!",
	})

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperr.CodeEmailAlreadyExists, decodeError(t, w).Error)
}

func TestLogin_LaxCookiesOutsideProduction(t *testing.T) {
	issuer := newTestIssuer(t)
	var got service.LoginInput
	svc := &fakeAuthService{login: func(in service.LoginInput) (*service.AuthResult, error) {
		got = in
		return testResult(t, issuer), nil
	}}
	r := newAuthRouter(t, svc, false)

	w := doJSON(r, http.MethodPost, "/api/v1/auth/login", map[string]any{
		"email":      "alice@example.com",
		"password":   "Abcdef1!",
		"rememberMe": true,
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, got.Device.RememberMe)

	access := cookieByName(w, AccessTokenCookie)
	require.NotNil(t, access)
	assert.False(t, access.Secure)
	assert.Equal(t, http.SameSiteLaxMode, access.SameSite)
}

func TestLogin_InternalErrorHidesCause(t *testing.T) {
	svc := &fakeAuthService{login: func(service.LoginInput) (*service.AuthResult, error) {
		return nil, context.DeadlineExceeded
	}}
	r := newAuthRouter(t, svc, false)

	w := doJSON(r, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "Abcdef1!",
	})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, apperr.CodeInternal, resp.Error)
	assert.NotContains(t, resp.Message, "deadline")
}

func TestRefresh_TokenSources(t *testing.T) {
	issuer := newTestIssuer(t)
	tokens := testTokens(t, issuer)
	var seen []string
	svc := &fakeAuthService{refresh: func(token string) (*domain.Tokens, error) {
		seen = append(seen, token)
		if token == "" {
			return nil, apperr.Unauthorized(apperr.CodeInvalidToken, "Refresh token is required")
		}
		return tokens, nil
	}}
	r := newAuthRouter(t, svc, false)

	w := doJSON(r, http.MethodPost, "/api/v1/auth/refresh", map[string]string{"refreshToken": "from-body"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodPost, "/api/v1/auth/refresh", nil, func(req *http.Request) {
		req.AddCookie(&http.Cookie{Name: RefreshTokenCookie, Value: "from-cookie"})
	})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodPost, "/api/v1/auth/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, apperr.CodeInvalidToken, decodeError(t, w).Error)

	assert.Equal(t, []string{"from-body", "from-cookie", ""}, seen)
}

func TestAuthMiddleware(t *testing.T) {
	principal := &service.Principal{
		User:   &domain.User{ID: "user-1", Email: "alice@example.com"},
		Claims: &domain.TokenClaims{UserID: "user-1", SessionID: "session-1"},
	}
	auth := &fakeAuthenticator{tokens: map[string]*service.Principal{"good": principal}}
	svc := &fakeAuthService{}
	h := NewAuthHandler(svc, NewCookies(newTestIssuer(t), "", false))

	r := gin.New()
	group := r.Group("/api/v1/auth", AuthMiddleware(auth, WithPublicRoutes("GET /api/v1/auth/stats")))
	group.POST("/logout", h.Logout)
	group.POST("/logout/all", h.LogoutAll)
	group.GET("/me", h.GetMe)
	group.GET("/stats", func(c *gin.Context) { c.Status(http.StatusOK) })

	t.Run("missing credential", func(t *testing.T) {
		w := doJSON(r, http.MethodGet, "/api/v1/auth/me", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, apperr.CodeUnauthorized, decodeError(t, w).Error)
	})

	t.Run("bad token", func(t *testing.T) {
		w := doJSON(r, http.MethodGet, "/api/v1/auth/me", nil, func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer nope")
		})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, apperr.CodeInvalidToken, decodeError(t, w).Error)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		w := doJSON(r, http.MethodGet, "/api/v1/auth/me", nil, func(req *http.Request) {
			req.Header.Set("Authorization", "Basic good")
		})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("bearer header", func(t *testing.T) {
		w := doJSON(r, http.MethodGet, "/api/v1/auth/me", nil, func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer good")
		})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "alice@example.com")
	})

	t.Run("cookie fallback", func(t *testing.T) {
		w := doJSON(r, http.MethodPost, "/api/v1/auth/logout", nil, func(req *http.Request) {
			req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: "good"})
		})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"session-1"}, svc.loggedOut)

		cleared := cookieByName(w, AccessTokenCookie)
		require.NotNil(t, cleared)
		assert.Negative(t, cleared.MaxAge)
	})

	t.Run("logout all", func(t *testing.T) {
		w := doJSON(r, http.MethodPost, "/api/v1/auth/logout/all", nil, func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer good")
		})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"user-1"}, svc.revokedAll)
	})

	t.Run("public route", func(t *testing.T) {
		w := doJSON(r, http.MethodGet, "/api/v1/auth/stats", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
