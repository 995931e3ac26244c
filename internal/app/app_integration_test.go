package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/identity-service/internal/config"
	"github.com/prperemyshlev/identity-service/internal/dto"
	"github.com/prperemyshlev/identity-service/internal/storage"
	"github.com/prperemyshlev/identity-service/migrations"
	"github.com/prperemyshlev/identity-service/pkg/database"
	"github.com/prperemyshlev/identity-service/pkg/observability"
	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

// Suite runs the HTTP surface against real PostgreSQL and Redis. It is skipped
// unless TEST_POSTGRES_DSN (URL form) and TEST_REDIS_ADDR are set.
type Suite struct {
	suite.Suite
	Postgres *database.Postgres
	Redis    *database.Redis
	Server   *httptest.Server
}

func TestSuite(t *testing.T) {
	if os.Getenv("TEST_POSTGRES_DSN") == "" || os.Getenv("TEST_REDIS_ADDR") == "" {
		t.Skip("TEST_POSTGRES_DSN and TEST_REDIS_ADDR are required for integration tests")
	}
	suite.Run(t, new(Suite))
}

func (s *Suite) SetupSuite() {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	logger := zap.NewNop()

	s.Require().NoError(database.Migrate(migrations.FS, dsn, logger))

	pg, err := database.NewPostgres(dsn)
	s.Require().NoError(err)
	s.Postgres = pg

	redis, err := database.NewRedis(os.Getenv("TEST_REDIS_ADDR"), "", 0)
	s.Require().NoError(err)
	s.Redis = redis

	meterProvider, metricsHandler, err := observability.InitTelemetry("identity-service-test")
	s.Require().NoError(err)

	gin.SetMode(gin.TestMode)
	infra := &testInfrastructure{
		postgres:       pg,
		redis:          redis,
		logger:         logger,
		metricsHandler: metricsHandler,
		meterProvider:  meterProvider,
	}

	application, err := NewApp(infra, testConfig())
	s.Require().NoError(err)
	s.Server = httptest.NewServer(application.Router())
}

func (s *Suite) TearDownSuite() {
	if s.Server != nil {
		s.Server.Close()
	}
	if s.Postgres != nil {
		_ = s.Postgres.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
}

func (s *Suite) SetupTest() {
	ctx := context.Background()
	_, err := s.Postgres.DB.ExecContext(ctx, "TRUNCATE users CASCADE")
	s.Require().NoError(err)
	s.Require().NoError(s.Redis.Client.FlushDB(ctx).Err())
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "localhost", Port: "0"},
		JWT: config.JWTConfig{
			Secret:             "test-secret-key-that-is-at-least-32-characters-long",
			AccessTokenExpiry:  config.Duration{Duration: 15 * time.Minute},
			RefreshTokenExpiry: config.Duration{Duration: 7 * 24 * time.Hour},
		},
		Session: config.SessionConfig{
			Expiry:           config.Duration{Duration: 7 * 24 * time.Hour},
			RememberMeExpiry: config.Duration{Duration: 30 * 24 * time.Hour},
			JanitorInterval:  config.Duration{Duration: time.Hour},
		},
		Security: config.SecurityConfig{
			BCryptCost:              4,
			RateLimitRequests:       5,
			RateLimitWindow:         config.Duration{Duration: 15 * time.Minute},
			RateLimitBackend:        config.RateLimitBackendRedis,
			VerificationTokenExpiry: config.Duration{Duration: 24 * time.Hour},
			ResetTokenExpiry:        config.Duration{Duration: 30 * time.Minute},
		},
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"http://localhost:3001"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		},
		Brevo:       config.BrevoConfig{BaseURL: "http://127.0.0.1:0"},
		EmailQueue:  config.EmailQueueConfig{MaxAttempts: 3},
		FrontendURL: "http://localhost:3001",
		Env:         "test",
	}
}

func (s *Suite) post(path string, body any, bearer string) *http.Response {
	payload, err := json.Marshal(body)
	s.Require().NoError(err)

	req, err := http.NewRequest(http.MethodPost, s.Server.URL+path, bytes.NewReader(payload))
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	return resp
}

func (s *Suite) get(path, bearer string) *http.Response {
	req, err := http.NewRequest(http.MethodGet, s.Server.URL+path, nil)
	s.Require().NoError(err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	return resp
}

func (s *Suite) authData(resp *http.Response) dto.AuthResponse {
	defer resp.Body.Close()
	var body struct {
		Data dto.AuthResponse `json:"data"`
	}
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&body))
	return body.Data
}

func (s *Suite) errorCode(resp *http.Response) string {
	defer resp.Body.Close()
	var body dto.ErrorResponse
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&body))
	return body.Error
}

func registerBody(email string) map[string]string {
	return map[string]string{
		"email":           email,
		"password":        "Abcdef1!",
		"confirmPassword": "Abcdef1!",
		"firstName":       "Alice",
	}
}

func (s *Suite) TestHealthEndpoint() {
	resp := s.get("/health", "")
	defer resp.Body.Close()

	s.Equal(http.StatusOK, resp.StatusCode, "Expected status 200")

	var report healthReport
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&report))
	s.Equal("pass", report.Status)
	s.Contains(report.Dependencies, "postgres")
	s.Contains(report.Dependencies, "redis")
}

func (s *Suite) TestRegisterLoginRefresh() {
	resp := s.post("/api/v1/auth/register", registerBody("alice@example.com"), "")
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	registered := s.authData(resp)
	s.NotEmpty(registered.Tokens.AccessToken)
	s.Equal(int64(900), registered.Tokens.ExpiresIn)
	s.Require().NotNil(registered.User.DisplayName)
	s.Equal("Alice", *registered.User.DisplayName)

	resp = s.post("/api/v1/auth/login", map[string]string{"email": "ALICE@example.com", "password": "Abcdef1!"}, "")
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	loggedIn := s.authData(resp)
	s.NotEqual(registered.SessionID, loggedIn.SessionID)

	resp = s.post("/api/v1/auth/refresh", map[string]string{"refreshToken": loggedIn.Tokens.RefreshToken}, "")
	s.Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = s.get("/api/v1/auth/me", loggedIn.Tokens.AccessToken)
	s.Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func (s *Suite) TestRegister_DuplicateEmail() {
	resp := s.post("/api/v1/auth/register", registerBody("dup@example.com"), "")
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = s.post("/api/v1/auth/register", registerBody("dup@example.com"), "")
	s.Equal(http.StatusConflict, resp.StatusCode)
	s.Equal("EMAIL_ALREADY_EXISTS", s.errorCode(resp))
}

func (s *Suite) TestLogoutAllRevokesEverything() {
	resp := s.post("/api/v1/auth/register", registerBody("bob@example.com"), "")
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	auth := s.authData(resp)

	// Watermarks have second precision; tokens from the same second stay valid.
	time.Sleep(1100 * time.Millisecond)

	resp = s.post("/api/v1/auth/logout/all", nil, auth.Tokens.AccessToken)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = s.post("/api/v1/auth/refresh", map[string]string{"refreshToken": auth.Tokens.RefreshToken}, "")
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = s.get("/api/v1/auth/me", auth.Tokens.AccessToken)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	s.Equal("SESSION_EXPIRED", s.errorCode(resp))
}

func (s *Suite) TestLoginRateLimit() {
	creds := map[string]string{"email": "nobody@example.com", "password": "Wrong1!aa"}
	for i := 0; i < 5; i++ {
		resp := s.post("/api/v1/auth/login", creds, "")
		s.Equal(http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	}

	resp := s.post("/api/v1/auth/login", creds, "")
	s.Equal(http.StatusTooManyRequests, resp.StatusCode)
	s.NotEmpty(resp.Header.Get("Retry-After"))
	s.Equal("RATE_LIMIT_EXCEEDED", s.errorCode(resp))
}

type testInfrastructure struct {
	postgres       *database.Postgres
	redis          *database.Redis
	logger         *zap.Logger
	metricsHandler http.Handler
	meterProvider  *metric.MeterProvider
}

func (i *testInfrastructure) Postgres() *database.Postgres {
	return i.postgres
}

func (i *testInfrastructure) Redis() *database.Redis {
	return i.redis
}

func (i *testInfrastructure) Avatars() storage.AvatarStorage {
	return storage.Disabled{}
}

func (i *testInfrastructure) Logger() *zap.Logger {
	return i.logger
}

func (i *testInfrastructure) MetricsHandler() http.Handler {
	return i.metricsHandler
}

func (i *testInfrastructure) MeterProvider() *metric.MeterProvider {
	return i.meterProvider
}

func (i *testInfrastructure) Shutdown(ctx context.Context) error {
	return observability.Shutdown(ctx, i.meterProvider, i.logger)
}
