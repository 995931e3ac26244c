package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/identity-service/internal/config"
	"github.com/prperemyshlev/identity-service/internal/handler"
	"github.com/prperemyshlev/identity-service/internal/notification"
	"github.com/prperemyshlev/identity-service/internal/repository"
	"github.com/prperemyshlev/identity-service/internal/service"
	"github.com/prperemyshlev/identity-service/internal/utils"
	"github.com/prperemyshlev/identity-service/pkg/observability"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// worker is a background loop owned by App.Run.
type worker interface {
	Run(ctx context.Context) error
}

type App struct {
	infra   Infrastructure
	config  *config.Config
	router  *gin.Engine
	server  *http.Server
	workers []worker
}

// Routes reachable without an access token.
var publicRoutes = []string{
	"POST /api/v1/auth/register",
	"POST /api/v1/auth/login",
	"POST /api/v1/auth/refresh",
	"GET /api/v1/auth/verify-email",
	"POST /api/v1/auth/resend-verification",
	"POST /api/v1/auth/forgot-password",
	"POST /api/v1/auth/reset-password",
	"GET /api/v1/auth/stats",
	"GET /api/v1/auth/check-email",
}

type handlers struct {
	auth    *handler.AuthHandler
	profile *handler.ProfileHandler
	guard   handler.Authenticator
	limit   gin.HandlerFunc
	health  *HealthChecker
	metrics http.Handler
}

func NewApp(infra Infrastructure, cfg *config.Config) (*App, error) {
	logger := infra.Logger()
	repos := repository.NewRepositories(infra.Postgres())

	metrics, err := observability.NewAuthMetrics(infra.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	issuer := utils.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.RefreshSecret, cfg.JWT.AccessTokenExpiry.Duration)
	hasher := utils.NewPasswordHasher(cfg.Security.BCryptCost)
	revocations := service.NewRedisRevocationStore(infra.Redis(), cfg.JWT.AccessTokenExpiry.Duration)

	sessions := service.NewSessionManager(repos.Session, repos.User, issuer, revocations, service.SessionConfig{
		Expiry:               cfg.Session.Expiry.Duration,
		RememberMeExpiry:     cfg.Session.RememberMeExpiry.Duration,
		RequireVerifiedEmail: cfg.Security.EmailVerificationEnabled,
		RotateRefreshTokens:  cfg.Security.RotateRefreshTokens,
	}, logger)

	guard := service.NewGuard(repos.User, issuer, revocations, cfg.Security.EmailVerificationEnabled, logger)

	var workers []worker
	sender, emailWorker := newSender(infra, cfg, metrics)
	if emailWorker != nil {
		workers = append(workers, emailWorker)
	}

	authService := service.NewAuthService(repos, hasher, issuer, sessions, sender, metrics, service.AuthConfig{
		RequireEmailVerification: cfg.Security.EmailVerificationEnabled,
		VerificationTokenTTL:     cfg.Security.VerificationTokenExpiry.Duration,
		ResetTokenTTL:            cfg.Security.ResetTokenExpiry.Duration,
		FrontendURL:              cfg.FrontendURL,
	}, logger)
	profileService := service.NewProfileService(repos.User, sessions, infra.Avatars(), issuer, logger)

	limiter, limiterWorker := newRateLimiter(infra, cfg)
	if limiterWorker != nil {
		workers = append(workers, limiterWorker)
	}
	workers = append(workers, service.NewJanitor(repos, cfg.Session.JanitorInterval.Duration, issuer.Now, logger))

	cookies := handler.NewCookies(issuer, cfg.Cookie.Domain, cfg.IsProduction())

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(handler.LoggerMiddleware(logger))
	router.Use(handler.CORSMiddleware(cfg.CORS.AllowedOrigins, cfg.CORS.AllowedMethods, cfg.CORS.AllowedHeaders))

	setupRoutes(router, handlers{
		auth:    handler.NewAuthHandler(authService, cookies),
		profile: handler.NewProfileHandler(profileService),
		guard:   guard,
		limit:   handler.RateLimitMiddleware(limiter, metrics, logger),
		health:  NewHealthChecker(infra),
		metrics: infra.MetricsHandler(),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
	}

	return &App{
		infra:   infra,
		config:  cfg,
		router:  router,
		server:  srv,
		workers: workers,
	}, nil
}

// newSender queues email through Redis when the queue is enabled and Brevo has
// credentials; otherwise it sends inline.
func newSender(infra Infrastructure, cfg *config.Config, metrics *observability.AuthMetrics) (notification.Sender, worker) {
	direct := notification.NewDirectSender(notification.NewBrevoClient(cfg.Brevo))
	if !direct.Configured() {
		infra.Logger().Warn("BREVO_API_KEY is not set, transactional email is disabled")
		return direct, nil
	}
	if !cfg.EmailQueue.Enabled {
		return direct, nil
	}

	queue := notification.NewRedisQueue(infra.Redis().Client)
	w := notification.NewWorker(queue, direct, metrics, notification.WorkerConfig{
		MaxAttempts: cfg.EmailQueue.MaxAttempts,
		Backoff:     cfg.EmailQueue.Backoff.Duration,
	}, infra.Logger())
	return notification.NewQueuedSender(queue, true), w
}

func newRateLimiter(infra Infrastructure, cfg *config.Config) (service.RateLimiter, worker) {
	limit, window := cfg.Security.RateLimitRequests, cfg.Security.RateLimitWindow.Duration
	if cfg.Security.RateLimitBackend == config.RateLimitBackendRedis {
		return service.NewRedisRateLimiter(infra.Redis(), limit, window), nil
	}
	l := service.NewMemoryRateLimiter(limit, window)
	return l, l
}

func (a *App) Router() *gin.Engine {
	return a.router
}

func setupRoutes(router *gin.Engine, h handlers) {
	router.GET("/metrics", observability.PrometheusHandler(h.metrics))
	router.GET("/health", h.health.Handler)

	api := router.Group("/api/v1")
	{
		auth := api.Group("/auth", handler.AuthMiddleware(h.guard, handler.WithPublicRoutes(publicRoutes...)))
		{
			auth.POST("/register", h.limit, h.auth.Register)
			auth.POST("/login", h.limit, h.auth.Login)
			auth.POST("/refresh", h.auth.Refresh)
			auth.POST("/logout", h.auth.Logout)
			auth.POST("/logout/all", h.auth.LogoutAll)
			auth.GET("/sessions", h.auth.Sessions)
			auth.DELETE("/sessions/:sessionId", h.auth.RevokeSession)
			auth.GET("/verify-email", h.auth.VerifyEmail)
			auth.POST("/resend-verification", h.limit, h.auth.ResendVerification)
			auth.POST("/forgot-password", h.limit, h.auth.ForgotPassword)
			auth.POST("/reset-password", h.limit, h.auth.ResetPassword)
			auth.PUT("/change-password", h.auth.ChangePassword)
			auth.GET("/me", h.auth.GetMe)

			auth.GET("/profile", h.profile.GetProfile)
			auth.PUT("/profile", h.profile.UpdateProfile)
			auth.POST("/avatar", h.profile.UploadAvatar)
			auth.DELETE("/avatar", h.profile.RemoveAvatar)
			auth.GET("/stats", h.profile.Stats)
			auth.GET("/check-email", h.profile.CheckEmail)
		}
	}
}

// Run serves HTTP and runs the background workers until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.infra.Logger().Info("Application starting",
			zap.String("host", a.config.Server.Host),
			zap.String("port", a.config.Server.Port),
		)

		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.infra.Logger().Error("Server error", zap.Error(err))
			return err
		}
		return nil
	})

	for _, w := range a.workers {
		g.Go(func() error { return w.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		a.infra.Logger().Info("Application shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()
	if err := a.Shutdown(); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// Shutdown releases the infrastructure. The HTTP server and workers must already be stopped.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.infra.Shutdown(ctx); err != nil {
		a.infra.Logger().Error("Shutdown failed", zap.Error(err))
		return err
	}

	a.infra.Logger().Info("Application exited successfully")
	return nil
}
