package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sethvargo/go-envconfig"
	"golang.org/x/crypto/bcrypt"
)

const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

type Config struct {
	Server     ServerConfig     `env:",prefix=SERVER_"`
	Postgres   PostgresConfig   `env:",prefix=POSTGRES_"`
	Redis      RedisConfig      `env:",prefix=REDIS_"`
	JWT        JWTConfig        `env:",prefix=JWT_"`
	Session    SessionConfig    `env:",prefix=SESSION_"`
	Security   SecurityConfig   `env:",prefix="`
	CORS       CORSConfig       `env:",prefix=CORS_"`
	Cookie     CookieConfig     `env:",prefix=COOKIE_"`
	Brevo      BrevoConfig      `env:",prefix=BREVO_"`
	EmailQueue EmailQueueConfig `env:",prefix=EMAIL_QUEUE_"`
	Storage    StorageConfig    `env:",prefix=STORAGE_"`

	FrontendURL string `env:"FRONTEND_URL,default=http://localhost:3001"`
	Env         string `env:"ENV,default=development"`
}

type ServerConfig struct {
	Port         string   `env:"PORT,default=8080"`
	Host         string   `env:"HOST,default=0.0.0.0"`
	ReadTimeout  Duration `env:"READ_TIMEOUT,default=15s"`
	WriteTimeout Duration `env:"WRITE_TIMEOUT,default=15s"`
}

type PostgresConfig struct {
	Host          string `env:"HOST,default=localhost"`
	Port          string `env:"PORT,default=5432"`
	User          string `env:"USER,default=identity_service"`
	Password      string `env:"PASSWORD,default=identity_service_password"`
	DBName        string `env:"DB,default=identity_service_db"`
	SSLMode       string `env:"SSLMODE,default=disable"`
	MigrateOnBoot bool   `env:"MIGRATE_ON_BOOT,default=true"`
}

type RedisConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=6379"`
	Password string `env:"PASSWORD,default="`
	DB       int    `env:"DB,default=0"`
}

type JWTConfig struct {
	Secret             string   `env:"SECRET,required"`
	RefreshSecret      string   `env:"REFRESH_SECRET,default="`
	AccessTokenExpiry  Duration `env:"ACCESS_TOKEN_EXPIRY,default=15m"`
	RefreshTokenExpiry Duration `env:"REFRESH_TOKEN_EXPIRY,default=7d"`
}

type SessionConfig struct {
	Expiry           Duration `env:"EXPIRY,default=7d"`
	RememberMeExpiry Duration `env:"REMEMBER_ME_EXPIRY,default=30d"`
	JanitorInterval  Duration `env:"JANITOR_INTERVAL,default=1h"`
}

type SecurityConfig struct {
	BCryptCost               int      `env:"BCRYPT_COST,default=10"`
	RateLimitRequests        int      `env:"RATE_LIMIT_REQUESTS,default=5"`
	RateLimitWindow          Duration `env:"RATE_LIMIT_WINDOW,default=15m"`
	RateLimitBackend         string   `env:"RATE_LIMIT_BACKEND,default=memory"`
	EmailVerificationEnabled bool     `env:"EMAIL_VERIFICATION_ENABLED,default=true"`
	RotateRefreshTokens      bool     `env:"SECURITY_ROTATE_REFRESH_TOKENS,default=false"`
	VerificationTokenExpiry  Duration `env:"VERIFICATION_TOKEN_EXPIRY,default=24h"`
	ResetTokenExpiry         Duration `env:"RESET_TOKEN_EXPIRY,default=30m"`
}

type CORSConfig struct {
	AllowedOrigins []string `env:"ALLOWED_ORIGINS,default=http://localhost:3001"`
	AllowedMethods []string `env:"ALLOWED_METHODS,default=GET,POST,PUT,DELETE,OPTIONS"`
	AllowedHeaders []string `env:"ALLOWED_HEADERS,default=Content-Type,Authorization"`
}

type CookieConfig struct {
	Domain string `env:"DOMAIN,default="`
}

type BrevoConfig struct {
	APIKey      string `env:"API_KEY,default="`
	BaseURL     string `env:"BASE_URL,default=https://api.brevo.com/v3"`
	SenderEmail string `env:"SENDER_EMAIL,default=noreply@example.com"`
	SenderName  string `env:"SENDER_NAME,default=Identity Service"`
}

type EmailQueueConfig struct {
	Enabled     bool     `env:"ENABLED,default=true"`
	MaxAttempts int      `env:"MAX_ATTEMPTS,default=3"`
	Backoff     Duration `env:"BACKOFF,default=3s"`
}

type StorageConfig struct {
	Bucket          string `env:"BUCKET,default="`
	Region          string `env:"REGION,default=us-east-1"`
	Endpoint        string `env:"ENDPOINT,default="`
	AccessKeyID     string `env:"ACCESS_KEY_ID,default="`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY,default="`
	PublicBaseURL   string `env:"PUBLIC_BASE_URL,default="`
	UsePathStyle    bool   `env:"USE_PATH_STYLE,default=true"`
}

// IsProduction reports whether cookies should be issued as secure and strict.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// DSN returns PostgreSQL connection string
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

// URL returns the PostgreSQL connection string in URL form, as expected by migrate.
func (p PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode)
}

// Address returns Redis connection address
func (r RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// Enabled reports whether avatar uploads have a bucket to go to.
func (s StorageConfig) Enabled() bool {
	return s.Bucket != ""
}

// Load loads configuration from environment variables
func Load(ctx context.Context) (*Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var config Config

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &config,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	var errs []error

	if len(c.JWT.Secret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 characters long"))
	}
	if c.JWT.RefreshSecret != "" && len(c.JWT.RefreshSecret) < 32 {
		errs = append(errs, errors.New("JWT_REFRESH_SECRET must be at least 32 characters long"))
	}
	if c.Security.BCryptCost < bcrypt.MinCost || c.Security.BCryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}
	if c.Security.RateLimitRequests <= 0 || c.Security.RateLimitWindow.Duration <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive"))
	}
	switch c.Security.RateLimitBackend {
	case RateLimitBackendMemory, RateLimitBackendRedis:
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BACKEND must be %q or %q", RateLimitBackendMemory, RateLimitBackendRedis))
	}
	if c.Session.Expiry.Duration <= 0 || c.Session.RememberMeExpiry.Duration <= 0 {
		errs = append(errs, errors.New("SESSION_EXPIRY and SESSION_REMEMBER_ME_EXPIRY must be positive"))
	}
	if c.EmailQueue.MaxAttempts < 1 {
		errs = append(errs, errors.New("EMAIL_QUEUE_MAX_ATTEMPTS must be at least 1"))
	}

	return errors.Join(errs...)
}
