package observability

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/prperemyshlev/identity-service"

// PrometheusHandler returns a Gin handler for Prometheus metrics
func PrometheusHandler(handler http.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		if handler != nil {
			handler.ServeHTTP(c.Writer, c.Request)
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "metrics handler not initialized",
			})
		}
	}
}

// AuthMetrics are the domain counters exported next to the HTTP metrics.
type AuthMetrics struct {
	logins        otelmetric.Int64Counter
	registrations otelmetric.Int64Counter
	refreshes     otelmetric.Int64Counter
	rateLimited   otelmetric.Int64Counter
	emails        otelmetric.Int64Counter
}

func NewAuthMetrics(provider otelmetric.MeterProvider) (*AuthMetrics, error) {
	meter := provider.Meter(meterName)

	logins, err1 := meter.Int64Counter("auth_logins_total",
		otelmetric.WithDescription("Login attempts by outcome"))
	registrations, err2 := meter.Int64Counter("auth_registrations_total",
		otelmetric.WithDescription("Completed registrations"))
	refreshes, err3 := meter.Int64Counter("auth_token_refreshes_total",
		otelmetric.WithDescription("Token refreshes by outcome"))
	rateLimited, err4 := meter.Int64Counter("auth_rate_limited_total",
		otelmetric.WithDescription("Requests rejected by the rate limiter"))
	emails, err5 := meter.Int64Counter("auth_emails_total",
		otelmetric.WithDescription("Outbound emails by kind and outcome"))

	if err := errors.Join(err1, err2, err3, err4, err5); err != nil {
		return nil, err
	}

	return &AuthMetrics{
		logins:        logins,
		registrations: registrations,
		refreshes:     refreshes,
		rateLimited:   rateLimited,
		emails:        emails,
	}, nil
}

// NewNoopAuthMetrics records nothing.
func NewNoopAuthMetrics() *AuthMetrics {
	m, _ := NewAuthMetrics(noop.NewMeterProvider())
	return m
}

func (m *AuthMetrics) Login(ctx context.Context, outcome string) {
	m.logins.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *AuthMetrics) Registration(ctx context.Context) {
	m.registrations.Add(ctx, 1)
}

func (m *AuthMetrics) Refresh(ctx context.Context, outcome string) {
	m.refreshes.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *AuthMetrics) RateLimited(ctx context.Context, route string) {
	m.rateLimited.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("route", route)))
}

func (m *AuthMetrics) Email(ctx context.Context, kind, outcome string) {
	m.emails.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}
