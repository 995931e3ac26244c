package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveHealth(t *testing.T, h *HealthChecker) (int, healthReport) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health", h.Handler)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var report healthReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	return w.Code, report
}

func TestHealthCheckerPass(t *testing.T) {
	ok := func(context.Context) error { return nil }
	h := newHealthChecker(time.Now,
		dependencyCheck{name: "postgres", ping: ok},
		dependencyCheck{name: "redis", ping: ok},
	)

	code, report := serveHealth(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "pass", report.Status)
	require.Len(t, report.Dependencies, 2)
	assert.Equal(t, "pass", report.Dependencies["postgres"].Status)
	assert.Equal(t, "pass", report.Dependencies["redis"].Status)
	assert.Empty(t, report.Dependencies["redis"].Error)
}

func TestHealthCheckerReportsFailingDependency(t *testing.T) {
	h := newHealthChecker(time.Now,
		dependencyCheck{name: "postgres", ping: func(context.Context) error { return nil }},
		dependencyCheck{name: "redis", ping: func(context.Context) error { return errors.New("connection refused") }},
	)

	code, report := serveHealth(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "fail", report.Status)
	assert.Equal(t, "pass", report.Dependencies["postgres"].Status)
	assert.Equal(t, "fail", report.Dependencies["redis"].Status)
	assert.Equal(t, "connection refused", report.Dependencies["redis"].Error)
}

func TestHealthCheckerTimesOutSlowDependency(t *testing.T) {
	h := newHealthChecker(time.Now, dependencyCheck{name: "postgres", ping: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	report := h.check(ctx)
	assert.Equal(t, "fail", report.Status)
	assert.Equal(t, context.DeadlineExceeded.Error(), report.Dependencies["postgres"].Error)
}
