package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serveHealth(t *testing.T, h *HealthHandler, route string, fn gin.HandlerFunc) (*httptest.ResponseRecorder, ReadinessResponse) {
	t.Helper()
	r := gin.New()
	r.GET(route, fn)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, route, nil))

	var body ReadinessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func okChecker(name string) HealthChecker {
	return NewChecker(name, func(context.Context) error { return nil })
}

func TestHealthHandler_Liveness(t *testing.T) {
	h := NewHealthHandler("1.2.3", NewChecker("db", func(context.Context) error {
		t.Fatal("liveness must not check dependencies")
		return nil
	}))
	r := gin.New()
	r.GET("/healthz", h.Liveness)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var body LivenessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "alive", body.Status)
	assert.Equal(t, "1.2.3", body.Version)
}

func TestHealthHandler_Readiness_NoCheckers(t *testing.T) {
	h := NewHealthHandler("dev")
	w, body := serveHealth(t, h, "/readyz", h.Readiness)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", body.Status)
	assert.Empty(t, body.Components)
}

func TestHealthHandler_Readiness_AllHealthy(t *testing.T) {
	h := NewHealthHandler("dev", okChecker("postgres"), okChecker("redis"))
	w, body := serveHealth(t, h, "/readyz", h.Readiness)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", body.Status)
	require.Len(t, body.Components, 2)
	assert.Equal(t, "healthy", body.Components["postgres"].Status)
	assert.Equal(t, "healthy", body.Components["redis"].Status)
}

func TestHealthHandler_Readiness_OneDown(t *testing.T) {
	h := NewHealthHandler("dev",
		okChecker("postgres"),
		NewChecker("minio", func(context.Context) error { return errors.New("connection refused") }),
	)
	w, body := serveHealth(t, h, "/readyz", h.Readiness)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "not_ready", body.Status)
	assert.Equal(t, "unhealthy", body.Components["minio"].Status)
	assert.Equal(t, "connection refused", body.Components["minio"].Error)
	assert.Equal(t, "healthy", body.Components["postgres"].Status)
}

func TestHealthHandler_Detailed(t *testing.T) {
	h := NewHealthHandler("dev", okChecker("redis"))
	w, body := serveHealth(t, h, "/healthz/detail", h.Detailed)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "dev", body.Version)
	assert.NotEmpty(t, body.Uptime)

	h = NewHealthHandler("dev", NewChecker("redis", func(context.Context) error { return errors.New("down") }))
	w, body = serveHealth(t, h, "/healthz/detail", h.Detailed)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", body.Status)
}

func TestHealthHandler_CheckerSeesDeadline(t *testing.T) {
	var hasDeadline bool
	h := NewHealthHandler("dev", NewChecker("kafka", func(ctx context.Context) error {
		_, hasDeadline = ctx.Deadline()
		return nil
	}))
	serveHealth(t, h, "/readyz", h.Readiness)
	assert.True(t, hasDeadline)
}
