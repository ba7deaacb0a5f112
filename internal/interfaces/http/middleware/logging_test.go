package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/VigorCast/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/bad", func(c *gin.Context) { c.String(http.StatusBadRequest, "bad") })
	r.GET("/boom", func(c *gin.Context) { c.String(http.StatusInternalServerError, "boom") })
	r.GET("/slow", func(c *gin.Context) {
		time.Sleep(20 * time.Millisecond)
		c.String(http.StatusOK, "slow")
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/runs/:id", func(c *gin.Context) { c.String(http.StatusOK, c.Param("id")) })
	return r
}

func serve(r http.Handler, path string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestID_Generated(t *testing.T) {
	r := newEngine(RequestID())
	w := serve(r, "/ok")
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)
}

func TestRequestID_Propagated(t *testing.T) {
	var seen string
	r := gin.New()
	r.Use(RequestID())
	r.GET("/ok", func(c *gin.Context) {
		seen = GetRequestID(c)
		c.Status(http.StatusOK)
	})

	w := serve(r, "/ok", RequestIDHeader, "abc-123")
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "abc-123", seen)
}

func TestRequestLogging_Levels(t *testing.T) {
	log := testutil.NewMockLogger()
	r := newEngine(RequestID(), RequestLogging(log, LoggingConfig{SlowThreshold: 10 * time.Millisecond}))

	serve(r, "/ok")
	serve(r, "/bad")
	serve(r, "/boom")
	serve(r, "/slow")

	assert.True(t, log.HasMessage("info", "HTTP request completed"))
	assert.True(t, log.HasMessage("warn", "HTTP request completed with client error"))
	assert.True(t, log.HasMessage("error", "HTTP request completed with server error"))
	assert.True(t, log.HasMessage("warn", "HTTP request completed (slow)"))

	entries := log.Find("error", "HTTP request completed with server error")
	require.Len(t, entries, 1)
	status, ok := entries[0].Field("status")
	require.True(t, ok)
	assert.EqualValues(t, 500, status)
	id, ok := entries[0].Field("request_id")
	require.True(t, ok)
	assert.NotEmpty(t, id)
}

func TestRequestLogging_SkipPaths(t *testing.T) {
	log := testutil.NewMockLogger()
	r := newEngine(RequestLogging(log, DefaultLoggingConfig()))

	serve(r, "/healthz")
	assert.Empty(t, log.GetMessages())

	serve(r, "/ok")
	assert.Len(t, log.GetMessages(), 1)
}

func TestRequestLogging_NilLogger(t *testing.T) {
	r := newEngine(RequestLogging(nil, LoggingConfig{}))
	assert.Equal(t, http.StatusOK, serve(r, "/ok").Code)
}

type observation struct {
	method, path, status string
}

type recordingObserver struct {
	mu  sync.Mutex
	obs []observation
}

func (r *recordingObserver) ObserveHTTPRequest(method, path, statusCode string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs = append(r.obs, observation{method, path, statusCode})
}

func TestRequestMetrics_UsesRouteTemplate(t *testing.T) {
	rec := &recordingObserver{}
	r := newEngine(RequestMetrics(rec))

	serve(r, "/runs/abc")
	serve(r, "/runs/def")
	serve(r, "/bad")
	serve(r, "/nowhere")

	require.Len(t, rec.obs, 4)
	assert.Equal(t, observation{"GET", "/runs/:id", "200"}, rec.obs[0])
	assert.Equal(t, observation{"GET", "/runs/:id", "200"}, rec.obs[1])
	assert.Equal(t, observation{"GET", "/bad", "400"}, rec.obs[2])
	assert.Equal(t, observation{"GET", "unmatched", "404"}, rec.obs[3])
}
