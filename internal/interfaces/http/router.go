package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/VigorCast/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/VigorCast/internal/interfaces/http/handlers"
	"github.com/turtacn/VigorCast/internal/interfaces/http/middleware"
	"github.com/turtacn/VigorCast/pkg/errors"
)

// RouterConfig aggregates all handler and middleware dependencies required
// to construct the route tree. Nil handlers leave their routes unregistered.
type RouterConfig struct {
	HealthHandler *handlers.HealthHandler
	RunHandler    *handlers.RunHandler

	Logger  logging.Logger
	Logging middleware.LoggingConfig

	// Metrics observes every request when set.
	Metrics middleware.RequestObserver

	// MetricsHandler is mounted at MetricsPath (default /metrics).
	MetricsHandler http.Handler
	MetricsPath    string
}

// NewRouter constructs the gin engine serving probes, metrics and the
// read-only run API under /api/v1.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	if cfg.Metrics != nil {
		r.Use(middleware.RequestMetrics(cfg.Metrics))
	}
	r.Use(middleware.RequestLogging(cfg.Logger, cfg.Logging))

	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.Liveness)
		r.GET("/readyz", cfg.HealthHandler.Readiness)
		r.GET("/healthz/detail", cfg.HealthHandler.Detailed)
	}

	if cfg.MetricsHandler != nil {
		p := cfg.MetricsPath
		if p == "" {
			p = "/metrics"
		}
		r.GET(p, gin.WrapH(cfg.MetricsHandler))
	}

	api := r.Group("/api/v1")
	if cfg.RunHandler != nil {
		runs := api.Group("/runs")
		runs.GET("", cfg.RunHandler.List)
		runs.GET("/:id", cfg.RunHandler.Get)
		runs.GET("/:id/artifacts/:name", cfg.RunHandler.Artifact)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, handlers.ErrorResponse{Code: string(errors.ErrCodeNotFound), Message: "route not found"})
	})

	return r
}
