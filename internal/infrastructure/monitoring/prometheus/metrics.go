// Package prometheus exposes the pipeline's run, stage and HTTP metrics on a
// private registry.
package prometheus

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/turtacn/VigorCast/internal/infrastructure/monitoring/logging"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

var (
	StageDurationBuckets = []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30, 60}
	RunDurationBuckets   = []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 600}
	HTTPDurationBuckets  = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
)

// Options names the metrics and selects the runtime collectors.
type Options struct {
	Namespace      string
	Subsystem      string
	ProcessMetrics bool
	GoMetrics      bool
	ConstLabels    prometheus.Labels
}

// PipelineMetrics records run, stage, calibration, merge and HTTP metrics. It
// implements the pipeline recorder and the HTTP request observer.
type PipelineMetrics struct {
	registry *prometheus.Registry

	stageDuration     *prometheus.HistogramVec
	stageErrors       *prometheus.CounterVec
	regionsFitted     prometheus.Counter
	regionsSkipped    prometheus.Counter
	fitCacheHits      prometheus.Counter
	duplicatesRemoved *prometheus.CounterVec
	runs              *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	runsInFlight      prometheus.Gauge
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// NewPipelineMetrics registers the metric set on a fresh registry.
// Namespace is required.
func NewPipelineMetrics(opts Options, logger logging.Logger) (*PipelineMetrics, error) {
	if opts.Namespace == "" {
		return nil, fmt.Errorf("metrics namespace is required")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	reg := prometheus.NewRegistry()
	if opts.ProcessMetrics {
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: opts.Namespace}))
	}
	if opts.GoMetrics {
		reg.MustRegister(collectors.NewGoCollector())
	}

	f := promauto.With(reg)
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace, Subsystem: opts.Subsystem, ConstLabels: opts.ConstLabels,
			Name: name, Help: help,
		}, labels)
	}
	histogram := func(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: opts.Namespace, Subsystem: opts.Subsystem, ConstLabels: opts.ConstLabels,
			Name: name, Help: help, Buckets: buckets,
		}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{
			Namespace: opts.Namespace, Subsystem: opts.Subsystem, ConstLabels: opts.ConstLabels,
			Name: name, Help: help,
		})
	}

	m := &PipelineMetrics{
		registry:          reg,
		stageDuration:     histogram("stage_duration_seconds", "Pipeline stage duration", StageDurationBuckets, "stage"),
		stageErrors:       counter("stage_errors_total", "Pipeline stage failures", "stage"),
		regionsFitted:     counter("regions_fitted_total", "Regions with a calibrated growth curve").WithLabelValues(),
		regionsSkipped:    counter("regions_skipped_total", "Regions left out of calibration").WithLabelValues(),
		fitCacheHits:      counter("fit_cache_hits_total", "Region fits served from the calibration cache").WithLabelValues(),
		duplicatesRemoved: counter("merge_duplicates_removed_total", "Duplicate region-years removed while merging", "policy"),
		runs:              counter("runs_total", "Pipeline runs", "status"),
		runDuration:       histogram("run_duration_seconds", "Pipeline run duration", RunDurationBuckets, "status"),
		runsInFlight:      gauge("runs_in_flight", "Pipeline runs in progress"),
		httpRequests:      counter("http_requests_total", "Total HTTP requests", "method", "path", "status_code"),
		httpDuration:      histogram("http_request_duration_seconds", "HTTP request duration", HTTPDurationBuckets, "method", "path"),
	}
	logger.Named("metrics").Debug("pipeline metrics registered", logging.String("namespace", opts.Namespace))
	return m, nil
}

// Handler serves the registry in the OpenMetrics format.
func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the private registry.
func (m *PipelineMetrics) Registry() *prometheus.Registry { return m.registry }

func status(err error) string {
	if err != nil {
		return StatusFailure
	}
	return StatusSuccess
}

// ObserveStage records one stage execution.
func (m *PipelineMetrics) ObserveStage(stage string, d time.Duration, err error) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		m.stageErrors.WithLabelValues(stage).Inc()
	}
}

// ObserveCalibration records the outcome of a calibration stage.
func (m *PipelineMetrics) ObserveCalibration(fitted, skipped, cached int) {
	m.regionsFitted.Add(float64(fitted))
	m.regionsSkipped.Add(float64(skipped))
	m.fitCacheHits.Add(float64(cached))
}

// ObserveMerge records duplicates removed while merging policy.
func (m *PipelineMetrics) ObserveMerge(policy string, duplicates int) {
	m.duplicatesRemoved.WithLabelValues(policy).Add(float64(duplicates))
}

func (m *PipelineMetrics) RunStarted() { m.runsInFlight.Inc() }

// RunFinished records a completed run.
func (m *PipelineMetrics) RunFinished(d time.Duration, err error) {
	m.runsInFlight.Dec()
	s := status(err)
	m.runs.WithLabelValues(s).Inc()
	m.runDuration.WithLabelValues(s).Observe(d.Seconds())
}

// ObserveHTTPRequest records one served request.
func (m *PipelineMetrics) ObserveHTTPRequest(method, path, statusCode string, d time.Duration) {
	m.httpRequests.WithLabelValues(method, path, statusCode).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
