// Package worker executes pipeline runs requested over the message bus. The
// inputs named in a request are read from the artifact store, and the run
// outcome is announced by the pipeline itself.
package worker

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/VigorCast/internal/application/pipeline"
	"github.com/turtacn/VigorCast/internal/domain/run"
	"github.com/turtacn/VigorCast/internal/domain/table"
	kafkamsg "github.com/turtacn/VigorCast/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/VigorCast/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/VigorCast/pkg/errors"
)

// Runner executes one pipeline run; *pipeline.Service satisfies it.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Lease is a held run lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker claims a run so redelivered requests are not executed twice at
// once. TryAcquire returns an error with code Conflict when already held.
type Locker interface {
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (Lease, error)
}

// InputReader loads request inputs by key.
type InputReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Handler turns run-requested messages into pipeline runs.
type Handler struct {
	runner     Runner
	inputs     InputReader
	runs       run.Repository
	locker     Locker
	runTimeout time.Duration
	logger     logging.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLocker dedupes concurrent deliveries of the same run.
func WithLocker(l Locker) Option { return func(h *Handler) { h.locker = l } }

// WithRunRepository skips requests whose run already succeeded.
func WithRunRepository(r run.Repository) Option { return func(h *Handler) { h.runs = r } }

// WithRunTimeout bounds a single run. Zero means no bound.
func WithRunTimeout(d time.Duration) Option { return func(h *Handler) { h.runTimeout = d } }

// NewHandler returns a Handler reading inputs from inputs.
func NewHandler(runner Runner, inputs InputReader, logger logging.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	h := &Handler{runner: runner, inputs: inputs, logger: logger.Named("worker")}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Handle processes one message. Messages of other event types are skipped.
func (h *Handler) Handle(ctx context.Context, msg kafka.Message) error {
	env, err := kafkamsg.MessageToEventEnvelope(msg)
	if err != nil {
		return err
	}
	if env.EventType != kafkamsg.EventRunRequested {
		h.logger.Debug("ignoring event", logging.String("event_type", env.EventType))
		return nil
	}

	var req kafkamsg.RunRequestedPayload
	if err := env.DecodePayload(&req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}
	if req.RunID == "" {
		req.RunID = run.NewID()
	}
	logger := h.logger.With(logging.RunID(req.RunID), logging.String("event_id", env.EventID))

	if h.finished(ctx, req.RunID) {
		logger.Info("run already succeeded, skipping redelivery")
		return nil
	}

	if h.locker != nil {
		lease, err := h.locker.TryAcquire(ctx, req.RunID, h.lockTTL())
		if err != nil {
			if errors.IsCode(err, errors.ErrCodeConflict) {
				logger.Info("run is being handled elsewhere, skipping")
				return nil
			}
			return err
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("failed to release run lock", logging.Err(err))
			}
		}()
	}

	preq, err := h.request(ctx, req)
	if err != nil {
		return err
	}

	runCtx := ctx
	if h.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, h.runTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := h.runner.Run(runCtx, preq)
	if err != nil {
		logger.Error("requested run failed",
			logging.Stage(pipeline.StageOf(err)),
			logging.Err(err))
		return err
	}
	logger.Info("requested run finished",
		logging.Duration("duration", time.Since(start)),
		logging.Int("artifacts", len(res.Artifacts)))
	return nil
}

// request reads the inputs named by req.
func (h *Handler) request(ctx context.Context, req kafkamsg.RunRequestedPayload) (pipeline.Request, error) {
	obs, err := h.readFrame(ctx, req.ObservationsKey)
	if err != nil {
		return pipeline.Request{}, err
	}
	out := pipeline.Request{
		RunID:        req.RunID,
		Observations: obs,
		Pollutant:    req.Pollutant,
		Policies:     req.Policies,
		Mode:         req.Mode,
	}
	if req.CompositeKey != "" {
		if out.Composite, err = h.readFrame(ctx, req.CompositeKey); err != nil {
			return pipeline.Request{}, err
		}
	}
	return out, nil
}

func (h *Handler) readFrame(ctx context.Context, key string) (*table.Frame, error) {
	data, err := h.inputs.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	f, err := table.Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUnknown, "failed to parse input").WithDetailf("key=%s", key)
	}
	return f, nil
}

func (h *Handler) finished(ctx context.Context, id string) bool {
	if h.runs == nil {
		return false
	}
	rec, err := h.runs.Get(ctx, id)
	if err != nil {
		if !errors.IsNotFound(err) {
			h.logger.Warn("failed to look up run", logging.RunID(id), logging.Err(err))
		}
		return false
	}
	return rec.Status == run.StatusSucceeded
}

func (h *Handler) lockTTL() time.Duration {
	if h.runTimeout > 0 {
		return h.runTimeout + time.Minute
	}
	return 15 * time.Minute
}
