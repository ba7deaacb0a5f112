package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/VigorCast/internal/domain/run"
	"github.com/turtacn/VigorCast/internal/infrastructure/monitoring/logging"
	apperrors "github.com/turtacn/VigorCast/pkg/errors"
)

type mockKafkaWriter struct {
	writeFunc func(ctx context.Context, msgs ...kafka.Message) error
	closeFunc func() error
	written   []kafka.Message
	closed    int
}

func (m *mockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if m.writeFunc != nil {
		if err := m.writeFunc(ctx, msgs...); err != nil {
			return err
		}
	}
	m.written = append(m.written, msgs...)
	return nil
}

func (m *mockKafkaWriter) Close() error {
	m.closed++
	if m.closeFunc != nil {
		return m.closeFunc()
	}
	return nil
}

func (m *mockKafkaWriter) Stats() kafka.WriterStats { return kafka.WriterStats{} }

func newTestProducer(w WriterInterface) *Producer {
	return newProducer(w, ProducerConfig{
		Brokers:         []string{"localhost:9092"},
		MaxMessageBytes: 1024,
		CompletedTopic:  "runs.completed",
	}, logging.NewNopLogger())
}

func TestValidateProducerConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ProducerConfig
		wantErr bool
	}{
		{"valid", ProducerConfig{Brokers: []string{"b:9092"}}, false},
		{"valid acks", ProducerConfig{Brokers: []string{"b:9092"}, Acks: "one"}, false},
		{"no brokers", ProducerConfig{}, true},
		{"negative attempts", ProducerConfig{Brokers: []string{"b:9092"}, MaxAttempts: -1}, true},
		{"unknown acks", ProducerConfig{Brokers: []string{"b:9092"}, Acks: "some"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProducerConfig(tt.cfg)
			if tt.wantErr {
				assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProducerDefaults(t *testing.T) {
	p := newProducer(&mockKafkaWriter{}, ProducerConfig{Brokers: []string{"b:9092"}}, nil)
	assert.Equal(t, 3, p.config.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, p.config.BatchTimeout)
	assert.Equal(t, 1024*1024, p.config.MaxMessageBytes)
	assert.Equal(t, "pipeline.run.completed", p.config.CompletedTopic)
}

func TestPublish_Success(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newTestProducer(w)

	err := p.Publish(context.Background(), kafka.Message{Topic: "t", Key: []byte("k"), Value: []byte("v")})
	require.NoError(t, err)
	require.Len(t, w.written, 1)
	assert.False(t, w.written[0].Time.IsZero())

	m := p.GetMetrics()
	assert.Equal(t, int64(1), m.MessagesSent.Load())
	assert.Equal(t, int64(1), m.BytesSent.Load())
}

func TestPublish_Rejects(t *testing.T) {
	p := newTestProducer(&mockKafkaWriter{})
	ctx := context.Background()

	assert.Error(t, p.Publish(ctx, kafka.Message{Value: []byte("v")}), "missing topic")
	assert.Error(t, p.Publish(ctx, kafka.Message{Topic: "t"}), "missing value")
	assert.Error(t, p.Publish(ctx, kafka.Message{Topic: "t", Value: make([]byte, 2048)}), "too large")
}

func TestPublish_WriterError(t *testing.T) {
	w := &mockKafkaWriter{writeFunc: func(context.Context, ...kafka.Message) error {
		return errors.New("broker down")
	}}
	p := newTestProducer(w)

	err := p.Publish(context.Background(), kafka.Message{Topic: "t", Value: []byte("v")})
	assert.ErrorIs(t, err, ErrPublishFailed)
	m := p.GetMetrics()
	assert.Equal(t, int64(1), m.MessagesFailed.Load())
}

func TestPublish_AfterClose(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newTestProducer(w)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, w.closed)

	err := p.Publish(context.Background(), kafka.Message{Topic: "t", Value: []byte("v")})
	assert.ErrorIs(t, err, ErrProducerClosed)
}

func TestPublishRunCompleted(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newTestProducer(w)

	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := run.New("run-9", "Mean_NO2", []string{"constant"}, "closed_form", started)
	r.Params = []run.RegionParams{{Region: "Alpha"}, {Region: "Beta"}}
	r.Projections = []run.ProjectionPoint{{Policy: "constant", Region: "Alpha", Year: 2030}}
	r.Succeed(started.Add(1500 * time.Millisecond))

	ctx := logging.ContextWithRunID(context.Background(), "run-9")
	require.NoError(t, p.PublishRunCompleted(ctx, r))
	require.Len(t, w.written, 1)

	msg := w.written[0]
	assert.Equal(t, "runs.completed", msg.Topic)
	assert.Equal(t, "run-9", string(msg.Key))
	assert.Equal(t, EventRunCompleted, HeaderValue(msg, HeaderEventType))
	assert.Equal(t, "run-9", HeaderValue(msg, HeaderTraceID))

	env, err := MessageToEventEnvelope(msg)
	require.NoError(t, err)
	var payload RunCompletedPayload
	require.NoError(t, env.DecodePayload(&payload))
	assert.Equal(t, "succeeded", payload.Status)
	assert.Equal(t, 2, payload.Regions)
	assert.Equal(t, 1, payload.Projections)
	assert.Equal(t, int64(1500), payload.DurationMS)

	assert.Error(t, p.PublishRunCompleted(ctx, nil))
}

func TestPublishRunRequested(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newTestProducer(w)
	ctx := context.Background()

	err := p.PublishRunRequested(ctx, "runs.requested", RunRequestedPayload{})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))

	require.NoError(t, p.PublishRunRequested(ctx, "runs.requested", RunRequestedPayload{
		ObservationsKey: "inputs/obs.csv",
		Policies:        []string{"decrease"},
	}))
	require.Len(t, w.written, 1)

	var env EventEnvelope
	require.NoError(t, json.Unmarshal(w.written[0].Value, &env))
	var req RunRequestedPayload
	require.NoError(t, env.DecodePayload(&req))
	assert.NotEmpty(t, req.RunID)
	assert.Equal(t, req.RunID, string(w.written[0].Key))
	assert.False(t, req.RequestedAt.IsZero())
	assert.Equal(t, []string{"decrease"}, req.Policies)
}
