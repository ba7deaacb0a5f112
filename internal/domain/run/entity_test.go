package run

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_GeneratesID(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("x", 3600))
	policies := []string{"constant"}
	r := New("", "Mean_NO2", policies, "closed_form", now)

	_, err := uuid.Parse(r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, r.Status)
	assert.Equal(t, time.UTC, r.StartedAt.Location())
	assert.False(t, r.Status.Terminal())

	policies[0] = "mutated"
	assert.Equal(t, "constant", r.Policies[0])

	assert.Equal(t, "fixed", New("fixed", "", nil, "", now).ID)
}

func TestRun_Transitions(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	r := New("a", "Mean_NO2", nil, "closed_form", start)
	assert.Zero(t, r.Duration())

	r.Succeed(start.Add(2 * time.Second))
	assert.True(t, r.Status.Terminal())
	assert.Equal(t, 2*time.Second, r.Duration())

	f := New("b", "Mean_NO2", nil, "closed_form", start)
	f.Fail("sensitivity", errors.New("too few samples"), start.Add(time.Second))
	assert.Equal(t, StatusFailed, f.Status)
	assert.Equal(t, "sensitivity", f.FailedStage)
	assert.Equal(t, "too few samples", f.Error)
}
