package handlers

import (
	"context"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/VigorCast/internal/domain/run"
	"github.com/turtacn/VigorCast/pkg/errors"
)

// ArtifactReader fetches a stored artifact by key.
type ArtifactReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// RunHandler exposes persisted runs.
type RunHandler struct {
	runs      run.Repository
	artifacts ArtifactReader
}

// NewRunHandler returns a RunHandler. artifacts may be nil, which disables
// artifact downloads.
func NewRunHandler(runs run.Repository, artifacts ArtifactReader) *RunHandler {
	return &RunHandler{runs: runs, artifacts: artifacts}
}

// RunSummary is one row of GET /runs.
type RunSummary struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	Pollutant   string    `json:"pollutant"`
	Policies    []string  `json:"policies"`
	Mode        string    `json:"mode"`
	FailedStage string    `json:"failed_stage,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	DurationMS  int64     `json:"duration_ms"`
}

// ListRunsResponse wraps GET /runs.
type ListRunsResponse struct {
	Runs  []RunSummary `json:"runs"`
	Count int          `json:"count"`
}

// Get handles GET /runs/:id.
func (h *RunHandler) Get(c *gin.Context) {
	rec, err := h.runs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// List handles GET /runs?limit=N, newest first.
func (h *RunHandler) List(c *gin.Context) {
	recs, err := h.runs.List(c.Request.Context(), parseLimit(c))
	if err != nil {
		writeAppError(c, err)
		return
	}
	resp := ListRunsResponse{Runs: make([]RunSummary, 0, len(recs)), Count: len(recs)}
	for _, r := range recs {
		resp.Runs = append(resp.Runs, RunSummary{
			ID:          r.ID,
			Status:      string(r.Status),
			Pollutant:   r.Pollutant,
			Policies:    r.Policies,
			Mode:        r.Mode,
			FailedStage: r.FailedStage,
			StartedAt:   r.StartedAt,
			DurationMS:  r.Duration().Milliseconds(),
		})
	}
	c.JSON(http.StatusOK, resp)
}

// Artifact handles GET /runs/:id/artifacts/:name. Only artifacts recorded
// on the run are served.
func (h *RunHandler) Artifact(c *gin.Context) {
	if h.artifacts == nil {
		writeAppError(c, errors.New(errors.ErrCodeServiceUnavailable, "artifact store not configured"))
		return
	}
	ctx := c.Request.Context()
	rec, err := h.runs.Get(ctx, c.Param("id"))
	if err != nil {
		writeAppError(c, err)
		return
	}

	name := c.Param("name")
	var key string
	for _, k := range rec.Artifacts {
		if path.Base(k) == name {
			key = k
			break
		}
	}
	if key == "" {
		writeAppError(c, errors.New(errors.ErrCodeArtifactNotFound, "artifact not found").WithDetailf("name=%s", name))
		return
	}

	data, err := h.artifacts.Get(ctx, key)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, contentType(name), data)
}

func contentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".csv"):
		return "text/csv"
	case strings.HasSuffix(name, ".xlsx"):
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case strings.HasSuffix(name, ".png"):
		return "image/png"
	}
	return "application/octet-stream"
}
