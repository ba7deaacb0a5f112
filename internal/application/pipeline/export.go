package pipeline

import (
	"context"
	"fmt"
	"path"

	"github.com/turtacn/VigorCast/internal/domain/composite"
	"github.com/turtacn/VigorCast/internal/domain/projection"
	"github.com/turtacn/VigorCast/internal/domain/run"
	"github.com/turtacn/VigorCast/internal/domain/table"
	"github.com/turtacn/VigorCast/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/VigorCast/pkg/errors"
)

// Artifact file names.
const (
	ArtifactObservations = "observations.csv"
	ArtifactCalibrated   = "calibrated_growth.csv"
	ArtifactSensitivity  = "sensitivity_law.csv"
	ArtifactLaw          = "law.csv"
	ArtifactWeights      = "pollutant_weights.csv"
	ArtifactAnnual       = "composite_index.csv"
	ArtifactComparison   = "comparison.csv"
	ArtifactNationalFit  = "national_parameters.csv"

	ContentTypeCSV = "text/csv"
)

var ErrArtifactWrite = errors.New(errors.ErrCodeArtifactWriteFailed, "failed to write artifact")

// ScenarioArtifact and ProjectionArtifact name the per-policy files.
func ScenarioArtifact(policy string) string { return fmt.Sprintf("scenario_%s.csv", policy) }

func ProjectionArtifact(policy string) string { return fmt.Sprintf("projection_%s.csv", policy) }

// NationalScenarioArtifact and NationalProjectionArtifact name the per-policy
// files of the national chain.
func NationalScenarioArtifact(policy string) string {
	return fmt.Sprintf("national_scenario_%s.csv", policy)
}

func NationalProjectionArtifact(policy string) string {
	return fmt.Sprintf("national_projection_%s.csv", policy)
}

// ArtifactKey is the store key of name for run id.
func (s *Service) ArtifactKey(runID, name string) string {
	return path.Join(s.cfg.Artifacts.Prefix, runID, name)
}

// NamedFrame is a tabular artifact.
type NamedFrame struct {
	Name  string
	Frame *table.Frame
}

// Frames lists every tabular artifact of res in export order.
func Frames(res *Result) []NamedFrame {
	out := []NamedFrame{
		{ArtifactObservations, res.Observations.Frame()},
		{ArtifactCalibrated, res.Calibration.Frame()},
		{ArtifactSensitivity, res.Parameters},
		{ArtifactLaw, res.Law.Frame()},
	}
	if res.Weights != nil {
		out = append(out,
			NamedFrame{ArtifactWeights, res.Weights.Frame()},
			NamedFrame{ArtifactAnnual, composite.AnnualFrame(res.Annual)})
	}
	for _, tr := range res.Trajectories {
		out = append(out, NamedFrame{ScenarioArtifact(string(tr.Policy)), tr.Frame()})
	}
	for _, p := range res.Projections {
		out = append(out, NamedFrame{ProjectionArtifact(string(p.Policy)), p.Frame()})
	}
	if res.Comparison != nil {
		out = append(out, NamedFrame{ArtifactComparison, res.Comparison})
	}
	if n := res.National; n != nil {
		out = append(out, NamedFrame{ArtifactNationalFit, n.Parameters})
		for _, tr := range n.Trajectories {
			out = append(out, NamedFrame{NationalScenarioArtifact(string(tr.Policy)), tr.Frame()})
		}
		for _, p := range n.Projections {
			out = append(out, NamedFrame{NationalProjectionArtifact(string(p.Policy)), p.Frame()})
		}
	}
	return out
}

// Export writes every artifact of res and returns their keys. All payloads
// are encoded and rendered before the first write. If a write fails, the keys
// already written are removed so a failed run leaves no partial set behind.
func (s *Service) Export(ctx context.Context, res *Result) ([]string, error) {
	var pending []Attachment
	for _, nf := range Frames(res) {
		data, err := table.Encode(nf.Frame)
		if err != nil {
			return nil, err
		}
		pending = append(pending, Attachment{Name: nf.Name, Data: data, ContentType: ContentTypeCSV})
	}
	for _, r := range s.renderers {
		attachments, err := r.Render(res)
		if err != nil {
			return nil, err
		}
		pending = append(pending, attachments...)
	}

	keys := make([]string, 0, len(pending))
	for _, a := range pending {
		key := s.ArtifactKey(res.RunID, a.Name)
		if err := s.store.Put(ctx, key, a.Data, a.ContentType); err != nil {
			s.rollback(ctx, res.RunID, keys)
			return nil, ErrArtifactWrite.WithDetailf("key=%s", key).WithCause(err)
		}
		keys = append(keys, key)
	}

	s.logger.Info("artifacts exported",
		logging.RunID(res.RunID),
		logging.Int("count", len(keys)))
	return keys, nil
}

// rollback removes written keys in reverse order. Failures are logged, the
// export error is what the caller sees.
func (s *Service) rollback(ctx context.Context, runID string, keys []string) {
	ctx = context.WithoutCancel(ctx)
	failed := 0
	for i := len(keys) - 1; i >= 0; i-- {
		if err := s.store.Delete(ctx, keys[i]); err != nil {
			failed++
			s.logger.Warn("artifact rollback failed", logging.RunID(runID), logging.String("key", keys[i]), logging.Err(err))
		}
	}
	s.logger.Warn("partial export rolled back",
		logging.RunID(runID),
		logging.Int("removed", len(keys)-failed),
		logging.Int("failed", failed))
}

// fillRun copies the headline numbers of res onto rec.
func fillRun(rec *run.Run, res *Result) {
	rec.Skipped = len(res.Calibration.Skipped)
	for _, f := range res.Calibration.Fits {
		rec.Params = append(rec.Params, run.RegionParams{
			Region:   f.Region,
			R:        f.Params.R,
			K:        f.Params.K,
			B0:       f.Params.B0,
			BaseYear: f.BaseYear,
			RMSE:     f.Result.RMSE,
			Points:   len(f.Observations),
		})
	}
	rec.Law = &run.Law{R0: res.Law.R0, Alpha: res.Law.Alpha, Samples: res.Law.Samples, RSquared: res.Law.RSquared}
	if res.Weights != nil {
		for i, p := range res.Weights.Pollutants {
			rec.Weights = append(rec.Weights, run.Weight{Pollutant: p, Weight: res.Weights.Values[i]})
		}
		intercept := res.Weights.Intercept
		rec.Intercept = &intercept
	}
	projections := res.Projections
	if res.National != nil {
		projections = append(append([]*projection.Projection(nil), projections...), res.National.Projections...)
	}
	for _, p := range projections {
		for _, r := range p.Records {
			rec.Projections = append(rec.Projections, run.ProjectionPoint{
				Policy:        string(p.Policy),
				Region:        r.Region,
				Year:          r.Year,
				Predicted:     r.Predicted,
				Concentration: r.Concentration,
			})
		}
	}
}
