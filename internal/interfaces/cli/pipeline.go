package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/VigorCast/internal/application/pipeline"
	"github.com/turtacn/VigorCast/internal/domain/composite"
	"github.com/turtacn/VigorCast/internal/domain/run"
	"github.com/turtacn/VigorCast/internal/domain/scenario"
	"github.com/turtacn/VigorCast/internal/domain/table"
	"github.com/turtacn/VigorCast/internal/infrastructure/monitoring/logging"
)

// inputFlags are shared by every command reading observations.
type inputFlags struct {
	observations string
	composite    string
	pollutant    string
	policies     []string
	mode         string
}

func (f *inputFlags) bindObservations(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.observations, "observations", "i", "", "observation table (CSV/TSV; \"-\" reads stdin) [REQUIRED]")
	cmd.Flags().StringVar(&f.pollutant, "pollutant", "", "pollutant column driving calibration (default: input.pollutant)")
	_ = cmd.MarkFlagRequired("observations")
}

func (f *inputFlags) bindScenario(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.policies, "policies", nil, "scenario policies: constant, decrease, increase, fluctuating (default: scenario.policies)")
}

func (f *inputFlags) bindProjection(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.composite, "composite", "", "optional national per-year table for the composite index")
	cmd.Flags().StringVar(&f.mode, "mode", "", "projection mode: closed_form or stepwise (default: projection.mode)")
}

func (f *inputFlags) request(cmd *cobra.Command) (pipeline.Request, error) {
	obs, err := readFrame(cmd.InOrStdin(), f.observations)
	if err != nil {
		return pipeline.Request{}, err
	}
	req := pipeline.Request{
		Observations: obs,
		Pollutant:    f.pollutant,
		Policies:     f.policies,
		Mode:         f.mode,
	}
	if f.composite != "" {
		if req.Composite, err = readFrame(cmd.InOrStdin(), f.composite); err != nil {
			return pipeline.Request{}, err
		}
	}
	return req, nil
}

func (f *inputFlags) pollutantOr(cc *CLIContext) string {
	if f.pollutant != "" {
		return f.pollutant
	}
	return cc.Config.Input.Pollutant
}

func (f *inputFlags) policiesOr(cc *CLIContext) ([]scenario.Policy, error) {
	names := f.policies
	if len(names) == 0 {
		names = cc.Config.Scenario.Policies
	}
	return scenario.ParsePolicies(names)
}

// NewRunCmd runs the full pipeline with every configured collaborator.
func NewRunCmd() *cobra.Command {
	var (
		in    inputFlags
		runID string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline and export its artifacts",
		Long: "Calibrate, fit the sensitivity law and optional composite weights, generate\n" +
			"scenarios and project every policy. Artifacts go to the configured backend;\n" +
			"the run is recorded in PostgreSQL and announced on Kafka when enabled.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			req, err := in.request(cmd)
			if err != nil {
				return err
			}
			req.RunID = runID

			ctx, cancel := commandContext(cmd, cc)
			defer cancel()

			rt, err := openRuntime(ctx, cc, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := newService(cc, rt.opts...).Run(ctx, req)
			if err != nil {
				return err
			}
			return PrintResult(cmd, newRunSummary(res.Run, rt.backend.Name))
		},
	}

	in.bindObservations(cmd)
	in.bindScenario(cmd)
	in.bindProjection(cmd)
	cmd.Flags().StringVar(&runID, "run-id", "", "run identifier (default: a new UUID)")
	return cmd
}

// NewProjectCmd runs the pipeline in memory and prints the projections.
func NewProjectCmd() *cobra.Command {
	var in inputFlags

	cmd := &cobra.Command{
		Use:   "project",
		Short: "Project vegetation for every policy without exporting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			req, err := in.request(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := commandContext(cmd, cc)
			defer cancel()

			res, err := newService(cc).Run(ctx, req)
			if err != nil {
				return err
			}

			var out FrameSet
			for _, p := range res.Projections {
				out = append(out, FrameOutput{Name: pipeline.ProjectionArtifact(string(p.Policy)), Frame: p.Frame()})
			}
			if res.Comparison != nil {
				out = append(out, FrameOutput{Name: pipeline.ArtifactComparison, Frame: res.Comparison})
			}
			if res.National != nil {
				for _, p := range res.National.Projections {
					out = append(out, FrameOutput{Name: pipeline.NationalProjectionArtifact(string(p.Policy)), Frame: p.Frame()})
				}
			}
			return PrintResult(cmd, out)
		},
	}

	in.bindObservations(cmd)
	in.bindScenario(cmd)
	in.bindProjection(cmd)
	return cmd
}

// NewCalibrateCmd fits the per-region growth curves.
func NewCalibrateCmd() *cobra.Command {
	var (
		in  inputFlags
		law bool
	)

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Fit the logistic growth curve of every region",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			obs, err := readFrame(cmd.InOrStdin(), in.observations)
			if err != nil {
				return err
			}

			ctx, cancel := commandContext(cmd, cc)
			defer cancel()

			rt, err := openRuntime(ctx, cc, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			svc := newService(cc, rt.opts...)
			tbl, err := svc.LoadObservations(obs)
			if err != nil {
				return err
			}
			cal, err := svc.Calibrate(ctx, tbl, in.pollutantOr(cc))
			if err != nil {
				return err
			}

			out := FrameSet{{Name: pipeline.ArtifactCalibrated, Frame: cal.Frame()}}
			if len(cal.Skipped) > 0 {
				skipped := table.MustNew("Region", "Reason")
				for _, s := range cal.Skipped {
					_ = skipped.Append(s.Region, fmt.Sprint(s.Err))
				}
				out = append(out, FrameOutput{Name: "skipped", Frame: skipped})
			}
			if law {
				l, _, err := svc.Sensitivity(cal)
				if err != nil {
					return err
				}
				out = append(out, FrameOutput{Name: pipeline.ArtifactLaw, Frame: l.Frame()})
			}
			return PrintResult(cmd, out)
		},
	}

	in.bindObservations(cmd)
	cmd.Flags().BoolVar(&law, "law", false, "also fit the sensitivity law r(P) = r0*exp(-alpha*P)")
	return cmd
}

// NewWeightsCmd fits the composite pollutant weights.
func NewWeightsCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "weights",
		Short: "Fit pollutant weights and the composite index per year",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			f, err := readFrame(cmd.InOrStdin(), path)
			if err != nil {
				return err
			}

			w, annual, err := newService(cc).Composite(f)
			if err != nil {
				return err
			}

			model := table.MustNew("Intercept", "RSquared", "Samples")
			_ = model.Append(w.Intercept, w.RSquared, w.Samples)
			return PrintResult(cmd, FrameSet{
				{Name: pipeline.ArtifactWeights, Frame: w.Frame()},
				{Name: "model", Frame: model},
				{Name: pipeline.ArtifactAnnual, Frame: composite.AnnualFrame(annual)},
			})
		},
	}

	cmd.Flags().StringVarP(&path, "composite", "i", "", "national per-year table with vegetation and pollutant columns [REQUIRED]")
	_ = cmd.MarkFlagRequired("composite")
	return cmd
}

// NewScenariosCmd generates pollutant trajectories from each region's last
// observation.
func NewScenariosCmd() *cobra.Command {
	var in inputFlags

	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "Generate pollutant trajectories up to the horizon year",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			policies, err := in.policiesOr(cc)
			if err != nil {
				return err
			}
			obs, err := readFrame(cmd.InOrStdin(), in.observations)
			if err != nil {
				return err
			}

			ctx, cancel := commandContext(cmd, cc)
			defer cancel()

			svc := newService(cc)
			tbl, err := svc.LoadObservations(obs)
			if err != nil {
				return err
			}
			cal, err := svc.Calibrate(ctx, tbl, in.pollutantOr(cc))
			if err != nil {
				return err
			}
			trajectories, err := svc.Scenarios(cal, policies)
			if err != nil {
				return err
			}

			out := make(FrameSet, 0, len(trajectories))
			for _, tr := range trajectories {
				out = append(out, FrameOutput{Name: pipeline.ScenarioArtifact(string(tr.Policy)), Frame: tr.Frame()})
			}
			cc.Logger.Debug("scenarios generated", logging.Int("trajectories", len(out)))
			return PrintResult(cmd, out)
		},
	}

	in.bindObservations(cmd)
	in.bindScenario(cmd)
	return cmd
}

// RunSummary is the printed outcome of a run.
type RunSummary struct {
	ID          string   `json:"id"`
	Status      string   `json:"status"`
	Pollutant   string   `json:"pollutant"`
	Policies    []string `json:"policies"`
	Mode        string   `json:"mode"`
	Regions     int      `json:"regions"`
	Skipped     int      `json:"skipped"`
	R0          float64  `json:"r0,omitempty"`
	Alpha       float64  `json:"alpha,omitempty"`
	Backend     string   `json:"backend"`
	Artifacts   []string `json:"artifacts"`
	DurationMS  int64    `json:"duration_ms"`
	FailedStage string   `json:"failed_stage,omitempty"`
}

func newRunSummary(rec *run.Run, backend string) RunSummary {
	s := RunSummary{
		ID:          rec.ID,
		Status:      string(rec.Status),
		Pollutant:   rec.Pollutant,
		Policies:    rec.Policies,
		Mode:        rec.Mode,
		Regions:     len(rec.Params),
		Skipped:     rec.Skipped,
		Backend:     backend,
		Artifacts:   rec.Artifacts,
		DurationMS:  rec.Duration().Milliseconds(),
		FailedStage: rec.FailedStage,
	}
	if rec.Law != nil {
		s.R0 = rec.Law.R0
		s.Alpha = rec.Law.Alpha
	}
	return s
}

func (s RunSummary) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "run %s %s in %s\n", s.ID, s.Status, time.Duration(s.DurationMS)*time.Millisecond)
	fmt.Fprintf(&sb, "  pollutant:  %s\n", s.Pollutant)
	fmt.Fprintf(&sb, "  policies:   %s (%s)\n", strings.Join(s.Policies, ", "), s.Mode)
	fmt.Fprintf(&sb, "  regions:    %d fitted, %d skipped\n", s.Regions, s.Skipped)
	fmt.Fprintf(&sb, "  law:        r(P) = %.6g * exp(-%.6g * P)\n", s.R0, s.Alpha)
	fmt.Fprintf(&sb, "  artifacts:  %d on %s\n", len(s.Artifacts), s.Backend)
	for _, a := range s.Artifacts {
		fmt.Fprintf(&sb, "    %s\n", a)
	}
	return sb.String()
}

func (s RunSummary) TableHeaders() []string {
	return []string{"ID", "STATUS", "POLLUTANT", "POLICIES", "MODE", "REGIONS", "SKIPPED", "ARTIFACTS", "DURATION"}
}

func (s RunSummary) TableRows() [][]string {
	return [][]string{{
		s.ID, s.Status, s.Pollutant, strings.Join(s.Policies, ","), s.Mode,
		fmt.Sprint(s.Regions), fmt.Sprint(s.Skipped), fmt.Sprint(len(s.Artifacts)),
		(time.Duration(s.DurationMS) * time.Millisecond).String(),
	}}
}
