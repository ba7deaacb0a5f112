package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/VigorCast/internal/domain/growth"
	"github.com/turtacn/VigorCast/internal/domain/table"
	"github.com/turtacn/VigorCast/internal/testutil"
	"github.com/turtacn/VigorCast/pkg/errors"
)

type cliEnv struct {
	dir       string
	config    string
	obs       string
	national  string
	artifacts string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	env := &cliEnv{
		dir:       dir,
		config:    filepath.Join(dir, "vigorcast.yaml"),
		obs:       filepath.Join(dir, "observations.csv"),
		national:  filepath.Join(dir, "national.csv"),
		artifacts: filepath.Join(dir, "out"),
	}

	yaml := fmt.Sprintf(`log:
  level: error
scenario:
  policies: [constant, increase]
  horizon_year: 2029
artifacts:
  backend: local
  dir: %s
  charts: false
`, env.artifacts)
	require.NoError(t, os.WriteFile(env.config, []byte(yaml), 0o644))

	writeFrame(t, env.obs, testutil.ObservationFrame(testutil.DefaultRegions, testutil.DefaultLaw, 2010, 10))
	writeFrame(t, env.national, testutil.NationalFrame(0.2, 0.01, -0.02))
	return env
}

func writeFrame(t *testing.T, path string, f *table.Frame) {
	t.Helper()
	data, err := table.Encode(f)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func (e *cliEnv) exec(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func decodeFrames(t *testing.T, out string) map[string][]map[string]interface{} {
	t.Helper()
	var frames map[string][]map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &frames), out)
	return frames
}

func TestNewRootCommand_Structure(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "vigorcast", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"run", "calibrate", "weights", "scenarios", "project", "migrate", "cache", "version"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestNewRootCommand_GlobalFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"config", "log-level", "output", "verbose", "timeout"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
	assert.Equal(t, OutputText, cmd.PersistentFlags().Lookup("output").DefValue)
}

func TestRoot_InvalidOutputFormat(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.exec(t, "version", "--output", "yaml")
	require.Error(t, err)
	assert.Equal(t, 2, ExitCode(err))
}

func TestRoot_MissingConfigFile(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml"), "version"})
	assert.Error(t, cmd.Execute())
}

func TestVersionCmd(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.exec(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "vigorcast dev")

	out, err = env.exec(t, "version", "-o", "json")
	require.NoError(t, err)
	var info VersionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, Version, info.Version)
}

func TestCalibrateCmd_JSON(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.exec(t, "calibrate", "-i", env.obs, "--law", "-o", "json")
	require.NoError(t, err)

	frames := decodeFrames(t, out)
	assert.Len(t, frames["calibrated_growth.csv"], 30)
	require.Len(t, frames["law.csv"], 1)
	assert.NotContains(t, frames, "skipped")
}

func TestCalibrateCmd_RequiresObservations(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.exec(t, "calibrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "observations")
}

func TestCalibrateCmd_MissingFile(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.exec(t, "calibrate", "-i", filepath.Join(env.dir, "nope.csv"))
	assert.Error(t, err)
}

func TestScenariosCmd_Text(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.exec(t, "scenarios", "-i", env.obs, "--policies", "decrease")
	require.NoError(t, err)
	assert.Contains(t, out, "# scenario_decrease.csv")
	assert.NotContains(t, out, "scenario_constant.csv")
}

func TestScenariosCmd_UnknownPolicy(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.exec(t, "scenarios", "-i", env.obs, "--policies", "halve")
	require.Error(t, err)
	assert.Equal(t, 2, ExitCode(err))
}

func TestWeightsCmd_Table(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.exec(t, "weights", "-i", env.national, "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "pollutant_weights.csv")
	assert.Contains(t, out, "Mean_NO2")
	assert.Contains(t, out, "Mean_SO2")
	assert.Contains(t, out, "composite_index.csv")
}

func TestProjectCmd_JSON(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.exec(t, "project", "-i", env.obs, "-o", "json")
	require.NoError(t, err)

	frames := decodeFrames(t, out)
	assert.Len(t, frames["projection_constant.csv"], 30)
	assert.Len(t, frames["projection_increase.csv"], 30)
	assert.Len(t, frames["comparison.csv"], 30)

	_, statErr := os.Stat(env.artifacts)
	assert.True(t, os.IsNotExist(statErr), "project must not export")
}

func TestProjectCmd_NationalChain(t *testing.T) {
	env := newCLIEnv(t)
	national := filepath.Join(env.dir, "national_growth.csv")
	writeFrame(t, national, testutil.NationalGrowthFrame(growth.Params{R: 0.25, K: 0.85, B0: 0.3}, 2010))

	out, err := env.exec(t, "project", "-i", env.obs, "--composite", national, "-o", "json")
	require.NoError(t, err)

	frames := decodeFrames(t, out)
	rows := frames["national_projection_increase.csv"]
	require.Len(t, rows, 10)
	assert.Equal(t, "Global", rows[0]["Region"])
	assert.Len(t, frames["projection_increase.csv"], 30)
}

func TestRunCmd_ExportsArtifacts(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.exec(t, "run", "-i", env.obs, "--composite", env.national, "--run-id", "cli-run", "-o", "json")
	require.NoError(t, err)

	var summary RunSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, "cli-run", summary.ID)
	assert.Equal(t, "succeeded", summary.Status)
	assert.Equal(t, 3, summary.Regions)
	assert.Equal(t, "local", summary.Backend)
	require.NotEmpty(t, summary.Artifacts)

	for _, name := range []string{"projection_constant.csv", "pollutant_weights.csv", "projections.xlsx"} {
		_, err := os.Stat(filepath.Join(env.artifacts, "runs", "cli-run", name))
		assert.NoError(t, err, name)
	}
	for _, key := range summary.Artifacts {
		assert.True(t, strings.HasPrefix(key, "runs/cli-run/"), key)
	}
}

func TestRunCmd_TextSummary(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.exec(t, "run", "-i", env.obs)
	require.NoError(t, err)
	assert.Contains(t, out, "succeeded")
	assert.Contains(t, out, "3 fitted, 0 skipped")
}

func TestRunCmd_FailedStage(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.exec(t, "run", "-i", env.obs, "--pollutant", "Mean_PM25")
	require.Error(t, err)
	assert.Equal(t, 2, ExitCode(err))
}

type fakeMigrator struct {
	calls   []string
	version uint
	dirty   bool
	err     error
}

func (m *fakeMigrator) Up() error            { m.calls = append(m.calls, "up"); return m.err }
func (m *fakeMigrator) Down(steps int) error { m.calls = append(m.calls, fmt.Sprintf("down %d", steps)); return m.err }
func (m *fakeMigrator) Status() (uint, bool, error) {
	m.calls = append(m.calls, "status")
	return m.version, m.dirty, m.err
}
func (m *fakeMigrator) Force(v int) error { m.calls = append(m.calls, fmt.Sprintf("force %d", v)); return m.err }

func withMigrator(t *testing.T, m Migrator) {
	t.Helper()
	orig := newMigrator
	newMigrator = func(*CLIContext) Migrator { return m }
	t.Cleanup(func() { newMigrator = orig })
}

func TestMigrateCmd(t *testing.T) {
	env := newCLIEnv(t)
	m := &fakeMigrator{version: 3, dirty: true}
	withMigrator(t, m)

	out, err := env.exec(t, "migrate", "up")
	require.NoError(t, err)
	assert.Contains(t, out, "OK: migrations applied")

	_, err = env.exec(t, "migrate", "down", "--steps", "2")
	require.NoError(t, err)

	out, err = env.exec(t, "migrate", "status")
	require.NoError(t, err)
	assert.Equal(t, "schema version 3 (dirty)\n", out)

	_, err = env.exec(t, "migrate", "force", "2")
	require.NoError(t, err)

	assert.Equal(t, []string{"up", "down 2", "status", "force 2"}, m.calls)
}

func TestMigrateCmd_ForceRejectsBadVersion(t *testing.T) {
	env := newCLIEnv(t)
	m := &fakeMigrator{}
	withMigrator(t, m)

	_, err := env.exec(t, "migrate", "force", "latest")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeBadRequest))
	assert.Empty(t, m.calls)
}

func TestMigrateCmd_PropagatesError(t *testing.T) {
	env := newCLIEnv(t)
	withMigrator(t, &fakeMigrator{err: errors.New(errors.ErrCodeDatabaseError, "migration failed")})

	_, err := env.exec(t, "migrate", "up")
	require.Error(t, err)
	assert.Equal(t, 1, ExitCode(err))
}

func TestCachePurge_RedisDisabled(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.exec(t, "cache", "purge")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfigInvalid))
}

func TestReadFrame_Stdin(t *testing.T) {
	f, err := readFrame(strings.NewReader("Year,Mean_NDVI\n2010,0.4\n2011,0.5\n"), "-")
	require.NoError(t, err)
	assert.Equal(t, 2, f.Len())

	_, err = readFrame(strings.NewReader(""), "")
	assert.True(t, errors.IsCode(err, errors.ErrCodeBadRequest))
}

func TestFormatTable(t *testing.T) {
	out := FormatTable([]string{"REGION", "R"}, [][]string{{"Alpha", "0.37"}, {"Be", "0.3"}})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "REGION  R   ", lines[0])
	assert.Equal(t, "------  ----", lines[1])
	assert.Equal(t, "Alpha   0.37", lines[2])
	assert.Equal(t, "Be      0.3 ", lines[3])

	assert.Empty(t, FormatTable(nil, nil))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 2, ExitCode(errors.Validation("bad column")))
	assert.Equal(t, 1, ExitCode(fmt.Errorf("boom")))
}
