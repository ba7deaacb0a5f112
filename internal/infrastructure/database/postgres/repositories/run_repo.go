// Package repositories holds the PostgreSQL implementations of the domain
// repositories.
package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turtacn/VigorCast/internal/domain/run"
	"github.com/turtacn/VigorCast/internal/infrastructure/database/postgres"
	"github.com/turtacn/VigorCast/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/VigorCast/pkg/errors"
)

const defaultListLimit = 50

// ─────────────────────────────────────────────────────────────────────────────
// RunRepository
// ─────────────────────────────────────────────────────────────────────────────

// RunRepository persists runs together with their fitted parameters, law,
// weights and projections.
type RunRepository struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

var _ run.Repository = (*RunRepository)(nil)

// NewRunRepository constructs a ready-to-use RunRepository.
func NewRunRepository(pool *pgxpool.Pool, log logging.Logger) *RunRepository {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &RunRepository{pool: pool, logger: log.Named("run_repo")}
}

// ─────────────────────────────────────────────────────────────────────────────
// Save
// ─────────────────────────────────────────────────────────────────────────────

// Save upserts the run row and replaces its child rows in one transaction.
func (r *RunRepository) Save(ctx context.Context, rec *run.Run) error {
	err := postgres.WithTransaction(ctx, r.pool, func(tx pgx.Tx, ctx context.Context) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO runs (
				id, status, pollutant, policies, mode, failed_stage, error,
				skipped, intercept, artifacts, started_at, finished_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status,
				pollutant = EXCLUDED.pollutant,
				policies = EXCLUDED.policies,
				mode = EXCLUDED.mode,
				failed_stage = EXCLUDED.failed_stage,
				error = EXCLUDED.error,
				skipped = EXCLUDED.skipped,
				intercept = EXCLUDED.intercept,
				artifacts = EXCLUDED.artifacts,
				started_at = EXCLUDED.started_at,
				finished_at = EXCLUDED.finished_at`,
			rec.ID, string(rec.Status), rec.Pollutant, nonNil(rec.Policies), rec.Mode, rec.FailedStage, rec.Error,
			rec.Skipped, rec.Intercept, nonNil(rec.Artifacts), rec.StartedAt, nullTime(rec.FinishedAt),
		); err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to upsert run")
		}

		for _, table := range []string{"run_growth_params", "run_sensitivity_law", "run_pollutant_weights", "run_projections"} {
			if _, err := tx.Exec(ctx, "DELETE FROM "+table+" WHERE run_id = $1", rec.ID); err != nil {
				return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to clear run results").WithDetail(table)
			}
		}

		if rec.Law != nil {
			if _, err := tx.Exec(ctx, `
				INSERT INTO run_sensitivity_law (run_id, r0, alpha, samples, r_squared)
				VALUES ($1,$2,$3,$4,$5)`,
				rec.ID, rec.Law.R0, rec.Law.Alpha, rec.Law.Samples, rec.Law.RSquared,
			); err != nil {
				return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to insert sensitivity law")
			}
		}
		return r.copyResults(ctx, tx, rec)
	})
	if err != nil {
		r.logger.Error("failed to save run", logging.RunID(rec.ID), logging.Err(err))
		return err
	}
	r.logger.Debug("run saved",
		logging.RunID(rec.ID),
		logging.String("status", string(rec.Status)),
		logging.Int("projections", len(rec.Projections)))
	return nil
}

// copyResults bulk-inserts the child rows through the COPY protocol.
func (r *RunRepository) copyResults(ctx context.Context, tx pgx.Tx, rec *run.Run) error {
	params := make([][]interface{}, 0, len(rec.Params))
	for _, p := range rec.Params {
		params = append(params, []interface{}{rec.ID, p.Region, p.R, p.K, p.B0, p.BaseYear, p.RMSE, p.Points})
	}
	weights := make([][]interface{}, 0, len(rec.Weights))
	for _, w := range rec.Weights {
		weights = append(weights, []interface{}{rec.ID, w.Pollutant, w.Weight})
	}
	projections := make([][]interface{}, 0, len(rec.Projections))
	for _, p := range rec.Projections {
		projections = append(projections, []interface{}{rec.ID, p.Policy, p.Region, p.Year, p.Predicted, p.Concentration})
	}

	copies := []struct {
		table   string
		columns []string
		rows    [][]interface{}
	}{
		{"run_growth_params", []string{"run_id", "region", "r", "k", "b0", "base_year", "rmse", "points"}, params},
		{"run_pollutant_weights", []string{"run_id", "pollutant", "weight"}, weights},
		{"run_projections", []string{"run_id", "policy", "region", "year", "predicted", "concentration"}, projections},
	}
	for _, c := range copies {
		if len(c.rows) == 0 {
			continue
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{c.table}, c.columns, pgx.CopyFromRows(c.rows)); err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to copy run results").WithDetail(c.table)
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Get / List
// ─────────────────────────────────────────────────────────────────────────────

const selectRun = `
	SELECT id, status, pollutant, policies, mode, failed_stage, error,
	       skipped, intercept, artifacts, started_at, finished_at
	FROM runs`

// Get loads a run with all of its results.
func (r *RunRepository) Get(ctx context.Context, id string) (*run.Run, error) {
	rec, err := scanRun(r.pool.QueryRow(ctx, selectRun+" WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, run.ErrRunNotFound.WithDetailf("id=%s", id)
		}
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to load run")
	}
	if err := r.loadResults(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns the most recently started runs first, without projections.
func (r *RunRepository) List(ctx context.Context, limit int) ([]*run.Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.pool.Query(ctx, selectRun+" ORDER BY started_at DESC, id LIMIT $1", limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list runs")
	}
	defer rows.Close()

	var out []*run.Run
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan run row")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "row iteration error")
	}
	return out, nil
}

func (r *RunRepository) loadResults(ctx context.Context, rec *run.Run) error {
	var law run.Law
	err := r.pool.QueryRow(ctx,
		`SELECT r0, alpha, samples, r_squared FROM run_sensitivity_law WHERE run_id = $1`, rec.ID,
	).Scan(&law.R0, &law.Alpha, &law.Samples, &law.RSquared)
	switch {
	case err == nil:
		rec.Law = &law
	case !errors.Is(err, pgx.ErrNoRows):
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to load sensitivity law")
	}

	rec.Params, err = queryAll(ctx, r.pool,
		`SELECT region, r, k, b0, base_year, rmse, points FROM run_growth_params WHERE run_id = $1 ORDER BY region`,
		rec.ID, func(row pgx.Rows) (run.RegionParams, error) {
			var p run.RegionParams
			err := row.Scan(&p.Region, &p.R, &p.K, &p.B0, &p.BaseYear, &p.RMSE, &p.Points)
			return p, err
		})
	if err != nil {
		return err
	}

	rec.Weights, err = queryAll(ctx, r.pool,
		`SELECT pollutant, weight FROM run_pollutant_weights WHERE run_id = $1 ORDER BY pollutant`,
		rec.ID, func(row pgx.Rows) (run.Weight, error) {
			var w run.Weight
			err := row.Scan(&w.Pollutant, &w.Weight)
			return w, err
		})
	if err != nil {
		return err
	}

	rec.Projections, err = queryAll(ctx, r.pool,
		`SELECT policy, region, year, predicted, concentration FROM run_projections
		 WHERE run_id = $1 ORDER BY policy, region, year`,
		rec.ID, func(row pgx.Rows) (run.ProjectionPoint, error) {
			var p run.ProjectionPoint
			err := row.Scan(&p.Policy, &p.Region, &p.Year, &p.Predicted, &p.Concentration)
			return p, err
		})
	return err
}

// ─────────────────────────────────────────────────────────────────────────────
// Internal scanners
// ─────────────────────────────────────────────────────────────────────────────

func scanRun(row pgx.Row) (*run.Run, error) {
	var (
		rec      run.Run
		status   string
		finished *time.Time
	)
	if err := row.Scan(
		&rec.ID, &status, &rec.Pollutant, &rec.Policies, &rec.Mode, &rec.FailedStage, &rec.Error,
		&rec.Skipped, &rec.Intercept, &rec.Artifacts, &rec.StartedAt, &finished,
	); err != nil {
		return nil, err
	}
	rec.Status = run.Status(status)
	rec.StartedAt = rec.StartedAt.UTC()
	if finished != nil {
		rec.FinishedAt = finished.UTC()
	}
	return &rec, nil
}

func queryAll[T any](ctx context.Context, pool *pgxpool.Pool, sql, id string, scan func(pgx.Rows) (T, error)) ([]T, error) {
	rows, err := pool.Query(ctx, sql, id)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query run results")
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan run result row")
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "row iteration error")
	}
	return out, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
