package postgres

import (
	"embed"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers pgx5://
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/turtacn/VigorCast/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/VigorCast/pkg/errors"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

var ErrMigrationFailed = errors.New(errors.ErrCodeDatabaseError, "migration failed")

// Migrator applies the embedded schema migrations.
type Migrator struct {
	dbURL  string
	logger logging.Logger
}

// NewMigrator accepts a postgres:// DSN.
func NewMigrator(dsn string, log logging.Logger) *Migrator {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Migrator{dbURL: migrateURL(dsn), logger: log.Named("migrate")}
}

// migrateURL rewrites the scheme for the pgx/v5 migrate driver.
func migrateURL(dsn string) string {
	for _, scheme := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dsn, scheme) {
			return "pgx5://" + strings.TrimPrefix(dsn, scheme)
		}
	}
	return dsn
}

func (m *Migrator) open() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, ErrMigrationFailed.WithDetail("cannot read embedded migrations").WithCause(err)
	}
	mg, err := migrate.NewWithSourceInstance("iofs", src, m.dbURL)
	if err != nil {
		return nil, ErrMigrationFailed.WithDetail("cannot create migrate instance").WithCause(err)
	}
	return mg, nil
}

// Up applies all pending migrations. No pending migrations is not an error.
func (m *Migrator) Up() error {
	mg, err := m.open()
	if err != nil {
		return err
	}
	defer mg.Close()

	if err := mg.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return ErrMigrationFailed.WithDetail("up").WithCause(err)
	}
	version, dirty, _ := mg.Version()
	m.logger.Info("Database migrations completed",
		logging.Int64("version", int64(version)),
		logging.Bool("dirty", dirty))
	return nil
}

// Down rolls back steps migrations.
func (m *Migrator) Down(steps int) error {
	if steps <= 0 {
		return errors.Newf(errors.ErrCodeValidation, "steps must be greater than 0, got %d", steps)
	}
	mg, err := m.open()
	if err != nil {
		return err
	}
	defer mg.Close()

	if err := mg.Steps(-steps); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return ErrMigrationFailed.WithDetail("no migrations to roll back")
		}
		return ErrMigrationFailed.WithDetailf("rollback %d step(s)", steps).WithCause(err)
	}
	m.logger.Info("Database migrations rolled back", logging.Int("steps", steps))
	return nil
}

// Status returns the applied version; zero when nothing was applied yet.
func (m *Migrator) Status() (version uint, dirty bool, err error) {
	mg, err := m.open()
	if err != nil {
		return 0, false, err
	}
	defer mg.Close()

	version, dirty, err = mg.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, ErrMigrationFailed.WithDetail("version").WithCause(err)
	}
	return version, dirty, nil
}

// Force sets the recorded version without running migrations, to recover
// from a dirty state.
func (m *Migrator) Force(version int) error {
	mg, err := m.open()
	if err != nil {
		return err
	}
	defer mg.Close()

	if err := mg.Force(version); err != nil {
		return ErrMigrationFailed.WithDetailf("force version %d", version).WithCause(err)
	}
	m.logger.Warn("Migration version forced", logging.Int("version", version))
	return nil
}
