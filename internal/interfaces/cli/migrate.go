package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/turtacn/VigorCast/internal/infrastructure/database/postgres"
	"github.com/turtacn/VigorCast/pkg/errors"
)

// Migrator is the subset of *postgres.Migrator the migrate commands use.
type Migrator interface {
	Up() error
	Down(steps int) error
	Status() (version uint, dirty bool, err error)
	Force(version int) error
}

// newMigrator is replaced in tests.
var newMigrator = func(cc *CLIContext) Migrator {
	return postgres.NewMigrator(cc.Config.Database.DSN(), cc.Logger)
}

// MigrationStatus is the printed schema version.
type MigrationStatus struct {
	Version uint `json:"version"`
	Dirty   bool `json:"dirty"`
}

func (s MigrationStatus) String() string {
	if s.Dirty {
		return fmt.Sprintf("schema version %d (dirty)\n", s.Version)
	}
	return fmt.Sprintf("schema version %d\n", s.Version)
}

// NewMigrateCmd manages the run database schema.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the run database schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cc, err := GetCLIContext(cmd)
				if err != nil {
					return err
				}
				if err := newMigrator(cc).Up(); err != nil {
					return err
				}
				PrintSuccess(cmd, "migrations applied")
				return nil
			},
		},
		newMigrateDownCmd(),
		&cobra.Command{
			Use:   "status",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cc, err := GetCLIContext(cmd)
				if err != nil {
					return err
				}
				v, dirty, err := newMigrator(cc).Status()
				if err != nil {
					return err
				}
				return PrintResult(cmd, MigrationStatus{Version: v, Dirty: dirty})
			},
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Record VERSION as applied without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cc, err := GetCLIContext(cmd)
				if err != nil {
					return err
				}
				v, err := strconv.Atoi(args[0])
				if err != nil || v < 0 {
					return errors.InvalidParam("version must be a non-negative integer").WithDetailf("version=%q", args[0])
				}
				if err := newMigrator(cc).Force(v); err != nil {
					return err
				}
				PrintSuccess(cmd, fmt.Sprintf("schema version forced to %d", v))
				return nil
			},
		},
	)
	return cmd
}

func newMigrateDownCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the last migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			if err := newMigrator(cc).Down(steps); err != nil {
				return err
			}
			PrintSuccess(cmd, fmt.Sprintf("rolled back %d migration(s)", steps))
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	return cmd
}
