package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/turtacn/VigorCast/internal/infrastructure/database/redis"
	"github.com/turtacn/VigorCast/pkg/errors"
)

// NewCacheCmd manages the calibration cache.
func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the Redis calibration cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete every cached region fit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			if !cc.Config.Redis.Enabled {
				return errors.New(errors.ErrCodeConfigInvalid, "redis is disabled (redis.enabled=false)")
			}

			ctx, cancel := commandContext(cmd, cc)
			defer cancel()

			client, err := redis.NewClient(ctx, cc.Config.Redis, cc.Logger)
			if err != nil {
				return err
			}
			defer client.Close()

			n, err := redis.NewCalibrationCache(client, cc.Logger).Purge(ctx)
			if err != nil {
				return err
			}
			PrintSuccess(cmd, fmt.Sprintf("purged %d cached fit(s)", n))
			return nil
		},
	})
	return cmd
}
