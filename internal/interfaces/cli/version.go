package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// VersionInfo is the printed build information.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

func (v VersionInfo) String() string {
	return fmt.Sprintf("vigorcast %s (commit: %s, built: %s)\n", v.Version, v.Commit, v.BuildDate)
}

// NewVersionCmd prints build information.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return PrintResult(cmd, VersionInfo{Version: Version, Commit: GitCommit, BuildDate: BuildDate})
		},
	}
}
