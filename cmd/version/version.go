package version

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X github.com/kfsoftware/drivenet/cmd/version.Version=..."
var (
	Version = "dev"
	Commit  = "none"
)

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "drivenet %s (%s)\n", Version, Commit)
			return err
		},
	}
}
