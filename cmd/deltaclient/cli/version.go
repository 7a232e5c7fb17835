package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/deltaconn-go/deltaconn"
)

// version is set at build time via -ldflags "-X github.com/vovakirdan/deltaconn-go/cmd/deltaclient/cli.version=x.y.z"
var version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show deltaclient and protocol versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "deltaclient version %s\n", version)
		fmt.Fprintf(cmd.OutOrStdout(), "protocol: %d\n", deltaconn.ProtocolVersion)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
