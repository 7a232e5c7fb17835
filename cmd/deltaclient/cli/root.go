// Package cli implements the deltaclient command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/deltaconn-go/deltaconn"
)

var (
	// Global flags
	cfgFile      string
	endpoints    []string
	localFlag    bool
	logLevel     string
	outputFormat string

	// Shared state set during PersistentPreRun
	cfg    deltaconn.Config
	logger deltaconn.Logger
)

// rootCmd is the base command for deltaclient.
var rootCmd = &cobra.Command{
	Use:   "deltaclient",
	Short: "Connect to a delta-stream backend and print its messages",
	Long: `deltaclient connects to a reactive-script backend over WebSocket, following
the same retry and failover rules as the browser client, and prints every
forward message in wire order. Sessions can be recorded and replayed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfgFile != "" {
			cfg, err = deltaconn.LoadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
		} else {
			cfg = deltaconn.DefaultConfig()
		}

		// Override config with flags
		if len(endpoints) > 0 {
			cfg.Endpoints = endpoints
		}
		if cmd.Flags().Changed("local") {
			cfg.Local = localFlag
		} else if len(cfg.Endpoints) > 0 && !cfg.Local {
			cfg.Local = allLocal(cfg.Endpoints)
		}

		zl, err := newZapLogger(logLevel)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		logger = zl
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// RootCmd returns the root cobra.Command for testing purposes.
func RootCmd() *cobra.Command {
	return rootCmd
}

func allLocal(uris []string) bool {
	for _, u := range uris {
		if !deltaconn.IsLocalEndpoint(u) {
			return false
		}
	}
	return true
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringSliceVarP(&endpoints, "endpoint", "e", nil, "WebSocket endpoint to try, repeatable, in order")
	rootCmd.PersistentFlags().BoolVar(&localFlag, "local", false, "retry forever (default: true when every endpoint is on this machine)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "message output: text, json")
}
