package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/deltaconn-go/deltaconn"
	"github.com/vovakirdan/deltaconn-go/deltaconn/record"
)

var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Replay a recorded session in static mode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := record.Open(args[0])
		if err != nil {
			return err
		}
		defer store.Close()
		total, err := store.Len()
		if err != nil {
			return fmt.Errorf("replay: %w", err)
		}

		m, err := deltaconn.NewManager(cfg, deltaconn.WithLogger(logger), deltaconn.WithStaticSource(store))
		if err != nil {
			return fmt.Errorf("replay: %w", err)
		}
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		if total == 0 {
			cancel()
		}
		seen := 0
		var loadErr error
		err = runSession(ctx, cmd, m, sessionHooks{
			onFrame: func() {
				seen++
				if seen == total {
					cancel()
				}
			},
			onError: func(err error) {
				if deltaconn.CodeOf(err) == deltaconn.ErrorConnection {
					loadErr = err
					cancel()
				}
			},
		})
		if err != nil {
			return err
		}
		return loadErr
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
}
