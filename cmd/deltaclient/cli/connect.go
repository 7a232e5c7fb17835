package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/deltaconn-go/deltaconn"
	"github.com/vovakirdan/deltaconn-go/deltaconn/record"
)

var (
	recordPath string
	rerunQuery string
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Stream messages from a live backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		opts := []deltaconn.Option{deltaconn.WithLogger(logger)}
		if recordPath != "" {
			store, err := record.Open(recordPath)
			if err != nil {
				return err
			}
			defer store.Close()
			opts = append(opts, deltaconn.WithFrameTap(func(frame []byte) {
				if _, err := store.Append(frame); err != nil {
					logger.Warn("record frame", map[string]any{"error": err.Error()})
				}
			}))
		}

		m, err := deltaconn.NewManager(cfg, opts...)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		return runSession(ctx, cmd, m, sessionHooks{
			onState: func(ev deltaconn.StateEvent) {
				if ev.NewState == deltaconn.StateConnected && rerunQuery != "" {
					m.SendMessage(deltaconn.RerunScript(rerunQuery))
				}
			},
		})
	},
}

type sessionHooks struct {
	onState func(deltaconn.StateEvent)
	// onFrame runs once per frame handed to the consumer, decodable or not.
	onFrame func()
	onError func(error)
}

// runSession prints m's messages and state changes until ctx is done.
func runSession(ctx context.Context, cmd *cobra.Command, m *deltaconn.Manager, hooks sessionHooks) error {
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	color := colorEnabled(errOut)
	p := &printer{w: out, format: outputFormat}

	m.OnMessage(func(msg *deltaconn.ForwardMsg) {
		p.print(msg)
		if hooks.onFrame != nil {
			hooks.onFrame()
		}
	})
	m.OnError(func(err error) {
		fmt.Fprintf(errOut, "error: %v\n", err)
		if deltaconn.CodeOf(err) == deltaconn.ErrorDecode && hooks.onFrame != nil {
			hooks.onFrame()
		}
		if hooks.onError != nil {
			hooks.onError(err)
		}
	})
	m.OnStateChange(func(ev deltaconn.StateEvent) {
		fmt.Fprintln(errOut, statusLine(ev, color))
		if hooks.onState != nil {
			hooks.onState(ev)
		}
	})
	defer func() {
		if z, ok := logger.(*zapLogger); ok {
			z.Sync()
		}
	}()
	return m.Run(ctx)
}

func init() {
	connectCmd.Flags().StringVar(&recordPath, "record", "", "append every raw frame to this recording")
	connectCmd.Flags().StringVar(&rerunQuery, "rerun", "", "request a script rerun with this query string once connected")
	rootCmd.AddCommand(connectCmd)
}
