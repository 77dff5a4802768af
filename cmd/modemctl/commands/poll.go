package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solentlabs/cable-modem-monitor-sub003/cmd/modemctl/internal/bind"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/capability"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/poller"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/statestore"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/transport"
)

func newPollCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poll [host]",
		Short: "Run one diagnostic poll cycle against a modem",
		Long: `Poll fetches channel diagnostics and system information from the
device in a single cycle. Cached state from an earlier discover or poll
is reused, so a warm poll costs only the data page fetches. The exit
code is non-zero when the cycle degrades.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFor(cmd)
			opts, err := bind.BindDeviceOptions(cmd, args, configFromCommand(cmd))
			if err != nil {
				return err
			}

			client, err := transport.NewClient()
			if err != nil {
				return err
			}
			orchestrator := poller.New(client, capability.BuiltinRegistry(), opts.PollerOptions())

			var store *statestore.Store
			if !opts.NoStore {
				store = statestore.NewStore(opts.WorkspaceDir)
				if err := store.Initialize(); err != nil {
					return err
				}
				state, err := store.Load(cmd.Context(), opts.Host)
				switch {
				case err == nil:
					orchestrator.Restore(state)
				case !errors.Is(err, statestore.ErrNotFound):
					out.Warning(fmt.Sprintf("Stored state unreadable, rediscovering: %v", err))
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.PollTimeout)
			defer cancel()
			result := orchestrator.GetModemData(ctx)

			if store != nil {
				if snap := orchestrator.Snapshot(); snap != nil {
					if err := store.Save(cmd.Context(), snap); err != nil {
						out.Warning(fmt.Sprintf("Device state not saved: %v", err))
					}
				}
			}

			if result.Degraded() {
				return fmt.Errorf("poll degraded at %s: %s", result.FailedStep, result.Error)
			}
			renderPollResult(out, result)
			return nil
		},
	}
	addDeviceFlags(cmd)
	return cmd
}
