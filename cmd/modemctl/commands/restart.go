package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solentlabs/cable-modem-monitor-sub003/cmd/modemctl/internal/bind"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/capability"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/output"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/poller"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/statestore"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/transport"
)

func newRestartCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "restart [host]",
		Short: "Reboot a modem through its management interface",
		Long: `Restart reboots the device using the restart action its model document
declares. Rebooting interrupts internet service for several minutes, so
the command asks for --yes. A connection dropped mid-call counts as
success: rebooting firmware tears the socket down before answering.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFor(cmd)
			opts, err := bind.BindDeviceOptions(cmd, args, configFromCommand(cmd))
			if err != nil {
				return err
			}
			if !yes {
				return fmt.Errorf("restart interrupts service for several minutes; re-run with --yes to confirm")
			}

			client, err := transport.NewClient()
			if err != nil {
				return err
			}
			orchestrator := poller.New(client, capability.BuiltinRegistry(), opts.PollerOptions())

			if !opts.NoStore {
				store := statestore.NewStore(opts.WorkspaceDir)
				if state, err := store.Load(cmd.Context(), opts.Host); err == nil {
					orchestrator.Restore(state)
				}
			}

			ctx := context.WithValue(cmd.Context(), output.OutputKey, out)
			outcome, err := orchestrator.Restart(ctx)
			switch outcome {
			case poller.RestartAccepted:
				out.Info("Restart accepted; the modem is rebooting")
			case poller.RestartConnectionDropped:
				out.Info("Connection dropped mid-call; the modem is rebooting")
			default:
				if errors.Is(err, poller.ErrNoRestartAction) {
					return fmt.Errorf("device %s declares no restart action; pass --model to pin one that does", opts.Host)
				}
				return err
			}
			return nil
		},
	}
	addDeviceFlags(cmd)
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the service interruption")
	return cmd
}
