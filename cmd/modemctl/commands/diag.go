package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/solentlabs/cable-modem-monitor-sub003/cmd/modemctl/internal/bind"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/health"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/netutil"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/statestore"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/transport"
)

func newDiagCommand() *cobra.Command {
	var skipPing bool

	cmd := &cobra.Command{
		Use:   "diag [host]",
		Short: "Check modem reachability layer by layer",
		Long: `Diag separates "the modem is down" from "the web UI is down". It pings
the device and fetches its landing page independently, then reports a
verdict per layer. ICMP needs no credentials, so diag works against
devices that were never discovered.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFor(cmd)
			cfg := configFromCommand(cmd)
			opts, err := bind.BindDeviceOptions(cmd, args, cfg)
			if err != nil {
				return err
			}

			client, err := transport.NewClient()
			if err != nil {
				return err
			}

			baseURL, err := diagBaseURL(cmd.Context(), opts)
			if err != nil {
				return err
			}

			checker := health.NewChecker(client, health.Config{
				PingCount:  cfg.Health.PingCount,
				Timeout:    time.Duration(cfg.Health.TimeoutSeconds) * time.Second,
				Privileged: cfg.Health.Privileged,
			})
			report := checker.Check(cmd.Context(), baseURL, skipPing)

			renderHealthReport(out, report)
			if report.Status == health.StatusUnreachable {
				return fmt.Errorf("modem unreachable: %s", report.Diagnosis)
			}
			return nil
		},
	}
	addDeviceFlags(cmd)
	cmd.Flags().BoolVar(&skipPing, "skip-ping", false, "Skip the ICMP layer and test only the web UI")
	return cmd
}

// diagBaseURL prefers the stored base URL so the check hits the same
// scheme and port polling uses. Undiscovered hosts fall back to plain
// HTTP on the raw input.
func diagBaseURL(ctx context.Context, opts bind.DeviceOptions) (string, error) {
	if !opts.NoStore {
		store := statestore.NewStore(opts.WorkspaceDir)
		if state, err := store.Load(ctx, opts.Host); err == nil && state.BaseURL != "" {
			return state.BaseURL, nil
		}
	}

	scheme, host, err := netutil.SplitHostInput(opts.Host)
	if err != nil {
		return "", err
	}
	if scheme == "" {
		scheme = "http"
	}
	return netutil.BaseURL(scheme, host), nil
}
