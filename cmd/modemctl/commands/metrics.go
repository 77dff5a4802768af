package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/solentlabs/cable-modem-monitor-sub003/cmd/modemctl/internal/bind"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/capability"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/metrics"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/poller"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/statestore"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/transport"
)

func newServeMetricsCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve-metrics [host]",
		Short: "Poll continuously and expose Prometheus metrics",
		Long: `Serve-metrics runs poll cycles on an interval and publishes the latest
results on a Prometheus endpoint. Scrapes read cached values and never
touch the modem, so scrape frequency and poll frequency are independent.
The poll interval comes from metrics.interval_seconds.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFromCommand(cmd)
			opts, err := bind.BindDeviceOptions(cmd, args, cfg)
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
				if state, err := store.Load(cmd.Context(), opts.Host); err == nil {
					orchestrator.Restore(state)
				}
			}

			if listen == "" {
				listen = fmt.Sprintf("%s:%d", cfg.Metrics.Addr, cfg.Metrics.Port)
			}
			interval := time.Duration(cfg.Metrics.IntervalSeconds) * time.Second

			exporter := metrics.NewExporter()
			go pollLoop(cmd.Context(), orchestrator, exporter, store, interval, opts.PollTimeout)

			return exporter.Serve(cmd.Context(), listen)
		},
	}
	addDeviceFlags(cmd)
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides metrics.addr and metrics.port)")
	return cmd
}

// pollLoop drives the exporter: one cycle immediately, then one per
// interval until the context ends.
func pollLoop(ctx context.Context, orchestrator *poller.Orchestrator, exporter *metrics.Exporter, store *statestore.Store, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		cycleCtx, cancel := context.WithTimeout(ctx, timeout)
		result := orchestrator.GetModemData(cycleCtx)
		cancel()
		exporter.Observe(result)

		if store != nil {
			if snap := orchestrator.Snapshot(); snap != nil {
				if err := store.Save(ctx, snap); err != nil {
					log.Warn().Err(err).Msg("Device state not saved")
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
