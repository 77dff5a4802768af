package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solentlabs/cable-modem-monitor-sub003/cmd/modemctl/internal/bind"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/capability"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/discovery"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/output"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/statestore"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/transport"
)

func newDiscoverCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover [host]",
		Short: "Probe a modem and record what was learned",
		Long: `Discover runs the full pipeline against one device: transport probing
(HTTPS first, plain HTTP second), authentication, capability detection
from landing and data pages, and a validation fetch. The result is
persisted in the workspace so poll and restart skip the probing.`,
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

			out.Info(fmt.Sprintf("Probing %s", opts.Host))
			ctx := context.WithValue(cmd.Context(), output.OutputKey, out)
			report := discovery.NewPipeline(client, capability.BuiltinRegistry()).Run(ctx, discovery.Request{
				Host:               opts.Host,
				Username:           opts.Username,
				Password:           opts.Password,
				Model:              opts.Model,
				ExplicitCapability: opts.ExplicitCapability,
			})
			if !report.Success {
				return fmt.Errorf("discovery failed at %s: %s", report.FailedStep, report.Error)
			}

			renderDiscoveryReport(out, report)

			if !opts.NoStore {
				if err := saveReportState(cmd.Context(), opts, report); err != nil {
					out.Warning(fmt.Sprintf("Device state not saved: %v", err))
				} else {
					out.Info(fmt.Sprintf("Device state saved under %s", opts.WorkspaceDir))
				}
			}
			return nil
		},
	}
	addDeviceFlags(cmd)
	return cmd
}

// saveReportState persists a discovery report as cached device state.
func saveReportState(ctx context.Context, opts bind.DeviceOptions, report discovery.Report) error {
	store := statestore.NewStore(opts.WorkspaceDir)
	if err := store.Initialize(); err != nil {
		return err
	}
	return store.Save(ctx, &statestore.DeviceState{
		Host:         opts.Host,
		BaseURL:      report.Transport.BaseURL,
		UsesHTTPS:    report.Transport.UsesHTTPS,
		LegacyTLS:    report.Transport.LegacyTLS,
		AuthStrategy: string(report.Auth.Strategy),
		CapabilityID: report.Binding.CapabilityID,
		ModelID:      report.ModelID,
	})
}
