package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/config"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/output"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/output/subscribers"
)

const cliExecutable = "modemctl"

// appVersion is stamped by the release build; the default marks dev
// builds.
var appVersion = "0.0.0-dev"

// NewCommand constructs the top-level modemctl CLI command, wiring global
// flags, configuration loading, and log setup shared by every subcommand.
func NewCommand() *cobra.Command {
	var (
		configFile     string
		verbosityCount int
		verbose        bool
	)

	cmd := &cobra.Command{
		Use:     cliExecutable,
		Version: appVersion,
		Short:   "modemctl reads diagnostics from DOCSIS cable modems",
		Long: `modemctl talks to the web management interface of consumer cable modems
and gateways. It identifies the device's firmware family and reads
channel diagnostics and system information with the matching parser.
Discovered transport and auth details are cached on disk so later runs
skip the probing.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			manager := config.NewManager()
			if err := manager.Load(cmd.Flags(), configFile); err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			cfg := manager.Get()

			if err := setupLogging(cfg.Log, verbose, verbosityCount); err != nil {
				return err
			}

			ctx := config.WithConfig(cmd.Context(), cfg)
			cmd.SetContext(ctx)
			if root := cmd.Root(); root != nil && root != cmd {
				root.SetContext(ctx)
			}
			return nil
		},
	}

	cmd.SilenceUsage = true

	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	cmd.PersistentFlags().String("workspace-dir", "", "Override workspace root directory")
	cmd.PersistentFlags().Bool("no-store", false, "Disable device state persistence for this run")
	cmd.PersistentFlags().StringP("output", "o", "text", "Output format (text, json)")
	cmd.PersistentFlags().CountVarP(&verbosityCount, "verbosity", "v", "Increase logging verbosity (repeatable)")
	cmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose logging (shows service layer logs)")

	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(newDiscoverCommand())
	cmd.AddCommand(newPollCommand())
	cmd.AddCommand(newRestartCommand())
	cmd.AddCommand(newDiagCommand())
	cmd.AddCommand(newModelCommand())
	cmd.AddCommand(newServeMetricsCommand())

	return cmd
}

// setupLogging points the global logger at the configured sink and picks
// the level. If explicit --verbose is set, show debug and above.
// Else use -v count: 1=>Info, 2+=>Debug, 0=>the configured log.level.
func setupLogging(cfg config.LogConfig, verbose bool, verbosityCount int) error {
	var writer io.Writer = os.Stderr
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		writer = f
	}
	if cfg.Format != "json" {
		writer = zerolog.ConsoleWriter{Out: writer}
	}
	log.Logger = log.Output(writer)

	switch {
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case verbosityCount == 1:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case verbosityCount >= 2:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		level, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return fmt.Errorf("invalid log.level %q: %w", cfg.Level, err)
		}
		zerolog.SetGlobalLevel(level)
	}
	return nil
}

// configFromCommand returns the configuration resolved by the root
// PersistentPreRunE, or defaults when a command runs outside it.
func configFromCommand(cmd *cobra.Command) config.Config {
	if cfg, ok := config.FromContext(cmd.Context()); ok {
		return cfg
	}
	return config.DefaultConfig()
}

// outputFor builds the event pipeline for one command invocation from
// the persistent --output and verbosity flags. Human and JSON rendering
// never mix on stdout; diagnostics go to stderr either way.
func outputFor(cmd *cobra.Command) output.Output {
	format, _ := cmd.Flags().GetString("output")
	verbosity, _ := cmd.Flags().GetCount("verbosity")

	stream := output.NewOutputEventStream()
	if format == "json" {
		stream.Subscribe(subscribers.NewJSONFormatter(os.Stdout))
	} else {
		stream.Subscribe(subscribers.NewHumanFormatter(os.Stdout, os.Stderr, true))
	}
	if verbosity > 0 {
		level := output.OutputLevel(verbosity)
		if level > output.LevelTrace {
			level = output.LevelTrace
		}
		stream.Subscribe(subscribers.NewDiagFormatter(os.Stderr, level))
	}
	return output.NewDefaultOutput(stream)
}

// addDeviceFlags declares the flags shared by every command that talks
// to a device.
func addDeviceFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("username", "u", "", "Web UI username (overrides modem.username)")
	cmd.Flags().StringP("password", "p", "", "Web UI password (overrides modem.password)")
	cmd.Flags().String("model", "", "Model document: builtin id or path to a YAML file")
	cmd.Flags().String("capability", "", "Pin the capability by id, skipping body matching")
}
