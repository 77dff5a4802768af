package commands

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/capability"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/modemcfg"
)

func newModelCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Inspect and validate model documents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newModelListCommand())
	cmd.AddCommand(newModelValidateCommand())

	return cmd
}

func newModelListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List builtin model documents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := outputFor(cmd)
			registry := capability.BuiltinRegistry()

			rows := make([][]string, 0, len(modemcfg.Builtin()))
			for _, model := range modemcfg.Builtin() {
				priority := "-"
				if entry, ok := registry.Lookup(model.ID); ok && len(entry.Matchers) > 0 {
					priority = strconv.Itoa(entry.Priority)
				}
				restart := "no"
				if model.HasRestart() {
					restart = model.Actions.Restart.Type
				}
				rows = append(rows, []string{
					model.ID, model.Vendor, model.Name, model.Paradigm,
					model.Auth.Strategy, restart, priority,
				})
			}
			out.Table([]string{"ID", "Vendor", "Name", "Paradigm", "Auth", "Restart", "Priority"}, rows)
			return nil
		},
	}
}

func newModelValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a model document YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFor(cmd)

			model, err := modemcfg.Load(args[0])
			if err != nil {
				var verrs *modemcfg.ValidationErrors
				if errors.As(err, &verrs) {
					rows := make([][]string, 0, len(verrs.Errors))
					for _, v := range verrs.Errors {
						rows = append(rows, []string{v.Field, v.Message})
					}
					out.Table([]string{"Field", "Problem"}, rows)
				}
				return fmt.Errorf("model document invalid: %w", err)
			}

			out.Info(fmt.Sprintf("%s is valid: %s (%s paradigm, %d pages, auth %s)",
				args[0], model.ID, model.Paradigm, len(model.Pages.Data), model.Auth.Strategy))
			return nil
		},
	}
}
