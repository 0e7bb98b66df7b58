package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rathix/devserver/internal/config"
)

func newPrintCmd(opts *commonOptions) *cobra.Command {
	var output string
	flags := &overrideFlags{}
	cmd := &cobra.Command{
		Use:   "print",
		Short: "Print the resolved configuration with defaults applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := resolveConfig(opts, flags.overrides(cmd))
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			raw := config.ToRaw(resolved.cfg)

			switch output {
			case "yaml":
				enc := yaml.NewEncoder(opts.out)
				enc.SetIndent(2)
				if err := enc.Encode(raw); err != nil {
					return fmt.Errorf("failed to encode config: %w", err)
				}
				return enc.Close()
			case "json":
				enc := json.NewEncoder(opts.out)
				enc.SetIndent("", "  ")
				return enc.Encode(raw)
			default:
				return fmt.Errorf("unsupported output %q: must be \"yaml\" or \"json\"", output)
			}
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "output format (yaml or json)")
	flags.register(cmd)
	return cmd
}
