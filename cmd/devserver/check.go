package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/rathix/devserver/internal/config"
	"github.com/rathix/devserver/internal/health"
)

func newCheckCmd(opts *commonOptions) *cobra.Command {
	var probe bool
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and optionally probe proxy targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := resolveConfig(opts, config.Overrides{})
			if err != nil {
				printConfigError(opts.out, err)
				return errors.New("configuration is invalid")
			}

			source := resolved.path
			if source == "" {
				source = "defaults"
			}
			if _, err := config.VerifyRoot(resolved.cfg, resolved.dir); err != nil {
				fmt.Fprintf(opts.out, "warning: %v\n", err)
			}
			fmt.Fprintf(opts.out, "ok: %s (root %q, listen %s, %d proxy rules)\n",
				source, resolved.cfg.Root, resolved.cfg.Server.Addr(), len(resolved.cfg.Server.Proxy))

			if !probe {
				return nil
			}
			logger := setupLogger(opts.settings, cmd.ErrOrStderr())
			checker := health.NewChecker(nil, nil, timeout, logger)
			results := checker.Probe(cmd.Context(), resolved.cfg)
			if unhealthy := printProbeResults(opts.out, results); unhealthy > 0 {
				return fmt.Errorf("%d proxy target(s) unhealthy", unhealthy)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "send a GET request to every proxy target")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "probe timeout per target")
	return cmd
}

// printConfigError writes one line per field error.
func printConfigError(w io.Writer, err error) {
	var ve *config.ValidationError
	if !errors.As(err, &ve) {
		fmt.Fprintf(w, "error: %v\n", err)
		return
	}
	for _, fe := range ve.Errs {
		fmt.Fprintf(w, "error: %s (%v)\n", fe.Error(), fe.Kind)
	}
}

func printProbeResults(w io.Writer, results []health.Result) int {
	unhealthy := 0
	for _, r := range results {
		line := fmt.Sprintf("%-12s %-11s %s", r.Prefix, r.Status, r.Target)
		if r.HTTPCode != nil {
			line += fmt.Sprintf(" %d %s", *r.HTTPCode, http.StatusText(*r.HTTPCode))
		}
		line += fmt.Sprintf(" (%dms)", r.ResponseTimeMs)
		if r.ErrorSnippet != nil {
			line += ": " + *r.ErrorSnippet
		}
		fmt.Fprintln(w, line)
		if r.Status == health.StatusUnhealthy {
			unhealthy++
		}
	}
	return unhealthy
}
