package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rathix/devserver/internal/config"
)

// commonOptions are flags shared by every subcommand.
type commonOptions struct {
	settings
	out io.Writer
}

// overrideFlags are the config values that can be set on the command line.
type overrideFlags struct {
	root       string
	host       string
	port       int
	strictPort bool
}

func (f *overrideFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.root, "root", "", "document root directory (overrides config)")
	cmd.Flags().StringVar(&f.host, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVar(&f.port, "port", 0, "listen port (overrides config)")
	cmd.Flags().BoolVar(&f.strictPort, "strict-port", false, "exit if the port is already in use")
}

func (f *overrideFlags) overrides(cmd *cobra.Command) config.Overrides {
	o := config.Overrides{Root: f.root, Host: f.host, Port: f.port}
	if cmd.Flags().Changed("strict-port") {
		o.StrictPort = &f.strictPort
	}
	return o
}

func newRootCmd(s settings, out io.Writer) *cobra.Command {
	opts := &commonOptions{settings: s, out: out}
	flags := &overrideFlags{}

	root := &cobra.Command{
		Use:   "devserver",
		Short: "Front-end development server",
		Long: `devserver serves a front-end document root and forwards API path prefixes
to separately running backends, as described by devserver.config.{yaml,json,toml}.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, flags.overrides(cmd))
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", s.ConfigFile, "config file path (default: search the working directory)")
	root.PersistentFlags().StringVar(&opts.LogFormat, "log-format", s.LogFormat, "log format (json or text)")
	root.PersistentFlags().StringVar(&opts.LogLevel, "log-level", s.LogLevel, "log level (debug, info, warn, error)")
	flags.register(root)

	root.AddCommand(
		newServeCmd(opts),
		newCheckCmd(opts),
		newPrintCmd(opts),
		newVersionCmd(opts),
	)
	return root
}

func newVersionCmd(opts *commonOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(opts.out, "devserver version %s\n", Version)
			return nil
		},
	}
}

// resolvedConfig is a loaded config together with where it came from.
type resolvedConfig struct {
	cfg  *config.Config
	path string // empty when running on defaults
	dir  string // base for resolving a relative root
}

// resolveConfigPath returns the explicit path, or searches dir. An empty
// result means no config file exists and defaults apply.
func resolveConfigPath(explicit, dir string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	path, err := config.Find(dir)
	if errors.Is(err, config.ErrNotFound) {
		return "", nil
	}
	return path, err
}

// loaderFor returns a function loading path with the overrides applied. An
// empty path loads the defaults plus overrides.
func loaderFor(o config.Overrides) func(string) (*config.Config, error) {
	return func(path string) (*config.Config, error) {
		raw := map[string]any{}
		if path != "" {
			var err error
			if raw, err = config.ReadRaw(path); err != nil {
				return nil, err
			}
		}
		return config.Load(config.Apply(raw, o))
	}
}

func resolveConfig(opts *commonOptions, o config.Overrides) (resolvedConfig, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return resolvedConfig{}, fmt.Errorf("failed to get working directory: %w", err)
	}
	path, err := resolveConfigPath(opts.ConfigFile, cwd)
	if err != nil {
		return resolvedConfig{}, err
	}
	cfg, err := loaderFor(o)(path)
	if err != nil {
		return resolvedConfig{}, err
	}
	return resolvedConfig{cfg: cfg, path: path, dir: cwd}, nil
}
