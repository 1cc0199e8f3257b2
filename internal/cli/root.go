// Package cli implements the reqgraph command line.
package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/systemshift/reqgraph/internal/backend"
	"github.com/systemshift/reqgraph/internal/config"
	"github.com/systemshift/reqgraph/internal/logging"
	"github.com/systemshift/reqgraph/internal/store"
)

// RootOptions holds global flags and the state they resolve to.
type RootOptions struct {
	ConfigPath string
	Server     string
	LogLevel   string
	Format     string // "text" | "json"

	Config config.Config
	Logger *slog.Logger

	closeLog func() error
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "reqgraph",
		Short: "Browse and edit requirement models",
		Long: `reqgraph shows requirement definitions, usages and the relationships
between them as a tree, a table and a graph, all derived from one
element store backed by an element service.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.resolve(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.closeLog != nil {
				return opts.closeLog()
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default ~/.config/reqgraph/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.Server, "server", "", "element service base URL")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	// Add subcommands
	cmd.AddCommand(NewTUICommand(opts))
	cmd.AddCommand(NewViewCommand(opts, viewTree))
	cmd.AddCommand(NewViewCommand(opts, viewTable))
	cmd.AddCommand(NewViewCommand(opts, viewGraph))
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

// resolve loads configuration and applies flag overrides.
func (o *RootOptions) resolve(cmd *cobra.Command) error {
	if !slices.Contains(ValidFormats, o.Format) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", o.Format, ValidFormats))
	}

	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "loading config", err)
	}
	if o.Server != "" {
		cfg.Client.BaseURL = o.Server
	}
	if o.LogLevel != "" {
		if _, err := logging.ParseLevel(o.LogLevel); err != nil {
			return WrapExitError(ExitCommandError, "invalid --log-level", err)
		}
		cfg.Log.Level = o.LogLevel
	}
	o.Config = cfg

	// The TUI owns the terminal, so it only logs to a file.
	if cmd.Name() == "tui" && cfg.Log.File == "" {
		o.Logger = logging.Discard()
		return nil
	}
	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return WrapExitError(ExitCommandError, "configuring logging", err)
	}
	o.Logger, o.closeLog = logger, closeLog
	return nil
}

// newStore builds a store over the configured element service.
func (o *RootOptions) newStore() *store.Store {
	client := backend.NewClient(o.Config.Client.BaseURL,
		backend.WithTimeout(o.Config.Client.Timeout),
		backend.WithLogger(o.Logger),
	)
	return store.New(client,
		store.WithLogger(o.Logger),
		store.WithClassifier(o.Config.Classifier()),
		store.WithDisplayNameAttribute(o.Config.Client.DisplayAttribute),
	)
}
