package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/systemshift/reqgraph/internal/render"
	"github.com/systemshift/reqgraph/internal/server"
	"github.com/systemshift/reqgraph/internal/tui"
)

// NewServeCommand runs the reference element service in the foreground.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var port, storage string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference element service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootOpts.Config.Server
			if port != "" {
				cfg.Port = port
			}
			if storage != "" {
				cfg.Storage = storage
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.Run(ctx, cfg, rootOpts.Logger)
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "listen port (default from config)")
	cmd.Flags().StringVar(&storage, "storage", "", "storage backend (sqlite|neo4j)")
	return cmd
}

// NewTUICommand opens the interactive three-pane view.
func NewTUICommand(rootOpts *RootOptions) *cobra.Command {
	var types []string

	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Browse the model as tree, table and graph side by side",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(types) == 0 {
				types = rootOpts.Config.Client.TypeTags
			}
			return tui.Run(cmd.Context(), rootOpts.newStore(), tui.Options{
				TypeTags: types,
				PageSize: rootOpts.Config.Client.PageSize,
				Renderer: render.New(true),
				Logger:   rootOpts.Logger,
			})
		},
	}

	cmd.Flags().StringSliceVarP(&types, "type", "t", nil, "type tags to load (default from config; empty loads everything)")
	return cmd
}
