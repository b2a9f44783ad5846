package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/opentalon/panelpilot/internal/channel"
	"github.com/opentalon/panelpilot/internal/digest"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the configured chat channels until interrupted",
		Long: `Starts every enabled channel (console, websocket), the metrics endpoint and
the optional status digest. Provisioning notifications are sent back to the
conversation that asked for the server. Stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Log, cmd.ErrOrStderr())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a := newApp(cfg, logger)
			channels := channel.NewRegistry(channel.NewMessageHandler(a), logger)
			if err := a.wire(ctx, channels); err != nil {
				return err
			}
			defer a.Close()

			if err := channel.NewManager(channels, cmd.InOrStdin(), cmd.OutOrStdout(), logger).LoadAll(cfg.Channels); err != nil {
				channels.StopAll()
				return err
			}
			defer channels.StopAll()

			if cfg.Digest.Schedule != "" {
				d, err := digest.New(a.gw, a.toolbox, channels, cfg.Digest, logger)
				if err != nil {
					return err
				}
				d.Start()
				defer d.Stop()
			}

			g, gctx := errgroup.WithContext(ctx)
			if cfg.Metrics.Addr != "" {
				g.Go(func() error { return a.metrics.Serve(gctx, cfg.Metrics.Addr, logger) })
			}
			g.Go(func() error {
				<-gctx.Done()
				return nil
			})
			logger.Info("panelpilot running", "model", cfg.LLM.Model, "panel", cfg.Panel.BaseURL)
			err = g.Wait()
			logger.Info("shutting down", "active_monitors", len(a.sup.Active()))
			if err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}
