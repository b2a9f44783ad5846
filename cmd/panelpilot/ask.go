package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opentalon/panelpilot/internal/channel"
	"github.com/opentalon/panelpilot/internal/origin"
)

func newAskCmd(opts *rootOptions) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "ask <text>",
		Short: "Answer one request and exit",
		Example: `  panelpilot ask "list my servers"
  panelpilot ask --wait "create a Paper server called survival"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Log, cmd.ErrOrStderr())
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			a := newApp(cfg, logger)
			if err := a.wire(ctx, writerNotifier{w: out}); err != nil {
				return err
			}
			defer a.Close()

			ctx = origin.With(ctx, origin.Origin{Channel: channel.ConsoleID, Conversation: channel.ConsoleConversation, Sender: "cli"})
			fmt.Fprintln(out, a.Handle(ctx, strings.Join(args, " ")))

			if !wait {
				return nil
			}
			// Notifications are printed by writerNotifier as monitors finish.
			tick := time.NewTicker(time.Second)
			defer tick.Stop()
			for len(a.sup.Active()) > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-tick.C:
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "stay until every new server has reported its outcome")
	return cmd
}
