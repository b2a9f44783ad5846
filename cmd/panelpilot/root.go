package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opentalon/panelpilot/internal/config"
	"github.com/opentalon/panelpilot/internal/version"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "panelpilot",
		Short: "Manage game servers on a hosting panel through natural language",
		Long: `panelpilot answers chat messages about the servers on a game hosting panel.
It lists servers, reports their state, sends power actions and creates new
servers, then follows each new server until it is online and reports back.`,
		Version:      version.Get().Version,
		SilenceUsage: true,
	}
	cmd.SetVersionTemplate(`{{printf "panelpilot version %s\n" .Version}}`)
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config file (default: built from environment variables)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(opts),
		newAskCmd(opts),
		newServersCmd(opts),
		newHistoryCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// load reads and validates the config.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger from log.level and log.format.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of panelpilot",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Get())
		},
	}
}
