package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/opentalon/panelpilot/internal/digest"
	"github.com/opentalon/panelpilot/internal/journal"
	"github.com/opentalon/panelpilot/internal/panel"
)

type serverRow struct {
	Name       string
	Identifier string
	State      string
	Node       string
}

func newServersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List every server with its current state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			a := newApp(cfg, newLogger(cfg.Log, cmd.ErrOrStderr()))
			if err := a.wire(cmd.Context(), writerNotifier{w: cmd.OutOrStdout()}); err != nil {
				return err
			}
			defer a.Close()

			rows, err := collectServers(cmd.Context(), a.gw, a.toolbox)
			if err != nil {
				return err
			}
			renderServers(cmd.OutOrStdout(), rows)
			return nil
		},
	}
}

func collectServers(ctx context.Context, gw panel.Gateway, states digest.StateSource) ([]serverRow, error) {
	servers, err := gw.ListServers(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]serverRow, 0, len(servers))
	for _, srv := range servers {
		rows = append(rows, serverRow{
			Name:       srv.Name,
			Identifier: srv.Identifier,
			State:      states.StateOf(ctx, srv),
			Node:       srv.Node,
		})
	}
	return rows, nil
}

func stateColor(state string) text.Colors {
	switch state {
	case panel.StateRunning:
		return text.Colors{text.FgGreen}
	case panel.StateOffline:
		return text.Colors{text.FgRed}
	case panel.StateStarting, panel.StateStopping, "installing":
		return text.Colors{text.FgYellow}
	default:
		return text.Colors{text.FgHiBlack}
	}
}

func renderServers(w io.Writer, rows []serverRow) {
	if len(rows) == 0 {
		fmt.Fprintf(w, "%s %s\n", text.FgYellow.Sprint("📋"), text.FgYellow.Sprint("No servers found"))
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"NAME", "IDENTIFIER", "STATE", "NODE"})
	for _, r := range rows {
		t.AppendRow(table.Row{r.Name, r.Identifier, stateColor(r.State).Sprint(r.State), r.Node})
	}
	t.AppendFooter(table.Row{"", "", "TOTAL", len(rows)})
	t.Render()
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent provisioning outcomes from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Journal.Driver != journal.DriverPostgres && cfg.Journal.DataDir == "" {
				return fmt.Errorf("journal is not configured (journal.data_dir or journal.dsn)")
			}
			db, err := journal.Open(cmd.Context(), cfg.Journal)
			if err != nil {
				return err
			}
			defer db.Close()

			entries, err := journal.New(db).Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			renderHistory(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	return cmd
}

func renderHistory(w io.Writer, entries []journal.Entry) {
	if len(entries) == 0 {
		fmt.Fprintf(w, "%s %s\n", text.FgYellow.Sprint("📋"), text.FgYellow.Sprint("No provisioning history"))
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ENDED", "SERVER", "OUTCOME", "TOOK", "POLLS", "ASKED FROM"})
	for _, e := range entries {
		t.AppendRow(table.Row{
			e.EndedAt.Local().Format(time.DateTime),
			e.Target.Name,
			string(e.Phase),
			e.EndedAt.Sub(e.StartedAt).Round(time.Second).String(),
			e.Polls,
			e.Origin.String(),
		})
	}
	t.Render()
}
