// Package digest posts a periodic summary of every server and its state to
// one conversation.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opentalon/panelpilot/internal/config"
	"github.com/opentalon/panelpilot/internal/origin"
	"github.com/opentalon/panelpilot/internal/panel"
	"github.com/opentalon/panelpilot/internal/provision"
)

// StateSource reports a server's display state; *tools.Toolbox implements
// it.
type StateSource interface {
	StateOf(ctx context.Context, srv panel.Server) string
}

type Digest struct {
	gw       panel.Gateway
	states   StateSource
	notifier provision.Notifier
	to       origin.Origin
	schedule cron.Schedule
	expr     string
	cron     *cron.Cron
	logger   *slog.Logger
}

// New validates the schedule (standard five-field cron or a descriptor such
// as "@hourly").
func New(gw panel.Gateway, states StateSource, notifier provision.Notifier, cfg config.DigestConfig, logger *slog.Logger) (*Digest, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Channel == "" {
		return nil, fmt.Errorf("digest: channel is required")
	}
	sched, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("digest: schedule %q: %w", cfg.Schedule, err)
	}
	return &Digest{
		gw:       gw,
		states:   states,
		notifier: notifier,
		to:       origin.Origin{Channel: cfg.Channel, Conversation: cfg.Conversation},
		schedule: sched,
		expr:     cfg.Schedule,
		logger:   logger.With("component", "digest"),
	}, nil
}

// Start runs the digest on its schedule until Stop.
func (d *Digest) Start() {
	d.cron = cron.New()
	d.cron.Schedule(d.schedule, cron.FuncJob(d.run))
	d.cron.Start()
	d.logger.Info("digest scheduled", "schedule", d.expr, "to", d.to.String(), "next", d.schedule.Next(time.Now()))
}

// Stop waits for a running digest to finish.
func (d *Digest) Stop() {
	if d.cron == nil {
		return
	}
	<-d.cron.Stop().Done()
}

func (d *Digest) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := d.Post(ctx); err != nil {
		d.logger.Warn("digest failed", "error", err)
	}
}

// Post builds the summary and sends it.
func (d *Digest) Post(ctx context.Context) error {
	text, err := d.Summary(ctx)
	if err != nil {
		return err
	}
	return d.notifier.Notify(ctx, d.to, text)
}

// Summary lists every server with its state, grouped by state.
func (d *Digest) Summary(ctx context.Context) (string, error) {
	servers, err := d.gw.ListServers(ctx)
	if err != nil {
		return "", fmt.Errorf("listing servers: %w", err)
	}
	if len(servers) == 0 {
		return "📋 Server digest: no servers.", nil
	}

	byState := make(map[string][]string)
	for _, srv := range servers {
		state := d.states.StateOf(ctx, srv)
		byState[state] = append(byState[state], srv.Name)
	}
	states := make([]string, 0, len(byState))
	for s := range byState {
		states = append(states, s)
	}
	sort.Strings(states)

	var sb strings.Builder
	fmt.Fprintf(&sb, "📋 Server digest: %d servers", len(servers))
	for _, s := range states {
		names := byState[s]
		sort.Strings(names)
		fmt.Fprintf(&sb, "\n- %s (%d): %s", s, len(names), strings.Join(names, ", "))
	}
	return sb.String(), nil
}
