package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/opentalon/panelpilot/internal/config"
	"github.com/opentalon/panelpilot/internal/journal"
	"github.com/opentalon/panelpilot/internal/metrics"
	"github.com/opentalon/panelpilot/internal/orchestrator"
	"github.com/opentalon/panelpilot/internal/origin"
	"github.com/opentalon/panelpilot/internal/panel"
	"github.com/opentalon/panelpilot/internal/provider"
	"github.com/opentalon/panelpilot/internal/provision"
	"github.com/opentalon/panelpilot/internal/tools"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	gw      *panel.Client
	toolbox *tools.Toolbox
	orch    *orchestrator.Orchestrator
	sup     *provision.Supervisor
	metrics *metrics.Metrics
	journal *journal.Journal

	closers []func() error
}

func newApp(cfg *config.Config, logger *slog.Logger) *app {
	return &app{cfg: cfg, logger: logger, metrics: metrics.New()}
}

// wire builds the panel client, supervisor, tools and orchestrator.
// Provisioning notifications go to notifier. On error everything opened so
// far is closed.
func (a *app) wire(ctx context.Context, notifier provision.Notifier) (err error) {
	cfg, logger := a.cfg, a.logger
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.gw = panel.NewClient(cfg.Panel.BaseURL, cfg.Panel.ClientAPIKey, cfg.Panel.ApplicationAPIKey,
		panel.WithRateLimit(cfg.Panel.RequestsPerSecond, cfg.Panel.Burst),
		panel.WithLogger(logger.With("component", "panel")),
		panel.WithHTTPClient(&http.Client{Timeout: cfg.PanelTimeout()}),
	)

	supOpts := []provision.Option{
		provision.WithObserver(a.metrics),
		provision.WithLogger(logger),
	}
	claims, err := a.claims(ctx)
	if err != nil {
		return err
	}
	if claims != nil {
		supOpts = append(supOpts, provision.WithClaims(claims))
	}
	if cfg.Journal.Driver == journal.DriverPostgres || cfg.Journal.DataDir != "" {
		db, err := journal.Open(ctx, cfg.Journal)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		a.journal = journal.New(db)
		supOpts = append(supOpts, provision.WithRecorder(a.journal))
	}
	a.sup = provision.NewSupervisor(a.gw, notifier, provision.Policy{
		InstallInterval: cfg.Provisioning.InstallInterval(),
		RunningInterval: cfg.Provisioning.RunningInterval(),
		Budget:          cfg.Provisioning.Budget(),
	}, supOpts...)

	a.toolbox = tools.NewToolbox(a.gw, cfg.Provisioning, a.sup, logger)
	reg, err := tools.NewRegistryFor(a.toolbox)
	if err != nil {
		return err
	}

	llm, err := provider.FromConfig(provider.Config{
		ID:          "openai",
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})
	if err != nil {
		return err
	}
	a.orch, err = orchestrator.New(llm, reg,
		orchestrator.WithMaxIterations(cfg.LLM.MaxIterations),
		orchestrator.WithRules(cfg.LLM.Rules),
		orchestrator.WithObserver(a.metrics),
		orchestrator.WithLogger(logger),
	)
	return err
}

// claims returns Redis-backed claims when Redis is configured, nil for the
// supervisor's in-process default.
func (a *app) claims(ctx context.Context) (provision.Claims, error) {
	rc := a.cfg.Provisioning.Redis
	if rc.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: %w", rc.Addr, err)
	}
	a.closers = append(a.closers, client.Close)
	a.logger.Info("using redis for provisioning claims", "addr", rc.Addr)
	return provision.NewRedisClaims(client, rc.KeyPrefix), nil
}

// Handle implements channel.Answerer.
func (a *app) Handle(ctx context.Context, utterance string) string {
	return a.orch.Handle(ctx, utterance)
}

// Close stops the supervisor without notifying and releases connections.
func (a *app) Close() {
	if a.sup != nil {
		a.sup.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("closing", "error", err)
		}
	}
	a.closers = nil
}

// writerNotifier prints notifications; used when no channel is running.
type writerNotifier struct {
	w io.Writer
}

func (n writerNotifier) Notify(_ context.Context, _ origin.Origin, text string) error {
	_, err := fmt.Fprintln(n.w, text)
	return err
}
