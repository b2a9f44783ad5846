package provision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opentalon/panelpilot/internal/panel"
)

const (
	DefaultInstallInterval = 15 * time.Second
	DefaultRunningInterval = 10 * time.Second
	DefaultBudget          = 10 * time.Minute
)

// Policy holds the polling cadence and the total time a monitor may take.
type Policy struct {
	InstallInterval time.Duration
	RunningInterval time.Duration
	Budget          time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		InstallInterval: DefaultInstallInterval,
		RunningInterval: DefaultRunningInterval,
		Budget:          DefaultBudget,
	}
}

func (p Policy) withDefaults() Policy {
	if p.InstallInterval <= 0 {
		p.InstallInterval = DefaultInstallInterval
	}
	if p.RunningInterval <= 0 {
		p.RunningInterval = DefaultRunningInterval
	}
	if p.Budget <= 0 {
		p.Budget = DefaultBudget
	}
	return p
}

// Monitor is the phase machine for one created server. It never sleeps:
// Step performs the work due at now and reports when it wants to be woken
// next, so the caller decides how time passes.
type Monitor struct {
	gw      panel.Gateway
	policy  Policy
	session Session
	logger  *slog.Logger
}

// NewMonitor starts a session in PhaseInstalling. The first listing poll is
// due one install interval after start.
func NewMonitor(gw panel.Gateway, target Target, policy Policy, start time.Time, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	policy = policy.withDefaults()
	m := &Monitor{
		gw:     gw,
		policy: policy,
		session: Session{
			ID:        uuid.NewString(),
			Target:    target,
			StartedAt: start,
			Phase:     PhaseInstalling,
		},
	}
	m.logger = logger.With("session", m.session.ID, "server", target.Identifier)
	m.session.NextWake = m.clamp(start.Add(policy.InstallInterval))
	return m
}

func (m *Monitor) Session() Session { return m.session }

func (m *Monitor) Policy() Policy { return m.policy }

// Step advances the machine at time now. It returns the session after the
// step; callers stop once its phase is terminal and otherwise wait until
// NextWake.
func (m *Monitor) Step(ctx context.Context, now time.Time) (s Session) {
	if m.session.Phase.Terminal() {
		return m.session
	}
	defer func() {
		if p := recover(); p != nil {
			m.fail(now, fmt.Errorf("monitor panicked: %v", p))
			s = m.session
		}
	}()

	if !now.Before(m.session.Deadline(m.policy.Budget)) {
		m.finish(now, PhaseTimedOut)
		return m.session
	}

	m.session.Polls++
	switch m.session.Phase {
	case PhaseInstalling:
		m.stepInstalling(ctx, now)
	case PhaseAwaitingRunning:
		m.stepAwaitingRunning(ctx, now)
	}
	return m.session
}

func (m *Monitor) stepInstalling(ctx context.Context, now time.Time) {
	servers, err := m.gw.ListServers(ctx)
	if err != nil {
		m.pollError(now, "listing servers", err, m.policy.InstallInterval)
		return
	}
	for _, srv := range servers {
		if !m.matches(srv) {
			continue
		}
		if srv.Installing() {
			break
		}
		m.logger.Info("server finished installing")
		m.session.Phase = PhaseAwaitingRunning
		m.session.NextWake = now
		return
	}
	m.session.NextWake = m.clamp(now.Add(m.policy.InstallInterval))
}

func (m *Monitor) stepAwaitingRunning(ctx context.Context, now time.Time) {
	res, err := m.gw.ServerResources(ctx, m.session.Target.Identifier)
	if err != nil {
		m.pollError(now, "fetching resources", err, m.policy.RunningInterval)
		return
	}
	next := m.clamp(now.Add(m.policy.RunningInterval))
	if res == nil {
		m.session.NextWake = next
		return
	}
	switch res.State {
	case panel.StateRunning:
		m.finish(now, PhaseSucceeded)
		return
	case panel.StateOffline:
		m.session.RecoveryStarts++
		m.logger.Info("server is offline after install, sending start", "attempt", m.session.RecoveryStarts)
		if err := m.gw.SendPowerSignal(ctx, m.session.Target.Identifier, panel.SignalStart); err != nil {
			m.pollError(now, "sending start", err, m.policy.RunningInterval)
			return
		}
	}
	m.session.NextWake = next
}

// pollError treats a failed gateway call as an observation with no result:
// the monitor keeps polling until the budget runs out. Only a panic fails
// the session.
func (m *Monitor) pollError(now time.Time, op string, err error, interval time.Duration) {
	m.session.LastError = fmt.Errorf("%s: %w", op, err)
	m.logger.Warn("panel call failed, will retry", "op", op, "transient", panel.IsTransient(err), "error", err)
	m.session.NextWake = m.clamp(now.Add(interval))
}

func (m *Monitor) fail(now time.Time, err error) {
	m.session.Cause = err
	m.finish(now, PhaseFailed)
}

func (m *Monitor) finish(now time.Time, phase Phase) {
	m.session.Phase = phase
	m.session.EndedAt = now
	m.session.NextWake = time.Time{}
}

// clamp keeps a wake time from overshooting the deadline so that timing out
// happens on time.
func (m *Monitor) clamp(t time.Time) time.Time {
	if deadline := m.session.Deadline(m.policy.Budget); t.After(deadline) {
		return deadline
	}
	return t
}

func (m *Monitor) matches(srv panel.Server) bool {
	t := m.session.Target
	switch {
	case t.Identifier != "" && srv.Identifier == t.Identifier:
		return true
	case t.UUID != "" && srv.UUID == t.UUID:
		return true
	case t.ServerID != 0 && srv.ID == t.ServerID:
		return true
	}
	return false
}
