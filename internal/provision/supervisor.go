package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/opentalon/panelpilot/internal/origin"
	"github.com/opentalon/panelpilot/internal/panel"
)

// ErrStopped is returned by Track once Stop has been called.
var ErrStopped = errors.New("supervisor stopped")

// Notifier posts a message to a conversation.
type Notifier interface {
	Notify(ctx context.Context, to origin.Origin, text string) error
}

// Recorder keeps a history of finished sessions.
type Recorder interface {
	Record(ctx context.Context, s Session, to origin.Origin) error
}

// Observer is told when monitors start and finish.
type Observer interface {
	MonitorStarted()
	MonitorFinished(phase Phase, elapsed time.Duration)
}

// Claim is a held reservation on a server name.
type Claim struct {
	Name  string
	token string
}

type running struct {
	monitor *Monitor
	to      origin.Origin
	last    Session // guarded by Supervisor.mu
}

// Supervisor runs monitors in the background and owns their lifecycle.
// Monitors outlive the request that started them; Stop cancels whatever is
// still running at shutdown.
type Supervisor struct {
	gw       panel.Gateway
	notifier Notifier
	policy   Policy
	clock    Clock
	claims   Claims
	recorder Recorder
	observer Observer
	logger   *slog.Logger

	mu      sync.Mutex
	active  map[string]*running
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Supervisor)

func WithClock(c Clock) Option       { return func(s *Supervisor) { s.clock = c } }
func WithClaims(c Claims) Option     { return func(s *Supervisor) { s.claims = c } }
func WithRecorder(r Recorder) Option { return func(s *Supervisor) { s.recorder = r } }
func WithObserver(o Observer) Option { return func(s *Supervisor) { s.observer = o } }
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

func NewSupervisor(gw panel.Gateway, notifier Notifier, policy Policy, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		gw:       gw,
		notifier: notifier,
		policy:   policy.withDefaults(),
		clock:    RealClock,
		claims:   NewLocalClaims(),
		logger:   slog.Default(),
		active:   make(map[string]*running),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "provision")
	return s
}

// Reserve claims name for a new server. It fails with ErrAlreadyProvisioning
// while another monitor holds the same name.
func (s *Supervisor) Reserve(ctx context.Context, name string) (*Claim, error) {
	token, ok, err := s.claims.Acquire(ctx, name, s.policy.Budget)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAlreadyProvisioning, name)
	}
	return &Claim{Name: name, token: token}, nil
}

// Abandon gives back a claim whose creation did not go ahead.
func (s *Supervisor) Abandon(ctx context.Context, c *Claim) {
	if c == nil {
		return
	}
	if err := s.claims.Release(ctx, c.Name, c.token); err != nil {
		s.logger.Warn("releasing claim", "name", c.Name, "error", err)
	}
}

// Track starts a monitor for a created server and returns immediately. The
// outcome is reported to the origin carried by ctx; ctx itself is not kept.
func (s *Supervisor) Track(ctx context.Context, c *Claim, created panel.CreatedServer) (Session, error) {
	target := Target{
		ServerID:   created.ID,
		Identifier: created.Identifier,
		UUID:       created.UUID,
		Name:       created.Name,
	}
	m := NewMonitor(s.gw, target, s.policy, s.clock.Now(), s.logger)
	sess := m.Session()
	r := &running{monitor: m, to: origin.From(ctx), last: sess}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.Abandon(ctx, c)
		return Session{}, ErrStopped
	}
	s.active[sess.ID] = r
	s.wg.Add(1)
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.MonitorStarted()
	}
	s.logger.Info("monitoring new server", "session", sess.ID, "server", target.Identifier, "name", target.Name)

	go func() {
		defer s.wg.Done()
		s.run(r, c)
	}()
	return sess, nil
}

func (s *Supervisor) run(r *running, c *Claim) {
	sess := r.monitor.Session()
	defer func() {
		s.mu.Lock()
		delete(s.active, sess.ID)
		s.mu.Unlock()
		s.Abandon(context.Background(), c)
	}()

	for !sess.Phase.Terminal() {
		if wait := sess.NextWake.Sub(s.clock.Now()); wait > 0 {
			select {
			case <-s.ctx.Done():
				s.logger.Info("monitor stopped at shutdown", "session", sess.ID, "phase", sess.Phase)
				return
			case <-s.clock.After(wait):
			}
		}
		sess = r.monitor.Step(s.ctx, s.clock.Now())
		s.mu.Lock()
		r.last = sess
		s.mu.Unlock()
	}
	if sess.Phase == PhaseFailed && s.ctx.Err() != nil {
		s.logger.Info("monitor stopped at shutdown", "session", sess.ID, "error", sess.Cause)
		return
	}
	s.finish(r, sess)
}

func (s *Supervisor) finish(r *running, sess Session) {
	attrs := []any{"session", sess.ID, "server", sess.Target.Identifier, "phase", sess.Phase, "elapsed", sess.Elapsed(), "recovery_starts", sess.RecoveryStarts}
	if sess.Cause != nil {
		attrs = append(attrs, "error", sess.Cause)
	} else if sess.LastError != nil {
		attrs = append(attrs, "last_error", sess.LastError)
	}
	s.logger.Info("provisioning finished", attrs...)

	if s.observer != nil {
		s.observer.MonitorFinished(sess.Phase, sess.Elapsed())
	}
	// s.ctx may already be cancelled here.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if s.recorder != nil {
		if err := s.recorder.Record(ctx, sess, r.to); err != nil {
			s.logger.Warn("recording session", "session", sess.ID, "error", err)
		}
	}
	if s.notifier == nil || r.to.IsZero() {
		return
	}
	if err := s.notifier.Notify(ctx, r.to, Message(sess, s.policy.Budget)); err != nil {
		s.logger.Warn("sending provisioning notification", "session", sess.ID, "to", r.to.String(), "error", err)
	}
}

// Active lists the sessions still running, oldest first.
func (s *Supervisor) Active() []Session {
	s.mu.Lock()
	out := make([]Session, 0, len(s.active))
	for _, r := range s.active {
		out = append(out, r.last)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Stop cancels every monitor and waits for them to drain.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

// Message is the notification text for a finished session.
func Message(s Session, budget time.Duration) string {
	name := s.Target.Name
	if name == "" {
		name = s.Target.Identifier
	}
	switch s.Phase {
	case PhaseSucceeded:
		return fmt.Sprintf("✅ Server %q is installed and running.", name)
	case PhaseTimedOut:
		return fmt.Sprintf("⏳ Sorry, server %q did not come online within %s. It may still be installing; check the panel.", name, budget)
	default:
		return fmt.Sprintf("❌ Sorry, something went wrong while setting up server %q.", name)
	}
}
