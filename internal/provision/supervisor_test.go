package provision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentalon/panelpilot/internal/origin"
	"github.com/opentalon/panelpilot/internal/panel"
)

type waiter struct {
	at time.Time
	ch chan time.Time
}

// fakeClock only moves when Advance is called.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, waiter{at: c.now.Add(d), ch: ch})
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.at.After(c.now) {
			w.ch <- c.now
			continue
		}
		kept = append(kept, w)
	}
	c.waiters = kept
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *fakeClock) waitForSleepers(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return c.pending() == n }, 2*time.Second, time.Millisecond)
}

type note struct {
	to   origin.Origin
	text string
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []note
}

func (n *recordingNotifier) Notify(_ context.Context, to origin.Origin, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note{to: to, text: text})
	return nil
}

func (n *recordingNotifier) all() []note {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]note(nil), n.notes...)
}

type recordingRecorder struct {
	mu       sync.Mutex
	sessions []Session
}

func (r *recordingRecorder) Record(_ context.Context, s Session, _ origin.Origin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, s)
	return nil
}

type countingObserver struct {
	mu       sync.Mutex
	started  int
	finished map[Phase]int
}

func (o *countingObserver) MonitorStarted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *countingObserver) MonitorFinished(p Phase, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.finished == nil {
		o.finished = make(map[Phase]int)
	}
	o.finished[p]++
}

var console = origin.Origin{Channel: "console", Conversation: "stdin"}

func TestSupervisorCreationToRunning(t *testing.T) {
	gw := &scriptedGateway{
		listings: [][]panel.Server{installing(true), installing(false)},
		states:   []string{panel.StateOffline, panel.StateStarting, panel.StateRunning},
	}
	clock := newFakeClock(t0)
	notifier := &recordingNotifier{}
	recorder := &recordingRecorder{}
	observer := &countingObserver{}
	sup := NewSupervisor(gw, notifier, policy, WithClock(clock), WithRecorder(recorder), WithObserver(observer))
	defer sup.Stop()

	ctx := origin.With(context.Background(), console)
	claim, err := sup.Reserve(ctx, "survival")
	require.NoError(t, err)
	sess, err := sup.Track(ctx, claim, panel.CreatedServer{ID: 42, Identifier: "1a7ce997", Name: "survival"})
	require.NoError(t, err)
	assert.Equal(t, PhaseInstalling, sess.Phase)
	require.Len(t, sup.Active(), 1)

	// installing=true at 15s, installing=false at 30s followed by offline,
	// starting at 40s, running at 50s.
	for i := 0; i < 4; i++ {
		clock.waitForSleepers(t, 1)
		if i < 2 {
			clock.Advance(15 * time.Second)
		} else {
			clock.Advance(10 * time.Second)
		}
	}

	require.Eventually(t, func() bool { return len(notifier.all()) == 1 }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return len(sup.Active()) == 0 }, 2*time.Second, time.Millisecond)

	notes := notifier.all()
	assert.Equal(t, console, notes[0].to)
	assert.Contains(t, notes[0].text, "survival")
	assert.Contains(t, notes[0].text, "running")
	assert.Equal(t, []panel.Signal{panel.SignalStart}, gw.signals)

	gw.mu.Lock()
	listCalls, resCalls := gw.listCalls, gw.resCalls
	gw.mu.Unlock()
	clock.Advance(time.Hour)
	time.Sleep(10 * time.Millisecond)
	gw.mu.Lock()
	assert.Equal(t, listCalls, gw.listCalls, "no polling after success")
	assert.Equal(t, resCalls, gw.resCalls)
	gw.mu.Unlock()
	assert.Len(t, notifier.all(), 1)

	recorder.mu.Lock()
	require.Len(t, recorder.sessions, 1)
	assert.Equal(t, PhaseSucceeded, recorder.sessions[0].Phase)
	recorder.mu.Unlock()

	observer.mu.Lock()
	assert.Equal(t, 1, observer.started)
	assert.Equal(t, 1, observer.finished[PhaseSucceeded])
	observer.mu.Unlock()

	_, err = sup.Reserve(context.Background(), "survival")
	assert.NoError(t, err, "claim is released once the monitor finishes")
}

func TestSupervisorTimeoutNotifiesOnce(t *testing.T) {
	gw := &scriptedGateway{listings: [][]panel.Server{installing(true)}}
	clock := newFakeClock(t0)
	notifier := &recordingNotifier{}
	sup := NewSupervisor(gw, notifier, policy, WithClock(clock))
	defer sup.Stop()

	ctx := origin.With(context.Background(), console)
	claim, err := sup.Reserve(ctx, "survival")
	require.NoError(t, err)
	_, err = sup.Track(ctx, claim, panel.CreatedServer{ID: 42, Identifier: "1a7ce997", Name: "survival"})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		clock.waitForSleepers(t, 1)
		clock.Advance(15 * time.Second)
	}
	require.Eventually(t, func() bool { return len(notifier.all()) == 1 }, 2*time.Second, time.Millisecond)
	assert.Contains(t, notifier.all()[0].text, "did not come online")
}

func TestSupervisorRejectsDuplicateName(t *testing.T) {
	sup := NewSupervisor(&scriptedGateway{}, nil, policy, WithClock(newFakeClock(t0)))
	defer sup.Stop()

	claim, err := sup.Reserve(context.Background(), "survival")
	require.NoError(t, err)
	_, err = sup.Reserve(context.Background(), "Survival")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyProvisioning))

	sup.Abandon(context.Background(), claim)
	_, err = sup.Reserve(context.Background(), "survival")
	assert.NoError(t, err)
}

func TestSupervisorStopCancelsQuietly(t *testing.T) {
	gw := &scriptedGateway{listings: [][]panel.Server{installing(true)}}
	clock := newFakeClock(t0)
	notifier := &recordingNotifier{}
	sup := NewSupervisor(gw, notifier, policy, WithClock(clock))

	ctx := origin.With(context.Background(), console)
	claim, err := sup.Reserve(ctx, "survival")
	require.NoError(t, err)
	_, err = sup.Track(ctx, claim, panel.CreatedServer{ID: 42, Identifier: "1a7ce997", Name: "survival"})
	require.NoError(t, err)
	clock.waitForSleepers(t, 1)

	sup.Stop()
	assert.Empty(t, notifier.all())
	assert.Empty(t, sup.Active())

	_, err = sup.Track(ctx, nil, panel.CreatedServer{ID: 43, Identifier: "bbbb2222", Name: "creative"})
	assert.ErrorIs(t, err, ErrStopped, "a stopped supervisor accepts no new monitors")
}

func TestSupervisorTrackRacingStop(t *testing.T) {
	gw := &scriptedGateway{listings: [][]panel.Server{installing(true)}}
	sup := NewSupervisor(gw, &recordingNotifier{}, policy, WithClock(newFakeClock(t0)))
	ctx := origin.With(context.Background(), console)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			claim, err := sup.Reserve(ctx, fmt.Sprintf("server-%d", i))
			if err != nil {
				return
			}
			_, err = sup.Track(ctx, claim, panel.CreatedServer{ID: i, Identifier: fmt.Sprintf("id-%d", i), Name: claim.Name})
			if err != nil {
				assert.ErrorIs(t, err, ErrStopped)
			}
		}(i)
	}
	sup.Stop()
	wg.Wait()

	assert.Empty(t, sup.Active(), "monitors tracked around Stop are all drained")
	_, err := sup.Track(ctx, nil, panel.CreatedServer{ID: 99, Identifier: "late", Name: "late"})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestMessage(t *testing.T) {
	s := Session{Target: Target{Identifier: "1a7ce997"}}
	s.Phase = PhaseSucceeded
	assert.Equal(t, `✅ Server "1a7ce997" is installed and running.`, Message(s, time.Minute))
	s.Target.Name = "survival"
	s.Phase = PhaseTimedOut
	assert.Contains(t, Message(s, 10*time.Minute), "10m0s")
	s.Phase = PhaseFailed
	assert.Contains(t, Message(s, time.Minute), "something went wrong")
}
