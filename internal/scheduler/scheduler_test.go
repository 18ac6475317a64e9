package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"btcalert/internal/eventloop"
	"btcalert/internal/platform"
	"btcalert/internal/visibility"
)

// tickQueue stands in for the page loop. Timer callbacks post from their own
// goroutines; the test drains the queue and handles ticks itself.
type tickQueue chan eventloop.Event

func (q tickQueue) Post(ev eventloop.Event) bool {
	select {
	case q <- ev:
		return true
	default:
		return false
	}
}

type harness struct {
	t      *testing.T
	clock  *clockwork.FakeClock
	ticks  tickQueue
	sched  *Scheduler
	checks []uint64
	state  visibility.State
}

func newHarness(t *testing.T, profile platform.Profile, lock platform.WakeLock) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		clock: clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		ticks: make(tickQueue, 16),
	}
	h.sched = New(Options{
		Profile:    profile,
		Visibility: func() visibility.State { return h.state },
		Check:      func(ctx context.Context, gen uint64) { h.checks = append(h.checks, gen) },
		WakeLock:   lock,
		Clock:      h.clock,
		Poster:     h.ticks,
	}, zerolog.Nop())
	return h
}

// step advances by d and handles the one tick that must come due.
func (h *harness) step(d time.Duration) {
	h.t.Helper()
	h.clock.Advance(d)
	select {
	case ev := <-h.ticks:
		h.sched.HandleTick(context.Background(), ev)
	case <-time.After(2 * time.Second):
		h.t.Fatalf("no tick after advancing %s", d)
	}
}

// expectNoTick advances by d and fails if any tick is posted.
func (h *harness) expectNoTick(d time.Duration) {
	h.t.Helper()
	h.clock.Advance(d)
	select {
	case ev := <-h.ticks:
		h.t.Fatalf("unexpected tick %+v", ev.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestIntervalTable(t *testing.T) {
	iv := DefaultIntervals()
	cases := []struct {
		name    string
		profile platform.Profile
		state   visibility.State
		want    time.Duration
		active  bool
	}{
		{"standard foreground", platform.Standard, visibility.Foreground, 60 * time.Second, true},
		{"standard background", platform.Standard, visibility.Background, 60 * time.Second, true},
		{"restrictive foreground", platform.Restrictive, visibility.Foreground, 30 * time.Second, true},
		{"restrictive background", platform.Restrictive, visibility.Background, 60 * time.Second, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, active := iv.For(tc.profile, tc.state)
			if got != tc.want || active != tc.active {
				t.Fatalf("For() = %v/%v, want %v/%v", got, active, tc.want, tc.active)
			}
		})
	}
}

func TestStartChecksImmediatelyThenEveryInterval(t *testing.T) {
	h := newHarness(t, platform.Standard, nil)
	h.sched.Start(context.Background())

	if len(h.checks) != 1 {
		t.Fatalf("expected immediate check, got %d", len(h.checks))
	}
	for i := 0; i < 3; i++ {
		h.step(time.Minute)
	}
	if len(h.checks) != 4 {
		t.Fatalf("expected 4 checks after 3 minutes, got %d", len(h.checks))
	}
}

func TestStartThenStopProducesNoTicks(t *testing.T) {
	h := newHarness(t, platform.Standard, nil)
	h.sched.Start(context.Background())
	h.sched.Stop()

	h.expectNoTick(10 * time.Minute)
	if len(h.checks) != 1 {
		t.Fatalf("expected only the immediate check, got %d", len(h.checks))
	}
	if h.sched.Running() {
		t.Fatal("scheduler should not be running")
	}
}

func TestRepeatedStartKeepsOneTimer(t *testing.T) {
	h := newHarness(t, platform.Standard, nil)
	for i := 0; i < 5; i++ {
		h.sched.Start(context.Background())
	}

	h.checks = nil
	h.step(60 * time.Second)
	if len(h.checks) != 1 {
		t.Fatalf("expected a single tick, got %d", len(h.checks))
	}
	select {
	case <-h.ticks:
		t.Fatal("an earlier session left a live timer")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, platform.Standard, nil)
	h.sched.Stop()
	gen := h.sched.Generation()
	h.sched.Start(context.Background())
	h.sched.Stop()
	h.sched.Stop()
	if h.sched.Generation() != gen+2 {
		t.Fatalf("generation = %d, want %d", h.sched.Generation(), gen+2)
	}
}

func TestGenerationInvalidatesOldChecks(t *testing.T) {
	h := newHarness(t, platform.Standard, nil)
	h.sched.Start(context.Background())
	first := h.checks[0]
	if !h.sched.Current(first) {
		t.Fatal("first generation should be current")
	}

	h.sched.Restart(context.Background())
	if h.sched.Current(first) {
		t.Fatal("restart should invalidate the old generation")
	}
	if !h.sched.Current(h.checks[len(h.checks)-1]) {
		t.Fatal("restart check should carry the live generation")
	}
}

func TestStaleTickIsDropped(t *testing.T) {
	h := newHarness(t, platform.Standard, nil)
	h.sched.Start(context.Background())
	old := h.sched.Generation()
	h.sched.Restart(context.Background())
	h.checks = nil

	h.sched.HandleTick(context.Background(), eventloop.Event{Kind: EventTick, Payload: Tick{Generation: old}})
	if len(h.checks) != 0 {
		t.Fatalf("stale tick should not check, got %d", len(h.checks))
	}
}

func TestRestrictiveBackgroundSuppressesTicks(t *testing.T) {
	h := newHarness(t, platform.Restrictive, nil)
	h.state = visibility.Background
	h.sched.Start(context.Background())

	session, ok := h.sched.Session()
	if !ok || session.Interval != 60*time.Second || session.Active {
		t.Fatalf("unexpected session %+v", session)
	}

	for i := 0; i < 5; i++ {
		h.step(60 * time.Second)
	}
	if len(h.checks) != 1 {
		t.Fatalf("background ticks should be suppressed, got %d checks", len(h.checks))
	}

	h.state = visibility.Foreground
	h.sched.Restart(context.Background())
	h.checks = nil
	h.step(30 * time.Second)
	h.step(30 * time.Second)
	if len(h.checks) != 2 {
		t.Fatalf("foreground restrictive should tick every 30s, got %d", len(h.checks))
	}
}

type stubLock struct {
	acquired, released int
	err                error
}

func (l *stubLock) Acquire() error {
	l.acquired++
	return l.err
}

func (l *stubLock) Release() error {
	l.released++
	return nil
}

func TestWakeLockOnRestrictiveOnly(t *testing.T) {
	lock := &stubLock{}
	h := newHarness(t, platform.Restrictive, lock)
	h.sched.Start(context.Background())
	h.sched.Restart(context.Background())
	if lock.acquired != 1 {
		t.Fatalf("acquired = %d, want 1", lock.acquired)
	}
	h.sched.Dispose()
	if lock.released != 1 {
		t.Fatalf("released = %d, want 1", lock.released)
	}

	lock = &stubLock{}
	h = newHarness(t, platform.Standard, lock)
	h.sched.Start(context.Background())
	if lock.acquired != 0 {
		t.Fatal("standard platform should not take the wake lock")
	}
}

func TestWakeLockFailureIsNotFatal(t *testing.T) {
	lock := &stubLock{err: errors.New("busy")}
	h := newHarness(t, platform.Restrictive, lock)
	h.sched.Start(context.Background())
	if !h.sched.Running() || len(h.checks) != 1 {
		t.Fatal("scheduler should run without the wake lock")
	}
	h.sched.Dispose()
	if lock.released != 0 {
		t.Fatal("release should not be called for a lock never held")
	}
}
