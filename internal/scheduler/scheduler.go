// Package scheduler owns the page's repeating price check. It runs on the page
// event loop: timers fire on their own goroutines and post a Tick back, so all
// session state is touched from loop handlers only.
package scheduler

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"btcalert/internal/eventloop"
	"btcalert/internal/platform"
	"btcalert/internal/visibility"
)

// EventTick is posted to the owning loop when the session timer fires.
const EventTick eventloop.Kind = "scheduler.tick"

// Tick carries the generation of the session that armed it.
type Tick struct {
	Generation uint64
}

// CheckFunc starts one price check. gen identifies the session that asked for
// it; results carrying an older generation must be discarded.
type CheckFunc func(ctx context.Context, gen uint64)

// Intervals is the polling interval table.
type Intervals struct {
	Standard              time.Duration
	RestrictiveForeground time.Duration
	RestrictiveBackground time.Duration
}

// DefaultIntervals returns the stock cadence.
func DefaultIntervals() Intervals {
	return Intervals{
		Standard:              60 * time.Second,
		RestrictiveForeground: 30 * time.Second,
		RestrictiveBackground: 60 * time.Second,
	}
}

// For returns the interval for the given platform and visibility, and whether
// ticks in that state perform a check.
func (iv Intervals) For(profile platform.Profile, state visibility.State) (time.Duration, bool) {
	if !profile.Restrictive {
		return iv.Standard, true
	}
	if state == visibility.Foreground {
		return iv.RestrictiveForeground, true
	}
	return iv.RestrictiveBackground, false
}

// Session is the single live polling session.
type Session struct {
	Interval  time.Duration
	Active    bool
	StartedAt time.Time

	timer clockwork.Timer
}

// Options configure a Scheduler.
type Options struct {
	Profile    platform.Profile
	Intervals  Intervals
	Visibility func() visibility.State
	Check      CheckFunc
	WakeLock   platform.WakeLock
	Clock      clockwork.Clock
	Poster     eventloop.Poster
}

// Scheduler is not safe for concurrent use; call it from the owning loop.
type Scheduler struct {
	opts       Options
	logger     zerolog.Logger
	generation uint64
	session    *Session
	locked     bool
}

// New constructs an idle Scheduler.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Check == nil {
		panic("scheduler check function is required")
	}
	if opts.Poster == nil {
		panic("scheduler poster is required")
	}
	if opts.Intervals == (Intervals{}) {
		opts.Intervals = DefaultIntervals()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Visibility == nil {
		opts.Visibility = func() visibility.State { return visibility.Foreground }
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Start cancels any existing session, runs one immediate check and arms a
// fresh repeating timer.
func (s *Scheduler) Start(ctx context.Context) {
	s.cancel()
	s.generation++
	gen := s.generation

	state := s.opts.Visibility()
	interval, active := s.opts.Intervals.For(s.opts.Profile, state)
	s.session = &Session{Interval: interval, Active: active, StartedAt: s.opts.Clock.Now()}

	if s.opts.Profile.Restrictive {
		s.acquireWakeLock()
	}

	s.logger.Info().
		Dur("interval", interval).
		Bool("active", active).
		Str("visibility", state.String()).
		Uint64("generation", gen).
		Msg("polling started")

	s.opts.Check(ctx, gen)
	s.arm(gen)
}

// Stop cancels the timer and invalidates in-flight checks. It is idempotent.
func (s *Scheduler) Stop() {
	if s.session == nil {
		return
	}
	s.cancel()
	s.generation++
	s.logger.Info().Uint64("generation", s.generation).Msg("polling stopped")
}

// Restart is Stop followed by Start.
func (s *Scheduler) Restart(ctx context.Context) {
	s.Stop()
	s.Start(ctx)
}

// Dispose stops polling and releases the wake lock.
func (s *Scheduler) Dispose() {
	s.Stop()
	s.releaseWakeLock()
}

// Running reports whether a session is live.
func (s *Scheduler) Running() bool { return s.session != nil }

// Generation returns the current generation. It changes on every Start and
// Stop.
func (s *Scheduler) Generation() uint64 { return s.generation }

// Current reports whether gen still belongs to the live session.
func (s *Scheduler) Current(gen uint64) bool {
	return s.session != nil && gen == s.generation
}

// Session returns a copy of the live session.
func (s *Scheduler) Session() (Session, bool) {
	if s.session == nil {
		return Session{}, false
	}
	out := *s.session
	out.timer = nil
	return out, true
}

// HandleTick is the EventTick handler. Stale ticks are dropped; live ticks
// re-arm and then check unless the session is gated.
func (s *Scheduler) HandleTick(ctx context.Context, ev eventloop.Event) {
	tick, ok := ev.Payload.(Tick)
	if !ok || !s.Current(tick.Generation) {
		return
	}
	s.arm(tick.Generation)

	if !s.gateOpen() {
		s.logger.Debug().Msg("tick suppressed while in background")
		return
	}
	s.opts.Check(ctx, tick.Generation)
}

func (s *Scheduler) gateOpen() bool {
	if !s.opts.Profile.Restrictive {
		return true
	}
	return s.opts.Visibility() == visibility.Foreground
}

func (s *Scheduler) arm(gen uint64) {
	if s.session == nil {
		return
	}
	if s.session.timer != nil {
		s.session.timer.Stop()
	}
	poster := s.opts.Poster
	s.session.timer = s.opts.Clock.AfterFunc(s.session.Interval, func() {
		poster.Post(eventloop.Event{Kind: EventTick, Payload: Tick{Generation: gen}})
	})
}

func (s *Scheduler) cancel() {
	if s.session == nil {
		return
	}
	if s.session.timer != nil {
		s.session.timer.Stop()
	}
	s.session = nil
}

func (s *Scheduler) acquireWakeLock() {
	if s.opts.WakeLock == nil || s.locked {
		return
	}
	if err := s.opts.WakeLock.Acquire(); err != nil {
		s.logger.Warn().Err(err).Msg("wake lock not acquired")
		return
	}
	s.locked = true
}

func (s *Scheduler) releaseWakeLock() {
	if s.opts.WakeLock == nil || !s.locked {
		return
	}
	if err := s.opts.WakeLock.Release(); err != nil {
		s.logger.Warn().Err(err).Msg("wake lock release failed")
	}
	s.locked = false
}
