// Package visibility tracks whether the page is in the foreground and reacts
// to transitions: stale prices are re-checked on resume, and restrictive
// platforms ask the worker for a background re-check when the page hides.
package visibility

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"btcalert/internal/platform"
)

// State is the page's visibility.
type State int

const (
	Foreground State = iota
	Background
)

func (s State) String() string {
	if s == Background {
		return "background"
	}
	return "foreground"
}

// Signal is a raw lifecycle signal from the UI surface.
type Signal int

const (
	Hidden Signal = iota + 1
	Visible
	Blur
	Focus
)

// ParseSignal maps the UI's signal names.
func ParseSignal(s string) (Signal, bool) {
	switch s {
	case "hidden":
		return Hidden, true
	case "visible":
		return Visible, true
	case "blur":
		return Blur, true
	case "focus":
		return Focus, true
	default:
		return 0, false
	}
}

func (s Signal) target() State {
	if s == Hidden || s == Blur {
		return Background
	}
	return Foreground
}

// DefaultStaleness is how old the last check may be before a resume forces
// an out-of-band one.
const DefaultStaleness = 60 * time.Second

// SyncTag is the one-shot background check registered on hide.
const SyncTag = "price-check"

// SyncRegistrar registers one-shot background checks with the worker.
type SyncRegistrar interface {
	RegisterSync(ctx context.Context, tag string) error
}

// Listener observes state transitions. Listeners run before the staleness
// check.
type Listener func(ctx context.Context, from, to State)

// Options configure a Tracker.
type Options struct {
	Profile   platform.Profile
	Staleness time.Duration
	Clock     clockwork.Clock
	// LastCheck returns when the last successful price check happened;
	// zero means never.
	LastCheck func() time.Time
	// OnStale triggers an out-of-band price check.
	OnStale func(ctx context.Context)
	Sync    SyncRegistrar
}

// Tracker is owned by the page loop and is not safe for concurrent use.
type Tracker struct {
	opts      Options
	state     State
	listeners []Listener
	logger    zerolog.Logger
}

// NewTracker starts in Foreground.
func NewTracker(opts Options, logger zerolog.Logger) *Tracker {
	if opts.Staleness <= 0 {
		opts.Staleness = DefaultStaleness
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Tracker{
		opts:   opts,
		state:  Foreground,
		logger: logger.With().Str("component", "visibility").Logger(),
	}
}

// State returns the current visibility.
func (t *Tracker) State() State { return t.state }

// OnChange adds a transition listener.
func (t *Tracker) OnChange(l Listener) {
	t.listeners = append(t.listeners, l)
}

// Signal applies sig and reports whether the state changed.
func (t *Tracker) Signal(ctx context.Context, sig Signal) bool {
	to := sig.target()
	from := t.state
	if to == from {
		return false
	}
	t.state = to
	t.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("visibility changed")

	for _, l := range t.listeners {
		l(ctx, from, to)
	}

	switch to {
	case Foreground:
		t.resume(ctx)
	case Background:
		t.suspend(ctx)
	}
	return true
}

func (t *Tracker) resume(ctx context.Context) {
	if !t.stale() || t.opts.OnStale == nil {
		return
	}
	t.logger.Info().Msg("price is stale after resume; checking now")
	t.opts.OnStale(ctx)
}

func (t *Tracker) stale() bool {
	if t.opts.LastCheck == nil {
		return true
	}
	last := t.opts.LastCheck()
	if last.IsZero() {
		return true
	}
	return t.opts.Clock.Now().Sub(last) > t.opts.Staleness
}

func (t *Tracker) suspend(ctx context.Context) {
	if !t.opts.Profile.Restrictive || t.opts.Sync == nil {
		return
	}
	if err := t.opts.Sync.RegisterSync(ctx, SyncTag); err != nil {
		t.logger.Debug().Err(err).Msg("background sync unavailable")
	}
}
