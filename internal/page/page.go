// Package page is the foreground execution context: it owns the polling
// scheduler, the visibility tracker and the state the UI renders.
//
// Every field below the loop marker is touched only from loop handlers.
// Exported methods are safe from any goroutine; they hop onto the loop with
// Call or Post.
package page

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"btcalert/internal/bus"
	"btcalert/internal/eventloop"
	"btcalert/internal/market"
	"btcalert/internal/notify"
	"btcalert/internal/platform"
	"btcalert/internal/scheduler"
	"btcalert/internal/storage"
	"btcalert/internal/threshold"
	"btcalert/internal/visibility"
)

// Page loop events.
const (
	EventFetchDone  eventloop.Kind = "page.fetch-done"
	EventRetry      eventloop.Kind = "page.retry"
	EventBusMessage eventloop.Kind = "page.bus-message"
	EventFocus      eventloop.Kind = "page.focus"
)

// DefaultRetryDelay is the wait before the single retry after a network
// failure on a restrictive platform.
const DefaultRetryDelay = 30 * time.Second

// Options wire a Page to its collaborators.
type Options struct {
	Profile    platform.Profile
	Intervals  scheduler.Intervals
	Staleness  time.Duration
	RetryDelay time.Duration
	Locale     string

	Fetcher    market.PriceFetcher
	Settings   *storage.Settings
	Dispatcher *notify.Dispatcher
	Bus        *bus.Bus
	Sync       visibility.SyncRegistrar
	WakeLock   platform.WakeLock
	Clock      clockwork.Clock
}

// Status is the snapshot the UI renders.
type Status struct {
	ClientID     string    `json:"client_id"`
	Price        string    `json:"price,omitempty"`
	PriceDisplay string    `json:"price_display,omitempty"`
	Status       string    `json:"status"`
	Below        string    `json:"below,omitempty"`
	Above        string    `json:"above,omitempty"`
	LastCheck    time.Time `json:"last_check,omitzero"`
	Monitoring   bool      `json:"monitoring"`
	Interval     string    `json:"interval,omitempty"`
	Visibility   string    `json:"visibility"`
	Platform     string    `json:"platform"`
	Permission   string    `json:"permission"`
	Generation   uint64    `json:"generation"`
}

// Page is one open foreground page.
type Page struct {
	id     string
	opts   Options
	loop   *eventloop.Loop
	logger zerolog.Logger

	sched   *scheduler.Scheduler
	tracker *visibility.Tracker

	// loop-owned
	price      decimal.Decimal
	hasPrice   bool
	lastCheck  time.Time
	status     string
	thresholds threshold.Config
	hasBand    bool
	retry      clockwork.Timer
	permission notify.Permission
}

// New builds a page and its scheduler and tracker. Call Run to start it.
func New(opts Options, logger zerolog.Logger) *Page {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Locale == "" {
		opts.Locale = "de"
	}

	id := bus.NewClientID()
	p := &Page{
		id:         id,
		opts:       opts,
		loop:       eventloop.New("page", logger),
		logger:     logger.With().Str("component", "page").Str("client", id).Logger(),
		status:     "Starting…",
		permission: notify.Default,
	}

	p.tracker = visibility.NewTracker(visibility.Options{
		Profile:   opts.Profile,
		Staleness: opts.Staleness,
		Clock:     opts.Clock,
		LastCheck: func() time.Time { return p.lastCheck },
		OnStale: func(ctx context.Context) {
			// On restrictive platforms the change listener already restarted
			// polling, and Start checks immediately.
			if opts.Profile.Restrictive && p.sched.Running() {
				p.logger.Debug().Msg("stale check covered by restart")
				return
			}
			p.check(ctx, p.liveGeneration(), originStale)
		},
		Sync: opts.Sync,
	}, logger)

	p.sched = scheduler.New(scheduler.Options{
		Profile:    opts.Profile,
		Intervals:  opts.Intervals,
		Visibility: p.tracker.State,
		Check: func(ctx context.Context, gen uint64) {
			p.check(ctx, gen, originScheduled)
		},
		WakeLock: opts.WakeLock,
		Clock:    opts.Clock,
		Poster:   p.loop,
	}, logger)

	p.tracker.OnChange(func(ctx context.Context, from, to visibility.State) {
		if opts.Profile.Restrictive && p.sched.Running() {
			p.sched.Restart(ctx)
		}
	})

	p.loop.Handle(scheduler.EventTick, p.sched.HandleTick)
	p.loop.Handle(EventFetchDone, p.handleFetchDone)
	p.loop.Handle(EventRetry, p.handleRetry)
	p.loop.Handle(EventBusMessage, p.handleBusMessage)
	p.loop.Handle(EventFocus, func(ctx context.Context, ev eventloop.Event) {
		p.tracker.Signal(ctx, visibility.Focus)
	})
	return p
}

// ID implements bus.Client.
func (p *Page) ID() string { return p.id }

// Deliver implements bus.Client. It only enqueues.
func (p *Page) Deliver(msg bus.Message) {
	p.loop.Post(eventloop.Event{Kind: EventBusMessage, Payload: msg})
}

// Focus implements bus.Client.
func (p *Page) Focus() error {
	if !p.loop.Post(eventloop.Event{Kind: EventFocus}) {
		return eventloop.ErrStopped
	}
	return nil
}

// Loop exposes the page's event loop.
func (p *Page) Loop() *eventloop.Loop { return p.loop }

// Run restores saved state, fetches once, registers with the bus and
// processes events until ctx is cancelled. On return the page is disposed.
func (p *Page) Run(ctx context.Context) error {
	p.restore(ctx)
	if p.opts.Bus != nil {
		unregister := p.opts.Bus.Register(p)
		defer unregister()
	}
	defer p.dispose()

	p.check(ctx, 0, originLoad)

	err := p.loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Page) restore(ctx context.Context) {
	if p.opts.Settings == nil {
		return
	}
	if cfg, ok, err := p.opts.Settings.LoadThresholds(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("failed to load thresholds")
	} else if ok {
		p.thresholds, p.hasBand = cfg, true
	}
	if sample, ok, err := p.opts.Settings.LoadLastSample(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("failed to load last sample")
	} else if ok {
		p.price, p.hasPrice = sample.Value, true
		p.lastCheck = sample.ObservedAt
	}
	if p.opts.Dispatcher != nil {
		if perm, err := p.opts.Dispatcher.Permission(ctx); err == nil {
			p.permission = perm
		}
	}
	p.status = "App loaded. Testing connection…"
}

// dispose runs after the loop has stopped, so it may touch loop state.
func (p *Page) dispose() {
	if p.retry != nil {
		p.retry.Stop()
		p.retry = nil
	}
	p.sched.Dispose()
	p.logger.Debug().Msg("page disposed")
}

func (p *Page) liveGeneration() uint64 {
	if p.sched.Running() {
		return p.sched.Generation()
	}
	return 0
}

func (p *Page) snapshot() Status {
	s := Status{
		ClientID:   p.id,
		Status:     p.status,
		LastCheck:  p.lastCheck,
		Monitoring: p.sched.Running(),
		Visibility: p.tracker.State().String(),
		Platform:   p.opts.Profile.String(),
		Permission: string(p.permission),
		Generation: p.sched.Generation(),
	}
	if p.hasPrice {
		s.Price = p.price.String()
		s.PriceDisplay = "€ " + threshold.FormatAmount(p.price, p.opts.Locale)
	}
	if p.hasBand {
		s.Below = p.thresholds.Below.String()
		s.Above = p.thresholds.Above.String()
	}
	if session, ok := p.sched.Session(); ok {
		s.Interval = session.Interval.String()
	}
	return s
}

func (p *Page) setStatus(msg string) {
	p.status = msg
	p.logger.Info().Msg(msg)
}
