// Package worker is the background execution context. It owns the offline
// shell cache, answers background sync triggers with its own price check, and
// talks to open pages only through the message bus.
package worker

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"btcalert/internal/bus"
	"btcalert/internal/eventloop"
	"btcalert/internal/market"
	"btcalert/internal/notify"
	"btcalert/internal/storage"
)

// Sync tags understood by the worker.
const (
	SyncTag     = "price-check"
	PeriodicTag = "price-monitor"
)

// Worker loop events.
const (
	EventSync              eventloop.Kind = "worker.sync"
	EventRegisterSync      eventloop.Kind = "worker.register-sync"
	EventFetchDone         eventloop.Kind = "worker.fetch-done"
	EventNotificationClick eventloop.Kind = "worker.notification-click"
)

// ErrSyncUnsupported is returned by RegisterSync when background sync is
// turned off.
var ErrSyncUnsupported = errors.New("background sync not supported")

type syncRequest struct {
	Tag string
}

type fetchResult struct {
	Tag    string
	Sample market.Sample
	Err    error
}

type clickRequest struct {
	done chan error
}

// Options wire a Worker to its collaborators.
type Options struct {
	CacheName   string
	ShellAssets []string
	// Assets is where Install reads the shell from.
	Assets fs.FS
	// Origin handles requests the cache cannot answer.
	Origin     http.Handler
	Cache      storage.CacheStore
	Settings   *storage.Settings
	Fetcher    market.PriceFetcher
	Dispatcher *notify.Dispatcher
	Bus        *bus.Bus
	Clock      clockwork.Clock
	Opener     WindowOpener
	AppRoot    string

	BackgroundSync   bool
	SyncDelay        time.Duration
	PeriodicInterval time.Duration
}

// Worker is safe to call from any goroutine; its mutable state lives on its
// own loop.
type Worker struct {
	opts   Options
	loop   *eventloop.Loop
	logger zerolog.Logger

	// loop-owned
	pending  map[string]clockwork.Timer
	periodic clockwork.Timer
}

// New builds a worker and registers its handlers. Call Run to start it.
func New(opts Options, logger zerolog.Logger) *Worker {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Opener == nil {
		opts.Opener = LogOpener{Logger: logger}
	}
	if opts.AppRoot == "" {
		opts.AppRoot = "/"
	}
	w := &Worker{
		opts:    opts,
		loop:    eventloop.New("worker", logger),
		logger:  logger.With().Str("component", "worker").Logger(),
		pending: make(map[string]clockwork.Timer),
	}
	w.loop.Handle(EventSync, w.handleSync)
	w.loop.Handle(EventRegisterSync, w.handleRegisterSync)
	w.loop.Handle(EventFetchDone, w.handleFetchDone)
	w.loop.Handle(EventNotificationClick, w.handleNotificationClick)
	return w
}

// Loop exposes the worker's event loop.
func (w *Worker) Loop() *eventloop.Loop { return w.loop }

// Run installs and activates the cache, arms periodic sync and then processes
// events until ctx is cancelled. A failed install is logged and the worker
// keeps running with whatever cache it has.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Install(ctx); err != nil {
		w.logger.Warn().Err(err).Msg("install failed; continuing without fresh cache")
	} else if _, err := w.Activate(ctx); err != nil {
		w.logger.Warn().Err(err).Msg("activate failed")
	}

	if w.opts.PeriodicInterval > 0 {
		w.armPeriodic()
	}
	defer w.stopTimers()

	err := w.loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RegisterSync asks for a one-shot background check after the configured
// delay. Registering a tag that is already pending keeps the first
// registration.
func (w *Worker) RegisterSync(ctx context.Context, tag string) error {
	if !w.opts.BackgroundSync {
		return ErrSyncUnsupported
	}
	if !w.loop.Post(eventloop.Event{Kind: EventRegisterSync, Payload: syncRequest{Tag: tag}}) {
		return eventloop.ErrStopped
	}
	return nil
}

// TriggerSync fires a sync event for tag right away.
func (w *Worker) TriggerSync(tag string) bool {
	return w.loop.Post(eventloop.Event{Kind: EventSync, Payload: syncRequest{Tag: tag}})
}

// NotificationClick focuses the first open page, or opens the app root when
// none is open.
func (w *Worker) NotificationClick(ctx context.Context) error {
	done := make(chan error, 1)
	if !w.loop.Post(eventloop.Event{Kind: EventNotificationClick, Payload: clickRequest{done: done}}) {
		return eventloop.ErrStopped
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) handleRegisterSync(ctx context.Context, ev eventloop.Event) {
	req, ok := ev.Payload.(syncRequest)
	if !ok {
		return
	}
	if _, exists := w.pending[req.Tag]; exists {
		return
	}
	tag := req.Tag
	w.pending[tag] = w.opts.Clock.AfterFunc(w.opts.SyncDelay, func() {
		w.loop.Post(eventloop.Event{Kind: EventSync, Payload: syncRequest{Tag: tag}})
	})
	w.logger.Debug().Str("tag", tag).Dur("delay", w.opts.SyncDelay).Msg("background sync registered")
}

func (w *Worker) handleSync(ctx context.Context, ev eventloop.Event) {
	req, ok := ev.Payload.(syncRequest)
	if !ok {
		return
	}
	if t, ok := w.pending[req.Tag]; ok {
		t.Stop()
		delete(w.pending, req.Tag)
	}

	switch req.Tag {
	case PeriodicTag:
		w.armPeriodic()
	case SyncTag:
	default:
		w.logger.Debug().Str("tag", req.Tag).Msg("ignoring unknown sync tag")
		return
	}

	w.logger.Info().Str("tag", req.Tag).Msg("background price check")
	fetcher := w.opts.Fetcher
	go func() {
		sample, err := fetcher.FetchPrice(ctx)
		w.loop.Post(eventloop.Event{Kind: EventFetchDone, Payload: fetchResult{Tag: req.Tag, Sample: sample, Err: err}})
	}()
}

func (w *Worker) handleFetchDone(ctx context.Context, ev eventloop.Event) {
	res, ok := ev.Payload.(fetchResult)
	if !ok {
		return
	}
	if res.Err != nil {
		w.logger.Warn().Err(res.Err).Str("tag", res.Tag).Msg("background price check failed")
		return
	}

	if w.opts.Settings != nil {
		if err := w.opts.Settings.SaveLastSample(ctx, res.Sample); err != nil {
			w.logger.Error().Err(err).Msg("failed to persist sample")
		}
	}

	price := res.Sample.Value
	if w.opts.Bus.Broadcast(bus.NewMessage(bus.PriceUpdate, price)) > 0 {
		w.opts.Bus.PostFirst(bus.NewMessage(bus.CheckThresholds, price))
		return
	}

	// No page to delegate to: evaluate here from shared settings.
	if w.opts.Settings == nil || w.opts.Dispatcher == nil {
		return
	}
	cfg, ok, err := w.opts.Settings.LoadThresholds(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to load thresholds")
		return
	}
	if !ok {
		return
	}
	dispatcher := w.opts.Dispatcher
	go func() {
		if _, _, err := dispatcher.Check(ctx, price, cfg); err != nil {
			w.logger.Warn().Err(err).Msg("background notification failed")
		}
	}()
}

func (w *Worker) handleNotificationClick(ctx context.Context, ev eventloop.Event) {
	req, ok := ev.Payload.(clickRequest)
	if !ok {
		return
	}
	clients := w.opts.Bus.Clients()
	if len(clients) == 0 {
		opener, root := w.opts.Opener, w.opts.AppRoot
		go func() {
			req.done <- opener.Open(ctx, root)
		}()
		return
	}
	req.done <- clients[0].Focus()
}

func (w *Worker) armPeriodic() {
	if w.opts.PeriodicInterval <= 0 {
		return
	}
	if w.periodic != nil {
		w.periodic.Stop()
	}
	w.periodic = w.opts.Clock.AfterFunc(w.opts.PeriodicInterval, func() {
		w.loop.Post(eventloop.Event{Kind: EventSync, Payload: syncRequest{Tag: PeriodicTag}})
	})
}

func (w *Worker) stopTimers() {
	if w.periodic != nil {
		w.periodic.Stop()
	}
	for tag, t := range w.pending {
		t.Stop()
		delete(w.pending, tag)
	}
}
