package page

import (
	"context"

	"github.com/shopspring/decimal"

	"btcalert/internal/bus"
	"btcalert/internal/eventloop"
	"btcalert/internal/market"
	"btcalert/internal/threshold"
	"btcalert/internal/visibility"
)

type checkOrigin int

const (
	originScheduled checkOrigin = iota
	originStale
	originRetry
	originManual
	originLoad
)

func (o checkOrigin) String() string {
	switch o {
	case originScheduled:
		return "scheduled"
	case originStale:
		return "stale"
	case originRetry:
		return "retry"
	case originManual:
		return "manual"
	case originLoad:
		return "load"
	default:
		return "unknown"
	}
}

type fetchDone struct {
	Generation uint64
	Origin     checkOrigin
	Sample     market.Sample
	Err        error
	// done is closed once the result has been applied.
	done chan struct{}
}

type retryDue struct {
	Generation uint64
}

// check starts one fetch off-loop. gen 0 means the check is not tied to a
// polling session and is never discarded.
func (p *Page) check(ctx context.Context, gen uint64, origin checkOrigin) {
	p.checkNotify(ctx, gen, origin, nil)
}

func (p *Page) checkNotify(ctx context.Context, gen uint64, origin checkOrigin, done chan struct{}) {
	p.logger.Debug().Str("origin", origin.String()).Uint64("generation", gen).Msg("fetching price")
	fetcher := p.opts.Fetcher
	go func() {
		sample, err := fetcher.FetchPrice(ctx)
		ev := eventloop.Event{Kind: EventFetchDone, Payload: fetchDone{
			Generation: gen, Origin: origin, Sample: sample, Err: err, done: done,
		}}
		if !p.loop.Post(ev) && done != nil {
			close(done)
		}
	}()
}

func (p *Page) handleFetchDone(ctx context.Context, ev eventloop.Event) {
	res, ok := ev.Payload.(fetchDone)
	if !ok {
		return
	}
	if res.done != nil {
		defer close(res.done)
	}

	if res.Generation != 0 && !p.sched.Current(res.Generation) {
		p.logger.Debug().
			Uint64("generation", res.Generation).
			Uint64("current", p.sched.Generation()).
			Msg("discarding result from stopped session")
		return
	}

	if res.Err != nil {
		p.applyFailure(res)
		return
	}
	p.applySample(ctx, res.Sample)
}

func (p *Page) applyFailure(res fetchDone) {
	p.setStatus("Price check failed: " + res.Err.Error())

	if !market.IsNetwork(res.Err) || res.Origin == originRetry {
		return
	}
	if !p.opts.Profile.Restrictive || p.tracker.State() != visibility.Foreground {
		return
	}
	p.scheduleRetry(res.Generation)
}

func (p *Page) scheduleRetry(gen uint64) {
	if p.retry != nil {
		p.retry.Stop()
	}
	poster := p.loop
	p.retry = p.opts.Clock.AfterFunc(p.opts.RetryDelay, func() {
		poster.Post(eventloop.Event{Kind: EventRetry, Payload: retryDue{Generation: gen}})
	})
	p.status += " (retrying in " + p.opts.RetryDelay.String() + ")"
	p.logger.Info().Dur("delay", p.opts.RetryDelay).Msg("retry scheduled")
}

func (p *Page) handleRetry(ctx context.Context, ev eventloop.Event) {
	due, ok := ev.Payload.(retryDue)
	if !ok {
		return
	}
	p.retry = nil
	if due.Generation != 0 && !p.sched.Current(due.Generation) {
		return
	}
	p.check(ctx, due.Generation, originRetry)
}

func (p *Page) applySample(ctx context.Context, sample market.Sample) {
	p.price, p.hasPrice = sample.Value, true
	p.lastCheck = p.opts.Clock.Now()
	p.setStatus("Price updated: € " + threshold.FormatAmount(sample.Value, p.opts.Locale))

	if p.opts.Settings != nil {
		if err := p.opts.Settings.SaveLastSample(ctx, sample); err != nil {
			p.logger.Error().Err(err).Msg("failed to persist sample")
		}
	}
	p.evaluate(ctx, sample.Value)
}

// evaluate prefers the persisted band over the in-page copy, so a band saved
// elsewhere applies here too.
func (p *Page) evaluate(ctx context.Context, price decimal.Decimal) {
	if p.opts.Dispatcher == nil {
		return
	}
	cfg, ok := p.thresholds, p.hasBand
	if p.opts.Settings != nil {
		if saved, found, err := p.opts.Settings.LoadThresholds(ctx); err != nil {
			p.logger.Warn().Err(err).Msg("failed to load thresholds")
		} else if found {
			cfg, ok = saved, true
		}
	}
	if !ok {
		return
	}

	dispatcher := p.opts.Dispatcher
	go func() {
		ev, sent, err := dispatcher.Check(ctx, price, cfg)
		if err != nil {
			p.logger.Warn().Err(err).Msg("notification failed")
			return
		}
		if sent {
			p.logger.Info().Str("kind", ev.Kind.String()).Msg("threshold alert sent")
		}
	}()
}

func (p *Page) handleBusMessage(ctx context.Context, ev eventloop.Event) {
	msg, ok := ev.Payload.(bus.Message)
	if !ok {
		return
	}
	switch msg.Kind {
	case bus.PriceUpdate:
		p.price, p.hasPrice = msg.Price, true
		p.lastCheck = p.opts.Clock.Now()
		p.setStatus("Price updated in background: € " + threshold.FormatAmount(msg.Price, p.opts.Locale))
	case bus.CheckThresholds:
		p.evaluate(ctx, msg.Price)
	default:
		p.logger.Debug().Int("kind", int(msg.Kind)).Msg("ignoring unknown message")
	}
}
