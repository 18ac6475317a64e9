package page

import (
	"context"
	"fmt"

	"btcalert/internal/notify"
	"btcalert/internal/threshold"
	"btcalert/internal/visibility"
)

// Status returns the current UI snapshot.
func (p *Page) Status(ctx context.Context) (Status, error) {
	var s Status
	err := p.loop.Call(ctx, func(context.Context) { s = p.snapshot() })
	return s, err
}

// SetThresholds validates and saves a new band without touching polling.
func (p *Page) SetThresholds(ctx context.Context, cfg threshold.Config) (Status, error) {
	var (
		s    Status
		nerr error
	)
	err := p.loop.Call(ctx, func(ctx context.Context) {
		if nerr = p.saveBand(ctx, cfg); nerr == nil {
			p.setStatus("Limits saved.")
		}
		s = p.snapshot()
	})
	if err != nil {
		return s, err
	}
	return s, nerr
}

// MonitorOnly saves the band and starts polling. Alerts still fire if
// permission was granted earlier.
func (p *Page) MonitorOnly(ctx context.Context, cfg threshold.Config) (Status, error) {
	var (
		s    Status
		nerr error
	)
	err := p.loop.Call(ctx, func(ctx context.Context) {
		if nerr = p.saveBand(ctx, cfg); nerr == nil {
			p.startPolling(ctx)
		}
		s = p.snapshot()
	})
	if err != nil {
		return s, err
	}
	return s, nerr
}

// EnableAlerts saves the band, asks for notification permission and starts
// polling once it is granted. The prompt runs off the loop.
func (p *Page) EnableAlerts(ctx context.Context, cfg threshold.Config) (Status, error) {
	var (
		s    Status
		nerr error
	)
	err := p.loop.Call(ctx, func(ctx context.Context) {
		nerr = p.saveBand(ctx, cfg)
		s = p.snapshot()
	})
	if err != nil || nerr != nil {
		if err == nil {
			err = nerr
		}
		return s, err
	}
	if p.opts.Dispatcher == nil {
		return s, notify.ErrUnsupported
	}

	perm, permErr := p.opts.Dispatcher.EnsurePermission(ctx)
	err = p.loop.Call(ctx, func(ctx context.Context) {
		p.permission = perm
		switch {
		case permErr == nil:
			p.startPolling(ctx)
		case notify.IsDenied(permErr):
			p.setStatus("Notification permission denied.")
		default:
			p.setStatus("Notifications unavailable: " + permErr.Error())
		}
		s = p.snapshot()
	})
	if err != nil {
		return s, err
	}
	return s, permErr
}

// StopMonitoring cancels polling. In-flight checks are discarded.
func (p *Page) StopMonitoring(ctx context.Context) (Status, error) {
	var s Status
	err := p.loop.Call(ctx, func(ctx context.Context) {
		p.sched.Stop()
		p.setStatus("Monitoring stopped.")
		s = p.snapshot()
	})
	return s, err
}

// TestFetch runs one price check and waits for its result to be applied.
func (p *Page) TestFetch(ctx context.Context) (Status, error) {
	done := make(chan struct{})
	err := p.loop.Call(ctx, func(loopCtx context.Context) {
		p.setStatus("Testing connection…")
		p.checkNotify(loopCtx, 0, originManual, done)
	})
	if err != nil {
		return Status{}, err
	}
	select {
	case <-done:
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
	return p.Status(ctx)
}

// Signal feeds a visibility signal to the tracker.
func (p *Page) Signal(ctx context.Context, sig visibility.Signal) (Status, error) {
	var s Status
	err := p.loop.Call(ctx, func(ctx context.Context) {
		p.tracker.Signal(ctx, sig)
		s = p.snapshot()
	})
	return s, err
}

func (p *Page) saveBand(ctx context.Context, cfg threshold.Config) error {
	if err := cfg.Validate(); err != nil {
		p.setStatus("Enter valid values for both limits.")
		return err
	}
	if p.opts.Settings != nil {
		if err := p.opts.Settings.SaveThresholds(ctx, cfg); err != nil {
			p.setStatus("Could not save limits.")
			return fmt.Errorf("save thresholds: %w", err)
		}
	}
	p.thresholds, p.hasBand = cfg, true
	return nil
}

func (p *Page) startPolling(ctx context.Context) {
	p.sched.Start(ctx)
	session, _ := p.sched.Session()
	if p.permission == notify.Granted {
		p.setStatus(fmt.Sprintf("Monitoring every %s with alerts on.", session.Interval))
		return
	}
	p.setStatus(fmt.Sprintf("Monitoring every %s (alerts off; enable alerts to get notified).", session.Interval))
}
