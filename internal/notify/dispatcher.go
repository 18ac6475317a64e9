// Package notify owns notification permission and delivery. Delivery goes
// through a Surface (ntfy, Telegram, or the log); permission follows the
// browser model: prompt only from "default", never re-prompt once denied.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"btcalert/internal/threshold"
)

// Permission mirrors the three notification permission states.
type Permission string

const (
	Granted Permission = "granted"
	Denied  Permission = "denied"
	Default Permission = "default"
)

// PermissionKind classifies permission failures.
type PermissionKind int

const (
	PermissionUnsupported PermissionKind = iota + 1
	PermissionDenied
)

// PermissionError is reported by EnsurePermission when alerts cannot be shown.
type PermissionError struct {
	Kind PermissionKind
}

func (e *PermissionError) Error() string {
	switch e.Kind {
	case PermissionUnsupported:
		return "notifications not supported"
	case PermissionDenied:
		return "notification permission denied"
	default:
		return "notification permission error"
	}
}

var (
	ErrUnsupported = &PermissionError{Kind: PermissionUnsupported}
	ErrDenied      = &PermissionError{Kind: PermissionDenied}
)

// PermissionStore persists the permission decision.
type PermissionStore interface {
	LoadPermission(ctx context.Context) (string, error)
	SavePermission(ctx context.Context, state string) error
}

// Options configure a Dispatcher.
type Options struct {
	Surface  Surface
	Store    PermissionStore
	Prompter Prompter
	Style    threshold.Style
}

// Dispatcher is shared by the page and the worker; its methods are safe for
// concurrent use.
type Dispatcher struct {
	surface  Surface
	store    PermissionStore
	prompter Prompter
	style    threshold.Style
	logger   zerolog.Logger

	// promptMu serializes prompts; mu guards cached and is never held
	// while the user is being asked.
	promptMu sync.Mutex
	mu       sync.Mutex
	cached   Permission
}

// NewDispatcher constructs a dispatcher. A nil Surface means notifications are
// unsupported on this platform.
func NewDispatcher(opts Options, logger zerolog.Logger) *Dispatcher {
	prompter := opts.Prompter
	if prompter == nil {
		prompter = DenyPrompter{}
	}
	return &Dispatcher{
		surface:  opts.Surface,
		store:    opts.Store,
		prompter: prompter,
		style:    opts.Style,
		logger:   logger.With().Str("component", "notify").Logger(),
	}
}

// Supported reports whether a notification surface is registered.
func (d *Dispatcher) Supported() bool {
	return d.surface != nil
}

// Permission returns the current state without prompting.
func (d *Dispatcher) Permission(ctx context.Context) (Permission, error) {
	if d.surface == nil {
		return Denied, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loadLocked(ctx)
}

func (d *Dispatcher) loadLocked(ctx context.Context) (Permission, error) {
	if d.cached != "" {
		return d.cached, nil
	}
	if d.store == nil {
		d.cached = Default
		return d.cached, nil
	}
	raw, err := d.store.LoadPermission(ctx)
	if err != nil {
		return Default, fmt.Errorf("load permission: %w", err)
	}
	switch Permission(raw) {
	case Granted, Denied:
		d.cached = Permission(raw)
	default:
		d.cached = Default
	}
	return d.cached, nil
}

// EnsurePermission prompts only from Default. The returned error is a
// *PermissionError when the result is not Granted.
func (d *Dispatcher) EnsurePermission(ctx context.Context) (Permission, error) {
	if d.surface == nil {
		return Denied, ErrUnsupported
	}

	d.promptMu.Lock()
	defer d.promptMu.Unlock()

	state, err := d.Permission(ctx)
	if err != nil {
		return state, err
	}
	if state == Default {
		answer, err := d.prompter.Prompt(ctx)
		if err != nil {
			return Default, fmt.Errorf("prompt for permission: %w", err)
		}
		state = d.settle(ctx, answer)
		d.logger.Info().Str("permission", string(state)).Msg("permission prompt answered")
	}

	if state != Granted {
		return state, ErrDenied
	}
	return state, nil
}

// settle records answer unless a decision was stored while the prompt was
// open, in which case the stored decision wins.
func (d *Dispatcher) settle(ctx context.Context, answer Permission) Permission {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cached = ""
	current, err := d.loadLocked(ctx)
	if err == nil && current != Default {
		return current
	}
	if answer == Default {
		return Default
	}
	if d.store != nil {
		if err := d.store.SavePermission(ctx, string(answer)); err != nil {
			d.logger.Error().Err(err).Msg("failed to persist permission")
		}
	}
	d.cached = answer
	return answer
}

// Dispatch shows ev if permission is granted. It reports whether a
// notification was sent. Repeated breaches are never deduplicated.
func (d *Dispatcher) Dispatch(ctx context.Context, ev threshold.Event) (bool, error) {
	if d.surface == nil {
		return false, nil
	}
	state, err := d.Permission(ctx)
	if err != nil {
		return false, err
	}
	if state != Granted {
		return false, nil
	}

	payload := threshold.Render(ev, d.style)
	if err := d.surface.Show(ctx, payload); err != nil {
		return false, fmt.Errorf("show notification: %w", err)
	}
	d.logger.Info().Str("kind", ev.Kind.String()).
		Str("price", ev.Price.String()).
		Str("threshold", ev.Threshold.String()).
		Msg("notification dispatched")
	return true, nil
}

// Check evaluates price against cfg and dispatches the resulting event, if
// any. The page and the worker both go through here.
func (d *Dispatcher) Check(ctx context.Context, price decimal.Decimal, cfg threshold.Config) (threshold.Event, bool, error) {
	ev, ok := threshold.Evaluate(price, cfg)
	if !ok {
		return threshold.Event{}, false, nil
	}
	sent, err := d.Dispatch(ctx, ev)
	return ev, sent, err
}

// IsDenied reports whether err means the user refused notifications.
func IsDenied(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe) && pe.Kind == PermissionDenied
}
