// Package eventloop runs one execution context: a single goroutine that drains
// an unbounded queue of typed events and runs each handler to completion before
// taking the next one.
//
// Handlers never run concurrently with each other, so state owned by a loop
// needs no locking as long as it is only touched from handlers. Anything that
// blocks (network calls, timers) must happen elsewhere and Post its result back.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrStopped is returned by Run when it is called on a loop that already ran.
var ErrStopped = errors.New("eventloop: stopped")

// Kind names an event type; handlers are registered per kind.
type Kind string

// Event is a unit of work delivered to a loop.
type Event struct {
	Kind    Kind
	Payload any
	At      time.Time
}

// Handler processes one event.
type Handler func(ctx context.Context, ev Event)

// Poster accepts events for later processing.
type Poster interface {
	Post(ev Event) bool
}

// Loop is a single-threaded, run-to-completion event dispatcher.
type Loop struct {
	name   string
	logger zerolog.Logger

	mu       sync.Mutex
	queue    []Event
	handlers map[Kind]Handler
	wake     chan struct{}
	running  bool
	stopped  bool
}

// New constructs an idle loop.
func New(name string, logger zerolog.Logger) *Loop {
	return &Loop{
		name:     name,
		logger:   logger.With().Str("component", "eventloop").Str("context", name).Logger(),
		handlers: map[Kind]Handler{kindCall: runCall},
		wake:     make(chan struct{}, 1),
	}
}

// Name returns the context name given at construction.
func (l *Loop) Name() string { return l.name }

// Handle registers h for kind, replacing any previous handler.
func (l *Loop) Handle(kind Kind, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[kind] = h
}

// Post enqueues ev. It never blocks and is safe to call from handlers and
// from other goroutines. Events posted after the loop stops are dropped.
func (l *Loop) Post(ev Event) bool {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, ev)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Run drains events until ctx is cancelled. Queued events that have not
// started when ctx ends are discarded.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running || l.stopped {
		l.mu.Unlock()
		return ErrStopped
	}
	l.running = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
	}()

	l.logger.Debug().Msg("event loop started")
	for {
		for {
			ev, ok := l.next()
			if !ok {
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.dispatch(ctx, ev)
		}

		select {
		case <-ctx.Done():
			l.logger.Debug().Msg("event loop stopped")
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *Loop) next() (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return Event{}, false
	}
	ev := l.queue[0]
	l.queue[0] = Event{}
	l.queue = l.queue[1:]
	return ev, true
}

func (l *Loop) dispatch(ctx context.Context, ev Event) {
	l.mu.Lock()
	h, ok := l.handlers[ev.Kind]
	l.mu.Unlock()
	if !ok {
		l.logger.Warn().Str("kind", string(ev.Kind)).Msg("no handler registered; event dropped")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Str("kind", string(ev.Kind)).Str("panic", fmt.Sprint(r)).Msg("handler panicked")
		}
	}()
	h(ctx, ev)
}

// Call posts fn as an event and waits for it to run on the loop, returning
// ctx.Err() if the caller gives up first or the loop is gone.
func (l *Loop) Call(ctx context.Context, fn func(ctx context.Context)) error {
	done := make(chan struct{})
	ok := l.Post(Event{Kind: kindCall, Payload: callPayload{fn: fn, done: done}})
	if !ok {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

const kindCall Kind = "eventloop.call"

type callPayload struct {
	fn   func(ctx context.Context)
	done chan struct{}
}

func runCall(ctx context.Context, ev Event) {
	call, ok := ev.Payload.(callPayload)
	if !ok {
		return
	}
	defer close(call.done)
	call.fn(ctx)
}
