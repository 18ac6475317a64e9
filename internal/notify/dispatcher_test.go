package notify

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"btcalert/internal/threshold"
)

type recordingSurface struct {
	mu    sync.Mutex
	shown []threshold.Payload
}

func (r *recordingSurface) Show(ctx context.Context, p threshold.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown = append(r.shown, p)
	return nil
}

func (r *recordingSurface) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.shown)
}

type countingPrompter struct {
	answer Permission
	calls  int
}

func (c *countingPrompter) Prompt(context.Context) (Permission, error) {
	c.calls++
	return c.answer, nil
}

type memPermissions struct{ v string }

func (m *memPermissions) LoadPermission(context.Context) (string, error) { return m.v, nil }
func (m *memPermissions) SavePermission(_ context.Context, s string) error {
	m.v = s
	return nil
}

func belowEvent() threshold.Event {
	return threshold.Event{Kind: threshold.BelowThreshold, Price: decimal.NewFromInt(45000), Threshold: decimal.NewFromInt(50000)}
}

func TestEnsurePermissionPromptsOnlyFromDefault(t *testing.T) {
	store := &memPermissions{}
	prompter := &countingPrompter{answer: Granted}
	d := NewDispatcher(Options{Surface: &recordingSurface{}, Store: store, Prompter: prompter}, zerolog.Nop())

	state, err := d.EnsurePermission(context.Background())
	if err != nil || state != Granted {
		t.Fatalf("first ensure: %s %v", state, err)
	}
	if _, err := d.EnsurePermission(context.Background()); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if prompter.calls != 1 {
		t.Fatalf("prompted %d times, want 1", prompter.calls)
	}
	if store.v != "granted" {
		t.Fatalf("permission not persisted: %q", store.v)
	}
}

func TestEnsurePermissionNeverRepromptsAfterDenial(t *testing.T) {
	store := &memPermissions{v: "denied"}
	prompter := &countingPrompter{answer: Granted}
	d := NewDispatcher(Options{Surface: &recordingSurface{}, Store: store, Prompter: prompter}, zerolog.Nop())

	state, err := d.EnsurePermission(context.Background())
	if state != Denied || !IsDenied(err) {
		t.Fatalf("expected denied, got %s %v", state, err)
	}
	if prompter.calls != 0 {
		t.Fatal("denied permission must not re-prompt")
	}
}

func TestEnsurePermissionDismissedStaysDefault(t *testing.T) {
	prompter := &countingPrompter{answer: Default}
	d := NewDispatcher(Options{Surface: &recordingSurface{}, Store: &memPermissions{}, Prompter: prompter}, zerolog.Nop())

	state, _ := d.EnsurePermission(context.Background())
	if state != Default {
		t.Fatalf("state = %s", state)
	}
	_, _ = d.EnsurePermission(context.Background())
	if prompter.calls != 2 {
		t.Fatalf("dismissed prompt should be asked again, calls=%d", prompter.calls)
	}
}

func TestEnsurePermissionUnsupported(t *testing.T) {
	d := NewDispatcher(Options{}, zerolog.Nop())
	state, err := d.EnsurePermission(context.Background())
	if state != Denied || !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected unsupported, got %s %v", state, err)
	}
}

func TestDispatchRequiresGrant(t *testing.T) {
	surface := &recordingSurface{}
	d := NewDispatcher(Options{Surface: surface, Store: &memPermissions{v: "default"}}, zerolog.Nop())
	sent, err := d.Dispatch(context.Background(), belowEvent())
	if err != nil || sent {
		t.Fatalf("dispatch without grant: sent=%v err=%v", sent, err)
	}
	if surface.count() != 0 {
		t.Fatal("nothing should be shown without permission")
	}
}

func TestDispatchRepeatsWithoutDedup(t *testing.T) {
	surface := &recordingSurface{}
	d := NewDispatcher(Options{
		Surface: surface,
		Store:   &memPermissions{v: "granted"},
		Style:   threshold.Style{Locale: "de", Icon: "icon-192.png", Badge: "icon-192.png"},
	}, zerolog.Nop())

	for i := 0; i < 3; i++ {
		if sent, err := d.Dispatch(context.Background(), belowEvent()); err != nil || !sent {
			t.Fatalf("dispatch %d: sent=%v err=%v", i, sent, err)
		}
	}
	if surface.count() != 3 {
		t.Fatalf("expected 3 notifications, got %d", surface.count())
	}
	body := surface.shown[0].Body
	if !strings.Contains(body, "45.000") || !strings.Contains(body, "50.000") {
		t.Fatalf("body = %q", body)
	}
}

func TestTerminalPrompterParsesAnswers(t *testing.T) {
	cases := map[string]Permission{"y\n": Granted, "yes\n": Granted, "n\n": Denied, "\n": Default}
	for in, want := range cases {
		p := &TerminalPrompter{In: strings.NewReader(in), Out: &strings.Builder{}}
		got, err := p.Prompt(context.Background())
		if err != nil || got != want {
			t.Fatalf("answer %q: got %s err=%v", in, got, err)
		}
	}
}

func TestCheckScenarioBelowTarget(t *testing.T) {
	surface := &recordingSurface{}
	d := NewDispatcher(Options{
		Surface: surface,
		Store:   &memPermissions{v: string(Granted)},
		Style:   threshold.Style{Locale: "de", Icon: "icon-192.png", Badge: "icon-192.png"},
	}, zerolog.Nop())
	cfg := threshold.Config{Below: decimal.NewFromInt(50000), Above: decimal.NewFromInt(70000)}

	ev, sent, err := d.Check(context.Background(), decimal.NewFromInt(45000), cfg)
	if err != nil || !sent {
		t.Fatalf("Check() sent=%v err=%v", sent, err)
	}
	if ev.Kind != threshold.BelowThreshold {
		t.Fatalf("kind = %s", ev.Kind)
	}
	if surface.count() != 1 {
		t.Fatalf("shown = %d, want 1", surface.count())
	}
	body := surface.shown[0].Body
	if !strings.Contains(body, "45.000") || !strings.Contains(body, "50.000") {
		t.Fatalf("body %q lacks grouped amounts", body)
	}

	if _, sent, _ := d.Check(context.Background(), decimal.NewFromInt(60000), cfg); sent {
		t.Fatal("price inside the band should not notify")
	}
}

type blockingPrompter struct {
	asked   chan struct{}
	release chan Permission
}

func (b *blockingPrompter) Prompt(ctx context.Context) (Permission, error) {
	close(b.asked)
	select {
	case answer := <-b.release:
		return answer, nil
	case <-ctx.Done():
		return Default, ctx.Err()
	}
}

func TestDispatchNotBlockedByOpenPrompt(t *testing.T) {
	store := &memPermissions{}
	prompter := &blockingPrompter{asked: make(chan struct{}), release: make(chan Permission)}
	d := NewDispatcher(Options{Surface: &recordingSurface{}, Store: store, Prompter: prompter}, zerolog.Nop())

	result := make(chan Permission, 1)
	go func() {
		state, _ := d.EnsurePermission(context.Background())
		result <- state
	}()
	<-prompter.asked

	done := make(chan bool, 1)
	go func() {
		sent, _ := d.Dispatch(context.Background(), belowEvent())
		done <- sent
	}()
	select {
	case sent := <-done:
		if sent {
			t.Fatal("dispatch should not send while permission is default")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch blocked while the prompt was open")
	}

	prompter.release <- Granted
	if state := <-result; state != Granted {
		t.Fatalf("EnsurePermission() = %s", state)
	}
	if store.v != string(Granted) {
		t.Fatalf("stored permission = %q", store.v)
	}
}

func TestStoredDecisionWinsOverLateAnswer(t *testing.T) {
	store := &memPermissions{}
	prompter := &blockingPrompter{asked: make(chan struct{}), release: make(chan Permission)}
	d := NewDispatcher(Options{Surface: &recordingSurface{}, Store: store, Prompter: prompter}, zerolog.Nop())

	result := make(chan Permission, 1)
	go func() {
		state, _ := d.EnsurePermission(context.Background())
		result <- state
	}()
	<-prompter.asked

	store.v = string(Denied)
	prompter.release <- Granted
	if state := <-result; state != Denied {
		t.Fatalf("EnsurePermission() = %s, want denied", state)
	}
	if store.v != string(Denied) {
		t.Fatalf("stored permission overwritten: %q", store.v)
	}
}

// syncBuffer lets the test read prompt output while Prompt writes it.
type syncBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestTerminalPrompterSurvivesCancelledPrompt(t *testing.T) {
	in, w := io.Pipe()
	defer w.Close()
	out := &syncBuffer{}
	p := &TerminalPrompter{In: in, Out: out}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Prompt(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled prompt error = %v", err)
	}

	result := make(chan Permission, 1)
	go func() {
		got, _ := p.Prompt(context.Background())
		result <- got
	}()
	deadline := time.Now().Add(2 * time.Second)
	for strings.Count(out.String(), "[y/N]") < 2 {
		if time.Now().After(deadline) {
			t.Fatal("second prompt never shown")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := io.WriteString(w, "y\n"); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-result:
		if got != Granted {
			t.Fatalf("second prompt = %s, want granted", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second prompt never received the answer")
	}
}
