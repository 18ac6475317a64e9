package notify

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-isatty"
)

// Prompter asks the user for notification permission.
type Prompter interface {
	Prompt(ctx context.Context) (Permission, error)
}

// AutoGrantPrompter grants without asking; for headless deployments where
// enabling alerts in the UI is consent enough.
type AutoGrantPrompter struct{}

func (AutoGrantPrompter) Prompt(context.Context) (Permission, error) { return Granted, nil }

// DenyPrompter refuses every request.
type DenyPrompter struct{}

func (DenyPrompter) Prompt(context.Context) (Permission, error) { return Denied, nil }

// TerminalPrompter asks on a terminal. Without a terminal the prompt is
// treated as dismissed and the state stays Default. One reader goroutine
// serves every prompt, so a cancelled prompt leaves nothing behind.
type TerminalPrompter struct {
	In  io.Reader
	Out io.Writer

	once      sync.Once
	lines     chan string
	abandoned atomic.Bool
}

// NewTerminalPrompter prompts on stdin/stdout.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stdout}
}

func (p *TerminalPrompter) Prompt(ctx context.Context) (Permission, error) {
	if f, ok := p.In.(*os.File); ok && !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return Default, nil
	}
	p.once.Do(p.startReader)

	// Input typed after an earlier prompt was abandoned is not an answer.
	for drained := !p.abandoned.Swap(false); !drained; {
		select {
		case _, ok := <-p.lines:
			if !ok {
				return Default, nil
			}
		default:
			drained = true
		}
	}

	fmt.Fprint(p.Out, "Allow price alert notifications? [y/N] ")

	select {
	case <-ctx.Done():
		p.abandoned.Store(true)
		return Default, ctx.Err()
	case line, ok := <-p.lines:
		if !ok {
			return Default, nil
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return Granted, nil
		case "n", "no":
			return Denied, nil
		default:
			return Default, nil
		}
	}
}

func (p *TerminalPrompter) startReader() {
	p.lines = make(chan string)
	go func() {
		defer close(p.lines)
		r := bufio.NewReader(p.In)
		for {
			line, err := r.ReadString('\n')
			if line != "" {
				p.lines <- line
			}
			if err != nil {
				return
			}
		}
	}()
}

// PrompterFor maps the notify.prompt setting to a Prompter.
func PrompterFor(mode string) Prompter {
	switch strings.ToLower(mode) {
	case "auto-grant":
		return AutoGrantPrompter{}
	case "terminal":
		return NewTerminalPrompter()
	default:
		return DenyPrompter{}
	}
}
