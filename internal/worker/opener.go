package worker

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/rs/zerolog"
)

// WindowOpener opens a new page at url.
type WindowOpener interface {
	Open(ctx context.Context, url string) error
}

// LogOpener only records the request; used when no open command is set.
type LogOpener struct {
	Logger zerolog.Logger
}

func (o LogOpener) Open(ctx context.Context, url string) error {
	o.Logger.Info().Str("url", url).Msg("open app window")
	return nil
}

// CommandOpener runs Command with the url as its only argument, e.g.
// xdg-open or termux-open-url.
type CommandOpener struct {
	Command string
}

// The child outlives ctx; only its start is bounded by the caller.
func (o CommandOpener) Open(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cmd := exec.Command(o.Command, url)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", o.Command, err)
	}
	go cmd.Wait()
	return nil
}

// OpenerFor returns a CommandOpener for a non-empty command.
func OpenerFor(command string, logger zerolog.Logger) WindowOpener {
	if command == "" {
		return LogOpener{Logger: logger}
	}
	return CommandOpener{Command: command}
}
