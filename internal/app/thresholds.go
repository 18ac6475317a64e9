package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"btcalert/internal/storage"
	"btcalert/internal/threshold"
)

// ErrNoThresholds is returned when a command needs a saved band and none
// exists yet.
var ErrNoThresholds = errors.New("no thresholds saved; run `btcalert thresholds set` first")

// SetThresholds validates and persists a band.
func (a *App) SetThresholds(ctx context.Context, cfg threshold.Config, out io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	backend, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := storage.NewSettings(backend).SaveThresholds(ctx, cfg); err != nil {
		return fmt.Errorf("save thresholds: %w", err)
	}
	locale := a.Config.Notify.Locale
	fmt.Fprintf(out, "Limits saved: below € %s, above € %s\n",
		threshold.FormatAmount(cfg.Below, locale), threshold.FormatAmount(cfg.Above, locale))
	return nil
}

// ShowThresholds prints the saved band.
func (a *App) ShowThresholds(ctx context.Context, out io.Writer) error {
	backend, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	cfg, ok, err := storage.NewSettings(backend).LoadThresholds(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoThresholds
	}
	fmt.Fprintf(out, "below: %s\nabove: %s\n", cfg.Below, cfg.Above)
	return nil
}
