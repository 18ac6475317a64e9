package app

import (
	"context"
	"fmt"
	"io"

	"github.com/shopspring/decimal"

	"btcalert/internal/storage"
	"btcalert/internal/threshold"
)

// SimulateAlert evaluates price against the saved band and sends the alert
// through the configured surface, asking for permission if needed.
func (a *App) SimulateAlert(ctx context.Context, price decimal.Decimal, out io.Writer) error {
	if !price.IsPositive() {
		return fmt.Errorf("price must be greater than 0")
	}

	backend, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	settings := storage.NewSettings(backend)
	cfg, ok, err := settings.LoadThresholds(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoThresholds
	}

	dispatcher := a.newDispatcher(settings, nil)
	if _, err := dispatcher.EnsurePermission(ctx); err != nil {
		return err
	}

	ev, sent, err := dispatcher.Check(ctx, price, cfg)
	if err != nil {
		return err
	}
	if !sent {
		fmt.Fprintf(out, "€ %s is within the band; no alert\n", threshold.FormatAmount(price, a.Config.Notify.Locale))
		return nil
	}
	payload := threshold.Render(ev, threshold.Style{Locale: a.Config.Notify.Locale})
	fmt.Fprintf(out, "sent %q: %s\n", payload.Title, payload.Body)
	return nil
}
