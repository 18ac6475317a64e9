package app

import (
	"context"
	"fmt"
	"io"

	"btcalert/internal/storage"
	"btcalert/internal/threshold"
)

// TestFetch performs one price check and records the sample.
func (a *App) TestFetch(ctx context.Context, out io.Writer) error {
	backend, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sample, err := a.newFetcher().FetchPrice(ctx)
	if err != nil {
		fmt.Fprintf(out, "Price check failed: %v\n", err)
		return err
	}
	if err := storage.NewSettings(backend).SaveLastSample(ctx, sample); err != nil {
		a.Logger.Warn().Err(err).Msg("failed to persist sample")
	}
	fmt.Fprintf(out, "Price updated: € %s\n", threshold.FormatAmount(sample.Value, a.Config.Notify.Locale))
	return nil
}
