package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"btcalert/internal/bus"
	"btcalert/internal/storage"
	"btcalert/internal/threshold"
)

// CacheInstall runs the worker's install and activate steps once without
// starting the service.
func (a *App) CacheInstall(ctx context.Context, out io.Writer) error {
	backend, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	settings := storage.NewSettings(backend)
	w := a.newWorker(backend, settings, a.newFetcher(), a.newDispatcher(settings, nil), bus.New(a.Logger))
	if err := w.Install(ctx); err != nil {
		return err
	}
	evicted, err := w.Activate(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "installed %d assets into %s\n", len(a.Config.Worker.ShellAssets), a.Config.Worker.CacheName)
	if len(evicted) > 0 {
		fmt.Fprintf(out, "evicted: %s\n", strings.Join(evicted, ", "))
	}
	return nil
}

// CacheList prints every cached asset.
func (a *App) CacheList(ctx context.Context, out io.Writer) error {
	backend, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	names, err := backend.CacheNames(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintln(out, "no caches found")
		return nil
	}

	var rows [][]string
	for _, name := range names {
		entries, err := backend.ListEntries(ctx, name)
		if err != nil {
			return err
		}
		for _, e := range entries {
			rows = append(rows, []string{
				name,
				e.Path,
				e.ContentType,
				threshold.FormatAmount(decimal.NewFromInt(int64(len(e.Body))), "en"),
				e.StoredAt.Local().Format("2006-01-02 15:04:05"),
			})
		}
	}

	fmt.Fprintln(out, renderTable(
		[]string{"Cache", "Path", "Type", "Bytes", "Stored"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
	return nil
}
