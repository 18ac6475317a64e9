package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"btcalert/internal/notify"
	"btcalert/internal/storage"
	"btcalert/internal/threshold"
	"btcalert/internal/visibility"
)

// Status prints the persisted state and the effective polling policy.
func (a *App) Status(ctx context.Context, out io.Writer) error {
	backend, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	settings := storage.NewSettings(backend)
	profile := a.profile()
	locale := a.Config.Notify.Locale

	interval, _ := a.intervals().For(profile, visibility.Foreground)
	rows := [][]string{
		{"platform", profile.String()},
		{"interval", interval.String()},
		{"surface", a.Config.Notify.Surface},
	}

	cfg, ok, err := settings.LoadThresholds(ctx)
	if err != nil {
		return err
	}
	if ok {
		rows = append(rows,
			[]string{"below", "€ " + threshold.FormatAmount(cfg.Below, locale)},
			[]string{"above", "€ " + threshold.FormatAmount(cfg.Above, locale)},
		)
	} else {
		rows = append(rows, []string{"thresholds", "not set"})
	}

	sample, ok, err := settings.LoadLastSample(ctx)
	if err != nil {
		return err
	}
	if ok {
		rows = append(rows,
			[]string{"last price", "€ " + threshold.FormatAmount(sample.Value, locale)},
			[]string{"last check", sample.ObservedAt.Local().Format(time.RFC3339)},
		)
	} else {
		rows = append(rows, []string{"last price", "never checked"})
	}

	perm, err := a.newDispatcher(settings, nil).Permission(ctx)
	if err != nil {
		return err
	}
	if perm == notify.Default {
		perm = "not asked"
	}
	rows = append(rows, []string{"permission", string(perm)})

	names, err := backend.CacheNames(ctx)
	if err != nil {
		return err
	}
	rows = append(rows, []string{"caches", fmt.Sprintf("%d", len(names))})

	fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignLeft}))
	return nil
}
