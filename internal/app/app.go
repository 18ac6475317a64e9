package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"btcalert/internal/bus"
	"btcalert/internal/config"
	"btcalert/internal/market"
	"btcalert/internal/notify"
	"btcalert/internal/page"
	"btcalert/internal/platform"
	"btcalert/internal/scheduler"
	"btcalert/internal/server"
	"btcalert/internal/storage"
	"btcalert/internal/threshold"
	"btcalert/internal/tracing"
	"btcalert/internal/version"
	"btcalert/internal/webui"
	"btcalert/internal/worker"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// RunOptions configure the long-running service.
type RunOptions struct {
	// Headless runs only the background worker: no page, no HTTP surface.
	Headless bool
}

func (a *App) newFetcher() *market.Client {
	cfg := a.Config.Price
	return market.NewClient(market.Options{
		URL:               cfg.URL,
		Asset:             cfg.Asset,
		Currency:          cfg.Currency,
		Timeout:           cfg.RequestTimeout,
		UserAgent:         version.UserAgent(),
		RequestsPerMinute: cfg.RequestsPerMinute,
		Burst:             cfg.Burst,
	}, a.Logger)
}

// newSurface returns nil when notifications are switched off, which the
// dispatcher treats as an unsupported platform.
func (a *App) newSurface() notify.Surface {
	cfg := a.Config.Notify
	switch strings.ToLower(cfg.Surface) {
	case "ntfy":
		return notify.NewNtfySurface(cfg.Ntfy.Topic, version.UserAgent(), cfg.Timeout, a.Logger)
	case "telegram":
		return notify.NewTelegramSurface(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, cfg.Timeout, a.Logger)
	case "none":
		return nil
	default:
		return notify.NewLogSurface(a.Logger)
	}
}

func (a *App) newDispatcher(settings *storage.Settings, prompter notify.Prompter) *notify.Dispatcher {
	cfg := a.Config.Notify
	if prompter == nil {
		prompter = notify.PrompterFor(cfg.Prompt)
	}
	return notify.NewDispatcher(notify.Options{
		Surface:  a.newSurface(),
		Store:    settings,
		Prompter: prompter,
		Style: threshold.Style{
			Locale: cfg.Locale,
			Icon:   cfg.Icon,
			Badge:  cfg.Badge,
		},
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (storage.Backend, func(), error) {
	backend, err := storage.Open(ctx, a.Config.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	closer := func() {
		if err := backend.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to close storage")
		}
	}
	return backend, closer, nil
}

func (a *App) profile() platform.Profile {
	return platform.Detect(a.Config.Platform.Profile, platform.CurrentEnvironment())
}

func (a *App) intervals() scheduler.Intervals {
	cfg := a.Config.Polling
	return scheduler.Intervals{
		Standard:              cfg.StandardInterval,
		RestrictiveForeground: cfg.RestrictiveForeground,
		RestrictiveBackground: cfg.RestrictiveBackground,
	}
}

func (a *App) appRoot() string {
	return "http://" + a.Config.Server.Listen + "/"
}

func (a *App) newWorker(backend storage.Backend, settings *storage.Settings, fetcher market.PriceFetcher, dispatcher *notify.Dispatcher, b *bus.Bus) *worker.Worker {
	cfg := a.Config.Worker
	assets := webui.Assets(cfg.AssetRoot)
	return worker.New(worker.Options{
		CacheName:        cfg.CacheName,
		ShellAssets:      cfg.ShellAssets,
		Assets:           assets,
		Origin:           http.FileServer(http.FS(assets)),
		Cache:            backend,
		Settings:         settings,
		Fetcher:          fetcher,
		Dispatcher:       dispatcher,
		Bus:              b,
		Opener:           worker.OpenerFor(cfg.OpenCommand, a.Logger),
		AppRoot:          a.appRoot(),
		BackgroundSync:   cfg.BackgroundSync,
		SyncDelay:        cfg.SyncDelay,
		PeriodicInterval: cfg.PeriodicInterval,
	}, a.Logger)
}

// Run executes the long-running service: the worker, one page and the HTTP
// surface, all stopped together on SIGINT/SIGTERM or the first error.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:     a.Config.Tracing.Enabled,
		ServiceName: a.Config.App.Name,
		Stdout:      a.Config.Tracing.Stdout,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			a.Logger.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	backend, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	settings := storage.NewSettings(backend)
	fetcher := a.newFetcher()
	dispatcher := a.newDispatcher(settings, nil)
	b := bus.New(a.Logger)
	w := a.newWorker(backend, settings, fetcher, dispatcher, b)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })

	profile := a.profile()
	if opts.Headless {
		a.Logger.Info().Str("platform", profile.String()).Msg("starting headless worker")
	} else {
		p := page.New(page.Options{
			Profile:    profile,
			Intervals:  a.intervals(),
			Staleness:  a.Config.Polling.Staleness,
			RetryDelay: a.Config.Polling.RetryDelay,
			Locale:     a.Config.Notify.Locale,
			Fetcher:    fetcher,
			Settings:   settings,
			Dispatcher: dispatcher,
			Bus:        b,
			Sync:       w,
			WakeLock:   platform.NewWakeLock(a.Config.Platform.WakeLockPath),
		}, a.Logger)
		srv := server.New(server.Options{
			Listen:      a.Config.Server.Listen,
			CORSOrigins: a.Config.Server.CORSOrigins,
		}, p, w, a.Logger)

		a.Logger.Info().
			Str("platform", profile.String()).
			Str("listen", a.Config.Server.Listen).
			Msg("starting monitor")
		g.Go(func() error { return p.Run(gctx) })
		g.Go(func() error { return srv.ListenAndServe(gctx) })
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("monitor terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitor stopped")
	return nil
}
