package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"btcalert/internal/config"
	"btcalert/internal/threshold"
)

func newTestApp(t *testing.T, priceURL string) *App {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.DataDir = t.TempDir()
	cfg.Notify.Surface = "log"
	cfg.Notify.Prompt = "auto-grant"
	cfg.Platform.Profile = "standard"
	if priceURL != "" {
		cfg.Price.URL = priceURL
	}
	return NewApp(cfg, zerolog.Nop())
}

func priceServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func mustDecimal(t *testing.T, v string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(v)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestSetAndShowThresholds(t *testing.T) {
	a := newTestApp(t, "")
	ctx := context.Background()

	var out bytes.Buffer
	cfg := threshold.Config{Below: mustDecimal(t, "50000"), Above: mustDecimal(t, "70000")}
	if err := a.SetThresholds(ctx, cfg, &out); err != nil {
		t.Fatalf("set thresholds: %v", err)
	}
	if got := out.String(); got != "Limits saved: below € 50.000, above € 70.000\n" {
		t.Fatalf("unexpected output %q", got)
	}

	out.Reset()
	if err := a.ShowThresholds(ctx, &out); err != nil {
		t.Fatalf("show thresholds: %v", err)
	}
	if got := out.String(); got != "below: 50000\nabove: 70000\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestSetThresholdsRejectsZero(t *testing.T) {
	a := newTestApp(t, "")
	cfg := threshold.Config{Below: decimal.Zero, Above: mustDecimal(t, "70000")}
	err := a.SetThresholds(context.Background(), cfg, &bytes.Buffer{})
	if !errors.Is(err, threshold.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if err := a.ShowThresholds(context.Background(), &bytes.Buffer{}); !errors.Is(err, ErrNoThresholds) {
		t.Fatalf("nothing should be saved, got %v", err)
	}
}

func TestTestFetchRecordsSample(t *testing.T) {
	srv := priceServer(t, `{"bitcoin":{"eur":61234}}`)
	a := newTestApp(t, srv.URL)
	ctx := context.Background()

	var out bytes.Buffer
	if err := a.TestFetch(ctx, &out); err != nil {
		t.Fatalf("test fetch: %v", err)
	}
	if got := out.String(); got != "Price updated: € 61.234\n" {
		t.Fatalf("unexpected output %q", got)
	}

	out.Reset()
	if err := a.Status(ctx, &out); err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"€ 61.234", "standard", "not set", "not asked"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("status missing %q:\n%s", want, out.String())
		}
	}
}

func TestTestFetchMalformedPayload(t *testing.T) {
	srv := priceServer(t, `{"bitcoin":{}}`)
	a := newTestApp(t, srv.URL)

	var out bytes.Buffer
	if err := a.TestFetch(context.Background(), &out); err == nil {
		t.Fatal("expected error for malformed payload")
	}
	if !strings.HasPrefix(out.String(), "Price check failed:") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestSimulateAlert(t *testing.T) {
	a := newTestApp(t, "")
	ctx := context.Background()

	cfg := threshold.Config{Below: mustDecimal(t, "50000"), Above: mustDecimal(t, "70000")}
	if err := a.SetThresholds(ctx, cfg, &bytes.Buffer{}); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := a.SimulateAlert(ctx, mustDecimal(t, "45000"), &out); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	want := `sent "BTC below target": Bitcoin fell to € 45.000, below € 50.000.` + "\n"
	if out.String() != want {
		t.Fatalf("unexpected output %q", out.String())
	}

	out.Reset()
	if err := a.SimulateAlert(ctx, mustDecimal(t, "60000"), &out); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !strings.Contains(out.String(), "within the band") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestSimulateAlertRequiresThresholds(t *testing.T) {
	a := newTestApp(t, "")
	err := a.SimulateAlert(context.Background(), mustDecimal(t, "45000"), &bytes.Buffer{})
	if !errors.Is(err, ErrNoThresholds) {
		t.Fatalf("expected ErrNoThresholds, got %v", err)
	}
}

func TestSimulateAlertDenied(t *testing.T) {
	a := newTestApp(t, "")
	a.Config.Notify.Prompt = "deny"
	ctx := context.Background()

	cfg := threshold.Config{Below: mustDecimal(t, "50000"), Above: mustDecimal(t, "70000")}
	if err := a.SetThresholds(ctx, cfg, &bytes.Buffer{}); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := a.SimulateAlert(ctx, mustDecimal(t, "45000"), &out); err == nil {
		t.Fatal("expected permission error")
	}
	if out.Len() != 0 {
		t.Fatalf("nothing should be printed, got %q", out.String())
	}
}

func TestCacheInstallAndList(t *testing.T) {
	a := newTestApp(t, "")
	ctx := context.Background()

	var out bytes.Buffer
	if err := a.CacheList(ctx, &out); err != nil {
		t.Fatal(err)
	}
	if out.String() != "no caches found\n" {
		t.Fatalf("unexpected output %q", out.String())
	}

	out.Reset()
	if err := a.CacheInstall(ctx, &out); err != nil {
		t.Fatalf("install: %v", err)
	}
	want := fmt.Sprintf("installed %d assets into %s\n", len(a.Config.Worker.ShellAssets), a.Config.Worker.CacheName)
	if out.String() != want {
		t.Fatalf("unexpected output %q", out.String())
	}

	out.Reset()
	if err := a.CacheList(ctx, &out); err != nil {
		t.Fatal(err)
	}
	for _, asset := range a.Config.Worker.ShellAssets {
		if !strings.Contains(out.String(), asset) {
			t.Fatalf("list missing %s:\n%s", asset, out.String())
		}
	}
	if !strings.Contains(out.String(), "application/manifest+json") {
		t.Fatalf("manifest content type missing:\n%s", out.String())
	}
}

func TestRunHeadlessStopsOnCancel(t *testing.T) {
	a := newTestApp(t, "")
	a.Config.Worker.PeriodicInterval = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, RunOptions{Headless: true}) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}
