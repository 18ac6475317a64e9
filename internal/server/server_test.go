package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"btcalert/internal/notify"
	"btcalert/internal/page"
	"btcalert/internal/threshold"
	"btcalert/internal/visibility"
)

type pageStub struct {
	saved     threshold.Config
	monitored threshold.Config
	stopped   bool
	fetches   int
	signals   []visibility.Signal
	enable    error
}

func (p *pageStub) Status(ctx context.Context) (page.Status, error) {
	return page.Status{Status: "ok", Price: "45000"}, nil
}

func (p *pageStub) SetThresholds(ctx context.Context, cfg threshold.Config) (page.Status, error) {
	if err := cfg.Validate(); err != nil {
		return page.Status{Status: "Enter valid values for both limits."}, err
	}
	p.saved = cfg
	return page.Status{Status: "Limits saved.", Below: cfg.Below.String(), Above: cfg.Above.String()}, nil
}

func (p *pageStub) EnableAlerts(ctx context.Context, cfg threshold.Config) (page.Status, error) {
	return page.Status{Status: "Notification permission denied."}, p.enable
}

func (p *pageStub) MonitorOnly(ctx context.Context, cfg threshold.Config) (page.Status, error) {
	if err := cfg.Validate(); err != nil {
		return page.Status{Status: "Enter valid values for both limits."}, err
	}
	p.monitored = cfg
	return page.Status{Monitoring: true, Status: "Monitoring every 1m0s (alerts off; enable alerts to get notified)."}, nil
}

func (p *pageStub) StopMonitoring(ctx context.Context) (page.Status, error) {
	p.stopped = true
	return page.Status{Status: "Monitoring stopped."}, nil
}

func (p *pageStub) TestFetch(ctx context.Context) (page.Status, error) {
	p.fetches++
	return page.Status{Price: "46000", PriceDisplay: "€ 46.000"}, nil
}

func (p *pageStub) Signal(ctx context.Context, sig visibility.Signal) (page.Status, error) {
	p.signals = append(p.signals, sig)
	return page.Status{Visibility: "background"}, nil
}

type workerStub struct {
	clicks int
	synced []string
}

func (w *workerStub) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("X-Cache", "hit")
	rw.Write([]byte("shell:" + r.URL.Path))
}

func (w *workerStub) NotificationClick(ctx context.Context) error {
	w.clicks++
	return nil
}

func (w *workerStub) TriggerSync(tag string) bool {
	w.synced = append(w.synced, tag)
	return true
}

func newTestServer(p *pageStub, w *workerStub) http.Handler {
	return New(Options{CORSOrigins: []string{"http://localhost:8080"}}, p, w, zerolog.Nop()).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	h := newTestServer(&pageStub{}, &workerStub{})
	rec := do(t, h, http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["price"] != "45000" || body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestPutThresholds(t *testing.T) {
	p := &pageStub{}
	h := newTestServer(p, &workerStub{})

	rec := do(t, h, http.MethodPut, "/api/thresholds", `{"below": 50000, "above": "70000"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d: %s", rec.Code, rec.Body)
	}
	if !p.saved.Below.Equal(decimal.NewFromInt(50000)) || !p.saved.Above.Equal(decimal.NewFromInt(70000)) {
		t.Fatalf("saved = %+v", p.saved)
	}

	rec = do(t, h, http.MethodPut, "/api/thresholds", `{"below": 0, "above": 70000}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("zero bound: status code = %d", rec.Code)
	}

	rec = do(t, h, http.MethodPut, "/api/thresholds", `{"below": "", "above": 70000}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty bound: status code = %d", rec.Code)
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body, err)
	}
	return body
}

func TestMonitorOnlyWithFormValues(t *testing.T) {
	p := &pageStub{}
	h := newTestServer(p, &workerStub{})

	// The UI posts the raw input values, which arrive as JSON strings.
	rec := do(t, h, http.MethodPost, "/api/monitor", `{"below":"50000","above":"70000"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d: %s", rec.Code, rec.Body)
	}
	if body := decodeBody(t, rec); body["monitoring"] != true {
		t.Fatalf("body = %v", body)
	}
	if !p.monitored.Below.Equal(decimal.NewFromInt(50000)) || !p.monitored.Above.Equal(decimal.NewFromInt(70000)) {
		t.Fatalf("monitored = %+v", p.monitored)
	}

	rec = do(t, h, http.MethodPost, "/api/monitor", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing body: status code = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] == nil {
		t.Fatalf("missing body should carry an error: %v", body)
	}
}

func TestStopMonitoring(t *testing.T) {
	p := &pageStub{}
	h := newTestServer(p, &workerStub{})

	rec := do(t, h, http.MethodDelete, "/api/monitor", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	if !p.stopped {
		t.Fatal("page was not asked to stop")
	}
	if body := decodeBody(t, rec); body["status"] != "Monitoring stopped." {
		t.Fatalf("body = %v", body)
	}
}

func TestTestFetchRoute(t *testing.T) {
	p := &pageStub{}
	h := newTestServer(p, &workerStub{})

	rec := do(t, h, http.MethodPost, "/api/test-fetch", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	if p.fetches != 1 {
		t.Fatalf("fetches = %d", p.fetches)
	}
	if body := decodeBody(t, rec); body["price_display"] != "€ 46.000" {
		t.Fatalf("body = %v", body)
	}
}

func TestEnableAlertsDenied(t *testing.T) {
	h := newTestServer(&pageStub{enable: notify.ErrDenied}, &workerStub{})
	rec := do(t, h, http.MethodPost, "/api/alerts/enable", `{"below": 50000, "above": 70000}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status code = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Notification permission denied.") {
		t.Fatalf("body should carry page status: %s", rec.Body)
	}
}

func TestVisibilitySignals(t *testing.T) {
	p := &pageStub{}
	h := newTestServer(p, &workerStub{})

	if rec := do(t, h, http.MethodPost, "/api/visibility", `{"signal":"hidden"}`); rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	if len(p.signals) != 1 || p.signals[0] != visibility.Hidden {
		t.Fatalf("signals = %v", p.signals)
	}
	if rec := do(t, h, http.MethodPost, "/api/visibility", `{"signal":"minimized"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown signal: status code = %d", rec.Code)
	}
}

func TestSyncAndNotificationClick(t *testing.T) {
	w := &workerStub{}
	h := newTestServer(&pageStub{}, w)

	if rec := do(t, h, http.MethodPost, "/api/sync/price-check", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("sync: status code = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/sync/other", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown tag: status code = %d", rec.Code)
	}
	if len(w.synced) != 1 || w.synced[0] != "price-check" {
		t.Fatalf("synced = %v", w.synced)
	}

	if rec := do(t, h, http.MethodPost, "/api/notifications/click", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("click: status code = %d", rec.Code)
	}
	if w.clicks != 1 {
		t.Fatalf("clicks = %d", w.clicks)
	}
}

func TestNonAPIPathsGoThroughWorker(t *testing.T) {
	h := newTestServer(&pageStub{}, &workerStub{})
	rec := do(t, h, http.MethodGet, "/main.js", "")
	if rec.Body.String() != "shell:/main.js" || rec.Header().Get("X-Cache") != "hit" {
		t.Fatalf("body = %q", rec.Body.String())
	}
	rec = do(t, h, http.MethodGet, "/", "")
	if rec.Body.String() != "shell:/" {
		t.Fatalf("root body = %q", rec.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(&pageStub{}, &workerStub{})
	req := httptest.NewRequest(http.MethodOptions, "/api/thresholds", nil)
	req.Header.Set("Origin", "http://localhost:8080")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:8080" {
		t.Fatalf("allow origin = %q", got)
	}
}
