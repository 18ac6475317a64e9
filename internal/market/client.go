package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

const (
	defaultURL      = "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=eur"
	defaultAsset    = "bitcoin"
	defaultCurrency = "eur"
	maxPayloadBytes = 64 << 10
)

// Sample is one observed price.
type Sample struct {
	Value      decimal.Decimal
	ObservedAt time.Time
}

// PriceFetcher retrieves the current price. Both the page and the worker
// depend on this interface so they share one implementation.
type PriceFetcher interface {
	FetchPrice(ctx context.Context) (Sample, error)
}

// Options parameterise the price client.
type Options struct {
	URL               string
	Asset             string
	Currency          string
	Timeout           time.Duration
	UserAgent         string
	RequestsPerMinute int
	Burst             int
	Now               func() time.Time
}

// Client fetches a single asset/currency pair from a CoinGecko-style endpoint.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// NewClient constructs a price client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if strings.TrimSpace(opts.URL) == "" {
		opts.URL = defaultURL
	}
	if opts.Asset == "" {
		opts.Asset = defaultAsset
	}
	if opts.Currency == "" {
		opts.Currency = defaultCurrency
	}

	limit := rate.Inf
	if opts.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(opts.RequestsPerMinute) / 60.0)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		opts:   opts,
		logger: logger.With().Str("component", "price_client").Logger(),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(limit, burst),
		now:     now,
	}
}

// FetchPrice issues exactly one GET and parses the configured asset/currency
// field. Errors are always *FetchError.
func (c *Client) FetchPrice(ctx context.Context) (sample Sample, err error) {
	ctx, span := otel.Tracer("btcalert/market").Start(ctx, "market.FetchPrice")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("price", sample.Value.String()))
		}
		span.End()
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return Sample{}, &FetchError{Kind: NetworkError, Err: fmt.Errorf("rate limit wait: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.URL, nil)
	if err != nil {
		return Sample{}, &FetchError{Kind: NetworkError, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Sample{}, &FetchError{Kind: NetworkError, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return Sample{}, &FetchError{Kind: NetworkError, Err: fmt.Errorf("read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Sample{}, &FetchError{Kind: HTTPStatus, Status: resp.StatusCode}
	}

	value, err := ParsePrice(body, c.opts.Asset, c.opts.Currency)
	if err != nil {
		return Sample{}, err
	}

	sample = Sample{Value: value, ObservedAt: c.now()}
	c.logger.Debug().Str("price", value.String()).Msg("price fetched")
	return sample, nil
}

// ParsePrice extracts payload[asset][currency] and requires a JSON number.
func ParsePrice(payload []byte, asset, currency string) (decimal.Decimal, error) {
	var doc map[string]map[string]json.RawMessage
	if err := json.Unmarshal(payload, &doc); err != nil {
		return decimal.Decimal{}, &FetchError{Kind: MalformedPayload, Err: err, Payload: snippet(payload)}
	}

	raw, ok := doc[asset][currency]
	if !ok {
		return decimal.Decimal{}, &FetchError{
			Kind:    MalformedPayload,
			Err:     fmt.Errorf("missing %s.%s", asset, currency),
			Payload: snippet(payload),
		}
	}

	text := strings.TrimSpace(string(raw))
	if !looksNumeric(text) {
		return decimal.Decimal{}, &FetchError{
			Kind:    MalformedPayload,
			Err:     fmt.Errorf("%s.%s is not a number: %s", asset, currency, text),
			Payload: snippet(payload),
		}
	}

	value, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Decimal{}, &FetchError{Kind: MalformedPayload, Err: err, Payload: snippet(payload)}
	}
	return value, nil
}

func looksNumeric(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	return c == '-' || (c >= '0' && c <= '9')
}

func snippet(payload []byte) string {
	const max = 256
	s := strings.TrimSpace(string(payload))
	if len(s) > max {
		return s[:max] + "…"
	}
	return s
}

// IsNetwork reports whether err is a transport-level fetch failure.
func IsNetwork(err error) bool {
	return errors.Is(err, ErrNetwork)
}

var _ PriceFetcher = (*Client)(nil)
