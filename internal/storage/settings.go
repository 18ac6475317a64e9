package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"btcalert/internal/market"
	"btcalert/internal/threshold"
)

// Settings is the persistence adapter shared by the page and the worker:
// thresholds, the last observed sample, and the notification permission.
type Settings struct {
	kv KV
}

// NewSettings wraps a KV backend.
func NewSettings(kv KV) *Settings {
	return &Settings{kv: kv}
}

// LoadThresholds returns the saved band. ok is false when either key is
// missing or unparsable.
func (s *Settings) LoadThresholds(ctx context.Context) (threshold.Config, bool, error) {
	below, okBelow, err := s.decimal(ctx, KeyBelow)
	if err != nil {
		return threshold.Config{}, false, err
	}
	above, okAbove, err := s.decimal(ctx, KeyAbove)
	if err != nil {
		return threshold.Config{}, false, err
	}
	if !okBelow || !okAbove {
		return threshold.Config{}, false, nil
	}
	return threshold.Config{Below: below, Above: above}, true, nil
}

// SaveThresholds validates cfg and writes both keys or neither.
func (s *Settings) SaveThresholds(ctx context.Context, cfg threshold.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return s.kv.SetMany(ctx, map[string]string{
		KeyBelow: cfg.Below.String(),
		KeyAbove: cfg.Above.String(),
	})
}

// LoadLastSample returns the most recent persisted sample, if any.
func (s *Settings) LoadLastSample(ctx context.Context) (market.Sample, bool, error) {
	price, okPrice, err := s.decimal(ctx, KeyLastPrice)
	if err != nil {
		return market.Sample{}, false, err
	}
	raw, okTS, err := s.kv.Get(ctx, KeyLastTS)
	if err != nil {
		return market.Sample{}, false, err
	}
	if !okPrice || !okTS {
		return market.Sample{}, false, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return market.Sample{}, false, nil
	}
	return market.Sample{Value: price, ObservedAt: time.UnixMilli(ms).UTC()}, true, nil
}

// SaveLastSample overwrites the last sample (last write wins).
func (s *Settings) SaveLastSample(ctx context.Context, sample market.Sample) error {
	return s.kv.SetMany(ctx, map[string]string{
		KeyLastPrice: sample.Value.String(),
		KeyLastTS:    strconv.FormatInt(sample.ObservedAt.UnixMilli(), 10),
	})
}

// LoadPermission returns the stored permission string, or "" when unset.
func (s *Settings) LoadPermission(ctx context.Context) (string, error) {
	v, _, err := s.kv.Get(ctx, KeyPermission)
	return v, err
}

// SavePermission persists the permission decision.
func (s *Settings) SavePermission(ctx context.Context, state string) error {
	return s.kv.SetMany(ctx, map[string]string{KeyPermission: state})
}

func (s *Settings) decimal(ctx context.Context, key string) (decimal.Decimal, bool, error) {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("load %s: %w", key, err)
	}
	if !ok || raw == "" {
		return decimal.Decimal{}, false, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, false, nil
	}
	return v, true, nil
}
