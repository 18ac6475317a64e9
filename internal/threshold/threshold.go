// Package threshold decides whether a price breaches the user's floor or
// ceiling. It holds no state and is shared by the page and worker contexts.
package threshold

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Kind identifies which side of the band was crossed.
type Kind int

const (
	BelowThreshold Kind = iota + 1
	AboveThreshold
)

func (k Kind) String() string {
	switch k {
	case BelowThreshold:
		return "below"
	case AboveThreshold:
		return "above"
	default:
		return "none"
	}
}

// Config is the user's alert band.
type Config struct {
	Below decimal.Decimal
	Above decimal.Decimal
}

// ErrInvalidConfig is returned when either bound is missing or zero.
var ErrInvalidConfig = errors.New("enter valid values for both thresholds")

// Validate rejects zero or negative bounds; both are always set together.
func (c Config) Validate() error {
	if c.Below.Sign() <= 0 || c.Above.Sign() <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// Event is a single breach to be notified.
type Event struct {
	Kind      Kind
	Price     decimal.Decimal
	Threshold decimal.Decimal
}

// Evaluate returns at most one event. Comparisons are strict, and the floor
// wins when the band is inverted.
func Evaluate(price decimal.Decimal, cfg Config) (Event, bool) {
	if price.LessThan(cfg.Below) {
		return Event{Kind: BelowThreshold, Price: price, Threshold: cfg.Below}, true
	}
	if price.GreaterThan(cfg.Above) {
		return Event{Kind: AboveThreshold, Price: price, Threshold: cfg.Above}, true
	}
	return Event{}, false
}
