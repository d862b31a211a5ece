// Package schema defines the normalized records the engine derives from venue pushes.
package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountMode selects which of the venue's two ledgers is active.
type AccountMode string

const (
	// ModeDemo trades against the practice ledger.
	ModeDemo AccountMode = "demo"
	// ModeReal trades against the funded ledger.
	ModeReal AccountMode = "real"
)

// Direction is the side of a binary position.
type Direction string

const (
	// DirectionCall bets on the price rising.
	DirectionCall Direction = "call"
	// DirectionPut bets on the price falling.
	DirectionPut Direction = "put"
)

// Balance mirrors the venue's account balance push. Last writer wins; every
// write refreshes UpdatedAt.
type Balance struct {
	Real      decimal.Decimal
	Demo      decimal.Decimal
	Mode      AccountMode
	Currency  string
	UpdatedAt time.Time
}

// Amount returns the balance of the currently active ledger.
func (b Balance) Amount() decimal.Decimal {
	if b.Mode == ModeReal {
		return b.Real
	}
	return b.Demo
}

// Order describes the single in-flight order confirmed by the venue.
type Order struct {
	ID             string
	Asset          string
	Direction      Direction
	Amount         decimal.Decimal
	OpenPrice      decimal.Decimal
	ExpectedPayout decimal.Decimal
	OpenedAt       time.Time
}

// OrderFailure carries the venue's rejection of an order request.
type OrderFailure struct {
	Reason string
	Raw    string
}

// ClosedOrder records the realized profit of a settled order.
type ClosedOrder struct {
	OrderID string
	Profit  decimal.Decimal
}

// Asset describes one tradable instrument from the venue catalog.
type Asset struct {
	Symbol   string
	Name     string
	Payout   int
	Open     bool
	Category string
}

// Quote is one price observation for a pair.
type Quote struct {
	Pair  string
	At    time.Time
	Price decimal.Decimal
}

// Tick is a single traded price inside a history bundle.
type Tick struct {
	At    time.Time
	Price decimal.Decimal
}

// Candle is one OHLC aggregate inside a history bundle.
type Candle struct {
	At    time.Time
	Open  decimal.Decimal
	Close decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
}

// HistoryKey addresses a history bundle by asset and aggregation period.
type HistoryKey struct {
	Asset  string
	Period int
}

// HistoryBundle bundles tick and candle history for one (asset, period).
type HistoryBundle struct {
	Asset   string
	Period  int
	Ticks   []Tick
	Candles []Candle
	Latest  *Candle
}

// Clone returns a deep copy so readers never alias store-owned slices.
func (h HistoryBundle) Clone() HistoryBundle {
	out := HistoryBundle{
		Asset:   h.Asset,
		Period:  h.Period,
		Ticks:   nil,
		Candles: nil,
		Latest:  nil,
	}
	if len(h.Ticks) > 0 {
		out.Ticks = make([]Tick, len(h.Ticks))
		copy(out.Ticks, h.Ticks)
	}
	if len(h.Candles) > 0 {
		out.Candles = make([]Candle, len(h.Candles))
		copy(out.Candles, h.Candles)
	}
	if h.Latest != nil {
		latest := *h.Latest
		out.Latest = &latest
	}
	return out
}
