// Package router normalizes announced venue payloads into state mutations.
package router

import (
	"math"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/quantfeed/venuelink/errs"
	"github.com/quantfeed/venuelink/internal/numeric"
	"github.com/quantfeed/venuelink/internal/observability"
	"github.com/quantfeed/venuelink/internal/schema"
	"github.com/quantfeed/venuelink/internal/state"
)

// Logical message types announced over the session socket.
const (
	TypeBalanceUpdated = "successupdateBalance"
	TypeBalanceList    = "updateBalances"
	TypeOrderOpened    = "successopenOrder"
	TypeOrderFailed    = "failopenOrder"
	TypeOrdersClosed   = "updateClosedDeals"
	TypeAssetsUpdated  = "updateAssets"
	TypeQuotesUpdated  = "updateQuotes"
	TypeHistoryLoaded  = "loadHistoryPeriod"
	TypeHistoryStream  = "updateHistoryNew"
)

// Router applies announced payloads to the shared state store. Unknown types
// are ignored for forward compatibility; a malformed message yields a typed
// decode error and never halts subsequent routing.
type Router struct {
	store *state.Store
}

// New creates a router writing into the given store.
func New(store *state.Store) *Router {
	return &Router{store: store}
}

// Route dispatches one announced payload by its logical type.
func (r *Router) Route(msgType string, payload []byte) error {
	var err error
	switch msgType {
	case TypeBalanceUpdated, TypeBalanceList:
		err = r.routeBalance(payload)
	case TypeOrderOpened:
		err = r.routeOrderOpened(payload)
	case TypeOrderFailed:
		err = r.routeOrderFailed(payload)
	case TypeOrdersClosed:
		err = r.routeOrdersClosed(payload)
	case TypeAssetsUpdated:
		err = r.routeAssets(payload)
	case TypeQuotesUpdated:
		err = r.routeQuotes(payload)
	case TypeHistoryLoaded, TypeHistoryStream:
		err = r.routeHistory(payload)
	default:
		observability.Log().Debug("ignoring unknown message type",
			observability.F("type", msgType))
		return nil
	}
	if err != nil {
		return errs.New("route/"+msgType, errs.CodeDecode,
			errs.WithMessage("malformed venue message"),
			errs.WithCause(err))
	}
	observability.Telemetry().IncCounter(observability.MetricMessagesRouted, 1, map[string]string{"kind": msgType})
	return nil
}

type balanceWire struct {
	Balance  any    `json:"balance"`
	IsDemo   any    `json:"isDemo"`
	Currency string `json:"currency"`
}

func (r *Router) routeBalance(payload []byte) error {
	// The venue pushes either one balance object or a list of ledger rows.
	rows := make([]balanceWire, 0, 2)
	if len(payload) > 0 && payload[0] == '[' {
		if err := json.Unmarshal(payload, &rows); err != nil {
			return err
		}
	} else {
		var row balanceWire
		if err := json.Unmarshal(payload, &row); err != nil {
			return err
		}
		rows = append(rows, row)
	}

	balance, _ := r.store.Balance()
	for _, row := range rows {
		amount, ok := numeric.FromAny(row.Balance)
		if !ok {
			continue
		}
		demo, _ := numeric.BoolFromAny(row.IsDemo)
		if demo {
			balance.Demo = amount
			balance.Mode = schema.ModeDemo
		} else {
			balance.Real = amount
			balance.Mode = schema.ModeReal
		}
		if row.Currency != "" {
			balance.Currency = row.Currency
		}
	}
	r.store.SetBalance(balance)
	return nil
}

type orderWire struct {
	ID            any    `json:"id"`
	Asset         string `json:"asset"`
	Direction     string `json:"command"`
	Amount        any    `json:"amount"`
	OpenPrice     any    `json:"openPrice"`
	PercentProfit any    `json:"percentProfit"`
	OpenTimestamp any    `json:"openTimestamp"`
}

func (r *Router) routeOrderOpened(payload []byte) error {
	var wire orderWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		return err
	}
	id, _ := numeric.StringFromAny(wire.ID)
	order := schema.Order{
		ID:        id,
		Asset:     wire.Asset,
		Direction: directionFromWire(wire.Direction),
	}
	if amount, ok := numeric.FromAny(wire.Amount); ok {
		order.Amount = amount
	}
	if price, ok := numeric.FromAny(wire.OpenPrice); ok {
		order.OpenPrice = price
	}
	if payout, ok := numeric.FromAny(wire.PercentProfit); ok {
		order.ExpectedPayout = payout
	}
	if ts, ok := numeric.FromAny(wire.OpenTimestamp); ok {
		order.OpenedAt = timeFromSeconds(ts.InexactFloat64())
	}
	r.store.SetOrder(order)
	return nil
}

func (r *Router) routeOrderFailed(payload []byte) error {
	// Failure pushes arrive as a bare string or an {"error": "..."} object.
	raw := string(payload)
	var asString string
	if err := json.Unmarshal(payload, &asString); err == nil {
		raw = asString
	} else {
		var asObject struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(payload, &asObject); err == nil && asObject.Error != "" {
			raw = asObject.Error
		}
	}
	r.store.SetOrderFailure(schema.OrderFailure{
		Reason: string(errs.Classify(raw)),
		Raw:    raw,
	})
	return nil
}

type dealWire struct {
	ID     any `json:"id"`
	Profit any `json:"profit"`
}

type closedDealsWire struct {
	Profit any        `json:"profit"`
	Deals  []dealWire `json:"deals"`
}

func (r *Router) routeOrdersClosed(payload []byte) error {
	// Two wire shapes: a bare deals array, or an object with an aggregate
	// profit plus the deals array. The leading byte tells them apart.
	var deals []dealWire
	if len(payload) > 0 && payload[0] == '[' {
		if err := json.Unmarshal(payload, &deals); err != nil {
			return err
		}
	} else {
		var wrapped closedDealsWire
		if err := json.Unmarshal(payload, &wrapped); err != nil {
			return err
		}
		deals = wrapped.Deals
	}

	for _, deal := range deals {
		id, ok := numeric.StringFromAny(deal.ID)
		if !ok || id == "" {
			continue
		}
		profit, ok := numeric.FromAny(deal.Profit)
		if !ok {
			profit = decimal.Zero
		}
		r.store.AddClosedOrder(schema.ClosedOrder{OrderID: id, Profit: profit})
	}
	return nil
}

func (r *Router) routeAssets(payload []byte) error {
	var rows []json.RawMessage
	if err := json.Unmarshal(payload, &rows); err != nil {
		return err
	}
	assets := make([]schema.Asset, 0, len(rows))
	for _, row := range rows {
		asset, ok := parseAssetRow(row)
		if !ok {
			// One corrupt row must never abort the batch.
			observability.Log().Debug("skipping malformed asset row",
				observability.F("row", string(row)))
			continue
		}
		assets = append(assets, asset)
	}
	r.store.ReplaceAssets(assets)
	return nil
}

// parseAssetRow decodes one positional asset row:
// [symbol, name, payout, open?, category?, ...]. The first three fields are
// required, trailing fields optional. The layout is inferred from observed
// pushes and treated as fragile; it must stay isolated behind this boundary.
func parseAssetRow(row json.RawMessage) (schema.Asset, bool) {
	var fields []any
	if err := json.Unmarshal(row, &fields); err != nil {
		return schema.Asset{}, false
	}
	if len(fields) < 3 {
		return schema.Asset{}, false
	}
	symbol, ok := numeric.StringFromAny(fields[0])
	if !ok || symbol == "" {
		return schema.Asset{}, false
	}
	name, ok := numeric.StringFromAny(fields[1])
	if !ok {
		return schema.Asset{}, false
	}
	payout, ok := numeric.IntFromAny(fields[2])
	if !ok {
		return schema.Asset{}, false
	}
	asset := schema.Asset{Symbol: symbol, Name: name, Payout: int(payout), Open: true}
	if len(fields) > 3 {
		if open, ok := numeric.BoolFromAny(fields[3]); ok {
			asset.Open = open
		}
	}
	if len(fields) > 4 {
		if category, ok := numeric.StringFromAny(fields[4]); ok {
			asset.Category = category
		}
	}
	return asset, true
}

func (r *Router) routeQuotes(payload []byte) error {
	var rows [][]any
	if err := json.Unmarshal(payload, &rows); err != nil {
		return err
	}
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		pair, ok := numeric.StringFromAny(row[0])
		if !ok || pair == "" {
			continue
		}
		ts, ok := numeric.FromAny(row[1])
		if !ok {
			continue
		}
		price, ok := numeric.FromAny(row[2])
		if !ok {
			continue
		}
		r.store.ApplyQuote(schema.Quote{
			Pair:  pair,
			At:    timeFromSeconds(ts.InexactFloat64()),
			Price: price,
		})
	}
	return nil
}

type historyWire struct {
	Asset   string  `json:"asset"`
	Period  any     `json:"period"`
	History [][]any `json:"history"`
	Candles [][]any `json:"candles"`
}

func (r *Router) routeHistory(payload []byte) error {
	var wire historyWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		return err
	}
	period, _ := numeric.IntFromAny(wire.Period)
	bundle := schema.HistoryBundle{
		Asset:   wire.Asset,
		Period:  int(period),
		Ticks:   nil,
		Candles: nil,
		Latest:  nil,
	}

	// Tick and candle arrays are parsed independently: one being ragged must
	// not discard the other.
	for _, row := range wire.History {
		if len(row) < 2 {
			continue
		}
		ts, tsOK := numeric.FromAny(row[0])
		price, priceOK := numeric.FromAny(row[1])
		if !tsOK || !priceOK {
			continue
		}
		bundle.Ticks = append(bundle.Ticks, schema.Tick{
			At:    timeFromSeconds(ts.InexactFloat64()),
			Price: price,
		})
	}
	for _, row := range wire.Candles {
		candle, ok := parseCandleRow(row)
		if !ok {
			continue
		}
		bundle.Candles = append(bundle.Candles, candle)
	}
	if n := len(bundle.Candles); n > 0 {
		latest := bundle.Candles[n-1]
		bundle.Latest = &latest
	}
	r.store.PutHistory(bundle)
	return nil
}

// parseCandleRow decodes one positional candle row: [ts, open, close, high, low].
func parseCandleRow(row []any) (schema.Candle, bool) {
	if len(row) < 5 {
		return schema.Candle{}, false
	}
	values := make([]decimal.Decimal, 0, 5)
	for i := 0; i < 5; i++ {
		v, ok := numeric.FromAny(row[i])
		if !ok {
			return schema.Candle{}, false
		}
		values = append(values, v)
	}
	return schema.Candle{
		At:    timeFromSeconds(values[0].InexactFloat64()),
		Open:  values[1],
		Close: values[2],
		High:  values[3],
		Low:   values[4],
	}, true
}

func directionFromWire(command string) schema.Direction {
	if command == "put" || command == "1" {
		return schema.DirectionPut
	}
	return schema.DirectionCall
}

// timeFromSeconds converts a venue epoch (possibly fractional seconds) to UTC.
func timeFromSeconds(seconds float64) time.Time {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return time.Time{}
	}
	sec, frac := math.Modf(seconds)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
}
