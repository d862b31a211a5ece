package state

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfeed/venuelink/internal/schema"
)

func TestQuoteRingEvictsOldestFirst(t *testing.T) {
	const capacity = 8
	store := New(capacity, 16)

	const extra = 5
	for i := 0; i < capacity+extra; i++ {
		store.ApplyQuote(schema.Quote{
			Pair:  "EURUSD",
			At:    time.Unix(int64(i), 0),
			Price: decimal.NewFromInt(int64(i)),
		})
	}

	history := store.QuoteHistory()
	if len(history) != capacity {
		t.Fatalf("history length = %d, want %d", len(history), capacity)
	}
	for i, quote := range history {
		want := int64(extra + i)
		if !quote.Price.Equal(decimal.NewFromInt(want)) {
			t.Fatalf("history[%d].Price = %s, want %d (FIFO order broken)", i, quote.Price, want)
		}
	}
}

func TestLatestQuoteOverwrites(t *testing.T) {
	store := New(4, 16)
	store.ApplyQuote(schema.Quote{Pair: "EURUSD", At: time.Unix(1, 0), Price: decimal.NewFromFloat(1.1)})
	store.ApplyQuote(schema.Quote{Pair: "EURUSD", At: time.Unix(2, 0), Price: decimal.NewFromFloat(1.2)})

	quote, ok := store.LatestQuote("EURUSD")
	if !ok {
		t.Fatal("expected latest quote")
	}
	if !quote.Price.Equal(decimal.NewFromFloat(1.2)) {
		t.Fatalf("latest price = %s, want 1.2", quote.Price)
	}
	if got := store.ServerTime(); !got.Equal(time.Unix(2, 0)) {
		t.Fatalf("server time = %v, want %v", got, time.Unix(2, 0))
	}
}

func TestClosedOrderFirstWriteWins(t *testing.T) {
	store := New(4, 16)
	first := schema.ClosedOrder{OrderID: "ord-1", Profit: decimal.NewFromInt(80)}
	duplicate := schema.ClosedOrder{OrderID: "ord-1", Profit: decimal.NewFromInt(-1)}

	if !store.AddClosedOrder(first) {
		t.Fatal("first close should apply")
	}
	if store.AddClosedOrder(duplicate) {
		t.Fatal("duplicate close must be ignored")
	}

	profit, ok := store.ClosedProfit("ord-1")
	if !ok {
		t.Fatal("expected stored profit")
	}
	if !profit.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("profit = %s, want 80 (duplicate overwrote)", profit)
	}
}

func TestOrderSlotsAreMutuallyExclusive(t *testing.T) {
	store := New(4, 16)

	store.SetOrder(schema.Order{ID: "ord-1", Asset: "EURUSD"})
	store.SetOrderFailure(schema.OrderFailure{Reason: "insufficient_balance"})
	if _, ok := store.Order(); ok {
		t.Fatal("failure must clear the order slot")
	}
	if _, ok := store.OrderFailure(); !ok {
		t.Fatal("expected failure slot populated")
	}

	store.SetOrder(schema.Order{ID: "ord-2", Asset: "EURUSD"})
	if _, ok := store.OrderFailure(); ok {
		t.Fatal("confirmation must clear the failure slot")
	}

	store.ClearOrderState()
	if _, ok := store.Order(); ok {
		t.Fatal("ClearOrderState must empty the order slot")
	}
}

func TestHistoryCacheCapsEntries(t *testing.T) {
	const capacity = 4
	store := New(4, capacity)
	for i := 0; i < capacity+3; i++ {
		store.PutHistory(schema.HistoryBundle{Asset: fmt.Sprintf("ASSET%d", i), Period: 60})
	}
	if got := store.HistoryLen(); got != capacity {
		t.Fatalf("history cache size = %d, want %d", got, capacity)
	}
}

func TestHistoryReturnsDeepCopy(t *testing.T) {
	store := New(4, 16)
	bundle := schema.HistoryBundle{
		Asset:  "EURUSD",
		Period: 60,
		Ticks:  []schema.Tick{{At: time.Unix(1, 0), Price: decimal.NewFromFloat(1.1)}},
		Candles: []schema.Candle{
			{At: time.Unix(0, 0), Open: decimal.NewFromFloat(1.0), Close: decimal.NewFromFloat(1.1)},
		},
	}
	store.PutHistory(bundle)

	got, ok := store.History("EURUSD", 60)
	if !ok {
		t.Fatal("expected stored bundle")
	}
	got.Ticks[0].Price = decimal.NewFromInt(999)

	again, _ := store.History("EURUSD", 60)
	if again.Ticks[0].Price.Equal(decimal.NewFromInt(999)) {
		t.Fatal("reader mutation leaked into the store")
	}
}

func TestResetClearsEverything(t *testing.T) {
	store := New(4, 16)
	store.SetBalance(schema.Balance{Demo: decimal.NewFromInt(100), Mode: schema.ModeDemo})
	store.SetOrder(schema.Order{ID: "ord-1"})
	store.AddClosedOrder(schema.ClosedOrder{OrderID: "ord-1", Profit: decimal.NewFromInt(5)})
	store.ReplaceAssets([]schema.Asset{{Symbol: "EURUSD"}})
	store.ApplyQuote(schema.Quote{Pair: "EURUSD", Price: decimal.NewFromFloat(1.1)})
	store.PutHistory(schema.HistoryBundle{Asset: "EURUSD", Period: 60})

	store.Reset()

	if _, ok := store.Balance(); ok {
		t.Fatal("balance survived reset")
	}
	if _, ok := store.Order(); ok {
		t.Fatal("order survived reset")
	}
	if _, ok := store.ClosedProfit("ord-1"); ok {
		t.Fatal("closed profit survived reset")
	}
	if assets := store.Assets(); assets != nil {
		t.Fatalf("assets survived reset: %v", assets)
	}
	if quotes := store.QuoteHistory(); quotes != nil {
		t.Fatalf("quotes survived reset: %v", quotes)
	}
	if store.HistoryLen() != 0 {
		t.Fatal("history survived reset")
	}
}

func TestListenersFireOnMutation(t *testing.T) {
	store := New(4, 16)
	var balances, orders, closes, quotes, assets, bundles int
	store.SetListeners(Listeners{
		BalanceChanged: func(schema.Balance) { balances++ },
		OrderOpened:    func(schema.Order) { orders++ },
		OrderClosed:    func(schema.ClosedOrder) { closes++ },
		QuoteUpdated:   func(schema.Quote) { quotes++ },
		AssetsUpdated:  func(int) { assets++ },
		HistoryUpdated: func(schema.HistoryKey) { bundles++ },
	})

	store.SetBalance(schema.Balance{Demo: decimal.NewFromInt(1)})
	store.SetOrder(schema.Order{ID: "ord-1"})
	store.AddClosedOrder(schema.ClosedOrder{OrderID: "ord-1"})
	store.AddClosedOrder(schema.ClosedOrder{OrderID: "ord-1"}) // duplicate, no event
	store.ApplyQuote(schema.Quote{Pair: "EURUSD"})
	store.ReplaceAssets([]schema.Asset{{Symbol: "EURUSD"}})
	store.PutHistory(schema.HistoryBundle{Asset: "EURUSD", Period: 60})

	if balances != 1 || orders != 1 || closes != 1 || quotes != 1 || assets != 1 || bundles != 1 {
		t.Fatalf("listener counts = %d/%d/%d/%d/%d/%d, want all 1",
			balances, orders, closes, quotes, assets, bundles)
	}
}
