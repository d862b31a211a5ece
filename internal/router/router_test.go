package router

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quantfeed/venuelink/internal/schema"
	"github.com/quantfeed/venuelink/internal/state"
)

func newFixture() (*Router, *state.Store) {
	store := state.New(16, 16)
	return New(store), store
}

func TestRouteBalanceObject(t *testing.T) {
	router, store := newFixture()

	err := router.Route(TypeBalanceUpdated, []byte(`{"balance":100.5,"isDemo":1,"currency":"USD"}`))
	require.NoError(t, err)

	balance, ok := store.Balance()
	require.True(t, ok)
	require.True(t, balance.Demo.Equal(decimal.NewFromFloat(100.5)))
	require.Equal(t, schema.ModeDemo, balance.Mode)
	require.Equal(t, "USD", balance.Currency)
	require.False(t, balance.UpdatedAt.IsZero())
}

func TestRouteBalanceListCoversBothLedgers(t *testing.T) {
	router, store := newFixture()

	err := router.Route(TypeBalanceList, []byte(`[{"balance":1000,"isDemo":1},{"balance":25.5,"isDemo":0,"currency":"EUR"}]`))
	require.NoError(t, err)

	balance, ok := store.Balance()
	require.True(t, ok)
	require.True(t, balance.Demo.Equal(decimal.NewFromInt(1000)))
	require.True(t, balance.Real.Equal(decimal.NewFromFloat(25.5)))
	require.Equal(t, "EUR", balance.Currency)
}

func TestRouteOrderOpenedClearsFailure(t *testing.T) {
	router, store := newFixture()
	store.SetOrderFailure(schema.OrderFailure{Reason: "stale"})

	err := router.Route(TypeOrderOpened, []byte(`{"id":987654,"asset":"EURUSD","command":"put","amount":10,"openPrice":1.0915,"percentProfit":82,"openTimestamp":1700000000}`))
	require.NoError(t, err)

	order, ok := store.Order()
	require.True(t, ok)
	require.Equal(t, "987654", order.ID)
	require.Equal(t, "EURUSD", order.Asset)
	require.Equal(t, schema.DirectionPut, order.Direction)
	require.True(t, order.OpenPrice.Equal(decimal.NewFromFloat(1.0915)))
	require.True(t, order.ExpectedPayout.Equal(decimal.NewFromInt(82)))

	_, failed := store.OrderFailure()
	require.False(t, failed, "order confirmation must clear the failure slot")
}

func TestRouteOrderFailedClassifiesReason(t *testing.T) {
	router, store := newFixture()
	store.SetOrder(schema.Order{ID: "stale"})

	err := router.Route(TypeOrderFailed, []byte(`"Not enough money to open the deal"`))
	require.NoError(t, err)

	failure, ok := store.OrderFailure()
	require.True(t, ok)
	require.Equal(t, "insufficient_balance", failure.Reason)
	require.Equal(t, "Not enough money to open the deal", failure.Raw)

	_, opened := store.Order()
	require.False(t, opened, "order failure must clear the order slot")
}

func TestRouteClosedDealsBareArray(t *testing.T) {
	router, store := newFixture()

	err := router.Route(TypeOrdersClosed, []byte(`[{"id":1,"profit":80},{"id":2,"profit":-10}]`))
	require.NoError(t, err)

	profit, ok := store.ClosedProfit("1")
	require.True(t, ok)
	require.True(t, profit.Equal(decimal.NewFromInt(80)))
	profit, ok = store.ClosedProfit("2")
	require.True(t, ok)
	require.True(t, profit.Equal(decimal.NewFromInt(-10)))
}

func TestRouteClosedDealsWrappedObject(t *testing.T) {
	router, store := newFixture()

	err := router.Route(TypeOrdersClosed, []byte(`{"profit":70,"deals":[{"id":"3","profit":70}]}`))
	require.NoError(t, err)

	profit, ok := store.ClosedProfit("3")
	require.True(t, ok)
	require.True(t, profit.Equal(decimal.NewFromInt(70)))
}

func TestRouteClosedDealsDuplicateKeepsFirst(t *testing.T) {
	router, store := newFixture()

	require.NoError(t, router.Route(TypeOrdersClosed, []byte(`[{"id":9,"profit":42}]`)))
	require.NoError(t, router.Route(TypeOrdersClosed, []byte(`[{"id":9,"profit":-5}]`)))

	profit, ok := store.ClosedProfit("9")
	require.True(t, ok)
	require.True(t, profit.Equal(decimal.NewFromInt(42)))
}

func TestRouteAssetsSkipsMalformedRows(t *testing.T) {
	router, store := newFixture()

	payload := `[
		["EURUSD","Euro / US Dollar",85,1,"currency"],
		["no-payout-field"],
		["GBPUSD","Pound / US Dollar",80,0],
		12345,
		["BTCUSD","Bitcoin",90]
	]`
	err := router.Route(TypeAssetsUpdated, []byte(payload))
	require.NoError(t, err)

	assets := store.Assets()
	require.Len(t, assets, 3, "corrupt rows are skipped, valid rows kept")
	require.Equal(t, "EURUSD", assets[0].Symbol)
	require.Equal(t, 85, assets[0].Payout)
	require.True(t, assets[0].Open)
	require.Equal(t, "currency", assets[0].Category)
	require.False(t, assets[1].Open, "explicit closed flag honoured")
	require.True(t, assets[2].Open, "missing open flag defaults to tradable")
}

func TestRouteAssetsReplacesWholesale(t *testing.T) {
	router, store := newFixture()

	require.NoError(t, router.Route(TypeAssetsUpdated, []byte(`[["EURUSD","Euro",85]]`)))
	require.NoError(t, router.Route(TypeAssetsUpdated, []byte(`[["GBPUSD","Pound",80]]`)))

	assets := store.Assets()
	require.Len(t, assets, 1)
	require.Equal(t, "GBPUSD", assets[0].Symbol)
}

func TestRouteQuotesUpdatesLatestAndRing(t *testing.T) {
	router, store := newFixture()

	err := router.Route(TypeQuotesUpdated, []byte(`[["EURUSD",1700000000,1.0921],["GBPUSD",1700000000.5,1.2701,"extra"],["ragged"]]`))
	require.NoError(t, err)

	quote, ok := store.LatestQuote("EURUSD")
	require.True(t, ok)
	require.True(t, quote.Price.Equal(decimal.NewFromFloat(1.0921)))
	require.Equal(t, int64(1700000000), quote.At.Unix())

	_, ok = store.LatestQuote("GBPUSD")
	require.True(t, ok, "extra trailing fields must not break the row")

	require.Len(t, store.QuoteHistory(), 2, "ragged rows skipped, valid rows appended")
}

func TestRouteHistoryBuildsBundle(t *testing.T) {
	router, store := newFixture()

	payload := `{
		"asset":"EURUSD","period":60,
		"history":[[1700000000,1.09],[1700000001,1.091],["bad"]],
		"candles":[[1699999940,1.088,1.09,1.091,1.087],[1700000000,1.09,1.092,1.093,1.089],[1,2]]
	}`
	err := router.Route(TypeHistoryLoaded, []byte(payload))
	require.NoError(t, err)

	bundle, ok := store.History("EURUSD", 60)
	require.True(t, ok)
	require.Len(t, bundle.Ticks, 2)
	require.Len(t, bundle.Candles, 2)
	require.NotNil(t, bundle.Latest)
	require.True(t, bundle.Latest.Close.Equal(decimal.NewFromFloat(1.092)))
}

func TestRouteHistoryReplacesPriorBundle(t *testing.T) {
	router, store := newFixture()

	require.NoError(t, router.Route(TypeHistoryLoaded, []byte(`{"asset":"EURUSD","period":60,"history":[[1,1.0]],"candles":[]}`)))
	require.NoError(t, router.Route(TypeHistoryStream, []byte(`{"asset":"EURUSD","period":60,"history":[[2,1.1],[3,1.2]],"candles":[]}`)))

	bundle, ok := store.History("EURUSD", 60)
	require.True(t, ok)
	require.Len(t, bundle.Ticks, 2, "whole-bundle replace, not merge")
}

func TestRouteUnknownTypeIgnored(t *testing.T) {
	router, _ := newFixture()
	require.NoError(t, router.Route("somethingNew", []byte(`{"v":1}`)))
}

func TestRouteMalformedMessageReturnsTypedError(t *testing.T) {
	router, store := newFixture()

	err := router.Route(TypeQuotesUpdated, []byte(`{not json`))
	require.Error(t, err)

	// Subsequent routing keeps working.
	require.NoError(t, router.Route(TypeQuotesUpdated, []byte(`[["EURUSD",1700000000,1.1]]`)))
	_, ok := store.LatestQuote("EURUSD")
	require.True(t, ok)
}
