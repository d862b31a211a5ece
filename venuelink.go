// Package venuelink mirrors an authenticated browser session against a
// trading venue over its Engine.IO-style websocket transport. It decodes the
// venue's announce-then-payload framing into a concurrently readable state
// snapshot and exposes a synchronous client surface on top: blocking
// operations send a command and poll the snapshot until the venue's push
// lands or a per-operation deadline elapses.
package venuelink

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/quantfeed/venuelink/config"
	"github.com/quantfeed/venuelink/errs"
	"github.com/quantfeed/venuelink/internal/await"
	"github.com/quantfeed/venuelink/internal/observability"
	"github.com/quantfeed/venuelink/internal/protocol"
	"github.com/quantfeed/venuelink/internal/router"
	"github.com/quantfeed/venuelink/internal/schema"
	"github.com/quantfeed/venuelink/internal/state"
	"github.com/quantfeed/venuelink/internal/transport"
)

// Re-exported record types so callers never import internal packages.
type (
	AccountMode   = schema.AccountMode
	Direction     = schema.Direction
	Balance       = schema.Balance
	Order         = schema.Order
	OrderFailure  = schema.OrderFailure
	ClosedOrder   = schema.ClosedOrder
	Asset         = schema.Asset
	Quote         = schema.Quote
	Tick          = schema.Tick
	Candle        = schema.Candle
	HistoryBundle = schema.HistoryBundle

	// Listeners bundles the change-notification callbacks fired on every
	// state mutation. Callbacks run on the receive goroutine.
	Listeners = state.Listeners
)

const (
	ModeDemo = schema.ModeDemo
	ModeReal = schema.ModeReal

	DirectionCall = schema.DirectionCall
	DirectionPut  = schema.DirectionPut
)

// TradeResult is the settled outcome of one order.
type TradeResult string

const (
	ResultWin  TradeResult = "win"
	ResultLoss TradeResult = "loss"
	ResultDraw TradeResult = "draw"
)

// ConnectResult reports when the session became authenticated and how long
// the handshake took.
type ConnectResult struct {
	ConnectedAt time.Time
	Duration    time.Duration
}

// OrderRequest describes one order to place.
type OrderRequest struct {
	Asset         string
	Direction     Direction
	Amount        decimal.Decimal
	ExpirySeconds int
}

// Outcome is the realized result of a settled order.
type Outcome struct {
	OrderID string
	Result  TradeResult
	Profit  decimal.Decimal
}

// Option adjusts client construction. Used by tests to substitute dialers.
type Option func(*Client)

// WithDialer overrides the session-socket dialer.
func WithDialer(d transport.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithChartDialer overrides the chart-socket dialer.
func WithChartDialer(d transport.Dialer) Option {
	return func(c *Client) { c.chartDialer = d }
}

// Client drives one authenticated venue session. A Client connects once;
// after Disconnect create a fresh Client rather than reusing it. All methods
// are safe for concurrent use. Synchronous operations never panic: internal
// faults surface as errors with code unknown.
type Client struct {
	cfg   config.Settings
	token string

	store   *state.Store
	router  *router.Router
	decoder *protocol.Decoder
	socket  *transport.Socket

	dialer      transport.Dialer
	chartDialer transport.Dialer

	chartMu sync.Mutex
	chart   *transport.ChartSocket

	// orderMu serializes order placement: the venue's order push carries no
	// correlation id, so at most one order may be in flight.
	orderMu sync.Mutex

	errMu   sync.RWMutex
	onError func(error)
}

// New creates a client for the given settings and opaque session token. The
// token is sent to the venue verbatim during the handshake.
func New(cfg config.Settings, token string, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errs.New("client/new", errs.CodeInvalid,
			errs.WithMessage("invalid settings"), errs.WithCause(err))
	}
	if token == "" {
		return nil, errs.New("client/new", errs.CodeInvalid,
			errs.WithMessage("session token must not be empty"))
	}

	c := &Client{cfg: cfg, token: token}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	c.store = state.New(cfg.QuoteHistoryCapacity, cfg.HistoryCacheCapacity)
	c.router = router.New(c.store)

	limiter := rate.NewLimiter(rate.Every(cfg.BootstrapInterval), 1)
	c.decoder = protocol.NewDecoder(token, senderFunc(c.send), c.router, limiter)

	c.socket = transport.NewSocket(transport.Options{
		Endpoint:       cfg.Endpoint,
		Header:         c.headers(),
		Reconnect:      cfg.Reconnect,
		ConnectTimeout: cfg.Timeouts.Connect,
		SendTimeout:    cfg.Timeouts.Send,
		Handler:        c.decoder.HandleFrame,
		OnConnect:      c.decoder.Reset,
		OnError:        c.reportError,
		OnPermanentFailure: func(err error) {
			c.reportError(err)
		},
		Dialer: c.dialer,
	})
	return c, nil
}

// senderFunc adapts a closure to the decoder's outbound interface.
type senderFunc func(ctx context.Context, frame []byte) error

func (f senderFunc) Send(ctx context.Context, frame []byte) error { return f(ctx, frame) }

func (c *Client) send(ctx context.Context, frame []byte) error {
	return c.socket.Send(ctx, frame)
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	if c.cfg.Origin != "" {
		h.Set("Origin", c.cfg.Origin)
	}
	if c.cfg.UserAgent != "" {
		h.Set("User-Agent", c.cfg.UserAgent)
	}
	return h
}

// OnError registers a callback for asynchronous transport and processing
// errors. A nil callback silences reporting.
func (c *Client) OnError(fn func(error)) {
	c.errMu.Lock()
	c.onError = fn
	c.errMu.Unlock()
}

// SetListeners installs change-notification callbacks. Call before Connect.
func (c *Client) SetListeners(listeners Listeners) {
	c.store.SetListeners(listeners)
}

func (c *Client) reportError(err error) {
	if err == nil {
		return
	}
	c.errMu.RLock()
	fn := c.onError
	c.errMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// guard converts a panic escaping an operation into an unknown-code error.
func guard(op string, err *error) {
	if r := recover(); r != nil {
		observability.Log().Error("operation panicked",
			observability.F("op", op), observability.F("panic", fmt.Sprint(r)))
		*err = errs.New(op, errs.CodeUnknown,
			errs.WithMessage(fmt.Sprintf("internal fault: %v", r)))
	}
}

// Connect dials the venue and blocks until the session is authenticated or
// the connect timeout elapses.
func (c *Client) Connect(ctx context.Context) (result ConnectResult, err error) {
	const op = "client/connect"
	defer guard(op, &err)

	start := time.Now()
	if err := c.socket.Start(ctx); err != nil {
		return ConnectResult{}, err
	}

	verdict, waitErr := await.Until(ctx, c.cfg.PollInterval, c.cfg.Timeouts.Connect,
		func() (protocol.State, bool) {
			if c.decoder.AuthError() != "" {
				return protocol.StateFailed, true
			}
			s := c.decoder.State()
			return s, s == protocol.StateAuthenticated
		})
	if waitErr != nil {
		_ = c.socket.Close(c.cfg.Timeouts.Disconnect)
		if waitErr == await.ErrTimeout {
			return ConnectResult{}, errs.New(op, errs.CodeTimeout,
				errs.WithMessage("venue did not authenticate in time"))
		}
		return ConnectResult{}, errs.New(op, errs.CodeNetwork,
			errs.WithMessage("connect aborted"), errs.WithCause(waitErr))
	}
	if verdict == protocol.StateFailed {
		_ = c.socket.Close(c.cfg.Timeouts.Disconnect)
		return ConnectResult{}, errs.New(op, errs.CodeAuth,
			errs.WithMessage("venue rejected session token"),
			errs.WithRawMessage(c.decoder.AuthError()))
	}

	connectedAt := time.Now()
	return ConnectResult{ConnectedAt: connectedAt, Duration: connectedAt.Sub(start)}, nil
}

// Disconnect closes the session and chart sockets and clears the snapshot.
func (c *Client) Disconnect(ctx context.Context) (err error) {
	const op = "client/disconnect"
	defer guard(op, &err)
	_ = ctx

	c.chartMu.Lock()
	if c.chart != nil {
		_ = c.chart.Close(c.cfg.Timeouts.Disconnect)
		c.chart = nil
	}
	c.chartMu.Unlock()

	_ = c.socket.Close(c.cfg.Timeouts.Disconnect)
	c.store.Reset()
	return nil
}

// Balance blocks until the venue has pushed a balance record. The bootstrap
// burst requests it right after authentication, so the slot is usually
// already populated.
func (c *Client) Balance(ctx context.Context) (balance Balance, err error) {
	const op = "client/balance"
	defer guard(op, &err)

	balance, waitErr := await.Until(ctx, c.cfg.PollInterval, c.cfg.Timeouts.Balance,
		func() (Balance, bool) { return c.store.Balance() })
	if waitErr != nil {
		return Balance{}, c.waitFailure(op, "balance never arrived", waitErr)
	}
	return balance, nil
}

// SetAccountMode switches the active ledger and returns the refreshed
// balance snapshot once the venue confirms the change.
func (c *Client) SetAccountMode(ctx context.Context, mode AccountMode) (balance Balance, err error) {
	const op = "client/set_account_mode"
	defer guard(op, &err)

	var demoFlag int
	switch mode {
	case ModeDemo:
		demoFlag = 1
	case ModeReal:
		demoFlag = 0
	default:
		return Balance{}, errs.New(op, errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("unknown account mode %q", mode)))
	}

	frame, buildErr := protocol.Command("account/change", map[string]int{"demo": demoFlag})
	if buildErr != nil {
		return Balance{}, errs.New(op, errs.CodeUnknown, errs.WithCause(buildErr))
	}
	if sendErr := c.send(ctx, frame); sendErr != nil {
		return Balance{}, sendErr
	}
	c.store.SetAccountMode(mode)

	balance, waitErr := await.Until(ctx, c.cfg.PollInterval, c.cfg.Timeouts.Balance,
		func() (Balance, bool) {
			b, ok := c.store.Balance()
			return b, ok && b.Mode == mode
		})
	if waitErr != nil {
		return Balance{}, c.waitFailure(op, "balance refresh never arrived", waitErr)
	}
	return balance, nil
}

// Assets returns the tradable-asset catalog keyed by symbol, requesting a
// fresh push when the snapshot is still empty.
func (c *Client) Assets(ctx context.Context) (catalog map[string]Asset, err error) {
	const op = "client/assets"
	defer guard(op, &err)

	if assets := c.store.Assets(); len(assets) > 0 {
		return assetsBySymbol(assets), nil
	}

	frame, buildErr := protocol.Command("assets/list", nil)
	if buildErr != nil {
		return nil, errs.New(op, errs.CodeUnknown, errs.WithCause(buildErr))
	}
	if sendErr := c.send(ctx, frame); sendErr != nil {
		return nil, sendErr
	}

	assets, waitErr := await.Until(ctx, c.cfg.PollInterval, c.cfg.Timeouts.Assets,
		func() ([]Asset, bool) {
			a := c.store.Assets()
			return a, len(a) > 0
		})
	if waitErr != nil {
		return nil, c.waitFailure(op, "asset catalog never arrived", waitErr)
	}
	return assetsBySymbol(assets), nil
}

func assetsBySymbol(assets []Asset) map[string]Asset {
	out := make(map[string]Asset, len(assets))
	for _, a := range assets {
		out[a.Symbol] = a
	}
	return out
}

// PlaceOrder opens one binary position and blocks until the venue confirms
// or rejects it. At most one order may be in flight; concurrent callers are
// serialized. Both order slots are cleared before the command goes out so a
// stale confirmation can never satisfy this wait.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (order Order, err error) {
	const op = "client/place_order"
	defer guard(op, &err)

	if req.Asset == "" {
		return Order{}, errs.New(op, errs.CodeInvalid,
			errs.WithMessage("asset must not be empty"))
	}
	if req.Direction != DirectionCall && req.Direction != DirectionPut {
		return Order{}, errs.New(op, errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("unknown direction %q", req.Direction)))
	}
	if !req.Amount.IsPositive() {
		return Order{}, errs.New(op, errs.CodeInvalid,
			errs.WithMessage("amount must be positive"),
			errs.WithReason(errs.ReasonInvalidAmount))
	}
	if req.ExpirySeconds <= 0 {
		return Order{}, errs.New(op, errs.CodeInvalid,
			errs.WithMessage("expiry must be positive"))
	}

	demoFlag := 1
	if b, ok := c.store.Balance(); ok && b.Mode == ModeReal {
		demoFlag = 0
	}
	frame, buildErr := protocol.Command("orders/open", map[string]any{
		"asset":   req.Asset,
		"command": string(req.Direction),
		"amount":  req.Amount,
		"time":    req.ExpirySeconds,
		"demo":    demoFlag,
	})
	if buildErr != nil {
		return Order{}, errs.New(op, errs.CodeUnknown, errs.WithCause(buildErr))
	}

	c.orderMu.Lock()
	defer c.orderMu.Unlock()

	c.store.ClearOrderState()
	if sendErr := c.send(ctx, frame); sendErr != nil {
		return Order{}, sendErr
	}

	type verdict struct {
		order   Order
		failure OrderFailure
		failed  bool
	}
	v, waitErr := await.Until(ctx, c.cfg.PollInterval, c.cfg.Timeouts.Order,
		func() (verdict, bool) {
			if o, ok := c.store.Order(); ok {
				return verdict{order: o}, true
			}
			if f, ok := c.store.OrderFailure(); ok {
				return verdict{failure: f, failed: true}, true
			}
			return verdict{}, false
		})
	if waitErr != nil {
		return Order{}, c.waitFailure(op, "venue never answered the order", waitErr)
	}
	if v.failed {
		return Order{}, errs.New(op, errs.CodeVenue,
			errs.WithMessage("venue rejected order"),
			errs.WithReason(errs.Reason(v.failure.Reason)),
			errs.WithRawMessage(v.failure.Raw))
	}
	return v.order, nil
}

// TradeOutcome blocks until the order with the given id settles and returns
// its realized result.
func (c *Client) TradeOutcome(ctx context.Context, orderID string) (outcome Outcome, err error) {
	const op = "client/trade_outcome"
	defer guard(op, &err)

	if orderID == "" {
		return Outcome{}, errs.New(op, errs.CodeInvalid,
			errs.WithMessage("order id must not be empty"))
	}

	profit, waitErr := await.Until(ctx, c.cfg.PollInterval, c.cfg.Timeouts.Outcome,
		func() (decimal.Decimal, bool) { return c.store.ClosedProfit(orderID) })
	if waitErr != nil {
		return Outcome{}, c.waitFailure(op, "order never settled", waitErr)
	}

	result := ResultDraw
	switch {
	case profit.IsPositive():
		result = ResultWin
	case profit.IsNegative():
		result = ResultLoss
	}
	return Outcome{OrderID: orderID, Result: result, Profit: profit}, nil
}

// SubscribeQuotes asks the venue to stream quotes for the asset.
func (c *Client) SubscribeQuotes(ctx context.Context, asset string) (err error) {
	const op = "client/subscribe_quotes"
	defer guard(op, &err)
	return c.sendAssetCommand(ctx, op, "quotes/stream", asset)
}

// UnsubscribeQuotes stops the quote stream for the asset.
func (c *Client) UnsubscribeQuotes(ctx context.Context, asset string) (err error) {
	const op = "client/unsubscribe_quotes"
	defer guard(op, &err)
	return c.sendAssetCommand(ctx, op, "quotes/stop", asset)
}

func (c *Client) sendAssetCommand(ctx context.Context, op, command, asset string) error {
	if asset == "" {
		return errs.New(op, errs.CodeInvalid, errs.WithMessage("asset must not be empty"))
	}
	frame, err := protocol.Command(command, asset)
	if err != nil {
		return errs.New(op, errs.CodeUnknown, errs.WithCause(err))
	}
	return c.send(ctx, frame)
}

// RequestHistory asks the venue for the (asset, period) history bundle
// without waiting for the answer; the push lands in the snapshot.
func (c *Client) RequestHistory(ctx context.Context, asset string, period int) (err error) {
	const op = "client/request_history"
	defer guard(op, &err)

	if asset == "" {
		return errs.New(op, errs.CodeInvalid, errs.WithMessage("asset must not be empty"))
	}
	if period <= 0 {
		return errs.New(op, errs.CodeInvalid, errs.WithMessage("period must be positive"))
	}
	frame, buildErr := protocol.Command("history/load", map[string]any{
		"asset":  asset,
		"period": period,
		"time":   time.Now().Unix(),
	})
	if buildErr != nil {
		return errs.New(op, errs.CodeUnknown, errs.WithCause(buildErr))
	}
	return c.send(ctx, frame)
}

// HistorySince drops any cached bundle for (asset, period), requests a fresh
// one and blocks until it arrives.
func (c *Client) HistorySince(ctx context.Context, asset string, period int) (bundle HistoryBundle, err error) {
	const op = "client/history_since"
	defer guard(op, &err)

	if asset == "" {
		return HistoryBundle{}, errs.New(op, errs.CodeInvalid,
			errs.WithMessage("asset must not be empty"))
	}
	if period <= 0 {
		return HistoryBundle{}, errs.New(op, errs.CodeInvalid,
			errs.WithMessage("period must be positive"))
	}

	c.store.ClearHistory(asset, period)
	if reqErr := c.RequestHistory(ctx, asset, period); reqErr != nil {
		return HistoryBundle{}, reqErr
	}
	bundle, waitErr := await.Until(ctx, c.cfg.PollInterval, c.cfg.Timeouts.History,
		func() (HistoryBundle, bool) { return c.store.History(asset, period) })
	if waitErr != nil {
		return HistoryBundle{}, c.waitFailure(op, "history bundle never arrived", waitErr)
	}
	return bundle, nil
}

// LatestQuote reads the most recent quote for the pair. Pure snapshot read.
func (c *Client) LatestQuote(pair string) (Quote, bool) {
	return c.store.LatestQuote(pair)
}

// QuoteHistory returns the buffered quote stream oldest first. An empty pair
// returns the whole ring; otherwise only quotes for that pair.
func (c *Client) QuoteHistory(pair string) []Quote {
	quotes := c.store.QuoteHistory()
	if pair == "" {
		return quotes
	}
	out := quotes[:0:0]
	for _, q := range quotes {
		if q.Pair == pair {
			out = append(out, q)
		}
	}
	return out
}

// History reads the cached bundle for (asset, period). Pure snapshot read.
func (c *Client) History(asset string, period int) (HistoryBundle, bool) {
	return c.store.History(asset, period)
}

// ServerTime reports the latest venue timestamp seen on the quote stream.
func (c *Client) ServerTime() time.Time {
	return c.store.ServerTime()
}

// Connected reports whether the session socket currently holds a live
// connection.
func (c *Client) Connected() bool {
	return c.socket.Connected()
}

func (c *Client) waitFailure(op, message string, waitErr error) error {
	if waitErr == await.ErrTimeout {
		return errs.New(op, errs.CodeTimeout, errs.WithMessage(message))
	}
	return errs.New(op, errs.CodeNetwork,
		errs.WithMessage("wait aborted"), errs.WithCause(waitErr))
}

// StartChart dials the secondary chart endpoint and begins streaming raw
// chart frames. Idempotent; the first call wins.
func (c *Client) StartChart(ctx context.Context) (err error) {
	const op = "client/start_chart"
	defer guard(op, &err)

	c.chartMu.Lock()
	defer c.chartMu.Unlock()
	if c.chart != nil {
		return nil
	}
	if c.cfg.ChartEndpoint == "" {
		return errs.New(op, errs.CodeInvalid,
			errs.WithMessage("chart endpoint not configured"))
	}
	chart := transport.NewChartSocket(transport.Options{
		Endpoint:       c.cfg.ChartEndpoint,
		Header:         c.headers(),
		Reconnect:      c.cfg.Reconnect,
		ConnectTimeout: c.cfg.Timeouts.Connect,
		SendTimeout:    c.cfg.Timeouts.Send,
		OnError:        c.reportError,
		OnPermanentFailure: func(err error) {
			c.reportError(err)
		},
		Dialer: c.chartDialer,
	})
	if startErr := chart.Start(ctx); startErr != nil {
		return startErr
	}
	c.chart = chart
	return nil
}

// SubscribeChart registers a verbatim chart-frame subscriber. Call before or
// after StartChart; subscribers survive reconnects.
func (c *Client) SubscribeChart(fn func(frame []byte)) (err error) {
	const op = "client/subscribe_chart"
	defer guard(op, &err)

	c.chartMu.Lock()
	chart := c.chart
	c.chartMu.Unlock()
	if chart == nil {
		return errs.New(op, errs.CodeInvalid,
			errs.WithMessage("chart socket not started"))
	}
	chart.Subscribe(fn)
	return nil
}

// SetChartInstrument switches the chart stream to (asset, period).
func (c *Client) SetChartInstrument(ctx context.Context, asset string, period int) (err error) {
	const op = "client/set_chart_instrument"
	defer guard(op, &err)

	if asset == "" {
		return errs.New(op, errs.CodeInvalid, errs.WithMessage("asset must not be empty"))
	}
	if period <= 0 {
		return errs.New(op, errs.CodeInvalid, errs.WithMessage("period must be positive"))
	}
	c.chartMu.Lock()
	chart := c.chart
	c.chartMu.Unlock()
	if chart == nil {
		return errs.New(op, errs.CodeInvalid,
			errs.WithMessage("chart socket not started"))
	}
	return chart.SetInstrument(ctx, asset, period)
}
