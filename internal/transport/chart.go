package transport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantfeed/venuelink/internal/observability"
	"github.com/quantfeed/venuelink/internal/protocol"
)

// ChartSocket streams chart data from the venue's secondary endpoint. It
// reuses the session socket's connect/send/reconnect machinery but decodes
// nothing: inbound frames are forwarded verbatim to subscribers, and seeing a
// connection or authentication marker re-arms the instrument subscription.
type ChartSocket struct {
	socket *Socket

	mu          sync.Mutex
	subscribers []func(frame []byte)
	asset       string
	period      int
	sessionID   string
}

// NewChartSocket creates a chart socket. The options' Handler, OnConnect and
// sleeper fields are managed internally and must be left unset.
func NewChartSocket(opts Options) *ChartSocket {
	c := new(ChartSocket)
	c.sessionID = uuid.NewString()
	opts.Handler = c.handleFrame
	c.socket = NewSocket(opts)
	return c
}

// Start dials the chart endpoint and begins streaming.
func (c *ChartSocket) Start(ctx context.Context) error {
	return c.socket.Start(ctx)
}

// Close tears the chart stream down.
func (c *ChartSocket) Close(grace time.Duration) error {
	return c.socket.Close(grace)
}

// Subscribe registers a verbatim frame subscriber.
func (c *ChartSocket) Subscribe(fn func(frame []byte)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.subscribers = append(c.subscribers, fn)
	c.mu.Unlock()
}

// SetInstrument switches the streamed asset/period and sends the change
// command immediately when connected.
func (c *ChartSocket) SetInstrument(ctx context.Context, asset string, period int) error {
	c.mu.Lock()
	c.asset = asset
	c.period = period
	c.mu.Unlock()
	return c.sendSubscription(ctx)
}

func (c *ChartSocket) handleFrame(ctx context.Context, frame []byte) error {
	switch protocol.Classify(frame) {
	case protocol.KindOpen:
		if err := c.socket.Send(ctx, []byte("40")); err != nil {
			return err
		}
		return c.sendSubscription(ctx)
	case protocol.KindPing:
		return c.socket.Send(ctx, []byte("3"))
	case protocol.KindHandshakeAck, protocol.KindAuthSuccess:
		// Fresh connection: the venue forgot our instrument, re-subscribe.
		return c.sendSubscription(ctx)
	default:
	}

	c.mu.Lock()
	subscribers := make([]func([]byte), len(c.subscribers))
	copy(subscribers, c.subscribers)
	c.mu.Unlock()
	for _, fn := range subscribers {
		fn(frame)
	}
	return nil
}

func (c *ChartSocket) sendSubscription(ctx context.Context) error {
	c.mu.Lock()
	asset, period, session := c.asset, c.period, c.sessionID
	c.mu.Unlock()
	if asset == "" || period <= 0 || !c.socket.Connected() {
		return nil
	}
	frame, err := protocol.Command("chart/changeSymbol", map[string]any{
		"id":     session,
		"asset":  asset,
		"period": period,
	})
	if err != nil {
		return err
	}
	if err := c.socket.Send(ctx, frame); err != nil {
		observability.Log().Debug("chart subscription send failed",
			observability.F("asset", asset), observability.F("error", err.Error()))
		return err
	}
	return nil
}
