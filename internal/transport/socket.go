package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sourcegraph/conc"

	"github.com/quantfeed/venuelink/config"
	"github.com/quantfeed/venuelink/errs"
	"github.com/quantfeed/venuelink/internal/observability"
)

// Options configures one venue socket.
type Options struct {
	Endpoint  string
	Header    http.Header
	Reconnect config.ReconnectPolicy

	ConnectTimeout time.Duration
	SendTimeout    time.Duration

	// Handler consumes each inbound frame on the receive goroutine.
	Handler func(ctx context.Context, frame []byte) error
	// OnConnect runs after every successful dial, before the first read.
	OnConnect func()
	// OnError receives transient transport errors.
	OnError func(error)
	// OnPermanentFailure fires once the reconnect budget is exhausted.
	OnPermanentFailure func(error)

	// Dialer overrides the websocket dialer; nil selects DefaultDialer.
	Dialer Dialer
	// sleeper overrides backoff waits in tests.
	sleeper func(ctx context.Context, d time.Duration) error
}

// Socket owns one websocket connection: serialized writes, a single
// background receive loop, and reconnection with capped exponential backoff.
type Socket struct {
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	connMu sync.RWMutex
	conn   Conn

	writeMu sync.Mutex

	wg      conc.WaitGroup
	started atomic.Bool

	ready     chan struct{}
	readyOnce sync.Once
	loopDone  chan struct{}
}

// NewSocket creates a socket for the given options.
func NewSocket(opts Options) *Socket {
	if opts.Dialer == nil {
		opts.Dialer = DefaultDialer
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	if opts.sleeper == nil {
		opts.sleeper = sleepCtx
	}
	s := new(Socket)
	s.opts = opts
	s.ready = make(chan struct{})
	s.loopDone = make(chan struct{})
	return s
}

// Start dials the endpoint and launches the receive loop. It blocks until the
// first connection is established or the connect timeout elapses.
func (s *Socket) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errs.New("transport/start", errs.CodeInvalid, errs.WithMessage("socket already started"))
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	s.wg.Go(func() {
		defer close(s.loopDone)
		s.run()
	})

	select {
	case <-s.ready:
		return nil
	case <-time.After(s.opts.ConnectTimeout):
		s.cancel()
		return errs.New("transport/start", errs.CodeTimeout,
			errs.WithMessage("timeout waiting for websocket connection"))
	case <-s.loopDone:
		return errs.New("transport/start", errs.CodeNetwork,
			errs.WithMessage("connection failed before becoming ready"))
	case <-s.ctx.Done():
		return errs.New("transport/start", errs.CodeNetwork,
			errs.WithMessage("socket closed during connect"),
			errs.WithCause(s.ctx.Err()))
	}
}

// Send writes one frame. Writes are serialized: concurrent writers take
// turns, and each write gets its own timeout window.
func (s *Socket) Send(ctx context.Context, frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()
	if conn == nil {
		return errs.New("transport/send", errs.CodeNetwork,
			errs.WithMessage("websocket not connected"))
	}

	writeCtx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, frame); err != nil {
		return errs.New("transport/send", errs.CodeNetwork,
			errs.WithMessage("write frame"), errs.WithCause(err))
	}
	return nil
}

// Connected reports whether a live connection is currently held.
func (s *Socket) Connected() bool {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.conn != nil
}

// Close tears the socket down. The receive loop is cancelled and awaited
// within the grace period; when it does not finish in time Close still
// returns nil, teardown being best effort.
func (s *Socket) Close(grace time.Duration) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.connMu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	if grace <= 0 {
		grace = 5 * time.Second
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		observability.Log().Debug("receive loop did not stop within grace period")
	}
	return nil
}

// run maintains the connection until cancellation or reconnect exhaustion.
// Reconnection triggers only on transient failures observed here, never on a
// caller-initiated Close.
func (s *Socket) run() {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = s.opts.Reconnect.BaseDelay
	expo.Multiplier = 2
	expo.RandomizationFactor = 0
	if s.opts.Reconnect.MaxDelay > 0 {
		expo.MaxInterval = s.opts.Reconnect.MaxDelay
	}

	attempts := 0
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		dialCtx, cancel := context.WithTimeout(s.ctx, s.opts.ConnectTimeout)
		conn, err := s.opts.Dialer(dialCtx, s.opts.Endpoint, s.opts.Header)
		cancel()
		if err != nil {
			if !isTransient(err) {
				return
			}
			s.reportError(errs.New("transport/dial", errs.CodeNetwork,
				errs.WithMessage("dial venue"), errs.WithCause(err)))
			if !s.backOff(&attempts, expo) {
				return
			}
			continue
		}

		s.connMu.Lock()
		s.conn = conn
		s.connMu.Unlock()
		s.readyOnce.Do(func() { close(s.ready) })

		if s.opts.OnConnect != nil {
			s.opts.OnConnect()
		}

		gotFrame, readErr := s.readLoop(conn)
		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()
		_ = conn.Close()

		if readErr == nil || !isTransient(readErr) {
			// Caller-initiated teardown or cancellation: no reconnect.
			return
		}
		s.reportError(errs.New("transport/read", errs.CodeNetwork,
			errs.WithMessage("connection lost"), errs.WithCause(readErr)))

		// A connection only counts as healthy once it delivered a frame;
		// resetting on a bare dial would let a flapping endpoint retry forever.
		if gotFrame {
			attempts = 0
			expo.Reset()
		}
		if !s.backOff(&attempts, expo) {
			return
		}
	}
}

// backOff sleeps before the next reconnect attempt. It returns false once the
// attempt budget is exhausted, after which the permanent failure is reported.
func (s *Socket) backOff(attempts *int, expo *backoff.ExponentialBackOff) bool {
	*attempts++
	if *attempts > s.opts.Reconnect.MaxAttempts {
		err := errs.New("transport/reconnect", errs.CodeNetwork,
			errs.WithMessage("reconnect attempts exhausted"))
		observability.Log().Error("giving up on venue connection",
			observability.F("attempts", *attempts-1))
		if s.opts.OnPermanentFailure != nil {
			s.opts.OnPermanentFailure(err)
		}
		return false
	}
	observability.Telemetry().IncCounter(observability.MetricReconnectAttempts, 1, nil)
	delay := expo.NextBackOff()
	observability.Log().Info("reconnecting to venue",
		observability.F("attempt", *attempts),
		observability.F("delay", delay.String()))
	if err := s.opts.sleeper(s.ctx, delay); err != nil {
		return false
	}
	return true
}

// readLoop pulls frames until failure or cancellation. The handler runs on
// this goroutine, so all downstream state writes are single-threaded.
func (s *Socket) readLoop(conn Conn) (bool, error) {
	gotFrame := false
	for {
		frame, err := conn.Read(s.ctx)
		if err != nil {
			return gotFrame, err
		}
		gotFrame = true
		if s.opts.Handler == nil {
			continue
		}
		if err := s.opts.Handler(s.ctx, frame); err != nil {
			// Handler errors are processing failures, not transport
			// failures: log and keep reading.
			observability.Log().Error("frame handler failed",
				observability.F("error", err.Error()))
			s.reportError(err)
		}
	}
}

func (s *Socket) reportError(err error) {
	if err == nil || s.opts.OnError == nil {
		return
	}
	s.opts.OnError(err)
}

// isTransient classifies failures that warrant reconnection. Cancellation
// and deadline expiry come from callers, not the network, and never trigger
// a reconnect.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
