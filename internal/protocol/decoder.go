package protocol

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/quantfeed/venuelink/errs"
	"github.com/quantfeed/venuelink/internal/observability"
)

// State tracks the handshake progress of one connection.
type State int

const (
	// StateAwaitingOpen waits for the Engine.IO open frame.
	StateAwaitingOpen State = iota
	// StateAwaitingHandshakeAck waits for the namespace acknowledgement.
	StateAwaitingHandshakeAck
	// StateAuthenticating sent the session token and waits for the verdict.
	StateAuthenticating
	// StateAuthenticated completed the handshake.
	StateAuthenticated
	// StateClosed observed a close frame.
	StateClosed
	// StateFailed gave up on the connection.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingOpen:
		return "awaiting_open"
	case StateAwaitingHandshakeAck:
		return "awaiting_handshake_ack"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Sender writes one outbound frame to the venue.
type Sender interface {
	Send(ctx context.Context, frame []byte) error
}

// Router consumes an announced payload.
type Router interface {
	Route(msgType string, payload []byte) error
}

// bootstrapCommands is the fixed burst fired right after authentication to
// pre-populate the state store. Order matters to the venue.
var bootstrapCommands = []struct {
	name string
	args any
}{
	{"account/change", map[string]int{"demo": 1}},
	{"orders/opened", nil},
	{"orders/closed", nil},
	{"assets/list", nil},
	{"alerts/list", nil},
	{"alerts/closed", nil},
	{"indicators/list", nil},
	{"drawings/load", nil},
}

// Decoder drives the handshake state machine and the two-phase
// announce-then-payload multiplexing over one connection.
type Decoder struct {
	token   string
	sender  Sender
	router  Router
	limiter *rate.Limiter

	mu       sync.RWMutex
	state    State
	pending  string
	authErr  string
	onAuthed func()
}

// NewDecoder creates a decoder for one connection. The limiter paces the
// post-authentication bootstrap burst; a nil limiter disables pacing.
func NewDecoder(token string, sender Sender, router Router, limiter *rate.Limiter) *Decoder {
	d := new(Decoder)
	d.token = token
	d.sender = sender
	d.router = router
	d.limiter = limiter
	d.state = StateAwaitingOpen
	return d
}

// OnAuthenticated registers a callback fired once per successful handshake.
func (d *Decoder) OnAuthenticated(fn func()) {
	d.mu.Lock()
	d.onAuthed = fn
	d.mu.Unlock()
}

// State returns the current handshake state.
func (d *Decoder) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// AuthError returns the recorded authentication failure reason, if any.
func (d *Decoder) AuthError() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.authErr
}

// Reset rewinds the state machine for a fresh connection. The pending
// announcement slot is dropped (announcements never span connections) and a
// recorded auth failure from the previous connection is forgotten, so the new
// handshake is judged on its own verdict.
func (d *Decoder) Reset() {
	d.mu.Lock()
	d.state = StateAwaitingOpen
	d.pending = ""
	d.authErr = ""
	d.mu.Unlock()
}

// SetPending records the logical type declared by an announcement frame.
// Exposed so the routing layer can stage payload types without reaching into
// decoder internals.
func (d *Decoder) SetPending(msgType string) {
	d.mu.Lock()
	d.pending = msgType
	d.mu.Unlock()
}

// takePending clears and returns the pending announced type.
func (d *Decoder) takePending() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == "" {
		return "", false
	}
	typ := d.pending
	d.pending = ""
	return typ, true
}

// HandleFrame consumes one inbound text frame. Called from the transport's
// receive goroutine only.
func (d *Decoder) HandleFrame(ctx context.Context, frame []byte) error {
	observability.Telemetry().IncCounter(observability.MetricFramesReceived, 1, nil)

	// A pending announcement claims the very next frame as its payload,
	// regardless of how that frame would otherwise classify.
	if typ, ok := d.takePending(); ok {
		if err := d.router.Route(typ, frame); err != nil {
			observability.Telemetry().IncCounter(observability.MetricDecodeErrors, 1, map[string]string{"kind": "route"})
			observability.Log().Error("route announced payload",
				observability.F("type", typ), observability.F("error", err.Error()))
		}
		return nil
	}

	switch Classify(frame) {
	case KindOpen:
		return d.handleOpen(ctx)
	case KindHandshakeAck:
		return d.handleHandshakeAck(ctx)
	case KindPing:
		return d.sender.Send(ctx, []byte(pongFrame))
	case KindAuthSuccess:
		return d.handleAuthSuccess(ctx)
	case KindAuthFailure:
		d.handleAuthFailure(frame)
		return nil
	case KindAnnouncement:
		if typ, ok := AnnouncedType(frame); ok {
			d.SetPending(typ)
		}
		return nil
	case KindClose:
		d.mu.Lock()
		d.state = StateClosed
		d.mu.Unlock()
		return nil
	case KindUnknown:
		// Spurious frame with no pending announcement: deliberately a no-op.
		return nil
	default:
		return nil
	}
}

func (d *Decoder) handleOpen(ctx context.Context) error {
	if err := d.sender.Send(ctx, []byte(handshakeAck)); err != nil {
		return fmt.Errorf("reply handshake ack: %w", err)
	}
	d.mu.Lock()
	if d.state == StateAwaitingOpen {
		d.state = StateAwaitingHandshakeAck
	}
	d.mu.Unlock()
	return nil
}

func (d *Decoder) handleHandshakeAck(ctx context.Context) error {
	// The session token goes out verbatim: it is an opaque browser artefact
	// the engine never parses or refreshes.
	if err := d.sender.Send(ctx, []byte(d.token)); err != nil {
		return fmt.Errorf("send session token: %w", err)
	}
	d.mu.Lock()
	d.state = StateAuthenticating
	d.mu.Unlock()
	return nil
}

func (d *Decoder) handleAuthSuccess(ctx context.Context) error {
	d.mu.Lock()
	d.state = StateAuthenticated
	d.authErr = ""
	callback := d.onAuthed
	d.mu.Unlock()

	observability.Log().Info("venue session authenticated")
	if err := d.sendBootstrap(ctx); err != nil {
		return err
	}
	if callback != nil {
		callback()
	}
	return nil
}

func (d *Decoder) handleAuthFailure(frame []byte) {
	reason := string(frame)
	d.mu.Lock()
	d.authErr = reason
	d.mu.Unlock()
	observability.Log().Error("venue rejected session token",
		observability.F("frame", reason))
}

// sendBootstrap fires the fixed ordered command burst, paced so the venue's
// control-message limit is not tripped.
func (d *Decoder) sendBootstrap(ctx context.Context) error {
	for _, cmd := range bootstrapCommands {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("pace bootstrap %s: %w", cmd.name, err)
			}
		}
		frame, err := Command(cmd.name, cmd.args)
		if err != nil {
			return err
		}
		if err := d.sender.Send(ctx, frame); err != nil {
			return errs.New("bootstrap", errs.CodeNetwork,
				errs.WithMessage("bootstrap command failed"),
				errs.WithRawMessage(cmd.name),
				errs.WithCause(err))
		}
	}
	return nil
}
