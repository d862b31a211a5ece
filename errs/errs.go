// Package errs provides structured error types shared across the venuelink engine.
package errs

import (
	"strconv"
	"strings"
)

// Code identifies a transport- or operation-level error category.
type Code string

const (
	// CodeNetwork indicates a websocket transport failure.
	CodeNetwork Code = "network"
	// CodeAuth indicates the venue rejected the session token.
	CodeAuth Code = "auth"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeTimeout indicates a bounded wait elapsed before the venue answered.
	CodeTimeout Code = "timeout"
	// CodeVenue indicates a venue-side failure reported over the wire.
	CodeVenue Code = "venue_error"
	// CodeDecode indicates a malformed inbound message.
	CodeDecode Code = "decode"
	// CodeUnknown captures unclassified failures.
	CodeUnknown Code = "unknown"
)

// Reason refines venue-reported failures into actionable categories.
type Reason string

const (
	// ReasonUnknown captures uncategorized venue failures.
	ReasonUnknown Reason = "unknown"
	// ReasonInsufficientBalance indicates the account cannot cover the order amount.
	ReasonInsufficientBalance Reason = "insufficient_balance"
	// ReasonInvalidAsset indicates an unsupported or malformed asset symbol.
	ReasonInvalidAsset Reason = "invalid_asset"
	// ReasonInvalidAmount indicates the order amount is outside venue limits.
	ReasonInvalidAmount Reason = "invalid_amount"
	// ReasonMarketClosed indicates the asset is not currently tradable.
	ReasonMarketClosed Reason = "market_closed"
	// ReasonServerError indicates an internal venue failure.
	ReasonServerError Reason = "server_error"
)

// E captures structured error information produced across the engine.
type E struct {
	Op      string
	Code    Code
	Reason  Reason
	Message string
	RawMsg  string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the operation and error code.
func New(op string, code Code, opts ...Option) *E {
	e := &E{
		Op:      strings.TrimSpace(op),
		Code:    code,
		Reason:  ReasonUnknown,
		Message: "",
		RawMsg:  "",
		cause:   nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithRawMessage captures the raw venue error text.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithReason sets the refined failure category.
func WithReason(reason Reason) Option {
	trimmed := strings.TrimSpace(string(reason))
	return func(e *E) {
		if trimmed == "" {
			e.Reason = ReasonUnknown
			return
		}
		e.Reason = Reason(trimmed)
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	op := strings.TrimSpace(e.Op)
	if op == "" {
		op = "unknown"
	}
	parts = append(parts, "op="+op)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = string(CodeUnknown)
	}
	parts = append(parts, "code="+code)

	if r := strings.TrimSpace(string(e.Reason)); r != "" && r != string(ReasonUnknown) {
		parts = append(parts, "reason="+r)
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the code from err when it wraps an *E, defaulting to unknown.
func CodeOf(err error) Code {
	for err != nil {
		if e, ok := err.(*E); ok {
			return e.Code
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}
	return CodeUnknown
}

// classifiers maps venue free-text fragments to refined reasons. The venue
// reports order rejections as loose prose, so substring matching is the only
// classification available. Order matters: more specific fragments first.
var classifiers = []struct {
	fragment string
	reason   Reason
}{
	{"balance", ReasonInsufficientBalance},
	{"funds", ReasonInsufficientBalance},
	{"enough money", ReasonInsufficientBalance},
	{"market is closed", ReasonMarketClosed},
	{"not available", ReasonMarketClosed},
	{"non-trading", ReasonMarketClosed},
	{"asset", ReasonInvalidAsset},
	{"symbol", ReasonInvalidAsset},
	{"instrument", ReasonInvalidAsset},
	{"amount", ReasonInvalidAmount},
	{"minimum", ReasonInvalidAmount},
	{"maximum", ReasonInvalidAmount},
	{"closed", ReasonMarketClosed},
	{"internal", ReasonServerError},
	{"server", ReasonServerError},
}

// Classify maps a venue free-text failure message to a refined reason.
func Classify(raw string) Reason {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	if lowered == "" {
		return ReasonUnknown
	}
	for _, c := range classifiers {
		if strings.Contains(lowered, c.fragment) {
			return c.reason
		}
	}
	return ReasonUnknown
}
