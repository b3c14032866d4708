package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a BrokerAdapter failure, driving the
// retry policy in withRetry.
type ErrorKind int

const (
	// ErrorKindTransient covers REQUOTE/PRICE_CHANGED/LOCKED/CONTEXT_BUSY:
	// retried up to 3 times, 100ms apart.
	ErrorKindTransient ErrorKind = iota
	// ErrorKindInvalidStops covers broker invalid-stops/min-distance
	// rejections: never retried blindly, handled by the caller.
	ErrorKindInvalidStops
	// ErrorKindReject covers insufficient margin / disabled symbol: the
	// signal is dropped, never retried.
	ErrorKindReject
	// ErrorKindStreamGap covers a stalled bar/trade stream: reconnect with
	// capped exponential backoff.
	ErrorKindStreamGap
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindTransient:
		return "transient"
	case ErrorKindInvalidStops:
		return "invalid_stops"
	case ErrorKindReject:
		return "reject"
	case ErrorKindStreamGap:
		return "stream_gap"
	default:
		return "unknown"
	}
}

// BrokerError wraps a broker-call failure with its ErrorKind so callers can
// branch without string-matching exchange error messages.
type BrokerError struct {
	Kind ErrorKind
	Op string
	Err error
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker: %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *BrokerError) Unwrap() error { return e.Err }

// NewBrokerError builds a BrokerError, the one constructor broker adapters
// should use to surface a classified failure to the engine.
func NewBrokerError(op string, kind ErrorKind, err error) *BrokerError {
	return &BrokerError{Op: op, Kind: kind, Err: err}
}

// KindOf extracts the ErrorKind from err if it (or something it wraps) is a
// *BrokerError; otherwise ErrorKindReject is returned, which is the safe
// "don't retry" default for errors the engine doesn't recognize.
func KindOf(err error) ErrorKind {
	var be *BrokerError
	if errors.As(err, &be) {
		return be.Kind
	}
	return ErrorKindReject
}

// Fatal startup errors, ("Fatal (process exits): credential missing
// at startup, symbol-info unavailable at startup").
var (
	ErrCredentialsMissing = errors.New("engine: broker credentials missing")
	ErrSymbolInfoUnavailable = errors.New("engine: symbol info unavailable at startup")
	ErrNoOpposingHedge = errors.New("engine: opposing position already open, no locking hedge")
	ErrMaxPositionsPerUser = errors.New("engine: max positions per user per side reached")
	ErrQuantityBelowMinimum = errors.New("engine: computed quantity below min_qty or min_notional")
	ErrEmptySnapshot = errors.New("engine: empty buffer snapshot")
)
