// Package errs carries a stable error taxonomy across the engine: every
// component wraps failures in an Error with a Kind tag so the ledger and
// the control surface can classify them without parsing message text or
// leaking Go's wrapping chain externally.
package errs

import "fmt"

// Kind classifies an error for ledger recording and control-surface display.
type Kind string

const (
	KindConfig           Kind = "ConfigError"
	KindTransientRPC     Kind = "TransientRPCError"
	KindPermanentRPC     Kind = "PermanentRPCError"
	KindPoolNotFound     Kind = "PoolNotFoundError"
	KindExecutionRevert  Kind = "ExecutionRevertError"
	KindBridgeTimeout    Kind = "BridgeTimeoutError"
	KindSlippageExceeded Kind = "SlippageExceeded"
	KindEmergencyStopped Kind = "EmergencyStopped"
	KindTimeout          Kind = "TimeoutError"
)

// Error is the engine-wide error shape: a stable Kind plus a
// human-readable message. The underlying cause is kept for local
// %w-unwrapping (retry/failover logic, logging) but New's Error()
// string never exposes it beyond Message.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

// New builds an Error of the given kind wrapping cause (may be nil).
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap lets errors.Is/As reach the underlying cause without exposing
// it through Error().
func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is an *Error with the same Kind, so callers
// can write errors.Is(err, errs.New(errs.KindTimeout, "", nil)) or more
// idiomatically errors.As plus a Kind comparison.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// KindOf extracts the Kind from err, or "" if err does not carry one.
func KindOf(err error) Kind {
	var e *Error
	for err != nil {
		if k, ok := err.(*Error); ok {
			e = k
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return ""
	}
	return e.Kind
}
