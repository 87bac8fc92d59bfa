// Package apperr defines the error taxonomy shared by the Sequencer and
// Matcher shards, and the response codes the demo HTTP facade maps them to.
package apperr

import "fmt"

// Kind classifies a domain error. The zero value is InvalidArgument;
// errors are built with New, Wrap, or the per-kind helpers below.
type Kind int

const (
	// InvalidArgument covers malformed decimals, non-positive amounts,
	// a LIMIT order without a price, and a MARKET-BID without quantity
	// or volume.
	InvalidArgument Kind = iota
	// NotFound covers an unknown account on debit, an unknown symbol,
	// or an unknown order.
	NotFound
	// InsufficientBalance means available < requested debit or freeze.
	InsufficientBalance
	// Forbidden means a cancel target order belongs to a different account.
	Forbidden
	// InvalidState means a cancel target order is already terminal.
	InvalidState
	// InternalInvariant is fatal: balance invariant violated, a channel
	// closed unexpectedly, or arithmetic underflowed. The owning shard
	// must abort; it is not recoverable locally.
	InternalInvariant
)

// Error is the concrete error type returned by Sequencer and Matcher
// operations. It carries enough structure for a transport layer to map it
// to a response code without parsing strings.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Code maps the error's Kind to the wire response code from the external
// interface table: 0 success (never produced here), 400, 403, 404, 500.
func (e *Error) Code() int {
	switch e.Kind {
	case InvalidArgument, InsufficientBalance, InvalidState:
		return 400
	case Forbidden:
		return 403
	case NotFound:
		return 404
	case InternalInvariant:
		return 500
	default:
		return 500
	}
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func Invalid(format string, args ...any) *Error {
	return New(InvalidArgument, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) *Error {
	return New(NotFound, fmt.Sprintf(format, args...))
}

func InsufficientBalancef(format string, args ...any) *Error {
	return New(InsufficientBalance, fmt.Sprintf(format, args...))
}

func Forbiddenf(format string, args ...any) *Error {
	return New(Forbidden, fmt.Sprintf(format, args...))
}

func InvalidStatef(format string, args ...any) *Error {
	return New(InvalidState, fmt.Sprintf(format, args...))
}

// As reports whether err is an *Error and, if so, returns it.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}
