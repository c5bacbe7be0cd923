package analytics

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a failed analytics operation.
type ErrorKind string

// Error kinds.
const (
	KindTransient   ErrorKind = "transient"
	KindTimeout     ErrorKind = "timeout"
	KindUnavailable ErrorKind = "unavailable"
	KindInvalid     ErrorKind = "invalid"
)

// errInvalidInput marks caller input the service refuses to forward to the store.
var errInvalidInput = errors.New("invalid input")

// Error describes why an analytics operation degraded to its empty value.
type Error struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("analytics %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classify wraps err into an *Error for op.
func classify(op string, err error) *Error {
	kind := KindTransient
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, ErrStoreUnavailable):
		kind = KindUnavailable
	case errors.Is(err, errInvalidInput):
		kind = KindInvalid
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// outcome is the internal result of a single store round trip.
type outcome[T any] struct {
	value T
	err   *Error
}

func succeeded[T any](v T) outcome[T] {
	return outcome[T]{value: v}
}

func failed[T any](op string, err error) outcome[T] {
	return outcome[T]{err: classify(op, err)}
}

func invalid[T any](op, format string, args ...any) outcome[T] {
	return failed[T](op, fmt.Errorf("%w: "+format, append([]any{errInvalidInput}, args...)...))
}

// ok reports whether the call succeeded.
func (o outcome[T]) ok() bool {
	return o.err == nil
}

// orElse returns the value on success and fallback otherwise.
func (o outcome[T]) orElse(fallback T) T {
	if o.err != nil {
		return fallback
	}
	return o.value
}
