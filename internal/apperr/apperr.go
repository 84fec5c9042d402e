// Package apperr defines the error taxonomy shared by the planning engine,
// its stores and its adapters.
//
// Callers classify failures with errors.Is against the sentinel kinds below.
// Domain packages declare their own typed errors that match one of these kinds
// through an Is method, so errors.As still gives access to structured fields.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

var (
	ErrValidation              = errors.New("validation failed")
	ErrNotFound                = errors.New("not found")
	ErrConflict                = errors.New("conflict")
	ErrConstraintUnsatisfiable = errors.New("constraint unsatisfiable")
	ErrUpstreamUnavailable     = errors.New("upstream unavailable")
	ErrInvariant               = errors.New("invariant violated")
)

// Error attaches an operation name and structured context to a failure of a
// given kind.
type Error struct {
	Kind   error
	Op     string
	Fields []interface{}
	Err    error
}

// E builds an *Error. kv is an alternating list of keys and values such as
// "day_index", 3, "meal_type", "lunch".
func E(kind error, op string, err error, kv ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: err, Fields: kv}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}
	for i := 0; i+1 < len(e.Fields); i += 2 {
		fmt.Fprintf(&b, " %v=%v", e.Fields[i], e.Fields[i+1])
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Validation is shorthand for a validation failure with a formatted message.
func Validation(op, format string, args ...interface{}) *Error {
	return E(ErrValidation, op, fmt.Errorf(format, args...))
}

// Unavailable marks err as a transient upstream failure.
func Unavailable(op string, err error) *Error {
	return E(ErrUpstreamUnavailable, op, err)
}

// KindOf returns the sentinel kind err matches, or nil.
func KindOf(err error) error {
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrConflict, ErrConstraintUnsatisfiable, ErrUpstreamUnavailable, ErrInvariant} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// RetryPolicy controls RetryRead.
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

// DefaultRetryPolicy is used when a zero policy is passed.
var DefaultRetryPolicy = RetryPolicy{MaxTries: 3, InitialInterval: 100 * time.Millisecond, MaxElapsed: 5 * time.Second}

// RetryRead runs an idempotent read, retrying only while it fails with
// ErrUpstreamUnavailable. Any other error is returned immediately. Never use
// it for writes.
func RetryRead[T any](ctx context.Context, policy RetryPolicy, read func(context.Context) (T, error)) (T, error) {
	if policy.MaxTries == 0 {
		policy = DefaultRetryPolicy
	}
	b := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		b.InitialInterval = policy.InitialInterval
	}

	op := func() (T, error) {
		v, err := read(ctx)
		if err != nil && !errors.Is(err, ErrUpstreamUnavailable) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	opts := []backoff.RetryOption{backoff.WithBackOff(b), backoff.WithMaxTries(policy.MaxTries)}
	if policy.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(policy.MaxElapsed))
	}
	return backoff.Retry(ctx, op, opts...)
}
