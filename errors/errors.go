// Package errors is the error vocabulary of yoman.
//
// It re-exports github.com/cockroachdb/errors (stack traces, wrapping,
// hints and details) and declares the sentinels every pipeline stage
// reports through. Callers check them with errors.Is and wrap them to add
// context:
//
//	if !decision.Allowed {
//	    return errors.WithDetail(errors.ErrQuotaExceeded, decision.Reason)
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// AssertionFailedf reports a broken internal invariant.
var AssertionFailedf = crdb.AssertionFailedf

// General purpose sentinels.
var (
	ErrNotFound       = New("not found")
	ErrInvalidRequest = New("invalid request")
	ErrConflict       = New("resource conflict")
	ErrTimeout        = New("operation timed out")
)

// Pipeline taxonomy. A parser miss is not an error (see temporal.Match) and
// neither is an ambiguous classification (see intent.Outcome); everything
// else a stage can fail with is one of these.
var (
	// ErrResolverFailure: the model timed out, answered malformed JSON,
	// returned no instant, or answered below the confidence threshold or
	// outside the plausible range.
	ErrResolverFailure = New("temporal resolver failure")

	// ErrQuotaExceeded: the invocation gateway refused a model call.
	ErrQuotaExceeded = New("model quota exceeded")

	// ErrDispatchBlocked: the transport circuit is not accepting sends.
	ErrDispatchBlocked = New("dispatch blocked by open circuit")

	// ErrJobFailed: a job exhausted its retry budget.
	ErrJobFailed = New("job failed")

	// ErrUnknownTimezone: an IANA zone name could not be loaded.
	ErrUnknownTimezone = New("unknown timezone")
)

// IsNotFoundError reports whether err is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError reports whether err is or wraps ErrInvalidRequest.
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsQuotaExceeded reports whether err is or wraps ErrQuotaExceeded.
func IsQuotaExceeded(err error) bool {
	return err != nil && Is(err, ErrQuotaExceeded)
}

// IsDispatchBlocked reports whether err is or wraps ErrDispatchBlocked.
func IsDispatchBlocked(err error) bool {
	return err != nil && Is(err, ErrDispatchBlocked)
}

// IsResolverFailure reports whether err is or wraps ErrResolverFailure.
func IsResolverFailure(err error) bool {
	return err != nil && Is(err, ErrResolverFailure)
}

// NewNotFoundError creates a not-found error with a formatted message.
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidRequestError creates an invalid-request error with a formatted message.
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidRequest, Newf(format, args...).Error())
}

// NewResolverFailure marks a resolver problem with ErrResolverFailure,
// keeping the cause readable.
func NewResolverFailure(cause error, format string, args ...interface{}) error {
	if cause == nil {
		return Wrapf(ErrResolverFailure, format, args...)
	}
	return Mark(Wrapf(cause, format, args...), ErrResolverFailure)
}
