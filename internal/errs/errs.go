// Package errs provides the structured error type shared by every MXL
// component. It lives below the root package so that internal packages
// (clock, shm, waitword, layout, discrete, continuous, flowmgr, domain)
// can return richly-typed errors without importing the root package and
// creating an import cycle; mxl/errors.go re-exports these names.
package errs

import (
	"fmt"
	"syscall"
)

// Code is the high-level error taxonomy every public operation returns.
type Code string

const (
	InvalidArgument   Code = "invalid_argument"
	NotFound          Code = "not_found"
	AlreadyExists     Code = "already_exists"
	IncompatibleFlow  Code = "incompatible_flow"
	OutOfRangeTooLate Code = "out_of_range_too_late"
	OutOfRangeTooEarly Code = "out_of_range_too_early"
	NotReady          Code = "not_ready"
	Timeout           Code = "timeout"
	Interrupted       Code = "interrupted"
	Stale             Code = "stale"
	Io                Code = "io"
	Internal          Code = "internal"
)

// Error is the structured error returned across every public boundary.
type Error struct {
	Op    string // operation that failed, e.g. "CreateFlowWriter", "OpenGrain"
	FlowID string // flow identifier, empty if not applicable
	Code  Code
	Errno syscall.Errno // underlying errno, 0 if not applicable
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	switch {
	case e.Op != "" && e.FlowID != "":
		return fmt.Sprintf("mxl: %s: %s (flow=%s, code=%s)", e.Op, msg, e.FlowID, e.Code)
	case e.Op != "":
		return fmt.Sprintf("mxl: %s: %s (code=%s)", e.Op, msg, e.Code)
	default:
		return fmt.Sprintf("mxl: %s (code=%s)", msg, e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Inner }

// Is supports errors.Is comparisons against a bare Code sentinel wrapped
// in an *Error, or against another *Error with the same Code.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// New builds a plain structured error.
func New(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// Newf builds a structured error with a formatted message.
func Newf(op string, code Code, format string, args ...any) *Error {
	return &Error{Op: op, Code: code, Msg: fmt.Sprintf(format, args...)}
}

// InvalidArgumentf is a convenience constructor used throughout argument
// validation.
func InvalidArgumentf(format string, args ...any) *Error {
	return &Error{Code: InvalidArgument, Msg: fmt.Sprintf(format, args...)}
}

// WithFlow attaches a flow identifier to an existing structured error,
// constructing one first if err isn't already an *Error.
func WithFlow(err error, flowID string) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		e2 := *e
		e2.FlowID = flowID
		return &e2
	}
	return &Error{FlowID: flowID, Code: Internal, Msg: err.Error(), Inner: err}
}

// Wrap attaches operation context to an arbitrary error, mapping syscall
// errno values to the closest taxonomy code.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		e2 := *e
		e2.Op = op
		return &e2
	}
	if errno, ok := err.(syscall.Errno); ok {
		return &Error{Op: op, Code: codeForErrno(errno), Errno: errno, Msg: errno.Error(), Inner: err}
	}
	return &Error{Op: op, Code: Io, Msg: err.Error(), Inner: err}
}

func codeForErrno(errno syscall.Errno) Code {
	switch errno {
	case syscall.ENOENT:
		return NotFound
	case syscall.EEXIST:
		return AlreadyExists
	case syscall.EINVAL, syscall.E2BIG:
		return InvalidArgument
	case syscall.ETIMEDOUT:
		return Timeout
	case syscall.EINTR:
		return Interrupted
	case syscall.ESTALE:
		return Stale
	default:
		return Io
	}
}

// CodeOf extracts the Code from err if it (or something it wraps) is an
// *Error, and reports whether one was found.
func CodeOf(err error) (Code, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return "", false
}
