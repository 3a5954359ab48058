package mxl

import (
	"errors"
	"syscall"

	"github.com/clearpath-media/mxl/internal/errs"
)

// Error is the structured error type returned across every public MXL
// operation. It is a thin alias of the internal type so that packages
// below the root (clock, shm, waitword, layout, discrete, continuous,
// flowmgr, domain) can construct these without importing the root
// package.
type Error = errs.Error

// Code is the high-level error taxonomy (spec.md §7).
type Code = errs.Code

const (
	InvalidArgument    = errs.InvalidArgument
	NotFound           = errs.NotFound
	AlreadyExists      = errs.AlreadyExists
	IncompatibleFlow   = errs.IncompatibleFlow
	OutOfRangeTooLate  = errs.OutOfRangeTooLate
	OutOfRangeTooEarly = errs.OutOfRangeTooEarly
	NotReady           = errs.NotReady
	Timeout            = errs.Timeout
	Interrupted        = errs.Interrupted
	Stale              = errs.Stale
	Io                 = errs.Io
	Internal           = errs.Internal
)

// NewError builds a plain structured error.
func NewError(op string, code Code, msg string) *Error { return errs.New(op, code, msg) }

// WrapError wraps an existing error with an operation name and errno
// mapping, matching the teacher's WrapError shape.
func WrapError(op string, inner error) error { return errs.Wrap(op, inner) }

// IsCode reports whether err (or something it wraps) carries the given
// error code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsErrno reports whether err (or something it wraps) carries the given
// errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Errno == errno
	}
	return false
}
