// Package waitword implements the kernel-backed wait/wake primitive on the
// flow header's 32-bit version word (spec §4.C): writers bump the word
// after publishing head_index and wake all waiters; readers double-check
// head_index before and after sampling the word to avoid a lost wakeup.
package waitword

import (
	"sync/atomic"
	"syscall"
	"time"

	"github.com/clearpath-media/mxl/internal/errs"
)

// Outcome is the result of a Wait call.
type Outcome int

const (
	Woken Outcome = iota
	TimedOut
	Stale
)

// Bump atomically increments the word and returns the new value. Callers
// publish head_index first, then Bump, then WakeAll.
func Bump(word *uint32) uint32 {
	return atomic.AddUint32(word, 1)
}

// Wait blocks while *word == expected, up to timeout. A zero or negative
// timeout still performs one non-blocking check.
func Wait(word *uint32, expected uint32, timeout time.Duration) (Outcome, error) {
	if atomic.LoadUint32(word) != expected {
		return Woken, nil
	}
	return wait(word, expected, timeout)
}

// WakeAll unblocks every waiter currently parked on word.
func WakeAll(word *uint32) (int, error) {
	return wakeAll(word)
}

func timeoutErr(op string) error {
	return errs.New(op, errs.Timeout, "wait exceeded deadline")
}

// interruptedErr wraps a signal/errno that aborted a wait. EINTR maps to
// Interrupted; any other errno goes through errs.Wrap, which maps it to the
// closest taxonomy code (Io when nothing closer fits).
func interruptedErr(op string, errno syscall.Errno) error {
	if errno == syscall.EINTR {
		return errs.New(op, errs.Interrupted, "wait interrupted")
	}
	return errs.Wrap(op, errno)
}
