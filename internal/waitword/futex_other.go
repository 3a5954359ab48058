//go:build !linux

package waitword

import (
	"sync"
	"sync/atomic"
	"time"
)

// Non-Linux platforms have no futex syscall; fall back to a polling wait
// with a shared broadcast condition so unit tests can run off Linux. The
// production path (internal/shm, internal/layout's release-store fence)
// is Linux-specific anyway.
var (
	fallbackMu   sync.Mutex
	fallbackCond = sync.NewCond(&fallbackMu)
)

func wait(word *uint32, expected uint32, timeout time.Duration) (Outcome, error) {
	deadline := time.Now().Add(timeout)
	fallbackMu.Lock()
	defer fallbackMu.Unlock()
	for atomic.LoadUint32(word) == expected {
		if timeout <= 0 {
			return TimedOut, timeoutErr("waitword.Wait")
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return TimedOut, timeoutErr("waitword.Wait")
		}
		timer := time.AfterFunc(remaining, func() {
			fallbackMu.Lock()
			fallbackCond.Broadcast()
			fallbackMu.Unlock()
		})
		fallbackCond.Wait()
		timer.Stop()
	}
	return Woken, nil
}

func wakeAll(word *uint32) (int, error) {
	fallbackMu.Lock()
	fallbackCond.Broadcast()
	fallbackMu.Unlock()
	return 0, nil
}
