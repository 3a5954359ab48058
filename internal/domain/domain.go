// Package domain implements the domain-wide scan and garbage collection of
// abandoned flows (spec §4.H): enumerate flow directories, read
// writer_ref_count and the access sentinel's mtime, remove what's both
// writerless and idle past the configured window.
package domain

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/exp/slices"

	"github.com/clearpath-media/mxl/internal/clock"
	"github.com/clearpath-media/mxl/internal/errs"
	"github.com/clearpath-media/mxl/internal/layout"
	"github.com/clearpath-media/mxl/internal/logging"
	"github.com/clearpath-media/mxl/internal/shm"
)

// FlowStatus is one entry of a domain scan.
type FlowStatus struct {
	ID             string
	Dir            string
	WriterRefCount uint32
	OwnerPID       uint64
	WriterAlive    bool
	LastAccess     time.Time
	IdleFor        time.Duration
	Collectible    bool
}

// Scan enumerates every <uuid>.mxl-flow directory under domainPath and
// reports each flow's writer_ref_count and access mtime. clk supplies "now"
// for idle-duration computation, so tests can substitute a fake.
func Scan(domainPath string, clk clock.Source) ([]FlowStatus, error) {
	entries, err := os.ReadDir(domainPath)
	if err != nil {
		return nil, errs.Wrap("domain.Scan", err)
	}

	now := time.Unix(0, clk.Now())
	var statuses []FlowStatus
	for _, e := range entries {
		if !e.IsDir() || !strings.HasSuffix(e.Name(), ".mxl-flow") {
			continue
		}
		dir := filepath.Join(domainPath, e.Name())
		id := strings.TrimSuffix(e.Name(), ".mxl-flow")

		st, err := statusOf(dir, id, now)
		if err != nil {
			continue // a flow mid-creation/removal is not an error for the scan as a whole
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

func statusOf(dir, id string, now time.Time) (FlowStatus, error) {
	seg, err := shm.OpenRO(filepath.Join(dir, "data"))
	if err != nil {
		return FlowStatus{}, err
	}
	defer seg.Close()

	header, err := layout.NewHeader(seg.Bytes())
	if err != nil {
		return FlowStatus{}, err
	}

	accessInfo, err := os.Stat(filepath.Join(dir, "access"))
	if err != nil {
		return FlowStatus{}, errs.Wrap("domain.statusOf", err)
	}

	refCount := header.WriterRefCount()
	owner := header.OwnerPID()
	alive := refCount > 0 && owner != 0 && pidAlive(int(owner))

	idle := now.Sub(accessInfo.ModTime())
	return FlowStatus{
		ID:             id,
		Dir:            dir,
		WriterRefCount: refCount,
		OwnerPID:       owner,
		WriterAlive:    alive,
		LastAccess:     accessInfo.ModTime(),
		IdleFor:        idle,
	}, nil
}

// pidAlive reports whether pid refers to a live process. A crashed writer
// leaves writer_ref_count elevated with a stale owner pid; the idle-window
// policy below is what actually reclaims the flow in that case, not a
// correction to the ref count itself.
func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// CollectReport is the outcome of one Collect pass.
type CollectReport struct {
	Removed []FlowStatus
	Skipped []FlowStatus
}

// Collect removes every collectible flow: no live writer (writer_ref_count
// zero, or elevated but owned by a process that no longer exists) and idle
// past idleWindow. Removal is rename-then-unlink, tolerating a reader
// attaching mid-scan (it will observe Stale on its next Revalidate).
func Collect(domainPath string, idleWindow time.Duration, clk clock.Source) (CollectReport, error) {
	statuses, err := Scan(domainPath, clk)
	if err != nil {
		return CollectReport{}, err
	}

	var report CollectReport
	for _, st := range statuses {
		st.Collectible = !st.WriterAlive && st.IdleFor > idleWindow
		if !st.Collectible {
			report.Skipped = append(report.Skipped, st)
			continue
		}
		if err := removeFlowDir(st.Dir); err != nil {
			logging.Warn("gc: failed to remove collectible flow", "flow_id", st.ID, "idle_for", st.IdleFor, "err", err)
			report.Skipped = append(report.Skipped, st)
			continue
		}
		logging.Info("gc: removed abandoned flow", "flow_id", st.ID, "idle_for", st.IdleFor, "writer_ref_count", st.WriterRefCount)
		report.Removed = append(report.Removed, st)
	}

	byIdleDesc := func(a, b FlowStatus) bool {
		return a.IdleFor > b.IdleFor
	}
	slices.SortFunc(report.Removed, byIdleDesc)
	slices.SortFunc(report.Skipped, byIdleDesc)

	return report, nil
}

func removeFlowDir(dir string) error {
	tmp := dir + ".gc-tmp"
	if err := os.Rename(dir, tmp); err != nil {
		return errs.Wrap("domain.removeFlowDir", err)
	}
	if err := os.RemoveAll(tmp); err != nil {
		return errs.Wrap("domain.removeFlowDir", err)
	}
	return nil
}

// Watch runs Collect on an interval until ctx is cancelled, retrying a
// transient scan failure (e.g. the domain directory momentarily unreadable
// during concurrent flow creation) a bounded number of times before giving
// up the pass and waiting for the next tick.
func Watch(ctx context.Context, domainPath string, interval, idleWindow time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	const maxRetries = 3
	retryBackoff := backoff.ExponentialBackOff{
		InitialInterval:     backoff.DefaultInitialInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         interval,
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			retryBackoff.Reset()
			for attempt := 0; ; attempt++ {
				if _, err := Collect(domainPath, idleWindow, clock.SystemClock{}); err != nil {
					if attempt+1 >= maxRetries {
						logging.Warn("gc: pass failed, giving up until next tick", "attempts", attempt+1, "err", err)
						break
					}
					logging.Debug("gc: pass failed, retrying", "attempt", attempt+1, "err", err)
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(retryBackoff.NextBackOff()):
					}
					continue
				}
				break
			}
		}
	}
}
