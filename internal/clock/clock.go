// Package clock provides TAI time and rate/index conversions for flows.
//
// Time is expressed as nanoseconds since the SMPTE ST 2059 epoch
// (1970-01-01 TAI), matching the host's monotonic TAI-aligned clock that
// the rest of the system assumes is available.
package clock

import (
	"context"
	"time"

	"github.com/clearpath-media/mxl/internal/errs"
)

// Rate is a rational grain/sample rate, numerator over denominator.
type Rate struct {
	Num uint64
	Den uint64
}

func (r Rate) valid() bool {
	return r.Num != 0 && r.Den != 0
}

// Source supplies the current TAI time in nanoseconds. SystemClock is the
// production implementation; tests substitute a fake.
type Source interface {
	Now() int64
}

// SystemClock reads the host clock, assumed to be TAI-steered per the
// deployment's non-goals (no NTP/UTC leap-second handling here).
type SystemClock struct{}

func (SystemClock) Now() int64 { return time.Now().UnixNano() }

// Index converts a TAI timestamp to a grain/sample index at the given rate.
//
//	index(t) = round(t * n / (d * 1e9))
func Index(rate Rate, taiNs int64) (uint64, error) {
	if !rate.valid() {
		return 0, errs.InvalidArgumentf("clock: invalid rate %d/%d", rate.Num, rate.Den)
	}
	if taiNs < 0 {
		return 0, errs.InvalidArgumentf("clock: negative timestamp %d", taiNs)
	}
	num := uint64(taiNs) * rate.Num
	den := rate.Den * uint64(time.Second)
	return roundDiv(num, den), nil
}

// Timestamp converts a grain/sample index to a TAI timestamp at the given rate.
//
//	timestamp(i) = round(i * d * 1e9 / n)
func Timestamp(rate Rate, index uint64) (int64, error) {
	if !rate.valid() {
		return 0, errs.InvalidArgumentf("clock: invalid rate %d/%d", rate.Num, rate.Den)
	}
	num := index * rate.Den * uint64(time.Second)
	return int64(roundDiv(num, rate.Num)), nil
}

// NsUntil returns timestamp(index, rate) - clk.Now(). A blocking caller
// treats a negative result as "already due".
func NsUntil(clk Source, index uint64, rate Rate) (int64, error) {
	ts, err := Timestamp(rate, index)
	if err != nil {
		return 0, err
	}
	return ts - clk.Now(), nil
}

// SleepForNs blocks for ns nanoseconds or until ctx is done, whichever is
// first. A non-positive ns returns immediately. Cancellation maps to the
// caller's Interrupted handling via ctx.Err().
func SleepForNs(ctx context.Context, ns int64) error {
	if ns <= 0 {
		return nil
	}
	t := time.NewTimer(time.Duration(ns))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SleepUntilIndex blocks until timestamp(index, rate) or ctx cancellation.
func SleepUntilIndex(ctx context.Context, clk Source, index uint64, rate Rate) error {
	ns, err := NsUntil(clk, index, rate)
	if err != nil {
		return err
	}
	return SleepForNs(ctx, ns)
}

// roundDiv computes round(num/den) for non-negative integers using
// half-up rounding, matching the round() in spec.md's formulas.
func roundDiv(num, den uint64) uint64 {
	if den == 0 {
		return 0
	}
	return (num + den/2) / den
}
