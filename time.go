package mxl

import (
	"context"

	"github.com/clearpath-media/mxl/internal/clock"
)

// Now returns TAI nanoseconds since the SMPTE ST 2059 epoch, per the
// system clock.
func Now() int64 { return clock.SystemClock{}.Now() }

// Index converts a TAI timestamp to a grain/sample index at rate.
func Index(rate Rate, taiNs int64) (uint64, error) {
	return clock.Index(clock.Rate{Num: rate.Num, Den: rate.Den}, taiNs)
}

// Timestamp converts a grain/sample index to its TAI timestamp at rate.
func Timestamp(rate Rate, index uint64) (int64, error) {
	return clock.Timestamp(clock.Rate{Num: rate.Num, Den: rate.Den}, index)
}

// NsUntil returns the nanoseconds from now until index's timestamp at
// rate; negative if index's timestamp is already in the past.
func NsUntil(rate Rate, index uint64) (int64, error) {
	return clock.NsUntil(clock.SystemClock{}, index, clock.Rate{Num: rate.Num, Den: rate.Den})
}

// SleepForNs blocks for ns nanoseconds, or until ctx is cancelled,
// whichever comes first. A non-positive ns returns immediately.
func SleepForNs(ctx context.Context, ns int64) error {
	return clock.SleepForNs(ctx, ns)
}

// SleepUntilIndex blocks until index's timestamp at rate, or until ctx is
// cancelled.
func SleepUntilIndex(ctx context.Context, rate Rate, index uint64) error {
	return clock.SleepUntilIndex(ctx, clock.SystemClock{}, index, clock.Rate{Num: rate.Num, Den: rate.Den})
}
