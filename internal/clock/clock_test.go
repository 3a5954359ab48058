package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now int64 }

func (f *fakeClock) Now() int64 { return f.now }

func TestIndexAndTimestampRoundTrip(t *testing.T) {
	rate := Rate{Num: 30000, Den: 1001}

	idx, err := Index(rate, 1_000_000_000)
	require.NoError(t, err)
	require.Equal(t, uint64(30), idx)

	ts, err := Timestamp(rate, idx)
	require.NoError(t, err)
	require.InDelta(t, 1_000_000_000, ts, float64(time.Duration(rate.Den)*time.Second/time.Duration(rate.Num))*2)
}

func TestIndexRejectsInvalidRate(t *testing.T) {
	_, err := Index(Rate{}, 0)
	require.Error(t, err)
}

func TestIndexRejectsNegativeTimestamp(t *testing.T) {
	_, err := Index(Rate{Num: 48000, Den: 1}, -1)
	require.Error(t, err)
}

func TestNsUntilUsesSource(t *testing.T) {
	rate := Rate{Num: 48000, Den: 1}
	clk := &fakeClock{now: 0}
	ns, err := NsUntil(clk, 48000, rate)
	require.NoError(t, err)
	require.Equal(t, int64(time.Second), ns)
}

func TestSleepForNsHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := SleepForNs(ctx, int64(time.Hour))
	require.ErrorIs(t, err, context.Canceled)
}

func TestSleepForNsNonPositiveReturnsImmediately(t *testing.T) {
	require.NoError(t, SleepForNs(context.Background(), 0))
	require.NoError(t, SleepForNs(context.Background(), -5))
}

func TestSleepUntilIndexComposesNsUntilAndSleep(t *testing.T) {
	rate := Rate{Num: 1000, Den: 1}
	clk := &fakeClock{now: 0}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := SleepUntilIndex(ctx, clk, 1, rate)
	require.NoError(t, err)
}
