package constants

import "time"

// Default flow sizing knobs. These are values for callers to pass in;
// nothing in the library substitutes them for a zero option.
const (
	// DefaultLatencyFloorBytes is a value for the latency floor option.
	// Plan reads the floor's numeric value as nanoseconds of ring (or
	// buffer) duration, so this one spans about 4.2ms.
	DefaultLatencyFloorBytes = 4 << 20

	// DefaultMinRingSize is a value for the minimum ring size option, the
	// smallest grain count a discrete flow's ring is sized to regardless of
	// the latency floor. When that option is zero, Plan uses 2.
	DefaultMinRingSize = 4

	// DefaultLookahead is how many indices past head_index a reader may
	// request before TryGetGrain/TryGetSamples report OutOfRangeTooEarly.
	DefaultLookahead = 8

	// DefaultSlack is the extra margin subtracted from the eviction
	// boundary so a reader a few grains behind head_index isn't evicted
	// the instant the ring wraps under it.
	DefaultSlack = 1
)

// Domain garbage collection defaults.
//
// A flow becomes collectible once writer_ref_count drops to zero (or its
// owning process has died) and no reader has touched the access sentinel
// for idle_window. Watch polls at scan_interval; these two knobs trade GC
// promptness against scan overhead on large domains.
const (
	// DefaultIdleWindow is how long a flow may sit with no writer and no
	// reader activity before it becomes eligible for collection.
	DefaultIdleWindow = 30 * time.Second

	// DefaultScanInterval is a re-scan interval to pass to Watch, which
	// takes its interval as a parameter.
	DefaultScanInterval = 5 * time.Second
)
