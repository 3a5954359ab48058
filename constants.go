package mxl

import "github.com/clearpath-media/mxl/internal/constants"

// Default knobs, re-exported for callers that want the library defaults
// without importing the internal package.
const (
	DefaultLatencyFloorBytes = constants.DefaultLatencyFloorBytes
	DefaultMinRingSize       = constants.DefaultMinRingSize
	DefaultLookahead         = constants.DefaultLookahead
	DefaultSlack             = constants.DefaultSlack
	DefaultIdleWindow        = constants.DefaultIdleWindow
	DefaultScanInterval      = constants.DefaultScanInterval
)
