package layout

import (
	"github.com/c2h5oh/datasize"
	"github.com/clearpath-media/mxl/internal/errs"
)

// FlowGeometry describes the caller-requested shape of a new flow, parsed
// from the external descriptor (id/format/rate are handled by flowmgr;
// this struct carries only what Plan needs to size the file).
type FlowGeometry struct {
	Continuous bool

	// Discrete
	GrainRateNum uint64
	GrainRateDen uint64
	GrainSize    uint64

	// Continuous
	SampleRateNum uint64
	SampleRateDen uint64
	ChannelCount  uint64
	SampleWidth   uint64
	BufferLength  uint64 // 0 means "derive from LatencyFloor"
}

// SizingOptions are the Instance-level knobs that affect ring sizing.
type SizingOptions struct {
	LatencyFloor datasize.ByteSize // interpreted as a duration budget in callers' terms; see Plan
	MinRingSize  uint64
}

// Layout is the fully resolved byte layout of a flow's data file.
type Layout struct {
	Geometry      FlowGeometry
	RingSize      uint64 // discrete only
	BufferLength  uint64 // continuous only
	CellStride    uint64
	PayloadOffset uint64
	TotalSize     uint64
}

// Plan computes the cell/channel geometry and total file size for a new
// flow. For discrete flows, ring_size is the smallest power of two such
// that ring_size*grain_duration >= the caller's configured latency floor
// (spec §3 invariant 5); for continuous flows, buffer_length is taken
// as-is if non-zero, else derived the same way from the sample rate.
func Plan(desc FlowGeometry, opts SizingOptions) (Layout, error) {
	if opts.MinRingSize == 0 {
		opts.MinRingSize = 2
	}
	if desc.Continuous {
		return planContinuous(desc, opts)
	}
	return planDiscrete(desc, opts)
}

func planDiscrete(desc FlowGeometry, opts SizingOptions) (Layout, error) {
	if desc.GrainRateNum == 0 || desc.GrainRateDen == 0 {
		return Layout{}, errs.InvalidArgumentf("layout: invalid grain rate %d/%d", desc.GrainRateNum, desc.GrainRateDen)
	}
	if desc.GrainSize == 0 {
		return Layout{}, errs.InvalidArgumentf("layout: grain size must be positive")
	}

	grainDurationNs := desc.GrainRateDen * 1_000_000_000 / desc.GrainRateNum
	minCells := opts.MinRingSize
	if grainDurationNs > 0 && uint64(opts.LatencyFloor) > 0 {
		needed := (uint64(opts.LatencyFloor.Bytes()) + grainDurationNs - 1) / grainDurationNs
		if needed > minCells {
			minCells = needed
		}
	}
	ringSize := nextPow2(minCells)

	cellStride := align64(CellMetaSize + desc.GrainSize)
	payloadOffset := align64(HeaderSize)
	total := payloadOffset + ringSize*cellStride

	return Layout{
		Geometry:      desc,
		RingSize:      ringSize,
		CellStride:    cellStride,
		PayloadOffset: payloadOffset,
		TotalSize:     total,
	}, nil
}

func planContinuous(desc FlowGeometry, opts SizingOptions) (Layout, error) {
	if desc.SampleRateNum == 0 || desc.SampleRateDen == 0 {
		return Layout{}, errs.InvalidArgumentf("layout: invalid sample rate %d/%d", desc.SampleRateNum, desc.SampleRateDen)
	}
	if desc.ChannelCount == 0 {
		return Layout{}, errs.InvalidArgumentf("layout: channel count must be positive")
	}
	if desc.SampleWidth == 0 {
		return Layout{}, errs.InvalidArgumentf("layout: sample width must be positive")
	}

	bufLen := desc.BufferLength
	if bufLen == 0 {
		sampleDurationNs := desc.SampleRateDen * 1_000_000_000 / desc.SampleRateNum
		minSamples := opts.MinRingSize
		if sampleDurationNs > 0 && uint64(opts.LatencyFloor) > 0 {
			needed := (uint64(opts.LatencyFloor.Bytes()) + sampleDurationNs - 1) / sampleDurationNs
			if needed > minSamples {
				minSamples = needed
			}
		}
		bufLen = nextPow2(minSamples)
	}

	channelStride := align64(ChannelMetaSize + bufLen*desc.SampleWidth)
	payloadOffset := align64(HeaderSize)
	total := payloadOffset + desc.ChannelCount*channelStride

	return Layout{
		Geometry:      desc,
		BufferLength:  bufLen,
		CellStride:    channelStride,
		PayloadOffset: payloadOffset,
		TotalSize:     total,
	}, nil
}

func align64(n uint64) uint64 { return (n + CellAlign - 1) &^ (CellAlign - 1) }

func nextPow2(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}
