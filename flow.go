package mxl

import (
	"github.com/google/uuid"

	"github.com/clearpath-media/mxl/internal/flowmgr"
	"github.com/clearpath-media/mxl/internal/layout"
)

// FlowFormat identifies the media kind a flow carries.
type FlowFormat uint32

const (
	FlowFormatUnspecified = FlowFormat(layout.FormatUnspecified)
	FlowFormatVideo       = FlowFormat(layout.FormatVideo)
	FlowFormatAudio       = FlowFormat(layout.FormatAudio)
	FlowFormatData        = FlowFormat(layout.FormatData)
)

// Rate is a rational samples/frames-per-second rate.
type Rate struct {
	Num uint64
	Den uint64
}

// Geometry carries the format-specific sizing fields of a flow descriptor.
// Discrete flows set GrainSize; continuous flows set ChannelCount,
// SampleWidth, and optionally BufferLength (0 derives it from the
// Instance's latency floor).
type Geometry struct {
	GrainSize    uint64
	ChannelCount uint64
	SampleWidth  uint64
	BufferLength uint64
}

// FlowDescriptor is the subset of an external NMOS-style descriptor the
// core needs to create or attach to a flow. Full descriptor parsing and
// validation is the embedding application's concern (spec §1 non-goals).
type FlowDescriptor struct {
	ID         uuid.UUID
	Format     FlowFormat
	Continuous bool
	Rate       Rate
	Geometry   Geometry
}

// ConfigInfo is what a caller learns about a flow's on-disk shape at
// creation or attach time.
type ConfigInfo struct {
	ID           uuid.UUID
	Format       FlowFormat
	Continuous   bool
	Rate         Rate
	RingSize     uint64
	GrainSize    uint64
	ChannelCount uint64
	SampleWidth  uint64
	BufferLength uint64
}

// RuntimeInfo is the mutable, re-queryable slice of a flow's state (spec
// §6's get_runtime_info): current head position, last write time, and
// the writer-conflict-detection fields.
type RuntimeInfo struct {
	HeadIndex      uint64
	LastWriteTime  int64
	WriterRefCount uint32
	OwnerPID       uint64
}

func runtimeInfoFrom(info layout.RuntimeInfo) RuntimeInfo {
	return RuntimeInfo{
		HeadIndex:      info.HeadIndex,
		LastWriteTime:  info.LastWriteTime,
		WriterRefCount: info.WriterRefCount,
		OwnerPID:       info.OwnerPID,
	}
}

func configInfoFrom(c flowmgr.ConfigInfo) ConfigInfo {
	return ConfigInfo{
		ID:           c.ID,
		Format:       FlowFormat(c.Format),
		Continuous:   c.Continuous,
		Rate:         Rate{Num: c.RateNum, Den: c.RateDen},
		RingSize:     c.RingSize,
		GrainSize:    c.GrainSize,
		ChannelCount: c.ChannelCount,
		SampleWidth:  c.SampleWidth,
		BufferLength: c.BufferLength,
	}
}
