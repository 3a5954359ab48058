package mxl

import (
	"github.com/clearpath-media/mxl/internal/continuous"
	"github.com/clearpath-media/mxl/internal/discrete"
)

// Writer is the tagged-variant handle returned by CreateFlowWriter: a type
// switch (or Kind()) distinguishes the discrete and continuous concrete
// types rather than a shared polymorphic interface.
type Writer interface {
	Kind() FlowFormat
	// GetConfigInfo returns the flow's fixed shape, captured at open time.
	GetConfigInfo() ConfigInfo
	// GetRuntimeInfo snapshots the flow's current head position, last
	// write time, and writer-conflict-detection fields.
	GetRuntimeInfo() RuntimeInfo
}

// DiscreteWriter is a grain-oriented write session onto a discrete flow's
// ring. It embeds *discrete.Writer directly: OpenGrain/Commit/Cancel are
// called on it unchanged.
type DiscreteWriter struct {
	*discrete.Writer
	format FlowFormat
	cfg    ConfigInfo
}

// Kind reports the flow's format.
func (w *DiscreteWriter) Kind() FlowFormat { return w.format }

// GetConfigInfo returns the flow's fixed shape, captured at open time.
func (w *DiscreteWriter) GetConfigInfo() ConfigInfo { return w.cfg }

// GetRuntimeInfo snapshots the flow's current head_index/last_write_time/
// writer_ref_count/owner_pid.
func (w *DiscreteWriter) GetRuntimeInfo() RuntimeInfo { return runtimeInfoFrom(w.Writer.RuntimeInfo()) }

// ContinuousWriter is a sample-batch write session onto a continuous
// flow's per-channel ring buffers. It embeds *continuous.Writer directly.
type ContinuousWriter struct {
	*continuous.Writer
	format FlowFormat
	cfg    ConfigInfo
}

// Kind reports the flow's format.
func (w *ContinuousWriter) Kind() FlowFormat { return w.format }

// GetConfigInfo returns the flow's fixed shape, captured at open time.
func (w *ContinuousWriter) GetConfigInfo() ConfigInfo { return w.cfg }

// GetRuntimeInfo snapshots the flow's current header state, with HeadIndex
// reflecting channel 0's head_sample_index.
func (w *ContinuousWriter) GetRuntimeInfo() RuntimeInfo {
	return runtimeInfoFrom(w.Writer.RuntimeInfo())
}
