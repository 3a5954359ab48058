package mxl

import (
	"github.com/clearpath-media/mxl/internal/continuous"
	"github.com/clearpath-media/mxl/internal/discrete"
)

// Reader is the tagged-variant handle returned by CreateFlowReader.
type Reader interface {
	Kind() FlowFormat
	// GetConfigInfo returns the flow's fixed shape, captured at open time.
	GetConfigInfo() ConfigInfo
	// GetRuntimeInfo re-queries the flow's current head position, last
	// write time, and writer-conflict-detection fields, revalidating the
	// mapping first (spec §4.H: readers validate inode on every
	// acquisition).
	GetRuntimeInfo() (RuntimeInfo, error)
}

// DiscreteReader is a grain-oriented read session onto a discrete flow's
// ring. It embeds *discrete.Reader directly: TryGetGrain/GetGrain are
// called on it unchanged.
type DiscreteReader struct {
	*discrete.Reader
	format FlowFormat
	cfg    ConfigInfo
}

// Kind reports the flow's format.
func (r *DiscreteReader) Kind() FlowFormat { return r.format }

// GetConfigInfo returns the flow's fixed shape, captured at open time.
func (r *DiscreteReader) GetConfigInfo() ConfigInfo { return r.cfg }

// GetRuntimeInfo re-queries the flow's current head_index/last_write_time/
// writer_ref_count/owner_pid, revalidating the mapping first.
func (r *DiscreteReader) GetRuntimeInfo() (RuntimeInfo, error) {
	info, err := r.Reader.RuntimeInfo()
	if err != nil {
		return RuntimeInfo{}, err
	}
	return runtimeInfoFrom(info), nil
}

// ContinuousReader is a sample-batch read session onto a continuous
// flow's per-channel ring buffers. It embeds *continuous.Reader directly.
type ContinuousReader struct {
	*continuous.Reader
	format FlowFormat
	cfg    ConfigInfo
}

// Kind reports the flow's format.
func (r *ContinuousReader) Kind() FlowFormat { return r.format }

// GetConfigInfo returns the flow's fixed shape, captured at open time.
func (r *ContinuousReader) GetConfigInfo() ConfigInfo { return r.cfg }

// GetRuntimeInfo re-queries the flow's current header state, with
// HeadIndex reflecting channel 0's head_sample_index, revalidating the
// mapping first.
func (r *ContinuousReader) GetRuntimeInfo() (RuntimeInfo, error) {
	info, err := r.Reader.RuntimeInfo()
	if err != nil {
		return RuntimeInfo{}, err
	}
	return runtimeInfoFrom(info), nil
}
