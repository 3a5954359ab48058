package layout

import (
	"sync/atomic"
	"unsafe"
)

// CellView is an accessor over one discrete ring cell: 64-byte metadata
// followed by payload bytes.
type CellView struct {
	base unsafe.Pointer
	size uint64 // payload capacity (cell stride - CellMetaSize)
}

// Cell returns the view for cell index c within a payload region starting
// at payloadBase, given the flow's cell stride.
func Cell(payloadBase unsafe.Pointer, stride uint64, c uint64) CellView {
	return CellView{
		base: unsafe.Add(payloadBase, c*stride),
		size: stride - CellMetaSize,
	}
}

func (v CellView) ptr32(off uintptr) *uint32 { return (*uint32)(unsafe.Add(v.base, off)) }
func (v CellView) ptr64(off uintptr) *uint64 { return (*uint64)(unsafe.Add(v.base, off)) }

func (v CellView) GrainIndex() uint64     { return atomic.LoadUint64(v.ptr64(CellOffGrainIndex)) }
func (v CellView) SetGrainIndex(i uint64) { atomic.StoreUint64(v.ptr64(CellOffGrainIndex), i) }

func (v CellView) GrainTimeStamp() int64 {
	return int64(atomic.LoadUint64(v.ptr64(CellOffGrainTimeStamp)))
}
func (v CellView) SetGrainTimeStamp(ns int64) {
	atomic.StoreUint64(v.ptr64(CellOffGrainTimeStamp), uint64(ns))
}

func (v CellView) GrainSize() uint64     { return atomic.LoadUint64(v.ptr64(CellOffGrainSize)) }
func (v CellView) SetGrainSize(n uint64) { atomic.StoreUint64(v.ptr64(CellOffGrainSize), n) }

func (v CellView) CommittedSize() uint64     { return atomic.LoadUint64(v.ptr64(CellOffCommittedSize)) }
func (v CellView) SetCommittedSize(n uint64) { atomic.StoreUint64(v.ptr64(CellOffCommittedSize), n) }

func (v CellView) ValidSlices() uint32     { return atomic.LoadUint32(v.ptr32(CellOffValidSlices)) }
func (v CellView) SetValidSlices(n uint32) { atomic.StoreUint32(v.ptr32(CellOffValidSlices), n) }

func (v CellView) TotalSlices() uint32     { return atomic.LoadUint32(v.ptr32(CellOffTotalSlices)) }
func (v CellView) SetTotalSlices(n uint32) { atomic.StoreUint32(v.ptr32(CellOffTotalSlices), n) }

func (v CellView) Flags() uint32     { return atomic.LoadUint32(v.ptr32(CellOffFlags)) }
func (v CellView) SetFlags(f uint32) { atomic.StoreUint32(v.ptr32(CellOffFlags), f) }

func (v CellView) PayloadLocation() uint32     { return atomic.LoadUint32(v.ptr32(CellOffPayloadLoc)) }
func (v CellView) SetPayloadLocation(l uint32) { atomic.StoreUint32(v.ptr32(CellOffPayloadLoc), l) }

func (v CellView) DeviceIndex() uint32     { return atomic.LoadUint32(v.ptr32(CellOffDeviceIndex)) }
func (v CellView) SetDeviceIndex(idx uint32) { atomic.StoreUint32(v.ptr32(CellOffDeviceIndex), idx) }

// Payload returns the mutable byte slice backing this cell's payload
// region, capacity bytes long.
func (v CellView) Payload() []byte {
	ptr := (*byte)(unsafe.Add(v.base, CellMetaSize))
	return unsafe.Slice(ptr, v.size)
}

// ChannelView is an accessor over one continuous channel's metadata plus
// its circular sample buffer.
type ChannelView struct {
	base         unsafe.Pointer
	bufferLength uint64
	sampleWidth  uint64
}

// Channel returns the view for channel index c.
func Channel(payloadBase unsafe.Pointer, stride uint64, c uint64, bufferLength, sampleWidth uint64) ChannelView {
	return ChannelView{
		base:         unsafe.Add(payloadBase, c*stride),
		bufferLength: bufferLength,
		sampleWidth:  sampleWidth,
	}
}

func (v ChannelView) ptr64() *uint64 { return (*uint64)(unsafe.Add(v.base, ChannelOffHeadSampleIndex)) }

func (v ChannelView) HeadSampleIndex() uint64     { return atomic.LoadUint64(v.ptr64()) }
func (v ChannelView) SetHeadSampleIndex(i uint64) { atomic.StoreUint64(v.ptr64(), i) }

// ring returns the full circular sample buffer for this channel, in bytes.
func (v ChannelView) ring() []byte {
	ptr := (*byte)(unsafe.Add(v.base, ChannelMetaSize))
	return unsafe.Slice(ptr, v.bufferLength*v.sampleWidth)
}

// Span returns the byte range [startSample, startSample+count) within the
// ring, not wrapping; callers must split across the wrap point themselves
// (see internal/continuous).
func (v ChannelView) Span(startSample, count uint64) []byte {
	ring := v.ring()
	off := startSample * v.sampleWidth
	n := count * v.sampleWidth
	return ring[off : off+n]
}

// BufferLength is the channel's ring length in samples.
func (v ChannelView) BufferLength() uint64 { return v.bufferLength }

// SampleWidth is the per-sample byte width.
func (v ChannelView) SampleWidth() uint64 { return v.sampleWidth }
