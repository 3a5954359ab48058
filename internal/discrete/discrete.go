// Package discrete implements the grain-oriented writer/reader for video
// and ancillary-data flows (spec §4.E): a power-of-two ring of fixed-size
// cells, single writer, many readers, coordinated through the flow
// header's head_index and wait_word.
package discrete

import (
	"context"
	"sync"
	"time"

	"github.com/clearpath-media/mxl/internal/errs"
	"github.com/clearpath-media/mxl/internal/layout"
	"github.com/clearpath-media/mxl/internal/waitword"
)

// cellState mirrors the teacher's per-tag state machine: one state per
// slot, all guarded by the writer's single mutex, transitions driven by
// open/commit/cancel instead of a kernel completion queue.
type cellState int

const (
	cellEmpty cellState = iota
	cellInProgress
	cellPartiallyCommitted
	cellCommitted
)

// CommitMeta carries the fields a writer supplies at commit time.
type CommitMeta struct {
	CommittedSize uint64
	ValidSlices   uint32
	TotalSlices   uint32
	Flags         uint32
	PayloadLoc    uint32
	DeviceIndex   uint32
}

// GrainWriteAccess is a scoped write session: it exclusively owns the
// right to mutate and later commit or cancel one cell. Dropping it without
// an explicit Commit/Cancel is a caller bug; the writer's per-cell state
// guards against a later OpenGrain on the same slot seeing inconsistent
// state, but does not by itself reclaim the slot.
type GrainWriteAccess struct {
	w     *Writer
	index uint64
	cell  uint64
	view  layout.CellView
}

// Payload returns the mutable payload bytes for this session.
func (s *GrainWriteAccess) Payload() []byte { return s.view.Payload() }

// Writer is a single-producer handle onto a discrete flow's ring.
type Writer struct {
	header      *layout.Header
	ringSize    uint64
	cellStride  uint64
	payloadBase func() []byte // deferred so tests can swap a fresh buffer

	mu     sync.Mutex // guards states only; payload writes are lock-free per-cell
	states []cellState
}

// NewWriter builds a writer over an already-initialized header and payload
// region. payloadBase returns the raw bytes backing the ring on each call
// (normally a closure over a shm.Segment).
func NewWriter(header *layout.Header, ringSize, cellStride uint64, payloadBase func() []byte) *Writer {
	return &Writer{
		header:      header,
		ringSize:    ringSize,
		cellStride:  cellStride,
		payloadBase: payloadBase,
		states:      make([]cellState, ringSize),
	}
}

func (w *Writer) cellView(c uint64) layout.CellView {
	buf := w.payloadBase()
	base := unsafeBase(buf)
	return layout.Cell(base, w.cellStride, c)
}

// OpenGrain requires index == head_index+1, or an index already in
// progress (re-opening a partially-committed grain to finish it).
func (w *Writer) OpenGrain(index uint64) (*GrainWriteAccess, error) {
	head := w.header.HeadIndex()
	cell := index % w.ringSize

	w.mu.Lock()
	state := w.states[cell]
	w.mu.Unlock()

	open := state == cellInProgress || state == cellPartiallyCommitted
	switch {
	case open && w.cellView(cell).GrainIndex() == index:
		// re-open the in-progress grain, keeping its metadata.
		return &GrainWriteAccess{w: w, index: index, cell: cell, view: w.cellView(cell)}, nil
	case index == head+1:
		// fresh grain; head+1 wraps NoHeadIndex to 0 for a flow's first grain.
	case open:
		return nil, errs.New("discrete.OpenGrain", errs.OutOfRangeTooLate, "slot reused by a later grain")
	default:
		return nil, errs.Newf("discrete.OpenGrain", errs.OutOfRangeTooLate, "index %d is not head+1 and not in progress (head=%d)", index, head)
	}

	view := w.cellView(cell)
	view.SetGrainIndex(index)
	view.SetGrainSize(uint64(len(view.Payload())))
	view.SetCommittedSize(0)
	view.SetValidSlices(0)

	w.mu.Lock()
	w.states[cell] = cellInProgress
	w.mu.Unlock()

	return &GrainWriteAccess{w: w, index: index, cell: cell, view: view}, nil
}

// Commit writes cell metadata with release ordering, then advances
// head_index and wakes waiters. A commit with ValidSlices < TotalSlices is
// partial: head_index does not advance and the session remains open for a
// later completing Commit on the same index.
func (w *Writer) Commit(s *GrainWriteAccess, meta CommitMeta, taiNs int64) error {
	v := s.view
	v.SetGrainTimeStamp(taiNs)
	v.SetCommittedSize(meta.CommittedSize)
	v.SetValidSlices(meta.ValidSlices)
	v.SetTotalSlices(meta.TotalSlices)
	v.SetFlags(meta.Flags)
	v.SetPayloadLocation(meta.PayloadLoc)
	v.SetDeviceIndex(meta.DeviceIndex)

	layout.StoreFence()

	partial := meta.ValidSlices < meta.TotalSlices

	w.mu.Lock()
	if partial {
		w.states[s.cell] = cellPartiallyCommitted
	} else {
		w.states[s.cell] = cellCommitted
	}
	w.mu.Unlock()

	if partial {
		// Partial commits still wake waiters blocked on this index, but
		// head_index must not advance past an incomplete grain.
		waitword.Bump(w.header.WaitWordPtr())
		_, err := waitword.WakeAll(w.header.WaitWordPtr())
		return err
	}

	if head := w.header.HeadIndex(); head == layout.NoHeadIndex || s.index > head {
		w.header.SetHeadIndex(s.index)
	}
	w.header.SetLastWriteTime(taiNs)
	layout.FullFence()
	waitword.Bump(w.header.WaitWordPtr())
	_, err := waitword.WakeAll(w.header.WaitWordPtr())
	return err
}

// Cancel drops the session without publishing; readers never observe the
// partial writes.
func (w *Writer) Cancel(s *GrainWriteAccess) {
	w.mu.Lock()
	w.states[s.cell] = cellEmpty
	w.mu.Unlock()
}

// RuntimeInfo snapshots the flow's current head_index/last_write_time/
// writer_ref_count/owner_pid.
func (w *Writer) RuntimeInfo() layout.RuntimeInfo { return w.header.RuntimeInfo() }

// Reader is a read-only handle onto a discrete flow's ring. Safe for
// concurrent use across goroutines.
type Reader struct {
	header      *layout.Header
	ringSize    uint64
	cellStride  uint64
	payloadBase func() []byte
	lookahead   uint64
	slack       uint64
	revalidate  func() error
}

// NewReader builds a reader over a mapped flow. lookahead bounds how far
// past head_index a request may land before OutOfRangeTooEarly; slack is
// the margin subtracted from ring_size before a requested index is
// considered evicted (spec §4.E). revalidate is called on every
// acquisition to detect the flow directory being recreated out from under
// this mapping (normally a closure over a shm.Segment's Revalidate); nil
// disables the check.
func NewReader(header *layout.Header, ringSize, cellStride uint64, payloadBase func() []byte, lookahead, slack uint64, revalidate func() error) *Reader {
	return &Reader{
		header:      header,
		ringSize:    ringSize,
		cellStride:  cellStride,
		payloadBase: payloadBase,
		lookahead:   lookahead,
		slack:       slack,
		revalidate:  revalidate,
	}
}

// GrainView is the immutable snapshot a reader observes for one grain.
type GrainView struct {
	Index         uint64
	TimeStamp     int64
	GrainSize     uint64
	CommittedSize uint64
	ValidSlices   uint32
	TotalSlices   uint32
	Flags         uint32
	PayloadLoc    uint32
	DeviceIndex   uint32
	Payload       []byte
}

func (r *Reader) cellView(c uint64) layout.CellView {
	buf := r.payloadBase()
	base := unsafeBase(buf)
	return layout.Cell(base, r.cellStride, c)
}

// RuntimeInfo snapshots the flow's current head_index/last_write_time/
// writer_ref_count/owner_pid, revalidating the mapping first.
func (r *Reader) RuntimeInfo() (layout.RuntimeInfo, error) {
	if r.revalidate != nil {
		if err := r.revalidate(); err != nil {
			return layout.RuntimeInfo{}, err
		}
	}
	return r.header.RuntimeInfo(), nil
}

// TryGetGrain never blocks.
func (r *Reader) TryGetGrain(index uint64) (GrainView, error) {
	if r.revalidate != nil {
		if err := r.revalidate(); err != nil {
			return GrainView{}, err
		}
	}

	head := r.header.HeadIndex()
	if head == layout.NoHeadIndex {
		if index > r.lookahead {
			return GrainView{}, errs.New("discrete.TryGetGrain", errs.OutOfRangeTooEarly, "index not yet populated")
		}
	} else {
		if r.ringSize > r.slack && head >= r.ringSize-1-r.slack && index < head-(r.ringSize-1-r.slack) {
			return GrainView{}, errs.New("discrete.TryGetGrain", errs.OutOfRangeTooLate, "index evicted from ring")
		}
		if index > head+r.lookahead {
			return GrainView{}, errs.New("discrete.TryGetGrain", errs.OutOfRangeTooEarly, "index not yet populated")
		}
	}

	cell := index % r.ringSize
	v := r.cellView(cell)
	if v.GrainIndex() != index {
		return GrainView{}, errs.New("discrete.TryGetGrain", errs.NotReady, "cell aliased by a different index")
	}

	committed := v.CommittedSize()
	payload := v.Payload()
	if committed > uint64(len(payload)) {
		committed = uint64(len(payload))
	}

	return GrainView{
		Index:         index,
		TimeStamp:     v.GrainTimeStamp(),
		GrainSize:     v.GrainSize(),
		CommittedSize: committed,
		ValidSlices:   v.ValidSlices(),
		TotalSlices:   v.TotalSlices(),
		Flags:         v.Flags(),
		PayloadLoc:    v.PayloadLocation(),
		DeviceIndex:   v.DeviceIndex(),
		Payload:       payload[:committed],
	}, nil
}

// GetGrain blocks up to timeout using the wait_word double-check protocol:
// sample head_index, then the wait word, re-check head_index, then park.
func (r *Reader) GetGrain(ctx context.Context, index uint64, timeout time.Duration) (GrainView, error) {
	deadline := time.Now().Add(timeout)
	for {
		view, err := r.TryGetGrain(index)
		if err == nil {
			return view, nil
		}
		if code, ok := errs.CodeOf(err); ok && code != errs.NotReady {
			return GrainView{}, err
		}

		word := r.header.WaitWord()
		if v2, err2 := r.TryGetGrain(index); err2 == nil {
			return v2, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return GrainView{}, errs.New("discrete.GetGrain", errs.Timeout, "deadline exceeded")
		}
		select {
		case <-ctx.Done():
			return GrainView{}, errs.New("discrete.GetGrain", errs.Interrupted, ctx.Err().Error())
		default:
		}

		outcome, werr := waitFn(r.header.WaitWordPtr(), word, remaining)
		_ = outcome
		if werr != nil {
			if code, ok := errs.CodeOf(werr); ok && code == errs.Timeout {
				continue // loop once more to re-check before surfacing timeout
			}
			return GrainView{}, werr
		}
	}
}
