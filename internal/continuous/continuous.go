// Package continuous implements the sample-batch writer/reader for
// multi-channel audio flows (spec §4.F): one circular buffer per channel,
// a batch that may need splitting into a pre-wrap and post-wrap fragment.
package continuous

import (
	"context"
	"sync"
	"time"

	"github.com/clearpath-media/mxl/internal/errs"
	"github.com/clearpath-media/mxl/internal/layout"
	"github.com/clearpath-media/mxl/internal/waitword"
)

// Fragment is one contiguous span of a channel's ring; Frag2 is empty
// unless the batch wraps past the end of the buffer.
type Fragment struct {
	Frag1 []byte
	Frag2 []byte
}

// SamplesWriteAccess is a scoped write session spanning every channel.
type SamplesWriteAccess struct {
	w          *Writer
	startIndex uint64
	count      uint32
	fragments  []Fragment
}

// Fragments returns the per-channel (pre-wrap, post-wrap) byte spans, in
// channel order.
func (s *SamplesWriteAccess) Fragments() []Fragment { return s.fragments }

// Writer is a single-producer handle onto a continuous flow's channel
// rings.
type Writer struct {
	header       *layout.Header
	channelCount uint64
	bufferLength uint64
	sampleWidth  uint64
	cellStride   uint64
	payloadBase  func() []byte

	mu          sync.Mutex
	inFlight    bool
	headSamples []uint64
}

// NewWriter builds a writer over an already-initialized continuous header.
func NewWriter(header *layout.Header, channelCount, bufferLength, sampleWidth, cellStride uint64, payloadBase func() []byte) *Writer {
	return &Writer{
		header:       header,
		channelCount: channelCount,
		bufferLength: bufferLength,
		sampleWidth:  sampleWidth,
		cellStride:   cellStride,
		payloadBase:  payloadBase,
		headSamples:  make([]uint64, channelCount),
	}
}

func (w *Writer) channel(c uint64) layout.ChannelView {
	buf := w.payloadBase()
	base := unsafeBase(buf)
	return layout.Channel(base, w.cellStride, c, w.bufferLength, w.sampleWidth)
}

// OpenSamples computes, for each channel, the pre-wrap and (if the batch
// wraps the ring) post-wrap fragment.
func (w *Writer) OpenSamples(startIndex uint64, count uint32) (*SamplesWriteAccess, error) {
	if count == 0 {
		return nil, errs.InvalidArgumentf("continuous.OpenSamples: count must be positive")
	}
	if uint64(count) > w.bufferLength {
		return nil, errs.InvalidArgumentf("continuous.OpenSamples: count %d exceeds buffer_length %d", count, w.bufferLength)
	}

	w.mu.Lock()
	if w.inFlight {
		w.mu.Unlock()
		return nil, errs.New("continuous.OpenSamples", errs.NotReady, "a batch is already open")
	}
	w.inFlight = true
	w.mu.Unlock()

	start := startIndex % w.bufferLength
	firstLen := w.bufferLength - start
	if firstLen > uint64(count) {
		firstLen = uint64(count)
	}
	secondLen := uint64(count) - firstLen

	fragments := make([]Fragment, w.channelCount)
	for c := uint64(0); c < w.channelCount; c++ {
		ch := w.channel(c)
		frag := Fragment{Frag1: ch.Span(start, firstLen)}
		if secondLen > 0 {
			frag.Frag2 = ch.Span(0, secondLen)
		}
		fragments[c] = frag
	}

	return &SamplesWriteAccess{w: w, startIndex: startIndex, count: count, fragments: fragments}, nil
}

// Commit publishes per-channel head_sample_index with release ordering,
// bumps the wait word, and wakes waiters.
func (w *Writer) Commit(s *SamplesWriteAccess, taiNs int64) error {
	newHead := s.startIndex + uint64(s.count)
	layout.StoreFence()
	for c := uint64(0); c < w.channelCount; c++ {
		w.channel(c).SetHeadSampleIndex(newHead)
	}
	w.header.SetLastWriteTime(taiNs)
	layout.FullFence()

	w.mu.Lock()
	w.inFlight = false
	w.mu.Unlock()

	waitword.Bump(w.header.WaitWordPtr())
	_, err := waitword.WakeAll(w.header.WaitWordPtr())
	return err
}

// Cancel discards the session; the sample ranges it touched remain stale.
func (w *Writer) Cancel(s *SamplesWriteAccess) {
	w.mu.Lock()
	w.inFlight = false
	w.mu.Unlock()
}

// RuntimeInfo snapshots the flow's current header state, with HeadIndex
// replaced by channel 0's head_sample_index since a continuous flow has
// no single ring-wide head.
func (w *Writer) RuntimeInfo() layout.RuntimeInfo {
	info := w.header.RuntimeInfo()
	info.HeadIndex = w.channel(0).HeadSampleIndex()
	return info
}

// Reader is a read-only handle onto a continuous flow's channel rings.
type Reader struct {
	header       *layout.Header
	channelCount uint64
	bufferLength uint64
	sampleWidth  uint64
	cellStride   uint64
	payloadBase  func() []byte
	lookahead    uint64
	revalidate   func() error
}

// NewReader builds a reader over a mapped continuous flow. revalidate is
// called on every acquisition to detect the flow directory being
// recreated out from under this mapping (normally a closure over a
// shm.Segment's Revalidate); nil disables the check.
func NewReader(header *layout.Header, channelCount, bufferLength, sampleWidth, cellStride uint64, payloadBase func() []byte, lookahead uint64, revalidate func() error) *Reader {
	return &Reader{
		header:       header,
		channelCount: channelCount,
		bufferLength: bufferLength,
		sampleWidth:  sampleWidth,
		cellStride:   cellStride,
		payloadBase:  payloadBase,
		lookahead:    lookahead,
		revalidate:   revalidate,
	}
}

func (r *Reader) channel(c uint64) layout.ChannelView {
	buf := r.payloadBase()
	base := unsafeBase(buf)
	return layout.Channel(base, r.cellStride, c, r.bufferLength, r.sampleWidth)
}

// RuntimeInfo snapshots the flow's current header state, with HeadIndex
// replaced by channel 0's head_sample_index, revalidating the mapping
// first.
func (r *Reader) RuntimeInfo() (layout.RuntimeInfo, error) {
	if r.revalidate != nil {
		if err := r.revalidate(); err != nil {
			return layout.RuntimeInfo{}, err
		}
	}
	info := r.header.RuntimeInfo()
	info.HeadIndex = r.channel(0).HeadSampleIndex()
	return info, nil
}

// TryGetSamples never blocks; per channel it returns the pre-wrap and
// post-wrap fragments covering [startIndex, startIndex+count).
func (r *Reader) TryGetSamples(startIndex uint64, count uint32) ([]Fragment, error) {
	if count == 0 {
		return nil, errs.InvalidArgumentf("continuous.TryGetSamples: count must be positive")
	}
	if uint64(count) > r.bufferLength {
		return nil, errs.InvalidArgumentf("continuous.TryGetSamples: count %d exceeds buffer_length %d", count, r.bufferLength)
	}
	if r.revalidate != nil {
		if err := r.revalidate(); err != nil {
			return nil, err
		}
	}

	head := r.channel(0).HeadSampleIndex()
	end := startIndex + uint64(count)

	if end > head+r.lookahead {
		return nil, errs.New("continuous.TryGetSamples", errs.OutOfRangeTooEarly, "samples not yet written")
	}
	if head >= r.bufferLength && startIndex < head-r.bufferLength {
		return nil, errs.New("continuous.TryGetSamples", errs.OutOfRangeTooLate, "samples evicted from ring")
	}

	start := startIndex % r.bufferLength
	firstLen := r.bufferLength - start
	if firstLen > uint64(count) {
		firstLen = uint64(count)
	}
	secondLen := uint64(count) - firstLen

	fragments := make([]Fragment, r.channelCount)
	for c := uint64(0); c < r.channelCount; c++ {
		ch := r.channel(c)
		frag := Fragment{Frag1: ch.Span(start, firstLen)}
		if secondLen > 0 {
			frag.Frag2 = ch.Span(0, secondLen)
		}
		fragments[c] = frag
	}
	return fragments, nil
}

// GetSamples blocks up to timeout, using the same wait_word double-check
// protocol as the discrete reader.
func (r *Reader) GetSamples(ctx context.Context, startIndex uint64, count uint32, timeout time.Duration) ([]Fragment, error) {
	deadline := time.Now().Add(timeout)
	for {
		frags, err := r.TryGetSamples(startIndex, count)
		if err == nil {
			return frags, nil
		}
		if code, ok := errs.CodeOf(err); ok && code != errs.OutOfRangeTooEarly {
			return nil, err
		}

		word := r.header.WaitWord()
		if f2, err2 := r.TryGetSamples(startIndex, count); err2 == nil {
			return f2, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, errs.New("continuous.GetSamples", errs.Timeout, "deadline exceeded")
		}
		select {
		case <-ctx.Done():
			return nil, errs.New("continuous.GetSamples", errs.Interrupted, ctx.Err().Error())
		default:
		}

		_, werr := waitword.Wait(r.header.WaitWordPtr(), word, remaining)
		if werr != nil {
			if code, ok := errs.CodeOf(werr); ok && code == errs.Timeout {
				continue
			}
			return nil, werr
		}
	}
}
