package continuous

import (
	"context"
	"testing"
	"time"

	"github.com/clearpath-media/mxl/internal/errs"
	"github.com/clearpath-media/mxl/internal/layout"
	"github.com/stretchr/testify/require"
)

const (
	bufferLength = 1024
	channelCount = 2
	sampleWidth  = 4
)

func newFlow(t *testing.T) (*Writer, *Reader) {
	t.Helper()
	hdrBuf := make([]byte, layout.HeaderSize)
	header, err := layout.NewHeader(hdrBuf)
	require.NoError(t, err)

	cellStride := uint64(layout.ChannelMetaSize + bufferLength*sampleWidth)
	cellStride = (cellStride + 63) &^ 63

	header.InitContinuous(layout.FormatAudio, 48000, 1, channelCount, sampleWidth, bufferLength, layout.HeaderSize)
	require.NoError(t, header.Validate())
	require.True(t, header.IsContinuous())

	payload := make([]byte, channelCount*cellStride)
	payloadFn := func() []byte { return payload }

	w := NewWriter(header, channelCount, bufferLength, sampleWidth, cellStride, payloadFn)
	r := NewReader(header, channelCount, bufferLength, sampleWidth, cellStride, payloadFn, bufferLength, nil)
	return w, r
}

func TestWrapFragmentSizesMatchScenario(t *testing.T) {
	w, _ := newFlow(t)

	s, err := w.OpenSamples(1000, 100)
	require.NoError(t, err)

	frags := s.Fragments()
	require.Len(t, frags, channelCount)
	for _, f := range frags {
		require.Len(t, f.Frag1, 96)  // (1024-1000)*4
		require.Len(t, f.Frag2, 304) // 76*4
	}

	require.NoError(t, w.Commit(s, 1))
}

func TestWriteThenReadSamplesRoundTrip(t *testing.T) {
	w, r := newFlow(t)
	ctx := context.Background()

	s, err := w.OpenSamples(1000, 100)
	require.NoError(t, err)
	for ci, f := range s.Fragments() {
		for i := range f.Frag1 {
			f.Frag1[i] = byte(ci*7 + i)
		}
		for i := range f.Frag2 {
			f.Frag2[i] = byte(ci*11 + i)
		}
	}
	require.NoError(t, w.Commit(s, 42))

	frags, err := r.GetSamples(ctx, 1000, 100, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, frags, channelCount)
	for ci, f := range frags {
		require.Len(t, f.Frag1, 96)
		require.Len(t, f.Frag2, 304)
		require.Equal(t, byte(ci*7), f.Frag1[0])
		require.Equal(t, byte(ci*11), f.Frag2[0])
	}
}

func TestOpenSamplesRejectsOversizedBatch(t *testing.T) {
	w, _ := newFlow(t)
	_, err := w.OpenSamples(0, bufferLength+1)
	require.Error(t, err)
}

func TestTryGetSamplesTooEarlyBeforeAnyCommit(t *testing.T) {
	hdrBuf := make([]byte, layout.HeaderSize)
	header, err := layout.NewHeader(hdrBuf)
	require.NoError(t, err)
	cellStride := (uint64(layout.ChannelMetaSize+bufferLength*sampleWidth) + 63) &^ 63
	header.InitContinuous(layout.FormatAudio, 48000, 1, channelCount, sampleWidth, bufferLength, layout.HeaderSize)
	payload := make([]byte, channelCount*cellStride)
	r := NewReader(header, channelCount, bufferLength, sampleWidth, cellStride, func() []byte { return payload }, 0, nil)

	_, err = r.TryGetSamples(50, 10)
	require.Error(t, err)
}

func TestTryGetSamplesPropagatesRevalidateFailure(t *testing.T) {
	hdrBuf := make([]byte, layout.HeaderSize)
	header, err := layout.NewHeader(hdrBuf)
	require.NoError(t, err)
	cellStride := (uint64(layout.ChannelMetaSize+bufferLength*sampleWidth) + 63) &^ 63
	header.InitContinuous(layout.FormatAudio, 48000, 1, channelCount, sampleWidth, bufferLength, layout.HeaderSize)
	payload := make([]byte, channelCount*cellStride)

	staleErr := errs.New("test.Revalidate", errs.Stale, "flow recreated")
	r := NewReader(header, channelCount, bufferLength, sampleWidth, cellStride, func() []byte { return payload }, bufferLength, func() error { return staleErr })

	_, err = r.TryGetSamples(0, 10)
	require.ErrorIs(t, err, staleErr)
}
