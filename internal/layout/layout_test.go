package layout

import (
	"testing"
	"unsafe"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/require"
)

func unsafeBase(buf []byte) unsafe.Pointer { return unsafe.Pointer(&buf[0]) }

func TestHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, HeaderSize)
	h, err := NewHeader(buf)
	require.NoError(t, err)

	h.InitDiscrete(FormatVideo, 30000, 1001, 8, 4096, align64(CellMetaSize+4096), align64(HeaderSize))
	require.NoError(t, h.Validate())
	require.Equal(t, FormatVideo, h.Format())
	require.False(t, h.IsContinuous())
	require.Equal(t, uint64(30000), h.GrainRateNum())
	require.Equal(t, uint64(1001), h.GrainRateDen())
	require.Equal(t, uint64(8), h.RingSize())

	h.SetHeadIndex(41)
	require.Equal(t, uint64(41), h.HeadIndex())

	before := h.WaitWord()
	after := h.BumpWaitWord()
	require.Equal(t, before+1, after)
	require.Equal(t, after, h.WaitWord())

	require.Equal(t, uint32(0), h.WriterRefCount())
	require.Equal(t, uint32(1), h.AddWriterRefCount(1))
	require.Equal(t, uint32(0), h.AddWriterRefCount(-1))
}

func TestHeaderValidateRejectsBadMagicAndVersion(t *testing.T) {
	buf := make([]byte, HeaderSize)
	h, err := NewHeader(buf)
	require.NoError(t, err)
	require.Error(t, h.Validate())

	h.InitDiscrete(FormatData, 1, 1, 2, 16, align64(CellMetaSize+16), align64(HeaderSize))
	require.NoError(t, h.Validate())
}

func TestNewHeaderRejectsShortBuffer(t *testing.T) {
	_, err := NewHeader(make([]byte, 10))
	require.Error(t, err)
}

func TestPlanDiscretePicksPowerOfTwoRingSize(t *testing.T) {
	l, err := Plan(FlowGeometry{
		GrainRateNum: 30000,
		GrainRateDen: 1001,
		GrainSize:    1 << 20,
	}, SizingOptions{LatencyFloor: datasize.ByteSize(500_000_000), MinRingSize: 2})
	require.NoError(t, err)

	require.Equal(t, l.RingSize&(l.RingSize-1), uint64(0)) // power of two
	require.True(t, l.RingSize >= 2)
	require.Equal(t, l.CellStride, align64(CellMetaSize+1<<20))
}

func TestPlanContinuousGeometryMatchesScenario(t *testing.T) {
	l, err := Plan(FlowGeometry{
		Continuous:    true,
		SampleRateNum: 48000,
		SampleRateDen: 1,
		ChannelCount:  2,
		SampleWidth:   4,
		BufferLength:  1024,
	}, SizingOptions{})
	require.NoError(t, err)
	require.Equal(t, uint64(1024), l.BufferLength)
	require.Equal(t, align64(ChannelMetaSize+1024*4), l.CellStride)
}

func TestPlanRejectsInvalidGeometry(t *testing.T) {
	_, err := Plan(FlowGeometry{GrainRateNum: 0, GrainRateDen: 1, GrainSize: 1}, SizingOptions{})
	require.Error(t, err)

	_, err = Plan(FlowGeometry{Continuous: true, SampleRateNum: 1, SampleRateDen: 1, SampleWidth: 2}, SizingOptions{})
	require.Error(t, err)
}

func TestCellViewPayloadRoundTrip(t *testing.T) {
	stride := align64(CellMetaSize + 128)
	buf := make([]byte, stride*2)
	base := unsafeBase(buf)

	c0 := Cell(base, stride, 0)
	c0.SetGrainIndex(7)
	c0.SetGrainTimeStamp(123456789)
	c0.SetCommittedSize(64)
	c0.SetValidSlices(1)
	c0.SetTotalSlices(4)
	payload := c0.Payload()
	require.Len(t, payload, 128)
	payload[0] = 0xAB

	require.Equal(t, uint64(7), c0.GrainIndex())
	require.Equal(t, int64(123456789), c0.GrainTimeStamp())
	require.Equal(t, uint64(64), c0.CommittedSize())
	require.Equal(t, uint32(1), c0.ValidSlices())
	require.Equal(t, uint32(4), c0.TotalSlices())
	require.Equal(t, byte(0xAB), c0.Payload()[0])

	c1 := Cell(base, stride, 1)
	require.Equal(t, uint64(0), c1.GrainIndex())
}

func TestChannelViewSpanWrapScenario(t *testing.T) {
	const bufferLength = 1024
	const sampleWidth = 4
	stride := align64(ChannelMetaSize + bufferLength*sampleWidth)
	buf := make([]byte, stride)
	base := unsafeBase(buf)

	ch := Channel(base, stride, 0, bufferLength, sampleWidth)
	ch.SetHeadSampleIndex(1000)
	require.Equal(t, uint64(1000), ch.HeadSampleIndex())

	frag1 := ch.Span(1000, 24)
	require.Len(t, frag1, 96) // (1024-1000)*4

	frag2 := ch.Span(0, 76)
	require.Len(t, frag2, 304) // 76*4
}
