package flowmgr

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/clearpath-media/mxl/internal/errs"
	"github.com/clearpath-media/mxl/internal/layout"
)

// Descriptor holds only the fields the core needs out of the external
// NMOS-style JSON descriptor (spec §1: full descriptor semantics are an
// out-of-scope collaborator's concern).
type Descriptor struct {
	ID           uuid.UUID
	Format       layout.Format
	Continuous   bool
	RateNum      uint64
	RateDen      uint64
	GrainSize    uint64 // discrete
	ChannelCount uint64 // continuous
	SampleWidth  uint64 // continuous
	BufferLength uint64 // continuous, 0 = derive from latency floor
}

type descriptorJSON struct {
	ID           string `json:"id"`
	Format       string `json:"format"`
	RateNum      uint64 `json:"rateNum"`
	RateDen      uint64 `json:"rateDen"`
	SampleRate   uint64 `json:"sampleRate"`
	GrainSize    uint64 `json:"grainSize"`
	ChannelCount uint64 `json:"channelCount"`
	SampleWidth  uint64 `json:"sampleWidth"`
	BufferLength uint64 `json:"bufferLength"`
}

// ParseDescriptor decodes the handful of fields a flow header needs,
// leaving full NMOS validation to the external parser.
func ParseDescriptor(raw []byte) (Descriptor, error) {
	var dj descriptorJSON
	if err := json.Unmarshal(raw, &dj); err != nil {
		return Descriptor{}, errs.Wrap("flowmgr.ParseDescriptor", err)
	}

	id, err := uuid.Parse(dj.ID)
	if err != nil {
		return Descriptor{}, errs.InvalidArgumentf("flowmgr: invalid flow id %q: %v", dj.ID, err)
	}

	d := Descriptor{ID: id}
	switch dj.Format {
	case "video":
		d.Format = layout.FormatVideo
	case "audio":
		d.Format = layout.FormatAudio
		d.Continuous = true
	case "data":
		d.Format = layout.FormatData
	default:
		d.Format = layout.FormatUnspecified
	}

	if d.Continuous {
		if dj.SampleRate != 0 {
			d.RateNum, d.RateDen = dj.SampleRate, 1
		} else {
			d.RateNum, d.RateDen = dj.RateNum, dj.RateDen
		}
		d.ChannelCount = dj.ChannelCount
		d.SampleWidth = dj.SampleWidth
		d.BufferLength = dj.BufferLength
	} else {
		d.RateNum, d.RateDen = dj.RateNum, dj.RateDen
		d.GrainSize = dj.GrainSize
	}

	if d.RateNum == 0 || d.RateDen == 0 {
		return Descriptor{}, errs.InvalidArgumentf("flowmgr: invalid rate %d/%d", d.RateNum, d.RateDen)
	}
	if d.Continuous {
		if d.ChannelCount == 0 || d.SampleWidth == 0 {
			return Descriptor{}, errs.InvalidArgumentf("flowmgr: continuous descriptor missing channelCount/sampleWidth")
		}
	} else if d.GrainSize == 0 {
		return Descriptor{}, errs.InvalidArgumentf("flowmgr: discrete descriptor missing grainSize")
	}

	return d, nil
}

// fingerprintFields is the normalized subset of a descriptor that must
// match for a reused flow directory to be considered the same flow.
func (d Descriptor) fingerprintFields() []byte {
	buf, _ := json.Marshal(struct {
		Format       layout.Format
		Continuous   bool
		RateNum      uint64
		RateDen      uint64
		GrainSize    uint64
		ChannelCount uint64
		SampleWidth  uint64
		BufferLength uint64
	}{d.Format, d.Continuous, d.RateNum, d.RateDen, d.GrainSize, d.ChannelCount, d.SampleWidth, d.BufferLength})
	return buf
}
