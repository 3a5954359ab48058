package mxl

import (
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/google/uuid"

	"github.com/clearpath-media/mxl/internal/clock"
	"github.com/clearpath-media/mxl/internal/domain"
	"github.com/clearpath-media/mxl/internal/errs"
	"github.com/clearpath-media/mxl/internal/flowmgr"
	"github.com/clearpath-media/mxl/internal/layout"
)

// Options carries the instance-wide knobs spec.md leaves as parameters:
// idle window, latency floor, lookahead/slack cell counts, huge-page
// preference. Loading these from a file is out of scope; Options is built
// programmatically by the embedding process.
type Options struct {
	// LatencyFloor is the minimum duration a new flow's ring (or channel
	// buffer) is sized to cover: its numeric value is read as nanoseconds,
	// and the ring gets enough grains (or samples) to span it.
	LatencyFloor datasize.ByteSize
	// MinRingSize is the smallest grain count a discrete flow's ring is
	// ever sized to.
	MinRingSize uint64
	// Lookahead is how far past head_index a reader may request before
	// OutOfRangeTooEarly.
	Lookahead uint64
	// Slack is the eviction margin behind head_index (see internal/discrete).
	Slack uint64
	// HugePage requests MAP_HUGETLB for new flow segments, best-effort.
	HugePage bool
	// Clock supplies "now" for garbage collection's idle-window test. Nil
	// uses clock.SystemClock{}; tests substitute a FakeClock.
	Clock clock.Source
}

// ReaderOptions carries per-reader overrides of the Instance-wide defaults.
// A zero value uses the Instance's Options.
type ReaderOptions struct {
	Lookahead uint64
	Slack     uint64
}

func (o Options) toFlowmgr() flowmgr.Options {
	return flowmgr.Options{
		Sizing: layout.SizingOptions{
			LatencyFloor: o.LatencyFloor,
			MinRingSize:  o.MinRingSize,
		},
		Lookahead: o.Lookahead,
		Slack:     o.Slack,
		HugePage:  o.HugePage,
	}
}

// Instance is the process-wide entry point: it owns the per-process cache
// of open flow writers/readers and the domain directory they live under.
// Safe for single-threaded use by default; see spec.md §5 for the
// concurrency model of the handles it hands out.
type Instance struct {
	domainPath string
	opts       Options
	mgr        *flowmgr.Manager
	clock      clock.Source
}

// New builds an Instance rooted at domainPath. The domain directory must
// already exist; Instance does not create it.
func New(domainPath string, opts Options) (*Instance, error) {
	if domainPath == "" {
		return nil, errs.New("mxl.New", errs.InvalidArgument, "domainPath must not be empty")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Instance{
		domainPath: domainPath,
		opts:       opts,
		mgr:        flowmgr.New(domainPath, opts.toFlowmgr()),
		clock:      clk,
	}, nil
}

// CreateFlowWriter creates or attaches to a flow writer for the descriptor
// encoded in descriptorJSON. created reports whether this call made the
// flow's on-disk directory.
func (inst *Instance) CreateFlowWriter(descriptorJSON []byte) (Writer, ConfigInfo, bool, error) {
	handle, cfg, created, err := inst.mgr.CreateFlowWriter(descriptorJSON)
	if err != nil {
		return nil, ConfigInfo{}, false, err
	}
	return wrapWriter(handle, cfg), configInfoFrom(cfg), created, nil
}

// ReleaseFlowWriter releases this Instance's hold on a flow writer.
func (inst *Instance) ReleaseFlowWriter(flowID uuid.UUID) error {
	return inst.mgr.ReleaseFlowWriter(flowID)
}

// CreateFlowReader opens (or returns the cached handle for) a flow reader.
// opts overrides the Instance's default lookahead/slack for this flow when
// non-zero.
func (inst *Instance) CreateFlowReader(flowID uuid.UUID, opts ReaderOptions) (Reader, error) {
	handle, cfg, err := inst.mgr.CreateFlowReader(flowID, opts.Lookahead, opts.Slack)
	if err != nil {
		return nil, err
	}
	return wrapReader(handle, cfg), nil
}

// ReleaseFlowReader releases this Instance's hold on a flow reader.
func (inst *Instance) ReleaseFlowReader(flowID uuid.UUID) error {
	return inst.mgr.ReleaseFlowReader(flowID)
}

// GarbageCollect runs one collection pass over the domain directory,
// removing flows with no live writer idle past idleWindow. Idle time is
// measured against the Instance's Clock (SystemClock unless Options.Clock
// was set).
func (inst *Instance) GarbageCollect(idleWindow time.Duration) (domain.CollectReport, error) {
	return domain.Collect(inst.domainPath, idleWindow, inst.clock)
}

// Close releases every outstanding writer/reader held by this Instance.
func (inst *Instance) Close() error {
	return inst.mgr.Close()
}

func wrapWriter(h flowmgr.WriterHandle, cfg flowmgr.ConfigInfo) Writer {
	format := FlowFormat(cfg.Format)
	info := configInfoFrom(cfg)
	if h.Continuous != nil {
		return &ContinuousWriter{Writer: h.Continuous, format: format, cfg: info}
	}
	return &DiscreteWriter{Writer: h.Discrete, format: format, cfg: info}
}

func wrapReader(h flowmgr.ReaderHandle, cfg flowmgr.ConfigInfo) Reader {
	format := FlowFormat(cfg.Format)
	info := configInfoFrom(cfg)
	if h.Continuous != nil {
		return &ContinuousReader{Reader: h.Continuous, format: format, cfg: info}
	}
	return &DiscreteReader{Reader: h.Discrete, format: format, cfg: info}
}
