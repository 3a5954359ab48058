// Package flowmgr implements the per-instance flow cache: creating and
// attaching flow writers/readers, reference counting across processes via
// the shared header, and the descriptor-fingerprint check that turns a
// reused directory with a mismatched shape into IncompatibleFlow instead
// of silent corruption (spec §4.G).
package flowmgr

import (
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/clearpath-media/mxl/internal/continuous"
	"github.com/clearpath-media/mxl/internal/discrete"
	"github.com/clearpath-media/mxl/internal/errs"
	"github.com/clearpath-media/mxl/internal/layout"
	"github.com/clearpath-media/mxl/internal/logging"
	"github.com/clearpath-media/mxl/internal/shm"
)

// ConfigInfo is what a caller learns about a flow at creation/open time.
type ConfigInfo struct {
	ID           uuid.UUID
	Format       layout.Format
	Continuous   bool
	RateNum      uint64
	RateDen      uint64
	RingSize     uint64
	GrainSize    uint64
	ChannelCount uint64
	SampleWidth  uint64
	BufferLength uint64
}

// WriterHandle is the tagged-variant result of CreateFlowWriter: exactly
// one of Discrete/Continuous is set (spec §9: no polymorphic hierarchy).
type WriterHandle struct {
	Discrete   *discrete.Writer
	Continuous *continuous.Writer
}

// ReaderHandle is the tagged-variant result of CreateFlowReader.
type ReaderHandle struct {
	Discrete   *discrete.Reader
	Continuous *continuous.Reader
}

type writerEntry struct {
	handle   WriterHandle
	config   ConfigInfo
	segment  *shm.Segment
	header   *layout.Header
	refCount int
}

type readerEntry struct {
	handle   ReaderHandle
	config   ConfigInfo
	segment  *shm.Segment
	header   *layout.Header
	dir      string
	refCount int
}

// Options carries the instance-wide knobs that affect new-flow sizing.
type Options struct {
	Sizing    layout.SizingOptions
	Lookahead uint64
	Slack     uint64
	HugePage  bool
}

// Manager is the per-Instance flow cache.
type Manager struct {
	domain string
	opts   Options

	mu      sync.Mutex
	writers map[uuid.UUID]*writerEntry
	readers map[uuid.UUID]*readerEntry
}

// New builds a Manager rooted at domainPath.
func New(domainPath string, opts Options) *Manager {
	return &Manager{
		domain:  domainPath,
		opts:    opts,
		writers: make(map[uuid.UUID]*writerEntry),
		readers: make(map[uuid.UUID]*readerEntry),
	}
}

func flowDir(domain string, id uuid.UUID) string {
	return filepath.Join(domain, id.String()+".mxl-flow")
}

// CreateFlowWriter creates or attaches to a flow writer for the given
// descriptor JSON. created reports whether this call made the flow
// directory; the shared writer_ref_count is incremented exactly once per
// Instance regardless of how many in-process callers request the same id.
func (m *Manager) CreateFlowWriter(descriptorJSON []byte) (WriterHandle, ConfigInfo, bool, error) {
	desc, err := ParseDescriptor(descriptorJSON)
	if err != nil {
		return WriterHandle{}, ConfigInfo{}, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.writers[desc.ID]; ok {
		entry.refCount++
		logging.Debug("flow writer attached from cache", "flow_id", desc.ID, "ref_count", entry.refCount)
		return entry.handle, entry.config, false, nil
	}

	dir := flowDir(m.domain, desc.ID)
	created, seg, header, cfg, err := m.openOrCreateFlowFile(dir, desc)
	if err != nil {
		logging.Warn("flow writer open/create failed", "flow_id", desc.ID, "err", err)
		return WriterHandle{}, ConfigInfo{}, false, err
	}

	if created {
		if err := os.WriteFile(filepath.Join(dir, desc.ID.String()+".json"), descriptorJSON, 0644); err != nil {
			seg.Close()
			return WriterHandle{}, ConfigInfo{}, false, errs.Wrap("flowmgr.CreateFlowWriter", err)
		}
		if err := touchAccess(dir); err != nil {
			seg.Close()
			return WriterHandle{}, ConfigInfo{}, false, err
		}
	}

	header.SetOwnerPID(uint64(os.Getpid()))
	header.AddWriterRefCount(1)

	handle := m.buildWriterHandle(header, cfg, seg)

	m.writers[desc.ID] = &writerEntry{
		handle:   handle,
		config:   cfg,
		segment:  seg,
		header:   header,
		refCount: 1,
	}

	logging.Info("flow writer opened", "flow_id", desc.ID, "created", created, "format", cfg.Format, "continuous", cfg.Continuous)
	return handle, cfg, created, nil
}

func (m *Manager) buildWriterHandle(header *layout.Header, cfg ConfigInfo, seg *shm.Segment) WriterHandle {
	payloadBase := func() []byte { return seg.Bytes()[header.PayloadOffset():] }
	if cfg.Continuous {
		return WriterHandle{Continuous: continuous.NewWriter(header, cfg.ChannelCount, cfg.BufferLength, cfg.SampleWidth, header.CellStride(), payloadBase)}
	}
	return WriterHandle{Discrete: discrete.NewWriter(header, cfg.RingSize, header.CellStride(), payloadBase)}
}

func (m *Manager) openOrCreateFlowFile(dir string, desc Descriptor) (created bool, seg *shm.Segment, header *layout.Header, cfg ConfigInfo, err error) {
	geom := layout.FlowGeometry{
		Continuous:    desc.Continuous,
		GrainRateNum:  desc.RateNum,
		GrainRateDen:  desc.RateDen,
		GrainSize:     desc.GrainSize,
		SampleRateNum: desc.RateNum,
		SampleRateDen: desc.RateDen,
		ChannelCount:  desc.ChannelCount,
		SampleWidth:   desc.SampleWidth,
		BufferLength:  desc.BufferLength,
	}
	plan, err := layout.Plan(geom, m.opts.Sizing)
	if err != nil {
		return false, nil, nil, ConfigInfo{}, err
	}

	dataPath := filepath.Join(dir, "data")

	if mkErr := os.Mkdir(dir, 0755); mkErr == nil {
		created = true
	} else if !os.IsExist(mkErr) {
		return false, nil, nil, ConfigInfo{}, errs.Wrap("flowmgr.openOrCreateFlowFile", mkErr)
	}

	if created {
		seg, err = shm.Create(dataPath, int64(plan.TotalSize), true, m.opts.HugePage)
		if err != nil {
			return false, nil, nil, ConfigInfo{}, err
		}
		header, err = layout.NewHeader(seg.Bytes())
		if err != nil {
			seg.Close()
			return false, nil, nil, ConfigInfo{}, err
		}
		if desc.Continuous {
			header.InitContinuous(desc.Format, desc.RateNum, desc.RateDen, desc.ChannelCount, desc.SampleWidth, plan.BufferLength, plan.PayloadOffset)
		} else {
			header.InitDiscrete(desc.Format, desc.RateNum, desc.RateDen, plan.RingSize, desc.GrainSize, plan.CellStride, plan.PayloadOffset)
		}
		lo, hi := fingerprint(desc)
		header.SetDescriptorHash(lo, hi)
	} else {
		seg, err = shm.OpenRW(dataPath)
		if err != nil {
			return false, nil, nil, ConfigInfo{}, err
		}
		header, err = layout.NewHeader(seg.Bytes())
		if err != nil {
			seg.Close()
			return false, nil, nil, ConfigInfo{}, err
		}
		if verr := header.Validate(); verr != nil {
			seg.Close()
			return false, nil, nil, ConfigInfo{}, verr
		}
		wantLo, wantHi := fingerprint(desc)
		gotLo, gotHi := header.DescriptorHash()
		if wantLo != gotLo || wantHi != gotHi {
			seg.Close()
			return false, nil, nil, ConfigInfo{}, errs.New("flowmgr.openOrCreateFlowFile", errs.IncompatibleFlow, "descriptor mismatch for existing flow")
		}
		if owner := header.OwnerPID(); owner != 0 && header.WriterRefCount() > 0 && int(owner) != os.Getpid() && pidAlive(int(owner)) {
			// A live writer from a different process already owns this
			// flow; spec §9 treats concurrent cross-process writers as a
			// configuration error rather than serializing them.
			logging.Warn("writer conflict: flow already owned by a live process", "flow_id", desc.ID, "owner_pid", owner)
			return false, nil, nil, ConfigInfo{}, errs.New("flowmgr.openOrCreateFlowFile", errs.AlreadyExists, "flow already has a writer in another process")
		}
	}

	cfg = ConfigInfo{
		ID:           desc.ID,
		Format:       header.Format(),
		Continuous:   desc.Continuous,
		RateNum:      desc.RateNum,
		RateDen:      desc.RateDen,
		RingSize:     header.RingSize(),
		GrainSize:    header.GrainSize(),
		ChannelCount: header.ChannelCount(),
		SampleWidth:  header.SampleWidth(),
		BufferLength: header.BufferLength(),
	}

	return created, seg, header, cfg, nil
}

// ReleaseFlowWriter decrements the intra-process counter; at zero, the
// shared writer_ref_count is decremented and mappings dropped.
func (m *Manager) ReleaseFlowWriter(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.writers[id]
	if !ok {
		return errs.New("flowmgr.ReleaseFlowWriter", errs.NotFound, id.String())
	}
	entry.refCount--
	if entry.refCount > 0 {
		return nil
	}

	entry.header.AddWriterRefCount(-1)
	delete(m.writers, id)
	logging.Info("flow writer released", "flow_id", id)
	return entry.segment.Close()
}

// CreateFlowReader opens (or returns the cached handle for) a flow reader.
// lookahead/slack override the Manager's defaults when non-zero; they only
// take effect the first time a given id is opened by this Manager, since a
// cached handle was already built with its original lookahead/slack.
func (m *Manager) CreateFlowReader(id uuid.UUID, lookahead, slack uint64) (ReaderHandle, ConfigInfo, error) {
	if lookahead == 0 {
		lookahead = m.opts.Lookahead
	}
	if slack == 0 {
		slack = m.opts.Slack
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.readers[id]; ok {
		if err := entry.segment.Revalidate(); err != nil {
			logging.Warn("flow reader cache hit failed revalidation", "flow_id", id, "err", err)
			return ReaderHandle{}, ConfigInfo{}, err
		}
		entry.refCount++
		if err := touchAccess(entry.dir); err != nil {
			return ReaderHandle{}, ConfigInfo{}, err
		}
		return entry.handle, entry.config, nil
	}

	dir := flowDir(m.domain, id)
	dataPath := filepath.Join(dir, "data")

	seg, err := shm.OpenRO(dataPath)
	if err != nil {
		return ReaderHandle{}, ConfigInfo{}, err
	}
	header, err := layout.NewHeader(seg.Bytes())
	if err != nil {
		seg.Close()
		return ReaderHandle{}, ConfigInfo{}, err
	}
	if err := header.Validate(); err != nil {
		seg.Close()
		return ReaderHandle{}, ConfigInfo{}, err
	}

	cfg := ConfigInfo{
		ID:           id,
		Format:       header.Format(),
		Continuous:   header.IsContinuous(),
		RateNum:      header.GrainRateNum(),
		RateDen:      header.GrainRateDen(),
		RingSize:     header.RingSize(),
		GrainSize:    header.GrainSize(),
		ChannelCount: header.ChannelCount(),
		SampleWidth:  header.SampleWidth(),
		BufferLength: header.BufferLength(),
	}

	payloadBase := func() []byte { return seg.Bytes()[header.PayloadOffset():] }
	var handle ReaderHandle
	if cfg.Continuous {
		handle = ReaderHandle{Continuous: continuous.NewReader(header, cfg.ChannelCount, cfg.BufferLength, cfg.SampleWidth, header.CellStride(), payloadBase, lookahead, seg.Revalidate)}
	} else {
		handle = ReaderHandle{Discrete: discrete.NewReader(header, cfg.RingSize, header.CellStride(), payloadBase, lookahead, slack, seg.Revalidate)}
	}

	if err := touchAccess(dir); err != nil {
		seg.Close()
		return ReaderHandle{}, ConfigInfo{}, err
	}

	m.readers[id] = &readerEntry{handle: handle, config: cfg, segment: seg, header: header, dir: dir, refCount: 1}
	logging.Info("flow reader opened", "flow_id", id, "format", cfg.Format, "continuous", cfg.Continuous)
	return handle, cfg, nil
}

// ReleaseFlowReader decrements the intra-process counter; at zero, drops
// the mapping.
func (m *Manager) ReleaseFlowReader(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.readers[id]
	if !ok {
		return errs.New("flowmgr.ReleaseFlowReader", errs.NotFound, id.String())
	}
	entry.refCount--
	if entry.refCount > 0 {
		return nil
	}
	delete(m.readers, id)
	logging.Info("flow reader released", "flow_id", id)
	return entry.segment.Close()
}

// Close releases every outstanding handle, as Instance.Close requires.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for id, entry := range m.writers {
		entry.header.AddWriterRefCount(-1)
		if err := entry.segment.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.writers, id)
	}
	for id, entry := range m.readers {
		if err := entry.segment.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.readers, id)
	}
	return firstErr
}

func touchAccess(dir string) error {
	path := filepath.Join(dir, "access")
	now := time.Now()
	if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644); err == nil {
		f.Close()
	} else {
		return errs.Wrap("flowmgr.touchAccess", err)
	}
	return os.Chtimes(path, now, now)
}

// pidAlive reports whether pid refers to a live process. Best-effort: a
// crashed writer's stale PID must not permanently block new writers once
// GC has had a chance to run, but that relies on the idle-window policy,
// not this check, per spec §5's "memory safety across process death".
func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
