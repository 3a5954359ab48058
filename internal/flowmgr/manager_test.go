package flowmgr

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func discreteDescriptorJSON(id uuid.UUID) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"format":"video","rateNum":30000,"rateDen":1001,"grainSize":4096}`, id))
}

func TestCreateFlowWriterTwoInstancesRefCounting(t *testing.T) {
	domain := t.TempDir()
	id := uuid.New()
	desc := discreteDescriptorJSON(id)

	a := New(domain, Options{Lookahead: 4})
	b := New(domain, Options{Lookahead: 4})

	_, _, createdA, err := a.CreateFlowWriter(desc)
	require.NoError(t, err)
	require.True(t, createdA)

	_, _, createdB, err := b.CreateFlowWriter(desc)
	require.NoError(t, err)
	require.False(t, createdB)

	dir := flowDir(domain, id)
	_, err = os.Stat(dir)
	require.NoError(t, err)

	require.NoError(t, a.ReleaseFlowWriter(id))
	_, err = os.Stat(dir)
	require.NoError(t, err, "directory persists while B still holds a writer")

	require.NoError(t, b.ReleaseFlowWriter(id))
}

func TestCreateFlowWriterSameInstanceReusesCachedHandle(t *testing.T) {
	domain := t.TempDir()
	id := uuid.New()
	desc := discreteDescriptorJSON(id)

	m := New(domain, Options{})
	_, cfg1, created1, err := m.CreateFlowWriter(desc)
	require.NoError(t, err)
	require.True(t, created1)

	_, cfg2, created2, err := m.CreateFlowWriter(desc)
	require.NoError(t, err)
	require.False(t, created2)
	if diff := cmp.Diff(cfg1, cfg2); diff != "" {
		t.Fatalf("cached handle config drifted (-first +second):\n%s", diff)
	}
}

func TestCreateFlowWriterDetectsIncompatibleDescriptor(t *testing.T) {
	domain := t.TempDir()
	id := uuid.New()

	m := New(domain, Options{})
	_, _, _, err := m.CreateFlowWriter(discreteDescriptorJSON(id))
	require.NoError(t, err)
	require.NoError(t, m.ReleaseFlowWriter(id))

	m2 := New(domain, Options{})
	mismatched := []byte(fmt.Sprintf(`{"id":%q,"format":"video","rateNum":60000,"rateDen":1001,"grainSize":4096}`, id))
	_, _, _, err = m2.CreateFlowWriter(mismatched)
	require.Error(t, err)
}

func TestCreateFlowReaderRoundTrip(t *testing.T) {
	domain := t.TempDir()
	id := uuid.New()

	w := New(domain, Options{Lookahead: 8})
	handle, _, _, err := w.CreateFlowWriter(discreteDescriptorJSON(id))
	require.NoError(t, err)
	require.NotNil(t, handle.Discrete)

	r := New(domain, Options{Lookahead: 8})
	rh, cfg, err := r.CreateFlowReader(id, 0, 0)
	require.NoError(t, err)
	require.NotNil(t, rh.Discrete)
	require.False(t, cfg.Continuous)

	accessPath := filepath.Join(flowDir(domain, id), "access")
	_, err = os.Stat(accessPath)
	require.NoError(t, err)
}

// TestCreateFlowReaderCacheHitSurfacesStaleAfterRecreate covers spec §4.H:
// a reader's cached handle must be revalidated on every acquisition, not
// just its first open, so a flow directory recreated underneath it (e.g.
// by GC reclaiming then a new writer recreating the same id) is detected
// instead of silently serving the orphaned mapping.
func TestCreateFlowReaderCacheHitSurfacesStaleAfterRecreate(t *testing.T) {
	domain := t.TempDir()
	id := uuid.New()
	desc := discreteDescriptorJSON(id)

	w := New(domain, Options{Lookahead: 8})
	_, _, _, err := w.CreateFlowWriter(desc)
	require.NoError(t, err)
	require.NoError(t, w.ReleaseFlowWriter(id))

	r := New(domain, Options{Lookahead: 8})
	_, _, err = r.CreateFlowReader(id, 0, 0)
	require.NoError(t, err)

	dir := flowDir(domain, id)
	require.NoError(t, os.RemoveAll(dir))

	w2 := New(domain, Options{Lookahead: 8})
	_, _, _, err = w2.CreateFlowWriter(desc)
	require.NoError(t, err)

	_, _, err = r.CreateFlowReader(id, 0, 0)
	require.Error(t, err)
}

func TestParseDescriptorRejectsMissingFields(t *testing.T) {
	_, err := ParseDescriptor([]byte(`{"id":"not-a-uuid"}`))
	require.Error(t, err)
}
