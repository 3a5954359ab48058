package domain

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/clearpath-media/mxl/internal/clock"
	"github.com/clearpath-media/mxl/internal/discrete"
	"github.com/clearpath-media/mxl/internal/errs"
	"github.com/clearpath-media/mxl/internal/flowmgr"
	"github.com/clearpath-media/mxl/internal/layout"
	"github.com/clearpath-media/mxl/internal/shm"
)

func discreteDesc(id uuid.UUID) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"format":"video","rateNum":30000,"rateDen":1001,"grainSize":4096}`, id))
}

// forgeDeadOwner overwrites the flow header's owner pid with one guaranteed
// not to belong to any live process, simulating a writer that crashed
// without ever calling ReleaseFlowWriter.
func forgeDeadOwner(t *testing.T, dir string) {
	t.Helper()
	seg, err := shm.OpenRW(filepath.Join(dir, "data"))
	require.NoError(t, err)
	defer seg.Close()
	header, err := layout.NewHeader(seg.Bytes())
	require.NoError(t, err)
	header.SetOwnerPID(1 << 30)
}

// TestCollectRemovesAbandonedFlowAfterIdleWindow covers scenario 5: a
// writer writes 10 grains and is torn down without releasing (simulating a
// crash), leaving writer_ref_count elevated under a pid that no longer
// runs. After the idle window elapses with no reader activity, Collect
// removes the flow directory and a subsequent reader open fails NotFound.
func TestCollectRemovesAbandonedFlowAfterIdleWindow(t *testing.T) {
	domainPath := t.TempDir()
	id := uuid.New()

	m := flowmgr.New(domainPath, flowmgr.Options{Lookahead: 4})
	handle, _, created, err := m.CreateFlowWriter(discreteDesc(id))
	require.NoError(t, err)
	require.True(t, created)

	for i := uint64(0); i < 10; i++ {
		access, err := handle.Discrete.OpenGrain(i)
		require.NoError(t, err)
		meta := discrete.CommitMeta{
			CommittedSize: uint64(len(access.Payload())),
			ValidSlices:   1,
			TotalSlices:   1,
		}
		require.NoError(t, handle.Discrete.Commit(access, meta, int64(i)))
	}

	dir := filepath.Join(domainPath, id.String()+".mxl-flow")
	forgeDeadOwner(t, dir)

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "access"), old, old))

	report, err := Collect(domainPath, 50*time.Millisecond, clock.SystemClock{})
	require.NoError(t, err)
	require.Len(t, report.Removed, 1)
	require.Empty(t, report.Skipped)

	_, err = os.Stat(dir)
	require.True(t, os.IsNotExist(err))

	reader := flowmgr.New(domainPath, flowmgr.Options{})
	_, _, err = reader.CreateFlowReader(id, 0, 0)
	require.Error(t, err)
	code, ok := errs.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errs.NotFound, code)
}

// TestCollectSkipsFlowWithLiveWriter ensures a writer_ref_count held by a
// still-running process blocks collection regardless of idle time.
func TestCollectSkipsFlowWithLiveWriter(t *testing.T) {
	domainPath := t.TempDir()
	id := uuid.New()

	m := flowmgr.New(domainPath, flowmgr.Options{Lookahead: 4})
	_, _, created, err := m.CreateFlowWriter(discreteDesc(id))
	require.NoError(t, err)
	require.True(t, created)

	dir := filepath.Join(domainPath, id.String()+".mxl-flow")
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "access"), old, old))

	report, err := Collect(domainPath, 50*time.Millisecond, clock.SystemClock{})
	require.NoError(t, err)
	require.Empty(t, report.Removed)
	require.Len(t, report.Skipped, 1)
}
