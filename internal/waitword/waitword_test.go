package waitword

import (
	"sync"
	"testing"
	"time"

	"github.com/clearpath-media/mxl/internal/errs"
	"github.com/stretchr/testify/require"
)

func TestWaitReturnsImmediatelyWhenWordAlreadyChanged(t *testing.T) {
	var word uint32 = 5
	outcome, err := Wait(&word, 4, time.Second)
	require.NoError(t, err)
	require.Equal(t, Woken, outcome)
}

func TestWaitTimesOut(t *testing.T) {
	var word uint32
	outcome, err := Wait(&word, 0, 20*time.Millisecond)
	require.Equal(t, TimedOut, outcome)
	require.Error(t, err)
	code, ok := errs.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errs.Timeout, code)
}

func TestBumpThenWakeAllUnblocksWaiter(t *testing.T) {
	var word uint32
	var wg sync.WaitGroup
	wg.Add(1)

	var outcome Outcome
	go func() {
		defer wg.Done()
		outcome, _ = Wait(&word, 0, 2*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	Bump(&word)
	_, err := WakeAll(&word)
	require.NoError(t, err)

	wg.Wait()
	require.Equal(t, Woken, outcome)
}

func TestBumpIncrementsWord(t *testing.T) {
	var word uint32 = 10
	got := Bump(&word)
	require.Equal(t, uint32(11), got)
	require.Equal(t, uint32(11), word)
}
