package frame

import (
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniqueBarrierName(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("/hermes_frame_test_%s_%d", t.Name(), os.Getpid())
}

func Test_BarrierLivenessWithCorrectWorkers(t *testing.T) {
	const n = 4
	name := uniqueBarrierName(t)

	b, err := Create(name, n)
	require.NoError(t, err)
	defer b.Destroy()

	for frame := 0; frame < 10; frame++ {
		var wg sync.WaitGroup
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func() {
				defer wg.Done()
				w, err := Attach(name, n)
				if err != nil {
					return
				}
				defer w.Close()

				if err := w.WaitStep(time.Second); err != nil {
					return
				}
				_ = w.SignalDone()
			}()
		}

		require.NoError(t, b.SignalStep())
		require.NoError(t, b.WaitAllDone(uint64(frame), time.Second))
		wg.Wait()
	}
}

func Test_BarrierTimeoutIsFatal(t *testing.T) {
	name := uniqueBarrierName(t)

	b, err := Create(name, 2)
	require.NoError(t, err)
	defer b.Destroy()

	// Only one of two workers responds.
	w, err := Attach(name, 2)
	require.NoError(t, err)
	defer w.Close()

	go func() {
		if err := w.WaitStep(time.Second); err == nil {
			_ = w.SignalDone()
		}
	}()

	require.NoError(t, b.SignalStep())
	err = b.WaitAllDone(1, 100*time.Millisecond)
	assert.Error(t, err)
}

func Test_AttachUnknownBarrierFails(t *testing.T) {
	_, err := Attach(uniqueBarrierName(t)+"_missing", 1)
	assert.Error(t, err)
}
