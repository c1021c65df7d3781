package destroy

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubmitRunsJob(t *testing.T) {
	d := New(nil)
	defer d.Close()

	var ran atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	d.Submit(func() {
		ran.Store(true)
		wg.Done()
	})

	wg.Wait()
	require.True(t, ran.Load())
}

func TestSubmitNeverBlocksCaller(t *testing.T) {
	d := New(nil)
	defer d.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Submit(func() { time.Sleep(time.Millisecond) })
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Submit blocked the caller")
	}
}

func TestPanickingJobDoesNotKillWorker(t *testing.T) {
	d := New(nil)
	defer d.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	d.Submit(func() { panic("boom") })

	var ran atomic.Bool
	d.Submit(func() {
		ran.Store(true)
		wg.Done()
	})

	wg.Wait()
	require.True(t, ran.Load())
}

func TestShouldDestroyAsyncThreshold(t *testing.T) {
	require.False(t, ShouldDestroyAsync(63, true))
	require.True(t, ShouldDestroyAsync(64, true))
	require.True(t, ShouldDestroyAsync(1000, true))
	require.False(t, ShouldDestroyAsync(1000, false), "non-zset values are never offloaded")
}

func TestCloseDrainsQueue(t *testing.T) {
	d := New(nil)

	var count atomic.Int32
	for i := 0; i < 20; i++ {
		d.Submit(func() { count.Add(1) })
	}
	d.Close()

	require.Equal(t, int32(20), count.Load())
}
