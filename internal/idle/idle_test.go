package idle

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAddAndCollectIdle(t *testing.T) {
	tr := New(100 * time.Millisecond)
	base := time.Now()

	h := tr.Add("conn1", base)
	require.True(t, h.Valid())

	idle := tr.CollectIdle(base.Add(50 * time.Millisecond))
	require.Empty(t, idle)

	idle = tr.CollectIdle(base.Add(200 * time.Millisecond))
	require.Equal(t, []interface{}{"conn1"}, idle)
	require.Equal(t, 0, tr.Len())
}

func TestTouchResetsIdleClockAndReorders(t *testing.T) {
	tr := New(100 * time.Millisecond)
	base := time.Now()

	h1 := tr.Add("conn1", base)
	tr.Add("conn2", base.Add(10*time.Millisecond))

	tr.Touch(h1, base.Add(90*time.Millisecond))

	// conn1 was touched, so at t=150ms only conn2 (idle since t=10ms,
	// 140ms of inactivity) should be reported idle, not conn1 (60ms).
	idle := tr.CollectIdle(base.Add(150 * time.Millisecond))
	require.Equal(t, []interface{}{"conn2"}, idle)
}

func TestRemove(t *testing.T) {
	tr := New(time.Second)
	base := time.Now()
	h := tr.Add("conn1", base)
	tr.Remove(h)
	require.Equal(t, 0, tr.Len())

	// Removing again must not panic.
	tr.Remove(h)
}

func TestNextDeadlineEmpty(t *testing.T) {
	tr := New(time.Second)
	d := tr.NextDeadline(time.Now(), 10*time.Second)
	require.Equal(t, 10*time.Second, d)
}

func TestNextDeadlineReflectsOldestEntry(t *testing.T) {
	tr := New(100 * time.Millisecond)
	base := time.Now()
	tr.Add("conn1", base)

	d := tr.NextDeadline(base.Add(40*time.Millisecond), time.Minute)
	require.InDelta(t, 60*time.Millisecond, d, float64(5*time.Millisecond))
}

// P8: traversing the idle list head-to-tail yields non-decreasing
// last_active, under any sequence of Add/Touch/Remove.
func TestPropertyOrderingHoldsUnderRandomOps(t *testing.T) {
	tr := New(time.Hour) // long timeout: nothing auto-evicts mid-test
	rng := rand.New(rand.NewSource(7))
	base := time.Now()
	var handles []Handle

	for i := 0; i < 500; i++ {
		now := base.Add(time.Duration(i) * time.Millisecond)
		switch rng.Intn(3) {
		case 0:
			handles = append(handles, tr.Add(i, now))
		case 1:
			if len(handles) > 0 {
				idx := rng.Intn(len(handles))
				tr.Touch(handles[idx], now)
			}
		default:
			if len(handles) > 0 {
				idx := rng.Intn(len(handles))
				tr.Remove(handles[idx])
				handles[idx] = handles[len(handles)-1]
				handles = handles[:len(handles)-1]
			}
		}
		require.True(t, tr.Ordered())
	}
}
