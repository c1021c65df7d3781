package expire

import (
	"fmt"
	"testing"
	"time"

	"github.com/behrlich/go-kvd/internal/constants"
	"github.com/stretchr/testify/require"
)

func TestSetExpirationAndTTL(t *testing.T) {
	e := New()
	now := time.Now()
	e.SetExpiration("k", 5*time.Second, now)

	ttl, ok := e.GetTTL("k", now)
	require.True(t, ok)
	require.InDelta(t, 5*time.Second, ttl, float64(time.Millisecond))
}

func TestGetTTLAbsentKey(t *testing.T) {
	e := New()
	_, ok := e.GetTTL("missing", time.Now())
	require.False(t, ok)
}

func TestGetTTLClampsToZero(t *testing.T) {
	e := New()
	now := time.Now()
	e.SetExpiration("k", -5*time.Second, now)

	ttl, ok := e.GetTTL("k", now)
	require.True(t, ok)
	require.Equal(t, time.Duration(0), ttl)
}

func TestIsExpired(t *testing.T) {
	e := New()
	now := time.Now()
	e.SetExpiration("k", time.Second, now)

	require.False(t, e.IsExpired("k", now))
	require.True(t, e.IsExpired("k", now.Add(2*time.Second)))
}

func TestRemoveExpirationMakesPersistent(t *testing.T) {
	e := New()
	now := time.Now()
	e.SetExpiration("k", time.Second, now)
	e.RemoveExpiration("k")

	_, ok := e.GetTTL("k", now)
	require.False(t, ok)
	require.False(t, e.IsExpired("k", now.Add(time.Hour)))
}

func TestNextDeadlineDefaultWhenEmpty(t *testing.T) {
	e := New()
	require.Equal(t, constants.DefaultSelectTimeout, e.NextDeadline(time.Now()))
}

func TestNextDeadlineReflectsSoonestEntry(t *testing.T) {
	e := New()
	now := time.Now()
	e.SetExpiration("far", 10*time.Second, now)
	e.SetExpiration("near", time.Second, now)

	d := e.NextDeadline(now)
	require.InDelta(t, time.Second, d, float64(time.Millisecond))
}

// P7-adjacent: sweep never reports a key before its deadline.
func TestSweepExpiredRespectsDeadline(t *testing.T) {
	e := New()
	now := time.Now()
	e.SetExpiration("future", time.Hour, now)

	expired := e.SweepExpired(now)
	require.Empty(t, expired)
}

func TestSweepExpiredReturnsPastDueKeys(t *testing.T) {
	e := New()
	now := time.Now()
	e.SetExpiration("a", -time.Second, now)
	e.SetExpiration("b", -time.Millisecond, now)
	e.SetExpiration("c", time.Hour, now)

	expired := e.SweepExpired(now)
	require.ElementsMatch(t, []string{"a", "b"}, expired)
}

// Stale heap entries: re-SetExpiration on the same key must not cause
// the earlier (now-stale) heap entry to be reported as expired twice,
// nor to resurrect an already-cleared authoritative value.
func TestSweepIgnoresStaleHeapDuplicates(t *testing.T) {
	e := New()
	now := time.Now()

	e.SetExpiration("k", -time.Hour, now) // stale entry, will be popped first
	e.SetExpiration("k", time.Hour, now)  // supersedes it; authoritative now far future

	expired := e.SweepExpired(now)
	require.Empty(t, expired, "the stale heap entry must be discarded, not reported as expired")

	ttl, ok := e.GetTTL("k", now)
	require.True(t, ok)
	require.Greater(t, ttl, 30*time.Minute)
}

func TestSweepIgnoresRemovedExpiration(t *testing.T) {
	e := New()
	now := time.Now()
	e.SetExpiration("k", -time.Second, now)
	e.RemoveExpiration("k")

	expired := e.SweepExpired(now)
	require.Empty(t, expired)
}

func TestSweepWorkQuotaBoundsOneCall(t *testing.T) {
	e := New()
	now := time.Now()
	for i := 0; i < 250; i++ {
		e.SetExpiration(fmt.Sprintf("k%d", i), -time.Second, now)
	}

	expired := e.SweepExpired(now)
	require.LessOrEqual(t, len(expired), 100)
}
