package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSetGet(t *testing.T) {
	s := New()
	s.Set("name", Entry{Type: TypeString, Str: "Tuan"})

	e, ok := s.Get("name")
	require.True(t, ok)
	require.Equal(t, "Tuan", e.Str)
}

func TestGetAbsent(t *testing.T) {
	s := New()
	_, ok := s.Get("missing")
	require.False(t, ok)
}

func TestGetTypedWrongType(t *testing.T) {
	s := New()
	s.Set("k", Entry{Type: TypeString, Str: "hello"})

	_, result := s.GetTyped("k", TypeZSet)
	require.Equal(t, WrongType, result)
}

func TestGetTypedAbsent(t *testing.T) {
	s := New()
	_, result := s.GetTyped("missing", TypeString)
	require.Equal(t, Absent, result)
}

func TestSetPreservingTTL(t *testing.T) {
	s := New()
	at := time.Now().Add(time.Minute)
	s.Set("k", Entry{Type: TypeString, Str: "v1", ExpireAt: at})

	s.SetPreservingTTL("k", Entry{Type: TypeString, Str: "v2"})

	e, ok := s.Get("k")
	require.True(t, ok)
	require.Equal(t, "v2", e.Str)
	require.WithinDuration(t, at, e.ExpireAt, time.Millisecond)
}

func TestSetPreservingTTLNewKeyIsPersistent(t *testing.T) {
	s := New()
	s.SetPreservingTTL("new", Entry{Type: TypeString, Str: "v"})

	e, ok := s.Get("new")
	require.True(t, ok)
	require.True(t, e.Persistent())
}

func TestRemove(t *testing.T) {
	s := New()
	s.Set("k", Entry{Type: TypeString, Str: "v"})

	e, ok := s.Remove("k")
	require.True(t, ok)
	require.Equal(t, "v", e.Str)

	_, ok = s.Remove("k")
	require.False(t, ok)
}

func TestExistsLazyExpiry(t *testing.T) {
	s := New()
	s.Set("k", Entry{Type: TypeString, Str: "v", ExpireAt: time.Now().Add(-time.Second)})

	require.False(t, s.Exists("k"))
	require.Equal(t, 0, s.Count(), "lazily expired entry must be removed from the store")
}

// P1/P7: a key whose authoritative expire_at has passed is never
// returned by Get/Exists, and is removed from the store on the
// observing access.
func TestLazyExpiryNeverReturnsExpiredKey(t *testing.T) {
	s := New()
	s.Set("temp", Entry{Type: TypeString, Str: "X", ExpireAt: time.Now().Add(10 * time.Millisecond)})

	e, ok := s.Get("temp")
	require.True(t, ok)
	require.Equal(t, "X", e.Str)

	time.Sleep(20 * time.Millisecond)

	_, ok = s.Get("temp")
	require.False(t, ok)
	require.NotContains(t, s.IterateKeys(), "temp")
}

func TestExpireCallbackFiresOnLazyExpiry(t *testing.T) {
	s := New()
	var gotKey string
	s.SetExpireCallback(func(key string, e *Entry) { gotKey = key })

	s.Set("temp", Entry{Type: TypeString, Str: "X", ExpireAt: time.Now().Add(-time.Millisecond)})
	s.Get("temp")

	require.Equal(t, "temp", gotKey)
}

func TestIterateKeysSnapshot(t *testing.T) {
	s := New()
	s.Set("a", Entry{Type: TypeString, Str: "1"})
	s.Set("b", Entry{Type: TypeString, Str: "2"})

	keys := s.IterateKeys()
	require.ElementsMatch(t, []string{"a", "b"}, keys)
}

func TestSetExpireAtAndExpireAtOf(t *testing.T) {
	s := New()
	s.Set("k", Entry{Type: TypeString, Str: "v"})

	at := time.Now().Add(5 * time.Second)
	ok := s.SetExpireAt("k", at)
	require.True(t, ok)

	got, ok := s.ExpireAtOf("k")
	require.True(t, ok)
	require.WithinDuration(t, at, got, time.Millisecond)
}

func TestCount(t *testing.T) {
	s := New()
	require.Equal(t, 0, s.Count())
	s.Set("a", Entry{Type: TypeString})
	s.Set("b", Entry{Type: TypeString})
	require.Equal(t, 2, s.Count())
}
