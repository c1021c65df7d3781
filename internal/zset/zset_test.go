package zset

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddAndScore(t *testing.T) {
	s := New()
	require.True(t, s.Add("UserA", 100))
	score, ok := s.Score("UserA")
	require.True(t, ok)
	require.Equal(t, float64(100), score)
}

func TestAddRejectsUpdate(t *testing.T) {
	s := New()
	require.True(t, s.Add("UserA", 100))
	require.False(t, s.Add("UserA", 200)) // normative policy: reject update (spec §9)

	score, _ := s.Score("UserA")
	require.Equal(t, float64(100), score, "score must not change on rejected update")
}

func TestRangeOrdering(t *testing.T) {
	s := New()
	s.Add("UserA", 100)
	s.Add("UserB", 50)
	s.Add("UserC", 150)

	require.Equal(t, []string{"UserB", "UserA", "UserC"}, s.Range(0, -1))
}

func TestRangeNegativeIndices(t *testing.T) {
	s := New()
	for _, m := range []string{"a", "b", "c", "d", "e"} {
		s.Add(m, float64(len(m)))
	}
	members := []string{"a", "b", "c", "d", "e"} // all score 1, lex order
	require.Equal(t, members, s.Range(0, -1))
	require.Equal(t, members[1:4], s.Range(1, -2))
	require.Equal(t, []string{"e"}, s.Range(-1, -1))
}

func TestRangeEmptyWhenStartAfterStop(t *testing.T) {
	s := New()
	s.Add("a", 1)
	s.Add("b", 2)
	require.Empty(t, s.Range(1, 0))
}

func TestRangeOnMissingKeySemantics(t *testing.T) {
	s := New()
	require.Empty(t, s.Range(0, -1))
}

func TestRemove(t *testing.T) {
	s := New()
	s.Add("a", 1)
	s.Add("b", 2)
	require.True(t, s.Remove("a"))
	require.False(t, s.Remove("a"))
	_, ok := s.Score("a")
	require.False(t, ok)
	require.Equal(t, 1, s.Len())
}

// P2: for any two interleavings of ZADD on distinct members,
// iterating ZRANGE 0 -1 returns members in (score asc, member lex asc)
// order.
func TestPropertyOrderingIndependentOfInsertionOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	type pair struct {
		member string
		score  float64
	}
	pairs := make([]pair, 200)
	for i := range pairs {
		pairs[i] = pair{member: fmt.Sprintf("m%04d", i), score: float64(rng.Intn(50))}
	}

	for trial := 0; trial < 5; trial++ {
		shuffled := append([]pair(nil), pairs...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		s := New()
		for _, p := range shuffled {
			s.Add(p.member, p.score)
		}

		want := append([]pair(nil), pairs...)
		sort.Slice(want, func(i, j int) bool {
			if want[i].score != want[j].score {
				return want[i].score < want[j].score
			}
			return want[i].member < want[j].member
		})
		wantMembers := make([]string, len(want))
		for i, p := range want {
			wantMembers[i] = p.member
		}

		require.Equal(t, wantMembers, s.Range(0, -1))
		require.NoError(t, s.CheckInvariants())
	}
}

// P3: after any sequence of ZADD with distinct members, AVL invariants
// hold at every node, and index size equals tree size.
func TestPropertyAVLInvariantsHoldUnderRandomOps(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	s := New()
	members := make([]string, 0, 500)

	for i := 0; i < 2000; i++ {
		op := rng.Intn(3)
		switch {
		case op == 0 || len(members) == 0:
			m := fmt.Sprintf("member-%d", i)
			s.Add(m, float64(rng.Intn(1000)))
			members = append(members, m)
		case op == 1:
			idx := rng.Intn(len(members))
			s.Remove(members[idx])
			members[idx] = members[len(members)-1]
			members = members[:len(members)-1]
		default:
			_ = s.Range(0, rng.Intn(20))
		}
		require.NoError(t, s.CheckInvariants())
	}
}

func TestRangeComplexityPrunesCorrectly(t *testing.T) {
	s := New()
	for i := 0; i < 1000; i++ {
		s.Add(fmt.Sprintf("m%04d", i), float64(i))
	}
	got := s.Range(500, 509)
	require.Len(t, got, 10)
	require.Equal(t, "m0500", got[0])
	require.Equal(t, "m0509", got[9])
}
