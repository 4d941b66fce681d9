package lattice

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type target uint64

func (t target) Target() (uint64, bool) { return uint64(t), t != 0 }

type ranked struct {
	target
	rank uint64
}

func recordRank(c Cursor, rank uint64) Cursor {
	return ranked{target: c.(target), rank: rank}
}

func TestCorrect_BetweenNeighbours(t *testing.T) {
	l, err := NewBuilder().Fill(10000, 350, 150, 50).Build()
	require.NoError(t, err)

	got := l.Correct(target(5000), ShifterFunc(recordRank)).(ranked)
	assert.Equal(t, uint64(1), got.rank, "5000 lies between 10000 (rank 0) and 350 (rank 1)")

	id, ok := l.At(got.rank)
	require.True(t, ok)
	assert.Equal(t, uint64(350), id, "the jump lands on the nearest id below the target")
}

func TestCorrect_NoTarget(t *testing.T) {
	l, err := NewBuilder().Fill(3, 2, 1).Build()
	require.NoError(t, err)

	called := false
	out := l.Correct(target(0), ShifterFunc(func(c Cursor, rank uint64) Cursor {
		called = true
		return c
	}))
	assert.False(t, called)
	assert.Equal(t, target(0), out)
}

func TestRank_MonotonicAndNeverOvershoots(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	set := map[uint64]bool{}
	for len(set) < 2000 {
		set[uint64(r.Int63n(1_000_000))+1] = true
	}
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	l, err := NewBuilder().Fill(ids...).Build()
	require.NoError(t, err)

	prev := uint64(0)
	for tgt := l.Max() + 10; tgt > 0; tgt -= 997 {
		rank := l.Rank(tgt)
		assert.GreaterOrEqual(t, rank, prev, "rank must not decrease as the target gets older")
		prev = rank

		// every id before rank is strictly above the target
		if rank > 0 {
			assert.Greater(t, ids[rank-1], tgt)
		}
		if rank < uint64(len(ids)) {
			assert.LessOrEqual(t, ids[rank], tgt, "never skip past the nearest id at or below target")
		}
		if tgt < 997 {
			break
		}
	}
}

func TestBuilder(t *testing.T) {
	t.Run("rejects ascending", func(t *testing.T) {
		_, err := NewBuilder().Fill(1, 2).Build()
		assert.ErrorIs(t, err, ErrNotDescending)
	})

	t.Run("rejects zero", func(t *testing.T) {
		_, err := NewBuilder().Fill(5, 0).Build()
		assert.ErrorIs(t, err, ErrNotDescending)
	})

	t.Run("error sticks across fills", func(t *testing.T) {
		_, err := NewBuilder().Fill(1, 1).Fill(9).Build()
		assert.ErrorIs(t, err, ErrNotDescending)
	})

	t.Run("copy extends without touching the original", func(t *testing.T) {
		base, err := NewBuilder().Fill(300, 200, 100).Build()
		require.NoError(t, err)

		grown, err := Copy(base).Fill(500, 250, 200).Build()
		require.NoError(t, err)

		assert.Equal(t, uint64(3), base.Len())
		assert.Equal(t, uint64(5), grown.Len())
		assert.Equal(t, uint64(500), grown.Max())
		assert.Equal(t, []uint64{500, 300, 250, 200, 100}, grown.IDs())
		assert.False(t, base.Contains(500))
	})

	t.Run("empty", func(t *testing.T) {
		l, err := NewBuilder().Build()
		require.NoError(t, err)
		assert.Equal(t, uint64(0), l.Rank(10))
		_, ok := l.At(0)
		assert.False(t, ok)
		assert.Equal(t, uint64(0), Empty().Len())
	})
}

func TestAt(t *testing.T) {
	l, err := NewBuilder().Fill(40, 30, 20, 10).Build()
	require.NoError(t, err)

	for rank, want := range []uint64{40, 30, 20, 10} {
		got, ok := l.At(uint64(rank))
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := l.At(4)
	assert.False(t, ok)
}

func BenchmarkRank(b *testing.B) {
	bld := NewBuilder()
	ids := make([]uint64, 0, 100_000)
	for id := uint64(1_000_000); id > 0 && len(ids) < cap(ids); id -= 7 {
		ids = append(ids, id)
	}
	l, _ := bld.Fill(ids...).Build()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Rank(uint64(i % 1_000_000))
	}
}
