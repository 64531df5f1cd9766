package lhmap_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuhao-qian/railbook/internal/lhmap"
)

func newIntMap() *lhmap.Map[int, string] {
	return lhmap.New[int, string](func(k int) uint64 { return uint64(k) })
}

func TestMapInsertFindErase(t *testing.T) {
	m := newIntMap()

	assert.Nil(t, m.Find(1))
	assert.Zero(t, m.Len())

	m.Insert(1, "a")
	m.Insert(2, "b")
	m.Insert(3, "c")
	assert.Equal(t, 3, m.Len())

	e := m.Find(2)
	require.NotNil(t, e)
	assert.Equal(t, "b", e.Value)
	assert.Nil(t, m.Find(4))

	m.Erase(e)
	assert.Equal(t, 2, m.Len())
	assert.Nil(t, m.Find(2))
	assert.True(t, m.Has(1))
	assert.False(t, m.Has(2))
}

func TestMapLRUOrder(t *testing.T) {
	m := newIntMap()

	for i := 1; i <= 4; i++ {
		m.Insert(i, "")
	}

	// Insertion puts new entries at the front.
	assert.Equal(t, 4, m.Front().Key)
	assert.Equal(t, 1, m.Back().Key)

	// A hit moves the entry to the front; the untouched oldest entry
	// stays at the back.
	m.Find(2)
	assert.Equal(t, 2, m.Front().Key)
	assert.Equal(t, 1, m.Back().Key)

	m.Find(1)
	assert.Equal(t, 1, m.Front().Key)
	assert.Equal(t, 3, m.Back().Key)

	var order []int

	for e := m.Front(); e != nil; e = e.Next() {
		order = append(order, e.Key)
	}

	assert.Equal(t, []int{1, 2, 4, 3}, order)

	var reverse []int

	for e := m.Back(); e != nil; e = e.Prev() {
		reverse = append(reverse, e.Key)
	}

	assert.Equal(t, []int{3, 4, 2, 1}, reverse)
}

func TestMapEraseBack(t *testing.T) {
	m := newIntMap()

	for i := 0; i < 10; i++ {
		m.Insert(i, "")
	}

	// Evicting through the back drains in least-recently-used order.
	for i := 0; i < 10; i++ {
		e := m.Back()
		require.NotNil(t, e)
		assert.Equal(t, i, e.Key)
		m.Erase(e)
	}

	assert.Zero(t, m.Len())
	assert.Nil(t, m.Front())
	assert.Nil(t, m.Back())
}

func TestMapGrowth(t *testing.T) {
	m := newIntMap()
	const n = 100_000

	for i := 0; i < n; i++ {
		m.Insert(i, "v")
	}

	require.Equal(t, n, m.Len())

	rng := rand.New(rand.NewSource(4))

	for i := 0; i < 1000; i++ {
		k := rng.Intn(n)
		e := m.Find(k)

		if assert.NotNil(t, e) {
			assert.Equal(t, k, e.Key)
		}
	}
}

func TestMapEntriesStableAcrossGrowth(t *testing.T) {
	m := newIntMap()
	e := m.Insert(-1, "pinned")

	for i := 0; i < 10_000; i++ {
		m.Insert(i, "")
	}

	// The early entry pointer survives every rehash.
	assert.Equal(t, "pinned", e.Value)
	assert.Same(t, e, m.Find(-1))
}

func TestMapClear(t *testing.T) {
	m := newIntMap()

	for i := 0; i < 100; i++ {
		m.Insert(i, "")
	}

	m.Clear()
	assert.Zero(t, m.Len())
	assert.Nil(t, m.Find(5))

	m.Insert(5, "again")
	assert.Equal(t, 1, m.Len())
	assert.NotNil(t, m.Find(5))
}
