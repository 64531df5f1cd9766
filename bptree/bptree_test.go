package bptree_test

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuhao-qian/railbook/bptree"
)

const (
	testKeySize   = 8
	testValueSize = 16
)

func makeKey(n uint64) []byte {
	k := make([]byte, testKeySize)
	binary.BigEndian.PutUint64(k, n)
	return k
}

func makeValue(n uint64) []byte {
	v := make([]byte, testValueSize)
	binary.LittleEndian.PutUint64(v, n)
	binary.LittleEndian.PutUint64(v[8:], ^n)
	return v
}

func sortedKeys(model map[uint64][]byte) []uint64 {
	keys := make([]uint64, 0, len(model))

	for k := range model {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func assertMatchesModel(t *testing.T, tree *bptree.BPTree, model map[uint64][]byte) {
	t.Helper()
	keys := sortedKeys(model)
	i := 0

	for it := tree.Begin(); !it.IsAtEnd(); it.Advance() {
		require.Less(t, i, len(keys))
		require.Equal(t, makeKey(keys[i]), it.ReadKey())
		require.Equal(t, model[keys[i]], it.ReadValue())
		i++
	}

	require.Equal(t, len(keys), i)
}

func TestBPTreeInsertGetErase(t *testing.T) {
	dir := t.TempDir()
	tree, err := bptree.Open(dir, "t", testKeySize, testValueSize)
	require.NoError(t, err)
	defer tree.Close()

	rng := rand.New(rand.NewSource(1))
	model := map[uint64][]byte{}

	for i := 0; i < 5000; i++ {
		n := uint64(rng.Intn(20000))

		switch rng.Intn(3) {
		case 0:
			_, err := tree.Insert(makeKey(n), makeValue(n))

			if _, ok := model[n]; ok {
				assert.ErrorIs(t, err, bptree.ErrExists)
			} else {
				assert.NoError(t, err)
				model[n] = makeValue(n)
			}

		case 1:
			err := tree.Erase(makeKey(n))

			if _, ok := model[n]; ok {
				assert.NoError(t, err)
				delete(model, n)
			} else {
				assert.ErrorIs(t, err, bptree.ErrNotFound)
			}

		case 2:
			v := makeValue(n + 1)
			err := tree.Set(makeKey(n), v)

			if _, ok := model[n]; ok {
				assert.NoError(t, err)
				model[n] = v
			} else {
				assert.ErrorIs(t, err, bptree.ErrNotFound)
			}
		}
	}

	assertMatchesModel(t, tree, model)

	for _, n := range sortedKeys(model) {
		v, err := tree.Get(makeKey(n))

		if assert.NoError(t, err) {
			assert.Equal(t, model[n], v)
		}
	}
}

func TestBPTreeEmpty(t *testing.T) {
	tree, err := bptree.Open(t.TempDir(), "t", testKeySize, testValueSize)
	require.NoError(t, err)
	defer tree.Close()

	assert.True(t, tree.IsEmpty())
	assert.False(t, tree.Has(makeKey(7)))
	assert.True(t, tree.Begin().IsAtEnd())
	assert.True(t, tree.LowerBound(makeKey(0)).IsAtEnd())
	assert.True(t, tree.Search(makeKey(0), makeKey(^uint64(0))).IsAtEnd())

	_, err = tree.Get(makeKey(7))
	assert.ErrorIs(t, err, bptree.ErrNotFound)
	assert.Equal(t, make([]byte, testValueSize), tree.GetDefault(makeKey(7)))
	assert.ErrorIs(t, tree.Erase(makeKey(7)), bptree.ErrNotFound)
}

func TestBPTreeReopen(t *testing.T) {
	dir := t.TempDir()
	tree, err := bptree.Open(dir, "t", testKeySize, testValueSize)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(2))
	model := map[uint64][]byte{}

	for i := 0; i < 3000; i++ {
		n := rng.Uint64() % 1_000_000

		if _, ok := model[n]; ok {
			continue
		}

		_, err := tree.Insert(makeKey(n), makeValue(n))
		require.NoError(t, err)
		model[n] = makeValue(n)
	}

	require.NoError(t, tree.Close())

	tree, err = bptree.Open(dir, "t", testKeySize, testValueSize)
	require.NoError(t, err)
	defer tree.Close()

	assertMatchesModel(t, tree, model)
}

func TestBPTreeBounds(t *testing.T) {
	tree, err := bptree.Open(t.TempDir(), "t", testKeySize, testValueSize)
	require.NoError(t, err)
	defer tree.Close()

	for n := uint64(0); n < 1000; n += 2 {
		_, err := tree.Insert(makeKey(n), makeValue(n))
		require.NoError(t, err)
	}

	it := tree.LowerBound(makeKey(41))
	require.False(t, it.IsAtEnd())
	assert.Equal(t, makeKey(42), it.ReadKey())

	it = tree.LowerBound(makeKey(42))
	require.False(t, it.IsAtEnd())
	assert.Equal(t, makeKey(42), it.ReadKey())

	it = tree.UpperBound(makeKey(42))
	require.False(t, it.IsAtEnd())
	assert.Equal(t, makeKey(44), it.ReadKey())

	assert.True(t, tree.LowerBound(makeKey(999)).IsAtEnd())

	var got []uint64

	for it := tree.Search(makeKey(10), makeKey(20)); !it.IsAtEnd(); it.Advance() {
		got = append(got, binary.BigEndian.Uint64(it.ReadKey()))
	}

	assert.Equal(t, []uint64{10, 12, 14, 16, 18, 20}, got)

	last := tree.Last()
	require.False(t, last.IsAtEnd())
	assert.Equal(t, makeKey(998), last.ReadKey())
}

func TestBPTreeHandles(t *testing.T) {
	tree, err := bptree.Open(t.TempDir(), "t", testKeySize, testValueSize)
	require.NoError(t, err)
	defer tree.Close()

	handles := map[uint64]int32{}

	for n := uint64(0); n < 500; n++ {
		h, err := tree.Insert(makeKey(n), makeValue(n))
		require.NoError(t, err)
		handles[n] = h
	}

	// Handles stay valid across later splits of the node file's tree.
	for n, h := range handles {
		assert.Equal(t, makeValue(n), tree.GetByHandle(h))
	}

	tree.SetByHandle(handles[123], makeValue(9999))
	v, err := tree.Get(makeKey(123))
	require.NoError(t, err)
	assert.Equal(t, makeValue(9999), v)

	h, ok := tree.FindHandle(makeKey(123))
	require.True(t, ok)
	assert.Equal(t, handles[123], h)

	_, ok = tree.FindHandle(makeKey(50000))
	assert.False(t, ok)
}

func TestBPTreeClear(t *testing.T) {
	tree, err := bptree.Open(t.TempDir(), "t", testKeySize, testValueSize)
	require.NoError(t, err)
	defer tree.Close()

	for n := uint64(0); n < 300; n++ {
		_, err := tree.Insert(makeKey(n), makeValue(n))
		require.NoError(t, err)
	}

	require.NoError(t, tree.Clear())
	assert.True(t, tree.IsEmpty())
	assert.True(t, tree.Begin().IsAtEnd())

	_, err = tree.Insert(makeKey(5), makeValue(5))
	assert.NoError(t, err)
	assert.True(t, tree.Has(makeKey(5)))
}

func TestBPTreeDuplicateInsertKeepsValue(t *testing.T) {
	tree, err := bptree.Open(t.TempDir(), "t", testKeySize, testValueSize)
	require.NoError(t, err)
	defer tree.Close()

	_, err = tree.Insert(makeKey(1), makeValue(1))
	require.NoError(t, err)
	_, err = tree.Insert(makeKey(1), makeValue(2))
	require.ErrorIs(t, err, bptree.ErrExists)

	v, err := tree.Get(makeKey(1))
	require.NoError(t, err)
	assert.Equal(t, makeValue(1), v)
}

func TestBPTreeCompositeKeyOrder(t *testing.T) {
	tree, err := bptree.Open(t.TempDir(), "t", 16, testValueSize)
	require.NoError(t, err)
	defer tree.Close()

	key := func(a, b uint64) []byte {
		k := make([]byte, 16)
		binary.BigEndian.PutUint64(k, a)
		binary.BigEndian.PutUint64(k[8:], b)
		return k
	}

	for _, a := range []uint64{3, 1, 2} {
		for _, b := range []uint64{30, 10, 20} {
			_, err := tree.Insert(key(a, b), makeValue(a*100+b))
			require.NoError(t, err)
		}
	}

	// A prefix-bounded scan sees exactly the prefix's rows, ordered by
	// the second field.
	var got []uint64

	for it := tree.Search(key(2, 0), key(2, ^uint64(0))); !it.IsAtEnd(); it.Advance() {
		got = append(got, binary.BigEndian.Uint64(it.ReadKey()[8:]))
	}

	assert.Equal(t, []uint64{10, 20, 30}, got)

	var prev []byte

	for it := tree.Begin(); !it.IsAtEnd(); it.Advance() {
		k := append([]byte(nil), it.ReadKey()...)

		if prev != nil {
			assert.Negative(t, bytes.Compare(prev, k))
		}

		prev = k
	}
}
