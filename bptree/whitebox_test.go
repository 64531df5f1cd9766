package bptree

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkInvariants walks the whole tree verifying the structural
// invariants: size bounds on every non-root node, max-key separators in
// every branch, and a leaf chain that agrees with key order.
func checkInvariants(t *testing.T, tr *BPTree) {
	t.Helper()
	root := tr.readNode(tr.rootPos)

	if !root.leaf {
		require.GreaterOrEqual(t, root.size, int32(2))
	}

	var leaves []*node
	checkSubtree(t, tr, root, true, &leaves)

	require.NotEmpty(t, leaves)
	assert.Equal(t, tr.begPos, leaves[0].pos)
	assert.Equal(t, tr.endPos, leaves[len(leaves)-1].pos)
	assert.Equal(t, int32(nilPos), leaves[0].prev)
	assert.Equal(t, int32(nilPos), leaves[len(leaves)-1].next)

	for i := 0; i+1 < len(leaves); i++ {
		assert.Equal(t, leaves[i].next, leaves[i+1].pos)
		assert.Equal(t, leaves[i+1].prev, leaves[i].pos)

		if leaves[i].size > 0 && leaves[i+1].size > 0 {
			assert.Negative(t, bytes.Compare(leaves[i].maxKey(), leaves[i+1].keys[0]))
		}
	}
}

func checkSubtree(t *testing.T, tr *BPTree, u *node, isRoot bool, leaves *[]*node) {
	t.Helper()

	if !isRoot {
		require.GreaterOrEqual(t, u.size, tr.szmin)
	}

	require.LessOrEqual(t, u.size, tr.szmax)

	for i := int32(1); i < u.size; i++ {
		require.Negative(t, bytes.Compare(u.keys[i-1], u.keys[i]))
	}

	if u.leaf {
		*leaves = append(*leaves, u)
		return
	}

	for i := int32(0); i < u.size; i++ {
		child := tr.readNode(u.vals[i])
		require.Positive(t, child.size)
		require.Equal(t, u.keys[i], child.maxKey(), "separator must be the child's max key")
		checkSubtree(t, tr, child, false, leaves)
	}
}

func TestInvariantsUnderRandomWorkload(t *testing.T) {
	tr, err := Open(t.TempDir(), "t", 8, 8)
	require.NoError(t, err)
	defer tr.Close()

	key := func(n uint64) []byte {
		k := make([]byte, 8)
		binary.BigEndian.PutUint64(k, n)
		return k
	}

	rng := rand.New(rand.NewSource(3))
	present := map[uint64]bool{}

	for i := 0; i < 4000; i++ {
		n := uint64(rng.Intn(2000))

		if present[n] && rng.Intn(2) == 0 {
			require.NoError(t, tr.Erase(key(n)))
			delete(present, n)
		} else if !present[n] {
			_, err := tr.Insert(key(n), key(n))
			require.NoError(t, err)
			present[n] = true
		}

		if i%500 == 499 {
			checkInvariants(t, tr)
		}
	}

	checkInvariants(t, tr)

	// Drain completely; the emptied tree must still be valid.
	for n := range present {
		require.NoError(t, tr.Erase(key(n)))
	}

	checkInvariants(t, tr)
	assert.True(t, tr.IsEmpty())
}

func TestNodeEncodeDecodeRoundTrip(t *testing.T) {
	tr, err := Open(t.TempDir(), "t", 8, 8)
	require.NoError(t, err)
	defer tr.Close()

	u := newNode(tr.nodeSize*3, true, tr.szmax+1)
	u.prev = tr.nodeSize
	u.next = tr.nodeSize * 5

	for i := 0; i < 7; i++ {
		k := make([]byte, 8)
		binary.BigEndian.PutUint64(k, uint64(i*11))
		u.insertAt(int32(i), k, int32(i*4))
	}

	buf := make([]byte, tr.nodeSize)
	tr.encodeNode(u, buf)
	v := tr.decodeNode(buf)

	assert.Equal(t, u.size, v.size)
	assert.Equal(t, u.pos, v.pos)
	assert.Equal(t, u.prev, v.prev)
	assert.Equal(t, u.next, v.next)
	assert.Equal(t, u.leaf, v.leaf)

	for i := int32(0); i < u.size; i++ {
		assert.Equal(t, u.keys[i], v.keys[i])
		assert.Equal(t, u.vals[i], v.vals[i])
	}
}

func TestCacheWriteBack(t *testing.T) {
	dir := t.TempDir()
	tr, err := Open(dir, "t", 8, 8)
	require.NoError(t, err)

	key := func(n uint64) []byte {
		k := make([]byte, 8)
		binary.BigEndian.PutUint64(k, n)
		return k
	}

	// Far more nodes than the cache holds, forcing evictions with
	// write-back; the reopened tree must see every record.
	n := uint64(tr.szmax) * uint64(tr.cache.capacity) * 3

	for i := uint64(0); i < n; i += 3 {
		_, err := tr.Insert(key(i), key(i))
		require.NoError(t, err)
	}

	require.NoError(t, tr.Close())

	tr, err = Open(dir, "t", 8, 8)
	require.NoError(t, err)
	defer tr.Close()

	count := uint64(0)

	for it := tr.Begin(); !it.IsAtEnd(); it.Advance() {
		assert.Equal(t, key(count), it.ReadKey())
		count += 3
	}

	assert.Equal(t, n, count)
	checkInvariants(t, tr)
}
