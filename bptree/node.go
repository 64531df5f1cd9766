package bptree

import (
	"bytes"
	"encoding/binary"
	"sort"
)

const nilPos = -1

// node is the in-memory form of one fixed-size node slot. The key at
// entry i of a branch node is the maximum key of child i's subtree;
// vals[i] is the child slot for branches and the value slot for leaves.
// Siblings on every level are doubly linked through prev/next.
type node struct {
	size int32
	pos  int32
	prev int32
	next int32
	leaf bool
	keys [][]byte
	vals []int32
}

func newNode(pos int32, leaf bool, slots int32) *node {
	return &node{
		pos:  pos,
		prev: nilPos,
		next: nilPos,
		leaf: leaf,
		keys: make([][]byte, slots),
		vals: make([]int32, slots),
	}
}

func (u *node) clone() *node {
	v := &node{
		size: u.size,
		pos:  u.pos,
		prev: u.prev,
		next: u.next,
		leaf: u.leaf,
		keys: make([][]byte, len(u.keys)),
		vals: make([]int32, len(u.vals)),
	}

	for i := int32(0); i < u.size; i++ {
		v.keys[i] = append([]byte(nil), u.keys[i]...)
	}

	copy(v.vals, u.vals)
	return v
}

func (u *node) maxKey() []byte {
	return u.keys[u.size-1]
}

// lowerBound returns the first index whose key is >= x, or size.
func (u *node) lowerBound(x []byte) int32 {
	return int32(sort.Search(int(u.size), func(i int) bool {
		return bytes.Compare(u.keys[i], x) >= 0
	}))
}

// upperBound returns the first index whose key is > x, or size.
func (u *node) upperBound(x []byte) int32 {
	return int32(sort.Search(int(u.size), func(i int) bool {
		return bytes.Compare(u.keys[i], x) > 0
	}))
}

// keyEquals reports whether the key at idx equals x.
func (u *node) keyEquals(idx int32, x []byte) bool {
	return idx < u.size && bytes.Equal(u.keys[idx], x)
}

// setKey overwrites the key at idx with a copy of x.
func (u *node) setKey(idx int32, x []byte) {
	u.keys[idx] = append([]byte(nil), x...)
}

// insertAt inserts an entry at idx, shifting the tail right.
func (u *node) insertAt(idx int32, key []byte, val int32) {
	for i := u.size; i > idx; i-- {
		u.keys[i] = u.keys[i-1]
		u.vals[i] = u.vals[i-1]
	}

	u.keys[idx] = append([]byte(nil), key...)
	u.vals[idx] = val
	u.size++
}

// eraseAt removes the entry at idx, shifting the tail left.
func (u *node) eraseAt(idx int32) {
	u.size--

	for i := idx; i < u.size; i++ {
		u.keys[i] = u.keys[i+1]
		u.vals[i] = u.vals[i+1]
	}

	u.keys[u.size] = nil
}

// Node slot layout, little-endian:
//
//	0   size  int32
//	4   pos   int32
//	8   prev  int32
//	12  next  int32
//	16  leaf  byte
//	17  entries, each keySize raw key bytes followed by an int32
const nodeHeaderSize = 17

func (t *BPTree) encodeNode(u *node, buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], uint32(u.size))
	binary.LittleEndian.PutUint32(buf[4:], uint32(u.pos))
	binary.LittleEndian.PutUint32(buf[8:], uint32(u.prev))
	binary.LittleEndian.PutUint32(buf[12:], uint32(u.next))

	if u.leaf {
		buf[16] = 1
	} else {
		buf[16] = 0
	}

	entrySize := t.keySize + 4

	for i := int32(0); i < u.size; i++ {
		off := nodeHeaderSize + int(i)*entrySize
		copy(buf[off:off+t.keySize], u.keys[i])
		binary.LittleEndian.PutUint32(buf[off+t.keySize:], uint32(u.vals[i]))
	}
}

func (t *BPTree) decodeNode(buf []byte) *node {
	u := newNode(0, buf[16] != 0, t.szmax+1)
	u.size = int32(binary.LittleEndian.Uint32(buf[0:]))
	u.pos = int32(binary.LittleEndian.Uint32(buf[4:]))
	u.prev = int32(binary.LittleEndian.Uint32(buf[8:]))
	u.next = int32(binary.LittleEndian.Uint32(buf[12:]))

	entrySize := t.keySize + 4

	for i := int32(0); i < u.size; i++ {
		off := nodeHeaderSize + int(i)*entrySize
		u.keys[i] = append([]byte(nil), buf[off:off+t.keySize]...)
		u.vals[i] = int32(binary.LittleEndian.Uint32(buf[off+t.keySize:]))
	}

	return u
}
