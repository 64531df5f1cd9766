// Package bptree implements an on-disk B+ tree over fixed-size keys and
// fixed-size values.
//
// Keys are ordered by bytes.Compare; callers encode multi-field keys
// big-endian so byte order agrees with numeric order. Branch nodes index
// each subtree by its maximum key, so every search takes the first entry
// whose key is >= the target. Values live in a separate file and are
// addressed by stable int32 handles returned from Insert.
package bptree

import "errors"

var (
	// ErrExists is returned by Insert when the key is already present.
	ErrExists = errors.New("bptree: key already exists")

	// ErrNotFound is returned by Get, Set and Erase when the key is absent.
	ErrNotFound = errors.New("bptree: key not found")
)

// BPTree represents a B+ tree on disk.
type BPTree struct {
	file  pagedFile
	cache *nodeCache

	keySize   int
	valueSize int
	szmax     int32
	szmin     int32
	nodeSize  int32

	rootPos int32
	begPos  int32
	endPos  int32
	closed  bool
}

// Open opens the tree named name under dir, creating its files when
// missing. keySize and valueSize fix the record widths for the lifetime
// of the files.
func Open(dir, name string, keySize, valueSize int) (*BPTree, error) {
	t := &BPTree{keySize: keySize, valueSize: valueSize}

	t.szmax = int32(4000/(keySize+4) - 1)

	if t.szmax < 4 {
		t.szmax = 4
	}

	t.szmin = t.szmax / 2
	t.nodeSize = nodeHeaderSize + (t.szmax+1)*int32(keySize+4)
	t.cache = newNodeCache(t.nodeSize)

	if err := t.file.open(dir, name, t.nodeSize, int32(valueSize)); err != nil {
		return nil, err
	}

	if rootPos, begPos, endPos, ok := t.file.readHeader(); ok {
		t.rootPos = rootPos
		t.begPos = begPos
		t.endPos = endPos
		return t, nil
	}

	t.initEmpty()
	return t, nil
}

// Close flushes the node cache, persists the header and closes the
// files. Closing an already closed tree is a no-op.
func (t *BPTree) Close() error {
	if t.closed {
		return nil
	}

	t.closed = true
	t.cache.flush(t.storeNode)
	t.file.writeHeader(t.rootPos, t.begPos, t.endPos)
	return t.file.close()
}

// Clear flushes and discards the cache, truncates the files and
// reinitializes an empty root.
func (t *BPTree) Clear() error {
	t.cache.flush(t.storeNode)

	if err := t.file.truncate(); err != nil {
		return err
	}

	t.initEmpty()
	return nil
}

// IsEmpty reports whether the tree holds no records.
func (t *BPTree) IsEmpty() bool {
	return t.readNode(t.rootPos).size == 0
}

// Has reports whether key is present.
func (t *BPTree) Has(key []byte) bool {
	_, _, ok := t.findLeaf(key)
	return ok
}

// Get returns the value stored under key.
func (t *BPTree) Get(key []byte) ([]byte, error) {
	u, idx, ok := t.findLeaf(key)

	if !ok {
		return nil, ErrNotFound
	}

	return t.file.readValue(u.vals[idx]), nil
}

// GetDefault returns the value stored under key, or a zero-filled record
// when the key is absent.
func (t *BPTree) GetDefault(key []byte) []byte {
	u, idx, ok := t.findLeaf(key)

	if !ok {
		return make([]byte, t.valueSize)
	}

	return t.file.readValue(u.vals[idx])
}

// Set replaces the value of an existing key in place.
func (t *BPTree) Set(key, value []byte) error {
	u, idx, ok := t.findLeaf(key)

	if !ok {
		return ErrNotFound
	}

	t.file.writeValue(u.vals[idx], value)
	return nil
}

// FindHandle returns the value handle of key.
func (t *BPTree) FindHandle(key []byte) (int32, bool) {
	u, idx, ok := t.findLeaf(key)

	if !ok {
		return nilPos, false
	}

	return u.vals[idx], true
}

// GetByHandle reads a value directly through its handle, bypassing the
// tree descent.
func (t *BPTree) GetByHandle(handle int32) []byte {
	return t.file.readValue(handle)
}

// SetByHandle writes a value directly through its handle.
func (t *BPTree) SetByHandle(handle int32, value []byte) {
	t.file.writeValue(handle, value)
}

// Insert adds a new record and returns the handle of its value slot.
// The handle stays valid until the key is erased.
func (t *BPTree) Insert(key, value []byte) (int32, error) {
	valPos := t.file.allocValue()
	root := t.readNode(t.rootPos)

	if err := t.insertNode(root, nil, 0, key, valPos); err != nil {
		t.file.freeValue(valPos)
		return nilPos, err
	}

	t.file.writeValue(valPos, value)
	return valPos, nil
}

// Erase removes a record and recycles its value slot; the record's
// handle is invalidated and may be handed out again.
func (t *BPTree) Erase(key []byte) error {
	root := t.readNode(t.rootPos)
	return t.eraseNode(root, nil, 0, key)
}

func (t *BPTree) initEmpty() {
	root := newNode(t.file.allocNode(), true, t.szmax+1)
	t.rootPos = root.pos
	t.begPos = root.pos
	t.endPos = root.pos
	t.writeNode(root)
	t.file.writeHeader(t.rootPos, t.begPos, t.endPos)
}

// findLeaf descends to the leaf entry holding key. The returned node is
// a private copy.
func (t *BPTree) findLeaf(key []byte) (*node, int32, bool) {
	u := t.readNode(t.rootPos)

	for {
		idx := u.lowerBound(key)

		if idx >= u.size || u.leaf && !u.keyEquals(idx, key) {
			return nil, 0, false
		}

		if u.leaf {
			return u, idx, true
		}

		u = t.readNode(u.vals[idx])
	}
}

func (t *BPTree) insertNode(u, p *node, idxU int32, key []byte, val int32) error {
	idx := u.lowerBound(key)

	if u.keyEquals(idx, key) {
		return ErrExists
	}

	// Descending to the rightmost child: lift the separator first so
	// the parent indexes the new maximum before the subtree holds it.
	if idx == u.size && p != nil {
		p.setKey(idxU, key)
	}

	if u.leaf {
		u.insertAt(idx, key, val)
	} else {
		if idx == u.size {
			idx--
		}

		s := t.readNode(u.vals[idx])

		if err := t.insertNode(s, u, idx, key, val); err != nil {
			return err
		}
	}

	if u.size > t.szmax {
		t.split(u, p, idxU)
	} else {
		t.writeNode(u)
	}

	return nil
}

// split moves the upper half of u into a fresh right sibling and
// registers it with the parent, growing a new root when u was the root.
func (t *BPTree) split(u, p *node, idxU int32) {
	v := newNode(t.file.allocNode(), u.leaf, t.szmax+1)
	v.size = u.size >> 1
	u.size -= v.size

	for i := int32(0); i < v.size; i++ {
		v.keys[i] = u.keys[u.size+i]
		v.vals[i] = u.vals[u.size+i]
		u.keys[u.size+i] = nil
	}

	v.next = u.next
	v.prev = u.pos
	u.next = v.pos

	if u.pos == t.endPos {
		t.endPos = v.pos
	}

	t.writeNode(u)
	t.writeNode(v)

	if u.pos == t.rootPos {
		r := newNode(t.file.allocNode(), false, t.szmax+1)
		r.size = 2
		r.setKey(0, u.maxKey())
		r.vals[0] = u.pos
		r.setKey(1, v.maxKey())
		r.vals[1] = v.pos
		t.rootPos = r.pos
		t.writeNode(r)
		return
	}

	if v.next != nilPos {
		nxt := t.readNode(v.next)
		nxt.prev = v.pos
		t.writeNode(nxt)
	}

	p.setKey(idxU, u.maxKey())
	p.insertAt(idxU+1, v.maxKey(), v.pos)
}

func (t *BPTree) eraseNode(u, p *node, idxU int32, key []byte) error {
	idx := u.lowerBound(key)

	if idx == u.size || u.leaf && !u.keyEquals(idx, key) {
		return ErrNotFound
	}

	if u.leaf {
		t.file.freeValue(u.vals[idx])
		u.eraseAt(idx)
	} else {
		s := t.readNode(u.vals[idx])

		if err := t.eraseNode(s, u, idx, key); err != nil {
			return err
		}
	}

	if p != nil {
		p.setKey(idxU, u.maxKey())
	}

	switch {
	case u.pos == t.rootPos:
		t.writeNode(u)
	case p == nil:
		// u entered this frame as the root and a child merge already
		// collapsed it; the slot is freed, nothing left to write.
	case u.size < t.szmin:
		if idxU > 0 {
			v := t.readNode(u.prev)
			t.rebalance(v, u, p, idxU-1)
		} else {
			v := t.readNode(u.next)
			t.rebalance(u, v, p, idxU)
		}
	default:
		t.writeNode(u)
	}

	return nil
}

// rebalance repairs an underflow between adjacent siblings u and v
// (u left, indexed at idxU in p): it merges them when both sit at the
// minimum, otherwise the larger sibling lends one entry.
func (t *BPTree) rebalance(u, v, p *node, idxU int32) {
	if u.size <= t.szmin && v.size <= t.szmin {
		if v.pos == t.endPos {
			t.endPos = u.pos
		}

		for i := int32(0); i < v.size; i++ {
			u.keys[u.size+i] = v.keys[i]
			u.vals[u.size+i] = v.vals[i]
		}

		u.size += v.size
		u.next = v.next

		if u.next != nilPos {
			nxt := t.readNode(u.next)
			nxt.prev = u.pos
			t.writeNode(nxt)
		}

		t.writeNode(u)
		t.cache.drop(v.pos)
		t.file.freeNode(v.pos)

		if p.pos == t.rootPos && p.size == 2 {
			t.cache.drop(p.pos)
			t.file.freeNode(p.pos)
			t.rootPos = u.pos
		} else {
			p.setKey(idxU, u.maxKey())
			p.eraseAt(idxU + 1)
		}

		return
	}

	if u.size > t.szmin {
		v.insertAt(0, u.keys[u.size-1], u.vals[u.size-1])
		u.eraseAt(u.size - 1)
	} else {
		u.insertAt(u.size, v.keys[0], v.vals[0])
		v.eraseAt(0)
	}

	p.setKey(idxU, u.maxKey())
	t.writeNode(u)
	t.writeNode(v)
}

// readNode returns a private copy of the node at pos, loading it into
// the cache on a miss.
func (t *BPTree) readNode(pos int32) *node {
	if u := t.cache.find(pos); u != nil {
		return u.clone()
	}

	buf := make([]byte, t.nodeSize)
	t.file.readNodePage(pos, buf)
	u := t.decodeNode(buf)
	t.cache.put(u, t.storeNode)
	return u.clone()
}

// writeNode makes u's state resident in the cache; it reaches disk on
// eviction or flush.
func (t *BPTree) writeNode(u *node) {
	t.cache.put(u.clone(), t.storeNode)
}

func (t *BPTree) storeNode(u *node) {
	buf := make([]byte, t.nodeSize)
	t.encodeNode(u, buf)
	t.file.writeNodePage(u.pos, buf)
}
