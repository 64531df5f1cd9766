package bptree

import "github.com/yuhao-qian/railbook/internal/lhmap"

// cacheBudget bounds the memory spent on cached nodes per tree; the
// entry count is derived from the node size.
const cacheBudget = 1 << 18

// nodeCache is a write-back LRU cache of decoded nodes keyed by node
// slot position. A hit refreshes the entry; when a miss would exceed
// capacity the least recently used node is written back and dropped.
type nodeCache struct {
	capacity int
	entries  *lhmap.Map[int32, *node]
}

func newNodeCache(nodeSize int32) *nodeCache {
	capacity := int(cacheBudget / nodeSize)

	if capacity < 4 {
		capacity = 4
	}

	return &nodeCache{
		capacity: capacity,
		entries:  lhmap.New[int32, *node](func(pos int32) uint64 { return uint64(uint32(pos)) }),
	}
}

// find returns the cached node at pos, or nil. The entry moves to the
// front of the LRU list.
func (c *nodeCache) find(pos int32) *node {
	if e := c.entries.Find(pos); e != nil {
		return e.Value
	}

	return nil
}

// put caches u under its position, replacing any resident copy. When the
// cache is full the evicted node is passed to writeBack before removal.
func (c *nodeCache) put(u *node, writeBack func(*node)) {
	if e := c.entries.Find(u.pos); e != nil {
		e.Value = u
		return
	}

	if c.entries.Len() == c.capacity {
		tail := c.entries.Back()
		writeBack(tail.Value)
		c.entries.Erase(tail)
	}

	c.entries.Insert(u.pos, u)
}

// drop removes the entry at pos, if any, without writing it back.
func (c *nodeCache) drop(pos int32) {
	if e := c.entries.Find(pos); e != nil {
		c.entries.Erase(e)
	}
}

// flush writes every resident node back and empties the cache.
func (c *nodeCache) flush(writeBack func(*node)) {
	for e := c.entries.Front(); e != nil; e = e.Next() {
		writeBack(e.Value)
	}

	c.entries.Clear()
}
