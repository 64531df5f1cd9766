package bptree

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

const headerSize = 12

// pagedFile owns the three files backing one tree: a 12-byte header
// holding the root and leaf-chain positions, a node file of fixed-size
// slots, and a value file of fixed-size records. Freed positions are
// pooled in memory only; the pools start empty on every open.
type pagedFile struct {
	headerName string
	nodeName   string
	valueName  string

	header *os.File
	nodes  *os.File
	values *os.File

	nodeSize  int32
	valueSize int32

	nodeTail  int32
	valueTail int32

	freeNodes  []int32
	freeValues []int32
}

func (f *pagedFile) open(dir, name string, nodeSize, valueSize int32) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	base := filepath.Join(dir, "BPT_"+name)
	f.headerName = base + "_tree.bin"
	f.nodeName = base + "_node.bin"
	f.valueName = base + "_value.bin"
	f.nodeSize = nodeSize
	f.valueSize = valueSize

	var err error

	if f.header, err = os.OpenFile(f.headerName, os.O_RDWR|os.O_CREATE, 0o644); err != nil {
		return err
	}

	if f.nodes, err = os.OpenFile(f.nodeName, os.O_RDWR|os.O_CREATE, 0o644); err != nil {
		f.header.Close()
		return err
	}

	if f.values, err = os.OpenFile(f.valueName, os.O_RDWR|os.O_CREATE, 0o644); err != nil {
		f.header.Close()
		f.nodes.Close()
		return err
	}

	return f.resetTails()
}

func (f *pagedFile) close() error {
	err := f.header.Close()

	if err2 := f.nodes.Close(); err == nil {
		err = err2
	}

	if err2 := f.values.Close(); err == nil {
		err = err2
	}

	return err
}

// readHeader returns the stored root and leaf-chain positions. ok is
// false when the header has never been written.
func (f *pagedFile) readHeader() (rootPos, begPos, endPos int32, ok bool) {
	var buf [headerSize]byte

	if _, err := f.header.ReadAt(buf[:], 0); err != nil {
		return -1, -1, -1, false
	}

	rootPos = int32(binary.LittleEndian.Uint32(buf[0:]))
	begPos = int32(binary.LittleEndian.Uint32(buf[4:]))
	endPos = int32(binary.LittleEndian.Uint32(buf[8:]))
	return rootPos, begPos, endPos, true
}

func (f *pagedFile) writeHeader(rootPos, begPos, endPos int32) {
	var buf [headerSize]byte
	binary.LittleEndian.PutUint32(buf[0:], uint32(rootPos))
	binary.LittleEndian.PutUint32(buf[4:], uint32(begPos))
	binary.LittleEndian.PutUint32(buf[8:], uint32(endPos))
	mustWriteAt(f.header, buf[:], 0)
}

// allocNode returns a free node slot. A slot taken from the end of the
// file is zero-filled immediately so the offset stays reachable after a
// restart even if the caller's write never happens.
func (f *pagedFile) allocNode() int32 {
	if n := len(f.freeNodes); n > 0 {
		pos := f.freeNodes[n-1]
		f.freeNodes = f.freeNodes[:n-1]
		return pos
	}

	pos := f.nodeTail
	f.nodeTail += f.nodeSize
	mustWriteAt(f.nodes, make([]byte, f.nodeSize), int64(pos))
	return pos
}

func (f *pagedFile) freeNode(pos int32) {
	f.freeNodes = append(f.freeNodes, pos)
}

// allocValue returns a free value slot. Unlike nodes, a fresh slot is
// not zero-filled; the first real value write extends the file.
func (f *pagedFile) allocValue() int32 {
	if n := len(f.freeValues); n > 0 {
		pos := f.freeValues[n-1]
		f.freeValues = f.freeValues[:n-1]
		return pos
	}

	pos := f.valueTail
	f.valueTail += f.valueSize
	return pos
}

func (f *pagedFile) freeValue(pos int32) {
	f.freeValues = append(f.freeValues, pos)
}

func (f *pagedFile) readNodePage(pos int32, buf []byte) {
	mustReadAt(f.nodes, buf, int64(pos))
}

func (f *pagedFile) writeNodePage(pos int32, buf []byte) {
	mustWriteAt(f.nodes, buf, int64(pos))
}

func (f *pagedFile) readValue(pos int32) []byte {
	buf := make([]byte, f.valueSize)
	mustReadAt(f.values, buf, int64(pos))
	return buf
}

func (f *pagedFile) writeValue(pos int32, buf []byte) {
	mustWriteAt(f.values, buf, int64(pos))
}

// truncate empties all three files and discards the free pools.
func (f *pagedFile) truncate() error {
	for _, file := range []*os.File{f.header, f.nodes, f.values} {
		if err := file.Truncate(0); err != nil {
			return err
		}
	}

	f.freeNodes = nil
	f.freeValues = nil
	f.nodeTail = 0
	f.valueTail = 0
	return nil
}

func (f *pagedFile) resetTails() error {
	nodeInfo, err := f.nodes.Stat()

	if err != nil {
		return err
	}

	valueInfo, err := f.values.Stat()

	if err != nil {
		return err
	}

	f.nodeTail = int32(nodeInfo.Size())
	f.valueTail = int32(valueInfo.Size())
	return nil
}

func mustReadAt(f *os.File, buf []byte, off int64) {
	if _, err := f.ReadAt(buf, off); err != nil {
		panic(fmt.Errorf("bptree: read %s@%d: %w", f.Name(), off, err))
	}
}

func mustWriteAt(f *os.File, buf []byte, off int64) {
	if _, err := f.WriteAt(buf, off); err != nil {
		panic(fmt.Errorf("bptree: write %s@%d: %w", f.Name(), off, err))
	}
}
