package railbook

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Field width caps, enforced at the parsing boundary; everything
// downstream assumes the strings fit their slots.
const (
	maxUserLen     = 20
	maxPasswordLen = 30
	maxNameLen     = 15
	maxMailLen     = 30
	maxTrainLen    = 20
	maxStationLen  = 30
)

// ID is the 64-bit hash of a user, train or station name. All tree keys
// are composed of IDs and small integers so keys have fixed width.
type ID uint64

func hashName(s string) ID {
	return ID(xxhash.Sum64String(s))
}

func idSum(id ID) uint64 { return uint64(id) }

func xxhashString(s string) uint64 { return xxhash.Sum64String(s) }

// Key fields are encoded big-endian so the trees' byte order agrees with
// numeric order.

func idKey(id ID) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(id))
	return k
}

func pairKey(a, b ID) []byte {
	k := make([]byte, 16)
	binary.BigEndian.PutUint64(k[0:], uint64(a))
	binary.BigEndian.PutUint64(k[8:], uint64(b))
	return k
}

func trainDayKey(train ID, day int) []byte {
	k := make([]byte, 12)
	binary.BigEndian.PutUint64(k[0:], uint64(train))
	binary.BigEndian.PutUint32(k[8:], uint32(day))
	return k
}

func orderKey(user ID, idx uint32) []byte {
	k := make([]byte, 12)
	binary.BigEndian.PutUint64(k[0:], uint64(user))
	binary.BigEndian.PutUint32(k[8:], idx)
	return k
}

func pendingKey(train ID, day int, opTime uint32) []byte {
	k := make([]byte, 16)
	binary.BigEndian.PutUint64(k[0:], uint64(train))
	binary.BigEndian.PutUint32(k[8:], uint32(day))
	binary.BigEndian.PutUint32(k[12:], opTime)
	return k
}

func trainIDOfPairKey(k []byte) ID {
	return ID(binary.BigEndian.Uint64(k[8:]))
}

// putString copies s into a NUL-padded fixed slot.
func putString(slot []byte, s string) {
	n := copy(slot, s)

	for ; n < len(slot); n++ {
		slot[n] = 0
	}
}

// getString reads a NUL-padded fixed slot back into a string.
func getString(slot []byte) string {
	for i, c := range slot {
		if c == 0 {
			return string(slot[:i])
		}
	}

	return string(slot)
}
