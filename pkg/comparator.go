package mmdb

import (
	"bytes"
	"encoding/binary"
)

// Comparator orders keys within a single DB. Per §9: the DB record stores no
// comparator identifier, so whoever reopens a DB must supply one compatible
// with the order already on disk. A Comparator must be a deterministic total
// order or invariant 4 (sorted offsets) is silently violated.
type Comparator func(a, b []byte) int

// CompareBytes is the default lexicographic, byte-wise comparator.
func CompareBytes(a, b []byte) int {
	return bytes.Compare(a, b)
}

// CompareReverse orders keys by reversed byte comparison, useful for
// descending iteration without a reverse cursor wrapper.
func CompareReverse(a, b []byte) int {
	return bytes.Compare(b, a)
}

// CompareUint64 interprets both keys as little-endian uint64 and orders
// numerically. Keys shorter than 8 bytes are treated as zero-padded.
func CompareUint64(a, b []byte) int {
	x := decodeUint64(a)
	y := decodeUint64(b)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

func decodeUint64(b []byte) uint64 {
	var buf [8]byte
	copy(buf[:], b)
	return binary.LittleEndian.Uint64(buf[:])
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}
