package mmdb

import "encoding/binary"

// Native byte order for on-disk integers. Per §6 the format is explicitly
// not portable across endianness; the magic number doubles as the check.
// We fix little-endian rather than "native" to keep the codec testable on
// any CI host regardless of its actual architecture.
func putUint64(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }
func getUint64(b []byte) uint64    { return binary.LittleEndian.Uint64(b) }
func putUint32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func getUint32(b []byte) uint32    { return binary.LittleEndian.Uint32(b) }
