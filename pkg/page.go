package mmdb

import (
	"encoding/binary"
	"fmt"
)

// pgno is a page number. invalidPgno marks "no page" (empty tree root,
// absent overflow chain, ...).
type pgno uint64

const invalidPgno = pgno(^uint64(0))

// txnid is a transaction id. txnid 0 means "no transaction yet".
type txnid uint64

// Page kind bits, non-exclusive per §3 (a page is exactly one tree kind,
// plus zero or more transient bits).
type pageFlag uint16

const (
	pageBranch   pageFlag = 1 << 0
	pageLeaf     pageFlag = 1 << 1
	pageLeaf2    pageFlag = 1 << 2
	pageOverflow pageFlag = 1 << 3
	pageMeta     pageFlag = 1 << 4
	pageSubPage  pageFlag = 1 << 5

	// Transient, never written to disk.
	pageDirty pageFlag = 1 << 6
	pageLoose pageFlag = 1 << 7
	pageKeep  pageFlag = 1 << 8
)

// pageHeaderSize is the fixed 16-byte page header: pgno (8) + flags (2) +
// leaf2Size (2) + lower (2) + upper (2).
const pageHeaderSize = 16

// page is a thin, offset-based view over one page's bytes, backed either by
// the mmap (read-only) or by a heap-allocated dirty-page buffer. It never
// copies; all accessors index into buf directly.
type page struct {
	buf []byte
}

func pageAt(buf []byte, size int, id pgno) page {
	off := int(id) * size
	return page{buf: buf[off : off+size]}
}

func (p page) pgno() pgno          { return pgno(binary.LittleEndian.Uint64(p.buf[0:8])) }
func (p page) setPgno(id pgno)     { binary.LittleEndian.PutUint64(p.buf[0:8], uint64(id)) }
func (p page) flags() pageFlag     { return pageFlag(binary.LittleEndian.Uint16(p.buf[8:10])) }
func (p page) setFlags(f pageFlag) { binary.LittleEndian.PutUint16(p.buf[8:10], uint16(f)) }
func (p page) addFlags(f pageFlag)   { p.setFlags(p.flags() | f) }
func (p page) clearFlags(f pageFlag) { p.setFlags(p.flags() &^ f) }

// leaf2Size is the fixed element size for a leaf2 page's packed values, or
// the overflow run length (number of extra pages) when this is the first
// page of an overflow chain.
func (p page) leaf2Size() int       { return int(binary.LittleEndian.Uint16(p.buf[10:12])) }
func (p page) setLeaf2Size(n int)   { binary.LittleEndian.PutUint16(p.buf[10:12], uint16(n)) }
func (p page) overflowRun() int     { return p.leaf2Size() }
func (p page) setOverflowRun(n int) { p.setLeaf2Size(n) }

func (p page) lower() int     { return int(binary.LittleEndian.Uint16(p.buf[12:14])) }
func (p page) setLower(n int) { binary.LittleEndian.PutUint16(p.buf[12:14], uint16(n)) }
func (p page) upper() int     { return int(binary.LittleEndian.Uint16(p.buf[14:16])) }
func (p page) setUpper(n int) { binary.LittleEndian.PutUint16(p.buf[14:16], uint16(n)) }

func (p page) is(f pageFlag) bool { return p.flags()&f != 0 }

func (p page) kindString() string {
	switch {
	case p.is(pageMeta):
		return "meta"
	case p.is(pageBranch):
		return "branch"
	case p.is(pageLeaf2):
		return "leaf2"
	case p.is(pageLeaf):
		return "leaf"
	case p.is(pageOverflow):
		return "overflow"
	default:
		return "unknown"
	}
}

func (p page) String() string {
	return fmt.Sprintf("page[%d] %s lower=%d upper=%d", p.pgno(), p.kindString(), p.lower(), p.upper())
}

// numNodes is the node/offset count, derived from lower per invariant 2:
// offsets occupy [pageHeaderSize, lower) in 2-byte entries.
func (p page) numNodes() int {
	return (p.lower() - pageHeaderSize) / 2
}

func (p page) offset(i int) int {
	return int(binary.LittleEndian.Uint16(p.buf[pageHeaderSize+2*i:]))
}

func (p page) setOffset(i, v int) {
	binary.LittleEndian.PutUint16(p.buf[pageHeaderSize+2*i:], uint16(v))
}

// initEmpty resets a fresh page buffer to the given kind with zero nodes.
func (p page) initEmpty(id pgno, flags pageFlag) {
	for i := range p.buf {
		p.buf[i] = 0
	}
	p.setPgno(id)
	p.setFlags(flags)
	p.setLower(pageHeaderSize)
	p.setUpper(len(p.buf))
}

// --- node accessors (branch/leaf pages) ---
//
// node header, 8 bytes: [dataSizeOrUnused u32][flags u16][keySize u16],
// followed immediately by key bytes then (for leaves) data bytes. Branch
// nodes reuse the data slot to hold the 8-byte child pgno instead of the
// spec's packed lo/hi/top halves -- see DESIGN.md for why: this module
// defines pgno as a full 64-bit value (§3) rather than capping branches at
// 48 bits, so packing into three 16-bit halves would throw away addressable
// pages for no benefit to a non-portable on-disk format we don't need to
// match byte-for-byte.
const nodeHeaderSize = 8

type nodeFlag uint16

const (
	nodeBigData nodeFlag = 1 << 0 // data is a pgno of an overflow chain
	nodeSubDB   nodeFlag = 1 << 1 // data is an embedded DB record
	nodeDupData nodeFlag = 1 << 2 // data is a sub-page or sub-DB of duplicates
)

// nodeSize returns the heap bytes a (key, data) pair occupies once inserted,
// rounded up to 2-byte alignment as spec §4.1 requires.
func nodeSize(key, data []byte) int {
	n := nodeHeaderSize + len(key) + len(data)
	if n%2 != 0 {
		n++
	}
	return n
}

// branchEntrySize is nodeSize for a branch entry: key plus the 8-byte child
// pgno used as its data slot.
func branchEntrySize(key []byte) int {
	return nodeSize(key, make([]byte, 8))
}

// node is a decoded view of one node body, located by its heap offset.
type node struct {
	p      page
	offset int
}

func (p page) nodeAt(i int) node {
	return node{p: p, offset: p.offset(i)}
}

func (n node) dataSize() int {
	return int(binary.LittleEndian.Uint32(n.p.buf[n.offset : n.offset+4]))
}

func (n node) setDataSize(sz int) {
	binary.LittleEndian.PutUint32(n.p.buf[n.offset:n.offset+4], uint32(sz))
}

func (n node) flags() nodeFlag {
	return nodeFlag(binary.LittleEndian.Uint16(n.p.buf[n.offset+4 : n.offset+6]))
}

func (n node) setFlags(f nodeFlag) {
	binary.LittleEndian.PutUint16(n.p.buf[n.offset+4:n.offset+6], uint16(f))
}

func (n node) is(f nodeFlag) bool { return n.flags()&f != 0 }

func (n node) keySize() int {
	return int(binary.LittleEndian.Uint16(n.p.buf[n.offset+6 : n.offset+8]))
}

func (n node) setKeySize(sz int) {
	binary.LittleEndian.PutUint16(n.p.buf[n.offset+6:n.offset+8], uint16(sz))
}

func (n node) key() []byte {
	start := n.offset + nodeHeaderSize
	return n.p.buf[start : start+n.keySize()]
}

func (n node) data() []byte {
	start := n.offset + nodeHeaderSize + n.keySize()
	return n.p.buf[start : start+n.dataSize()]
}

// childPgno reads the branch child pointer stored in the data slot.
func (n node) childPgno() pgno {
	return pgno(binary.LittleEndian.Uint64(n.data()))
}

func (n node) setChildPgno(id pgno) {
	start := n.offset + nodeHeaderSize + n.keySize()
	binary.LittleEndian.PutUint64(n.p.buf[start:start+8], uint64(id))
}

// overflowPgno reads the overflow-chain head pgno stored in a big-data leaf
// node's data slot.
func (n node) overflowPgno() pgno {
	return pgno(binary.LittleEndian.Uint64(n.data()))
}

// insertNode implements §4.1 insert_node: shift offsets, carve from the
// heap top, write header + key + data. Returns false ("page full") when the
// remaining heap can't fit the rounded node size.
func insertNode(p page, index int, key, data []byte, flags nodeFlag) bool {
	size := nodeSize(key, data)
	free := p.upper() - p.lower() - 2
	if free < size {
		return false
	}

	n := p.numNodes()
	for i := n; i > index; i-- {
		p.setOffset(i, p.offset(i-1))
	}
	p.setLower(p.lower() + 2)

	newUpper := p.upper() - size
	p.setUpper(newUpper)
	p.setOffset(index, newUpper)

	body := node{p: p, offset: newUpper}
	body.setDataSize(len(data))
	body.setFlags(flags)
	body.setKeySize(len(key))
	copy(p.buf[newUpper+nodeHeaderSize:], key)
	copy(p.buf[newUpper+nodeHeaderSize+len(key):], data)

	return true
}

// deleteNode implements §4.1 delete_node: shift offsets down, compact the
// heap by sliding everything below the removed body upward, and fix up
// every offset that pointed below it.
func deleteNode(p page, index int) {
	removed := p.nodeAt(index)
	start := removed.offset
	size := nodeSize(removed.key(), removed.data())

	n := p.numNodes()
	for i := index; i < n-1; i++ {
		p.setOffset(i, p.offset(i+1))
	}
	p.setLower(p.lower() - 2)

	upper := p.upper()
	copy(p.buf[upper+size:start+size], p.buf[upper:start])
	p.setUpper(upper + size)

	for i := 0; i < p.numNodes(); i++ {
		off := p.offset(i)
		if off < start {
			p.setOffset(i, off+size)
		}
	}
}
