package mmdb

import "encoding/binary"

const (
	magicNumber  = 0xDCDB2020
	formatVersion = 1

	// dbRecordSize is the 48-byte on-disk DB record from §3.
	dbRecordSize = 48
)

// dbRecord is a view over one 48-byte DB record: leaf2 element size, flags,
// depth, branch/leaf/overflow page counts, entry count, root pgno. Two are
// always present in meta (free-DB at index 0, main DB at index 1);
// additional named DBs live as sub-DBs, materialized as DB-record-valued
// leaf nodes (§3, §4.9 duplicates, supplemented Bucket feature).
type dbRecord struct {
	buf []byte
}

func dbRecordAt(buf []byte) dbRecord { return dbRecord{buf: buf[:dbRecordSize]} }

func (r dbRecord) leaf2Size() int      { return int(getUint32(r.buf[0:4])) }
func (r dbRecord) setLeaf2Size(n int)  { putUint32(r.buf[0:4], uint32(n)) }
func (r dbRecord) flags() uint32       { return uint32(binary.LittleEndian.Uint16(r.buf[4:6])) }
func (r dbRecord) setFlags(f uint32)   { binary.LittleEndian.PutUint16(r.buf[4:6], uint16(f)) }
func (r dbRecord) depth() int          { return int(binary.LittleEndian.Uint16(r.buf[6:8])) }
func (r dbRecord) setDepth(n int)      { binary.LittleEndian.PutUint16(r.buf[6:8], uint16(n)) }
func (r dbRecord) branchPages() uint64 { return getUint64(r.buf[8:16]) }
func (r dbRecord) setBranchPages(n uint64) { putUint64(r.buf[8:16], n) }
func (r dbRecord) leafPages() uint64   { return getUint64(r.buf[16:24]) }
func (r dbRecord) setLeafPages(n uint64) { putUint64(r.buf[16:24], n) }
func (r dbRecord) overflowPages() uint64 { return getUint64(r.buf[24:32]) }
func (r dbRecord) setOverflowPages(n uint64) { putUint64(r.buf[24:32], n) }
func (r dbRecord) entries() uint64     { return getUint64(r.buf[32:40]) }
func (r dbRecord) setEntries(n uint64) { putUint64(r.buf[32:40], n) }
func (r dbRecord) root() pgno          { return pgno(getUint64(r.buf[40:48])) }
func (r dbRecord) setRoot(p pgno)      { putUint64(r.buf[40:48], uint64(p)) }

const dupFixedFlag uint32 = 1 << 0
const dupSortFlag uint32 = 1 << 1

func (r dbRecord) isDupFixed() bool { return r.flags()&dupFixedFlag != 0 }
func (r dbRecord) isDupSort() bool  { return r.flags()&dupSortFlag != 0 }

func (r dbRecord) clone() dbRecord {
	buf := make([]byte, dbRecordSize)
	copy(buf, r.buf)
	return dbRecord{buf: buf}
}

func (r dbRecord) empty() bool { return r.root() == invalidPgno }

func newEmptyDBRecord() dbRecord {
	r := dbRecord{buf: make([]byte, dbRecordSize)}
	r.setRoot(invalidPgno)
	return r
}

// metaLayoutSize is everything after the 16-byte page header: magic,
// version, pageSize, fixedMapAddr, mapSize, free-DB record, main-DB
// record, lastUsedPgno, committing txnid.
const metaLayoutSize = 4 + 4 + 4 + 8 + 8 + dbRecordSize*2 + 8 + 8

// meta is a view over one meta page's payload (the bytes right after the
// 16-byte page header).
type meta struct {
	buf []byte
}

func metaOf(p page) meta {
	return meta{buf: p.buf[pageHeaderSize : pageHeaderSize+metaLayoutSize]}
}

func (m meta) magic() uint32          { return getUint32(m.buf[0:4]) }
func (m meta) setMagic(v uint32)      { putUint32(m.buf[0:4], v) }
func (m meta) version() uint32        { return getUint32(m.buf[4:8]) }
func (m meta) setVersion(v uint32)    { putUint32(m.buf[4:8], v) }

// pageSize is the page size this database was created with (§4.5
// "determine actual page size from the selected meta"); Open reads it
// back for an existing file instead of trusting whatever Options.PageSize
// the caller happened to pass.
func (m meta) pageSize() int       { return int(getUint32(m.buf[8:12])) }
func (m meta) setPageSize(v int)   { putUint32(m.buf[8:12], uint32(v)) }

func (m meta) fixedMapAddr() uint64   { return getUint64(m.buf[12:20]) }
func (m meta) setFixedMapAddr(v uint64) { putUint64(m.buf[12:20], v) }
func (m meta) mapSize() uint64        { return getUint64(m.buf[20:28]) }
func (m meta) setMapSize(v uint64)    { putUint64(m.buf[20:28], v) }

func (m meta) freeDB() dbRecord { return dbRecordAt(m.buf[28 : 28+dbRecordSize]) }
func (m meta) mainDB() dbRecord {
	start := 28 + dbRecordSize
	return dbRecordAt(m.buf[start : start+dbRecordSize])
}

func (m meta) lastPgno() pgno {
	start := 28 + 2*dbRecordSize
	return pgno(getUint64(m.buf[start : start+8]))
}
func (m meta) setLastPgno(p pgno) {
	start := 28 + 2*dbRecordSize
	putUint64(m.buf[start:start+8], uint64(p))
}

func (m meta) txnID() txnid {
	start := 28 + 2*dbRecordSize + 8
	return txnid(getUint64(m.buf[start : start+8]))
}
func (m meta) setTxnID(t txnid) {
	start := 28 + 2*dbRecordSize + 8
	putUint64(m.buf[start:start+8], uint64(t))
}

func (m meta) valid() bool {
	return m.magic() == magicNumber && m.version() == formatVersion
}

// snapshot copies the mutable parts of a meta page into an independent
// in-memory record a transaction can own and mutate without touching the
// mmap, per §4.10 "copy DB records from meta".
type metaSnapshot struct {
	freeDB    dbRecord
	mainDB    dbRecord
	lastPgno  pgno
	txnID     txnid
	mapSize   uint64
	pageSize  int
}

func (m meta) snapshot() metaSnapshot {
	return metaSnapshot{
		freeDB:   m.freeDB().clone(),
		mainDB:   m.mainDB().clone(),
		lastPgno: m.lastPgno(),
		txnID:    m.txnID(),
		mapSize:  m.mapSize(),
		pageSize: m.pageSize(),
	}
}

// writeInto serializes s into the meta page at slot (txnID mod 2), writing
// only the fields layout requires -- the whole metaLayoutSize region, since
// at this page size a single pwrite of the full region is cheaper than
// tracking a dirty sub-range.
func (s metaSnapshot) writeInto(m meta) {
	m.setMagic(magicNumber)
	m.setVersion(formatVersion)
	m.setPageSize(s.pageSize)
	m.setMapSize(s.mapSize)
	copy(m.freeDB().buf, s.freeDB.buf)
	copy(m.mainDB().buf, s.mainDB.buf)
	m.setLastPgno(s.lastPgno)
	m.setTxnID(s.txnID)
}
