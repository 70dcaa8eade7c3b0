package mmdb

import "github.com/go-logr/logr"

// Durability controls how a write transaction's commit reaches disk.
// Mirrors the three modes in the commit-durability taxonomy: the slower
// modes trade latency for a smaller corruption window, never more.
type Durability int

const (
	// SyncFull fsyncs the data file, then writes meta through a
	// synchronous file descriptor. Default, strongest guarantee.
	SyncFull Durability = iota
	// SyncDataOnly fsyncs the data file but writes meta through the
	// regular (non-sync) descriptor; meta may be reordered after later
	// writes by the OS but the data it could ever point to is durable.
	SyncDataOnly
	// SyncNone skips both fsyncs. Fastest; only uncommitted txns are at
	// risk on power loss, never corruption of previously committed state.
	SyncNone
)

// Options configures Open. Zero value is a usable, conservative default.
type Options struct {
	// PageSize overrides the OS page size used for new databases. Ignored
	// when opening an existing file, whose page size is read from meta.
	PageSize int

	// ReadOnly opens the environment without ever acquiring the writer
	// mutex; Update calls return errReadOnlyTxn.
	ReadOnly bool

	// NoSubDir treats Path as the data file path directly instead of a
	// directory containing "data.mdb" / "lock.mdb".
	NoSubDir bool

	// Durability selects the commit-durability mode. Default SyncFull.
	Durability Durability

	// MaxReaders bounds the reader table. Default 126, matching the
	// teacher's cache-line-budget reasoning for a single mmap page of
	// reader slots at common cache-line sizes.
	MaxReaders int

	// MaxDBs bounds the in-process DB-handle table for named
	// sub-databases (§7 resource exhaustion: "DB-handle table full").
	MaxDBs int

	// InitialMmapSize is the map size requested on first open, rounded up
	// per roundMmapSize. Zero selects minMmapSize.
	InitialMmapSize int

	// FixedMapAddr names a fixed mapping address (meta layout's
	// "optional fixed-map address"). Open does not read it: the OS always
	// chooses the mapping address, whatever the value.
	FixedMapAddr uintptr

	// Comparator orders keys in the main DB. Defaults to lexicographic.
	Comparator Comparator

	// Logger receives structured log output. Defaults to a stdr logger.
	Logger *logr.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxReaders <= 0 {
		o.MaxReaders = 126
	}
	if o.MaxDBs <= 0 {
		o.MaxDBs = 1024
	}
	if o.Comparator == nil {
		o.Comparator = CompareBytes
	}
	return o
}
