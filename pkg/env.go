package mmdb

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// Env is the process-wide environment: the memory map, file handles, the
// reader table, the open-DB-handle table, and the preallocated writer
// state. Lifecycle: created by Open, destroyed by Close; Close refuses
// while any Tx is live. Grounded on the teacher's DB struct (db.go /
// db/db.go), renamed to Env to make room for Bucket as the per-named-DB
// handle (§9 "Global state").
type Env struct {
	opts Options
	log  logr.Logger

	fm       *fileMap
	readers  *readerTable
	pageSize int

	mu       sync.Mutex
	dbHandles map[string]*dbHandle
	fatal    atomic.Bool
	fatalErr error

	writerTx *Tx // set only while a write txn is open

	fingerprint uuid.UUID
	closed      bool
}

// dbHandle is the in-process cache entry for a named sub-database, capped
// by Options.MaxDBs per §7's "DB-handle table full" resource-exhaustion
// class.
type dbHandle struct {
	name          string
	comparator    Comparator
	dupComparator Comparator // nil unless the DB was opened DupSort (§"Duplicates (DupSort)")
	stale         bool       // refreshed by re-resolving the name on first use
}

func osGetpid() int { return os.Getpid() }

// Open opens (creating if absent) the environment at path. When
// opts.NoSubDir is false, path is a directory holding "data.mdb" and
// "lock.mdb"; otherwise path is the data file itself (lock file is
// path+"-lock").
func Open(path string, opts Options) (*Env, error) {
	opts = opts.withDefaults()

	fm, err := openFileMap(path, opts.NoSubDir, opts.ReadOnly)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	env := &Env{
		opts:        opts,
		log:         defaultLogger(opts.Logger).WithValues("env", id.String()),
		fm:          fm,
		readers:     newReaderTable(opts.MaxReaders),
		dbHandles:   make(map[string]*dbHandle),
		fingerprint: id,
	}

	fi, err := fm.dataFile.Stat()
	if err != nil {
		fm.Close()
		return nil, err
	}

	if fi.Size() == 0 {
		if opts.ReadOnly {
			fm.Close()
			return nil, fmt.Errorf("mmdb: cannot create new database read-only")
		}
		env.pageSize = opts.PageSize
		if env.pageSize <= 0 {
			env.pageSize = os.Getpagesize()
		}
		if err := env.bootstrap(); err != nil {
			fm.Close()
			return nil, err
		}
	} else {
		// Options.PageSize is ignored for an existing file (options.go):
		// the real page size is read back from meta instead. Meta page 0
		// always lives at file offset 0 regardless of page size, so a
		// provisional size just large enough to hold the meta layout is
		// enough to locate and read it, per §4.5 "determine actual page
		// size from the selected meta".
		probe := os.Getpagesize()
		if probe < pageHeaderSize+metaLayoutSize {
			probe = pageHeaderSize + metaLayoutSize
		}
		if err := fm.grow(probe * 2); err != nil {
			fm.Close()
			return nil, err
		}
		m0 := metaOf(pageAt(fm.buf, probe, 0))
		if m0.valid() {
			env.pageSize = m0.pageSize()
		} else {
			m1 := metaOf(pageAt(fm.buf, probe, 1))
			if m1.valid() {
				env.pageSize = m1.pageSize()
			} else {
				fm.Close()
				return nil, errInvalidMagic
			}
		}
	}

	minSize := opts.InitialMmapSize
	if minSize <= 0 {
		minSize = minMmapSize
	}
	if err := fm.grow(minSize); err != nil {
		fm.Close()
		return nil, err
	}

	if err := env.validateMeta(); err != nil {
		fm.Close()
		return nil, err
	}

	env.readers.publishCommitted(env.currentMeta().txnID())

	return env, nil
}

// bootstrap writes a fresh, empty database: two meta pages (pgno 0, 1),
// both meta records pointing at invalid (empty) trees, committing txnid 0,
// and both stamped with env.pageSize so a later Open of this same file
// reads its page size back instead of trusting whatever Options.PageSize
// the next caller happens to pass. Matches the teacher's db.create(),
// generalized to the 64-bit layout.
func (env *Env) bootstrap() error {
	pageSize := env.pageSize
	buf := make([]byte, 2*pageSize)

	for i := 0; i < 2; i++ {
		p := pageAt(buf, pageSize, pgno(i))
		p.initEmpty(pgno(i), pageMeta)
		m := metaOf(p)
		m.setMagic(magicNumber)
		m.setVersion(formatVersion)
		m.setPageSize(pageSize)
		m.setMapSize(uint64(minMmapSize))
		m.setLastPgno(2)
		m.setTxnID(0)

		free := newEmptyDBRecord()
		copy(m.freeDB().buf, free.buf)
		main := newEmptyDBRecord()
		copy(m.mainDB().buf, main.buf)
	}

	if _, err := env.fm.dataFile.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("mmdb: write bootstrap metas: %w", err)
	}
	return env.fm.dataFile.Sync()
}

func (env *Env) validateMeta() error {
	m0 := metaOf(pageAt(env.fm.buf, env.pageSize, 0))
	m1 := metaOf(pageAt(env.fm.buf, env.pageSize, 1))
	if !m0.valid() && !m1.valid() {
		return errInvalidMagic
	}
	return nil
}

// currentMeta returns the meta view for the newer of the two alternating
// meta pages, chosen by comparing txnids per §4.5.
func (env *Env) currentMeta() meta {
	m0 := metaOf(pageAt(env.fm.buf, env.pageSize, 0))
	m1 := metaOf(pageAt(env.fm.buf, env.pageSize, 1))
	if !m1.valid() || (m0.valid() && m0.txnID() >= m1.txnID()) {
		return m0
	}
	return m1
}

// previousMeta returns the older meta, used by callers that explicitly
// want the prior snapshot (§4.5 "or, when asked for the previous snapshot").
func (env *Env) previousMeta() meta {
	m0 := metaOf(pageAt(env.fm.buf, env.pageSize, 0))
	m1 := metaOf(pageAt(env.fm.buf, env.pageSize, 1))
	if m0.txnID() < m1.txnID() {
		return m0
	}
	return m1
}

// staleMetaSlot returns the index (0 or 1) of the meta page a writer should
// overwrite next: whichever one is not currentMeta, per §4.5's alternating
// meta-page discipline.
func (env *Env) staleMetaSlot() int {
	m0 := metaOf(pageAt(env.fm.buf, env.pageSize, 0))
	m1 := metaOf(pageAt(env.fm.buf, env.pageSize, 1))
	if !m1.valid() || (m0.valid() && m0.txnID() >= m1.txnID()) {
		return 1
	}
	return 0
}

func (env *Env) isFatal() bool { return env.fatal.Load() }

func (env *Env) markFatal(err error) {
	env.fatal.Store(true)
	env.fatalErr = err
	env.log.Error(err, "environment marked fatal, reopen required")
}

// Close releases the memory map and file handles. Returns an error if any
// transaction is still open, matching the "may only be closed when no txns
// are live" lifecycle rule in §9.
func (env *Env) Close() error {
	env.mu.Lock()
	defer env.mu.Unlock()
	if env.closed {
		return nil
	}
	if env.writerTx != nil {
		return fmt.Errorf("mmdb: cannot close environment with an open write transaction")
	}
	if len(env.readers.occupiedSlots()) > 0 {
		return fmt.Errorf("mmdb: cannot close environment with an open read transaction")
	}
	env.closed = true
	return env.fm.Close()
}

// Update runs fn in a write transaction, committing on success and rolling
// back if fn returns an error or panics. This is the ordinary embedding API
// around the lower-level Tx lifecycle.
func (env *Env) Update(fn func(tx *Tx) error) error {
	tx, err := env.Begin(true)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.errored = true
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// View runs fn in a read-only transaction and always releases its slot
// afterward, regardless of fn's return value.
func (env *Env) View(fn func(tx *Tx) error) error {
	tx, err := env.Begin(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return fn(tx)
}
