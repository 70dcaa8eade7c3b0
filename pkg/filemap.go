package mmdb

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const (
	minMmapSize = 1 << 17 // 128KB
	mmapStep    = 1 << 30 // grow by 1GB past the doubling phase
	maxMmapSize = 1 << 36
)

// fileMap owns the open data file, the lock file, and the current mmap.
// Grounded on the teacher's db.go mmap()/roundMmapSize(), generalized to
// golang.org/x/sys/unix per DOMAIN STACK (replacing raw syscall.Mmap) and
// split out of DB so the reader table and meta code can depend on it
// without depending on the whole environment.
type fileMap struct {
	dataPath string
	lockPath string

	dataFile *os.File // mmap'd, read or read-write depending on Options.ReadOnly
	metaFile *os.File // separate fd for synchronous meta pwrite (§4.3)
	lockFile *os.File

	buf      []byte
	mmapSize int
	readOnly bool
}

func openFileMap(path string, noSubDir, readOnly bool) (*fileMap, error) {
	fm := &fileMap{readOnly: readOnly}

	if noSubDir {
		fm.dataPath = path
		fm.lockPath = path + "-lock"
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("mmdb: create env dir: %w", err)
		}
		fm.dataPath = filepath.Join(path, "data.mdb")
		fm.lockPath = filepath.Join(path, "lock.mdb")
	}

	dataFlags := os.O_RDWR | os.O_CREATE
	if readOnly {
		dataFlags = os.O_RDONLY
	}

	df, err := os.OpenFile(fm.dataPath, dataFlags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("mmdb: open data file: %w", err)
	}
	fm.dataFile = df

	if !readOnly {
		mf, err := os.OpenFile(fm.dataPath, os.O_RDWR|os.O_SYNC, 0o644)
		if err != nil {
			df.Close()
			return nil, fmt.Errorf("mmdb: open meta sync fd: %w", err)
		}
		fm.metaFile = mf

		lf, err := os.OpenFile(fm.lockPath, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			df.Close()
			mf.Close()
			return nil, fmt.Errorf("mmdb: open lock file: %w", err)
		}
		fm.lockFile = lf

		if err := fm.acquireLivenessLock(); err != nil {
			fm.Close()
			return nil, err
		}
	}

	return fm, nil
}

// acquireLivenessLock sets an exclusive advisory byte-range lock at offset
// = os.Getpid(), length 1, per §4.3/§5/§6: the PID-keyed liveness signal a
// writer's free-DB allocator probes to decide whether a reader slot's
// process is still alive.
func (fm *fileMap) acquireLivenessLock() error {
	pid := int64(os.Getpid())
	lk := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: int16(os.SEEK_SET),
		Start:  pid,
		Len:    1,
	}
	return unix.FcntlFlock(fm.lockFile.Fd(), unix.F_SETLK, &lk)
}

// pidIsLive does a non-blocking probe of the liveness lock at the given
// pid's offset (§5 "PID liveness"). No code in this package calls it; the
// free-DB allocator does not sweep stale reader slots.
func (fm *fileMap) pidIsLive(pid int64) bool {
	lk := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: int16(os.SEEK_SET),
		Start:  pid,
		Len:    1,
	}
	err := unix.FcntlFlock(fm.lockFile.Fd(), unix.F_GETLK, &lk)
	if err != nil {
		// Can't tell; assume live to be conservative.
		return true
	}
	return lk.Type != unix.F_UNLCK
}

func roundMmapSize(size int) int {
	if size < mmapStep {
		s := minMmapSize
		for s < size {
			s *= 2
		}
		return s
	}
	size += mmapStep - 1
	size -= size % mmapStep
	if size > maxMmapSize {
		size = maxMmapSize
	}
	return size
}

// grow re-maps the data file at (at least) minSize. Any active reader
// holding a pointer into the old mapping must be drained before the old
// region is unmapped; callers report errMapResized to such readers on their
// next operation per §4.3.
func (fm *fileMap) grow(minSize int) error {
	fi, err := fm.dataFile.Stat()
	if err != nil {
		return fmt.Errorf("mmdb: stat data file: %w", err)
	}

	size := int(fi.Size())
	if size < minSize {
		size = minSize
	}
	size = roundMmapSize(size)

	if int64(size) > fi.Size() {
		if err := fm.dataFile.Truncate(int64(size)); err != nil {
			return fmt.Errorf("mmdb: truncate data file: %w", err)
		}
	}

	prot := unix.PROT_READ
	if !fm.readOnly {
		prot |= unix.PROT_WRITE
	}

	buf, err := unix.Mmap(int(fm.dataFile.Fd()), 0, size, prot, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmdb: mmap: %w", err)
	}

	if fm.buf != nil {
		if err := unix.Munmap(fm.buf); err != nil {
			log.Error(err, "failed to munmap old region during grow")
		}
	}

	fm.buf = buf
	fm.mmapSize = size
	return nil
}

// pageBuf returns the byte slice for page id, sized to sz bytes (a single
// page, or a multi-page overflow run).
func (fm *fileMap) pageBuf(id pgno, pageSize, sz int) []byte {
	off := int(id) * pageSize
	return fm.buf[off : off+sz]
}

// pwriteMeta writes the meta payload for txn t's slot through the
// synchronous fd so meta durability never requires an extra fsync, per
// §4.3/§4.5.
func (fm *fileMap) pwriteMeta(slot int, pageSize int, payload []byte) error {
	off := int64(slot)*int64(pageSize) + pageHeaderSize
	_, err := fm.metaFile.WriteAt(payload, off)
	return err
}

// scribbleStaleMeta rewrites the previous (still-good) meta bytes back to
// the non-sync fd after a failed meta write, per §4.5: prevents the OS page
// cache from ever publishing a half-written meta page.
func (fm *fileMap) scribbleStaleMeta(slot int, pageSize int, payload []byte) {
	off := int64(slot)*int64(pageSize) + pageHeaderSize
	if _, err := fm.dataFile.WriteAt(payload, off); err != nil {
		log.Error(err, "failed to scribble back stale meta after write failure")
	}
}

func (fm *fileMap) fsyncData() error {
	return fm.dataFile.Sync()
}

func (fm *fileMap) Close() error {
	var firstErr error
	if fm.buf != nil {
		if err := unix.Munmap(fm.buf); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if fm.dataFile != nil {
		if err := fm.dataFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if fm.metaFile != nil {
		if err := fm.metaFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if fm.lockFile != nil {
		if err := fm.lockFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
