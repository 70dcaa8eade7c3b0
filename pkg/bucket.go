package mmdb

// Bucket is a named sub-database (supplemented feature, §9): a DB record
// stored as a nodeSubDB-flagged leaf node of the main DB, addressed by name
// instead of living directly in meta. Grounded on the teacher's bucket.go
// (named collections layered over a single root tree), restructured around
// this module's dbRecord/treePut primitives instead of the teacher's
// in-memory node overlay.
type Bucket struct {
	tx      *Tx
	name    string
	cmp     Comparator
	rec     dbRecord
	rootRef pgno // scratch backing Cursor's *pgno; see Cursor()

	dupCmp Comparator // set for DupSort buckets; see dup.go
}

// Bucket opens an existing named sub-database for reading or writing.
func (tx *Tx) Bucket(name string) (*Bucket, error) {
	data, flags, found, err := tx.treeGet(tx.snap.mainDB.root(), tx.env.opts.Comparator, []byte(name))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errNoBucket
	}
	if flags&nodeSubDB == 0 {
		return nil, errIncompatible
	}
	rec := dbRecordAt(append([]byte{}, data...))
	b := &Bucket{tx: tx, name: name, cmp: tx.bucketComparator(name), rec: rec}
	if rec.isDupSort() {
		b.dupCmp = tx.dupComparatorFor(name)
	}
	return b, nil
}

// CreateBucket creates a new, empty named sub-database.
func (tx *Tx) CreateBucket(name string) (*Bucket, error) {
	if err := tx.checkWritable(); err != nil {
		return nil, err
	}
	_, _, found, err := tx.treeGet(tx.snap.mainDB.root(), tx.env.opts.Comparator, []byte(name))
	if err != nil {
		return nil, err
	}
	if found {
		return nil, errBucketExists
	}

	tx.env.mu.Lock()
	if len(tx.env.dbHandles) >= tx.env.opts.MaxDBs {
		tx.env.mu.Unlock()
		return nil, errDBTableFull
	}
	tx.env.dbHandles[name] = &dbHandle{name: name, comparator: CompareBytes}
	tx.env.mu.Unlock()

	rec := newEmptyDBRecord()
	b := &Bucket{tx: tx, name: name, cmp: CompareBytes, rec: rec}
	if err := b.persist(); err != nil {
		return nil, err
	}
	return b, nil
}

// DeleteBucket removes a named sub-database and every page its tree owns.
func (tx *Tx) DeleteBucket(name string) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	b, err := tx.Bucket(name)
	if err != nil {
		return err
	}
	if err := tx.freeTree(b.rec.root()); err != nil {
		return err
	}
	root := tx.snap.mainDB.root()
	if _, err := tx.treeDelete(&root, tx.env.opts.Comparator, []byte(name)); err != nil {
		return err
	}
	tx.snap.mainDB.setRoot(root)

	tx.env.mu.Lock()
	delete(tx.env.dbHandles, name)
	tx.env.mu.Unlock()
	return nil
}

// bucketComparator resolves the comparator a reopened bucket should use:
// the cached handle's, if this process already opened it this session,
// otherwise the lexicographic default (§9: the on-disk format carries no
// comparator identifier, so the caller is trusted to supply a compatible
// one -- mirrored here for named buckets via the in-process handle cache).
func (tx *Tx) bucketComparator(name string) Comparator {
	tx.env.mu.Lock()
	defer tx.env.mu.Unlock()
	if h, ok := tx.env.dbHandles[name]; ok && h.comparator != nil {
		return h.comparator
	}
	return CompareBytes
}

func (b *Bucket) persist() error {
	root := b.tx.snap.mainDB.root()
	if err := b.tx.treePut(&root, b.tx.env.opts.Comparator, []byte(b.name), b.rec.buf, nodeSubDB); err != nil {
		return err
	}
	b.tx.snap.mainDB.setRoot(root)
	return nil
}

// Get looks up key within the bucket.
func (b *Bucket) Get(key []byte) ([]byte, bool, error) {
	data, _, found, err := b.tx.treeGet(b.rec.root(), b.cmp, key)
	return data, found, err
}

// Put inserts or overwrites key within the bucket.
func (b *Bucket) Put(key, value []byte) error {
	if err := b.tx.checkWritable(); err != nil {
		return err
	}
	root := b.rec.root()
	if err := b.tx.treePut(&root, b.cmp, key, value, 0); err != nil {
		return err
	}
	b.rec.setRoot(root)
	return b.persist()
}

// Delete removes key from the bucket. ok is false when key was absent.
func (b *Bucket) Delete(key []byte) (bool, error) {
	if err := b.tx.checkWritable(); err != nil {
		return false, err
	}
	root := b.rec.root()
	found, err := b.tx.treeDelete(&root, b.cmp, key)
	if err != nil || !found {
		return found, err
	}
	b.rec.setRoot(root)
	return true, b.persist()
}

// Cursor opens a positioned iterator over the bucket. Deletes made through
// it persist the bucket's DB record automatically.
func (b *Bucket) Cursor() *Cursor {
	b.rootRef = b.rec.root()
	c := b.tx.Cursor(&b.rootRef, b.cmp)
	c.afterMutate = func() error {
		b.rec.setRoot(b.rootRef)
		return b.persist()
	}
	return c
}
