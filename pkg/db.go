package mmdb

// Get, Put, and Delete operate on the environment's main (unnamed) DB, the
// tree meta always carries at DB-record index 1 (§3). Named sub-databases
// use Bucket instead. Grounded on the teacher's db.go top-level Get/Put,
// rehomed onto treeGet/treePut/treeDelete.

// Get looks up key in the main DB.
func (tx *Tx) Get(key []byte) ([]byte, bool, error) {
	data, _, found, err := tx.treeGet(tx.snap.mainDB.root(), tx.env.opts.Comparator, key)
	return data, found, err
}

// Put inserts or overwrites key in the main DB.
func (tx *Tx) Put(key, value []byte) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	if len(key) == 0 {
		return errKeyTooLarge
	}
	root := tx.snap.mainDB.root()
	if err := tx.treePut(&root, tx.env.opts.Comparator, key, value, 0); err != nil {
		return err
	}
	tx.snap.mainDB.setRoot(root)
	return nil
}

// Delete removes key from the main DB. ok is false when key was absent.
func (tx *Tx) Delete(key []byte) (bool, error) {
	if err := tx.checkWritable(); err != nil {
		return false, err
	}
	root := tx.snap.mainDB.root()
	found, err := tx.treeDelete(&root, tx.env.opts.Comparator, key)
	if err != nil {
		return false, err
	}
	tx.snap.mainDB.setRoot(root)
	return found, nil
}

// MainCursor opens a positioned iterator over the main DB. Deletes made
// through it write the new root back into tx.snap.mainDB automatically.
func (tx *Tx) MainCursor() *Cursor {
	tx.mainRootScratch = tx.snap.mainDB.root()
	c := tx.Cursor(&tx.mainRootScratch, tx.env.opts.Comparator)
	c.afterMutate = func() error {
		tx.snap.mainDB.setRoot(tx.mainRootScratch)
		return nil
	}
	return c
}
