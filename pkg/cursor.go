package mmdb

// frame is a cursor's view of one pathEntry: just the page id, since the
// index lives directly on the pathEntry it wraps. Kept as a distinct type
// (rather than reusing pathEntry in Cursor.stack) because alloc.go and
// touch.go only need the id half when fixing up a cursor after a COW copy.
type frame struct {
	id pgno
}

// Cursor is a positioned iterator over one DB's B+tree, grounded on the
// teacher's cursor.go stack-of-frames design (§4.9 "Cursor"). A write-txn
// cursor is tracked in tx.trackedCursors so touch()/touchPath() can rewrite
// its stack in place when the pages it points at get copy-on-written out
// from under it by another operation in the same txn.
type Cursor struct {
	tx      *Tx
	root    *pgno
	cmp     Comparator
	path    []pathEntry
	stack   []frame // mirrors path's ids; see fixupCursors
	valid   bool
	tracked bool

	// afterMutate, when set, runs after Delete persists the root change
	// back into whatever owns it (a Bucket's DB record, for instance).
	afterMutate func() error
}

// Cursor opens a positioned iterator over the DB whose root is tracked by
// root (a pointer so the cursor observes tree-growing/shrinking root
// changes made through the same txn, e.g. via Put/Delete on the same Tx).
func (tx *Tx) Cursor(root *pgno, cmp Comparator) *Cursor {
	c := &Cursor{tx: tx, root: root, cmp: cmp}
	if tx.writable {
		tx.trackedCursors = append(tx.trackedCursors, c)
		c.tracked = true
	}
	return c
}

// Close stops tracking a write-txn cursor for COW fixups. Read-only cursors
// need no cleanup.
func (c *Cursor) Close() {
	if !c.tracked {
		return
	}
	for i, t := range c.tx.trackedCursors {
		if t == c {
			c.tx.trackedCursors = append(c.tx.trackedCursors[:i], c.tx.trackedCursors[i+1:]...)
			break
		}
	}
	c.tracked = false
}

func (c *Cursor) syncStack() {
	c.stack = make([]frame, len(c.path))
	for i, pe := range c.path {
		c.stack[i] = frame{id: pe.id}
	}
}

func (c *Cursor) applyStackFixups() {
	for i := range c.path {
		c.path[i].id = c.stack[i].id
	}
}

// First positions the cursor at the lowest key in the tree.
func (c *Cursor) First() (key, value []byte, ok bool) {
	if *c.root == invalidPgno {
		c.valid = false
		return nil, nil, false
	}
	c.path = c.tx.descendLowest(*c.root)
	c.syncStack()
	c.valid = true
	return c.current()
}

// Last positions the cursor at the highest key in the tree.
func (c *Cursor) Last() (key, value []byte, ok bool) {
	if *c.root == invalidPgno {
		c.valid = false
		return nil, nil, false
	}
	c.path = c.tx.descendHighest(*c.root)
	c.syncStack()
	c.valid = true
	return c.current()
}

// Seek positions the cursor at the first key >= target (§4.9 set_range).
func (c *Cursor) Seek(target []byte) (key, value []byte, ok bool) {
	if *c.root == invalidPgno {
		c.valid = false
		return nil, nil, false
	}
	path, found, err := c.tx.descend(*c.root, c.cmp, target)
	if err != nil {
		c.valid = false
		return nil, nil, false
	}
	c.path = path
	c.syncStack()
	leaf := path[len(path)-1]
	p := c.tx.getPage(leaf.id)
	if !found && leaf.index >= p.numNodes() {
		c.valid = true
		return c.Next()
	}
	c.valid = true
	return c.current()
}

// Get positions the cursor exactly at key (§4.9 set), reporting ok=false
// without moving if key is absent.
func (c *Cursor) Get(key []byte) (value []byte, ok bool) {
	if *c.root == invalidPgno {
		return nil, false
	}
	path, found, err := c.tx.descend(*c.root, c.cmp, key)
	if err != nil || !found {
		return nil, false
	}
	c.path = path
	c.syncStack()
	c.valid = true
	leaf := path[len(path)-1]
	p := c.tx.getPage(leaf.id)
	n := p.nodeAt(leaf.index)
	return c.tx.resolveValue(n.data(), n.flags()), true
}

// Next advances to the following key in order.
func (c *Cursor) Next() (key, value []byte, ok bool) {
	if !c.valid {
		return c.First()
	}
	c.applyStackFixups()
	next, has := c.tx.successor(c.path)
	if !has {
		c.valid = false
		return nil, nil, false
	}
	c.path = next
	c.syncStack()
	return c.current()
}

// Prev retreats to the preceding key in order.
func (c *Cursor) Prev() (key, value []byte, ok bool) {
	if !c.valid {
		return c.Last()
	}
	c.applyStackFixups()
	prev, has := c.tx.predecessor(c.path)
	if !has {
		c.valid = false
		return nil, nil, false
	}
	c.path = prev
	c.syncStack()
	return c.current()
}

func (c *Cursor) current() (key, value []byte, ok bool) {
	if !c.valid || len(c.path) == 0 {
		return nil, nil, false
	}
	c.applyStackFixups()
	leaf := c.path[len(c.path)-1]
	p := c.tx.getPage(leaf.id)
	if leaf.index >= p.numNodes() {
		c.valid = false
		return nil, nil, false
	}
	n := p.nodeAt(leaf.index)
	return append([]byte{}, n.key()...), c.tx.resolveValue(n.data(), n.flags()), true
}

// Delete removes the entry the cursor is positioned on (supplemented
// feature, §9 "Cursor.Delete"), rebalancing ancestors exactly as treeDelete
// does. The cursor is left invalid; callers reposition with Seek/Next.
func (c *Cursor) Delete() error {
	if !c.tx.writable {
		return errReadOnlyTxn
	}
	if !c.valid || len(c.path) == 0 {
		return errKeyNotFound
	}
	c.applyStackFixups()
	if err := c.tx.touchPath(c.path, c.root); err != nil {
		return err
	}
	c.syncStack()

	last := len(c.path) - 1
	p := c.tx.getPage(c.path[last].id)
	victim := p.nodeAt(c.path[last].index)
	if victim.is(nodeBigData) {
		if err := c.tx.freeOverflowChain(victim.overflowPgno()); err != nil {
			return err
		}
	}
	deleteNode(p, c.path[last].index)

	if err := c.tx.rebalanceFrom(c.path, last, c.root); err != nil {
		return err
	}
	c.Close()
	c.valid = false
	if c.afterMutate != nil {
		return c.afterMutate()
	}
	return nil
}
