package mmdb

// touch implements §4.8 copy-on-write: guarantee that page id is uniquely
// owned (dirty) in this write txn before any mutation, returning its
// possibly-new pgno and a page view over the now-writable buffer.
func (tx *Tx) touch(id pgno) (pgno, page, error) {
	if dp, ok := tx.dirty[id]; ok {
		return id, dp.page(), nil
	}

	if idx, spilled := tx.spilledIndex(id); spilled {
		dp := newDirtyPage(id, 1, tx.env.pageSize)
		copy(dp.buf, tx.env.fm.pageBuf(id, tx.env.pageSize, tx.env.pageSize))
		tx.spill[idx] |= 1 // mark deleted from the spill set
		if err := tx.markDirty(dp); err != nil {
			return 0, page{}, err
		}
		return id, dp.page(), nil
	}

	newID, err := tx.allocate(1)
	if err != nil {
		return 0, page{}, err
	}
	dp := newDirtyPage(newID, 1, tx.env.pageSize)
	src := tx.getPage(id)
	copy(dp.buf, src.buf)
	dp.page().setPgno(newID)

	tx.freePage(id)

	if err := tx.markDirty(dp); err != nil {
		return 0, page{}, err
	}
	return newID, dp.page(), nil
}

func (tx *Tx) spilledIndex(id pgno) (int, bool) {
	for i, v := range tx.spill {
		if v>>1 == id && v&1 == 0 {
			return i, true
		}
	}
	return 0, false
}

// touchPath touches every page along a descent path bottom-to-top isn't
// right for a COW tree -- parents must be touched top-down so each level's
// new pgno can be written into its (already-touched) parent. touchPath does
// exactly that and rewrites *root if the top of the path changed, fixing up
// every tracked cursor whose stack pointed at an old pgno along the way.
func (tx *Tx) touchPath(path []pathEntry, root *pgno) error {
	for i := 0; i < len(path); i++ {
		oldID := path[i].id
		newID, _, err := tx.touch(oldID)
		if err != nil {
			return err
		}
		if newID == oldID {
			continue
		}

		path[i].id = newID
		tx.fixupCursors(oldID, newID)

		if i == 0 {
			*root = newID
		} else {
			_, parentPage, err := tx.touch(path[i-1].id)
			if err != nil {
				return err
			}
			parentPage.nodeAt(path[i-1].index).setChildPgno(newID)
		}
	}
	return nil
}

// fixupCursors implements the §9 "cursors tracked across mutation" design:
// any tracked cursor whose stack still references oldID is updated in
// place to newID so it keeps pointing at the logically same page.
func (tx *Tx) fixupCursors(oldID, newID pgno) {
	for _, c := range tx.trackedCursors {
		for i := range c.stack {
			if c.stack[i].id == oldID {
				c.stack[i].id = newID
			}
		}
	}
}
