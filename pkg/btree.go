package mmdb

import "sort"

// pathEntry is one (page, index) frame of a descent, used both as a
// cursor's position stack (§4.9 "Cursor positioning") and as the scratch
// path insert/delete walk top-down before mutating bottom-up.
type pathEntry struct {
	id    pgno
	index int
}

// entry is a decoded, independently-owned (key, data) pair used while
// rebuilding a page during split/merge -- independent because rebuildPage
// overwrites the very buffer readAllEntries read from.
type entry struct {
	key   []byte
	data  []byte
	flags nodeFlag
}

func encodePgno(id pgno) []byte {
	buf := make([]byte, 8)
	putUint64(buf, uint64(id))
	return buf
}

func decodePgnoBytes(b []byte) pgno {
	return pgno(getUint64(b))
}

// searchPage returns the index of the first entry whose key is >= target
// under cmp (branch pages treat index 0's key as an ignored -infinity
// separator per §4.9).
func searchPage(p page, cmp Comparator, key []byte) (index int, found bool) {
	n := p.numNodes()
	i := sort.Search(n, func(i int) bool {
		if p.is(pageBranch) && i == 0 {
			return false // -inf never >= key
		}
		return cmp(p.nodeAt(i).key(), key) >= 0
	})
	if i < n && cmp(p.nodeAt(i).key(), key) == 0 {
		return i, true
	}
	return i, false
}

// branchChildIndex returns the child to descend into for key: the last
// index whose separator is <= key (index 0's separator is always <= key).
func branchChildIndex(p page, cmp Comparator, key []byte) int {
	i, found := searchPage(p, cmp, key)
	if found {
		return i
	}
	return i - 1
}

// descend walks from root to the leaf that would contain key, recording
// the full (page, index) path. index at a branch frame is the child index
// taken; at the leaf frame it is searchPage's result (exact or insertion
// point).
func (tx *Tx) descend(root pgno, cmp Comparator, key []byte) ([]pathEntry, bool, error) {
	var path []pathEntry
	cur := root
	for {
		p := tx.getPage(cur)
		if p.is(pageLeaf) || p.is(pageLeaf2) {
			idx, found := searchPage(p, cmp, key)
			path = append(path, pathEntry{id: cur, index: idx})
			return path, found, nil
		}
		if !p.is(pageBranch) {
			return nil, false, errCorrupt
		}
		idx := branchChildIndex(p, cmp, key)
		path = append(path, pathEntry{id: cur, index: idx})
		cur = p.nodeAt(idx).childPgno()
	}
}

// descendLowest / descendHighest implement §4.9's search_lowest and the
// cursor first()/last() unconditional descents via index 0 / n-1.
func (tx *Tx) descendLowest(root pgno) []pathEntry {
	var path []pathEntry
	cur := root
	for {
		p := tx.getPage(cur)
		path = append(path, pathEntry{id: cur, index: 0})
		if p.is(pageLeaf) || p.is(pageLeaf2) {
			return path
		}
		cur = p.nodeAt(0).childPgno()
	}
}

func (tx *Tx) descendHighest(root pgno) []pathEntry {
	var path []pathEntry
	cur := root
	for {
		p := tx.getPage(cur)
		last := p.numNodes() - 1
		path = append(path, pathEntry{id: cur, index: last})
		if p.is(pageLeaf) || p.is(pageLeaf2) {
			return path
		}
		cur = p.nodeAt(last).childPgno()
	}
}

// successor advances path to the next leaf entry in key order: same leaf if
// another slot follows, otherwise climb to the nearest ancestor with a
// following sibling and descend its lowest path. Shared by free-DB scanning
// (§4.6) and the cursor Next() operation (§4.9).
func (tx *Tx) successor(path []pathEntry) ([]pathEntry, bool) {
	out := append([]pathEntry{}, path...)
	leaf := len(out) - 1
	leafPage := tx.getPage(out[leaf].id)
	if out[leaf].index+1 < leafPage.numNodes() {
		out[leaf].index++
		return out, true
	}

	level := leaf - 1
	for level >= 0 {
		p := tx.getPage(out[level].id)
		if out[level].index+1 < p.numNodes() {
			out = out[:level+1]
			out[level].index++
			childID := p.nodeAt(out[level].index).childPgno()
			out = append(out, tx.descendLowest(childID)...)
			return out, true
		}
		level--
	}
	return nil, false
}

// predecessor is successor's mirror image, used by the cursor Prev()
// operation.
func (tx *Tx) predecessor(path []pathEntry) ([]pathEntry, bool) {
	out := append([]pathEntry{}, path...)
	leaf := len(out) - 1
	if out[leaf].index > 0 {
		out[leaf].index--
		return out, true
	}

	level := leaf - 1
	for level >= 0 {
		if out[level].index > 0 {
			p := tx.getPage(out[level].id)
			out = out[:level+1]
			out[level].index--
			childID := p.nodeAt(out[level].index).childPgno()
			out = append(out, tx.descendHighest(childID)...)
			return out, true
		}
		level--
	}
	return nil, false
}

// treeGet looks up key in the tree rooted at root. Returns (data, flags,
// found).
func (tx *Tx) treeGet(root pgno, cmp Comparator, key []byte) ([]byte, nodeFlag, bool, error) {
	if root == invalidPgno {
		return nil, 0, false, nil
	}
	path, found, err := tx.descend(root, cmp, key)
	if err != nil {
		return nil, 0, false, err
	}
	if !found {
		return nil, 0, false, nil
	}
	last := path[len(path)-1]
	p := tx.getPage(last.id)
	n := p.nodeAt(last.index)
	return tx.resolveValue(n.data(), n.flags()), n.flags(), true, nil
}

// treePut inserts or overwrites key in the tree rooted at *root, splitting
// pages bottom-up from the leaf as needed (§4.9 Insert/Split) and growing a fresh root
// when the old root splits. Values too large to inline are spilled to an
// overflow chain first (§3 "big-data" nodes).
func (tx *Tx) treePut(root *pgno, cmp Comparator, key, data []byte, flags nodeFlag) error {
	if flags == 0 && len(data) > maxInlineValue(tx.env.pageSize) {
		head, err := tx.writeOverflow(data)
		if err != nil {
			return err
		}
		data = encodePgno(head)
		flags |= nodeBigData
	}

	if *root == invalidPgno {
		id, err := tx.allocate(1)
		if err != nil {
			return err
		}
		dp := newDirtyPage(id, 1, tx.env.pageSize)
		if err := tx.markDirty(dp); err != nil {
			return err
		}
		p := dp.page()
		p.initEmpty(id, pageLeaf)
		if !insertNode(p, 0, key, data, flags) {
			return errKeyTooLarge
		}
		*root = id
		return nil
	}

	path, found, err := tx.descend(*root, cmp, key)
	if err != nil {
		return err
	}
	if err := tx.touchPath(path, root); err != nil {
		return err
	}

	last := len(path) - 1
	p := tx.getPage(path[last].id)
	if found {
		old := p.nodeAt(path[last].index)
		if old.is(nodeBigData) {
			if err := tx.freeOverflowChain(old.overflowPgno()); err != nil {
				return err
			}
		}
		deleteNode(p, path[last].index)
	}
	return tx.insertIntoPath(path, root, entry{key: key, data: data, flags: flags})
}

// insertIntoPath implements §4.9 Insert/Split: try the leaf first; on
// page-full, split it (and recursively its ancestors) until the pending
// separator fits, or the root itself splits and grows a new branch root.
func (tx *Tx) insertIntoPath(path []pathEntry, root *pgno, pending entry) error {
	level := len(path) - 1
	idx := path[level].index

	for {
		p := tx.getPage(path[level].id)
		if insertNode(p, idx, pending.key, pending.data, pending.flags) {
			return nil
		}

		newID, err := tx.allocate(1)
		if err != nil {
			return err
		}
		newDP := newDirtyPage(newID, 1, tx.env.pageSize)
		if err := tx.markDirty(newDP); err != nil {
			return err
		}
		newPage := newDP.page()
		kind := pageLeaf
		if p.is(pageBranch) {
			kind = pageBranch
		}
		newPage.initEmpty(newID, kind)

		sep, err := splitPage(p, newPage, pending, idx)
		if err != nil {
			return err
		}

		if level == 0 {
			newRootID, err := tx.allocate(1)
			if err != nil {
				return err
			}
			rootDP := newDirtyPage(newRootID, 1, tx.env.pageSize)
			if err := tx.markDirty(rootDP); err != nil {
				return err
			}
			rp := rootDP.page()
			rp.initEmpty(newRootID, pageBranch)
			insertNode(rp, 0, []byte{}, encodePgno(path[0].id), 0)
			insertNode(rp, 1, sep, encodePgno(newID), 0)
			*root = newRootID
			return nil
		}

		level--
		idx = path[level].index + 1
		pending = entry{key: sep, data: encodePgno(newID)}
	}
}

func readAllEntries(p page) []entry {
	n := p.numNodes()
	out := make([]entry, n)
	for i := 0; i < n; i++ {
		nd := p.nodeAt(i)
		out[i] = entry{
			key:   append([]byte{}, nd.key()...),
			data:  append([]byte{}, nd.data()...),
			flags: nd.flags(),
		}
	}
	return out
}

func rebuildPage(p page, entries []entry) {
	kind := p.flags() & (pageBranch | pageLeaf | pageLeaf2 | pageOverflow | pageSubPage)
	id := p.pgno()
	p.initEmpty(id, kind)
	for i, e := range entries {
		if !insertNode(p, i, e.key, e.data, e.flags) {
			panic("rebuildPage: split halves should always fit")
		}
	}
}

// splitPage merges extra into full's entries at insertAt, splits the
// combined sequence near the middle (biased to keep both halves
// non-empty), rewrites full in place with the left half, and newPage with
// the right half. Returns the right half's first key as the separator to
// propagate into the parent.
func splitPage(full, newPage page, extra entry, insertAt int) ([]byte, error) {
	existing := readAllEntries(full)
	all := make([]entry, 0, len(existing)+1)
	all = append(all, existing[:insertAt]...)
	all = append(all, extra)
	all = append(all, existing[insertAt:]...)

	mid := len(all) / 2
	if mid == 0 {
		mid = 1
	}
	if mid == len(all) {
		mid = len(all) - 1
	}

	left := all[:mid]
	right := all[mid:]

	rebuildPage(full, left)
	rebuildPage(newPage, right)

	return right[0].key, nil
}

// fillFraction reports how full a page is, used by underfill() per §4.9.
func fillFraction(p page) float64 {
	size := len(p.buf)
	used := size - (p.upper() - p.lower())
	return float64(used) / float64(size)
}

func minKeyCountFor(p page) int {
	if p.is(pageBranch) {
		return 2
	}
	return 1
}

func underfill(p page) bool {
	return p.numNodes() < minKeyCountFor(p) || fillFraction(p) < 0.25
}

// treeDelete removes key from the tree rooted at *root, rebalancing
// ancestors per §4.9 Delete/Rebalance. Returns found=false, nil error when
// the key was absent.
func (tx *Tx) treeDelete(root *pgno, cmp Comparator, key []byte) (bool, error) {
	if *root == invalidPgno {
		return false, nil
	}
	path, found, err := tx.descend(*root, cmp, key)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if err := tx.touchPath(path, root); err != nil {
		return false, err
	}

	last := len(path) - 1
	p := tx.getPage(path[last].id)
	victim := p.nodeAt(path[last].index)
	if victim.is(nodeBigData) {
		if err := tx.freeOverflowChain(victim.overflowPgno()); err != nil {
			return false, err
		}
	}
	deleteNode(p, path[last].index)

	if err := tx.rebalanceFrom(path, last, root); err != nil {
		return false, err
	}
	return true, nil
}

// rebalanceFrom implements §4.9 Rebalance, simplified to a merge-only
// strategy (no borrow-from-sibling redistribution) -- see DESIGN.md. It
// walks from level upward, merging an underfilled page into a sibling and
// recursing, until reaching a balanced page or the root.
func (tx *Tx) rebalanceFrom(path []pathEntry, level int, root *pgno) error {
	for level >= 0 {
		p := tx.getPage(path[level].id)
		if !underfill(p) {
			return nil
		}

		if level == 0 {
			if p.is(pageBranch) && p.numNodes() == 1 {
				*root = p.nodeAt(0).childPgno()
			} else if p.is(pageLeaf) && p.numNodes() == 0 {
				*root = invalidPgno
			}
			return nil
		}

		parentLevel := level - 1
		_, parentPage, err := tx.touch(path[parentLevel].id)
		if err != nil {
			return err
		}
		myIndex := path[parentLevel].index

		var siblingIndex int
		var mergeLeft bool
		switch {
		case myIndex > 0:
			siblingIndex = myIndex - 1
			mergeLeft = true
		case myIndex < parentPage.numNodes()-1:
			siblingIndex = myIndex + 1
			mergeLeft = false
		default:
			// Only child: nothing to merge with; leave underfilled.
			return nil
		}

		siblingID := parentPage.nodeAt(siblingIndex).childPgno()
		newSiblingID, siblingPage, err := tx.touch(siblingID)
		if err != nil {
			return err
		}
		if newSiblingID != siblingID {
			parentPage.nodeAt(siblingIndex).setChildPgno(newSiblingID)
		}

		mine := readAllEntries(p)
		theirs := readAllEntries(siblingPage)

		var merged []entry
		var survivorID pgno
		var removedIndex int
		if mergeLeft {
			merged = append(append([]entry{}, theirs...), mine...)
			survivorID = newSiblingID
			removedIndex = myIndex
		} else {
			merged = append(append([]entry{}, mine...), theirs...)
			survivorID = path[level].id
			removedIndex = siblingIndex
		}

		if estimatedSize(merged)+pageHeaderSize <= tx.env.pageSize {
			if mergeLeft {
				rebuildPage(siblingPage, merged)
				tx.freePage(path[level].id)
			} else {
				rebuildPage(p, merged)
				tx.freePage(siblingID)
			}
			deleteNode(parentPage, removedIndex)
			_ = survivorID
			level = parentLevel
			continue
		}

		// Combined contents don't fit one page: leave underfilled rather
		// than implement full borrow-one-entry redistribution.
		return nil
	}
	return nil
}

// freeTree frees every page reachable from root (used when dropping a
// bucket wholesale, §9 DeleteBucket), including overflow chains hung off
// big-data leaf nodes.
func (tx *Tx) freeTree(root pgno) error {
	if root == invalidPgno {
		return nil
	}
	return tx.freeSubtree(root)
}

func (tx *Tx) freeSubtree(id pgno) error {
	p := tx.getPage(id)
	if p.is(pageBranch) {
		for i := 0; i < p.numNodes(); i++ {
			if err := tx.freeSubtree(p.nodeAt(i).childPgno()); err != nil {
				return err
			}
		}
	} else {
		for i := 0; i < p.numNodes(); i++ {
			n := p.nodeAt(i)
			if n.is(nodeBigData) {
				if err := tx.freeOverflowChain(n.overflowPgno()); err != nil {
					return err
				}
			}
		}
	}
	tx.freePage(id)
	return nil
}

func estimatedSize(entries []entry) int {
	total := 0
	for _, e := range entries {
		total += nodeSize(e.key, e.data) + 2
	}
	return total
}
