package mmdb

// Stat reports a tree's shape (supplemented feature, §9 Stat/Stats).
// Grounded on the teacher's stat reporting in db.go, recomputed by walking
// the tree rather than trusting dbRecord's incrementally-maintained
// counters, which this module does not keep up to date on every mutation
// (see DESIGN.md) -- a fresh walk is always correct, if O(pages).
type Stat struct {
	Depth          int
	BranchPages    uint64
	LeafPages      uint64
	OverflowPages  uint64
	Entries        uint64
}

// Stat walks the main DB's tree and reports its shape.
func (tx *Tx) Stat() (Stat, error) {
	return tx.statTree(tx.snap.mainDB.root())
}

// Stat walks the bucket's tree and reports its shape.
func (b *Bucket) Stat() (Stat, error) {
	return b.tx.statTree(b.rec.root())
}

func (tx *Tx) statTree(root pgno) (Stat, error) {
	var s Stat
	if root == invalidPgno {
		return s, nil
	}
	if err := tx.statSubtree(root, 1, &s); err != nil {
		return Stat{}, err
	}
	return s, nil
}

func (tx *Tx) statSubtree(id pgno, depth int, s *Stat) error {
	p := tx.getPage(id)
	if depth > s.Depth {
		s.Depth = depth
	}
	switch {
	case p.is(pageBranch):
		s.BranchPages++
		for i := 0; i < p.numNodes(); i++ {
			if err := tx.statSubtree(p.nodeAt(i).childPgno(), depth+1, s); err != nil {
				return err
			}
		}
	case p.is(pageLeaf) || p.is(pageLeaf2):
		s.LeafPages++
		for i := 0; i < p.numNodes(); i++ {
			n := p.nodeAt(i)
			s.Entries++
			if n.is(nodeBigData) {
				first := tx.getPage(n.overflowPgno())
				s.OverflowPages += uint64(first.overflowRun() + 1)
			}
		}
	default:
		return errCorrupt
	}
	return nil
}

// Stats reports the environment's reader-table and writer occupancy,
// supplementing per-tree Stat with the process-wide numbers §9 calls for.
type Stats struct {
	MaxReaders      int
	OccupiedReaders int
	HasActiveWriter bool
}

func (env *Env) Stats() Stats {
	env.mu.Lock()
	writerActive := env.writerTx != nil
	env.mu.Unlock()
	return Stats{
		MaxReaders:      env.opts.MaxReaders,
		OccupiedReaders: len(env.readers.occupiedSlots()),
		HasActiveWriter: writerActive,
	}
}
