package mmdb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestFreeListReclaimsPages churns the same key count through several
// insert/delete-all cycles and checks the tree's last-used pgno stabilizes
// instead of growing every cycle, confirming freed pages are reused rather
// than the allocator always reaching for fresh ones (§4.6).
func TestFreeListReclaimsPages(t *testing.T) {
	env := openTestEnv(t, Options{})

	runCycle := func(prefix string) {
		kvs := randomKV(200)
		err := env.Update(func(tx *Tx) error {
			for k, v := range kvs {
				if err := tx.Put([]byte(prefix+k), []byte(v)); err != nil {
					return err
				}
			}
			return nil
		})
		require.NoError(t, err)

		err = env.Update(func(tx *Tx) error {
			for k := range kvs {
				if _, err := tx.Delete([]byte(prefix + k)); err != nil {
					return err
				}
			}
			return nil
		})
		require.NoError(t, err)
	}

	runCycle("a")
	lastAfterFirst := env.currentMeta().lastPgno()

	for i := 0; i < 4; i++ {
		runCycle("b")
	}
	lastAfterMany := env.currentMeta().lastPgno()

	// A handful of extra cycles should not multiply the high-water mark by
	// anywhere near the cycle count if reclaim is working.
	require.Less(t, int64(lastAfterMany), int64(lastAfterFirst)*3)
}

// collectLivePgnos walks every page reachable from root (mirroring
// freeSubtree's traversal but recording instead of freeing) so a test can
// compare "currently live" against "currently free-listed".
func collectLivePgnos(t *testing.T, tx *Tx, root pgno, into map[pgno]bool) {
	t.Helper()
	if root == invalidPgno {
		return
	}
	into[root] = true
	p := tx.getPage(root)
	if p.is(pageBranch) {
		for i := 0; i < p.numNodes(); i++ {
			collectLivePgnos(t, tx, p.nodeAt(i).childPgno(), into)
		}
		return
	}
	for i := 0; i < p.numNodes(); i++ {
		n := p.nodeAt(i)
		if n.is(nodeBigData) {
			head := decodePgnoBytes(n.data())
			first := tx.getPage(head)
			for j := 0; j <= first.overflowRun(); j++ {
				into[head+pgno(j)] = true
			}
		}
	}
}

// collectFreeListedPgnos walks every record in the free-DB and unions their
// idLists, so a test can check invariant 1 ("never both referenced and
// free-listed") directly against the live set above.
func collectFreeListedPgnos(t *testing.T, tx *Tx) map[pgno]bool {
	t.Helper()
	out := make(map[pgno]bool)
	root := tx.snap.freeDB.root()
	if root == invalidPgno {
		return out
	}
	c := tx.Cursor(&root, freeDBComparator)
	defer c.Close()
	for k, v, ok := c.First(); ok; k, v, ok = c.Next() {
		_ = k
		for _, id := range decodeIDList(v) {
			out[id] = true
		}
	}
	return out
}

// TestReclaimedPagesLeaveFreeDB exercises review comment 1's fix directly:
// a later writer that pulls a free-DB record into its reclaim set via
// allocate, but only uses some of those pgnos, must neither leave its
// source record on disk (double-listing pages the writer went on to use
// live) nor drop the unused remainder on the floor (leaking them as
// neither live nor free).
func TestReclaimedPagesLeaveFreeDB(t *testing.T) {
	env := openTestEnv(t, Options{})

	kvs := randomKV(300)
	err := env.Update(func(tx *Tx) error {
		for k, v := range kvs {
			if err := tx.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = env.Update(func(tx *Tx) error {
		for k := range kvs {
			if _, err := tx.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	more := randomKV(20)
	err = env.Update(func(tx *Tx) error {
		for k, v := range more {
			if err := tx.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = env.View(func(tx *Tx) error {
		live := make(map[pgno]bool)
		collectLivePgnos(t, tx, tx.snap.mainDB.root(), live)
		free := collectFreeListedPgnos(t, tx)

		for id := range live {
			require.False(t, free[id], "pgno %d is both live and free-listed", id)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestFreeDBEmptyBeforeAnyDelete(t *testing.T) {
	env := openTestEnv(t, Options{})
	err := env.Update(func(tx *Tx) error {
		return tx.Put([]byte("k"), []byte("v"))
	})
	require.NoError(t, err)

	err = env.View(func(tx *Tx) error {
		require.Equal(t, invalidPgno, tx.snap.freeDB.root())
		return nil
	})
	require.NoError(t, err)
}
