package mmdb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testPageSize = 4096

func newTestPage(t *testing.T, flags pageFlag) page {
	t.Helper()
	buf := make([]byte, testPageSize)
	p := page{buf: buf}
	p.initEmpty(1, flags)
	return p
}

func TestInsertAndDeleteNode(t *testing.T) {
	p := newTestPage(t, pageLeaf)

	kvs := randomKV(20)
	keys := make([]string, 0, len(kvs))
	for k := range kvs {
		keys = append(keys, k)
	}

	for i, k := range keys {
		ok := insertNode(p, i, []byte(k), []byte(kvs[k]), 0)
		require.True(t, ok, "insert should fit an empty page")
	}
	require.Equal(t, len(keys), p.numNodes())

	for i, k := range keys {
		n := p.nodeAt(i)
		require.Equal(t, k, string(n.key()))
		require.Equal(t, kvs[k], string(n.data()))
	}

	// Delete the middle entry and confirm the rest survive intact.
	mid := len(keys) / 2
	victim := keys[mid]
	deleteNode(p, mid)
	require.Equal(t, len(keys)-1, p.numNodes())
	for i := 0; i < p.numNodes(); i++ {
		require.NotEqual(t, victim, string(p.nodeAt(i).key()))
	}
}

func TestInsertNodeReportsPageFull(t *testing.T) {
	p := newTestPage(t, pageLeaf)
	big := randomByteArray(testPageSize)
	ok := insertNode(p, 0, []byte("k"), big, 0)
	require.False(t, ok)
	require.Equal(t, 0, p.numNodes())
}

func TestBranchChildPgno(t *testing.T) {
	p := newTestPage(t, pageBranch)
	ok := insertNode(p, 0, []byte{}, encodePgno(7), 0)
	require.True(t, ok)
	require.Equal(t, pgno(7), p.nodeAt(0).childPgno())

	p.nodeAt(0).setChildPgno(99)
	require.Equal(t, pgno(99), p.nodeAt(0).childPgno())
}

func TestPageHeaderRoundTrip(t *testing.T) {
	p := newTestPage(t, pageLeaf)
	require.True(t, p.is(pageLeaf))
	require.False(t, p.is(pageBranch))
	require.Equal(t, pgno(1), p.pgno())
	require.Equal(t, pageHeaderSize, p.lower())
	require.Equal(t, len(p.buf), p.upper())
}
