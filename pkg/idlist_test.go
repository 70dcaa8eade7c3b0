package mmdb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIDListMergeSorted(t *testing.T) {
	a := idList{1, 3, 5, 7}
	b := idList{2, 3, 6}
	merged := mergeSorted(a, b)
	require.Equal(t, idList{1, 2, 3, 5, 6, 7}, merged)
}

func TestIDListReverseSorted(t *testing.T) {
	l := idList{5, 1, 9, 3}
	require.Equal(t, idList{9, 5, 3, 1}, reverseSorted(l))
}

func TestIDListSearch(t *testing.T) {
	l := idList{2, 4, 6, 8}
	i, found := l.search(6)
	require.True(t, found)
	require.Equal(t, 2, i)

	_, found = l.search(5)
	require.False(t, found)
}

func TestIDListEncodeDecode(t *testing.T) {
	l := idList{10, 20, 30}
	buf := encodeIDList(l)
	decoded := decodeIDList(buf)
	require.Equal(t, l, decoded)
}

func TestIDListAppendSortedTail(t *testing.T) {
	l := idList{1, 2}
	l, ok := l.appendSortedTail(5)
	require.True(t, ok)
	require.Equal(t, idList{1, 2, 5}, l)

	_, ok = l.appendSortedTail(3)
	require.False(t, ok)
}
