package mmdb

import "sort"

// idList is a sorted, deduplicated sequence of pgno, as used for both the
// freed-pages set a write txn accumulates and the spill set it publishes.
// Grounded on the teacher's ints/merge helpers in freelist.go, generalized
// from int to pgno and given the operations §4.2 names explicitly.
type idList []pgno

// appendSortedTail appends v if it is strictly greater than the current
// maximum, rejecting out-of-order appends the caller should not be making.
func (l idList) appendSortedTail(v pgno) (idList, bool) {
	if len(l) > 0 && l[len(l)-1] >= v {
		return l, false
	}
	return append(l, v), true
}

// appendUnchecked appends v, trusting the caller to maintain sort order.
func (l idList) appendUnchecked(v pgno) idList {
	return append(l, v)
}

func (l idList) search(v pgno) (int, bool) {
	i := sort.Search(len(l), func(i int) bool { return l[i] >= v })
	return i, i < len(l) && l[i] == v
}

func (l idList) sortInPlace() {
	sort.Slice(l, func(i, j int) bool { return l[i] < l[j] })
}

// mergeSorted merges two sorted, duplicate-free idLists into one sorted
// idList, preserving order. Used when folding a free-DB record's list into
// the in-memory reclaim set.
func mergeSorted(a, b idList) idList {
	if len(a) == 0 {
		return append(idList{}, b...)
	}
	if len(b) == 0 {
		return append(idList{}, a...)
	}
	out := make(idList, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// reverseSorted returns a copy of l sorted descending; the reclaim set in
// the free-DB allocator is kept in descending order so runs can be spliced
// off its tail cheaply.
func reverseSorted(l idList) idList {
	out := append(idList{}, l...)
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out
}

// maxIDListCapacity bounds how many pgno entries fit in one overflow chain
// worth of free-DB record value, matching the "fits in one overflow chain"
// cap from §4.2.
func maxIDListCapacity(psize int) int {
	// one pgno is 8 bytes; leave room for the record's own node header.
	return (psize - pageHeaderSize - nodeHeaderSize) / 8 * 64
}

// encodeIDList serializes an idList into its on-disk representation: an
// 8-byte count followed by 8-byte pgno entries, little-endian.
func encodeIDList(l idList) []byte {
	buf := make([]byte, 8+8*len(l))
	putUint64(buf[0:8], uint64(len(l)))
	for i, id := range l {
		putUint64(buf[8+8*i:16+8*i], uint64(id))
	}
	return buf
}

func decodeIDList(buf []byte) idList {
	if len(buf) < 8 {
		return nil
	}
	n := getUint64(buf[0:8])
	out := make(idList, 0, n)
	for i := uint64(0); i < n; i++ {
		start := 8 + 8*i
		if start+8 > uint64(len(buf)) {
			break
		}
		out = append(out, pgno(getUint64(buf[start:start+8])))
	}
	return out
}
