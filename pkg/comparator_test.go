package mmdb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompareBytes(t *testing.T) {
	require.Equal(t, 0, CompareBytes([]byte("a"), []byte("a")))
	require.Less(t, CompareBytes([]byte("a"), []byte("b")), 0)
	require.Greater(t, CompareBytes([]byte("b"), []byte("a")), 0)
}

func TestCompareReverse(t *testing.T) {
	require.Greater(t, CompareReverse([]byte("a"), []byte("b")), 0)
}

func TestCompareUint64Numeric(t *testing.T) {
	require.Less(t, CompareUint64(encodeUint64(1), encodeUint64(2)), 0)
	require.Equal(t, 0, CompareUint64(encodeUint64(9), encodeUint64(9)))
}

func TestDatabaseWithCustomComparator(t *testing.T) {
	env := openTestEnv(t, Options{Comparator: CompareReverse})

	err := env.Update(func(tx *Tx) error {
		for _, k := range []string{"a", "b", "c"} {
			if err := tx.Put([]byte(k), []byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = env.View(func(tx *Tx) error {
		c := tx.MainCursor()
		var order []string
		for k, _, ok := c.First(); ok; k, _, ok = c.Next() {
			order = append(order, string(k))
		}
		require.Equal(t, []string{"c", "b", "a"}, order)
		return nil
	})
	require.NoError(t, err)
}
