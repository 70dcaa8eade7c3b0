package mmdb

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDupBucketSingleValueStaysDirect(t *testing.T) {
	env := openTestEnv(t, Options{})

	err := env.Update(func(tx *Tx) error {
		b, err := tx.CreateDupBucket("dup", nil)
		if err != nil {
			return err
		}
		return b.PutDup([]byte("k"), []byte("v1"))
	})
	require.NoError(t, err)

	err = env.View(func(tx *Tx) error {
		b, err := tx.Bucket("dup")
		require.NoError(t, err)
		values, ok, err := b.GetAllDup([]byte("k"))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, [][]byte{[]byte("v1")}, values)
		return nil
	})
	require.NoError(t, err)
}

func TestDupBucketPromotesToEmbeddedSubPage(t *testing.T) {
	env := openTestEnv(t, Options{})

	err := env.Update(func(tx *Tx) error {
		b, err := tx.CreateDupBucket("dup", nil)
		if err != nil {
			return err
		}
		for _, v := range []string{"c", "a", "b"} {
			if err := b.PutDup([]byte("k"), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = env.View(func(tx *Tx) error {
		b, err := tx.Bucket("dup")
		require.NoError(t, err)
		values, ok, err := b.GetAllDup([]byte("k"))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, values)

		n, err := b.CountDup([]byte("k"))
		require.NoError(t, err)
		require.Equal(t, 3, n)
		return nil
	})
	require.NoError(t, err)
}

// TestDupBucketPromotesToSubDB inserts enough distinct duplicates under one
// key to outgrow the embedded sub-page's inline threshold, exercising the
// second promotion stage into a real sub-DB tree.
func TestDupBucketPromotesToSubDB(t *testing.T) {
	env := openTestEnv(t, Options{})

	const n = 500
	err := env.Update(func(tx *Tx) error {
		b, err := tx.CreateDupBucket("dup", nil)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			v := fmt.Sprintf("value-%04d", i)
			if err := b.PutDup([]byte("k"), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = env.View(func(tx *Tx) error {
		b, err := tx.Bucket("dup")
		require.NoError(t, err)
		count, err := b.CountDup([]byte("k"))
		require.NoError(t, err)
		require.Equal(t, n, count)

		values, ok, err := b.GetAllDup([]byte("k"))
		require.NoError(t, err)
		require.True(t, ok)
		for i := 1; i < len(values); i++ {
			require.Less(t, string(values[i-1]), string(values[i]))
		}
		return nil
	})
	require.NoError(t, err)
}

func TestDupBucketDeleteDupRemovesOneValue(t *testing.T) {
	env := openTestEnv(t, Options{})

	err := env.Update(func(tx *Tx) error {
		b, err := tx.CreateDupBucket("dup", nil)
		if err != nil {
			return err
		}
		for _, v := range []string{"a", "b", "c"} {
			if err := b.PutDup([]byte("k"), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = env.Update(func(tx *Tx) error {
		b, err := tx.Bucket("dup")
		require.NoError(t, err)
		ok, err := b.DeleteDup([]byte("k"), []byte("b"))
		require.NoError(t, err)
		require.True(t, ok)
		return nil
	})
	require.NoError(t, err)

	err = env.View(func(tx *Tx) error {
		b, err := tx.Bucket("dup")
		require.NoError(t, err)
		values, ok, err := b.GetAllDup([]byte("k"))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, [][]byte{[]byte("a"), []byte("c")}, values)
		return nil
	})
	require.NoError(t, err)
}

func TestDupBucketDeleteLastValueRemovesKey(t *testing.T) {
	env := openTestEnv(t, Options{})

	err := env.Update(func(tx *Tx) error {
		b, err := tx.CreateDupBucket("dup", nil)
		if err != nil {
			return err
		}
		return b.PutDup([]byte("k"), []byte("only"))
	})
	require.NoError(t, err)

	err = env.Update(func(tx *Tx) error {
		b, err := tx.Bucket("dup")
		require.NoError(t, err)
		ok, err := b.DeleteDup([]byte("k"), []byte("only"))
		require.NoError(t, err)
		require.True(t, ok)
		return nil
	})
	require.NoError(t, err)

	err = env.View(func(tx *Tx) error {
		b, err := tx.Bucket("dup")
		require.NoError(t, err)
		_, ok, err := b.GetAllDup([]byte("k"))
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestNonDupBucketRejectsPutDup(t *testing.T) {
	env := openTestEnv(t, Options{})
	err := env.Update(func(tx *Tx) error {
		b, err := tx.CreateBucket("plain")
		if err != nil {
			return err
		}
		return b.PutDup([]byte("k"), []byte("v"))
	})
	require.ErrorIs(t, err, errIncompatible)
}
