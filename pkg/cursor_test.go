package mmdb

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCursorForwardIteration(t *testing.T) {
	env := openTestEnv(t, Options{})
	kvs := randomKV(100)

	var keys []string
	for k := range kvs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	err := env.Update(func(tx *Tx) error {
		for _, k := range keys {
			if err := tx.Put([]byte(k), []byte(kvs[k])); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = env.View(func(tx *Tx) error {
		c := tx.MainCursor()
		var seen []string
		for k, v, ok := c.First(); ok; k, v, ok = c.Next() {
			seen = append(seen, string(k))
			require.Equal(t, kvs[string(k)], string(v))
		}
		require.Equal(t, keys, seen)
		return nil
	})
	require.NoError(t, err)
}

func TestCursorSeekAndPrev(t *testing.T) {
	env := openTestEnv(t, Options{})
	keys := []string{"a", "c", "e", "g", "i"}

	err := env.Update(func(tx *Tx) error {
		for _, k := range keys {
			if err := tx.Put([]byte(k), []byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = env.View(func(tx *Tx) error {
		c := tx.MainCursor()
		k, _, ok := c.Seek([]byte("d"))
		require.True(t, ok)
		require.Equal(t, "e", string(k))

		k, _, ok = c.Prev()
		require.True(t, ok)
		require.Equal(t, "c", string(k))

		_, _, ok = c.Seek([]byte("z"))
		require.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestCursorDeleteViaMainCursor(t *testing.T) {
	env := openTestEnv(t, Options{})
	keys := []string{"a", "b", "c", "d"}

	err := env.Update(func(tx *Tx) error {
		for _, k := range keys {
			if err := tx.Put([]byte(k), []byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = env.Update(func(tx *Tx) error {
		c := tx.MainCursor()
		k, _, ok := c.Seek([]byte("b"))
		require.True(t, ok)
		require.Equal(t, "b", string(k))
		return c.Delete()
	})
	require.NoError(t, err)

	err = env.View(func(tx *Tx) error {
		_, ok, err := tx.Get([]byte("b"))
		require.NoError(t, err)
		require.False(t, ok)

		for _, k := range []string{"a", "c", "d"} {
			_, ok, err := tx.Get([]byte(k))
			require.NoError(t, err)
			require.True(t, ok)
		}
		return nil
	})
	require.NoError(t, err)
}
