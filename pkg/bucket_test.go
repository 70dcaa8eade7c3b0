package mmdb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateBucketAndPutGet(t *testing.T) {
	env := openTestEnv(t, Options{})

	err := env.Update(func(tx *Tx) error {
		b, err := tx.CreateBucket("widgets")
		if err != nil {
			return err
		}
		return b.Put([]byte("sprocket"), []byte("42"))
	})
	require.NoError(t, err)

	err = env.View(func(tx *Tx) error {
		b, err := tx.Bucket("widgets")
		require.NoError(t, err)
		v, ok, err := b.Get([]byte("sprocket"))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "42", string(v))
		return nil
	})
	require.NoError(t, err)
}

func TestCreateBucketTwiceFails(t *testing.T) {
	env := openTestEnv(t, Options{})

	err := env.Update(func(tx *Tx) error {
		_, err := tx.CreateBucket("dup")
		return err
	})
	require.NoError(t, err)

	err = env.Update(func(tx *Tx) error {
		_, err := tx.CreateBucket("dup")
		return err
	})
	require.ErrorIs(t, err, errBucketExists)
}

func TestBucketNotFound(t *testing.T) {
	env := openTestEnv(t, Options{})
	err := env.View(func(tx *Tx) error {
		_, err := tx.Bucket("missing")
		return err
	})
	require.ErrorIs(t, err, errNoBucket)
}

func TestBucketIndependentFromMainDB(t *testing.T) {
	env := openTestEnv(t, Options{})

	err := env.Update(func(tx *Tx) error {
		if err := tx.Put([]byte("k"), []byte("main")); err != nil {
			return err
		}
		b, err := tx.CreateBucket("b")
		if err != nil {
			return err
		}
		return b.Put([]byte("k"), []byte("bucket"))
	})
	require.NoError(t, err)

	err = env.View(func(tx *Tx) error {
		v, ok, err := tx.Get([]byte("k"))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "main", string(v))

		b, err := tx.Bucket("b")
		require.NoError(t, err)
		v, ok, err = b.Get([]byte("k"))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "bucket", string(v))
		return nil
	})
	require.NoError(t, err)
}

func TestDeleteBucket(t *testing.T) {
	env := openTestEnv(t, Options{})

	err := env.Update(func(tx *Tx) error {
		b, err := tx.CreateBucket("gone")
		if err != nil {
			return err
		}
		return b.Put([]byte("k"), []byte("v"))
	})
	require.NoError(t, err)

	err = env.Update(func(tx *Tx) error {
		return tx.DeleteBucket("gone")
	})
	require.NoError(t, err)

	err = env.View(func(tx *Tx) error {
		_, err := tx.Bucket("gone")
		return err
	})
	require.ErrorIs(t, err, errNoBucket)
}

func TestBucketCursorDelete(t *testing.T) {
	env := openTestEnv(t, Options{})

	err := env.Update(func(tx *Tx) error {
		b, err := tx.CreateBucket("iter")
		if err != nil {
			return err
		}
		for _, k := range []string{"a", "b", "c"} {
			if err := b.Put([]byte(k), []byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = env.Update(func(tx *Tx) error {
		b, err := tx.Bucket("iter")
		if err != nil {
			return err
		}
		c := b.Cursor()
		k, _, ok := c.Seek([]byte("b"))
		require.True(t, ok)
		require.Equal(t, "b", string(k))
		return c.Delete()
	})
	require.NoError(t, err)

	err = env.View(func(tx *Tx) error {
		b, err := tx.Bucket("iter")
		require.NoError(t, err)
		_, ok, err := b.Get([]byte("b"))
		require.NoError(t, err)
		require.False(t, ok)
		_, ok, err = b.Get([]byte("a"))
		require.NoError(t, err)
		require.True(t, ok)
		return nil
	})
	require.NoError(t, err)
}
