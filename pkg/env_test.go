package mmdb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestEnv(t *testing.T, opts Options) *Env {
	t.Helper()
	dir := t.TempDir()
	env, err := Open(filepath.Join(dir, "env"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })
	return env
}

func TestOpenCreatesNewEnvironment(t *testing.T) {
	env := openTestEnv(t, Options{})
	require.NotNil(t, env)

	_, err := os.Stat(filepath.Join(env.fm.dataPath))
	require.NoError(t, err)
}

func TestPutGetDeleteRoundTrip(t *testing.T) {
	env := openTestEnv(t, Options{})

	kvs := randomKV(50)

	err := env.Update(func(tx *Tx) error {
		for k, v := range kvs {
			if err := tx.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = env.View(func(tx *Tx) error {
		for k, v := range kvs {
			got, ok, err := tx.Get([]byte(k))
			require.NoError(t, err)
			require.True(t, ok, "missing key %q", k)
			require.Equal(t, v, string(got))
		}
		return nil
	})
	require.NoError(t, err)

	var toDelete []string
	for k := range kvs {
		toDelete = append(toDelete, k)
		if len(toDelete) >= len(kvs)/2 {
			break
		}
	}

	err = env.Update(func(tx *Tx) error {
		for _, k := range toDelete {
			ok, err := tx.Delete([]byte(k))
			if err != nil {
				return err
			}
			if !ok {
				t.Fatalf("delete reported missing key %q", k)
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = env.View(func(tx *Tx) error {
		for _, k := range toDelete {
			_, ok, err := tx.Get([]byte(k))
			require.NoError(t, err)
			require.False(t, ok, "key %q should have been deleted", k)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestCommitPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "env")

	env, err := Open(path, Options{})
	require.NoError(t, err)

	err = env.Update(func(tx *Tx) error {
		return tx.Put([]byte("durable"), []byte("value"))
	})
	require.NoError(t, err)
	require.NoError(t, env.Close())

	reopened, err := Open(path, Options{})
	require.NoError(t, err)
	defer reopened.Close()

	err = reopened.View(func(tx *Tx) error {
		got, ok, err := tx.Get([]byte("durable"))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "value", string(got))
		return nil
	})
	require.NoError(t, err)
}

func TestRollbackDiscardsWrites(t *testing.T) {
	env := openTestEnv(t, Options{})

	tx, err := env.Begin(true)
	require.NoError(t, err)
	require.NoError(t, tx.Put([]byte("ghost"), []byte("boo")))
	tx.Rollback()

	err = env.View(func(tx *Tx) error {
		_, ok, err := tx.Get([]byte("ghost"))
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestSplitAcrossManyInserts(t *testing.T) {
	env := openTestEnv(t, Options{})

	kvs := randomKV(500)
	err := env.Update(func(tx *Tx) error {
		for k, v := range kvs {
			if err := tx.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = env.View(func(tx *Tx) error {
		stat, err := tx.Stat()
		require.NoError(t, err)
		require.Equal(t, uint64(len(kvs)), stat.Entries)
		require.GreaterOrEqual(t, stat.Depth, 1)

		for k, v := range kvs {
			got, ok, err := tx.Get([]byte(k))
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, v, string(got))
		}
		return nil
	})
	require.NoError(t, err)
}

func TestOverflowValueRoundTrip(t *testing.T) {
	env := openTestEnv(t, Options{})
	big := randomByteArray(env.pageSize * 3)

	err := env.Update(func(tx *Tx) error {
		return tx.Put([]byte("huge"), big)
	})
	require.NoError(t, err)

	err = env.View(func(tx *Tx) error {
		got, ok, err := tx.Get([]byte("huge"))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, big, got)
		return nil
	})
	require.NoError(t, err)
}

func TestReadOnlyTxnRejectsWrites(t *testing.T) {
	env := openTestEnv(t, Options{})

	tx, err := env.Begin(false)
	require.NoError(t, err)
	defer tx.Rollback()

	err = tx.Put([]byte("k"), []byte("v"))
	require.ErrorIs(t, err, errReadOnlyTxn)
}
