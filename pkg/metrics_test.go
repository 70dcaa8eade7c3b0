package mmdb

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsReflectWriterState(t *testing.T) {
	env := openTestEnv(t, Options{})
	m := NewMetrics(env)

	require.Equal(t, float64(0), testutil.ToFloat64(m.dirtyPages))

	tx, err := env.Begin(true)
	require.NoError(t, err)
	require.NoError(t, tx.Put([]byte("k"), []byte("v")))

	require.Greater(t, testutil.ToFloat64(m.dirtyPages), float64(0))

	require.NoError(t, tx.Commit())
	require.Equal(t, float64(0), testutil.ToFloat64(m.dirtyPages))
}
