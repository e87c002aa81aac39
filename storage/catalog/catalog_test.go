package catalog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/lattice-db/pagecore/storage/buffer"
	"github.com/lattice-db/pagecore/storage/disk"
	"github.com/lattice-db/pagecore/storage/page"
)

func newTestPool(t *testing.T) *buffer.Pool {
	t.Helper()
	d, err := disk.Open(filepath.Join(t.TempDir(), "test.db"), 512, true, nil)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	metrics, err := buffer.NewMetrics(noop.NewMeterProvider().Meter(""))
	require.NoError(t, err)
	return buffer.New(10, 2, d, nil, nil, metrics)
}

func TestSetRootAndRootOf(t *testing.T) {
	pool := newTestPool(t)
	cat, err := Open(pool, nil)
	require.NoError(t, err)

	_, ok := cat.RootOf("accounts")
	require.False(t, ok)

	require.NoError(t, cat.SetRoot("accounts", page.ID(5)))
	id, ok := cat.RootOf("accounts")
	require.True(t, ok)
	require.Equal(t, page.ID(5), id)
}

func TestCatalogSurvivesReopen(t *testing.T) {
	pool := newTestPool(t)
	cat, err := Open(pool, nil)
	require.NoError(t, err)
	require.NoError(t, cat.SetRoot("orders", page.ID(3)))
	require.NoError(t, cat.SetRoot("customers", page.ID(7)))

	cat2, err := Open(pool, nil)
	require.NoError(t, err)
	id, ok := cat2.RootOf("orders")
	require.True(t, ok)
	require.Equal(t, page.ID(3), id)
	id, ok = cat2.RootOf("customers")
	require.True(t, ok)
	require.Equal(t, page.ID(7), id)
}

func TestNamesListsAllIndexes(t *testing.T) {
	pool := newTestPool(t)
	cat, err := Open(pool, nil)
	require.NoError(t, err)
	require.NoError(t, cat.SetRoot("a", page.ID(1)))
	require.NoError(t, cat.SetRoot("b", page.ID(2)))

	require.ElementsMatch(t, []string{"a", "b"}, cat.Names())
}
