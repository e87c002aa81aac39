package buffer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/lattice-db/pagecore/storage/disk"
	"github.com/lattice-db/pagecore/storage/page"
	"github.com/lattice-db/pagecore/storage/wal"
)

func newTestPool(t *testing.T, poolSize, k int) (*Pool, *disk.Manager) {
	t.Helper()
	d, err := disk.Open(filepath.Join(t.TempDir(), "test.db"), 256, true, nil)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	metrics, err := NewMetrics(noop.NewMeterProvider().Meter(""))
	require.NoError(t, err)

	return New(poolSize, k, d, nil, nil, metrics), d
}

func TestNewPageFetchUnpinFlush(t *testing.T) {
	pool, d := newTestPool(t, 10, 2)

	pg, id, err := pool.NewPage()
	require.NoError(t, err)
	copy(pg.Data(), []byte("payload"))
	require.True(t, pool.UnpinPage(id, true))

	// A single flush should issue exactly one WritePage for this page;
	// fetch it back from disk directly to confirm the bytes landed.
	require.True(t, pool.FlushPage(id))

	raw := make([]byte, d.PageSize())
	require.NoError(t, d.ReadPage(id, raw))
	require.Equal(t, "payload", string(raw[:7]))
}

func TestFetchPageIsAHitWhenResident(t *testing.T) {
	pool, _ := newTestPool(t, 10, 2)

	_, id, err := pool.NewPage()
	require.NoError(t, err)
	require.True(t, pool.UnpinPage(id, false))

	pg, err := pool.FetchPage(id)
	require.NoError(t, err)
	require.Equal(t, id, pg.ID())
	require.True(t, pool.UnpinPage(id, false))
}

func TestPoolExhaustionWhenAllFramesPinned(t *testing.T) {
	pool, _ := newTestPool(t, 3, 2)

	for i := 0; i < 3; i++ {
		_, _, err := pool.NewPage()
		require.NoError(t, err)
	}

	_, _, err := pool.NewPage()
	require.ErrorIs(t, err, ErrPoolExhausted)
}

func TestEvictionPicksUnpinnedFrame(t *testing.T) {
	pool, _ := newTestPool(t, 2, 2)

	_, id1, err := pool.NewPage()
	require.NoError(t, err)
	require.True(t, pool.UnpinPage(id1, false))

	_, id2, err := pool.NewPage()
	require.NoError(t, err)
	require.True(t, pool.UnpinPage(id2, false))

	// Both frames are now unpinned and evictable; a third NewPage must
	// evict one of them rather than failing.
	_, id3, err := pool.NewPage()
	require.NoError(t, err)
	require.True(t, pool.UnpinPage(id3, false))

	require.Equal(t, 2, pool.PoolSize())
}

func TestDeletePageRefusesWhilePinned(t *testing.T) {
	pool, _ := newTestPool(t, 4, 2)

	_, id, err := pool.NewPage()
	require.NoError(t, err)

	require.False(t, pool.DeletePage(id))

	require.True(t, pool.UnpinPage(id, false))
	require.True(t, pool.DeletePage(id))

	// The deleted page's frame is back on the free list (4 frames, none
	// in use).
	require.Len(t, pool.freeList, 4)
}

func TestDeletePageOfUnknownPageIsNoop(t *testing.T) {
	pool, _ := newTestPool(t, 4, 2)
	require.True(t, pool.DeletePage(page.ID(999)))
}

func TestDirtyFlagStickyAcrossMultiplePins(t *testing.T) {
	pool, _ := newTestPool(t, 4, 2)

	_, id, err := pool.NewPage()
	require.NoError(t, err)
	require.True(t, pool.UnpinPage(id, false))

	// Pin twice: one unpinner marks dirty, the other doesn't. The
	// dirty=true must survive the dirty=false unpin that follows it.
	_, err = pool.FetchPage(id)
	require.NoError(t, err)
	_, err = pool.FetchPage(id)
	require.NoError(t, err)

	require.True(t, pool.UnpinPage(id, true))
	require.True(t, pool.UnpinPage(id, false))

	require.True(t, pool.FlushPage(id))
}

func TestWalRecordsAndSyncsBeforeDirtyWriteback(t *testing.T) {
	d, err := disk.Open(filepath.Join(t.TempDir(), "test.db"), 256, true, nil)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	walMgr, err := wal.Open(filepath.Join(t.TempDir(), "test.wal"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { walMgr.Close() })

	metrics, err := NewMetrics(noop.NewMeterProvider().Meter(""))
	require.NoError(t, err)

	pool := New(4, 2, d, walMgr, nil, metrics)

	pg, id, err := pool.NewPage()
	require.NoError(t, err)
	// NewPage itself logs a RecordNewPage and stamps the assigned LSN.
	require.NotEqual(t, page.InvalidLSN, pg.LSN())

	copy(pg.Data(), []byte("payload"))
	require.True(t, pool.UnpinPage(id, true))
	require.Greater(t, pg.LSN(), walMgr.Flushed())

	// FlushPage's writeBack must sync the WAL up to pg's LSN before the
	// page bytes are written, since the frame's LSN is ahead of what the
	// log has already made durable.
	require.True(t, pool.FlushPage(id))
	require.GreaterOrEqual(t, walMgr.Flushed(), pg.LSN())
}
