package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lattice-db/pagecore/storage/page"
)

func TestAppendAssignsMonotonicLSNs(t *testing.T) {
	m, err := Open(filepath.Join(t.TempDir(), "test.wal"), nil)
	require.NoError(t, err)
	defer m.Close()

	lsn1, err := m.Append(Record{Type: RecordNewPage, PageID: 1})
	require.NoError(t, err)
	lsn2, err := m.Append(Record{Type: RecordUpdate, PageID: 1})
	require.NoError(t, err)

	require.Equal(t, page.LSN(1), lsn1)
	require.Equal(t, page.LSN(2), lsn2)
}

func TestFlushedTracksLastSync(t *testing.T) {
	m, err := Open(filepath.Join(t.TempDir(), "test.wal"), nil)
	require.NoError(t, err)
	defer m.Close()

	require.Equal(t, page.LSN(0), m.Flushed())

	_, err = m.Append(Record{Type: RecordUpdate, PageID: 1})
	require.NoError(t, err)
	require.Equal(t, page.LSN(0), m.Flushed())

	require.NoError(t, m.Sync())
	require.Equal(t, page.LSN(1), m.Flushed())
}

func TestReopenAppendsRatherThanTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")

	m1, err := Open(path, nil)
	require.NoError(t, err)
	_, err = m1.Append(Record{Type: RecordNewPage, PageID: 1})
	require.NoError(t, err)
	require.NoError(t, m1.Close())

	m2, err := Open(path, nil)
	require.NoError(t, err)
	defer m2.Close()
	lsn, err := m2.Append(Record{Type: RecordUpdate, PageID: 1})
	require.NoError(t, err)
	require.Equal(t, page.LSN(1), lsn)

	// Both 17-byte records are in the file: the first run's was kept.
	require.NoError(t, m2.Sync())
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(34), info.Size())
}
