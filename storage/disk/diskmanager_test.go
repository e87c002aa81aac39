package disk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lattice-db/pagecore/storage/page"
)

func tempDBPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "test.db")
}

func TestCreateOpenRoundTrip(t *testing.T) {
	path := tempDBPath(t)

	m, err := Open(path, 4096, true, nil)
	require.NoError(t, err)

	id, err := m.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, page.ID(0), id)

	payload := make([]byte, 4096)
	copy(payload, []byte("hello disk manager"))
	require.NoError(t, m.WritePage(id, payload))
	require.NoError(t, m.Sync())
	require.NoError(t, m.Close())

	m2, err := Open(path, 4096, false, nil)
	require.NoError(t, err)
	defer m2.Close()

	buf := make([]byte, 4096)
	require.NoError(t, m2.ReadPage(id, buf))
	require.Equal(t, payload, buf)
}

func TestCreateTwiceFails(t *testing.T) {
	path := tempDBPath(t)
	m, err := Open(path, 4096, true, nil)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	_, err = Open(path, 4096, true, nil)
	require.ErrorIs(t, err, ErrDBFileExists)
}

func TestOpenMissingFails(t *testing.T) {
	_, err := Open(tempDBPath(t), 4096, false, nil)
	require.ErrorIs(t, err, ErrDBFileNotFound)
}

func TestPageSizeMismatchFails(t *testing.T) {
	path := tempDBPath(t)
	m, err := Open(path, 4096, true, nil)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	_, err = Open(path, 8192, false, nil)
	require.ErrorIs(t, err, ErrPageSizeMismatch)
}

func TestAllocatePageIsMonotonic(t *testing.T) {
	m, err := Open(tempDBPath(t), 512, true, nil)
	require.NoError(t, err)
	defer m.Close()

	for i := 0; i < 5; i++ {
		id, err := m.AllocatePage()
		require.NoError(t, err)
		require.Equal(t, page.ID(i), id)
	}
}

func TestWritePageWrongSizeFails(t *testing.T) {
	m, err := Open(tempDBPath(t), 512, true, nil)
	require.NoError(t, err)
	defer m.Close()

	id, err := m.AllocatePage()
	require.NoError(t, err)
	require.Error(t, m.WritePage(id, make([]byte, 10)))
}

func TestClosedManagerRejectsIO(t *testing.T) {
	path := tempDBPath(t)
	m, err := Open(path, 512, true, nil)
	require.NoError(t, err)
	id, err := m.AllocatePage()
	require.NoError(t, err)
	require.NoError(t, m.Close())

	require.ErrorIs(t, m.ReadPage(id, make([]byte, 512)), ErrFileNotOpen)

	_ = os.Remove(path)
}
