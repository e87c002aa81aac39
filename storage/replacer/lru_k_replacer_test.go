package replacer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lattice-db/pagecore/storage/page"
)

// TestScenario reproduces the canonical LRU-K access trace: 7 frames,
// k=2, a mix of single and repeated accesses, and a sequence of evicts
// interleaved with further accesses.
func TestScenario(t *testing.T) {
	r := New(7, 2)

	for _, f := range []page.FrameID{1, 2, 3, 4, 5} {
		r.RecordAccess(f)
		r.SetEvictable(f, true)
	}
	r.RecordAccess(6)
	r.SetEvictable(6, false)

	require.Equal(t, 5, r.Size())

	// Frame 1 gets a second access, promoting it out of the history set
	// and into the cache set; it should no longer be the first victim.
	r.RecordAccess(1)

	f, ok := r.Evict()
	require.True(t, ok)
	require.Equal(t, page.FrameID(2), f)

	f, ok = r.Evict()
	require.True(t, ok)
	require.Equal(t, page.FrameID(3), f)

	f, ok = r.Evict()
	require.True(t, ok)
	require.Equal(t, page.FrameID(4), f)

	require.Equal(t, 2, r.Size())

	r.SetEvictable(6, true)
	require.Equal(t, 3, r.Size())

	f, ok = r.Evict()
	require.True(t, ok)
	require.Equal(t, page.FrameID(5), f)

	f, ok = r.Evict()
	require.True(t, ok)
	require.Equal(t, page.FrameID(6), f)

	// Only frame 1 remains, with two accesses (in the cache set).
	require.Equal(t, 1, r.Size())
	f, ok = r.Evict()
	require.True(t, ok)
	require.Equal(t, page.FrameID(1), f)

	require.Equal(t, 0, r.Size())
	_, ok = r.Evict()
	require.False(t, ok)
}

func TestSetEvictableIgnoresUntrackedFrame(t *testing.T) {
	r := New(4, 2)
	r.SetEvictable(99, true)
	require.Equal(t, 0, r.Size())
}

func TestSetEvictableIsIdempotent(t *testing.T) {
	r := New(4, 2)
	r.RecordAccess(1)
	r.SetEvictable(1, true)
	r.SetEvictable(1, true)
	require.Equal(t, 1, r.Size())
}

func TestRemoveUntrackedFrameIsNoop(t *testing.T) {
	r := New(4, 2)
	require.NotPanics(t, func() { r.Remove(42) })
}

func TestRemovePinnedFramePanics(t *testing.T) {
	r := New(4, 2)
	r.RecordAccess(1)
	require.Panics(t, func() { r.Remove(1) })
}

func TestRemoveEvictableFrame(t *testing.T) {
	r := New(4, 2)
	r.RecordAccess(1)
	r.SetEvictable(1, true)
	r.Remove(1)
	require.Equal(t, 0, r.Size())
}
