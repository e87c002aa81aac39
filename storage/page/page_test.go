package page

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPinUnpin(t *testing.T) {
	p := New(128)
	require.Equal(t, uint32(0), p.PinCount())

	p.Pin()
	p.Pin()
	require.Equal(t, uint32(2), p.PinCount())

	reachedZero := p.Unpin()
	require.False(t, reachedZero)
	require.Equal(t, uint32(1), p.PinCount())

	reachedZero = p.Unpin()
	require.True(t, reachedZero)
	require.Equal(t, uint32(0), p.PinCount())
}

func TestUnpinAtZeroIsNoop(t *testing.T) {
	p := New(128)
	require.True(t, p.Unpin())
	require.Equal(t, uint32(0), p.PinCount())
}

func TestDirtyIsStickyOR(t *testing.T) {
	p := New(128)
	p.SetDirty(true)
	require.True(t, p.IsDirty())

	// A later unpin with isDirty=false must never clear a dirty bit set
	// by an earlier writer - this is the sticky-OR fix for the bug
	// where the last unpinner's dirty flag silently clobbered prior
	// writers' dirty=true.
	p.SetDirty(false)
	require.True(t, p.IsDirty())

	p.ClearDirty()
	require.False(t, p.IsDirty())
}

func TestResetClearsState(t *testing.T) {
	p := New(128)
	p.SetID(7)
	p.SetDirty(true)
	p.SetLSN(42)
	copy(p.Data(), []byte("hello"))

	p.Reset()

	require.Equal(t, InvalidID, p.ID())
	require.False(t, p.IsDirty())
	require.Equal(t, InvalidLSN, p.LSN())
	require.Equal(t, uint32(0), p.PinCount())
	for _, b := range p.Data()[:5] {
		require.Equal(t, byte(0), b)
	}
}
