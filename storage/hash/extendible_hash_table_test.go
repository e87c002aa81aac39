package hash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertFindRemove(t *testing.T) {
	tbl := New[int, string](4)
	tbl.Insert(1, "a")
	tbl.Insert(2, "b")

	v, ok := tbl.Find(1)
	require.True(t, ok)
	require.Equal(t, "a", v)

	require.True(t, tbl.Remove(1))
	_, ok = tbl.Find(1)
	require.False(t, ok)

	require.False(t, tbl.Remove(1))
}

func TestUpdateExistingKeyNeverSplits(t *testing.T) {
	tbl := New[int, int](2)
	tbl.Insert(1, 10)
	tbl.Insert(2, 20)
	before := tbl.NumBuckets()

	tbl.Insert(1, 100)
	require.Equal(t, before, tbl.NumBuckets())

	v, ok := tbl.Find(1)
	require.True(t, ok)
	require.Equal(t, 100, v)
}

func TestSplitGrowsDirectoryOnOverflow(t *testing.T) {
	tbl := New[int, int](2)
	require.Equal(t, 1, tbl.DirectoryLen())
	require.Equal(t, 0, tbl.GlobalDepth())

	for i := 0; i < 64; i++ {
		tbl.Insert(i, i*i)
	}

	require.Greater(t, tbl.NumBuckets(), 1)
	require.Greater(t, tbl.GlobalDepth(), 0)
	require.Equal(t, 1<<tbl.GlobalDepth(), tbl.DirectoryLen())

	for i := 0; i < 64; i++ {
		v, ok := tbl.Find(i)
		require.True(t, ok, "key %d missing after splits", i)
		require.Equal(t, i*i, v)
	}
}

func TestRangeVisitsEveryEntryOnce(t *testing.T) {
	tbl := New[int, int](2)
	want := map[int]int{}
	for i := 0; i < 40; i++ {
		tbl.Insert(i, i+1)
		want[i] = i + 1
	}

	got := map[int]int{}
	tbl.Range(func(k, v int) { got[k] = v })
	require.Equal(t, want, got)
}

func TestStringKeys(t *testing.T) {
	tbl := New[string, int](2)
	tbl.Insert("alpha", 1)
	tbl.Insert("beta", 2)
	tbl.Insert("gamma", 3)

	v, ok := tbl.Find("beta")
	require.True(t, ok)
	require.Equal(t, 2, v)
}
