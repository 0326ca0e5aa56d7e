package bm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"hermod/internal/pkg/bm"
)

func TestBitmap(t *testing.T) {
	b := bm.New()
	b.Fill(10)
	require.True(t, b.Get(9))
	require.False(t, b.Get(10))
	require.EqualValues(t, 10, b.Count())

	b.UnsetRange(2, 5)
	require.EqualValues(t, 7, b.Count())
	require.EqualValues(t, 2, b.CountRange(0, 5))
	require.EqualValues(t, 3, b.CountRange(5, 8))
	require.Zero(t, b.CountRange(3, 3))
}

func TestCompressed(t *testing.T) {
	b := bm.New()
	b.Set(3)
	b.Set(1000)

	r, err := bm.FromCompressed(b.CompressedBytes())
	require.NoError(t, err)
	require.Equal(t, []uint32{3, 1000}, r.ToArray())

	empty, err := bm.FromCompressed(nil)
	require.NoError(t, err)
	require.Zero(t, empty.Count())
}
