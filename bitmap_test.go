package ext4

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBitmapSetUnsetLookup(t *testing.T) {
	io := newTestBlockIO(t, 1024, 4)
	bm := NewBitmap(io)

	require.False(t, bm.Lookup(5))
	bm.Set(5)
	require.True(t, bm.Lookup(5))
	bm.Unset(5)
	require.False(t, bm.Lookup(5))
}

func TestBitmapFirstClear(t *testing.T) {
	io := newTestBlockIO(t, 1024, 4)
	bm := NewBitmap(io)

	for i := uint32(0); i < 10; i++ {
		bm.Set(i)
	}

	idx, ok := bm.FirstClear(0)
	require.True(t, ok)
	require.Equal(t, uint32(10), idx)

	idx, ok = bm.FirstClear(12)
	require.True(t, ok)
	require.Equal(t, uint32(12), idx)
}

func TestBitmapFirstClearExhausted(t *testing.T) {
	io := newTestBlockIO(t, 1024, 4)
	bm := NewBitmap(io)

	for i := uint32(0); i < bm.Size(); i++ {
		bm.Set(i)
	}

	_, ok := bm.FirstClear(0)
	require.False(t, ok)
}

func TestBitmapLoadSaveRoundTrip(t *testing.T) {
	io := newTestBlockIO(t, 1024, 4)

	bm := NewBitmap(io)
	bm.Set(0)
	bm.Set(31)
	bm.Set(32)
	bm.Set(bm.Size() - 1)
	bm.Save(NewPblock(TierSSD, 1))

	loaded := NewBitmap(io)
	loaded.Load(NewPblock(TierSSD, 1))

	require.True(t, loaded.Lookup(0))
	require.True(t, loaded.Lookup(31))
	require.True(t, loaded.Lookup(32))
	require.True(t, loaded.Lookup(loaded.Size()-1))
	require.False(t, loaded.Lookup(1))
}

func TestBitmapSize(t *testing.T) {
	io := newTestBlockIO(t, 1024, 1)
	bm := NewBitmap(io)
	require.Equal(t, uint32(1024*8), bm.Size())
}
