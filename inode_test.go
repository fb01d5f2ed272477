package ext4

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInodeFileSizeComposesLoHi(t *testing.T) {
	i := &Inode{}
	i.SetFileSize(1<<32 + 7)
	require.Equal(t, uint32(7), i.SizeLo)
	require.Equal(t, uint32(1), i.SizeHi)
	require.Equal(t, uint64(1<<32+7), i.FileSize())
}

func TestInodeFileBlocksCountUnits(t *testing.T) {
	i := &Inode{}
	i.SetFileBlocksCount(1024, 5)
	require.Equal(t, uint32(10), i.BlocksLo) // 5 blocks * (1024/512) sectors
	require.Equal(t, uint64(5), i.FileBlocksCount(1024))
}

func TestInodeModeChecks(t *testing.T) {
	dir := &Inode{Mode: ModeDirectory}
	require.True(t, dir.IsDirectory())
	require.False(t, dir.IsRegular())

	reg := &Inode{Mode: ModeRegular}
	require.True(t, reg.IsRegular())
	require.False(t, reg.IsDirectory())
}

func TestReadWriteInodeRoundTrip(t *testing.T) {
	fs := newTestFS(t)

	id := fs.Metadata.AllocInode()
	want := &Inode{
		Mode:       ModeRegular,
		Uid:        1000,
		Gid:        1000,
		LinksCount: 1,
	}
	want.SetFileSize(42)
	WriteInode(fs.Metadata, fs.IO, id, want)

	got := ReadInode(fs.Metadata, fs.IO, id)
	require.Equal(t, want.Mode, got.Mode)
	require.Equal(t, want.Uid, got.Uid)
	require.Equal(t, want.Gid, got.Gid)
	require.Equal(t, want.LinksCount, got.LinksCount)
	require.Equal(t, want.FileSize(), got.FileSize())
}
