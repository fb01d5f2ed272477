package ext4

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Layout constants for the small, hand-built image every higher-level
// test mounts against: one SSD group of 64 1024-byte blocks (boot
// block, superblock, GDT, block bitmap, inode bitmap, a 4-block inode
// table, then the root directory's data block, then free space), and
// one HDD image large enough for Metadata to self-initialize on first
// load.
const (
	fixtureBlockSize      = uint32(1024)
	fixtureBlocksPerGroup = uint32(64)
	fixtureInodesPerGroup = uint32(32)
	fixtureInodeSize      = uint16(128)

	fixtureBlockBitmapBlock = 3
	fixtureInodeBitmapBlock = 4
	fixtureInodeTableBlock  = 5
	fixtureInodeTableBlocks = 4 // 32 inodes * 128 bytes / 1024-byte block
	fixtureRootDataBlock    = 9
	fixtureReservedBlocks   = 10 // blocks 0..9 inclusive
	fixtureReservedInodes   = 11 // inodes 1..11 inclusive (root is inode 2)
)

func fixtureSuperblock() *Superblock {
	sb := &Superblock{
		SMagic:          Ext4Magic,
		SLogBlockSize:   0,
		SBlocksCountLo:  fixtureBlocksPerGroup,
		SBlocksPerGroup: fixtureBlocksPerGroup,
		SInodesPerGroup: fixtureInodesPerGroup,
		SInodeSize:      fixtureInodeSize,
		SRevLevel:       SbRevlevelDynamicRev,
	}
	copy(sb.SUuid[:], []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16})
	return sb
}

// newTestFS builds a fresh, minimal-but-valid SSD/HDD image pair, mounts
// it, and pre-populates the root directory (inode 2, "." and ".." only).
// It returns the mounted FileSystem; the image files and the open
// handles are cleaned up automatically with the test.
func newTestFS(t *testing.T) *FileSystem {
	t.Helper()
	return newTestFSWithThreshold(t, fixtureBlocksPerGroup)
}

// newTestFSWithThreshold is newTestFS with an explicit SSD/HDD
// tier-routing threshold, for tests that exercise cold-tier placement.
func newTestFSWithThreshold(t *testing.T, ssdMaxLblock uint32) *FileSystem {
	t.Helper()

	dir := t.TempDir()
	ssdPath := filepath.Join(dir, "ssd.img")
	hddPath := filepath.Join(dir, "hdd.img")

	ssdSize := int64(fixtureBlockSize) * int64(fixtureBlocksPerGroup)
	raw := make([]byte, ssdSize)

	sb := fixtureSuperblock()
	var sbBuf bytes.Buffer
	require.NoError(t, binary.Write(&sbBuf, binary.LittleEndian, sb))
	copy(raw[Superblock0Offset:], sbBuf.Bytes())

	gd := &GroupDescriptor{
		BlockBitmapLoc:  fixtureBlockBitmapBlock,
		InodeBitmapLoc:  fixtureInodeBitmapBlock,
		InodeTableLoc:   fixtureInodeTableBlock,
		FreeBlocksCount: fixtureBlocksPerGroup - fixtureReservedBlocks,
		FreeInodesCount: fixtureInodesPerGroup - fixtureReservedInodes,
		UsedDirectories: 1,
	}
	gdtOffset := int(alignTo(uint64(Superblock0Offset)+uint64(SuperblockSize), uint64(fixtureBlockSize)))
	copy(raw[gdtOffset:], gd.toBytes(groupDescMinSize))

	require.NoError(t, os.WriteFile(ssdPath, raw, 0o600))
	require.NoError(t, os.WriteFile(hddPath, make([]byte, ssdSize), 0o600))

	io, err := OpenBlockIO(ssdPath, hddPath)
	require.NoError(t, err)
	t.Cleanup(func() { io.Close() })

	md, err := LoadMetadata(io, ssdMaxLblock)
	require.NoError(t, err)

	blockBm := md.loadSSDBlockBitmap(0)
	for i := uint32(0); i < fixtureReservedBlocks; i++ {
		blockBm.Set(i)
	}
	blockBm.Save(NewPblock(TierSSD, fixtureBlockBitmapBlock))

	inodeBm := md.loadSSDInodeBitmap(0)
	for i := uint32(0); i < fixtureReservedInodes; i++ {
		inodeBm.Set(i)
	}
	inodeBm.Save(NewPblock(TierSSD, fixtureInodeBitmapBlock))

	root := &Inode{Mode: ModeDirectory, LinksCount: 2}
	root.Block[0] = uint32(NewPblock(TierSSD, fixtureRootDataBlock))
	root.SetFileSize(uint64(fixtureBlockSize))
	root.SetFileBlocksCount(fixtureBlockSize, 1)
	WriteInode(md, io, RootInode, root)

	dot := newDirent(RootInode, ".", DentryTypeDirectory)
	dotdot := newDirent(RootInode, "..", DentryTypeDirectory)
	dotdot.RecLen = uint16(fixtureBlockSize) - dot.RecLen

	buf := make([]byte, fixtureBlockSize)
	encodeDirent(buf, 0, dot)
	encodeDirent(buf, uint32(dot.RecLen), dotdot)
	io.BlockWrite(buf, NewPblock(TierSSD, fixtureRootDataBlock))

	dc := NewDCache()
	require.NoError(t, dc.InitRoot(RootInode))

	return &FileSystem{IO: io, Metadata: md, DCache: dc}
}
