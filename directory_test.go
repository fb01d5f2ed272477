package ext4

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func readAllDentries(t *testing.T, io *BlockIO, inode *Inode) []*Dirent {
	t.Helper()
	cursor := NewDirCursor(io)
	var out []*Dirent
	offset := uint64(0)
	for {
		d, ok := cursor.GetDentry(inode, offset)
		if !ok {
			break
		}
		offset += uint64(d.RecLen)
		out = append(out, d)
	}
	return out
}

func TestAddDentryFillsSlackBeforeExtending(t *testing.T) {
	fs := newTestFS(t)
	root := ReadInode(fs.Metadata, fs.IO, RootInode)
	blocksBefore := root.FileBlocksCount(fixtureBlockSize)

	AddDentry(fs.Metadata, fs.IO, root, newDirent(100, "a", DentryTypeRegular))
	require.Equal(t, blocksBefore, root.FileBlocksCount(fixtureBlockSize), "slack in the root block should absorb the new entry")

	all := readAllDentries(t, fs.IO, root)
	var found bool
	for _, d := range all {
		if d.Name == "a" {
			found = true
			require.Equal(t, uint32(100), d.Inode)
		}
	}
	require.True(t, found)
}

func TestAddDentryExtendsWhenNoSlackFits(t *testing.T) {
	fs := newTestFS(t)
	root := ReadInode(fs.Metadata, fs.IO, RootInode)
	blocksBefore := root.FileBlocksCount(fixtureBlockSize)

	// Pack the root block's slack with fixed-size entries (name "n000",
	// "n001", ...) until an insert no longer fits and forces a new block.
	extended := false
	for i := 0; i < 200 && !extended; i++ {
		AddDentry(fs.Metadata, fs.IO, root, newDirent(uint32(200+i), fmtName(i), DentryTypeRegular))
		if root.FileBlocksCount(fixtureBlockSize) > blocksBefore {
			extended = true
		}
	}
	require.True(t, extended, "expected a block extension once slack ran out")

	names := map[string]bool{}
	for _, d := range readAllDentries(t, fs.IO, root) {
		names[d.Name] = true
	}
	require.True(t, names["n000"])
}

func fmtName(i int) string {
	const digits = "0123456789"
	return "n" + string([]byte{digits[i/100%10], digits[i/10%10], digits[i%10]})
}

func TestRmDentryTombstonesAloneInBlock(t *testing.T) {
	fs := newTestFS(t)
	root := ReadInode(fs.Metadata, fs.IO, RootInode)
	blocksBefore := root.FileBlocksCount(fixtureBlockSize)

	// Fill the root block's slack until an insert forces a new block; the
	// entry that forced it is then the only record in that block.
	var soloID uint32
	var soloName string
	for i := 0; i < 200 && soloID == 0; i++ {
		id := uint32(300 + i)
		AddDentry(fs.Metadata, fs.IO, root, newDirent(id, fmtName(i), DentryTypeRegular))
		if root.FileBlocksCount(fixtureBlockSize) > blocksBefore {
			soloID, soloName = id, fmtName(i)
		}
	}
	require.NotZero(t, soloID, "expected a block extension once slack ran out")

	RmDentry(fs.IO, fs.DCache, root, RootInode, soloID)

	d, ok := NewDirCursor(fs.IO).GetDentry(root, uint64(fixtureBlockSize))
	require.True(t, ok)
	require.Zero(t, d.Inode, "a record alone in its block is tombstoned in place")
	require.Equal(t, uint16(fixtureBlockSize), d.RecLen)

	for _, e := range readAllDentries(t, fs.IO, root) {
		if e.Inode != 0 {
			require.NotEqual(t, soloName, e.Name)
		}
	}
}

func TestRmDentryCoalescesIntoPrevious(t *testing.T) {
	fs := newTestFS(t)
	root := ReadInode(fs.Metadata, fs.IO, RootInode)

	AddDentry(fs.Metadata, fs.IO, root, newDirent(105, "first", DentryTypeRegular))
	AddDentry(fs.Metadata, fs.IO, root, newDirent(106, "second", DentryTypeRegular))

	before := readAllDentries(t, fs.IO, root)
	var beforeRecLen uint16
	for _, d := range before {
		if d.Name == "first" {
			beforeRecLen = d.RecLen
		}
	}

	RmDentry(fs.IO, fs.DCache, root, RootInode, 106)

	var found bool
	for _, d := range readAllDentries(t, fs.IO, root) {
		if d.Name == "second" {
			t.Errorf("removed entry must not still be readable")
		}
		if d.Name == "first" {
			found = true
			require.Greater(t, d.RecLen, beforeRecLen, "the coalesced slack should grow \"first\"'s record")
		}
	}
	require.True(t, found)
}

func TestRmFileFreesInodeAndBlocks(t *testing.T) {
	fs := newTestFS(t)

	id := fs.Metadata.AllocInode()
	inode := &Inode{Mode: ModeRegular, LinksCount: 1}
	data := fs.Metadata.AllocSSDBlock()
	SetDataPblock(fs.Metadata, fs.IO, inode, 0, data)
	WriteInode(fs.Metadata, fs.IO, id, inode)

	freeInodesBefore := fs.Metadata.ssdGroups[0].FreeInodesCount
	freeBlocksBefore := fs.Metadata.ssdGroups[0].FreeBlocksCount

	RmFile(fs.Metadata, fs.IO, inode, id)

	require.Equal(t, freeInodesBefore+1, fs.Metadata.ssdGroups[0].FreeInodesCount)
	require.Equal(t, freeBlocksBefore+1, fs.Metadata.ssdGroups[0].FreeBlocksCount)
}

func TestRmDirRecursivelyFreesChildren(t *testing.T) {
	fs := newTestFS(t)

	require.NoError(t, fs.Mkdir("/sub", ModeDirectory))
	require.NoError(t, fs.Mknod("/sub/leaf", ModeRegular))

	freeInodesBefore := fs.Metadata.ssdGroups[0].FreeInodesCount
	freeBlocksBefore := fs.Metadata.ssdGroups[0].FreeBlocksCount

	subEntry := fs.resolveEntry("/sub")
	require.NotNil(t, subEntry)
	subInode := ReadInode(fs.Metadata, fs.IO, subEntry.InodeID)

	RmDir(fs.Metadata, fs.IO, fs.DCache, subInode, subEntry.InodeID)

	// the directory's own inode and data block, and the leaf's inode
	// (Mknod gives it no data block), are all reclaimed (§8 scenario S6).
	require.Greater(t, fs.Metadata.ssdGroups[0].FreeInodesCount, freeInodesBefore)
	require.Greater(t, fs.Metadata.ssdGroups[0].FreeBlocksCount, freeBlocksBefore)
}
