package ext4

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMetadataParsesPrebuiltGroups(t *testing.T) {
	fs := newTestFS(t)

	require.Equal(t, uint32(1), fs.Metadata.Superblock.GroupsCount())
	require.Equal(t, fixtureBlocksPerGroup-fixtureReservedBlocks, fs.Metadata.ssdGroups[0].FreeBlocksCount)
	require.Equal(t, fixtureInodesPerGroup-fixtureReservedInodes, fs.Metadata.ssdGroups[0].FreeInodesCount)
}

func TestLoadMetadataInitializesHDDOnFirstMount(t *testing.T) {
	fs := newTestFS(t)
	require.NotNil(t, fs.Metadata.hddSuper)
	require.Equal(t, fs.Metadata.hddSuper.GroupCount, uint64(len(fs.Metadata.hddGroups)))
}

func TestAllocSSDBlockSkipsReservedRegion(t *testing.T) {
	fs := newTestFS(t)

	p := fs.Metadata.AllocSSDBlock()
	require.Equal(t, TierSSD, p.Tier())
	require.Equal(t, uint32(fixtureReservedBlocks), p.Index())
}

func TestAllocSSDBlockAdvancesOnRepeatedCalls(t *testing.T) {
	fs := newTestFS(t)

	first := fs.Metadata.AllocSSDBlock()
	second := fs.Metadata.AllocSSDBlock()
	require.NotEqual(t, first, second)
	require.Equal(t, first.Index()+1, second.Index())
}

func TestAllocInodeSkipsReservedRange(t *testing.T) {
	fs := newTestFS(t)

	id := fs.Metadata.AllocInode()
	require.Equal(t, fixtureReservedInodes+1, id) // bit 11, 1-based
}

func TestAllocNewPblockRoutesByThreshold(t *testing.T) {
	fs := newTestFSWithThreshold(t, 1)

	ssd := fs.Metadata.AllocNewPblock(0)
	require.Equal(t, TierSSD, ssd.Tier())

	hdd := fs.Metadata.AllocNewPblock(1)
	require.Equal(t, TierHDD, hdd.Tier())
}

func TestFreeInodeIncrementsFreeCount(t *testing.T) {
	fs := newTestFS(t)

	before := fs.Metadata.ssdGroups[0].FreeInodesCount
	id := fs.Metadata.AllocInode()
	require.Equal(t, before-1, fs.Metadata.ssdGroups[0].FreeInodesCount)

	fs.Metadata.FreeInode(id)
	require.Equal(t, before, fs.Metadata.ssdGroups[0].FreeInodesCount)
}

func TestFreeBlocksZeroesAndReclaims(t *testing.T) {
	fs := newTestFS(t)

	p := fs.Metadata.AllocSSDBlock()
	buf := make([]byte, fixtureBlockSize)
	for i := range buf {
		buf[i] = 0x7e
	}
	fs.IO.BlockWrite(buf, p)

	beforeFree := fs.Metadata.ssdGroups[0].FreeBlocksCount
	fs.Metadata.FreeBlocks([]Pblock{p})
	require.Equal(t, beforeFree+1, fs.Metadata.ssdGroups[0].FreeBlocksCount)

	got := make([]byte, fixtureBlockSize)
	fs.IO.BlockRead(got, p)
	for _, b := range got {
		require.Zero(t, b)
	}

	realloc := fs.Metadata.AllocSSDBlock()
	require.Equal(t, p, realloc)
}

func TestAllocHDDBlockAvoidsReservedMetadataRegion(t *testing.T) {
	fs := newTestFS(t)

	gd := fs.Metadata.hddGroups[0]
	p := fs.Metadata.AllocHDDBlock()
	require.Equal(t, TierHDD, p.Tier())
	require.GreaterOrEqual(t, p.Index(), uint32(gd.BitmapBlock+1))
}
