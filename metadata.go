package ext4

import (
	"sync"

	"golang.org/x/sync/errgroup"
)

// Metadata is the process-wide, shared metadata manager: the SSD
// superblock and group descriptor table, the HDD superblock and
// descriptor table, and the allocation/free paths for both tiers.
// There is exactly one Metadata per mounted FileSystem (§4.3, §9 —
// "pass a filesystem handle by reference", not a global instance
// getter the way the original MetaDataManager does it).
type Metadata struct {
	io *BlockIO

	Superblock *Superblock
	ssdGroups  []*GroupDescriptor
	is64bit    bool

	hddSuper     *HddSuperblock
	hddGroups    []*HddGroupDescriptor
	hddGroupSpan uint64

	// ssdMaxLblock is the tier-routing threshold: logical blocks below
	// it allocate on SSD, at or above it allocate on HDD (§3, §4.3).
	ssdMaxLblock uint32

	// Two independent per-tier exclusive locks guard the entire
	// scan->bit->descriptor->persist sequence for both allocation and
	// free, fixing the shared-lock race the original design tolerates
	// (spec §5, §9). These are distinct from BlockIO's own shared-mode
	// positioned-I/O locks.
	ssdAllocMu sync.Mutex
	hddAllocMu sync.Mutex

	// Lazily-populated per-group bitmap caches. SSD carries two
	// independent maps (block bitmaps, inode bitmaps); HDD carries one.
	// Keeping these as two separate maps per tier, rather than one
	// shared slice indexed carelessly, is the fix for the index
	// confusion named in spec §9.
	ssdBlockBitmaps map[uint32]*Bitmap
	ssdInodeBitmaps map[uint32]*Bitmap
	hddBlockBitmaps map[uint32]*Bitmap
}

// LoadMetadata parses the SSD superblock and descriptor table, then
// either loads an existing HDD descriptor table or initializes a fresh
// one if the HDD reports a zero group count (§4.3, §6).
func LoadMetadata(io *BlockIO, ssdMaxLblock uint32) (*Metadata, error) {
	raw := make([]byte, SuperblockSize)
	io.MetadataRead(raw, Superblock0Offset)

	sb, err := ParseSuperblock(raw)
	if err != nil {
		return nil, errWrapf(err, "parse ssd superblock")
	}
	io.SetBlockSize(sb.BlockSize())

	m := &Metadata{
		io:              io,
		Superblock:      sb,
		is64bit:         sb.HasIncompatibleFeature(SbFeatureIncompat64bit),
		ssdMaxLblock:    ssdMaxLblock,
		ssdBlockBitmaps: make(map[uint32]*Bitmap),
		ssdInodeBitmaps: make(map[uint32]*Bitmap),
		hddBlockBitmaps: make(map[uint32]*Bitmap),
	}

	if err := m.loadSSDGroups(); err != nil {
		return nil, err
	}
	if err := m.loadOrInitHDD(); err != nil {
		return nil, err
	}

	return m, nil
}

func alignTo(x, to uint64) uint64 {
	return (x + to - 1) / to * to
}

// GdtTableEntryOffset is the absolute SSD byte offset of group g's
// descriptor record.
func (m *Metadata) GdtTableEntryOffset(group uint32) int64 {
	base := alignTo(uint64(Superblock0Offset)+uint64(SuperblockSize), uint64(m.Superblock.BlockSize()))
	return int64(base) + int64(group)*int64(m.Superblock.GroupDescSize())
}

// InodeTableEntryOffset is the absolute SSD byte offset of inode id's
// on-disk record.
func (m *Metadata) InodeTableEntryOffset(inodeID uint32) int64 {
	perGroup := m.Superblock.SInodesPerGroup
	group := (inodeID - 1) / perGroup
	within := (inodeID - 1) % perGroup
	gd := m.ssdGroups[group]
	return int64(gd.InodeTableLoc)*int64(m.Superblock.BlockSize()) + int64(within)*int64(m.Superblock.SInodeSize)
}

func (m *Metadata) loadSSDGroups() error {
	count := m.Superblock.GroupsCount()
	descSize := m.Superblock.GroupDescSize()
	m.ssdGroups = make([]*GroupDescriptor, count)

	for g := uint32(0); g < count; g++ {
		buf := make([]byte, descSize)
		m.io.MetadataRead(buf, m.GdtTableEntryOffset(g))
		m.ssdGroups[g] = groupDescriptorFromBytes(buf, m.is64bit)
	}
	return nil
}

func (m *Metadata) persistSSDGroupDesc(group uint32) {
	gd := m.ssdGroups[group]
	m.io.MetadataWrite(gd.toBytes(m.Superblock.GroupDescSize()), m.GdtTableEntryOffset(group))
}

func (m *Metadata) loadOrInitHDD() error {
	raw := make([]byte, hddSuperblockSize)
	m.io.HDDMetaRead(raw, 0)
	hddSuper := decodeHddSuperblock(raw)

	if hddSuper.GroupCount == 0 {
		return m.initHDD()
	}

	m.hddSuper = hddSuper
	m.hddGroupSpan = uint64(m.Superblock.BlockSize()) * 8

	m.hddGroups = make([]*HddGroupDescriptor, hddSuper.GroupCount)
	descBuf := make([]byte, hddSuper.GroupCount*hddGroupDescSize)
	m.io.HDDMetaRead(descBuf, hddDescriptorTableOffset())
	for g := uint64(0); g < hddSuper.GroupCount; g++ {
		off := g * hddGroupDescSize
		m.hddGroups[g] = decodeHddGroupDescriptor(descBuf[off : off+hddGroupDescSize])
	}
	return nil
}

// initHDD formats a blank HDD image: discovers its byte length via
// stat, derives group geometry, and persists the fresh superblock plus
// descriptor table (§4.3, §6).
func (m *Metadata) initHDD() error {
	fileSize, err := m.io.HDDFileSize()
	if err != nil {
		return err
	}

	layout := computeHddLayout(fileSize, m.Superblock.BlockSize())
	totalBlocks := fileSize / uint64(m.Superblock.BlockSize())
	groups := buildInitialHddGroups(layout, totalBlocks)

	m.hddSuper = &HddSuperblock{FileSize: fileSize, GroupCount: layout.groupsCount}
	m.hddGroupSpan = layout.groupSpan
	m.hddGroups = make([]*HddGroupDescriptor, len(groups))
	for i := range groups {
		g := groups[i]
		m.hddGroups[i] = &g
	}

	m.persistHDDSuperblock()
	m.persistHDDGroupTable()

	// Each group's own reserved prefix (the metadata region for group 0,
	// the bitmap block itself for every other group) must be marked used
	// in its bitmap before any allocation happens, or AllocHDDBlock would
	// hand out a pblock that collides with that reserved region.
	for gid, gd := range m.hddGroups {
		bm := NewBitmap(m.io)
		reserved := uint32(1)
		if gid == 0 {
			reserved = uint32(layout.metadataBlocks + 1)
		}
		for bit := uint32(0); bit < reserved; bit++ {
			bm.Set(bit)
		}
		bm.Save(NewPblock(TierHDD, uint32(gd.BitmapBlock)))
		m.hddBlockBitmaps[uint32(gid)] = bm
	}

	logger.Debugf(nil, "initialized hdd tier: %d groups over %d bytes", layout.groupsCount, fileSize)
	return nil
}

func (m *Metadata) persistHDDSuperblock() {
	m.io.HDDMetaWrite(m.hddSuper.encode(), 0)
}

func (m *Metadata) persistHDDGroupTable() {
	buf := make([]byte, len(m.hddGroups)*hddGroupDescSize)
	for i, gd := range m.hddGroups {
		copy(buf[i*hddGroupDescSize:(i+1)*hddGroupDescSize], gd.encode())
	}
	m.io.HDDMetaWrite(buf, hddDescriptorTableOffset())
}

func (m *Metadata) loadSSDBlockBitmap(group uint32) *Bitmap {
	if bm, ok := m.ssdBlockBitmaps[group]; ok {
		return bm
	}
	bm := NewBitmap(m.io)
	bm.Load(NewPblock(TierSSD, uint32(m.ssdGroups[group].BlockBitmapLoc)))
	m.ssdBlockBitmaps[group] = bm
	return bm
}

func (m *Metadata) loadSSDInodeBitmap(group uint32) *Bitmap {
	if bm, ok := m.ssdInodeBitmaps[group]; ok {
		return bm
	}
	bm := NewBitmap(m.io)
	bm.Load(NewPblock(TierSSD, uint32(m.ssdGroups[group].InodeBitmapLoc)))
	m.ssdInodeBitmaps[group] = bm
	return bm
}

func (m *Metadata) loadHDDBlockBitmap(group uint32) *Bitmap {
	if bm, ok := m.hddBlockBitmaps[group]; ok {
		return bm
	}
	bm := NewBitmap(m.io)
	bm.Load(NewPblock(TierHDD, uint32(m.hddGroups[group].BitmapBlock)))
	m.hddBlockBitmaps[group] = bm
	return bm
}

// AllocSSDBlock scans SSD groups in order for the first with a nonzero
// free-block count, sets the first clear bit in its bitmap (skipping
// bit 0 in group 0), and persists the bitmap and descriptor before
// returning the new pblock. No free block anywhere is fatal (§4.3,
// §7).
func (m *Metadata) AllocSSDBlock() Pblock {
	m.ssdAllocMu.Lock()
	defer m.ssdAllocMu.Unlock()

	for gid := uint32(0); gid < uint32(len(m.ssdGroups)); gid++ {
		gd := m.ssdGroups[gid]
		if gd.FreeBlocksCount == 0 {
			continue
		}

		bm := m.loadSSDBlockBitmap(gid)
		start := uint32(0)
		if gid == 0 {
			start = 1
		}

		idx, ok := bm.FirstClear(start)
		if !ok {
			continue
		}

		bm.Set(idx)
		bm.Save(NewPblock(TierSSD, uint32(gd.BlockBitmapLoc)))
		gd.FreeBlocksCount--
		m.persistSSDGroupDesc(gid)

		return NewPblock(TierSSD, gid*m.Superblock.SBlocksPerGroup+idx)
	}

	fatalf(nil, "ssd tier exhausted: no group has a free block")
	return 0
}

// AllocHDDBlock is AllocSSDBlock's cold-tier counterpart: the same
// scan, with no reserved bit 0 in group 0 (the HDD tier carries no
// reserved inodes).
func (m *Metadata) AllocHDDBlock() Pblock {
	m.hddAllocMu.Lock()
	defer m.hddAllocMu.Unlock()

	for gid := uint32(0); gid < uint32(len(m.hddGroups)); gid++ {
		gd := m.hddGroups[gid]
		if gd.FreeBlocksCount == 0 {
			continue
		}

		bm := m.loadHDDBlockBitmap(gid)
		idx, ok := bm.FirstClear(0)
		if !ok {
			continue
		}

		bm.Set(idx)
		bm.Save(NewPblock(TierHDD, uint32(gd.BitmapBlock)))
		gd.FreeBlocksCount--
		m.persistHDDGroupTable()

		return NewPblock(TierHDD, uint32(uint64(gid)*m.hddGroupSpan+uint64(idx)))
	}

	fatalf(nil, "hdd tier exhausted: no group has a free block")
	return 0
}

// AllocNewPblock is the sole tier-placement policy (§3, §8 property
// 3): data logical blocks below ssdMaxLblock land on SSD, at or above
// land on HDD. Index blocks bypass this entirely and always call
// AllocSSDBlock directly.
func (m *Metadata) AllocNewPblock(lblock uint32) Pblock {
	if lblock < m.ssdMaxLblock {
		return m.AllocSSDBlock()
	}
	return m.AllocHDDBlock()
}

// AllocInode scans SSD groups' inode bitmaps, starting at bit 11 in
// group 0, so inodes 1-11 (bits 0-10) are never handed out. Inode
// numbers returned are 1-based.
func (m *Metadata) AllocInode() uint32 {
	m.ssdAllocMu.Lock()
	defer m.ssdAllocMu.Unlock()

	for gid := uint32(0); gid < uint32(len(m.ssdGroups)); gid++ {
		gd := m.ssdGroups[gid]
		if gd.FreeInodesCount == 0 {
			continue
		}

		bm := m.loadSSDInodeBitmap(gid)
		start := uint32(0)
		if gid == 0 {
			start = 11
		}

		idx, ok := bm.FirstClear(start)
		if !ok {
			continue
		}

		bm.Set(idx)
		bm.Save(NewPblock(TierSSD, uint32(gd.InodeBitmapLoc)))
		gd.FreeInodesCount--
		m.persistSSDGroupDesc(gid)

		return gid*m.Superblock.SInodesPerGroup + idx + 1
	}

	fatalf(nil, "no free inodes")
	return 0
}

// FreeInode clears inodeID's bit and increments the descriptor's free
// count — the fix for the decrement bug spec.md §9 calls out.
func (m *Metadata) FreeInode(inodeID uint32) {
	m.ssdAllocMu.Lock()
	defer m.ssdAllocMu.Unlock()

	perGroup := m.Superblock.SInodesPerGroup
	group := (inodeID - 1) / perGroup
	bit := (inodeID - 1) % perGroup

	gd := m.ssdGroups[group]
	bm := m.loadSSDInodeBitmap(group)
	bm.Unset(bit)
	bm.Save(NewPblock(TierSSD, uint32(gd.InodeBitmapLoc)))
	gd.FreeInodesCount++
	m.persistSSDGroupDesc(group)
}

// FreeBlocks frees a batch of pblocks (§4.4's collect_file_pblock*
// family feeds exactly this): every block is zeroed concurrently via
// errgroup, one goroutine per block (BlockIO's per-tier locks are taken
// in shared mode, so they do not serialize these writes), then the affected
// bitmaps are updated in memory, each dirtied SSD descriptor is
// persisted individually, and the HDD descriptor table is persisted
// once as a single contiguous write.
func (m *Metadata) FreeBlocks(pblocks []Pblock) {
	if len(pblocks) == 0 {
		return
	}

	var eg errgroup.Group
	for _, p := range pblocks {
		p := p
		eg.Go(func() error {
			m.io.ZeroBlock(p)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		fatalf(err, "zeroing freed blocks")
	}

	m.ssdAllocMu.Lock()
	m.hddAllocMu.Lock()
	defer m.ssdAllocMu.Unlock()
	defer m.hddAllocMu.Unlock()

	ssdDirty := make(map[uint32]bool)
	hddDirty := false

	for _, p := range pblocks {
		if p.Tier() == TierSSD {
			gid := p.Index() / m.Superblock.SBlocksPerGroup
			bit := p.Index() % m.Superblock.SBlocksPerGroup
			bm := m.loadSSDBlockBitmap(gid)
			bm.Unset(bit)
			m.ssdGroups[gid].FreeBlocksCount++
			ssdDirty[gid] = true
		} else {
			gid := uint32(uint64(p.Index()) / m.hddGroupSpan)
			bit := uint32(uint64(p.Index()) % m.hddGroupSpan)
			bm := m.loadHDDBlockBitmap(gid)
			bm.Unset(bit)
			m.hddGroups[gid].FreeBlocksCount++
			hddDirty = true
		}
	}

	for gid := range ssdDirty {
		bm := m.ssdBlockBitmaps[gid]
		bm.Save(NewPblock(TierSSD, uint32(m.ssdGroups[gid].BlockBitmapLoc)))
		m.persistSSDGroupDesc(gid)
	}
	if hddDirty {
		for gid, bm := range m.hddBlockBitmaps {
			bm.Save(NewPblock(TierHDD, uint32(m.hddGroups[gid].BitmapBlock)))
		}
		m.persistHDDGroupTable()
	}
}
