package ext4

import "encoding/binary"

const (
	hddSuperblockSize = 16 // two uint64 fields
	hddGroupDescSize  = 16 // two uint64 fields
)

// HddSuperblock is the private 16-byte superblock living at HDD byte 0:
// the HDD file's total byte length and the number of cold-tier groups.
// A freshly opened HDD reports GroupCount == 0 and must be initialized
// by Metadata.initHDD (§3, §4.3, §6).
type HddSuperblock struct {
	FileSize   uint64
	GroupCount uint64
}

// HddGroupDescriptor is one cold-tier group's bookkeeping: its free-block
// count and the block index (within the HDD tier) of its bitmap block.
type HddGroupDescriptor struct {
	FreeBlocksCount uint64
	BitmapBlock     uint64
}

func decodeHddSuperblock(b []byte) *HddSuperblock {
	return &HddSuperblock{
		FileSize:   binary.LittleEndian.Uint64(b[0:8]),
		GroupCount: binary.LittleEndian.Uint64(b[8:16]),
	}
}

func (s *HddSuperblock) encode() []byte {
	b := make([]byte, hddSuperblockSize)
	binary.LittleEndian.PutUint64(b[0:8], s.FileSize)
	binary.LittleEndian.PutUint64(b[8:16], s.GroupCount)
	return b
}

func decodeHddGroupDescriptor(b []byte) *HddGroupDescriptor {
	return &HddGroupDescriptor{
		FreeBlocksCount: binary.LittleEndian.Uint64(b[0:8]),
		BitmapBlock:     binary.LittleEndian.Uint64(b[8:16]),
	}
}

func (gd *HddGroupDescriptor) encode() []byte {
	b := make([]byte, hddGroupDescSize)
	binary.LittleEndian.PutUint64(b[0:8], gd.FreeBlocksCount)
	binary.LittleEndian.PutUint64(b[8:16], gd.BitmapBlock)
	return b
}

func hddDescriptorTableOffset() int64 {
	return hddSuperblockSize
}

// hddLayout computes the cold-tier group geometry for a freshly opened
// HDD of the given byte size and block size: one bitmap block covers
// exactly blockSize*8 blocks, so groupSpan == blockSize*8 and groups ==
// fileSize / (blockSize^2 * 8), but never fewer than 1 (an image smaller
// than one full group still gets a single group). Group 0 additionally reserves the
// leading metadata region (the HDD superblock plus the descriptor
// array); every other group reserves only its own bitmap block.
type hddLayout struct {
	groupSpan      uint64 // blocks covered by one group (== blockSize*8)
	groupsCount    uint64
	metadataBytes  uint64
	metadataBlocks uint64
}

func computeHddLayout(fileSize uint64, blockSize uint32) hddLayout {
	bs := uint64(blockSize)
	groupSpan := bs * 8
	groupsCount := fileSize / (bs * bs * 8)
	if groupsCount == 0 {
		groupsCount = 1
	}

	metadataBytes := uint64(hddSuperblockSize) + groupsCount*hddGroupDescSize
	metadataBlocks := (metadataBytes + bs - 1) / bs

	return hddLayout{
		groupSpan:      groupSpan,
		groupsCount:    groupsCount,
		metadataBytes:  metadataBytes,
		metadataBlocks: metadataBlocks,
	}
}

// buildInitialHddGroups lays out each group's bitmap block and starting
// free-block count per the reservation rule above.
func buildInitialHddGroups(layout hddLayout, totalBlocks uint64) []HddGroupDescriptor {
	groups := make([]HddGroupDescriptor, layout.groupsCount)

	for i := uint64(0); i < layout.groupsCount; i++ {
		groupStart := i * layout.groupSpan
		groupEnd := groupStart + layout.groupSpan
		if groupEnd > totalBlocks {
			groupEnd = totalBlocks
		}

		var reserved uint64
		var bitmapBlock uint64
		if i == 0 {
			reserved = layout.metadataBlocks + 1
			bitmapBlock = layout.metadataBlocks
		} else {
			reserved = 1
			bitmapBlock = groupStart
		}

		span := uint64(0)
		if groupEnd > groupStart {
			span = groupEnd - groupStart
		}
		free := uint64(0)
		if span > reserved {
			free = span - reserved
		}

		groups[i] = HddGroupDescriptor{
			FreeBlocksCount: free,
			BitmapBlock:     bitmapBlock,
		}
	}

	return groups
}
