package ext4

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"time"

	"encoding/binary"

	"github.com/google/uuid"

	log "github.com/dsoprea/go-logging"
)

const (
	Ext4Magic = 0xef53

	SuperblockSize = 1024

	// The first superblock is after the bootloader code.
	Superblock0Offset = int64(1024)

	// groupDescMinSize is the pre-64bit-feature group descriptor size;
	// used whenever a superblock reports SDescSize == 0.
	groupDescMinSize = 0x20
)

var (
	ErrNotExt4 = errors.New("not ext4")
)

const (
	SbStateCleanlyUnmounted      = 0x1
	SbStateErrorsDetected        = 0x2
	SbStateOrphansBeingRecovered = 0x4
)

const (
	SbErrorsContinue        = 0x1
	SbErrorsRemountReadonly = 0x2
	SbErrorsPanic           = 0x3
)

const (
	SbOsLinux   = 0x0
	SbOsHurd    = 0x1
	SbOsMasix   = 0x2
	SbOsFreebsd = 0x3
	SbOsLites   = 0x4
)

const (
	SbRevlevelGoodOldRev = 0x0
	SbRevlevelDynamicRev = 0x1
)

// Superblock is the SSD superblock, laid out exactly as produced by the
// standard ext4 formatter (mke2fs). It lives at a fixed absolute byte
// offset of 1024 on the SSD image (see fs/ext4/ext4.h upstream).
type Superblock struct {
	// 0x00
	SInodesCount       uint32
	SBlocksCountLo     uint32
	SRBlocksCountLo    uint32
	SFreeBlocksCountLo uint32

	// 0x10
	SFreeInodesCount uint32
	SFirstDataBlock  uint32
	SLogBlockSize    uint32
	SLogClusterSize  uint32

	// 0x20
	SBlocksPerGroup   uint32
	SClustersPerGroup uint32
	SInodesPerGroup   uint32
	SMtime            uint32

	// 0x30
	SWtime         uint32
	SMntCount      uint16
	SMaxMntCount   uint16
	SMagic         uint16
	SState         uint16
	SErrors        uint16
	SMinorRevLevel uint16

	// 0x40
	SLastcheck     uint32
	SCheckinterval uint32
	SCreatorOs     uint32
	SRevLevel      uint32

	// 0x50
	SDefResuid uint16
	SDefResgid uint16

	// The below is present only if (`HasExtended()` == true).

	SFirstIno      uint32 /* First non-reserved inode */
	SInodeSize     uint16 /* size of inode structure */
	SBlockGroupNr  uint16 /* block group # of this superblock */
	SFeatureCompat uint32 /* compatible feature set */

	// 0x60
	SFeatureIncompat uint32 /* incompatible feature set */
	SFeatureRoCompat uint32 /* readonly-compatible feature set */

	// 0x68
	SUuid [16]uint8 /* 128-bit uuid for volume */

	// 0x78
	SVolumeName [16]byte /* volume name */

	// 0x88
	SLastMounted [64]byte /* directory where last mounted */

	// 0xC8
	SAlgorithmUsageBitmap uint32 /* For compression */

	SPreallocBlocks    uint8  /* Nr of blocks to try to preallocate*/
	SPreallocDirBlocks uint8  /* Nr to preallocate for dirs */
	SReservedGdtBlocks uint16 /* Per group desc for online growth */

	// 0xD0
	SJournalUuid [16]uint8 /* uuid of journal superblock, unused: no journal */

	// 0xE0
	SJournalInum    uint32    /* unused: no journal */
	SJournalDev     uint32    /* unused: no journal */
	SLastOrphan     uint32    /* unused: no crash recovery */
	SHashSeed       [4]uint32 /* unused: no htree directories */
	SDefHashVersion uint8
	SJnlBackupType  uint8
	SDescSize       uint16 /* size of group descriptor */

	// 0x100
	SDefaultMountOpts uint32
	SFirstMetaBg      uint32     /* First metablock block group */
	SMkfsTime         uint32     /* When the filesystem was created */
	SJnlBlocks        [17]uint32 /* unused: no journal */

	// 0x150
	SBlocksCountHi     uint32 /* Blocks count */
	SRBlocksCountHi    uint32 /* Reserved blocks count */
	SFreeBlocksCountHi uint32 /* Free blocks count */
	SMinExtraIsize     uint16 /* All inodes have at least # bytes */
	SWantExtraIsize    uint16 /* New inodes should reserve # bytes */

	SFlags            uint32 /* Miscellaneous flags */
	SRaidStride       uint16 /* RAID stride */
	SMmpInterval      uint16 /* # seconds to wait in MMP checking */
	SMmpBlock         uint64 /* Block for multi-mount protection */
	SRaidStripeWidth  uint32 /* blocks on all data disks (N*stride)*/
	SLogGroupsPerFlex uint8  /* FLEX_BG group size */
	SChecksumType     uint8  /* metadata checksum algorithm used */
	SEncryptionLevel  uint8  /* versioning level for encryption */
	SReservedPad      uint8  /* Padding to next 32bits */
	SKbytesWritten    uint64 /* nr of lifetime kilobytes written */

	SSnapshotInum         uint32 /* unused: no snapshots */
	SSnapshotId           uint32
	SSnapshotRBlocksCount uint64
	SSnapshotList         uint32

	SErrorCount      uint32    /* number of fs errors */
	SFirstErrorTime  uint32    /* first time an error happened */
	SFirstErrorIno   uint32    /* inode involved in first error */
	SFirstErrorBlock uint64    /* block involved of first error */
	SFirstErrorFunc  [32]uint8 /* function where the error happened */
	SFirstErrorLine  uint32    /* line number where error happened */
	SLastErrorTime   uint32    /* most recent time of an error */
	SLastErrorIno    uint32    /* inode involved in last error */
	SLastErrorLine   uint32    /* line number where error happened */
	SLastErrorBlock  uint64    /* block involved of last error */
	SLastErrorFunc   [32]uint8 /* function where the error happened */

	SMountOpts        [64]uint8
	SUsrQuotaInum     uint32    /* unused: no quota */
	SGrpQuotaInum     uint32    /* unused: no quota */
	SOverheadClusters uint32    /* overhead blocks/clusters in fs */
	SBackupBgs        [2]uint32 /* groups with sparse_super2 SBs */
	SEncryptAlgos     [4]uint8  /* unused: no encryption */
	SEncryptPwSalt    [16]uint8 /* unused: no encryption */
	SLpfIno           uint32    /* Location of the lost+found inode */
	SPrjQuotaInum     uint32    /* unused: no quota */
	SChecksumSeed     uint32    /* crc32c(uuid) if csum_seed set */
	SWtimeHi          uint8
	SMtimeHi          uint8
	SMkfsTimeHi       uint8
	SLastcheckHi      uint8
	SFirstErrorTimeHi uint8
	SLastErrorTimeHi  uint8
	SPad              [2]uint8
	SReserved         [96]uint32 /* Padding to the end of the block */
	SChecksum         int32      /* crc32c(superblock) */
}

func (sb *Superblock) HasExtended() bool {
	return sb.SRevLevel >= SbRevlevelDynamicRev
}

// BlockSize is 2^(10 + s_log_block_size), the sole unit of I/O for both
// the metadata table and data blocks.
func (sb *Superblock) BlockSize() uint32 {
	return uint32(math.Pow(2, 10+float64(sb.SLogBlockSize)))
}

// GroupDescSize returns the on-disk size of one SSD group descriptor: a
// 32-byte minimum if SDescSize is unset, else the full 64-bit-capable
// descriptor size (§4.3).
func (sb *Superblock) GroupDescSize() uint32 {
	if sb.SDescSize == 0 {
		return groupDescMinSize
	}
	return uint32(sb.SDescSize)
}

// GroupsCount derives the number of SSD block groups from the total
// block count and blocks-per-group, rounding up and never returning 0.
func (sb *Superblock) GroupsCount() uint32 {
	if sb.SBlocksPerGroup == 0 {
		return 1
	}
	n := (sb.TotalBlocks() + uint64(sb.SBlocksPerGroup) - 1) / uint64(sb.SBlocksPerGroup)
	if n == 0 {
		return 1
	}
	return uint32(n)
}

// TotalBlocks is the 64-bit block count, composed the same way inode
// sizes are (low32 | high32<<32).
func (sb *Superblock) TotalBlocks() uint64 {
	return uint64(sb.SBlocksCountLo) | uint64(sb.SBlocksCountHi)<<32
}

func (sb *Superblock) MountTime() time.Time {
	return time.Unix(int64(sb.SMtime), 0)
}

func (sb *Superblock) WriteTime() time.Time {
	return time.Unix(int64(sb.SWtime), 0)
}

func (sb *Superblock) LastCheckTime() time.Time {
	return time.Unix(int64(sb.SLastcheck), 0)
}

func (sb *Superblock) HasCompatibleFeature(mask uint32) bool {
	return (sb.SFeatureCompat & mask) > 0
}

func (sb *Superblock) HasReadonlyCompatibleFeature(mask uint32) bool {
	return (sb.SFeatureRoCompat & mask) > 0
}

func (sb *Superblock) HasIncompatibleFeature(mask uint32) bool {
	return (sb.SFeatureIncompat & mask) > 0
}

// UUID exposes the raw 128-bit volume id as a uuid.UUID for diagnostics
// and the hybridfsctl inspect command.
func (sb *Superblock) UUID() uuid.UUID {
	var u uuid.UUID
	copy(u[:], sb.SUuid[:])
	return u
}

func (sb *Superblock) Dump() {
	fmt.Printf("Superblock Info\n\n")

	fmt.Printf("SInodesCount: (%d)\n", sb.SInodesCount)
	fmt.Printf("SBlocksCountLo: (%d)\n", sb.SBlocksCountLo)
	fmt.Printf("SRBlocksCountLo: (%d)\n", sb.SRBlocksCountLo)
	fmt.Printf("SFreeBlocksCountLo: (%d)\n", sb.SFreeBlocksCountLo)
	fmt.Printf("SFreeInodesCount: (%d)\n", sb.SFreeInodesCount)
	fmt.Printf("SFirstDataBlock: (%d)\n", sb.SFirstDataBlock)
	fmt.Printf("SLogBlockSize: (%d) => (%d)\n", sb.SLogBlockSize, sb.BlockSize())
	fmt.Printf("SLogClusterSize: (%d)\n", sb.SLogClusterSize)
	fmt.Printf("SBlocksPerGroup: (%d)\n", sb.SBlocksPerGroup)
	fmt.Printf("SClustersPerGroup: (%d)\n", sb.SClustersPerGroup)
	fmt.Printf("SInodesPerGroup: (%d)\n", sb.SInodesPerGroup)
	fmt.Printf("SMtime: [%s]\n", sb.MountTime())
	fmt.Printf("SWtime: [%s]\n", sb.WriteTime())
	fmt.Printf("SMntCount: (%d)\n", sb.SMntCount)
	fmt.Printf("SMaxMntCount: (%d)\n", sb.SMaxMntCount)
	fmt.Printf("SMagic: [%04x]\n", sb.SMagic)
	fmt.Printf("SState: (%04x)\n", sb.SState)
	fmt.Printf("SErrors: (%d)\n", sb.SErrors)
	fmt.Printf("SMinorRevLevel: (%d)\n", sb.SMinorRevLevel)
	fmt.Printf("SLastcheck: [%s]\n", sb.LastCheckTime())
	fmt.Printf("SCheckinterval: (%d)\n", sb.SCheckinterval)
	fmt.Printf("SCreatorOs: (%d)\n", sb.SCreatorOs)
	fmt.Printf("SRevLevel: (%d)\n", sb.SRevLevel)
	fmt.Printf("SDefResuid: (%d)\n", sb.SDefResuid)
	fmt.Printf("SDefResgid: (%d)\n", sb.SDefResgid)
	fmt.Printf("SUuid: [%s]\n", sb.UUID())
	fmt.Printf("GroupsCount: (%d)\n", sb.GroupsCount())
	fmt.Printf("GroupDescSize: (%d)\n", sb.GroupDescSize())

	fmt.Printf("\nFeature (Compatible)\n\n")
	for _, name := range SbFeatureCompatNames {
		bit := SbFeatureCompatLookup[name]
		fmt.Printf("  %15s (0x%02x): %v\n", name, bit, sb.HasCompatibleFeature(bit))
	}

	fmt.Printf("\nFeature (Read-Only Compatible)\n\n")
	for _, name := range SbFeatureRoCompatNames {
		bit := SbFeatureRoCompatLookup[name]
		fmt.Printf("  %15s (0x%02x): %v\n", name, bit, sb.HasReadonlyCompatibleFeature(bit))
	}

	fmt.Printf("\nFeature (Incompatible)\n\n")
	for _, name := range SbFeatureIncompatNames {
		bit := SbFeatureIncompatLookup[name]
		fmt.Printf("  %15s (0x%02x): %v\n", name, bit, sb.HasIncompatibleFeature(bit))
	}
	fmt.Printf("\n")
}

const (
	SbFeatureCompatDirPrealloc  = uint32(0x0001)
	SbFeatureCompatImagicInodes = uint32(0x0002)
	SbFeatureCompatHasJournal   = uint32(0x0004)
	SbFeatureCompatExtAttr      = uint32(0x0008)
	SbFeatureCompatResizeInode  = uint32(0x0010)
	SbFeatureCompatDirIndex     = uint32(0x0020)
)

var (
	SbFeatureCompatNames = []string{
		"DirIndex",
		"DirPrealloc",
		"ExtAttr",
		"HasJournal",
		"ImagicInodes",
		"ResizeInode",
	}

	SbFeatureCompatLookup = map[string]uint32{
		"DirPrealloc":  SbFeatureCompatDirPrealloc,
		"ImagicInodes": SbFeatureCompatImagicInodes,
		"HasJournal":   SbFeatureCompatHasJournal,
		"ExtAttr":      SbFeatureCompatExtAttr,
		"ResizeInode":  SbFeatureCompatResizeInode,
		"DirIndex":     SbFeatureCompatDirIndex,
	}
)

const (
	SbFeatureRoCompatSparseSuper = uint32(0x0001)
	SbFeatureRoCompatLargeFile   = uint32(0x0002)
	SbFeatureRoCompatBtreeDir    = uint32(0x0004)
	SbFeatureRoCompatHugeFile    = uint32(0x0008)
	SbFeatureRoCompatGdtCsum     = uint32(0x0010)
	SbFeatureRoCompatDirNlink    = uint32(0x0020)
	SbFeatureRoCompatExtraIsize  = uint32(0x0040)
)

var (
	SbFeatureRoCompatNames = []string{
		"BtreeDir",
		"DirNlink",
		"ExtraIsize",
		"GdtCsum",
		"HugeFile",
		"LargeFile",
		"SparseSuper",
	}

	SbFeatureRoCompatLookup = map[string]uint32{
		"SparseSuper": SbFeatureRoCompatSparseSuper,
		"LargeFile":   SbFeatureRoCompatLargeFile,
		"BtreeDir":    SbFeatureRoCompatBtreeDir,
		"HugeFile":    SbFeatureRoCompatHugeFile,
		"GdtCsum":     SbFeatureRoCompatGdtCsum,
		"DirNlink":    SbFeatureRoCompatDirNlink,
		"ExtraIsize":  SbFeatureRoCompatExtraIsize,
	}
)

const (
	SbFeatureIncompatCompression = uint32(0x0001)
	SbFeatureIncompatFiletype    = uint32(0x0002)
	SbFeatureIncompatRecover     = uint32(0x0004) /* Needs recovery */
	SbFeatureIncompatJournalDev  = uint32(0x0008) /* Journal device */
	SbFeatureIncompatMetaBg      = uint32(0x0010)
	SbFeatureIncompatExtents     = uint32(0x0040) /* extents support */
	SbFeatureIncompat64bit       = uint32(0x0080)
	SbFeatureIncompatMmp         = uint32(0x0100)
	SbFeatureIncompatFlexBg      = uint32(0x0200)
)

var (
	SbFeatureIncompatNames = []string{
		"64bit",
		"Compression",
		"Extents",
		"Filetype",
		"FlexBg",
		"JournalDev",
		"MetaBg",
		"Mmp",
		"Recover",
	}

	SbFeatureIncompatLookup = map[string]uint32{
		"Compression": SbFeatureIncompatCompression,
		"Filetype":    SbFeatureIncompatFiletype,
		"Recover":     SbFeatureIncompatRecover,
		"JournalDev":  SbFeatureIncompatJournalDev,
		"MetaBg":      SbFeatureIncompatMetaBg,
		"Extents":     SbFeatureIncompatExtents,
		"64bit":       SbFeatureIncompat64bit,
		"Mmp":         SbFeatureIncompatMmp,
		"FlexBg":      SbFeatureIncompatFlexBg,
	}
)

// ParseSuperblock decodes a Superblock from the exact bytes read from
// SSD byte offset 1024, the way hellin-go-ext4's ParseSuperblock does
// (binary.Read over a fixed struct, magic check, panic-and-wrap on
// failure — mount-time corruption is not a recoverable condition).
func ParseSuperblock(raw []byte) (sb *Superblock, err error) {
	defer func() {
		if state := recover(); state != nil {
			e, ok := state.(error)
			if !ok {
				e = fmt.Errorf("%v", state)
			}
			err = log.Wrap(e)
		}
	}()

	sb = new(Superblock)

	r := bytes.NewReader(raw)
	readErr := binary.Read(r, binary.LittleEndian, sb)
	log.PanicIf(readErr)

	if sb.SMagic != Ext4Magic {
		log.Panic(ErrNotExt4)
	}

	return sb, nil
}
