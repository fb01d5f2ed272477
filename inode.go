package ext4

import (
	"bytes"
	"encoding/binary"

	"github.com/lunixbochs/struc"
)

const (
	// InodeBlockSlots is the fixed i_block array length: 12 direct
	// slots plus single/double/triple indirect.
	InodeBlockSlots = 15

	ExtNdirBlocks = 12
	ExtIndBlock   = 12
	ExtDindBlock  = 13
	ExtTindBlock  = 14

	ModeDirectory = 0x4000
	ModeRegular   = 0x8000

	DentryTypeRegular   = 0x1
	DentryTypeDirectory = 0x2
)

// Inode is the fixed-layout on-disk inode record, decoded/encoded with
// struc (which maps these plain fixed-size fields in declaration order,
// so no struc tags are needed) rather than the hand-rolled binary.Read the superblock
// uses or the manual byte-offset copying the group descriptors use —
// a third technique for a third component, each grounded on a
// different pack member (masahiro331/go-ext4-filesystem for this one).
type Inode struct {
	Mode       uint16
	Uid        uint16
	SizeLo     uint32
	Atime      uint32
	Ctime      uint32
	Mtime      uint32
	Dtime      uint32
	Gid        uint16
	LinksCount uint16
	BlocksLo   uint32
	Flags      uint32
	Osd1       uint32
	Block      [InodeBlockSlots]uint32
	Generation uint32
	FileAclLo  uint32
	SizeHi     uint32
	ObsoFaddr  uint32
	Osd2       [12]byte
}

var strucOptions = &struc.Options{Order: binary.LittleEndian}

func (i *Inode) IsDirectory() bool {
	return i.Mode&0xF000 == ModeDirectory
}

func (i *Inode) IsRegular() bool {
	return i.Mode&0xF000 == ModeRegular
}

// FileSize composes the 64-bit size from the low/high halves (§4.4).
func (i *Inode) FileSize() uint64 {
	return uint64(i.SizeLo) | uint64(i.SizeHi)<<32
}

func (i *Inode) SetFileSize(size uint64) {
	i.SizeLo = uint32(size)
	i.SizeHi = uint32(size >> 32)
}

// BlockCount returns the number of 512-byte units allocated, the raw
// on-disk unit stat() expects in st_blocks.
func (i *Inode) BlockCount() uint64 {
	return uint64(i.BlocksLo)
}

// FileBlocksCount returns the number of logical data blocks currently
// accounted for, derived from the 512-byte unit count (§3: "actual
// blocks = i_blocks_lo / (block_size/512)").
func (i *Inode) FileBlocksCount(blockSize uint32) uint64 {
	sectorsPerBlock := uint64(blockSize / 512)
	return uint64(i.BlocksLo) / sectorsPerBlock
}

// SetFileBlocksCount is FileBlocksCount's setter, storing back in
// 512-byte units.
func (i *Inode) SetFileBlocksCount(blockSize uint32, blocks uint64) {
	sectorsPerBlock := uint64(blockSize / 512)
	i.BlocksLo = uint32(blocks * sectorsPerBlock)
}

func inMemoryInodeSize() int {
	n, err := struc.Sizeof(&Inode{})
	fatalIf(err != nil, err, "compute in-memory inode size")
	return n
}

// ReadInode decodes the inode at the 1-based inodeID using
// min(on-disk inode size, in-memory struct size) bytes, the way
// §4.4 requires.
func ReadInode(md *Metadata, io *BlockIO, inodeID uint32) *Inode {
	n := int(md.Superblock.SInodeSize)
	if mem := inMemoryInodeSize(); mem < n {
		n = mem
	}

	buf := make([]byte, n)
	io.MetadataRead(buf, md.InodeTableEntryOffset(inodeID))

	inode := &Inode{}
	err := struc.UnpackWithOptions(bytes.NewReader(buf), inode, strucOptions)
	fatalIf(err != nil, err, "decode inode %d", inodeID)
	return inode
}

// WriteInode is ReadInode's write counterpart.
func WriteInode(md *Metadata, io *BlockIO, inodeID uint32, inode *Inode) {
	n := int(md.Superblock.SInodeSize)
	if mem := inMemoryInodeSize(); mem < n {
		n = mem
	}

	var buf bytes.Buffer
	err := struc.PackWithOptions(&buf, inode, strucOptions)
	fatalIf(err != nil, err, "encode inode %d", inodeID)

	raw := buf.Bytes()
	if len(raw) > n {
		raw = raw[:n]
	}
	io.MetadataWrite(raw, md.InodeTableEntryOffset(inodeID))
}
