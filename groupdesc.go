package ext4

import "encoding/binary"

// GroupDescriptor holds one SSD block group's bookkeeping: the absolute
// SSD block index of that group's block bitmap, inode bitmap, and inode
// table, plus free-block/free-inode counts. Descriptors sit immediately
// after the superblock, padded to the next block boundary (§3).
//
// Field layout and the 32/64-bit split follow the same byte offsets
// trustelem/go-diskfs's ext4 group descriptor uses, simplified to the
// subset this engine actually consults — no checksum field, since this
// engine never enables the GDT_CSUM/metadata_csum read-only features.
type GroupDescriptor struct {
	BlockBitmapLoc  uint64
	InodeBitmapLoc  uint64
	InodeTableLoc   uint64
	FreeBlocksCount uint32
	FreeInodesCount uint32
	UsedDirectories uint32
	is64bit         bool
}

const (
	groupDescSize32 = 0x20
	groupDescSize64 = 0x40
)

// groupDescriptorFromBytes decodes one descriptor record, byte-offset by
// byte-offset, the way groupDescriptorFromBytes in
// trustelem/go-diskfs's filesystem/ext4/groupdescriptors.go does.
func groupDescriptorFromBytes(b []byte, is64bit bool) *GroupDescriptor {
	gd := &GroupDescriptor{is64bit: is64bit}

	gd.BlockBitmapLoc = uint64(binary.LittleEndian.Uint32(b[0x0:0x4]))
	gd.InodeBitmapLoc = uint64(binary.LittleEndian.Uint32(b[0x4:0x8]))
	gd.InodeTableLoc = uint64(binary.LittleEndian.Uint32(b[0x8:0xc]))
	gd.FreeBlocksCount = uint32(binary.LittleEndian.Uint16(b[0xc:0xe]))
	gd.FreeInodesCount = uint32(binary.LittleEndian.Uint16(b[0xe:0x10]))
	gd.UsedDirectories = uint32(binary.LittleEndian.Uint16(b[0x10:0x12]))

	if is64bit && len(b) >= groupDescSize64 {
		gd.BlockBitmapLoc |= uint64(binary.LittleEndian.Uint32(b[0x20:0x24])) << 32
		gd.InodeBitmapLoc |= uint64(binary.LittleEndian.Uint32(b[0x24:0x28])) << 32
		gd.InodeTableLoc |= uint64(binary.LittleEndian.Uint32(b[0x28:0x2c])) << 32
		gd.FreeBlocksCount |= uint32(binary.LittleEndian.Uint16(b[0x2c:0x2e])) << 16
		gd.FreeInodesCount |= uint32(binary.LittleEndian.Uint16(b[0x2e:0x30])) << 16
		gd.UsedDirectories |= uint32(binary.LittleEndian.Uint16(b[0x30:0x32])) << 16
	}

	return gd
}

// toBytes serializes a descriptor back to its on-disk record, the inverse
// of groupDescriptorFromBytes.
func (gd *GroupDescriptor) toBytes(size uint32) []byte {
	b := make([]byte, size)

	binary.LittleEndian.PutUint32(b[0x0:0x4], uint32(gd.BlockBitmapLoc))
	binary.LittleEndian.PutUint32(b[0x4:0x8], uint32(gd.InodeBitmapLoc))
	binary.LittleEndian.PutUint32(b[0x8:0xc], uint32(gd.InodeTableLoc))
	binary.LittleEndian.PutUint16(b[0xc:0xe], uint16(gd.FreeBlocksCount))
	binary.LittleEndian.PutUint16(b[0xe:0x10], uint16(gd.FreeInodesCount))
	binary.LittleEndian.PutUint16(b[0x10:0x12], uint16(gd.UsedDirectories))

	if gd.is64bit && size >= groupDescSize64 {
		binary.LittleEndian.PutUint32(b[0x20:0x24], uint32(gd.BlockBitmapLoc>>32))
		binary.LittleEndian.PutUint32(b[0x24:0x28], uint32(gd.InodeBitmapLoc>>32))
		binary.LittleEndian.PutUint32(b[0x28:0x2c], uint32(gd.InodeTableLoc>>32))
		binary.LittleEndian.PutUint16(b[0x2c:0x2e], uint16(gd.FreeBlocksCount>>16))
		binary.LittleEndian.PutUint16(b[0x2e:0x30], uint16(gd.FreeInodesCount>>16))
		binary.LittleEndian.PutUint16(b[0x30:0x32], uint16(gd.UsedDirectories>>16))
	}

	return b
}
