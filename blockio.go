package ext4

import (
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// BlockIO demultiplexes a 32-bit physical block id into positioned I/O
// against one of two backing files: the SSD image (metadata and hot
// data) or the HDD image (cold overflow data). Both tiers are opened
// read/write for the process lifetime; there is no block cache (§4.1,
// §5).
type BlockIO struct {
	ssd *os.File
	hdd *os.File

	// Shared-mode locks around the raw positioned syscalls, mirroring the
	// original DiskManager: every read and write takes a shared lock on
	// its tier, since pread/pwrite are already atomic at the syscall
	// level. Metadata.ssdAllocMu/hddAllocMu is the separate exclusive
	// lock guarding the allocation path end-to-end (§5, SPEC_FULL open
	// question #1) — it is NOT this lock.
	ssdMu sync.RWMutex
	hddMu sync.RWMutex

	blockSize uint32
}

// OpenBlockIO opens the two backing files read/write. The SSD file is
// assumed to be a pre-populated ext4 image; the HDD file may be blank
// and is initialized on first mount by Metadata.
func OpenBlockIO(ssdPath, hddPath string) (*BlockIO, error) {
	ssd, err := os.OpenFile(ssdPath, os.O_RDWR, 0)
	if err != nil {
		return nil, errWrapf(err, "open ssd image %q", ssdPath)
	}

	hdd, err := os.OpenFile(hddPath, os.O_RDWR, 0)
	if err != nil {
		ssd.Close()
		return nil, errWrapf(err, "open hdd image %q", hddPath)
	}

	return &BlockIO{ssd: ssd, hdd: hdd}, nil
}

// SetBlockSize records the block size parsed from the SSD superblock.
// It must be called once, before any tier-demultiplexed I/O, and is not
// safe to change afterwards.
func (b *BlockIO) SetBlockSize(n uint32) {
	b.blockSize = n
}

func (b *BlockIO) BlockSize() uint32 {
	return b.blockSize
}

func (b *BlockIO) Close() error {
	ssdErr := b.ssd.Close()
	hddErr := b.hdd.Close()
	if ssdErr != nil {
		return ssdErr
	}
	return hddErr
}

// MetadataRead is a byte-addressed SSD read: superblock, group
// descriptor table, inode table, and bitmap load/store all go through
// this, never through the tier-demultiplexed path.
func (b *BlockIO) MetadataRead(buf []byte, byteOffset int64) {
	b.ssdMu.RLock()
	defer b.ssdMu.RUnlock()
	fullPositionedIO(b.ssd, buf, byteOffset, false)
}

// MetadataWrite is MetadataRead's write counterpart.
func (b *BlockIO) MetadataWrite(buf []byte, byteOffset int64) {
	b.ssdMu.RLock()
	defer b.ssdMu.RUnlock()
	fullPositionedIO(b.ssd, buf, byteOffset, true)
}

// HDDMetaRead is MetadataRead's HDD-tier counterpart, used for the HDD
// superblock and descriptor table, which live outside the pblock
// encoding entirely (byte offset 0 on the HDD file).
func (b *BlockIO) HDDMetaRead(buf []byte, byteOffset int64) {
	b.hddMu.RLock()
	defer b.hddMu.RUnlock()
	fullPositionedIO(b.hdd, buf, byteOffset, false)
}

// HDDMetaWrite is HDDMetaRead's write counterpart.
func (b *BlockIO) HDDMetaWrite(buf []byte, byteOffset int64) {
	b.hddMu.RLock()
	defer b.hddMu.RUnlock()
	fullPositionedIO(b.hdd, buf, byteOffset, true)
}

// HDDFileSize stats the HDD backing file, the way fs_init.cc discovers
// the cold tier's byte length on first mount rather than trusting a
// value baked into the image.
func (b *BlockIO) HDDFileSize() (uint64, error) {
	info, err := b.hdd.Stat()
	if err != nil {
		return 0, errWrapf(err, "stat hdd image")
	}
	return uint64(info.Size()), nil
}

// Read performs a tier-demultiplexed positioned read: the tier flag is
// cleared, the low 31 bits are converted to pblock*blockSize+offset, and
// the result is issued against the matching backing file.
func (b *BlockIO) Read(buf []byte, pblock Pblock, intraBlockOffset uint32) {
	file, mu := b.fileFor(pblock)
	offset := int64(pblock.Index())*int64(b.blockSize) + int64(intraBlockOffset)

	mu.RLock()
	defer mu.RUnlock()
	fullPositionedIO(file, buf, offset, false)
}

// Write is Read's write counterpart.
func (b *BlockIO) Write(buf []byte, pblock Pblock, intraBlockOffset uint32) {
	file, mu := b.fileFor(pblock)
	offset := int64(pblock.Index())*int64(b.blockSize) + int64(intraBlockOffset)

	mu.RLock()
	defer mu.RUnlock()
	fullPositionedIO(file, buf, offset, true)
}

// BlockRead reads exactly one full block at pblock.
func (b *BlockIO) BlockRead(buf []byte, pblock Pblock) {
	fatalIf(uint32(len(buf)) != b.blockSize, nil, "block_read: buffer size %d != block size %d", len(buf), b.blockSize)
	b.Read(buf, pblock, 0)
}

// BlockWrite writes exactly one full block at pblock.
func (b *BlockIO) BlockWrite(buf []byte, pblock Pblock) {
	fatalIf(uint32(len(buf)) != b.blockSize, nil, "block_write: buffer size %d != block size %d", len(buf), b.blockSize)
	b.Write(buf, pblock, 0)
}

// ZeroBlock overwrites an entire block with zeroes, used by Metadata when
// freeing pblocks (§4.3: "zero the underlying block contents on disk").
func (b *BlockIO) ZeroBlock(pblock Pblock) {
	zero := make([]byte, b.blockSize)
	b.Write(zero, pblock, 0)
}

func (b *BlockIO) fileFor(p Pblock) (*os.File, *sync.RWMutex) {
	if p.Tier() == TierHDD {
		return b.hdd, &b.hddMu
	}
	return b.ssd, &b.ssdMu
}

// fullPositionedIO loops pread/pwrite until the whole buffer has been
// transferred. A short or failed transfer is an I/O error and therefore
// fatal (§7) — there is no retry and no partial-result contract, the way
// the original pread_wrapper in disk.cc never returns less than nbytes.
func fullPositionedIO(f *os.File, buf []byte, offset int64, write bool) {
	fd := int(f.Fd())
	remaining := buf
	for len(remaining) > 0 {
		var n int
		var err error
		if write {
			n, err = unix.Pwrite(fd, remaining, offset)
		} else {
			n, err = unix.Pread(fd, remaining, offset)
		}

		if err != nil {
			fatalf(err, "positioned I/O failed on fd %d at offset %d", fd, offset)
		}
		if n == 0 {
			fatalf(nil, "short positioned I/O on fd %d at offset %d: 0 bytes transferred with %d remaining", fd, offset, len(remaining))
		}

		remaining = remaining[n:]
		offset += int64(n)
	}
}
