package ext4

import "strings"

// RootInode is the well-known root directory inode number, matching
// the ext4 convention the original's ROOT_INODE constant follows.
const RootInode = 2

// FileSystem is a mounted instance wiring every component together. It
// is passed by reference through every operation rather than reached
// via a global instance getter (spec.md §9: "process-wide singletons
// ... are an artifact, not a requirement").
type FileSystem struct {
	IO       *BlockIO
	Metadata *Metadata
	DCache   *DCache
}

// Mount opens both backing files, parses metadata, and seeds the
// DCache root, mirroring fs_init.cc's super_block_fill/gdt_fill/
// InodeManager.init() sequence.
func Mount(ssdPath, hddPath string, ssdMaxLblock uint32) (*FileSystem, error) {
	io, err := OpenBlockIO(ssdPath, hddPath)
	if err != nil {
		return nil, err
	}

	md, err := LoadMetadata(io, ssdMaxLblock)
	if err != nil {
		io.Close()
		return nil, err
	}

	dc := NewDCache()
	if err := dc.InitRoot(RootInode); err != nil {
		io.Close()
		return nil, err
	}

	return &FileSystem{IO: io, Metadata: md, DCache: dc}, nil
}

func (fs *FileSystem) Close() error {
	return fs.IO.Close()
}

// FileHandle is the caller-owned result of Open, carrying the
// resolved inode id the way fuse_file_info.fh does in the original.
type FileHandle struct {
	InodeID uint32
}

// Attr is the projected stat(2) view getattr exposes.
type Attr struct {
	Mode   uint16
	Nlink  uint16
	Size   uint64
	Blocks uint64
	Uid    uint16
	Gid    uint16
	Atime  uint32
	Mtime  uint32
	Ctime  uint32
}

func splitParent(path string) (parent, name string) {
	idx := strings.LastIndexByte(path, '/')
	if idx <= 0 {
		return "/", path[idx+1:]
	}
	return path[:idx], path[idx+1:]
}

// resolveEntry is get_idx_by_path translated verbatim from
// original_source/src/inode.cc: skip repeated '/', a zero-length
// trailing component means "stay put", '.'/'..' are handled without
// a cache lookup, a DCache hit advances directly, and a miss loads the
// current inode, requires it to be a directory, and caches every
// sibling found during a single linear scan before re-checking.
func (fs *FileSystem) resolveEntry(path string) *DCacheEntry {
	entry := fs.DCache.GetRoot()
	pos := 0

	for pos < len(path) {
		for pos < len(path) && path[pos] == '/' {
			pos++
		}

		start := pos
		for pos < len(path) && path[pos] != '/' {
			pos++
		}
		component := path[start:pos]

		if len(component) == 0 {
			break
		}

		if component == "." {
			continue
		}
		if component == ".." {
			entry = entry.Parent
			continue
		}

		if cached, ok := fs.DCache.Lookup(component, entry); ok {
			entry = cached
			continue
		}

		prefixInode := ReadInode(fs.Metadata, fs.IO, entry.InodeID)
		if !prefixInode.IsDirectory() {
			return nil
		}

		cursor := NewDirCursor(fs.IO)
		offset := uint64(0)
		for {
			d, ok := cursor.GetDentry(prefixInode, offset)
			if !ok {
				break
			}
			offset += uint64(d.RecLen)

			if d.Inode == 0 || d.Name == "." || d.Name == ".." {
				continue
			}
			fs.DCache.Insert(d.Name, d.Inode, entry)
		}

		cached, ok := fs.DCache.Lookup(component, entry)
		if !ok {
			return nil
		}
		entry = cached
	}

	return entry
}

// ResolveIdx resolves path to an inode id, or 0 on failure (§4.7).
func (fs *FileSystem) ResolveIdx(path string) uint32 {
	e := fs.resolveEntry(path)
	if e == nil {
		return 0
	}
	return e.InodeID
}

func attrFromInode(inode *Inode) *Attr {
	return &Attr{
		Mode:   inode.Mode,
		Nlink:  inode.LinksCount,
		Size:   inode.FileSize(),
		Blocks: inode.BlockCount(),
		Uid:    inode.Uid,
		Gid:    inode.Gid,
		Atime:  inode.Atime,
		Mtime:  inode.Mtime,
		Ctime:  inode.Ctime,
	}
}

// GetAttrByIdx projects stat fields from an already-resolved inode id.
func (fs *FileSystem) GetAttrByIdx(inodeID uint32) (*Attr, error) {
	if inodeID == 0 {
		return nil, ErrNotFound
	}
	inode := ReadInode(fs.Metadata, fs.IO, inodeID)
	return attrFromInode(inode), nil
}

// GetAttr resolves path and projects its stat fields (§4.7). Since
// permission enforcement is a non-goal, st_mode is reported as the raw
// on-disk mode, unlike the original's read-only-mode masking (that
// masking was an artifact of how that program was run, not a property
// this spec preserves).
func (fs *FileSystem) GetAttr(path string) (*Attr, error) {
	idx := fs.ResolveIdx(path)
	if idx == 0 {
		return nil, ErrNotFound
	}
	return fs.GetAttrByIdx(idx)
}

// Open resolves path and hands back a handle carrying the inode id.
func (fs *FileSystem) Open(path string) (*FileHandle, error) {
	idx := fs.ResolveIdx(path)
	if idx == 0 {
		return nil, ErrNotFound
	}
	return &FileHandle{InodeID: idx}, nil
}

func truncateReadSize(inode *Inode, size, offset uint64) uint64 {
	fileSize := inode.FileSize()
	if offset >= fileSize {
		return 0
	}
	if offset+size >= fileSize {
		return fileSize - offset
	}
	return size
}

// Read truncates the request against file size, handles an unaligned
// leading partial block, then loops full blocks, zero-filling holes
// without issuing a disk read for them (§4.7, §8 property 4).
func (fs *FileSystem) Read(fh *FileHandle, buf []byte, offset uint64) (int, error) {
	inode := ReadInode(fs.Metadata, fs.IO, fh.InodeID)
	blockSize := uint64(fs.IO.BlockSize())

	size := truncateReadSize(inode, uint64(len(buf)), offset)
	if size == 0 {
		return 0, nil
	}

	ret := uint64(0)
	startLblock := offset / blockSize
	startOff := offset % blockSize

	if startOff != 0 {
		firstSize := size
		endLblock := (offset + size - 1) / blockSize
		if startLblock != endLblock {
			firstSize = alignTo(offset, blockSize) - offset
		}

		pblock := GetDataPblock(fs.IO, inode, startLblock)
		if !pblock.IsHole() {
			fs.IO.Read(buf[:firstSize], pblock, uint32(startOff))
		}
		ret = firstSize
	}

	for lblock := (offset + ret) / blockSize; ret < size; lblock++ {
		pblock := GetDataPblock(fs.IO, inode, lblock)

		chunk := size - ret
		if chunk > blockSize {
			chunk = blockSize
		}

		if !pblock.IsHole() {
			fs.IO.Read(buf[ret:ret+chunk], pblock, 0)
		} else {
			for i := ret; i < ret+chunk; i++ {
				buf[i] = 0
			}
		}
		ret += chunk
	}

	return int(ret), nil
}

// Write mirrors Read's block-walking shape but allocates on hole
// encounter and persists the inode afterwards (§4.7).
func (fs *FileSystem) Write(fh *FileHandle, buf []byte, offset uint64) (int, error) {
	inode := ReadInode(fs.Metadata, fs.IO, fh.InodeID)
	blockSize := uint64(fs.IO.BlockSize())
	size := uint64(len(buf))

	ret := uint64(0)
	startLblock := offset / blockSize
	startOff := offset % blockSize

	if startOff != 0 && size > 0 {
		pblock := GetDataPblock(fs.IO, inode, startLblock)
		if pblock.IsHole() {
			pblock = fs.Metadata.AllocNewPblock(uint32(startLblock))
			SetDataPblock(fs.Metadata, fs.IO, inode, startLblock, pblock)
		}

		firstSize := size
		endLblock := (offset + size - 1) / blockSize
		if startLblock != endLblock {
			firstSize = alignTo(offset, blockSize) - offset
		}

		fs.IO.Write(buf[:firstSize], pblock, uint32(startOff))
		ret = firstSize
	}

	for lblock := (offset + ret) / blockSize; ret < size; lblock++ {
		pblock := GetDataPblock(fs.IO, inode, lblock)
		if pblock.IsHole() {
			pblock = fs.Metadata.AllocNewPblock(uint32(lblock))
			SetDataPblock(fs.Metadata, fs.IO, inode, lblock, pblock)
		}

		chunk := size - ret
		if chunk > blockSize {
			chunk = blockSize
		}

		fs.IO.Write(buf[ret:ret+chunk], pblock, 0)
		ret += chunk
	}

	if offset+size > inode.FileSize() {
		inode.SetFileSize(offset + size)
	}
	WriteInode(fs.Metadata, fs.IO, fh.InodeID, inode)

	return int(ret), nil
}

// Mkdir allocates a new directory inode, wires its "." and ".."
// entries, links it into the parent, and persists both inodes (§4.7).
func (fs *FileSystem) Mkdir(path string, mode uint16) error {
	parentPath, name := splitParent(path)
	if len(name) > MaxNameLen {
		return ErrNameTooLong
	}

	parentEntry := fs.resolveEntry(parentPath)
	if parentEntry == nil {
		return ErrNotFound
	}
	parentInode := ReadInode(fs.Metadata, fs.IO, parentEntry.InodeID)

	newID := fs.Metadata.AllocInode()
	newInode := &Inode{Mode: mode | ModeDirectory, LinksCount: 2}

	AddDentry(fs.Metadata, fs.IO, newInode, newDirent(newID, ".", DentryTypeDirectory))
	AddDentry(fs.Metadata, fs.IO, newInode, newDirent(parentEntry.InodeID, "..", DentryTypeDirectory))
	AddDentry(fs.Metadata, fs.IO, parentInode, newDirent(newID, name, DentryTypeDirectory))

	WriteInode(fs.Metadata, fs.IO, newID, newInode)
	WriteInode(fs.Metadata, fs.IO, parentEntry.InodeID, parentInode)

	fs.DCache.Insert(name, newID, parentEntry)
	return nil
}

// Mknod is Mkdir without "." / ".." entries, creating a regular file
// (file type 0x1) instead of a directory (§4.7).
func (fs *FileSystem) Mknod(path string, mode uint16) error {
	parentPath, name := splitParent(path)
	if len(name) > MaxNameLen {
		return ErrNameTooLong
	}

	parentEntry := fs.resolveEntry(parentPath)
	if parentEntry == nil {
		return ErrNotFound
	}
	parentInode := ReadInode(fs.Metadata, fs.IO, parentEntry.InodeID)

	newID := fs.Metadata.AllocInode()
	newInode := &Inode{Mode: mode, LinksCount: 1}

	AddDentry(fs.Metadata, fs.IO, parentInode, newDirent(newID, name, DentryTypeRegular))

	WriteInode(fs.Metadata, fs.IO, newID, newInode)
	WriteInode(fs.Metadata, fs.IO, parentEntry.InodeID, parentInode)

	fs.DCache.Insert(name, newID, parentEntry)
	return nil
}

// Rmdir resolves path, removes its entry from the parent, then
// recursively frees the target's contents (§4.7).
func (fs *FileSystem) Rmdir(path string) error {
	parentPath, _ := splitParent(path)

	parentEntry := fs.resolveEntry(parentPath)
	if parentEntry == nil {
		return ErrNotFound
	}
	targetEntry := fs.resolveEntry(path)
	if targetEntry == nil {
		return ErrNotFound
	}

	parentInode := ReadInode(fs.Metadata, fs.IO, parentEntry.InodeID)
	targetInode := ReadInode(fs.Metadata, fs.IO, targetEntry.InodeID)
	if !targetInode.IsDirectory() {
		return ErrNotDirectory
	}

	RmDentry(fs.IO, fs.DCache, parentInode, parentEntry.InodeID, targetEntry.InodeID)
	WriteInode(fs.Metadata, fs.IO, parentEntry.InodeID, parentInode)

	RmDir(fs.Metadata, fs.IO, fs.DCache, targetInode, targetEntry.InodeID)
	return nil
}

// Unlink resolves path, removes its entry from the parent, then frees
// the target file (§4.7).
func (fs *FileSystem) Unlink(path string) error {
	parentPath, _ := splitParent(path)

	parentEntry := fs.resolveEntry(parentPath)
	if parentEntry == nil {
		return ErrNotFound
	}
	targetEntry := fs.resolveEntry(path)
	if targetEntry == nil {
		return ErrNotFound
	}

	parentInode := ReadInode(fs.Metadata, fs.IO, parentEntry.InodeID)
	targetInode := ReadInode(fs.Metadata, fs.IO, targetEntry.InodeID)
	if targetInode.IsDirectory() {
		return ErrIsDirectory
	}

	RmDentry(fs.IO, fs.DCache, parentInode, parentEntry.InodeID, targetEntry.InodeID)
	WriteInode(fs.Metadata, fs.IO, parentEntry.InodeID, parentInode)

	RmFile(fs.Metadata, fs.IO, targetInode, targetEntry.InodeID)
	return nil
}

// DirFiller is called once per non-tombstone entry; returning false
// stops iteration early (saturation), matching the original's fuse
// filler-return-nonzero-to-stop convention.
type DirFiller func(name string, attr *Attr) bool

// Readdir iterates path's entries with a single reusable block-sized
// buffer, calling filler for each non-tombstone record (§4.7).
func (fs *FileSystem) Readdir(path string, filler DirFiller) error {
	idx := fs.ResolveIdx(path)
	if idx == 0 {
		return ErrNotFound
	}

	inode := ReadInode(fs.Metadata, fs.IO, idx)
	if !inode.IsDirectory() {
		return ErrNotDirectory
	}
	attr := attrFromInode(inode)

	cursor := NewDirCursor(fs.IO)
	offset := uint64(0)
	for {
		d, ok := cursor.GetDentry(inode, offset)
		if !ok {
			break
		}
		offset += uint64(d.RecLen)

		if d.Inode == 0 {
			continue
		}
		if !filler(d.Name, attr) {
			break
		}
	}

	return nil
}
