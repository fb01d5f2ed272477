package ext4

// dirent.go implements the variable-length directory record as an
// explicit encode/decode pair over a byte slice (spec.md §9: "best
// modeled... not a fixed-size struct with a tail array"), rather than
// struc tags or binary.Read, since the name field's length is only
// known at decode time.

const (
	dentryHeaderSize = 8 // inode(4) + rec_len(2) + name_len(1) + file_type(1)
	// MaxNameLen is the on-disk name length field's ceiling.
	MaxNameLen = 255
)

// Dirent is a decoded view of one directory record. Name is never
// indexed past NameLen; callers must not assume it is NUL-terminated.
type Dirent struct {
	Inode    uint32
	RecLen   uint16
	NameLen  uint8
	FileType uint8
	Name     string
}

// minRecLen is align4(8 + name_len), the smallest rec_len that can
// hold a record for the given name.
func minRecLen(nameLen int) uint16 {
	return uint16(alignTo(uint64(dentryHeaderSize+nameLen), 4))
}

func (d *Dirent) minRecLen() uint16 {
	return minRecLen(len(d.Name))
}

// IsTombstone reports whether this record's inode is 0 — ignored by
// listing, but still participating in slack calculation.
func (d *Dirent) IsTombstone() bool {
	return d.Inode == 0
}

// decodeDirent reads one record starting at buf[off:]. The caller is
// responsible for ensuring off+dentryHeaderSize <= len(buf).
func decodeDirent(buf []byte, off uint32) *Dirent {
	inode := leUint32(buf[off : off+4])
	recLen := uint16(buf[off+4]) | uint16(buf[off+5])<<8
	nameLen := buf[off+6]
	fileType := buf[off+7]

	name := ""
	if nameLen > 0 {
		nameStart := off + dentryHeaderSize
		name = string(buf[nameStart : nameStart+uint32(nameLen)])
	}

	return &Dirent{
		Inode:    inode,
		RecLen:   recLen,
		NameLen:  nameLen,
		FileType: fileType,
		Name:     name,
	}
}

// encodeDirent writes d's record into buf at off, zero-filling any
// slack between the name and the end of the record implied by RecLen.
func encodeDirent(buf []byte, off uint32, d *Dirent) {
	putLeUint32(buf[off:off+4], d.Inode)
	buf[off+4] = byte(d.RecLen)
	buf[off+5] = byte(d.RecLen >> 8)
	buf[off+6] = d.NameLen
	buf[off+7] = d.FileType

	nameStart := off + dentryHeaderSize
	nameEnd := nameStart + uint32(d.NameLen)
	copy(buf[nameStart:nameEnd], d.Name)
	for i := nameEnd; i < off+uint32(d.RecLen); i++ {
		buf[i] = 0
	}
}

func newDirent(inodeID uint32, name string, fileType uint8) *Dirent {
	d := &Dirent{
		Inode:    inodeID,
		NameLen:  uint8(len(name)),
		FileType: fileType,
		Name:     name,
	}
	d.RecLen = d.minRecLen()
	return d
}
