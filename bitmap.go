package ext4

import "encoding/binary"

// Bitmap is an in-memory view of exactly one block's worth of bits,
// addressed little-endian within 32-bit words: bit i lives in word
// i/32 at position i mod 32 (§4.2). All operations are in-memory;
// callers explicitly persist with Save.
//
// This stays a hand-rolled []uint32 buffer rather than wrapping
// github.com/bits-and-blooms/bitset (used for the same concern by
// trustelem/go-diskfs's go.mod) — see DESIGN.md for why that library's
// 64-bit word model couldn't be adopted without breaking the mandated
// on-disk bit layout.
type Bitmap struct {
	words []uint32
	io    *BlockIO
}

// NewBitmap allocates a bitmap buffer sized to exactly one block.
func NewBitmap(io *BlockIO) *Bitmap {
	blockSize := io.BlockSize()
	fatalIf(blockSize%4 != 0, nil, "block size %d is not a multiple of 4", blockSize)
	return &Bitmap{
		words: make([]uint32, blockSize/4),
		io:    io,
	}
}

// Size returns the number of addressable bits: block_size * 8.
func (bm *Bitmap) Size() uint32 {
	return uint32(len(bm.words)) * 32
}

func (bm *Bitmap) wordIndex(i uint32) (word, bit uint32) {
	fatalIf(i >= bm.Size(), nil, "bitmap index %d out of range (size %d)", i, bm.Size())
	return i / 32, i % 32
}

// Lookup reports whether bit i is set.
func (bm *Bitmap) Lookup(i uint32) bool {
	word, bit := bm.wordIndex(i)
	return bm.words[word]&(1<<bit) != 0
}

// Set sets bit i.
func (bm *Bitmap) Set(i uint32) {
	word, bit := bm.wordIndex(i)
	bm.words[word] |= 1 << bit
}

// Unset clears bit i.
func (bm *Bitmap) Unset(i uint32) {
	word, bit := bm.wordIndex(i)
	bm.words[word] &^= 1 << bit
}

// FirstClear scans from startBit (inclusive) for the first clear bit,
// returning (index, true), or (0, false) if none is found.
func (bm *Bitmap) FirstClear(startBit uint32) (uint32, bool) {
	for i := startBit; i < bm.Size(); i++ {
		if !bm.Lookup(i) {
			return i, true
		}
	}
	return 0, false
}

// Load reads the bitmap's backing block from pblock into the in-memory
// buffer, overwriting whatever was there.
func (bm *Bitmap) Load(pblock Pblock) {
	raw := make([]byte, len(bm.words)*4)
	bm.io.BlockRead(raw, pblock)
	for i := range bm.words {
		bm.words[i] = binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
	}
}

// Save persists the in-memory buffer to pblock.
func (bm *Bitmap) Save(pblock Pblock) {
	raw := make([]byte, len(bm.words)*4)
	for i, w := range bm.words {
		binary.LittleEndian.PutUint32(raw[i*4:i*4+4], w)
	}
	bm.io.BlockWrite(raw, pblock)
}
