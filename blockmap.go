package ext4

// blockmap.go implements the logical-to-physical block map: direct
// slots plus single/double/triple indirect index blocks, lazy SSD-only
// index materialization, and the post-order block collection that
// feeds deletion. Grounded directly on original_source/src/inode_datablock.cc,
// the two-tier-aware revision spec.md §4.4 describes (the single-tier
// inode.cc is an earlier revision kept only for the path-resolution
// algorithm it shares with fs.go).

// indexEntriesPerBlock is N = block_size/4, the fan-out of one index
// block.
func indexEntriesPerBlock(blockSize uint32) uint32 {
	return blockSize / 4
}

// indirectCaps returns the three "beyond" thresholds used to route a
// logical block to its direct/indirect/double-indirect/triple-indirect
// region (§4.4).
func indirectCaps(blockSize uint32) (maxInd, maxDind, maxTind uint64) {
	n := uint64(indexEntriesPerBlock(blockSize))
	maxInd = ExtNdirBlocks + n
	maxDind = maxInd + n*n
	maxTind = maxDind + n*n*n
	return
}

// GetDataPblock resolves lblock to a physical block id, returning the
// hole pblock (0) at any unset index-block slot (§4.4).
func GetDataPblock(io *BlockIO, inode *Inode, lblock uint64) Pblock {
	blockSize := io.BlockSize()
	maxInd, maxDind, maxTind := indirectCaps(blockSize)

	switch {
	case lblock < ExtNdirBlocks:
		return Pblock(inode.Block[lblock])
	case lblock < maxInd:
		return getDataPblockInd(io, lblock-ExtNdirBlocks, Pblock(inode.Block[ExtIndBlock]))
	case lblock < maxDind:
		return getDataPblockDind(io, lblock-maxInd, Pblock(inode.Block[ExtDindBlock]), blockSize)
	case lblock < maxTind:
		return getDataPblockTind(io, lblock-maxDind, Pblock(inode.Block[ExtTindBlock]), blockSize)
	default:
		fatalf(nil, "logical block %d exceeds triple-indirect capacity", lblock)
		return 0
	}
}

func getDataPblockInd(io *BlockIO, lblock uint64, indexPblock Pblock) Pblock {
	if indexPblock.IsHole() {
		return 0
	}
	var buf [4]byte
	io.Read(buf[:], indexPblock, uint32(lblock*4))
	return Pblock(leUint32(buf[:]))
}

func getDataPblockDind(io *BlockIO, lblock uint64, dindexPblock Pblock, blockSize uint32) Pblock {
	if dindexPblock.IsHole() {
		return 0
	}
	n := uint64(indexEntriesPerBlock(blockSize))

	var buf [4]byte
	io.Read(buf[:], dindexPblock, uint32((lblock/n)*4))
	indexPblock := Pblock(leUint32(buf[:]))

	return getDataPblockInd(io, lblock%n, indexPblock)
}

func getDataPblockTind(io *BlockIO, lblock uint64, tindexPblock Pblock, blockSize uint32) Pblock {
	if tindexPblock.IsHole() {
		return 0
	}
	n := uint64(indexEntriesPerBlock(blockSize))
	nSquared := n * n

	var buf [4]byte
	io.Read(buf[:], tindexPblock, uint32((lblock/nSquared)*4))
	dindexPblock := Pblock(leUint32(buf[:]))

	return getDataPblockDind(io, lblock%nSquared, dindexPblock, blockSize)
}

// SetDataPblock materializes the logical-to-physical mapping for
// lblock, allocating any missing index block from SSD along the way,
// and bumps the inode's block count if this extends the file (§4.4).
func SetDataPblock(md *Metadata, io *BlockIO, inode *Inode, lblock uint64, pblock Pblock) {
	blockSize := io.BlockSize()
	maxInd, maxDind, maxTind := indirectCaps(blockSize)

	switch {
	case lblock < ExtNdirBlocks:
		inode.Block[lblock] = uint32(pblock)
	case lblock < maxInd:
		indexPblock := Pblock(inode.Block[ExtIndBlock])
		if indexPblock.IsHole() {
			indexPblock = md.AllocSSDBlock()
			inode.Block[ExtIndBlock] = uint32(indexPblock)
		}
		setDataLblockInd(io, lblock-ExtNdirBlocks, indexPblock, pblock)
	case lblock < maxDind:
		dindexPblock := Pblock(inode.Block[ExtDindBlock])
		if dindexPblock.IsHole() {
			dindexPblock = md.AllocSSDBlock()
			inode.Block[ExtDindBlock] = uint32(dindexPblock)
		}
		setDataLblockDind(md, io, lblock-maxInd, dindexPblock, pblock, blockSize)
	case lblock < maxTind:
		tindexPblock := Pblock(inode.Block[ExtTindBlock])
		if tindexPblock.IsHole() {
			tindexPblock = md.AllocSSDBlock()
			inode.Block[ExtTindBlock] = uint32(tindexPblock)
		}
		setDataLblockTind(md, io, lblock-maxDind, tindexPblock, pblock, blockSize)
	default:
		fatalf(nil, "logical block %d exceeds triple-indirect capacity", lblock)
	}

	if lblock+1 > inode.FileBlocksCount(blockSize) {
		inode.SetFileBlocksCount(blockSize, lblock+1)
	}
}

func setDataLblockInd(io *BlockIO, lblock uint64, indexPblock, pblock Pblock) {
	var buf [4]byte
	putLeUint32(buf[:], uint32(pblock))
	io.Write(buf[:], indexPblock, uint32(lblock*4))
}

func setDataLblockDind(md *Metadata, io *BlockIO, lblock uint64, dindexPblock, pblock Pblock, blockSize uint32) {
	n := uint64(indexEntriesPerBlock(blockSize))
	slotOffset := uint32((lblock / n) * 4)

	var buf [4]byte
	io.Read(buf[:], dindexPblock, slotOffset)
	indexPblock := Pblock(leUint32(buf[:]))

	if indexPblock.IsHole() {
		indexPblock = md.AllocSSDBlock()
		putLeUint32(buf[:], uint32(indexPblock))
		io.Write(buf[:], dindexPblock, slotOffset)
	}

	setDataLblockInd(io, lblock%n, indexPblock, pblock)
}

func setDataLblockTind(md *Metadata, io *BlockIO, lblock uint64, tindexPblock, pblock Pblock, blockSize uint32) {
	n := uint64(indexEntriesPerBlock(blockSize))
	nSquared := n * n
	slotOffset := uint32((lblock / nSquared) * 4)

	var buf [4]byte
	io.Read(buf[:], tindexPblock, slotOffset)
	dindexPblock := Pblock(leUint32(buf[:]))

	if dindexPblock.IsHole() {
		dindexPblock = md.AllocSSDBlock()
		putLeUint32(buf[:], uint32(dindexPblock))
		io.Write(buf[:], tindexPblock, slotOffset)
	}

	setDataLblockDind(md, io, lblock%nSquared, dindexPblock, pblock, blockSize)
}

// CollectFilePblocks walks direct slots then recurses into each
// indirect tree depth, appending every non-zero data pblock and then
// each index pblock itself post-order. The result feeds Metadata.FreeBlocks.
func CollectFilePblocks(io *BlockIO, inode *Inode) []Pblock {
	var out []Pblock

	for _, b := range inode.Block[:ExtNdirBlocks] {
		if b != 0 {
			out = append(out, Pblock(b))
		}
	}

	if ind := Pblock(inode.Block[ExtIndBlock]); !ind.IsHole() {
		out = collectInd(io, ind, out)
	}
	if dind := Pblock(inode.Block[ExtDindBlock]); !dind.IsHole() {
		out = collectDind(io, dind, out)
	}
	if tind := Pblock(inode.Block[ExtTindBlock]); !tind.IsHole() {
		out = collectTind(io, tind, out)
	}

	return out
}

func readIndexBlock(io *BlockIO, pblock Pblock) []uint32 {
	raw := make([]byte, io.BlockSize())
	io.BlockRead(raw, pblock)

	entries := make([]uint32, len(raw)/4)
	for i := range entries {
		entries[i] = leUint32(raw[i*4 : i*4+4])
	}
	return entries
}

func collectInd(io *BlockIO, indexBlock Pblock, out []Pblock) []Pblock {
	for _, e := range readIndexBlock(io, indexBlock) {
		if e != 0 {
			out = append(out, Pblock(e))
		}
	}
	return append(out, indexBlock)
}

func collectDind(io *BlockIO, dindexBlock Pblock, out []Pblock) []Pblock {
	for _, e := range readIndexBlock(io, dindexBlock) {
		if e != 0 {
			out = collectInd(io, Pblock(e), out)
		}
	}
	return append(out, dindexBlock)
}

func collectTind(io *BlockIO, tindexBlock Pblock, out []Pblock) []Pblock {
	for _, e := range readIndexBlock(io, tindexBlock) {
		if e != 0 {
			out = collectDind(io, Pblock(e), out)
		}
	}
	return append(out, tindexBlock)
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLeUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
