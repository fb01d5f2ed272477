package ext4

// Pblock is a 32-bit physical block id. The top bit is the tier flag:
// clear selects the SSD image, set selects the HDD image. The low 31
// bits index blocks within that tier. This encoding is a wire-format
// contract shared between the allocator and BlockIO — it appears
// verbatim inside inode i_block slots and index-block contents on disk.
type Pblock uint32

const tierFlag Pblock = 1 << 31

// Tier identifies which backing file a Pblock or logical block routes to.
type Tier int

const (
	TierSSD Tier = iota
	TierHDD
)

func (t Tier) String() string {
	if t == TierHDD {
		return "hdd"
	}
	return "ssd"
}

// NewPblock builds a Pblock from a tier and a within-tier block index.
// idx must fit in 31 bits; callers own that invariant. A set top bit in
// idx is masked off, not reported.
func NewPblock(tier Tier, idx uint32) Pblock {
	p := Pblock(idx &^ uint32(tierFlag))
	if tier == TierHDD {
		p |= tierFlag
	}
	return p
}

// Tier reports which backing file this pblock addresses.
func (p Pblock) Tier() Tier {
	if p&tierFlag != 0 {
		return TierHDD
	}
	return TierSSD
}

// Index returns the low 31 bits: the block index within this pblock's tier.
func (p Pblock) Index() uint32 {
	return uint32(p &^ tierFlag)
}

// IsHole reports whether this pblock represents a sparse hole (an unset
// logical-to-physical mapping slot).
func (p Pblock) IsHole() bool {
	return p == 0
}
