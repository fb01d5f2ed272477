package ext4

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/go-test/deep"
	"github.com/stretchr/testify/require"
)

// buildTestSuperblock returns a minimal but valid raw encoding of sb,
// the way a real mke2fs-formatted SSD image would carry it at byte
// offset 1024.
func buildTestSuperblock(sb *Superblock) []byte {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, sb); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func baseTestSuperblock() *Superblock {
	sb := &Superblock{
		SMagic:          Ext4Magic,
		SLogBlockSize:   0, // 1024-byte blocks
		SBlocksCountLo:  64,
		SBlocksPerGroup: 64,
		SInodesPerGroup: 32,
		SInodeSize:      128,
		SRevLevel:       SbRevlevelDynamicRev,
	}
	copy(sb.SUuid[:], []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16})
	return sb
}

func TestParseSuperblockRoundTrip(t *testing.T) {
	want := baseTestSuperblock()
	raw := buildTestSuperblock(want)

	got, err := ParseSuperblock(raw)
	require.NoError(t, err)

	if diff := deep.Equal(want, got); diff != nil {
		t.Errorf("round-tripped superblock differs: %v", diff)
	}
}

func TestParseSuperblockRejectsBadMagic(t *testing.T) {
	sb := baseTestSuperblock()
	sb.SMagic = 0x1234
	raw := buildTestSuperblock(sb)

	_, err := ParseSuperblock(raw)
	require.Error(t, err)
}

func TestSuperblockBlockSize(t *testing.T) {
	sb := baseTestSuperblock()
	require.Equal(t, uint32(1024), sb.BlockSize())

	sb.SLogBlockSize = 2
	require.Equal(t, uint32(4096), sb.BlockSize())
}

func TestSuperblockGroupDescSizeDefault(t *testing.T) {
	sb := baseTestSuperblock()
	require.Equal(t, uint32(groupDescMinSize), sb.GroupDescSize())

	sb.SDescSize = 64
	require.Equal(t, uint32(64), sb.GroupDescSize())
}

func TestSuperblockGroupsCount(t *testing.T) {
	sb := baseTestSuperblock()
	require.Equal(t, uint32(1), sb.GroupsCount())

	sb.SBlocksCountLo = 65
	require.Equal(t, uint32(2), sb.GroupsCount())
}

func TestSuperblockUUID(t *testing.T) {
	sb := baseTestSuperblock()
	u := sb.UUID()
	require.Equal(t, sb.SUuid[:], u[:])
}

func TestSuperblockFeatureFlags(t *testing.T) {
	sb := baseTestSuperblock()
	require.False(t, sb.HasIncompatibleFeature(SbFeatureIncompat64bit))

	sb.SFeatureIncompat = SbFeatureIncompat64bit
	require.True(t, sb.HasIncompatibleFeature(SbFeatureIncompat64bit))
	require.False(t, sb.HasIncompatibleFeature(SbFeatureIncompatFiletype))
}
