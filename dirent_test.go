package ext4

import (
	"testing"

	"github.com/go-test/deep"
	"github.com/stretchr/testify/require"
)

func TestDirentEncodeDecodeRoundTrip(t *testing.T) {
	want := newDirent(7, "hello.txt", DentryTypeRegular)
	want.RecLen += 16 // simulate slack beyond the minimum

	buf := make([]byte, 64)
	for i := range buf {
		buf[i] = 0xAA // slack must be zeroed on encode, not left as garbage
	}
	encodeDirent(buf, 0, want)

	got := decodeDirent(buf, 0)
	if diff := deep.Equal(want, got); diff != nil {
		t.Errorf("round-tripped dirent differs: %v", diff)
	}

	for i := dentryHeaderSize + len(want.Name); i < int(want.RecLen); i++ {
		require.Zerof(t, buf[i], "slack byte %d was not zeroed", i)
	}
}

func TestMinRecLenAlignment(t *testing.T) {
	cases := map[int]uint16{
		0:   8,
		1:   12,
		4:   12,
		5:   16,
		255: 264,
	}
	for nameLen, want := range cases {
		require.Equal(t, want, minRecLen(nameLen))
	}
}

func TestDirentIsTombstone(t *testing.T) {
	d := newDirent(0, "", 0)
	require.True(t, d.IsTombstone())

	d2 := newDirent(5, "x", DentryTypeRegular)
	require.False(t, d2.IsTombstone())
}
