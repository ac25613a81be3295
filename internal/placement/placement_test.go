package placement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelPath(t *testing.T) {
	tests := []struct {
		id   uint64
		want string
	}{
		{0, "00/00/00/00"},
		{1, "00/00/00/01"},
		{255, "00/00/00/ff"},
		{0x12345678, "12/34/56/78"},
		{MaxID, "ff/ff/ff/ff"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, RelPath(tt.id), "RelPath(%d)", tt.id)
		assert.Equal(t, RelPath(tt.id), RelPath(tt.id))
	}
}

func TestRelPathOutOfRange(t *testing.T) {
	assert.Panics(t, func() { RelPath(MaxID + 1) })
}

func TestParseRelPathRoundTrip(t *testing.T) {
	for _, id := range []uint64{0, 7, 0xabcdef, 0x12345678, 305419896, MaxID} {
		got, err := ParseRelPath(RelPath(id))
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}
}

func TestParseRelPathMalformed(t *testing.T) {
	for _, rel := range []string{
		"",
		"12/34/56",
		"12/34/56/78/9a",
		"12/34/56/7g",
		"12/34/56/7F",
		"1/234/56/78x",
	} {
		_, err := ParseRelPath(rel)
		assert.ErrorIs(t, err, ErrMalformedPath, "ParseRelPath(%q)", rel)
	}
}

func TestLocate(t *testing.T) {
	s := Scheme{ContainerPrefix: "blobs_", ShardSize: 500000}

	loc := s.Locate(305419896)
	assert.Equal(t, "blobs_610", loc.Container)
	assert.Equal(t, "305419896", loc.Object)
	assert.Equal(t, "blobs_610/305419896", loc.String())
	assert.Equal(t, "305419896/0000", loc.SegmentName(0))
	assert.Equal(t, "305419896/0012", loc.SegmentName(12))
	assert.Equal(t, "305419896/", loc.SegmentPrefix())
	assert.Equal(t, "blobs_610/305419896/", loc.ManifestValue())

	assert.Equal(t, s.Locate(42), s.Locate(42))
}

func TestLocateZeroShardSizeUsesDefault(t *testing.T) {
	s := Scheme{ContainerPrefix: "p"}
	assert.Equal(t, "p1", s.Locate(DefaultShardSize).Container)
}

func TestContainerSharding(t *testing.T) {
	s := DefaultScheme()
	ids := []uint64{0, 1, 499999, 500000, 500001, 999999, 1000000, 305419896}

	for _, a := range ids {
		for _, b := range ids {
			want := a/s.ShardSize == b/s.ShardSize
			same := s.Locate(a).Container == s.Locate(b).Container
			assert.Equal(t, want, same, "containers of %d and %d", a, b)
		}
	}
}

func TestIsShardName(t *testing.T) {
	valid := []string{"00", "0a", "ff", "9f"}
	invalid := []string{"", "0", "000", "FF", "0g", "ab.migrated", ".."}

	for _, name := range valid {
		assert.True(t, IsShardName(name), name)
	}
	for _, name := range invalid {
		assert.False(t, IsShardName(name), name)
	}
}

func TestBounds(t *testing.T) {
	b, err := NewBounds(0x12345678, 0x12350000)
	require.NoError(t, err)

	assert.Equal(t, "12345678", b.Start())
	assert.Equal(t, "12350000", b.End())

	assert.True(t, b.Contains("12"))
	assert.True(t, b.Contains("1234"))
	assert.True(t, b.Contains("1235"))
	assert.False(t, b.Contains("1233"))
	assert.False(t, b.Contains("1236"))
	assert.True(t, b.Contains("123456"))
	assert.False(t, b.Contains("123455"))
	assert.True(t, b.Contains("12345678"))
	assert.False(t, b.Contains("12345677"))
	assert.True(t, b.Contains("12350000"))
	assert.False(t, b.Contains("12350001"))

	assert.False(t, b.Contains("11"))
	assert.True(t, b.PastEnd("13"))
	assert.True(t, b.PastEnd("123501"))
	assert.False(t, b.PastEnd("123500"))
}

func TestBoundsClampAndOrder(t *testing.T) {
	b, err := NewBounds(0, ^uint64(0))
	require.NoError(t, err)
	assert.Equal(t, "ffffffff", b.End())

	_, err = NewBounds(10, 9)
	assert.Error(t, err)
}
