// Package placement maps content ids to their legacy on-disk path and to
// their container/object location in the object store.
//
// Legacy layout: the id is rendered as 8 lowercase hex digits and split
// into four two-digit levels, so id 0x12345678 lives at 12/34/56/78.
//
// Object store layout: ids are banded into containers of ShardSize ids each
// (container = prefix + id/ShardSize) and the object name is the decimal id.
package placement

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxID is the largest id the legacy layout can represent.
const MaxID = 0xFFFFFFFF

// Depth is the number of path levels in the legacy layout.
const Depth = 4

// DefaultShardSize is the number of ids per container.
const DefaultShardSize = 500000

// DefaultContainerPrefix is prepended to the shard number.
const DefaultContainerPrefix = "blobs_"

// MaxSegments is the largest number of segments a single object may have.
// Segment names carry a four digit index.
const MaxSegments = 10000

// ErrMalformedPath is returned when a relative path does not decode to an id
var ErrMalformedPath = errors.New("malformed legacy path")

// Scheme holds the object store placement parameters
type Scheme struct {
	ContainerPrefix string
	ShardSize       uint64
}

// DefaultScheme returns the scheme used when nothing is configured
func DefaultScheme() Scheme {
	return Scheme{ContainerPrefix: DefaultContainerPrefix, ShardSize: DefaultShardSize}
}

// Location is a container/object pair in the object store
type Location struct {
	Container string
	Object    string
}

func (l Location) String() string {
	return l.Container + "/" + l.Object
}

// SegmentName returns the object name of segment i of a large object.
func (l Location) SegmentName(i int) string {
	return fmt.Sprintf("%s/%04d", l.Object, i)
}

// SegmentPrefix is the object-name prefix shared by all segments.
func (l Location) SegmentPrefix() string {
	return l.Object + "/"
}

// ManifestValue is the X-Object-Manifest header value referencing the segments.
func (l Location) ManifestValue() string {
	return l.Container + "/" + l.SegmentPrefix()
}

// Locate returns the object store location for an id.
func (s Scheme) Locate(id uint64) Location {
	shard := s.ShardSize
	if shard == 0 {
		shard = DefaultShardSize
	}
	return Location{
		Container: s.ContainerPrefix + strconv.FormatUint(id/shard, 10),
		Object:    strconv.FormatUint(id, 10),
	}
}

// RelPath returns the slash separated legacy path for an id, e.g. "12/34/56/78".
// It panics for ids above MaxID.
func RelPath(id uint64) string {
	if id > MaxID {
		panic(fmt.Sprintf("placement: id %d outside legacy range", id))
	}
	h := fmt.Sprintf("%08x", id)
	return h[0:2] + "/" + h[2:4] + "/" + h[4:6] + "/" + h[6:8]
}

// ParseRelPath reverses RelPath. Both "/" and "\" are accepted as separators.
func ParseRelPath(rel string) (uint64, error) {
	digits := strings.NewReplacer("/", "", "\\", "").Replace(rel)
	if len(digits) != 8 {
		return 0, fmt.Errorf("%w: %q does not have 8 hex digits", ErrMalformedPath, rel)
	}
	for _, c := range digits {
		if !isLowerHex(c) {
			return 0, fmt.Errorf("%w: %q is not lowercase hex", ErrMalformedPath, rel)
		}
	}
	id, err := strconv.ParseUint(digits, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedPath, err)
	}
	return id, nil
}

// IsShardName reports whether name is exactly two lowercase hex digits,
// the only names that occur at any level of the legacy tree.
func IsShardName(name string) bool {
	return len(name) == 2 && isLowerHex(rune(name[0])) && isLowerHex(rune(name[1]))
}

func isLowerHex(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
}
