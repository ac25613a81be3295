package placement

import "fmt"

// Bounds is an inclusive id range expressed as legacy hex digits, used to
// prune the legacy tree without descending into out-of-range directories.
// Because every level is exactly two hex digits, comparing a prefix with the
// bounds truncated to the same length gives the directory's position.
type Bounds struct {
	start string
	end   string
}

// NewBounds returns the bounds for [startID, endID]. endID is clamped to MaxID.
func NewBounds(startID, endID uint64) (Bounds, error) {
	if endID > MaxID {
		endID = MaxID
	}
	if startID > endID {
		return Bounds{}, fmt.Errorf("start id %d is after end id %d", startID, endID)
	}
	return Bounds{
		start: fmt.Sprintf("%08x", startID),
		end:   fmt.Sprintf("%08x", endID),
	}, nil
}

// Start returns the first relative path inside the bounds.
func (b Bounds) Start() string { return b.start }

// End returns the last relative path inside the bounds.
func (b Bounds) End() string { return b.end }

// Contains reports whether the subtree named by prefix (concatenated level
// names, 2 to 8 hex digits) overlaps the bounds.
func (b Bounds) Contains(prefix string) bool {
	n := len(prefix)
	return prefix >= b.start[:n] && prefix <= b.end[:n]
}

// PastEnd reports whether the whole subtree sorts after the bounds. Entries
// are visited in sorted order so a walk can stop at the first such prefix.
func (b Bounds) PastEnd(prefix string) bool {
	return prefix > b.end[:len(prefix)]
}
