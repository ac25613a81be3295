package migrate

import (
	"errors"
	"fmt"

	"github.com/espen/blobmigrate/internal/placement"
)

// ErrIntegrity matches every IntegrityError
var ErrIntegrity = errors.New("integrity check failed")

// ErrTooManySegments is returned when a file would need more segments than
// segment names can number
var ErrTooManySegments = errors.New("too many segments")

// IntegrityError reports a checksum or size disagreement for one content id.
// It is fatal for that id and stops the migration.
type IntegrityError struct {
	ID       uint64
	Location placement.Location
	Check    string // metrics.Check* value naming the failed comparison
	Expected string
	Actual   string
	Backend  string // checksum reported by the object store, if any
}

func (e *IntegrityError) Error() string {
	msg := fmt.Sprintf("integrity check %q failed for content %d at %s: expected %s, got %s",
		e.Check, e.ID, e.Location, e.Expected, e.Actual)
	if e.Backend != "" {
		msg += ", store reported " + e.Backend
	}
	return msg
}

// Is lets errors.Is(err, ErrIntegrity) match.
func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}
