// Package objstore is the boundary to the Swift-compatible object store:
// the connection contract, a bounded pool of authenticated connections and
// a lazy forward-only reader over object downloads.
package objstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a container or object does not exist
var ErrNotFound = errors.New("not found")

// HeaderObjectManifest names the segment prefix of a dynamic large object.
const HeaderObjectManifest = "X-Object-Manifest"

// Headers are extra request headers for an object PUT
type Headers map[string]string

// ObjectInfo describes a stored object
type ObjectInfo struct {
	Size     int64
	ETag     string
	Manifest string // X-Object-Manifest value, empty for plain objects
}

// IsManifest reports whether the object is a large-object manifest.
func (o ObjectInfo) IsManifest() bool {
	return o.Manifest != ""
}

// Conn is an authenticated connection to the object store.
//
// Methods return ErrNotFound (possibly wrapped) for missing containers or
// objects; any other error means the connection's state is unknown and it
// should not be reused.
type Conn interface {
	// ContainerHead checks that a container exists.
	ContainerHead(ctx context.Context, container string) error

	// ContainerCreate creates a container. Creating an existing container succeeds.
	ContainerCreate(ctx context.Context, container string) error

	// ObjectHead returns object metadata without the body.
	ObjectHead(ctx context.Context, container, object string) (ObjectInfo, error)

	// ObjectPut uploads body and returns the ETag computed by the server.
	ObjectPut(ctx context.Context, container, object string, body io.Reader, h Headers) (string, error)

	// ObjectGet opens the object body. The caller must close it.
	ObjectGet(ctx context.Context, container, object string) (io.ReadCloser, ObjectInfo, error)

	// ObjectDelete removes an object.
	ObjectDelete(ctx context.Context, container, object string) error

	// Close releases the connection's resources.
	Close() error
}

// DialFunc creates a new authenticated connection
type DialFunc func(ctx context.Context) (Conn, error)

// IsNotFound reports whether err is a not-found error from the store.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
