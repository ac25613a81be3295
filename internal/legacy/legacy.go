// Package legacy reads the sharded on-disk blob store being migrated.
//
// Blobs live at <root>/aa/bb/cc/dd where aabbccdd is the zero-padded hex
// content id. Files are written once and never modified after a settling
// period.
package legacy

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/espen/blobmigrate/internal/placement"
)

// DefaultSettleWindow is how old a file must be before it is migrated.
// Younger files may still be being written.
const DefaultSettleWindow = 24 * time.Hour

// MigratedSuffix is appended by MarkMigrated.
const MigratedSuffix = ".migrated"

// ErrNotDirectory is returned when the store root is not a directory
var ErrNotDirectory = errors.New("legacy root is not a directory")

// Store is a legacy blob tree rooted at a directory
type Store struct {
	root   string
	logger *slog.Logger
}

// NewStore opens the tree at root. The root must exist.
func NewStore(root string, logger *slog.Logger) (*Store, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("checking legacy root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: root, logger: logger}, nil
}

// Root returns the tree's root directory.
func (s *Store) Root() string {
	return s.root
}

// Path returns the file path for a content id.
func (s *Store) Path(id uint64) string {
	return filepath.Join(s.root, filepath.FromSlash(placement.RelPath(id)))
}

// File is a candidate blob found by Walk
type File struct {
	ID      uint64
	Path    string
	Size    int64
	ModTime time.Time
}

// MarkMigrated renames a migrated file so it no longer matches the shard
// name filter and is ignored by later walks.
func MarkMigrated(path string) error {
	if err := os.Rename(path, path+MigratedSuffix); err != nil {
		return fmt.Errorf("marking %s migrated: %w", path, err)
	}
	return nil
}
