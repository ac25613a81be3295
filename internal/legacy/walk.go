package legacy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/espen/blobmigrate/internal/placement"
)

// WalkOptions bounds a walk
type WalkOptions struct {
	StartID uint64
	EndID   uint64 // inclusive; values above placement.MaxID are clamped

	// SettleWindow skips files modified more recently than this. Zero
	// disables the check.
	SettleWindow time.Duration

	// Now returns the current time; defaults to time.Now.
	Now func() time.Time
}

// WalkStats counts what a walk saw besides the files it handed out
type WalkStats struct {
	Dirs      int
	Files     int
	Recent    int
	Malformed int
	Ignored   int
}

// WalkFunc is called for every eligible file. A non-nil error stops the walk
// and is returned from Walk.
type WalkFunc func(ctx context.Context, f File) error

type walker struct {
	s      *Store
	bounds placement.Bounds
	settle time.Duration
	now    time.Time
	fn     WalkFunc
	stats  WalkStats
}

// Walk visits every settled file whose id is in [StartID, EndID], in
// ascending id order. Directories wholly outside the range are not read,
// and symbolic links are followed. Entries whose names are not two
// lowercase hex digits are ignored.
func (s *Store) Walk(ctx context.Context, opts WalkOptions, fn WalkFunc) (WalkStats, error) {
	bounds, err := placement.NewBounds(opts.StartID, opts.EndID)
	if err != nil {
		return WalkStats{}, err
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	w := &walker{
		s:      s,
		bounds: bounds,
		settle: opts.SettleWindow,
		now:    now(),
		fn:     fn,
	}
	s.logger.Debug("walking legacy store", "root", s.root, "start", bounds.Start(), "end", bounds.End())

	err = w.walkDir(ctx, s.root, "", 0)
	return w.stats, err
}

func (w *walker) walkDir(ctx context.Context, dir, prefix string, depth int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", dir, err)
	}
	w.stats.Dirs++
	w.s.logger.Debug("scanning directory", "dir", dir, "entries", len(entries))

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		name := e.Name()
		if !placement.IsShardName(name) {
			w.stats.Ignored++
			continue
		}
		p := prefix + name
		if w.bounds.PastEnd(p) {
			break
		}
		if !w.bounds.Contains(p) {
			continue
		}

		full := filepath.Join(dir, name)
		info, err := os.Stat(full)
		if err != nil {
			w.s.logger.Warn("cannot stat legacy entry", "path", full, "error", err)
			w.stats.Ignored++
			continue
		}

		if depth < placement.Depth-1 {
			if !info.IsDir() {
				w.stats.Ignored++
				continue
			}
			if err := w.walkDir(ctx, full, p, depth+1); err != nil {
				return err
			}
			continue
		}

		if !info.Mode().IsRegular() {
			w.stats.Ignored++
			continue
		}
		if err := w.visitFile(ctx, full, p, info); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) visitFile(ctx context.Context, path, digits string, info os.FileInfo) error {
	if w.settle > 0 && w.now.Sub(info.ModTime()) < w.settle {
		w.stats.Recent++
		w.s.logger.Debug("skipping recently modified file", "path", path, "mtime", info.ModTime())
		return nil
	}

	id, err := placement.ParseRelPath(digits)
	if err != nil {
		w.stats.Malformed++
		w.s.logger.Warn("skipping malformed legacy path", "path", path, "error", err)
		return nil
	}

	w.stats.Files++
	return w.fn(ctx, File{
		ID:      id,
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	})
}
