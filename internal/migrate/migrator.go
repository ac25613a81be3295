// Package migrate copies blobs from the legacy on-disk store into the object
// store, verifying every upload against the metadata store's checksum.
//
// A run is resumable: objects already present with the right size are
// skipped, so re-running over the same id range after an interruption only
// uploads what is missing. Concurrent runs must use disjoint id ranges.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/espen/blobmigrate/internal/legacy"
	"github.com/espen/blobmigrate/internal/metadata"
	"github.com/espen/blobmigrate/internal/metrics"
	"github.com/espen/blobmigrate/internal/objstore"
	"github.com/espen/blobmigrate/internal/placement"
)

// Options select what a migration run covers
type Options struct {
	StartID *uint64 // nil means 0
	EndID   *uint64 // nil means placement.MaxID

	// OnMigrated, if set, is called with the local path after each
	// successful upload, e.g. legacy.MarkMigrated.
	OnMigrated func(path string) error
}

// Stats summarises a migration run
type Stats struct {
	RunID          string
	Scanned        int
	Uploaded       int
	AlreadyPresent int
	Orphaned       int
	Recent         int
	Malformed      int
	Ignored        int
	Segments       int
	Bytes          int64
	Duration       time.Duration
}

// Migrator drives one-way migration of the legacy store
type Migrator struct {
	Pool         *objstore.Pool
	Meta         metadata.Store
	Legacy       *legacy.Store
	Scheme       placement.Scheme
	Uploader     *Uploader
	SettleWindow time.Duration
	Logger       *slog.Logger

	// Now returns the current time; defaults to time.Now.
	Now func() time.Time
}

type run struct {
	m          *Migrator
	opts       Options
	logger     *slog.Logger
	containers map[string]bool
	stats      Stats
}

// Migrate walks the legacy store once over the selected id range. It
// returns on the first object store failure other than not-found, and on
// the first integrity failure; orphaned files are logged and skipped.
func (m *Migrator) Migrate(ctx context.Context, opts Options) (Stats, error) {
	start := time.Now()
	r := &run{
		m:          m,
		opts:       opts,
		containers: make(map[string]bool),
	}
	r.stats.RunID = uuid.NewString()
	r.logger = m.logger().With("run_id", r.stats.RunID)

	walkOpts := legacy.WalkOptions{
		StartID:      0,
		EndID:        placement.MaxID,
		SettleWindow: m.SettleWindow,
		Now:          m.Now,
	}
	if opts.StartID != nil {
		walkOpts.StartID = *opts.StartID
	}
	if opts.EndID != nil {
		walkOpts.EndID = *opts.EndID
	}

	r.logger.Info("starting migration",
		"root", m.Legacy.Root(),
		"start_id", walkOpts.StartID,
		"end_id", walkOpts.EndID,
		"settle_window", m.SettleWindow.String(),
	)

	walkStats, err := m.Legacy.Walk(ctx, walkOpts, r.migrateFile)
	r.stats.Recent = walkStats.Recent
	r.stats.Malformed = walkStats.Malformed
	r.stats.Ignored = walkStats.Ignored
	r.stats.Duration = time.Since(start)

	metrics.FilesSkipped.WithLabelValues(metrics.SkipRecent).Add(float64(walkStats.Recent))
	metrics.FilesSkipped.WithLabelValues(metrics.SkipMalformed).Add(float64(walkStats.Malformed))

	attrs := []any{
		"scanned", r.stats.Scanned,
		"uploaded", r.stats.Uploaded,
		"already_present", r.stats.AlreadyPresent,
		"orphaned", r.stats.Orphaned,
		"recent", r.stats.Recent,
		"malformed", r.stats.Malformed,
		"segments", r.stats.Segments,
		"bytes", r.stats.Bytes,
		"duration", r.stats.Duration.String(),
	}
	if err != nil {
		r.logger.Error("migration aborted", append(attrs, "error", err)...)
		return r.stats, err
	}
	r.logger.Info("migration finished", attrs...)
	return r.stats, nil
}

func (r *run) migrateFile(ctx context.Context, f legacy.File) error {
	r.stats.Scanned++
	metrics.FilesScanned.Inc()
	logger := r.logger.With("id", f.ID, "path", f.Path)

	ok, err := r.m.Meta.Exists(ctx, f.ID)
	if err != nil {
		return fmt.Errorf("checking metadata for content %d: %w", f.ID, err)
	}
	if !ok {
		r.stats.Orphaned++
		metrics.FilesSkipped.WithLabelValues(metrics.SkipOrphan).Inc()
		logger.Info("skipping file without content record")
		return nil
	}

	loc := r.m.Scheme.Locate(f.ID)
	logger = logger.With("container", loc.Container, "object", loc.Object)

	var uploaded *Result
	err = r.m.Pool.With(ctx, func(conn objstore.Conn) error {
		if err := r.ensureContainer(ctx, conn, loc.Container); err != nil {
			return err
		}

		info, err := conn.ObjectHead(ctx, loc.Container, loc.Object)
		switch {
		case err == nil:
			if !info.IsManifest() && info.Size != f.Size {
				metrics.IntegrityFailures.WithLabelValues(metrics.CheckExistingSize).Inc()
				return &IntegrityError{
					ID:       f.ID,
					Location: loc,
					Check:    metrics.CheckExistingSize,
					Expected: fmt.Sprintf("%d bytes", f.Size),
					Actual:   fmt.Sprintf("%d bytes", info.Size),
				}
			}
			r.stats.AlreadyPresent++
			metrics.FilesSkipped.WithLabelValues(metrics.SkipExisting).Inc()
			logger.Debug("already migrated")
			return nil
		case !objstore.IsNotFound(err):
			return fmt.Errorf("checking object %s: %w", loc, err)
		}

		res, err := r.m.uploader().Put(ctx, conn, f.ID, loc, f.Path)
		if err != nil {
			return err
		}
		uploaded = &res
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrIntegrity) {
			logger.Error("integrity check failed", "error", err)
		}
		return err
	}
	if uploaded == nil {
		return nil
	}

	r.stats.Uploaded++
	r.stats.Bytes += uploaded.Size
	r.stats.Segments += uploaded.Segments
	kind := metrics.KindSingle
	if uploaded.Segments > 0 {
		kind = metrics.KindSegmented
	}
	metrics.FilesMigrated.WithLabelValues(kind).Inc()
	logger.Info("migrated", "size", uploaded.Size, "segments", uploaded.Segments, "md5", uploaded.MD5)

	if r.opts.OnMigrated != nil {
		if err := r.opts.OnMigrated(f.Path); err != nil {
			return fmt.Errorf("post-migration action for content %d: %w", f.ID, err)
		}
	}
	return nil
}

// ensureContainer creates the container on a not-found probe. Containers
// seen during this run are not probed again.
func (r *run) ensureContainer(ctx context.Context, conn objstore.Conn, container string) error {
	if r.containers[container] {
		return nil
	}

	err := conn.ContainerHead(ctx, container)
	if objstore.IsNotFound(err) {
		r.logger.Info("creating container", "container", container)
		err = conn.ContainerCreate(ctx, container)
		if err != nil {
			return fmt.Errorf("creating container %s: %w", container, err)
		}
	} else if err != nil {
		return fmt.Errorf("checking container %s: %w", container, err)
	}

	r.containers[container] = true
	return nil
}

func (m *Migrator) uploader() *Uploader {
	if m.Uploader == nil {
		m.Uploader = NewUploader(m.Meta, m.Logger)
	}
	return m.Uploader
}

func (m *Migrator) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}
