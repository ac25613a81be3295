package migrate

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/espen/blobmigrate/internal/hashstream"
	"github.com/espen/blobmigrate/internal/metadata"
	"github.com/espen/blobmigrate/internal/metrics"
	"github.com/espen/blobmigrate/internal/objstore"
	"github.com/espen/blobmigrate/internal/placement"
)

// DefaultSegmentSize is the largest object Swift accepts in a single PUT (5 GiB)
const DefaultSegmentSize = 5 * 1024 * 1024 * 1024

// Segment is one contiguous byte range of a large file
type Segment struct {
	Index  int
	Offset int64
	Length int64
}

// PlanSegments splits size bytes into segments of at most segmentSize bytes.
func PlanSegments(size, segmentSize int64, maxSegments int) ([]Segment, error) {
	if segmentSize <= 0 {
		return nil, fmt.Errorf("invalid segment size %d", segmentSize)
	}
	count := (size + segmentSize - 1) / segmentSize
	if count > int64(maxSegments) {
		return nil, fmt.Errorf("%w: %d bytes needs %d segments of %d bytes, limit %d",
			ErrTooManySegments, size, count, segmentSize, maxSegments)
	}

	segments := make([]Segment, 0, count)
	for i := int64(0); i < count; i++ {
		off := i * segmentSize
		segments = append(segments, Segment{
			Index:  int(i),
			Offset: off,
			Length: min(segmentSize, size-off),
		})
	}
	return segments, nil
}

// Uploader copies one legacy file into the object store and verifies it
// against the checksum held by the metadata store.
type Uploader struct {
	Meta        metadata.Store
	SegmentSize int64 // files larger than this are segmented
	MaxSegments int
	Logger      *slog.Logger
}

// NewUploader returns an uploader with the default segment limits.
func NewUploader(meta metadata.Store, logger *slog.Logger) *Uploader {
	return &Uploader{
		Meta:        meta,
		SegmentSize: DefaultSegmentSize,
		MaxSegments: placement.MaxSegments,
		Logger:      logger,
	}
}

// Result describes a completed upload
type Result struct {
	Size     int64
	Segments int // zero for single-object uploads
	MD5      string
}

// Put uploads localPath to loc. Small files go up in one request and must
// match on the local checksum, the metadata checksum and the store's ETag;
// a mismatching object is deleted again. Larger files are uploaded as
// segments followed by a manifest; a mismatch there leaves the segments in
// place for garbage collection.
func (u *Uploader) Put(ctx context.Context, conn objstore.Conn, id uint64, loc placement.Location, localPath string) (Result, error) {
	rec, err := u.Meta.Lookup(ctx, id)
	if err != nil {
		return Result{}, err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return Result{}, fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Result{}, fmt.Errorf("stat %s: %w", localPath, err)
	}

	if info.Size() <= u.segmentSize() {
		return u.putSingle(ctx, conn, rec, loc, f, info.Size())
	}
	return u.putSegmented(ctx, conn, rec, loc, f, info.Size())
}

func (u *Uploader) putSingle(ctx context.Context, conn objstore.Conn, rec metadata.Record, loc placement.Location, f *os.File, size int64) (Result, error) {
	start := time.Now()
	r := hashstream.New(f)

	etag, err := conn.ObjectPut(ctx, loc.Container, loc.Object, r, contentLength(size))
	if err != nil {
		return Result{}, fmt.Errorf("uploading %s: %w", loc, err)
	}
	local := r.Sum()

	if local != rec.MD5 || etag != local {
		metrics.IntegrityFailures.WithLabelValues(metrics.CheckChecksum).Inc()
		u.deleteCorrupt(ctx, conn, rec.ID, loc)
		return Result{}, &IntegrityError{
			ID:       rec.ID,
			Location: loc,
			Check:    metrics.CheckChecksum,
			Expected: rec.MD5,
			Actual:   local,
			Backend:  etag,
		}
	}

	metrics.UploadDuration.WithLabelValues(metrics.KindSingle).Observe(time.Since(start).Seconds())
	metrics.BytesUploaded.Add(float64(size))
	u.logger().Debug("uploaded object", "id", rec.ID, "container", loc.Container, "object", loc.Object, "size", size)
	return Result{Size: size, MD5: local}, nil
}

func (u *Uploader) putSegmented(ctx context.Context, conn objstore.Conn, rec metadata.Record, loc placement.Location, f *os.File, size int64) (Result, error) {
	start := time.Now()
	plan, err := PlanSegments(size, u.segmentSize(), u.maxSegments())
	if err != nil {
		return Result{}, fmt.Errorf("content %d: %w", rec.ID, err)
	}

	logger := u.logger().With("id", rec.ID, "container", loc.Container, "object", loc.Object)
	logger.Info("uploading large object", "size", size, "segments", len(plan))

	whole := md5.New()
	for _, seg := range plan {
		r, err := hashstream.NewSection(f, seg.Offset, seg.Length)
		if err != nil {
			return Result{}, fmt.Errorf("content %d segment %d: %w", rec.ID, seg.Index, err)
		}
		if err := r.Mirror(whole); err != nil {
			return Result{}, fmt.Errorf("content %d segment %d: %w", rec.ID, seg.Index, err)
		}

		name := loc.SegmentName(seg.Index)
		etag, err := conn.ObjectPut(ctx, loc.Container, name, r, contentLength(seg.Length))
		if err != nil {
			return Result{}, fmt.Errorf("uploading segment %s/%s: %w", loc.Container, name, err)
		}
		if left := r.Remaining(); left != 0 {
			return Result{}, fmt.Errorf("uploading segment %s/%s: store stopped reading with %d of %d bytes unsent",
				loc.Container, name, left, seg.Length)
		}
		if sum := r.Sum(); etag != sum {
			metrics.IntegrityFailures.WithLabelValues(metrics.CheckSegment).Inc()
			return Result{}, &IntegrityError{
				ID:       rec.ID,
				Location: placement.Location{Container: loc.Container, Object: name},
				Check:    metrics.CheckSegment,
				Expected: sum,
				Actual:   etag,
			}
		}

		metrics.SegmentsUploaded.Inc()
		metrics.BytesUploaded.Add(float64(seg.Length))
		logger.Debug("uploaded segment", "segment", name, "size", seg.Length)
	}

	local := hex.EncodeToString(whole.Sum(nil))
	if local != rec.MD5 {
		metrics.IntegrityFailures.WithLabelValues(metrics.CheckChecksum).Inc()
		return Result{}, &IntegrityError{
			ID:       rec.ID,
			Location: loc,
			Check:    metrics.CheckChecksum,
			Expected: rec.MD5,
			Actual:   local,
		}
	}

	manifest := objstore.Headers{
		objstore.HeaderObjectManifest: loc.ManifestValue(),
		"Content-Length":              "0",
	}
	if _, err := conn.ObjectPut(ctx, loc.Container, loc.Object, bytes.NewReader(nil), manifest); err != nil {
		return Result{}, fmt.Errorf("uploading manifest %s: %w", loc, err)
	}

	metrics.UploadDuration.WithLabelValues(metrics.KindSegmented).Observe(time.Since(start).Seconds())
	return Result{Size: size, Segments: len(plan), MD5: local}, nil
}

// deleteCorrupt removes a just-uploaded object that failed verification.
// Failure is logged for manual cleanup and otherwise ignored.
func (u *Uploader) deleteCorrupt(ctx context.Context, conn objstore.Conn, id uint64, loc placement.Location) {
	if err := conn.ObjectDelete(ctx, loc.Container, loc.Object); err != nil {
		metrics.CleanupFailures.Inc()
		u.logger().Error("failed to delete corrupt upload, remove it manually",
			"id", id, "container", loc.Container, "object", loc.Object, "error", err)
		return
	}
	u.logger().Warn("deleted corrupt upload", "id", id, "container", loc.Container, "object", loc.Object)
}

func (u *Uploader) segmentSize() int64 {
	if u.SegmentSize <= 0 {
		return DefaultSegmentSize
	}
	return u.SegmentSize
}

func (u *Uploader) maxSegments() int {
	if u.MaxSegments <= 0 || u.MaxSegments > placement.MaxSegments {
		return placement.MaxSegments
	}
	return u.MaxSegments
}

func (u *Uploader) logger() *slog.Logger {
	if u.Logger == nil {
		return slog.Default()
	}
	return u.Logger
}

func contentLength(n int64) objstore.Headers {
	return objstore.Headers{"Content-Length": strconv.FormatInt(n, 10)}
}
