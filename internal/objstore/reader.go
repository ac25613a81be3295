package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/espen/blobmigrate/internal/metrics"
)

// DefaultChunkSize is how much of the response body is pulled per chunk
const DefaultChunkSize = 64 * 1024

// ErrBackwardSeek is returned when seeking before the current offset
var ErrBackwardSeek = errors.New("objstore: backward seek not supported")

// ErrReaderClosed is returned when using a reader after Close
var ErrReaderClosed = errors.New("objstore: reader closed")

// Reader streams one object without buffering it whole.
//
// Nothing is requested until the first Read or Seek. Once the body has been
// read to the end its connection goes back to the pool; closing early
// discards the connection because its response was not drained.
type Reader struct {
	ctx       context.Context
	pool      *Pool
	container string
	object    string
	chunkSize int

	conn    Conn
	body    io.ReadCloser
	info    ObjectInfo
	opened  bool
	chunk   []byte // unread part of the current chunk
	buf     []byte
	offset  int64
	drained bool
	closed  bool
	err     error
}

var _ io.ReadSeekCloser = (*Reader)(nil)

// ReaderOption configures a Reader
type ReaderOption func(*Reader)

// WithChunkSize sets how many bytes are pulled from the body per chunk
func WithChunkSize(n int) ReaderOption {
	return func(r *Reader) {
		if n > 0 {
			r.chunkSize = n
		}
	}
}

// NewReader returns a lazy reader for container/object. ctx governs the
// eventual GET and the body reads.
func NewReader(ctx context.Context, pool *Pool, container, object string, opts ...ReaderOption) *Reader {
	r := &Reader{
		ctx:       ctx,
		pool:      pool,
		container: container,
		object:    object,
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open issues the GET if it has not happened yet. Read and Seek call it
// implicitly; calling it directly surfaces ErrNotFound before any bytes
// are consumed.
func (r *Reader) Open() error {
	if r.closed {
		return ErrReaderClosed
	}
	if r.opened {
		return nil
	}

	conn, err := r.pool.Get(r.ctx)
	if err != nil {
		return err
	}
	body, info, err := conn.ObjectGet(r.ctx, r.container, r.object)
	if err != nil {
		if IsNotFound(err) {
			r.pool.Put(conn)
		} else {
			r.pool.Discard(conn)
		}
		return fmt.Errorf("getting %s/%s: %w", r.container, r.object, err)
	}

	r.conn = conn
	r.body = body
	r.info = info
	r.opened = true
	r.buf = make([]byte, r.chunkSize)
	return nil
}

// Info returns the object metadata from the GET response. It is the zero
// value until the reader has been opened.
func (r *Reader) Info() ObjectInfo {
	return r.info
}

// Read fills p from the current chunk and further chunks until p is full or
// the object ends.
func (r *Reader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, ErrReaderClosed
	}
	if r.err != nil {
		return 0, r.err
	}
	if r.drained && len(r.chunk) == 0 {
		return 0, io.EOF
	}
	if err := r.Open(); err != nil {
		return 0, err
	}

	n := 0
	for n < len(p) {
		if len(r.chunk) == 0 {
			if err := r.nextChunk(); err != nil {
				if err == io.EOF {
					break
				}
				r.fail(err)
				r.offset += int64(n)
				return n, err
			}
			continue
		}
		c := copy(p[n:], r.chunk)
		r.chunk = r.chunk[c:]
		n += c
	}
	r.offset += int64(n)
	metrics.ReadBytes.Add(float64(n))

	if r.drained && n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// nextChunk pulls the next chunk from the body. At end of body it hands the
// connection back to the pool and returns io.EOF.
func (r *Reader) nextChunk() error {
	if r.drained {
		return io.EOF
	}
	n, err := r.body.Read(r.buf)
	r.chunk = r.buf[:n]
	if err == io.EOF {
		r.finish()
		if n > 0 {
			return nil
		}
		return io.EOF
	}
	if err != nil {
		return fmt.Errorf("reading %s/%s at offset %d: %w", r.container, r.object, r.offset, err)
	}
	return nil
}

// finish releases the fully read response and pools its connection.
func (r *Reader) finish() {
	r.body.Close()
	r.pool.Put(r.conn)
	r.body = nil
	r.conn = nil
	r.drained = true
	metrics.ReadsFinished.WithLabelValues(metrics.ReadDrained).Inc()
}

// fail drops the connection after a body error. Later reads return err.
func (r *Reader) fail(err error) {
	r.err = err
	if r.body != nil {
		r.body.Close()
		r.body = nil
	}
	r.pool.Discard(r.conn)
	r.conn = nil
	r.chunk = nil
	r.drained = true
	metrics.ReadsFinished.WithLabelValues(metrics.ReadFailed).Inc()
}

// Seek skips forward by reading and discarding. Targets before the current
// offset return ErrBackwardSeek and leave the reader unchanged. io.SeekEnd
// resolves against the size reported by the GET response.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	if r.closed {
		return 0, ErrReaderClosed
	}

	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = r.offset + offset
	case io.SeekEnd:
		if err := r.Open(); err != nil {
			return r.offset, err
		}
		target = r.info.Size + offset
	default:
		return r.offset, fmt.Errorf("objstore: invalid whence %d", whence)
	}

	if target < r.offset {
		return r.offset, fmt.Errorf("%w: from %d to %d", ErrBackwardSeek, r.offset, target)
	}
	if target == r.offset {
		return r.offset, nil
	}

	skip := target - r.offset
	n, err := io.CopyN(io.Discard, r, skip)
	if err == io.EOF {
		err = nil
	}
	if err != nil {
		return r.offset, fmt.Errorf("seeking forward %d bytes (skipped %d): %w", skip, n, err)
	}
	return r.offset, nil
}

// Tell returns the number of bytes consumed so far.
func (r *Reader) Tell() (int64, error) {
	return r.offset, nil
}

// Close releases the reader. A body that was not read to the end is closed
// and its connection discarded.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.body != nil {
		r.body.Close()
		r.body = nil
		r.pool.Discard(r.conn)
		r.conn = nil
		metrics.ReadsFinished.WithLabelValues(metrics.ReadAbandoned).Inc()
	}
	r.chunk = nil
	return nil
}
