// Package hashstream provides a read-through reader that computes an MD5
// digest of the bytes it hands out, optionally bounded to a byte range of
// the underlying source.
package hashstream

import (
	"crypto/md5"
	"encoding"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
)

// ErrUnsupportedWhence is returned by Seek for whence values it cannot resolve
var ErrUnsupportedWhence = errors.New("unsupported seek whence")

// ErrClosed is returned when reading from a closed reader
var ErrClosed = errors.New("hashstream: reader closed")

// ErrInvalidSeek is returned by Seek for targets outside the readable range
var ErrInvalidSeek = errors.New("invalid seek")

// ErrMirrorState is returned by Mirror for digests whose state cannot be saved
var ErrMirrorState = errors.New("hashstream: mirror digest cannot save its state")

// Stream is the file-like contract shared by the hashing reader and the
// object store read adapter.
type Stream interface {
	io.Reader
	io.Seeker
	io.Closer
	Tell() (int64, error)
}

// Reader hashes everything read through it.
//
// Seeking is a reset: the digest restarts at the new offset. The reader does
// not keep intermediate digest states, so seeking back to re-read a range
// yields the digest of the re-read bytes only.
//
// Positions of a bounded reader are relative to the section start, as with
// io.SectionReader, so Seek(0, io.SeekStart) rewinds to the first byte of the
// section. Positions of an unbounded reader are positions in the source.
type Reader struct {
	src    io.ReadSeeker
	owned  bool
	digest hash.Hash
	count  int64

	mirror      hash.Hash
	mirrorState []byte
	mirrorFrom  int64

	bounded   bool
	base      int64 // source offset of position zero
	length    int64
	remaining int64
	closed    bool
}

var _ Stream = (*Reader)(nil)

// New wraps src without a length bound, hashing from its current position.
func New(src io.ReadSeeker) *Reader {
	return &Reader{src: src, digest: md5.New()}
}

// NewSection positions src at offset and bounds reads to length bytes.
func NewSection(src io.ReadSeeker, offset, length int64) (*Reader, error) {
	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("invalid section offset=%d length=%d", offset, length)
	}
	if _, err := src.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking to section start: %w", err)
	}
	return &Reader{
		src:       src,
		digest:    md5.New(),
		bounded:   true,
		base:      offset,
		length:    length,
		remaining: length,
	}, nil
}

// Open opens a file for hashing. The returned reader owns the file and
// closes it on Close.
func Open(path string) (*Reader, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", path, err)
	}
	r := New(f)
	r.owned = true
	return r, info.Size(), nil
}

func (r *Reader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, ErrClosed
	}
	if r.bounded {
		if r.remaining <= 0 {
			return 0, io.EOF
		}
		if int64(len(p)) > r.remaining {
			p = p[:r.remaining]
		}
	}

	n, err := r.src.Read(p)
	if n > 0 {
		r.digest.Write(p[:n])
		if r.mirror != nil {
			r.mirror.Write(p[:n])
		}
		r.count += int64(n)
		if r.bounded {
			r.remaining -= int64(n)
		}
	}
	if r.bounded && err == io.EOF && r.remaining > 0 {
		return n, io.ErrUnexpectedEOF
	}
	return n, err
}

// Seek moves the source and restarts the digest at the new position.
// For bounded readers io.SeekEnd resolves against the section end. A mirror
// digest is rewound so that it holds exactly the bytes before the new
// position.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	if r.closed {
		return 0, ErrClosed
	}

	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		cur, err := r.Tell()
		if err != nil {
			return 0, err
		}
		pos = cur + offset
	case io.SeekEnd:
		if !r.bounded {
			return 0, fmt.Errorf("%w: SeekEnd on unbounded reader", ErrUnsupportedWhence)
		}
		pos = r.length + offset
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedWhence, whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("%w: negative position %d", ErrInvalidSeek, pos)
	}

	if r.mirror != nil {
		if err := r.rewindMirror(pos); err != nil {
			return 0, err
		}
	}
	if _, err := r.src.Seek(r.base+pos, io.SeekStart); err != nil {
		return 0, err
	}

	r.digest.Reset()
	r.count = 0
	if r.bounded {
		r.remaining = max(r.length-pos, 0)
	}
	return pos, nil
}

// rewindMirror restores the mirror to its state at the Mirror call and
// replays the source bytes up to pos into it.
func (r *Reader) rewindMirror(pos int64) error {
	if pos < r.mirrorFrom {
		return fmt.Errorf("%w: position %d is before mirror start %d", ErrInvalidSeek, pos, r.mirrorFrom)
	}
	if err := r.mirror.(encoding.BinaryUnmarshaler).UnmarshalBinary(r.mirrorState); err != nil {
		return fmt.Errorf("restoring mirror digest: %w", err)
	}
	if _, err := r.src.Seek(r.base+r.mirrorFrom, io.SeekStart); err != nil {
		return err
	}

	upto := pos
	if r.bounded {
		upto = min(pos, r.length)
	}
	if _, err := io.CopyN(r.mirror, r.src, upto-r.mirrorFrom); err != nil && err != io.EOF {
		return fmt.Errorf("replaying mirror digest: %w", err)
	}
	return nil
}

// Mirror additionally feeds every byte read to h, typically a digest that
// spans several sections. h is snapshotted at the current position and must
// therefore implement encoding.BinaryMarshaler and BinaryUnmarshaler, as the
// crypto digests do. Seeking never moves before that position.
func (r *Reader) Mirror(h hash.Hash) error {
	m, ok := h.(encoding.BinaryMarshaler)
	if _, canRestore := h.(encoding.BinaryUnmarshaler); !ok || !canRestore {
		return ErrMirrorState
	}
	state, err := m.MarshalBinary()
	if err != nil {
		return fmt.Errorf("snapshotting mirror digest: %w", err)
	}
	pos, err := r.Tell()
	if err != nil {
		return err
	}

	r.mirror = h
	r.mirrorState = state
	r.mirrorFrom = pos
	return nil
}

// Tell reports the current position.
func (r *Reader) Tell() (int64, error) {
	pos, err := r.src.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	return pos - r.base, nil
}

// Close closes the source if the reader owns it.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if c, ok := r.src.(io.Closer); ok && r.owned {
		return c.Close()
	}
	return nil
}

// Sum returns the hex MD5 of the bytes read since construction or the last
// Seek. It is only meaningful once the pass has been read to the end.
func (r *Reader) Sum() string {
	return hex.EncodeToString(r.digest.Sum(nil))
}

// Count returns the number of bytes hashed in the current pass.
func (r *Reader) Count() int64 {
	return r.count
}

// Remaining returns the bytes left in a bounded section, or -1 if unbounded.
func (r *Reader) Remaining() int64 {
	if !r.bounded {
		return -1
	}
	return r.remaining
}
