package hashstream

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func TestReaderHashesWholeSource(t *testing.T) {
	content := []byte("The quick brown fox jumps over the lazy dog")
	r := New(bytes.NewReader(content))

	got, err := io.ReadAll(r)
	require.NoError(t, err)

	assert.Equal(t, content, got)
	assert.Equal(t, md5Hex(content), r.Sum())
	assert.Equal(t, int64(len(content)), r.Count())
	assert.Equal(t, int64(-1), r.Remaining())

	pos, err := r.Tell()
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), pos)
}

func TestSectionClampsReads(t *testing.T) {
	content := []byte("0123456789abcdefghij")
	r, err := NewSection(bytes.NewReader(content), 5, 7)
	require.NoError(t, err)

	buf := make([]byte, 100)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "56789ab", string(buf[:n]))
	assert.Equal(t, int64(0), r.Remaining())

	n, err = r.Read(buf)
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)

	assert.Equal(t, md5Hex(content[5:12]), r.Sum())
}

func TestSectionShortSource(t *testing.T) {
	r, err := NewSection(bytes.NewReader([]byte("abc")), 1, 10)
	require.NoError(t, err)

	_, err = io.ReadAll(r)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestSeekResetsDigest(t *testing.T) {
	content := []byte("0123456789abcdefghij")
	r, err := NewSection(bytes.NewReader(content), 4, 10)
	require.NoError(t, err)

	_, err = io.ReadFull(r, make([]byte, 3))
	require.NoError(t, err)

	pos, err := r.Seek(4, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(4), pos)
	assert.Equal(t, int64(0), r.Count())
	assert.Equal(t, int64(6), r.Remaining())

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "89abcd", string(got))
	assert.Equal(t, md5Hex(content[8:14]), r.Sum())
}

func TestSeekWhence(t *testing.T) {
	content := []byte("0123456789")

	r, err := NewSection(bytes.NewReader(content), 2, 6)
	require.NoError(t, err)

	pos, err := r.Seek(-2, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(4), pos)
	assert.Equal(t, int64(2), r.Remaining())

	pos, err = r.Seek(1, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(5), pos)
	assert.Equal(t, int64(1), r.Remaining())

	pos, err = r.Seek(20, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(20), pos)
	assert.Equal(t, int64(0), r.Remaining())

	_, err = r.Seek(-1, io.SeekStart)
	assert.ErrorIs(t, err, ErrInvalidSeek)

	u := New(bytes.NewReader(content))
	_, err = u.Seek(0, io.SeekEnd)
	assert.ErrorIs(t, err, ErrUnsupportedWhence)
	_, err = u.Seek(0, 42)
	assert.ErrorIs(t, err, ErrUnsupportedWhence)
}

func TestSectionRewindsToSectionStart(t *testing.T) {
	content := []byte("0123456789")
	r, err := NewSection(bytes.NewReader(content), 4, 4)
	require.NoError(t, err)

	_, err = io.ReadFull(r, make([]byte, 3))
	require.NoError(t, err)

	pos, err := r.Seek(0, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos)
	assert.Equal(t, int64(4), r.Remaining())

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "4567", string(got))
	assert.Equal(t, md5Hex(content[4:8]), r.Sum())

	pos, err = r.Tell()
	require.NoError(t, err)
	assert.Equal(t, int64(4), pos)
}

func TestMirrorSpansSections(t *testing.T) {
	content := bytes.Repeat([]byte("segment-data-"), 100)
	src := bytes.NewReader(content)
	whole := md5.New()

	var parts []string
	for off := int64(0); off < int64(len(content)); off += 300 {
		length := min(300, int64(len(content))-off)
		r, err := NewSection(src, off, length)
		require.NoError(t, err)
		require.NoError(t, r.Mirror(whole))

		got, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, md5Hex(got), r.Sum())
		parts = append(parts, string(got))
	}

	assert.Len(t, parts, 5)
	assert.Equal(t, md5Hex(content), hex.EncodeToString(whole.Sum(nil)))
}

func TestOpenOwnsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob")
	content := []byte("legacy blob")
	require.NoError(t, os.WriteFile(path, content, 0600))

	r, size, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), size)

	_, err = io.Copy(io.Discard, r)
	require.NoError(t, err)
	assert.Equal(t, md5Hex(content), r.Sum())

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err = r.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrClosed)

	_, _, err = Open(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, os.IsNotExist(err))
}

func TestCloseDoesNotCloseBorrowedSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(path, []byte("abcdef"), 0600))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r, err := NewSection(f, 0, 3)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	buf := make([]byte, 3)
	_, err = f.Read(buf)
	require.NoError(t, err)
}

func TestMirrorSurvivesRewind(t *testing.T) {
	content := []byte("0123456789abcdef")
	src := bytes.NewReader(content)
	whole := md5.New()

	for off := int64(0); off < int64(len(content)); off += 6 {
		length := min(6, int64(len(content))-off)
		r, err := NewSection(src, off, length)
		require.NoError(t, err)
		require.NoError(t, r.Mirror(whole))

		_, err = io.ReadFull(r, make([]byte, 4))
		require.NoError(t, err)

		// A partial rewind keeps the bytes before the new position.
		_, err = r.Seek(2, io.SeekStart)
		require.NoError(t, err)
		_, err = io.ReadFull(r, make([]byte, 1))
		require.NoError(t, err)

		_, err = r.Seek(0, io.SeekStart)
		require.NoError(t, err)
		got, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, content[off:off+length], got)
	}

	assert.Equal(t, md5Hex(content), hex.EncodeToString(whole.Sum(nil)))
}

type plainHash struct{ hash.Hash }

func TestMirrorRequiresSavableDigest(t *testing.T) {
	r := New(bytes.NewReader([]byte("abc")))
	assert.ErrorIs(t, r.Mirror(plainHash{md5.New()}), ErrMirrorState)

	require.NoError(t, r.Mirror(md5.New()))
	_, err := io.ReadAll(r)
	require.NoError(t, err)
	_, err = r.Seek(1, io.SeekStart)
	require.NoError(t, err)
}

func TestMirrorRejectsSeekBeforeStart(t *testing.T) {
	src := bytes.NewReader([]byte("abcdef"))
	_, err := src.Seek(3, io.SeekStart)
	require.NoError(t, err)

	r := New(src)
	require.NoError(t, r.Mirror(md5.New()))
	_, err = r.Seek(1, io.SeekStart)
	assert.ErrorIs(t, err, ErrInvalidSeek)
}
