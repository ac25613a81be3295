package objstore_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/espen/blobmigrate/internal/hashstream"
	"github.com/espen/blobmigrate/internal/objstore"
	"github.com/espen/blobmigrate/internal/objstore/objstoretest"
)

var _ hashstream.Stream = (*objstore.Reader)(nil)

func newReaderFixture(t *testing.T, data []byte) (*objstoretest.Server, *objstore.Pool) {
	t.Helper()
	srv := objstoretest.NewServer()
	srv.PutObject("c", "o", data)
	return srv, objstore.NewPool(srv.Dial, 2)
}

func TestReaderIsLazy(t *testing.T) {
	srv, pool := newReaderFixture(t, []byte("data"))

	r := objstore.NewReader(context.Background(), pool, "c", "o")
	assert.Equal(t, 0, srv.Dials())
	assert.Equal(t, 0, srv.Calls("ObjectGet"))

	require.NoError(t, r.Close())
	assert.Equal(t, 0, srv.Dials())
}

func TestReaderStreamsAcrossChunks(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 100)
	srv, pool := newReaderFixture(t, data)

	r := objstore.NewReader(context.Background(), pool, "c", "o", objstore.WithChunkSize(64))

	buf := make([]byte, 150)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 150, n)
	assert.Equal(t, data[:150], buf)

	pos, _ := r.Tell()
	assert.Equal(t, int64(150), pos)
	assert.Equal(t, int64(len(data)), r.Info().Size)

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data[150:], rest)

	// Drained: the connection is back in the pool.
	assert.Equal(t, 1, pool.Len())
	assert.Equal(t, 0, srv.Closed())

	n, err = r.Read(buf)
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)

	require.NoError(t, r.Close())
	assert.Equal(t, 1, pool.Len())
}

func TestReaderFillsRequestedSize(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 1000)
	_, pool := newReaderFixture(t, data)

	r := objstore.NewReader(context.Background(), pool, "c", "o", objstore.WithChunkSize(7))
	buf := make([]byte, 500)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 500, n)

	n, err = r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 500, n)

	_, err = r.Read(buf)
	assert.Equal(t, io.EOF, err)
}

func TestReaderEmptyObject(t *testing.T) {
	_, pool := newReaderFixture(t, nil)

	r := objstore.NewReader(context.Background(), pool, "c", "o")
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 1, pool.Len())
}

func TestReaderCloseEarlyDiscardsConnection(t *testing.T) {
	data := bytes.Repeat([]byte("abc"), 1000)
	srv, pool := newReaderFixture(t, data)

	r := objstore.NewReader(context.Background(), pool, "c", "o", objstore.WithChunkSize(16))
	_, err := io.ReadFull(r, make([]byte, 10))
	require.NoError(t, err)

	require.NoError(t, r.Close())
	assert.Equal(t, 0, pool.Len())
	assert.Equal(t, 1, srv.Closed())

	_, err = r.Read(make([]byte, 1))
	assert.ErrorIs(t, err, objstore.ErrReaderClosed)
}

func TestReaderSeek(t *testing.T) {
	data := []byte("0123456789abcdefghijklmnopqrstuvwxyz")
	_, pool := newReaderFixture(t, data)

	r := objstore.NewReader(context.Background(), pool, "c", "o", objstore.WithChunkSize(5))

	pos, err := r.Seek(10, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(10), pos)

	buf := make([]byte, 3)
	_, err = io.ReadFull(r, buf)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf))

	pos, err = r.Seek(2, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(15), pos)

	pos, err = r.Seek(-3, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)-3), pos)

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "xyz", string(rest))
}

func TestReaderBackwardSeekFails(t *testing.T) {
	data := []byte("0123456789")
	_, pool := newReaderFixture(t, data)

	r := objstore.NewReader(context.Background(), pool, "c", "o")
	_, err := io.ReadFull(r, make([]byte, 6))
	require.NoError(t, err)

	pos, err := r.Seek(2, io.SeekStart)
	assert.ErrorIs(t, err, objstore.ErrBackwardSeek)
	assert.Equal(t, int64(6), pos)

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "6789", string(rest))
}

func TestReaderNotFound(t *testing.T) {
	srv, pool := newReaderFixture(t, []byte("x"))

	r := objstore.NewReader(context.Background(), pool, "c", "missing")
	_, err := r.Read(make([]byte, 1))
	assert.True(t, objstore.IsNotFound(err))

	// A 404 does not poison the connection.
	assert.Equal(t, 1, pool.Len())
	assert.Equal(t, 0, srv.Closed())
}

func TestReaderBackendErrorDiscardsConnection(t *testing.T) {
	srv, pool := newReaderFixture(t, []byte("x"))
	boom := errors.New("503 service unavailable")
	srv.FailOn = func(op, container, object string) error {
		if op == "ObjectGet" {
			return boom
		}
		return nil
	}

	r := objstore.NewReader(context.Background(), pool, "c", "o")
	err := r.Open()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, pool.Len())
	assert.Equal(t, 1, srv.Closed())
}

func TestReaderReadsManifestObject(t *testing.T) {
	srv := objstoretest.NewServer()
	srv.PutObject("c", "big/0000", []byte("hello "))
	srv.PutObject("c", "big/0001", []byte("large "))
	srv.PutObject("c", "big/0002", []byte("world"))

	pool := objstore.NewPool(srv.Dial, 1)
	conn, err := pool.Get(context.Background())
	require.NoError(t, err)
	_, err = conn.ObjectPut(context.Background(), "c", "big", bytes.NewReader(nil),
		objstore.Headers{objstore.HeaderObjectManifest: "c/big/"})
	require.NoError(t, err)
	pool.Put(conn)

	r := objstore.NewReader(context.Background(), pool, "c", "big", objstore.WithChunkSize(4))
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello large world", string(got))
	assert.True(t, r.Info().IsManifest())
}
