package objstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/ncw/swift/v2"
	"github.com/ncw/swift/v2/swifttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapSwiftError(t *testing.T) {
	assert.NoError(t, mapSwiftError(nil))
	assert.True(t, IsNotFound(mapSwiftError(swift.ObjectNotFound)))
	assert.True(t, IsNotFound(mapSwiftError(swift.ContainerNotFound)))
	assert.True(t, IsNotFound(mapSwiftError(fmt.Errorf("wrapped: %w", &swift.Error{StatusCode: 404, Text: "gone"}))))

	other := &swift.Error{StatusCode: 503, Text: "unavailable"}
	err := mapSwiftError(other)
	assert.False(t, IsNotFound(err))
	assert.Same(t, other, err)

	plain := errors.New("connection reset")
	assert.False(t, IsNotFound(mapSwiftError(plain)))
}

func TestEtagOf(t *testing.T) {
	assert.Equal(t, "abc", etagOf(swift.Headers{"Etag": `"abc"`}))
	assert.Equal(t, "def", etagOf(swift.Headers{"ETag": "def"}))
	assert.Equal(t, "", etagOf(swift.Headers{}))
}

func TestSwiftConnAgainstTestServer(t *testing.T) {
	srv, err := swifttest.NewSwiftServer("localhost")
	require.NoError(t, err)
	defer srv.Close()

	dial := SwiftDialer(SwiftConfig{
		AuthURL:  srv.AuthURL,
		UserName: swifttest.TEST_ACCOUNT,
		APIKey:   swifttest.TEST_ACCOUNT,
	})
	ctx := context.Background()

	conn, err := dial(ctx)
	require.NoError(t, err)
	defer conn.Close()

	err = conn.ContainerHead(ctx, "blobs_0")
	assert.True(t, IsNotFound(err), "expected not found, got %v", err)

	require.NoError(t, conn.ContainerCreate(ctx, "blobs_0"))
	require.NoError(t, conn.ContainerHead(ctx, "blobs_0"))

	_, err = conn.ObjectHead(ctx, "blobs_0", "7")
	assert.True(t, IsNotFound(err), "expected not found, got %v", err)

	content := []byte("migrated blob contents")
	sum := md5.Sum(content)
	etag, err := conn.ObjectPut(ctx, "blobs_0", "7", bytes.NewReader(content), nil)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(sum[:]), etag)

	info, err := conn.ObjectHead(ctx, "blobs_0", "7")
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), info.Size)
	assert.False(t, info.IsManifest())

	body, _, err := conn.ObjectGet(ctx, "blobs_0", "7")
	require.NoError(t, err)
	got, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	assert.Equal(t, content, got)

	require.NoError(t, conn.ObjectDelete(ctx, "blobs_0", "7"))
	_, err = conn.ObjectHead(ctx, "blobs_0", "7")
	assert.True(t, IsNotFound(err))
}
