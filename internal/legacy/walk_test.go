package legacy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/espen/blobmigrate/internal/placement"
)

var old = time.Now().Add(-48 * time.Hour)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	return store
}

func writeBlob(t *testing.T, s *Store, id uint64, content string, mtime time.Time) string {
	t.Helper()
	path := s.Path(id)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func collect(t *testing.T, s *Store, opts WalkOptions) ([]uint64, WalkStats) {
	t.Helper()
	var ids []uint64
	stats, err := s.Walk(context.Background(), opts, func(_ context.Context, f File) error {
		ids = append(ids, f.ID)
		return nil
	})
	require.NoError(t, err)
	return ids, stats
}

func TestNewStore(t *testing.T) {
	_, err := NewStore(filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0600))
	_, err = NewStore(file, nil)
	assert.ErrorIs(t, err, ErrNotDirectory)
}

func TestPath(t *testing.T) {
	s := &Store{root: "/srv/blobs"}
	assert.Equal(t, filepath.FromSlash("/srv/blobs/12/34/56/78"), s.Path(0x12345678))
}

func TestWalkOrderAndFile(t *testing.T) {
	s := setupTestStore(t)
	ids := []uint64{0x12345678, 0x00000001, 0xfe000000, 0x12345600, 0x00010000}
	for _, id := range ids {
		writeBlob(t, s, id, "blob", old)
	}

	var files []File
	_, err := s.Walk(context.Background(), WalkOptions{EndID: placement.MaxID}, func(_ context.Context, f File) error {
		files = append(files, f)
		return nil
	})
	require.NoError(t, err)

	var got []uint64
	for _, f := range files {
		got = append(got, f.ID)
	}
	assert.Equal(t, []uint64{0x00000001, 0x00010000, 0x12345600, 0x12345678, 0xfe000000}, got)
	assert.Equal(t, s.Path(0x00000001), files[0].Path)
	assert.Equal(t, int64(4), files[0].Size)
}

func TestWalkRange(t *testing.T) {
	s := setupTestStore(t)
	for _, id := range []uint64{0x10ffffff, 0x11000000, 0x11000001, 0x11ff0000, 0x12000000, 0x12000001} {
		writeBlob(t, s, id, "x", old)
	}

	ids, _ := collect(t, s, WalkOptions{StartID: 0x11000001, EndID: 0x12000000})
	assert.Equal(t, []uint64{0x11000001, 0x11ff0000, 0x12000000}, ids)

	ids, _ = collect(t, s, WalkOptions{StartID: 0x11000000, EndID: 0x11000000})
	assert.Equal(t, []uint64{0x11000000}, ids)
}

func TestWalkPrunesOutOfRangeDirectories(t *testing.T) {
	s := setupTestStore(t)
	writeBlob(t, s, 0x20000000, "x", old)

	// An unreadable directory outside the range must never be opened.
	bad := filepath.Join(s.Root(), "30")
	require.NoError(t, os.MkdirAll(filepath.Join(bad, "00"), 0700))
	require.NoError(t, os.Chmod(bad, 0))
	t.Cleanup(func() { os.Chmod(bad, 0700) })

	ids, stats := collect(t, s, WalkOptions{StartID: 0x20000000, EndID: 0x20ffffff})
	assert.Equal(t, []uint64{0x20000000}, ids)
	assert.Equal(t, 4, stats.Dirs)
}

func TestWalkIgnoresNoise(t *testing.T) {
	s := setupTestStore(t)
	path := writeBlob(t, s, 0x01020304, "x", old)

	dir := filepath.Dir(path)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), nil, 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0A"), nil, 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "05.migrated"), nil, 0600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "06"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "07"), nil, 0600))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "lost+found"), nil, 0600))

	ids, stats := collect(t, s, WalkOptions{EndID: placement.MaxID})
	assert.Equal(t, []uint64{0x01020304}, ids)
	assert.Equal(t, 6, stats.Ignored)
}

func TestWalkSkipsRecentFiles(t *testing.T) {
	s := setupTestStore(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	writeBlob(t, s, 1, "old", now.Add(-25*time.Hour))
	writeBlob(t, s, 2, "new", now.Add(-23*time.Hour))

	opts := WalkOptions{
		EndID:        placement.MaxID,
		SettleWindow: DefaultSettleWindow,
		Now:          func() time.Time { return now },
	}
	ids, stats := collect(t, s, opts)
	assert.Equal(t, []uint64{1}, ids)
	assert.Equal(t, 1, stats.Recent)

	opts.SettleWindow = 0
	ids, _ = collect(t, s, opts)
	assert.Equal(t, []uint64{1, 2}, ids)
}

func TestWalkFollowsSymlinks(t *testing.T) {
	s := setupTestStore(t)
	other := t.TempDir()

	target := filepath.Join(other, "34", "56")
	require.NoError(t, os.MkdirAll(target, 0700))
	blob := filepath.Join(target, "78")
	require.NoError(t, os.WriteFile(blob, []byte("linked"), 0600))
	require.NoError(t, os.Chtimes(blob, old, old))

	require.NoError(t, os.Mkdir(filepath.Join(s.Root(), "12"), 0700))
	require.NoError(t, os.Symlink(filepath.Join(other, "34"), filepath.Join(s.Root(), "12", "34")))

	ids, _ := collect(t, s, WalkOptions{EndID: placement.MaxID})
	assert.Equal(t, []uint64{0x12345678}, ids)
}

func TestWalkStopsOnCallbackError(t *testing.T) {
	s := setupTestStore(t)
	writeBlob(t, s, 1, "a", old)
	writeBlob(t, s, 2, "b", old)

	stop := errors.New("stop")
	calls := 0
	_, err := s.Walk(context.Background(), WalkOptions{EndID: placement.MaxID}, func(context.Context, File) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestWalkCancelled(t *testing.T) {
	s := setupTestStore(t)
	writeBlob(t, s, 1, "a", old)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Walk(ctx, WalkOptions{EndID: placement.MaxID}, func(context.Context, File) error {
		t.Fatal("callback must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWalkInvalidRange(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.Walk(context.Background(), WalkOptions{StartID: 5, EndID: 4}, func(context.Context, File) error { return nil })
	assert.Error(t, err)
}

func TestMarkMigrated(t *testing.T) {
	s := setupTestStore(t)
	path := writeBlob(t, s, 7, "x", old)

	require.NoError(t, MarkMigrated(path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path + MigratedSuffix)
	assert.NoError(t, err)

	ids, _ := collect(t, s, WalkOptions{EndID: placement.MaxID})
	assert.Empty(t, ids)

	assert.Error(t, MarkMigrated(path))
}
