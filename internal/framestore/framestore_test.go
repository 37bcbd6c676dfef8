package framestore

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/polecam/internal/errors"
	"github.com/tphakala/polecam/internal/logger"
)

func newTestStore(fs afero.Fs) *Store {
	return New(fs, "/data", "gate-1", logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC))
}

func TestFramePath(t *testing.T) {
	t.Parallel()

	s := newTestStore(afero.NewMemMapFs())
	ts := time.Date(2026, 3, 7, 14, 5, 9, 123_456_789, time.UTC)

	got := s.FramePath(ts, "cam-2", 7)
	want := filepath.Join("/data", "gate-1", "20260307", "20260307T140509.123", "cam-2_007.raw")
	assert.Equal(t, want, got)
}

func TestWriteFrame(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	s := newTestStore(fs)
	path := s.FramePath(time.Unix(0, 0).UTC(), "cam", 1)

	written, err := s.WriteFrame(path, []byte("abcd"), 4)
	require.NoError(t, err)
	assert.Equal(t, path, written)

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), data)

	exists, err := afero.Exists(fs, path+".part")
	require.NoError(t, err)
	assert.False(t, exists)

	size, err := s.FileSize(path)
	require.NoError(t, err)
	assert.Equal(t, int64(4), size)
}

func TestWriteFrame_SizeMismatch(t *testing.T) {
	t.Parallel()

	s := newTestStore(afero.NewMemMapFs())
	written, err := s.WriteFrame("/data/x.raw", []byte("abc"), 4)
	require.ErrorIs(t, err, ErrSizeMismatch)
	assert.Equal(t, "/data/x.raw", written)
	assert.True(t, errors.IsCategory(err, errors.CategoryFrameWrite))
}

func TestWriteFile_ReadOnlyFs(t *testing.T) {
	t.Parallel()

	s := newTestStore(afero.NewReadOnlyFs(afero.NewMemMapFs()))
	_, err := s.WriteFile("/data/a/b.raw", []byte{1})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
}

func TestFileSize_Missing(t *testing.T) {
	t.Parallel()

	_, err := newTestStore(afero.NewMemMapFs()).FileSize("/nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestCheckFreeSpace(t *testing.T) {
	t.Parallel()

	mem := newTestStore(afero.NewMemMapFs())
	free, err := mem.CheckFreeSpace(1 << 62)
	require.NoError(t, err, "in-memory filesystems are not checked")
	assert.Zero(t, free)

	dir := t.TempDir()
	host := NewOS(dir, "p", logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC))

	free, err = host.CheckFreeSpace(1)
	require.NoError(t, err)
	assert.Positive(t, free)

	_, err = host.CheckFreeSpace(1 << 62)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryLimit))
}
