// Package framestore writes downloaded frames to local storage.
package framestore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/spf13/afero"

	"github.com/tphakala/polecam/internal/errors"
	"github.com/tphakala/polecam/internal/logger"
)

// ErrSizeMismatch is returned when a written frame's on-disk size differs from the frame size.
var ErrSizeMismatch = errors.NewStd("frame size mismatch on disk")

const (
	dirPermissions  = 0o755
	filePermissions = 0o644
	bytesPerGB      = 1 << 30
)

// Store writes frames below <root>/<pole>.
type Store struct {
	fs   afero.Fs
	root string
	pole string
	log  logger.Logger
}

// New creates a store on the given filesystem.
func New(fs afero.Fs, root, pole string, log logger.Logger) *Store {
	if log == nil {
		log = logger.Global().Module("framestore")
	}
	return &Store{fs: fs, root: root, pole: pole, log: log}
}

// NewOS creates a store on the host filesystem.
func NewOS(root, pole string, log logger.Logger) *Store {
	return New(afero.NewOsFs(), root, pole, log)
}

// Root returns the base directory.
func (s *Store) Root() string {
	return s.root
}

// FramePath returns <root>/<pole>/<YYYYMMDD>/<YYYYMMDDTHHMMSS.mmm>/<camID>_<seq:03d>.raw.
func (s *Store) FramePath(eventTS time.Time, cameraID string, seq uint) string {
	return filepath.Join(
		s.root,
		s.pole,
		eventTS.Format("20060102"),
		eventTS.Format("20060102T150405.000"),
		fmt.Sprintf("%s_%03d.raw", cameraID, seq),
	)
}

// WriteFile writes data to path, creating parent directories. The file appears
// under its final name only once fully written.
func (s *Store) WriteFile(path string, data []byte) (string, error) {
	if err := s.fs.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return "", errors.New(err).
			Component("framestore").
			Category(errors.CategoryFileIO).
			Context("operation", "create-frame-dir").
			Context("path", filepath.Dir(path)).
			Build()
	}

	tmp := path + ".part"
	if err := afero.WriteFile(s.fs, tmp, data, filePermissions); err != nil {
		_ = s.fs.Remove(tmp)
		return "", errors.New(err).
			Component("framestore").
			Category(errors.CategoryFrameWrite).
			Context("operation", "write-frame").
			Context("path", path).
			Context("bytes", len(data)).
			Build()
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)
		return "", errors.New(err).
			Component("framestore").
			Category(errors.CategoryFrameWrite).
			Context("operation", "rename-frame").
			Context("path", path).
			Build()
	}

	return path, nil
}

// FileSize returns the size of the file at path.
func (s *Store) FileSize(path string) (int64, error) {
	info, err := s.fs.Stat(path)
	if err != nil {
		return 0, errors.New(err).
			Component("framestore").
			Category(errors.CategoryFileIO).
			Context("operation", "stat-frame").
			Context("path", path).
			Build()
	}
	return info.Size(), nil
}

// WriteFrame writes data and verifies the on-disk size equals expected.
// A size mismatch returns the path together with ErrSizeMismatch.
func (s *Store) WriteFrame(path string, data []byte, expected int64) (string, error) {
	written, err := s.WriteFile(path, data)
	if err != nil {
		return "", err
	}

	size, err := s.FileSize(written)
	if err != nil {
		return written, err
	}
	if size != expected {
		return written, errors.New(fmt.Errorf("%w: %s is %d bytes, expected %d", ErrSizeMismatch, written, size, expected)).
			Component("framestore").
			Category(errors.CategoryFrameWrite).
			Context("path", written).
			Context("size", size).
			Context("expected", expected).
			Build()
	}
	return written, nil
}

// CheckFreeSpace logs a warning and returns an error when the filesystem holding
// the store has less than minFree bytes available. In-memory filesystems are not checked.
func (s *Store) CheckFreeSpace(minFree uint64) (uint64, error) {
	if _, ok := s.fs.(*afero.OsFs); !ok || minFree == 0 {
		return 0, nil
	}

	if err := os.MkdirAll(s.root, dirPermissions); err != nil {
		return 0, errors.New(err).
			Component("framestore").
			Category(errors.CategoryFileIO).
			Context("operation", "create-root").
			Context("path", s.root).
			Build()
	}

	usage, err := disk.Usage(s.root)
	if err != nil {
		return 0, errors.New(err).
			Component("framestore").
			Category(errors.CategorySystem).
			Context("operation", "disk-usage").
			Context("path", s.root).
			Build()
	}

	if usage.Free < minFree {
		s.log.Warn("low free space for frames",
			logger.String("path", s.root),
			logger.String("free_gb", fmt.Sprintf("%.2f", float64(usage.Free)/bytesPerGB)),
			logger.String("min_free_gb", fmt.Sprintf("%.2f", float64(minFree)/bytesPerGB)),
			logger.Float64("used_percent", usage.UsedPercent))
		return usage.Free, errors.Newf("free space %d below minimum %d", usage.Free, minFree).
			Component("framestore").
			Category(errors.CategoryLimit).
			Context("path", s.root).
			Build()
	}

	return usage.Free, nil
}
