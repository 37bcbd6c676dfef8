package framestore

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/tphakala/polecam/internal/errors"
	"github.com/tphakala/polecam/internal/logger"
)

const (
	dayLayout   = "20060102"
	eventLayout = "20060102T150405.000"
)

// RetentionPolicy describes how long event directories are kept.
type RetentionPolicy struct {
	MaxAge       time.Duration
	Interval     time.Duration
	MaxDeletions int // 0 for no limit
}

// Prune removes event directories of this pole whose event time is before cutoff,
// oldest first, then removes day directories left empty. Entries that do not
// follow the frame path layout are left alone.
func (s *Store) Prune(ctx context.Context, cutoff time.Time, maxDeletions int) (int, error) {
	poleDir := filepath.Join(s.root, s.pole)
	days, err := afero.ReadDir(s.fs, poleDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, pruneError(err, poleDir)
	}

	deleted := 0
	for _, day := range days {
		if !day.IsDir() {
			continue
		}
		dayStart, err := time.ParseInLocation(dayLayout, day.Name(), time.Local)
		if err != nil {
			continue
		}
		// ReadDir sorts by name, so later days are newer
		if !dayStart.Before(cutoff) {
			break
		}

		dayDir := filepath.Join(poleDir, day.Name())
		events, err := afero.ReadDir(s.fs, dayDir)
		if err != nil {
			return deleted, pruneError(err, dayDir)
		}

		remaining := len(events)
		for _, ev := range events {
			if err := ctx.Err(); err != nil {
				return deleted, err
			}
			ts, err := time.ParseInLocation(eventLayout, ev.Name(), time.Local)
			if err != nil || !ev.IsDir() || !ts.Before(cutoff) {
				continue
			}

			evDir := filepath.Join(dayDir, ev.Name())
			if err := s.fs.RemoveAll(evDir); err != nil {
				return deleted, pruneError(err, evDir)
			}
			s.log.Debug("removed expired event", logger.String("path", evDir))
			deleted++
			remaining--

			if maxDeletions > 0 && deleted >= maxDeletions {
				return deleted, nil
			}
		}

		if remaining == 0 {
			if err := s.fs.Remove(dayDir); err != nil {
				s.log.Warn("failed to remove empty day directory", logger.String("path", dayDir), logger.Error(err))
			}
		}
	}

	return deleted, nil
}

// RunRetention prunes expired events every policy.Interval until ctx is done.
// The first run happens immediately.
func (s *Store) RunRetention(ctx context.Context, policy RetentionPolicy) {
	ticker := time.NewTicker(policy.Interval)
	defer ticker.Stop()

	s.log.Info("frame retention enabled",
		logger.Duration("max_age", policy.MaxAge),
		logger.Duration("interval", policy.Interval))

	for {
		deleted, err := s.Prune(ctx, time.Now().Add(-policy.MaxAge), policy.MaxDeletions)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			s.log.Error("frame retention run failed", logger.Error(err), logger.Int("deleted", deleted))
		case deleted > 0:
			s.log.Info("expired events removed", logger.Int("deleted", deleted))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func pruneError(err error, path string) error {
	return errors.New(err).
		Component("framestore").
		Category(errors.CategoryFileIO).
		Context("operation", "prune-events").
		Context("path", path).
		Build()
}
