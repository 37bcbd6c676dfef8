package broker

import (
	"context"
	"time"
)

// Archive persists reports. datastore.Interface satisfies it.
type Archive interface {
	SaveEvent(pole string, eventTS time.Time, arrays []ShootArray) error
	SaveCameraError(cameraID string, kind ErrorKind, stillRunning bool) error
}

// ArchiveSink writes reports to the event archive.
type ArchiveSink struct {
	archive Archive
}

// NewArchiveSink creates a sink backed by archive.
func NewArchiveSink(archive Archive) *ArchiveSink {
	return &ArchiveSink{archive: archive}
}

// SendEventData stores the event and its shoots.
func (s *ArchiveSink) SendEventData(_ context.Context, eventTS time.Time, pole string, arrays []ShootArray) error {
	return s.archive.SaveEvent(pole, eventTS, arrays)
}

// SendCameraError stores the error report.
func (s *ArchiveSink) SendCameraError(_ context.Context, cameraID string, stillRunning bool, kind ErrorKind) error {
	return s.archive.SaveCameraError(cameraID, kind, stillRunning)
}
