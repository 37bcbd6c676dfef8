package broker

import (
	"context"
	"time"

	"github.com/tphakala/polecam/internal/logger"
)

// LogSink only logs reports.
type LogSink struct {
	log logger.Logger
}

// NewLogSink creates a sink writing to log.
func NewLogSink(log logger.Logger) *LogSink {
	if log == nil {
		log = logger.Global().Module("broker")
	}
	return &LogSink{log: log}
}

// SendEventData logs a summary of the event.
func (s *LogSink) SendEventData(_ context.Context, eventTS time.Time, pole string, arrays []ShootArray) error {
	shoots := 0
	for _, a := range arrays {
		shoots += len(a.Shoots)
	}
	s.log.Info("event data",
		logger.String("pole", pole),
		logger.Time("event_time", eventTS),
		logger.Int("triggers", len(arrays)),
		logger.Int("shoots", shoots))
	return nil
}

// SendCameraError logs the report.
func (s *LogSink) SendCameraError(_ context.Context, cameraID string, stillRunning bool, kind ErrorKind) error {
	s.log.Warn("camera error",
		logger.String("camera_id", cameraID),
		logger.String("kind", string(kind)),
		logger.Bool("still_running", stillRunning))
	return nil
}
