package broker

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// Notifier delivers an operator alert.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// AlertSink turns severe camera errors into operator alerts. Event data is ignored.
type AlertSink struct {
	notifier Notifier
	pole     string
	kinds    []ErrorKind
}

// NewAlertSink alerts on the given kinds, or on cam_lost and exec_error when none are given.
func NewAlertSink(notifier Notifier, pole string, kinds ...ErrorKind) *AlertSink {
	if len(kinds) == 0 {
		kinds = []ErrorKind{KindCamLost, KindExecError}
	}
	return &AlertSink{
		notifier: notifier,
		pole:     pole,
		kinds:    kinds,
	}
}

// SendEventData does nothing.
func (s *AlertSink) SendEventData(context.Context, time.Time, string, []ShootArray) error {
	return nil
}

// SendCameraError sends an alert when kind is one of the alerting kinds.
func (s *AlertSink) SendCameraError(ctx context.Context, cameraID string, stillRunning bool, kind ErrorKind) error {
	if !slices.Contains(s.kinds, kind) {
		return nil
	}

	title := fmt.Sprintf("polecam %s: camera %s", s.pole, cameraID)
	var message string
	switch kind {
	case KindCamLost:
		message = fmt.Sprintf("Camera %s on pole %s was lost and removed from service.", cameraID, s.pole)
	default:
		message = fmt.Sprintf("Camera %s on pole %s reported %s.", cameraID, s.pole, kind)
		if stillRunning {
			message += " The camera is still running."
		}
	}
	return s.notifier.Notify(ctx, title, message)
}
