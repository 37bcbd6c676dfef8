package broker

import (
	"context"
	"time"

	"github.com/tphakala/polecam/internal/errors"
)

// Multi forwards every report to all of its sinks.
type Multi struct {
	sinks []Sink
}

// NewMulti creates a fan-out sink. Nil sinks are skipped.
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len returns the number of sinks.
func (m *Multi) Len() int {
	return len(m.sinks)
}

// SendEventData forwards to every sink and joins their errors.
func (m *Multi) SendEventData(ctx context.Context, eventTS time.Time, pole string, arrays []ShootArray) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.SendEventData(ctx, eventTS, pole, arrays); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SendCameraError forwards to every sink and joins their errors.
func (m *Multi) SendCameraError(ctx context.Context, cameraID string, stillRunning bool, kind ErrorKind) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.SendCameraError(ctx, cameraID, stillRunning, kind); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
