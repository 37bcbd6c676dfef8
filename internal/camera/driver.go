package camera

import (
	"context"

	"github.com/tphakala/polecam/internal/errors"
)

var (
	// ErrDeviceLost is returned by device primitives once the camera has vanished.
	ErrDeviceLost = errors.NewStd("camera device lost")
	// ErrSessionStopped is returned when waiting on a session whose loop has terminated.
	ErrSessionStopped = errors.NewStd("camera session stopped")
	// ErrNotOpened is returned when cycling a session whose camera never opened.
	ErrNotOpened = errors.NewStd("camera not opened")
)

// TriggerFunc receives hardware trigger edges with the camera clock value.
type TriggerFunc func(deviceTS uint64)

// FrameFunc receives frames as they are transmitted. The data slice may be reused by the driver after return.
type FrameFunc func(frameID uint, deviceTS uint64, data []byte)

// Driver opens physical cameras. Open makes one attempt; retrying is up to the caller.
type Driver interface {
	Open(ctx context.Context, spec Spec) (Device, error)
}

// Device is an opened camera. Callbacks may run on any goroutine.
// Every primitive returns ErrDeviceLost once the camera is gone.
type Device interface {
	LoadSettings(path string) error
	EnableTriggerNotification(cb TriggerFunc) error
	// StartStreaming starts frame transmission; StopStreaming also flushes
	// undelivered frames and resets the frame counter.
	StartStreaming(cb FrameFunc, bufferCount int) error
	// SetHold keeps frames buffered on the camera while on
	SetHold(on bool) error
	StopStreaming() error
	Close() error
}

// LossNotifier is implemented by devices that report disconnects asynchronously.
type LossNotifier interface {
	NotifyLoss(fn func())
}
