// Package broker carries finished events and camera error reports out of the pole.
//
// A Sink receives one SendEventData call per event and one SendCameraError call
// per camera that did not deliver cleanly. Sinks are composed: Multi fans out,
// Deduplicator suppresses repeated error reports, and the adapters hand the
// reports to MQTT, the event archive, operator alerts or the log.
package broker

import (
	"context"
	"time"
)

// ErrorKind classifies a camera error report.
type ErrorKind string

const (
	// KindUnexpectedData: data arrived from a camera that never registered a trigger this cycle.
	KindUnexpectedData ErrorKind = "unexpected_data"
	// KindLessTriggers: the camera was rejected because another camera saw more triggers.
	KindLessTriggers ErrorKind = "less_triggers"
	// KindExecError: the camera loop failed during the cycle.
	KindExecError ErrorKind = "exec_error"
	// KindMissedTrigger: the camera saw no trigger during an event.
	KindMissedTrigger ErrorKind = "missed_trigger"
	// KindMissedFrame: one or more frames were not delivered.
	KindMissedFrame ErrorKind = "missed_frame"
	// KindCamLost: the camera was removed from the pole.
	KindCamLost ErrorKind = "cam_lost"
)

// AllKinds lists every error kind in reporting order.
var AllKinds = []ErrorKind{
	KindUnexpectedData,
	KindLessTriggers,
	KindExecError,
	KindMissedTrigger,
	KindMissedFrame,
	KindCamLost,
}

// Shoot is one written frame of one camera.
type Shoot struct {
	CameraID  string `json:"camera_id"`
	CameraNum int    `json:"camera_num"`
	ImagePath string `json:"image_path"`
}

// ShootArray groups the shoots of all cameras for one trigger number.
type ShootArray struct {
	TriggerNum    uint    `json:"trigger_num"`
	Timestamp     float64 `json:"timestamp"`
	Shoots        []Shoot `json:"shoots"`
	TransactionID string  `json:"transaction_id"`
}

// Sink receives the reports of the pole orchestrator.
type Sink interface {
	SendEventData(ctx context.Context, eventTS time.Time, pole string, arrays []ShootArray) error
	SendCameraError(ctx context.Context, cameraID string, stillRunning bool, kind ErrorKind) error
}
