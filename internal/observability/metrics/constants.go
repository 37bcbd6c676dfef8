// Package metrics provides constants used across metric definitions.
package metrics

import "time"

const (
	// ShutdownTimeout bounds how long the metrics HTTP server gets to shut down.
	ShutdownTimeout = 5 * time.Second
)

// Datastore operation names.
const (
	OpSaveEvent    = "save_event"
	OpSaveError    = "save_camera_error"
	OpLatestEvents = "latest_events"
	OpCameraErrors = "camera_errors"
)

// Operation status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)
