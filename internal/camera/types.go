// Package camera runs one line-scan camera through its acquisition cycle.
//
// A DriverLoop owns the vendor device on a dedicated OS thread and moves it
// between registering triggers, downloading frames and flushing. A Session
// wraps the loop with context-aware waits and download admission control so
// a pole orchestrator can drive many cameras concurrently.
package camera

import (
	"slices"
	"time"
)

// TriggerEvent is one hardware edge registered during a cycle.
type TriggerEvent struct {
	SequenceNum uint    // 1-based, contiguous within a cycle
	DeviceTS    uint64  // camera clock
	HostTS      float64 // wall clock at detection, seconds since epoch
}

// FrameRecord is one downloaded frame.
type FrameRecord struct {
	FrameID  uint
	DeviceTS uint64
	ByteSize uint
	Bytes    []byte
}

// Acquisition holds everything one camera captured in one cycle.
type Acquisition struct {
	CameraID string
	Triggers []TriggerEvent
	Frames   []FrameRecord
}

// clone returns a copy that shares no slices with a.
func (a Acquisition) clone() Acquisition {
	return Acquisition{
		CameraID: a.CameraID,
		Triggers: slices.Clone(a.Triggers),
		Frames:   slices.Clone(a.Frames),
	}
}

// PairedShoot is a trigger and the frame that followed it, if any.
type PairedShoot struct {
	Trigger TriggerEvent
	Frame   *FrameRecord
}

// HasFrame reports whether a frame was matched to the trigger.
func (p PairedShoot) HasFrame() bool {
	return p.Frame != nil
}

// CycleResult is what a camera hands back at the end of a cycle.
type CycleResult struct {
	Acquisition  Acquisition
	LoopError    bool          // a step failed during the cycle
	DownloadTime time.Duration // time between download admission and completion
}

// Spec identifies the physical camera a driver should open.
type Spec struct {
	ID           string
	IP           string
	SettingsFile string
}

// OpenState is the result of opening the device.
type OpenState int

const (
	OpenUnknown OpenState = iota // still trying
	OpenOpened
	OpenFailed // retries exhausted, terminal
	OpenLost   // device vanished after opening, terminal
)

func (s OpenState) String() string {
	switch s {
	case OpenOpened:
		return "opened"
	case OpenFailed:
		return "failed"
	case OpenLost:
		return "lost"
	default:
		return "unknown"
	}
}

// LoopState is the driver loop state.
type LoopState int

const (
	StateInit LoopState = iota
	StateWait
	StateStarted
	StateHold
	StateDownload
	StateFlush
	StateClosed
)

func (s LoopState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateWait:
		return "WAIT"
	case StateStarted:
		return "STARTED"
	case StateHold:
		return "HOLD"
	case StateDownload:
		return "DL"
	case StateFlush:
		return "FLUSH"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// hostSeconds converts a wall-clock time to fractional seconds since epoch.
func hostSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func hostTime(seconds float64) time.Time {
	return time.Unix(0, int64(seconds*float64(time.Second)))
}
