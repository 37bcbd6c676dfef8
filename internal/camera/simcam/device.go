// Package simcam is a simulated line-scan camera driver. It behaves like the
// vendor driver from the loop's point of view: trigger callbacks on every
// edge, frames withheld while hold is on, a frame counter that restarts when
// streaming stops. Tests script it; `polecam run --simulate` pulses it.
package simcam

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/tphakala/polecam/internal/camera"
	"github.com/tphakala/polecam/internal/errors"
)

// Settings is the camera settings file format.
type Settings struct {
	ExposureUS  int     `yaml:"exposure_us"`
	LineRateHz  float64 `yaml:"line_rate_hz"`
	FrameHeight int     `yaml:"frame_height"`
	FrameWidth  int     `yaml:"frame_width"`
}

type heldFrame struct {
	id       uint
	deviceTS uint64
	data     []byte
}

// Device is one simulated camera. The zero value is not usable; get one from Driver.Camera.
type Device struct {
	id string

	mu            sync.Mutex
	frameSize     int
	settings      Settings
	failOpens     int
	failStreaming bool
	opens         int
	opened        bool
	lost          bool
	lossFns       []func()
	triggerCB     camera.TriggerFunc
	frameCB       camera.FrameFunc
	streaming     bool
	hold          bool
	counter       uint
	held          []heldFrame
	dropFrames    map[uint]bool
	shortFrames   map[uint]bool
}

func newDevice(id string, frameSize int) *Device {
	return &Device{
		id:          id,
		frameSize:   frameSize,
		dropFrames:  make(map[uint]bool),
		shortFrames: make(map[uint]bool),
	}
}

// ID returns the camera id.
func (d *Device) ID() string { return d.id }

// FailOpens makes the next n open attempts fail.
func (d *Device) FailOpens(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failOpens = n
}

// DropFrames suppresses the frames with the given counter values in every cycle.
func (d *Device) DropFrames(seq ...uint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range seq {
		d.dropFrames[s] = true
	}
}

// ShortFrames makes the frames with the given counter values half the expected size.
func (d *Device) ShortFrames(seq ...uint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range seq {
		d.shortFrames[s] = true
	}
}

// FailStreaming makes StartStreaming fail while on.
func (d *Device) FailStreaming(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failStreaming = on
}

// Lose disconnects the camera. Every later primitive returns camera.ErrDeviceLost.
func (d *Device) Lose() {
	d.mu.Lock()
	if d.lost {
		d.mu.Unlock()
		return
	}
	d.lost = true
	d.streaming = false
	d.held = nil
	fns := slices.Clone(d.lossFns)
	d.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Opens returns how many open attempts were made.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Streaming reports whether the device is streaming and whether hold is on.
func (d *Device) Streaming() (streaming, hold bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streaming, d.hold
}

// Settings returns the loaded settings.
func (d *Device) Settings() Settings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings
}

// Fire raises a hardware trigger edge. When streaming, the edge also captures
// a frame that is transmitted immediately or held until hold is released.
func (d *Device) Fire(deviceTS uint64) {
	d.mu.Lock()
	if d.lost || !d.opened {
		d.mu.Unlock()
		return
	}
	triggerCB := d.triggerCB

	if d.streaming {
		d.counter++
		id := d.counter
		if !d.dropFrames[id] {
			size := d.frameSize
			if d.shortFrames[id] {
				size /= 2
			}
			d.held = append(d.held, heldFrame{
				id:       id,
				deviceTS: deviceTS + uint64(d.settings.ExposureUS),
				data:     frameData(id, size),
			})
		}
	}
	var out []heldFrame
	frameCB := d.frameCB
	if !d.hold {
		out, d.held = d.held, nil
	}
	d.mu.Unlock()

	if triggerCB != nil {
		triggerCB(deviceTS)
	}
	deliver(frameCB, out)
}

func frameData(id uint, size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(id)
	}
	return data
}

func deliver(cb camera.FrameFunc, frames []heldFrame) {
	if cb == nil {
		return
	}
	for _, f := range frames {
		cb(f.id, f.deviceTS, f.data)
	}
}

func (d *Device) open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.opens++
	if d.lost {
		return fmt.Errorf("camera %s unreachable: %w", d.id, camera.ErrDeviceLost)
	}
	if d.failOpens > 0 {
		d.failOpens--
		return errors.Newf("camera %s did not answer", d.id).
			Component("simcam").
			Category(errors.CategoryCameraOpen).
			Build()
	}
	d.opened = true
	return nil
}

// LoadSettings reads a YAML settings file. An empty path keeps the defaults.
func (d *Device) LoadSettings(path string) error {
	if err := d.check(); err != nil {
		return err
	}
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.New(err).
			Component("simcam").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return errors.New(err).
			Component("simcam").
			Category(errors.CategoryConfiguration).
			Context("path", path).
			Build()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.settings = s
	if s.FrameHeight > 0 && s.FrameWidth > 0 {
		d.frameSize = s.FrameHeight * s.FrameWidth
	}
	return nil
}

// EnableTriggerNotification implements camera.Device.
func (d *Device) EnableTriggerNotification(cb camera.TriggerFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return camera.ErrDeviceLost
	}
	d.triggerCB = cb
	return nil
}

// StartStreaming implements camera.Device.
func (d *Device) StartStreaming(cb camera.FrameFunc, _ int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return camera.ErrDeviceLost
	}
	if d.failStreaming {
		return errors.Newf("camera %s refused to stream", d.id).
			Component("simcam").
			Category(errors.CategoryCameraStream).
			Build()
	}
	d.frameCB = cb
	d.streaming = true
	return nil
}

// SetHold implements camera.Device. Releasing hold transmits held frames before returning.
func (d *Device) SetHold(on bool) error {
	d.mu.Lock()
	if d.lost {
		d.mu.Unlock()
		return camera.ErrDeviceLost
	}
	d.hold = on
	var out []heldFrame
	if !on {
		out, d.held = d.held, nil
	}
	frameCB := d.frameCB
	d.mu.Unlock()

	deliver(frameCB, out)
	return nil
}

// StopStreaming implements camera.Device. Held frames are discarded and the counter restarts.
func (d *Device) StopStreaming() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return camera.ErrDeviceLost
	}
	d.streaming = false
	d.held = nil
	d.counter = 0
	return nil
}

// Close implements camera.Device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = false
	d.streaming = false
	d.triggerCB = nil
	d.frameCB = nil
	d.lossFns = nil
	return nil
}

// NotifyLoss implements camera.LossNotifier.
func (d *Device) NotifyLoss(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lossFns = append(d.lossFns, fn)
}

func (d *Device) check() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return camera.ErrDeviceLost
	}
	return nil
}
