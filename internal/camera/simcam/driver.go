package simcam

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/tphakala/polecam/internal/camera"
)

// Driver hands out simulated devices by camera id.
type Driver struct {
	frameSize int

	mu      sync.Mutex
	devices map[string]*Device
}

// NewDriver creates a driver whose devices produce frames of frameSize bytes.
func NewDriver(frameSize int) *Driver {
	return &Driver{
		frameSize: frameSize,
		devices:   make(map[string]*Device),
	}
}

// Camera returns the device for id, creating it on first use.
func (d *Driver) Camera(id string) *Device {
	d.mu.Lock()
	defer d.mu.Unlock()

	dev, ok := d.devices[id]
	if !ok {
		dev = newDevice(id, d.frameSize)
		d.devices[id] = dev
	}
	return dev
}

// Cameras returns all known devices ordered by id.
func (d *Driver) Cameras() []*Device {
	d.mu.Lock()
	defer d.mu.Unlock()

	return slices.SortedFunc(maps.Values(d.devices), func(a, b *Device) int {
		return cmp.Compare(a.id, b.id)
	})
}

// Open implements camera.Driver.
func (d *Driver) Open(ctx context.Context, spec camera.Spec) (camera.Device, error) {
	dev := d.Camera(spec.ID)
	if err := dev.open(ctx); err != nil {
		return nil, err
	}
	return dev, nil
}
