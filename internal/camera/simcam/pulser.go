package simcam

import (
	"context"
	"time"

	"github.com/tphakala/polecam/internal/logger"
)

// PulserConfig shapes the simulated trains.
type PulserConfig struct {
	Interval time.Duration // time between trains
	Spacing  time.Duration // time between triggers within a train
	Triggers int           // triggers per train
}

// Pulser fires trigger bursts on every camera of a driver to mimic passing trains.
type Pulser struct {
	driver *Driver
	cfg    PulserConfig
	log    logger.Logger
	start  time.Time
}

// NewPulser creates a pulser for all cameras of driver.
func NewPulser(driver *Driver, cfg PulserConfig, log logger.Logger) *Pulser {
	if log == nil {
		log = logger.Global().Module("simcam")
	}
	cfg.Triggers = max(cfg.Triggers, 1)
	return &Pulser{driver: driver, cfg: cfg, log: log, start: time.Now()}
}

// Run fires a train every interval until ctx is done.
func (p *Pulser) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.Train(ctx); err != nil {
				return err
			}
		}
	}
}

// Train fires one burst of triggers on all cameras.
func (p *Pulser) Train(ctx context.Context) error {
	cams := p.driver.Cameras()
	p.log.Debug("simulated train passing",
		logger.Int("triggers", p.cfg.Triggers),
		logger.Int("cameras", len(cams)))

	for i := range p.cfg.Triggers {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.Spacing):
			}
		}
		// camera clocks count microseconds since the pulser started
		ts := uint64(time.Since(p.start).Microseconds())
		for _, cam := range cams {
			cam.Fire(ts)
		}
	}
	return nil
}
