package broker

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/tphakala/polecam/internal/logger"
)

// Deduplicator drops camera error reports identical to one sent within the window.
// Event data and cam_lost reports always pass.
type Deduplicator struct {
	next   Sink
	window time.Duration
	seen   *cache.Cache
	log    logger.Logger
}

// NewDeduplicator wraps next. A window <= 0 disables suppression.
func NewDeduplicator(next Sink, window time.Duration, log logger.Logger) *Deduplicator {
	if log == nil {
		log = logger.Global().Module("broker")
	}
	d := &Deduplicator{
		next:   next,
		window: window,
		log:    log,
	}
	if window > 0 {
		// no janitor goroutine; expired entries are purged on every report
		d.seen = cache.New(window, 0)
	}
	return d
}

// SendEventData passes straight through.
func (d *Deduplicator) SendEventData(ctx context.Context, eventTS time.Time, pole string, arrays []ShootArray) error {
	return d.next.SendEventData(ctx, eventTS, pole, arrays)
}

// SendCameraError forwards the report unless the same (camera, kind) was forwarded within the window.
func (d *Deduplicator) SendCameraError(ctx context.Context, cameraID string, stillRunning bool, kind ErrorKind) error {
	if d.seen != nil && kind != KindCamLost {
		d.seen.DeleteExpired()
		// Add fails when an unexpired entry exists
		if err := d.seen.Add(cameraID+"|"+string(kind), struct{}{}, cache.DefaultExpiration); err != nil {
			d.log.Debug("suppressed repeated camera error",
				logger.String("camera_id", cameraID),
				logger.String("kind", string(kind)))
			return nil
		}
	}
	return d.next.SendCameraError(ctx, cameraID, stillRunning, kind)
}

// Tracked returns how many distinct reports are currently inside their window.
func (d *Deduplicator) Tracked() int {
	if d.seen == nil {
		return 0
	}
	d.seen.DeleteExpired()
	return d.seen.ItemCount()
}
