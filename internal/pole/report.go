package pole

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/polecam/internal/broker"
	"github.com/tphakala/polecam/internal/logger"
)

// report logs the per-camera outcome of the event.
func (p *Pole) report(ev *event) {
	p.setPhase(PhaseReport)

	for _, m := range p.members {
		outcome := p.round.outcomes[m.spec.ID]
		triggers, frames := m.session.Stats()
		p.log.Info("camera outcome",
			logger.String("camera_id", m.spec.ID),
			logger.String("outcome", outcome.String()),
			logger.Int("triggers", triggers),
			logger.Int("frames", frames))
		if p.metrics != nil {
			p.metrics.RecordCameraOutcome(m.spec.ID, outcome.String())
		}
	}

	p.log.Info("event finished",
		logger.Time("event_time", p.eventTS),
		logger.Int("expected_triggers", p.round.expectedTriggers()),
		logger.Duration("duration", since(ev.start)))
	if p.metrics != nil {
		p.metrics.RecordEvent(since(ev.start))
	}
}

// triggerShoots collects the written frames of one trigger number.
type triggerShoots struct {
	timestamp float64 // earliest host time across cameras
	shoots    []broker.Shoot
}

// write stores the frames of every accepted camera and groups them by trigger number.
func (p *Pole) write() []broker.ShootArray {
	p.setPhase(PhaseWrite)

	if p.cfg.MinFreeBytes > 0 {
		if _, err := p.writer.CheckFreeSpace(p.cfg.MinFreeBytes); err != nil {
			p.log.Warn("frame storage is running out of space", logger.Error(err))
		}
	}

	byTrigger := make(map[uint]*triggerShoots)
	for _, m := range p.members {
		id := m.spec.ID
		if !p.round.outcomes[id].Accepted() {
			continue
		}

		written := 0
		for _, shoot := range p.round.shoots[id] {
			seq := shoot.Trigger.SequenceNum
			ts, ok := byTrigger[seq]
			if !ok {
				ts = &triggerShoots{timestamp: shoot.Trigger.HostTS}
				byTrigger[seq] = ts
			}
			ts.timestamp = min(ts.timestamp, shoot.Trigger.HostTS)

			if !shoot.HasFrame() {
				continue
			}
			path := p.writer.FramePath(p.eventTS, id, seq)
			imagePath, err := p.writer.WriteFrame(path, shoot.Frame.Bytes, int64(shoot.Frame.ByteSize))
			if err != nil {
				p.log.Error("frame write failed",
					logger.String("camera_id", id),
					logger.Uint64("trigger", uint64(seq)),
					logger.String("path", path),
					logger.Error(err))
				if p.metrics != nil {
					p.metrics.IncrementFrameWriteErrors(id)
				}
				continue
			}
			ts.shoots = append(ts.shoots, broker.Shoot{
				CameraID:  id,
				CameraNum: m.num,
				ImagePath: imagePath,
			})
			written++
		}

		p.log.Debug("frames written",
			logger.String("camera_id", id),
			logger.Int("frames", written))
	}

	arrays := make([]broker.ShootArray, 0, len(byTrigger))
	for _, seq := range slices.Sorted(maps.Keys(byTrigger)) {
		ts := byTrigger[seq]
		if len(ts.shoots) == 0 {
			continue
		}
		slices.SortFunc(ts.shoots, func(a, b broker.Shoot) int {
			return cmp.Compare(a.CameraNum, b.CameraNum)
		})
		arrays = append(arrays, broker.ShootArray{
			TriggerNum:    seq,
			Timestamp:     ts.timestamp,
			Shoots:        ts.shoots,
			TransactionID: uuid.New().String(),
		})
	}
	return arrays
}

// sendData forwards the event to the broker.
func (p *Pole) sendData(ctx context.Context, arrays []broker.ShootArray) {
	p.setPhase(PhaseSendData)
	if len(arrays) == 0 {
		p.log.Warn("event produced no frames", logger.Time("event_time", p.eventTS))
		return
	}

	if err := p.sink.SendEventData(ctx, p.eventTS, p.cfg.Name, arrays); err != nil {
		p.log.Error("failed to send event data",
			logger.Time("event_time", p.eventTS),
			logger.Int("shoot_arrays", len(arrays)),
			logger.Error(err))
	}
}

// sendErrors reports every camera that did not deliver cleanly.
func (p *Pole) sendErrors(ctx context.Context) {
	p.setPhase(PhaseSendErr)
	for _, m := range p.members {
		kind, ok := p.round.outcomes[m.spec.ID].ErrorKind()
		if !ok {
			continue
		}
		p.reportError(ctx, m.spec.ID, true, kind)
	}
}

// clear removes detached cameras and resets the event bookkeeping.
func (p *Pole) clear(ctx context.Context) {
	p.setPhase(PhaseClear)

	if ids := p.takeDetaches(); len(ids) > 0 {
		p.mu.Lock()
		for _, id := range ids {
			p.round.detach(id)
		}
		p.mu.Unlock()
	}
	for _, id := range p.round.detached() {
		p.remove(ctx, id, "detached")
	}

	p.mu.Lock()
	p.round.reset()
	p.eventTS = time.Time{}
	p.cycles++
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.SetExpectedTriggers(0)
	}

	for _, m := range slices.Clone(p.members) {
		if !m.session.IsOpen() {
			p.remove(ctx, m.spec.ID, "camera no longer open")
		}
	}
}
