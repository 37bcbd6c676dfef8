package pole

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/polecam/internal/broker"
	"github.com/tphakala/polecam/internal/camera"
	"github.com/tphakala/polecam/internal/errors"
	"github.com/tphakala/polecam/internal/logger"
)

// notice reports that a camera registered its first trigger.
type notice struct {
	id string
	at time.Time
}

// result is a finished camera cycle.
type result struct {
	id  string
	res camera.CycleResult
	err error
}

// event holds the goroutines and channels of one event.
type event struct {
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	notices chan notice
	results chan result
	runners map[string]context.CancelFunc
	start   time.Time
}

// finish cancels every watcher and runner of the event and waits for them.
func (ev *event) finish() {
	ev.cancel()
	ev.wg.Wait()
}

func (p *Pole) run(ctx context.Context) {
	defer close(p.done)

	p.setPhase(PhaseBooting)
	p.boot(ctx)

	for len(p.members) > 0 && ctx.Err() == nil {
		p.cycle(ctx)
	}

	p.setPhase(PhaseEnd)
	if ctx.Err() == nil {
		p.err = ErrNoCameras
		p.log.Error("no cameras left, pole terminating")
	}
	p.shutdown()
	p.setPhase(PhaseTerm)
}

// boot opens every configured camera concurrently and keeps the ones that opened.
func (p *Pole) boot(ctx context.Context) {
	candidates := make([]*member, len(p.cfg.Cameras))
	opened := make([]bool, len(p.cfg.Cameras))

	openCtx, cancel := context.WithTimeout(ctx, p.cfg.OpenTimeout)
	defer cancel()

	var g errgroup.Group
	for i, spec := range p.cfg.Cameras {
		candidates[i] = &member{
			spec: spec,
			num:  i + 1,
			session: camera.NewSession(camera.LoopConfig{
				Spec:        spec,
				FrameSize:   p.cfg.FrameSize,
				BufferCount: p.cfg.BufferCount,
				OpenRetries: p.cfg.OpenRetries,
				OpenBackoff: p.cfg.OpenBackoff,
				OnLost:      p.lost,
			}, p.driver, p.log.Module("camera")),
		}
		g.Go(func() error {
			opened[i] = candidates[i].session.Open(openCtx)
			return nil
		})
	}
	_ = g.Wait()

	var members []*member
	for i, m := range candidates {
		if opened[i] {
			members = append(members, m)
			continue
		}
		m.session.Stop()
		p.log.Error("camera failed to open",
			logger.String("camera_id", m.spec.ID),
			logger.String("ip", m.spec.IP))
		if ctx.Err() == nil {
			p.reportError(ctx, m.spec.ID, false, broker.KindCamLost)
		}
	}

	p.mu.Lock()
	p.members = members
	p.round = newRound(p.memberIDs())
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.SetActiveCameras(len(members))
	}
	p.log.Info("pole booted",
		logger.Int("configured", len(p.cfg.Cameras)),
		logger.Int("opened", len(members)))
}

// lost is called from a driver thread when a device vanishes.
func (p *Pole) lost(cameraID string) {
	if err := p.Detach(cameraID); err != nil {
		p.log.Warn("lost camera could not be detached", logger.String("camera_id", cameraID), logger.Error(err))
	}
}

// arm starts the next cycle on every camera and drops the ones that cannot.
func (p *Pole) arm(ctx context.Context) {
	failed := make([]error, len(p.members))

	var g errgroup.Group
	for i, m := range p.members {
		g.Go(func() error {
			failed[i] = m.session.BeginCycle(ctx)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return
	}
	for i, m := range append([]*member(nil), p.members...) {
		if failed[i] != nil {
			p.remove(ctx, m.spec.ID, failed[i].Error())
		}
	}
}

// cycle runs one event from WAIT_START through CLEAR.
func (p *Pole) cycle(ctx context.Context) {
	p.arm(ctx)
	if len(p.members) == 0 || ctx.Err() != nil {
		return
	}

	p.setPhase(PhaseWaitStart)
	ev := p.watch(ctx)
	started := p.waitStart(ctx, ev)
	if started {
		p.setPhase(PhaseWaitEnd)
		p.waitEnd(ctx, ev)
	}
	ev.finish()
	if !started || ctx.Err() != nil {
		return
	}

	p.report(ev)
	arrays := p.write()
	p.sendData(ctx, arrays)
	p.sendErrors(ctx)
	p.clear(ctx)
}

// watch starts one first-trigger watcher per camera.
func (p *Pole) watch(ctx context.Context) *event {
	evCtx, cancel := context.WithCancel(ctx)
	ev := &event{
		ctx:     evCtx,
		cancel:  cancel,
		notices: make(chan notice, len(p.members)),
		results: make(chan result, len(p.members)),
		runners: make(map[string]context.CancelFunc, len(p.members)),
	}
	for _, m := range p.members {
		ev.wg.Go(func() {
			if err := m.session.WaitFirstTrigger(ev.ctx); err != nil {
				return
			}
			ev.notices <- notice{id: m.spec.ID, at: time.Now()}
		})
	}
	return ev
}

// runCamera completes the cycle of a camera that has seen its first trigger.
func (p *Pole) runCamera(ev *event, m *member) {
	ctx, cancel := context.WithCancel(ev.ctx)
	ev.runners[m.spec.ID] = cancel
	ev.wg.Go(func() {
		defer cancel()
		res, err := m.session.RunCycle(ctx, p.cfg.TriggerTimeout, p.cfg.MaxFrameDLTime, p.limiter)
		ev.results <- result{id: m.spec.ID, res: res, err: err}
	})
}

// waitStart blocks until some camera sees its first trigger. It returns false
// when the pole is stopping or no camera is left.
func (p *Pole) waitStart(ctx context.Context, ev *event) bool {
	for {
		select {
		case <-ctx.Done():
			return false

		case n := <-ev.notices:
			m := p.member(n.id)
			if m == nil {
				continue
			}
			p.mu.Lock()
			p.eventTS = n.at
			p.round.ready(n.id)
			p.mu.Unlock()
			ev.start = n.at

			p.log.Info("event started",
				logger.String("camera_id", n.id),
				logger.Time("event_time", n.at))
			p.runCamera(ev, m)
			return true

		case <-p.detachCh:
			// no event in progress, take the cameras out right away
			for _, id := range p.takeDetaches() {
				p.remove(ctx, id, "detached")
			}
			if len(p.members) == 0 {
				return false
			}
		}
	}
}

// waitEnd runs until every camera has a final outcome or the event times out.
func (p *Pole) waitEnd(ctx context.Context, ev *event) {
	timer := time.NewTimer(p.cfg.EventTimeout)
	defer timer.Stop()

	for !p.round.allFinal() {
		select {
		case <-ctx.Done():
			return

		case n := <-ev.notices:
			p.mu.Lock()
			ok := p.round.ready(n.id)
			p.mu.Unlock()
			if m := p.member(n.id); ok && m != nil {
				p.runCamera(ev, m)
			}

		case r := <-ev.results:
			delete(ev.runners, r.id)
			p.negotiate(r)

		case <-p.detachCh:
			for _, id := range p.takeDetaches() {
				if p.member(id) == nil {
					continue
				}
				p.mu.Lock()
				p.round.detach(id)
				p.mu.Unlock()
				if cancel, ok := ev.runners[id]; ok {
					cancel()
				}
				p.log.Warn("camera detached during event", logger.String("camera_id", id))
			}

		case <-timer.C:
			p.log.Warn("event timed out",
				logger.Duration("event_timeout", p.cfg.EventTimeout),
				logger.Int("pending", p.pending()))
			return
		}
	}
}

// pending counts cameras without a final outcome.
func (p *Pole) pending() int {
	n := 0
	for _, id := range p.round.order {
		if !p.round.outcomes[id].IsFinal() {
			n++
		}
	}
	return n
}

// negotiate folds one finished camera cycle into the agreement.
func (p *Pole) negotiate(r result) {
	log := p.log.With(logger.String("camera_id", r.id))

	if r.err != nil {
		if !errors.Is(r.err, context.Canceled) {
			log.Error("camera cycle failed", logger.Error(r.err))
		}
		p.mu.Lock()
		p.round.deliver(r.id, nil, true)
		p.mu.Unlock()
		return
	}

	if p.metrics != nil {
		p.metrics.ObserveDownload(r.id, r.res.DownloadTime)
	}

	shoots := camera.Pair(r.res.Acquisition)

	p.mu.Lock()
	prev := p.round.expectedTriggers()
	rejected := p.round.deliver(r.id, shoots, r.res.LoopError)
	expected := p.round.expectedTriggers()
	outcome := p.round.outcomes[r.id]
	p.mu.Unlock()

	log.Debug("camera delivered",
		logger.Int("triggers", len(shoots)),
		logger.Int("missing_frames", camera.MissingFrames(shoots)),
		logger.Bool("loop_error", r.res.LoopError),
		logger.String("outcome", outcome.String()),
		logger.Int("expected_triggers", expected))

	if expected > prev && prev > 0 {
		log.Warn("trigger count revised upwards",
			logger.Int("previous", prev),
			logger.Int("expected_triggers", expected),
			logger.Any("rejected", rejected))
	}
	if outcome == OutcomeReady {
		log.Warn("camera reported fewer triggers than agreed",
			logger.Int("triggers", len(shoots)),
			logger.Int("expected_triggers", expected))
	}
	if p.metrics != nil {
		p.metrics.SetExpectedTriggers(expected)
	}
}

// shutdown stops every session still in service.
func (p *Pole) shutdown() {
	var wg sync.WaitGroup
	for _, m := range p.members {
		wg.Go(m.session.Stop)
	}
	wg.Wait()

	p.mu.Lock()
	p.members = nil
	p.round = newRound(nil)
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.SetActiveCameras(0)
	}
	p.log.Info("pole stopped", logger.Uint64("cycles", p.cycles))
}
