package camera

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/polecam/internal/errors"
	"github.com/tphakala/polecam/internal/logger"
)

// Session bridges one DriverLoop to context-aware callers.
// BeginCycle, RunCycle and Abort are meant to be called by a single owner;
// the query methods are safe from any goroutine.
type Session struct {
	loop *DriverLoop
	log  logger.Logger

	runOnce  sync.Once
	stopOnce sync.Once

	mu      sync.Mutex
	started bool
}

// NewSession creates a session for one camera. The driver loop starts on Open.
func NewSession(cfg LoopConfig, driver Driver, log logger.Logger) *Session {
	if log == nil {
		log = logger.Global().Module("camera")
	}
	return &Session{
		loop: NewDriverLoop(cfg, driver, log),
		log:  log.With(logger.String("camera_id", cfg.Spec.ID)),
	}
}

// ID returns the camera id.
func (s *Session) ID() string {
	return s.loop.cfg.Spec.ID
}

// Loop exposes the underlying driver loop for inspection.
func (s *Session) Loop() *DriverLoop {
	return s.loop
}

// Open starts the driver thread and waits until the camera is opened or has failed.
// It returns whether the camera is usable.
func (s *Session) Open(ctx context.Context) bool {
	s.runOnce.Do(func() {
		go s.loop.Run()
	})

	err := s.loop.waitUntil(ctx, func() bool { return s.loop.openState != OpenUnknown })
	if err != nil {
		s.log.Warn("camera did not open in time", logger.Error(err))
		return false
	}
	return s.loop.IsOpened()
}

// IsOpen reports whether the camera is still usable.
func (s *Session) IsOpen() bool {
	return s.loop.IsOpened()
}

// BeginCycle arms the camera for the next event: StartExecution the first time, Restart afterwards.
// It returns once the loop is registering triggers for the new cycle.
func (s *Session) BeginCycle(ctx context.Context) error {
	if !s.loop.IsOpened() {
		return ErrNotOpened
	}

	prev := s.loop.Cycle()

	s.mu.Lock()
	first := !s.started
	s.started = true
	s.mu.Unlock()

	if first {
		s.loop.StartExecution()
	} else {
		// a cycle that was never run to completion has to be flushed first
		if st := s.loop.State(); st == StateHold || st == StateDownload {
			if err := s.Abort(ctx); err != nil {
				return err
			}
		}
		s.loop.Restart()
	}

	return s.loop.waitUntil(ctx, func() bool {
		return s.loop.cycle > prev && s.loop.state == StateHold
	})
}

// WaitFirstTrigger blocks until the current cycle registers its first trigger.
func (s *Session) WaitFirstTrigger(ctx context.Context) error {
	return s.loop.waitUntil(ctx, func() bool {
		return len(s.loop.triggers) > 0
	})
}

// RunCycle completes the current cycle for a camera that has seen its first trigger.
//
// It listens for at most triggerTimeout, ending early once no trigger arrived
// for triggerTimeout, takes a download slot from limiter, and waits up to
// maxDownload for the frames. Cancelling ctx aborts the cycle.
func (s *Session) RunCycle(ctx context.Context, triggerTimeout, maxDownload time.Duration, limiter *DownloadLimiter) (CycleResult, error) {
	if !s.loop.IsOpened() {
		return CycleResult{}, ErrNotOpened
	}

	if err := s.listen(ctx, triggerTimeout); err != nil {
		return CycleResult{}, s.abortOn(err)
	}
	s.loop.StopListening()

	if err := limiter.Acquire(ctx); err != nil {
		return CycleResult{}, s.abortOn(err)
	}
	dlStart := time.Now()
	s.loop.StartDownload()

	dlCtx, cancel := context.WithTimeout(ctx, maxDownload)
	err := s.loop.waitUntil(dlCtx, func() bool {
		return (s.loop.downloading && len(s.loop.pending) == 0) || s.loop.state == StateFlush
	})
	cancel()
	s.loop.StopDownload()
	limiter.Release()
	dlTime := time.Since(dlStart)

	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		s.log.Warn("frame download timed out",
			logger.Duration("max_download", maxDownload),
			logger.Int("triggers", s.loop.TriggerCount()))
	default:
		return CycleResult{}, s.abortOn(err)
	}

	if err := s.waitFlushed(ctx); err != nil {
		return CycleResult{}, err
	}

	return CycleResult{
		Acquisition:  s.loop.Data(),
		LoopError:    s.loop.LoopError(),
		DownloadTime: dlTime,
	}, nil
}

// listen waits for the first trigger, then until triggerTimeout passes without
// a new one. The whole phase is bounded by triggerTimeout from the call, so a
// camera that keeps triggering still reaches its download.
func (s *Session) listen(ctx context.Context, triggerTimeout time.Duration) error {
	listenCtx, cancel := context.WithTimeout(ctx, triggerTimeout)
	defer cancel()

	for {
		seen, last := s.lastTrigger()
		quiet := triggerTimeout
		if seen > 0 {
			quiet -= time.Since(last)
			if quiet <= 0 {
				return nil
			}
		}

		windowCtx, cancelWindow := context.WithTimeout(listenCtx, quiet)
		err := s.loop.waitUntil(windowCtx, func() bool {
			return len(s.loop.triggers) > seen || s.loop.state != StateHold
		})
		cancelWindow()

		switch {
		case err == nil:
			if s.loop.State() != StateHold {
				return nil
			}
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			return nil
		default:
			return err
		}
	}
}

// lastTrigger returns the trigger count and the host time of the latest trigger.
func (s *Session) lastTrigger() (int, time.Time) {
	s.loop.mu.Lock()
	defer s.loop.mu.Unlock()
	n := len(s.loop.triggers)
	if n == 0 {
		return 0, time.Time{}
	}
	return n, hostTime(s.loop.triggers[n-1].HostTS)
}

// abortOn flushes the cycle after a cancelled or failed wait and returns the cause.
func (s *Session) abortOn(cause error) error {
	if errors.Is(cause, ErrSessionStopped) {
		return cause
	}
	abortCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Abort(abortCtx); err != nil {
		s.log.Debug("abort after cancelled cycle failed", logger.Error(err))
	}
	return cause
}

// Abort resets the current cycle without producing data. The camera stays in
// FLUSH until the next BeginCycle.
func (s *Session) Abort(ctx context.Context) error {
	switch s.loop.State() {
	case StateFlush, StateClosed, StateInit, StateWait:
		return nil
	}
	s.loop.Abort()
	return s.waitFlushed(ctx)
}

func (s *Session) waitFlushed(ctx context.Context) error {
	return s.loop.waitUntil(ctx, func() bool {
		return s.loop.state == StateFlush
	})
}

// Stop terminates the driver loop and waits for its thread to exit.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.loop.Stop()

		neverStarted := false
		s.runOnce.Do(func() { neverStarted = true })
		if neverStarted {
			s.loop.finish()
			return
		}
		<-s.loop.Done()
	})
}

// Done is closed once the driver loop has terminated.
func (s *Session) Done() <-chan struct{} {
	return s.loop.Done()
}

// Stats returns trigger and frame counts of the current cycle.
func (s *Session) Stats() (triggers, frames int) {
	s.loop.mu.Lock()
	defer s.loop.mu.Unlock()
	return len(s.loop.triggers), len(s.loop.frames)
}
