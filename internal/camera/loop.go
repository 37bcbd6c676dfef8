package camera

import (
	"context"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/tphakala/polecam/internal/errors"
	"github.com/tphakala/polecam/internal/logger"
)

// LoopConfig configures one driver loop.
type LoopConfig struct {
	Spec        Spec
	FrameSize   int // expected frame size in bytes, 0 accepts any size
	BufferCount int
	OpenRetries int
	OpenBackoff time.Duration
	// OnLost is called once when an opened device vanishes.
	OnLost func(cameraID string)
}

type waitResult int

const (
	gotSignal waitResult = iota
	gotAbort
	gotStop
)

// DriverLoop is the per-camera acquisition state machine.
//
// Run must be called on its own goroutine; it locks that goroutine to its OS
// thread for the lifetime of the device. All other methods are safe to call
// from any goroutine.
type DriverLoop struct {
	cfg    LoopConfig
	driver Driver
	log    logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// one-slot signals, consumed only by Run
	startExec     chan struct{}
	stopListening chan struct{}
	startDownload chan struct{}
	stopDownload  chan struct{}
	restart       chan struct{}
	abort         chan struct{}

	lost     chan struct{}
	lostOnce sync.Once

	mu          sync.Mutex
	changed     chan struct{} // closed and replaced on every observable change
	state       LoopState
	openState   OpenState
	terminated  bool
	cycle       uint64
	registering bool
	streaming   bool
	downloading bool
	loopErr     bool
	triggers    []TriggerEvent
	frames      []FrameRecord
	pending     map[uint]struct{} // frame ids still expected this cycle
	dlDone      chan struct{}
	dropped     int
}

// NewDriverLoop creates a loop for one camera. Nothing runs until Run is called.
func NewDriverLoop(cfg LoopConfig, driver Driver, log logger.Logger) *DriverLoop {
	if log == nil {
		log = logger.Global().Module("camera")
	}
	if cfg.OpenRetries < 1 {
		cfg.OpenRetries = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &DriverLoop{
		cfg:           cfg,
		driver:        driver,
		log:           log.With(logger.String("camera_id", cfg.Spec.ID)),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
		startExec:     make(chan struct{}, 1),
		stopListening: make(chan struct{}, 1),
		startDownload: make(chan struct{}, 1),
		stopDownload:  make(chan struct{}, 1),
		restart:       make(chan struct{}, 1),
		abort:         make(chan struct{}, 1),
		lost:          make(chan struct{}),
		changed:       make(chan struct{}),
		pending:       make(map[uint]struct{}),
		dlDone:        make(chan struct{}),
	}
}

// Run drives the device until Stop is called, the device is lost, or opening fails.
func (l *DriverLoop) Run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer l.finish()

	dev := l.open()
	if dev == nil {
		return
	}
	defer func() {
		if err := dev.Close(); err != nil {
			l.log.Debug("device close failed", logger.Error(err))
		}
	}()

	if notifier, ok := dev.(LossNotifier); ok {
		notifier.NotifyLoss(l.markLost)
	}

	l.setState(StateWait)
	if l.waitIgnoringAbort(l.startExec) == gotStop {
		return
	}

	l.setState(StateStarted)
	if err := dev.EnableTriggerNotification(l.onTrigger); err != nil {
		if l.fail("enable trigger notification", errors.CategoryCameraTrigger, err) {
			return
		}
	}

	for {
		if l.runCycle(dev) == gotStop {
			return
		}
		if l.waitIgnoringAbort(l.restart) == gotStop {
			return
		}
		l.resetCycle()
	}
}

// open tries the device up to OpenRetries times with OpenBackoff between attempts.
func (l *DriverLoop) open() Device {
	var lastErr error
	for attempt := 1; attempt <= l.cfg.OpenRetries; attempt++ {
		dev, err := l.driver.Open(l.ctx, l.cfg.Spec)
		if err == nil {
			if err = dev.LoadSettings(l.cfg.Spec.SettingsFile); err == nil {
				l.setOpenState(OpenOpened)
				l.log.Info("camera opened", logger.Int("attempt", attempt))
				return dev
			}
			_ = dev.Close()
		}
		lastErr = err
		l.log.Warn("camera open attempt failed",
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", l.cfg.OpenRetries),
			logger.Error(err))

		if attempt == l.cfg.OpenRetries {
			break
		}
		timer := time.NewTimer(l.cfg.OpenBackoff)
		select {
		case <-timer.C:
		case <-l.ctx.Done():
			timer.Stop()
			l.setOpenState(OpenFailed)
			return nil
		}
	}

	enhancedErr := errors.New(lastErr).
		Component("camera").
		Category(errors.CategoryCameraOpen).
		Context("camera_id", l.cfg.Spec.ID).
		Context("camera_ip", l.cfg.Spec.IP).
		Context("attempts", l.cfg.OpenRetries).
		Build()
	l.log.Error("camera could not be opened", logger.Error(enhancedErr))
	l.setOpenState(OpenFailed)
	return nil
}

// runCycle walks HOLD, DL and FLUSH once. gotStop means the loop must terminate.
func (l *DriverLoop) runCycle(dev Device) waitResult {
	res := l.hold(dev)
	if res == gotSignal {
		res = l.wait(l.startDownload, nil)
		if res == gotSignal {
			res = l.download(dev)
		}
	}
	l.flush(dev)
	return res
}

func (l *DriverLoop) hold(dev Device) waitResult {
	if err := dev.SetHold(true); err != nil && l.fail("set hold", errors.CategoryCameraStream, err) {
		return gotStop
	}
	if err := dev.StartStreaming(l.onFrame, l.cfg.BufferCount); err != nil && l.fail("start streaming", errors.CategoryCameraStream, err) {
		return gotStop
	}

	l.mu.Lock()
	l.cycle++
	l.streaming = true
	l.registering = true
	l.state = StateHold
	l.notifyLocked()
	l.mu.Unlock()

	res := l.wait(l.stopListening, nil)

	l.mu.Lock()
	l.registering = false
	l.notifyLocked()
	l.mu.Unlock()

	return res
}

func (l *DriverLoop) download(dev Device) waitResult {
	l.mu.Lock()
	l.state = StateDownload
	l.downloading = true
	if len(l.pending) == 0 {
		close(l.dlDone)
	}
	dlDone := l.dlDone
	l.notifyLocked()
	l.mu.Unlock()

	if err := dev.SetHold(false); err != nil && l.fail("release hold", errors.CategoryFrameDownload, err) {
		return gotStop
	}

	return l.wait(l.stopDownload, dlDone)
}

// flush stops streaming; errors here are logged and otherwise ignored.
func (l *DriverLoop) flush(dev Device) {
	if err := dev.StopStreaming(); err != nil {
		l.log.Warn("stop streaming failed", logger.Error(err))
		if errors.Is(err, ErrDeviceLost) {
			l.markLost()
		}
	}

	l.mu.Lock()
	l.streaming = false
	l.registering = false
	l.downloading = false
	l.state = StateFlush
	triggers, frames, dropped := len(l.triggers), len(l.frames), l.dropped
	l.notifyLocked()
	l.mu.Unlock()

	l.log.Debug("cycle flushed",
		logger.Int("triggers", triggers),
		logger.Int("frames", frames),
		logger.Int("dropped_frames", dropped))
}

// resetCycle clears per-cycle data and drops signals meant for the previous cycle.
func (l *DriverLoop) resetCycle() {
	for _, ch := range []chan struct{}{l.stopListening, l.startDownload, l.stopDownload, l.restart, l.abort} {
		select {
		case <-ch:
		default:
		}
	}

	l.mu.Lock()
	l.triggers = nil
	l.frames = nil
	l.pending = make(map[uint]struct{})
	l.loopErr = false
	l.dropped = 0
	l.dlDone = make(chan struct{})
	l.notifyLocked()
	l.mu.Unlock()
}

func (l *DriverLoop) finish() {
	l.mu.Lock()
	l.state = StateClosed
	l.terminated = true
	l.streaming = false
	l.registering = false
	l.downloading = false
	if l.openState == OpenUnknown {
		l.openState = OpenFailed
	}
	l.notifyLocked()
	l.mu.Unlock()

	l.cancel()
	close(l.done)
	l.log.Debug("driver loop terminated")
}

// wait blocks until sig (or extra) fires, an abort arrives, or the loop must stop.
func (l *DriverLoop) wait(sig, extra <-chan struct{}) waitResult {
	select {
	case <-sig:
		return gotSignal
	case <-extra:
		return gotSignal
	case <-l.abort:
		return gotAbort
	case <-l.lost:
		return gotStop
	case <-l.ctx.Done():
		return gotStop
	}
}

func (l *DriverLoop) waitIgnoringAbort(sig <-chan struct{}) waitResult {
	for {
		if res := l.wait(sig, nil); res != gotAbort {
			return res
		}
	}
}

// fail records a step failure for this cycle. It returns true if the device is gone.
func (l *DriverLoop) fail(op string, category errors.ErrorCategory, err error) bool {
	l.mu.Lock()
	l.loopErr = true
	cycle := l.cycle
	l.notifyLocked()
	l.mu.Unlock()

	enhancedErr := stepError(l.cfg.Spec.ID, cycle, op, category, err)
	l.log.Error("camera step failed", logger.String("operation", op), logger.Error(enhancedErr))

	if errors.Is(err, ErrDeviceLost) {
		l.markLost()
		return true
	}
	return false
}

// stepError wraps a failed driver step. A lost device is reported with high priority.
func stepError(cameraID string, cycle uint64, op string, category errors.ErrorCategory, err error) *errors.EnhancedError {
	priority := errors.PriorityMedium
	if errors.Is(err, ErrDeviceLost) {
		priority = errors.PriorityHigh
	}
	return errors.New(err).
		Component("camera").
		Category(category).
		Priority(priority).
		CameraContext(cameraID, cycle).
		Context("operation", op).
		Build()
}

// markLost flags the device as vanished; safe from driver callbacks.
func (l *DriverLoop) markLost() {
	l.lostOnce.Do(func() {
		l.mu.Lock()
		l.openState = OpenLost
		l.loopErr = true
		l.notifyLocked()
		l.mu.Unlock()
		close(l.lost)

		l.log.Warn("camera lost")
		if l.cfg.OnLost != nil {
			l.cfg.OnLost(l.cfg.Spec.ID)
		}
	})
}

func (l *DriverLoop) onTrigger(deviceTS uint64) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.registering {
		return
	}

	seq := uint(len(l.triggers)) + 1
	l.triggers = append(l.triggers, TriggerEvent{
		SequenceNum: seq,
		DeviceTS:    deviceTS,
		HostTS:      hostSeconds(now),
	})

	// frame ids follow trigger numbers; skip 0 and ids already awaited
	expected := seq
	for {
		if _, taken := l.pending[expected]; expected != 0 && !taken {
			break
		}
		expected++
	}
	l.pending[expected] = struct{}{}

	l.notifyLocked()
}

func (l *DriverLoop) onFrame(frameID uint, deviceTS uint64, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.streaming {
		return
	}

	if l.cfg.FrameSize == 0 || len(data) == l.cfg.FrameSize {
		l.frames = append(l.frames, FrameRecord{
			FrameID:  frameID,
			DeviceTS: deviceTS,
			ByteSize: uint(len(data)),
			Bytes:    slices.Clone(data),
		})
	} else {
		l.dropped++
		l.log.Debug("frame size mismatch, dropped",
			logger.Int("frame_id", int(frameID)),
			logger.Int("size", len(data)),
			logger.Int("expected", l.cfg.FrameSize))
	}

	delete(l.pending, frameID)
	if l.downloading && len(l.pending) == 0 {
		select {
		case <-l.dlDone:
		default:
			close(l.dlDone)
		}
	}

	l.notifyLocked()
}

func (l *DriverLoop) setState(s LoopState) {
	l.mu.Lock()
	l.state = s
	l.notifyLocked()
	l.mu.Unlock()
}

func (l *DriverLoop) setOpenState(s OpenState) {
	l.mu.Lock()
	l.openState = s
	l.notifyLocked()
	l.mu.Unlock()
}

func (l *DriverLoop) notifyLocked() {
	close(l.changed)
	l.changed = make(chan struct{})
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// waitUntil blocks until pred holds. pred runs with the loop mutex held.
// It fails with ErrSessionStopped if the loop terminates first.
func (l *DriverLoop) waitUntil(ctx context.Context, pred func() bool) error {
	for {
		l.mu.Lock()
		if pred() {
			l.mu.Unlock()
			return nil
		}
		if l.terminated {
			l.mu.Unlock()
			return ErrSessionStopped
		}
		changed := l.changed
		l.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// StartExecution moves the loop out of WAIT; only the first call matters.
func (l *DriverLoop) StartExecution() { signal(l.startExec) }

// StopListening ends trigger registration.
func (l *DriverLoop) StopListening() { signal(l.stopListening) }

// StartDownload releases the hold buffer.
func (l *DriverLoop) StartDownload() { signal(l.startDownload) }

// StopDownload ends the download phase even if frames are outstanding.
func (l *DriverLoop) StopDownload() { signal(l.stopDownload) }

// Restart starts the next cycle from FLUSH.
func (l *DriverLoop) Restart() { signal(l.restart) }

// Abort cuts the current cycle short and goes straight to FLUSH.
func (l *DriverLoop) Abort() { signal(l.abort) }

// Stop terminates the loop; pending waits unblock and the device is flushed and closed.
func (l *DriverLoop) Stop() { l.cancel() }

// Done is closed when Run has returned.
func (l *DriverLoop) Done() <-chan struct{} { return l.done }

// OpenState reports the device open state.
func (l *DriverLoop) OpenState() OpenState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.openState
}

// IsOpened reports whether the device is open and the loop still running.
func (l *DriverLoop) IsOpened() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.openState == OpenOpened && !l.terminated
}

// State returns the current loop state.
func (l *DriverLoop) State() LoopState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Cycle returns the number of cycles entered so far.
func (l *DriverLoop) Cycle() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cycle
}

// FirstTriggerSeen reports whether a trigger was registered this cycle.
func (l *DriverLoop) FirstTriggerSeen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.triggers) > 0
}

// TriggerCount returns the number of triggers registered this cycle.
func (l *DriverLoop) TriggerCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.triggers)
}

// DownloadComplete reports whether every expected frame arrived during the download phase.
func (l *DriverLoop) DownloadComplete() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.downloading && len(l.pending) == 0
}

// LoopError reports whether any step failed this cycle.
func (l *DriverLoop) LoopError() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loopErr
}

// Terminated reports whether Run has finished.
func (l *DriverLoop) Terminated() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.terminated
}

// Data returns a copy of this cycle's triggers and frames.
func (l *DriverLoop) Data() Acquisition {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Acquisition{
		CameraID: l.cfg.Spec.ID,
		Triggers: l.triggers,
		Frames:   l.frames,
	}.clone()
}
