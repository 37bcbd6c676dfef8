// Package pole coordinates the cameras of one pole through repeated train events.
//
// A single actor goroutine owns every camera outcome and the agreed trigger
// count. Cameras run their cycles on their own goroutines and hand results
// back over channels, so negotiation never races.
package pole

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/polecam/internal/broker"
	"github.com/tphakala/polecam/internal/camera"
	"github.com/tphakala/polecam/internal/conf"
	"github.com/tphakala/polecam/internal/errors"
	"github.com/tphakala/polecam/internal/logger"
	"github.com/tphakala/polecam/internal/observability/metrics"
)

var (
	// ErrNoCameras is reported by Err when the pole ended because no camera was left.
	ErrNoCameras = errors.NewStd("no cameras left in service")
	// ErrUnknownCamera is returned by Detach for ids that are not configured.
	ErrUnknownCamera = errors.NewStd("unknown camera")
)

// Config holds the acquisition parameters of one pole.
type Config struct {
	Name           string
	Cameras        []camera.Spec
	TriggerTimeout time.Duration
	MaxFrameDLTime time.Duration
	EventTimeout   time.Duration
	OpenTimeout    time.Duration

	NetworkSemaphore int // initial download slots
	MaxDownloadSlots int // upper bound for SetDownloadConcurrency, defaults to max(cameras, NetworkSemaphore)

	FrameSize    int
	BufferCount  int
	OpenRetries  int
	OpenBackoff  time.Duration
	MinFreeBytes uint64
}

// ConfigFromSettings builds the pole configuration from application settings.
func ConfigFromSettings(s *conf.Settings) Config {
	specs := make([]camera.Spec, 0, len(s.Pole.Cameras))
	for _, c := range s.Pole.Cameras {
		specs = append(specs, camera.Spec{ID: c.ID, IP: c.IP, SettingsFile: c.SettingsFile})
	}
	return Config{
		Name:             s.Pole.Name,
		Cameras:          specs,
		TriggerTimeout:   s.Pole.TriggerTimeout,
		MaxFrameDLTime:   s.Pole.MaxFrameDLTime,
		EventTimeout:     s.Pole.EventTimeout,
		OpenTimeout:      s.Pole.OpenTimeout,
		NetworkSemaphore: s.Pole.NetworkSemaphore,
		FrameSize:        s.Pole.FrameSize(),
		BufferCount:      s.Pole.BufferCount,
		OpenRetries:      s.Driver.OpenRetries,
		OpenBackoff:      s.Driver.OpenBackoff,
		MinFreeBytes:     s.Pole.MinFreeBytes,
	}
}

// FrameWriter stores frames on disk. framestore.Store implements it.
type FrameWriter interface {
	FramePath(eventTS time.Time, cameraID string, seq uint) string
	// WriteFrame writes data and verifies the on-disk size
	WriteFrame(path string, data []byte, expected int64) (string, error)
	CheckFreeSpace(minFree uint64) (uint64, error)
}

// Dependencies are the collaborators of a pole.
type Dependencies struct {
	Driver  camera.Driver
	Writer  FrameWriter
	Sink    broker.Sink          // defaults to a log-only sink
	Metrics *metrics.PoleMetrics // optional
	Logger  logger.Logger
}

// member is one camera in service.
type member struct {
	spec    camera.Spec
	num     int // 1-based position in the configuration
	session *camera.Session
}

// Pole runs the event life cycle for the cameras of one pole.
type Pole struct {
	cfg     Config
	driver  camera.Driver
	writer  FrameWriter
	sink    broker.Sink
	metrics *metrics.PoleMetrics
	log     logger.Logger
	limiter *camera.DownloadLimiter
	known   map[string]int // configured camera id -> number

	// mu guards the fields below; only the actor goroutine writes them
	mu      sync.Mutex
	phase   Phase
	members []*member
	round   *round
	eventTS time.Time
	cycles  uint64

	detachMu  sync.Mutex
	detaching map[string]struct{}
	detachCh  chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
	err       error // set before done is closed

	onPhase func(Phase) // test hook
}

// New validates the configuration and creates a pole. Start runs it.
func New(cfg Config, deps Dependencies) (*Pole, error) {
	if len(cfg.Cameras) == 0 {
		return nil, ErrNoCameras
	}
	if deps.Driver == nil || deps.Writer == nil {
		return nil, errors.Newf("pole requires a camera driver and a frame writer").
			Component("pole").
			Category(errors.CategoryConfiguration).
			Build()
	}

	known := make(map[string]int, len(cfg.Cameras))
	for i, spec := range cfg.Cameras {
		if spec.ID == "" {
			return nil, errors.Newf("camera %d has no id", i+1).
				Component("pole").
				Category(errors.CategoryValidation).
				Build()
		}
		if _, dup := known[spec.ID]; dup {
			return nil, errors.Newf("duplicate camera id %q", spec.ID).
				Component("pole").
				Category(errors.CategoryValidation).
				Build()
		}
		known[spec.ID] = i + 1
	}

	if cfg.TriggerTimeout <= 0 || cfg.MaxFrameDLTime <= 0 || cfg.EventTimeout <= 0 {
		return nil, errors.Newf("pole timeouts must be positive").
			Component("pole").
			Category(errors.CategoryValidation).
			Context("trigger_timeout", cfg.TriggerTimeout.String()).
			Context("max_frame_dl_time", cfg.MaxFrameDLTime.String()).
			Context("event_timeout", cfg.EventTimeout.String()).
			Build()
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 15 * time.Second
	}
	cfg.NetworkSemaphore = max(cfg.NetworkSemaphore, 1)
	if cfg.MaxDownloadSlots <= 0 {
		cfg.MaxDownloadSlots = max(len(cfg.Cameras), cfg.NetworkSemaphore)
	}
	cfg.OpenRetries = max(cfg.OpenRetries, 1)

	log := deps.Logger
	if log == nil {
		log = logger.Global().Module("pole")
	}
	log = log.With(logger.String("pole", cfg.Name))

	sink := deps.Sink
	if sink == nil {
		sink = broker.NewLogSink(log)
	}

	p := &Pole{
		cfg:       cfg,
		driver:    deps.Driver,
		writer:    deps.Writer,
		sink:      sink,
		metrics:   deps.Metrics,
		log:       log,
		limiter:   camera.NewDownloadLimiter(cfg.NetworkSemaphore, cfg.MaxDownloadSlots),
		known:     known,
		round:     newRound(nil),
		detaching: make(map[string]struct{}),
		detachCh:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	if p.metrics != nil {
		p.metrics.SetDownloadSlots(p.limiter.Capacity())
	}
	return p, nil
}

// Start launches the orchestrator. It returns immediately; Done reports termination.
func (p *Pole) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, p.cancel = context.WithCancel(ctx)
		go p.run(ctx)
	})
}

// Stop asks the pole to terminate. Every outstanding wait is cancelled and all
// sessions are stopped. It does not block; wait on Done.
func (p *Pole) Stop() {
	p.stopOnce.Do(func() {
		started := true
		p.startOnce.Do(func() {
			started = false
			p.setPhase(PhaseTerm)
			close(p.done)
		})
		if started {
			p.cancel()
		}
	})
}

// Done is closed once the pole has terminated.
func (p *Pole) Done() <-chan struct{} {
	return p.done
}

// Err returns ErrNoCameras when the pole ended because every camera was
// dropped, nil after Stop. Only meaningful once Done is closed.
func (p *Pole) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Name returns the pole name.
func (p *Pole) Name() string {
	return p.cfg.Name
}

// SetDownloadConcurrency changes how many cameras may download at once and
// returns the effective value. Downloads in flight keep their slots.
func (p *Pole) SetDownloadConcurrency(n int) int {
	got := p.limiter.Resize(n)
	if p.metrics != nil {
		p.metrics.SetDownloadSlots(got)
	}
	p.log.Info("download concurrency changed",
		logger.Int("requested", n),
		logger.Int("slots", got))
	return got
}

// Detach takes a camera out of service. It never blocks. When no event is
// running the camera is removed at once. During an event it is marked DETACHED
// immediately and removed when the event is cleared.
func (p *Pole) Detach(cameraID string) error {
	if _, ok := p.known[cameraID]; !ok {
		return errors.New(ErrUnknownCamera).
			Component("pole").
			Category(errors.CategoryNotFound).
			Context("camera_id", cameraID).
			Build()
	}

	p.detachMu.Lock()
	p.detaching[cameraID] = struct{}{}
	p.detachMu.Unlock()

	select {
	case p.detachCh <- struct{}{}:
	default:
	}
	return nil
}

// takeDetaches drains the pending detach requests.
func (p *Pole) takeDetaches() []string {
	p.detachMu.Lock()
	defer p.detachMu.Unlock()
	if len(p.detaching) == 0 {
		return nil
	}
	ids := make([]string, 0, len(p.detaching))
	for id := range p.detaching {
		ids = append(ids, id)
	}
	clear(p.detaching)
	return ids
}

// member returns the camera in service with the given id.
func (p *Pole) member(id string) *member {
	for _, m := range p.members {
		if m.spec.ID == id {
			return m
		}
	}
	return nil
}

func (p *Pole) memberIDs() []string {
	ids := make([]string, len(p.members))
	for i, m := range p.members {
		ids[i] = m.spec.ID
	}
	return ids
}

// remove takes a camera out of service, stops its session and reports it lost.
// The report is sent before the camera leaves Status.
func (p *Pole) remove(ctx context.Context, id, reason string) {
	m := p.member(id)
	if m == nil {
		return
	}

	m.session.Stop()
	p.reportError(ctx, id, false, broker.KindCamLost)

	p.mu.Lock()
	for i, other := range p.members {
		if other == m {
			p.members = append(p.members[:i], p.members[i+1:]...)
			break
		}
	}
	p.round.remove(id)
	remaining := len(p.members)
	p.mu.Unlock()

	p.log.Warn("camera removed from service",
		logger.String("camera_id", id),
		logger.String("reason", reason),
		logger.Int("remaining", remaining))
	if p.metrics != nil {
		p.metrics.SetActiveCameras(remaining)
	}
}

// reportError forwards one camera error to the broker.
func (p *Pole) reportError(ctx context.Context, id string, stillRunning bool, kind broker.ErrorKind) {
	if p.metrics != nil {
		p.metrics.IncrementBrokerErrors(string(kind))
	}
	if err := p.sink.SendCameraError(ctx, id, stillRunning, kind); err != nil {
		p.log.Error("failed to send camera error",
			logger.String("camera_id", id),
			logger.String("kind", string(kind)),
			logger.Error(err))
	}
}
