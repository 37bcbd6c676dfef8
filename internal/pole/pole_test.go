package pole

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/polecam/internal/broker"
	"github.com/tphakala/polecam/internal/camera"
	"github.com/tphakala/polecam/internal/camera/simcam"
	"github.com/tphakala/polecam/internal/conf"
	"github.com/tphakala/polecam/internal/errors"
	"github.com/tphakala/polecam/internal/framestore"
	"github.com/tphakala/polecam/internal/logger"
	"github.com/tphakala/polecam/internal/observability/metrics"
)

const (
	testFrameSize = 16
	testPole      = "pole-t"
	waitFor       = 5 * time.Second
)

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

type sentEvent struct {
	eventTS time.Time
	pole    string
	arrays  []broker.ShootArray
}

type sentError struct {
	cameraID     string
	stillRunning bool
	kind         broker.ErrorKind
}

// recorder is a broker sink that keeps everything it is sent.
type recorder struct {
	events chan sentEvent

	mu     sync.Mutex
	errors []sentError
}

func newRecorder() *recorder {
	return &recorder{events: make(chan sentEvent, 16)}
}

func (r *recorder) SendEventData(_ context.Context, eventTS time.Time, pole string, arrays []broker.ShootArray) error {
	r.events <- sentEvent{eventTS: eventTS, pole: pole, arrays: arrays}
	return nil
}

func (r *recorder) SendCameraError(_ context.Context, cameraID string, stillRunning bool, kind broker.ErrorKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, sentError{cameraID: cameraID, stillRunning: stillRunning, kind: kind})
	return nil
}

func (r *recorder) sentErrors() []sentError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.errors)
}

func testConfig(ids ...string) Config {
	specs := make([]camera.Spec, len(ids))
	for i, id := range ids {
		specs[i] = camera.Spec{ID: id, IP: "127.0.0.1"}
	}
	return Config{
		Name:             testPole,
		Cameras:          specs,
		TriggerTimeout:   40 * time.Millisecond,
		MaxFrameDLTime:   time.Second,
		EventTimeout:     10 * time.Second,
		OpenTimeout:      2 * time.Second,
		NetworkSemaphore: 1,
		FrameSize:        testFrameSize,
		BufferCount:      4,
		OpenRetries:      1,
		OpenBackoff:      time.Millisecond,
	}
}

type harness struct {
	t    *testing.T
	drv  *simcam.Driver
	fs   afero.Fs
	sink *recorder
	pole *Pole

	mu     sync.Mutex
	phases []Phase
}

func newHarness(t *testing.T, cfg Config, m *metrics.PoleMetrics) *harness {
	t.Helper()
	return newHarnessWithWriter(t, cfg, m, nil)
}

// newHarnessWithWriter lets wrap replace the in-memory frame store.
func newHarnessWithWriter(t *testing.T, cfg Config, m *metrics.PoleMetrics, wrap func(*framestore.Store) FrameWriter) *harness {
	t.Helper()

	h := &harness{
		t:    t,
		drv:  simcam.NewDriver(testFrameSize),
		fs:   afero.NewMemMapFs(),
		sink: newRecorder(),
	}
	var writer FrameWriter = framestore.New(h.fs, "/frames", cfg.Name, testLogger())
	if wrap != nil {
		writer = wrap(writer.(*framestore.Store))
	}
	p, err := New(cfg, Dependencies{
		Driver:  h.drv,
		Writer:  writer,
		Sink:    h.sink,
		Metrics: m,
		Logger:  testLogger(),
	})
	require.NoError(t, err)
	p.onPhase = func(ph Phase) {
		h.mu.Lock()
		h.phases = append(h.phases, ph)
		h.mu.Unlock()
	}
	h.pole = p

	t.Cleanup(func() {
		p.Stop()
		select {
		case <-p.Done():
		case <-time.After(waitFor):
			t.Error("pole did not terminate")
		}
	})
	return h
}

func (h *harness) start() {
	h.pole.Start(context.Background())
}

// waitArmed waits until every camera is registering triggers for the given cycle.
func (h *harness) waitArmed(cycles uint64) Status {
	h.t.Helper()
	var st Status
	require.Eventually(h.t, func() bool {
		st = h.pole.Status()
		return st.Phase == PhaseWaitStart && st.Cycles == cycles
	}, waitFor, 2*time.Millisecond)
	return st
}

func (h *harness) waitOutcome(id string, want Outcome) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		st := h.pole.Status()
		c, ok := st.Camera(id)
		return ok && c.Outcome == want
	}, waitFor, 2*time.Millisecond)
}

// waitErrors waits until exactly want has been reported to the sink.
func (h *harness) waitErrors(want ...sentError) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return slices.Equal(h.sink.sentErrors(), want)
	}, waitFor, 2*time.Millisecond, "camera errors: %v", h.sink.sentErrors())
}

func (h *harness) fire(id string, ts ...uint64) {
	dev := h.drv.Camera(id)
	for _, v := range ts {
		dev.Fire(v)
	}
}

func (h *harness) nextEvent() sentEvent {
	h.t.Helper()
	select {
	case ev := <-h.sink.events:
		return ev
	case <-time.After(waitFor):
		h.t.Fatal("no event data sent")
		return sentEvent{}
	}
}

func (h *harness) seenPhases() []Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.phases)
}

func shootCameras(a broker.ShootArray) []string {
	ids := make([]string, len(a.Shoots))
	for i, s := range a.Shoots {
		ids[i] = s.CameraID
	}
	return ids
}

func TestPole_HappyPath(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig("cam-1", "cam-2"), nil)
	h.start()
	h.waitArmed(0)

	start := time.Now()
	h.fire("cam-1", 100, 200, 300)
	h.fire("cam-2", 100, 200, 300)

	ev := h.nextEvent()
	assert.Less(t, time.Since(start), 2*time.Second, "the event ends once every camera is final")
	assert.Equal(t, testPole, ev.pole)
	assert.False(t, ev.eventTS.IsZero())

	require.Len(t, ev.arrays, 3)
	txIDs := make(map[string]bool)
	for i, a := range ev.arrays {
		assert.Equal(t, uint(i+1), a.TriggerNum)
		assert.Positive(t, a.Timestamp)
		assert.Equal(t, []string{"cam-1", "cam-2"}, shootCameras(a))
		assert.Len(t, a.TransactionID, 36)
		txIDs[a.TransactionID] = true

		for j, s := range a.Shoots {
			assert.Equal(t, j+1, s.CameraNum)
			data, err := afero.ReadFile(h.fs, s.ImagePath)
			require.NoError(t, err)
			assert.Len(t, data, testFrameSize)
		}
	}
	assert.Len(t, txIDs, 3)

	h.waitArmed(1)
	assert.Empty(t, h.sink.sentErrors())
}

func TestPole_FramePathLayout(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig("cam-1"), nil)
	h.start()
	h.waitArmed(0)
	h.fire("cam-1", 100)

	ev := h.nextEvent()
	require.Len(t, ev.arrays, 1)
	want := framestore.New(h.fs, "/frames", testPole, nil).FramePath(ev.eventTS, "cam-1", 1)
	assert.Equal(t, want, ev.arrays[0].Shoots[0].ImagePath)
}

func TestPole_LateBiggerCountRejectsEarlier(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig("cam-a", "cam-b"), nil)
	h.start()
	h.waitArmed(0)

	h.fire("cam-a", 100, 200)
	h.waitOutcome("cam-a", OutcomeDelivered)
	assert.Equal(t, 2, h.pole.Status().ExpectedTriggers)

	h.fire("cam-b", 100, 200, 300)

	ev := h.nextEvent()
	require.Len(t, ev.arrays, 3)
	for _, a := range ev.arrays {
		assert.Equal(t, []string{"cam-b"}, shootCameras(a))
	}

	h.waitArmed(1)
	assert.Equal(t, []sentError{{cameraID: "cam-a", stillRunning: true, kind: broker.KindLessTriggers}}, h.sink.sentErrors())
}

func TestPole_UnderCountTimesOut(t *testing.T) {
	t.Parallel()

	cfg := testConfig("cam-a", "cam-b")
	cfg.EventTimeout = 500 * time.Millisecond
	h := newHarness(t, cfg, nil)
	h.start()
	h.waitArmed(0)

	h.fire("cam-a", 100, 200, 300)
	h.waitOutcome("cam-a", OutcomeDelivered)
	start := time.Now()
	h.fire("cam-b", 100, 200)

	ev := h.nextEvent()
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond, "the short camera holds the event until it times out")
	require.Len(t, ev.arrays, 3)
	for _, a := range ev.arrays {
		assert.Equal(t, []string{"cam-a"}, shootCameras(a))
	}

	h.waitArmed(1)
	assert.Equal(t, []sentError{{cameraID: "cam-b", stillRunning: true, kind: broker.KindMissedFrame}}, h.sink.sentErrors())
}

func TestPole_SilentCameraMissesTrigger(t *testing.T) {
	t.Parallel()

	cfg := testConfig("cam-a", "cam-b")
	cfg.EventTimeout = 300 * time.Millisecond
	h := newHarness(t, cfg, nil)
	h.start()
	h.waitArmed(0)

	h.fire("cam-a", 100, 200)
	ev := h.nextEvent()
	require.Len(t, ev.arrays, 2)

	st := h.waitArmed(1)
	assert.Len(t, st.Cameras, 2, "a silent camera stays in service")
	assert.Equal(t, []sentError{{cameraID: "cam-b", stillRunning: true, kind: broker.KindMissedTrigger}}, h.sink.sentErrors())
}

func TestPole_MissingFrameIsPartialDelivery(t *testing.T) {
	t.Parallel()

	cfg := testConfig("cam-1", "cam-2")
	cfg.MaxFrameDLTime = 150 * time.Millisecond
	h := newHarness(t, cfg, nil)
	h.drv.Camera("cam-2").DropFrames(2)
	h.start()
	h.waitArmed(0)

	h.fire("cam-1", 100, 200, 300)
	h.fire("cam-2", 100, 200, 300)

	ev := h.nextEvent()
	require.Len(t, ev.arrays, 3)
	assert.Equal(t, []string{"cam-1", "cam-2"}, shootCameras(ev.arrays[0]))
	assert.Equal(t, []string{"cam-1"}, shootCameras(ev.arrays[1]))
	assert.Equal(t, []string{"cam-1", "cam-2"}, shootCameras(ev.arrays[2]))

	h.waitArmed(1)
	assert.Equal(t, []sentError{{cameraID: "cam-2", stillRunning: true, kind: broker.KindMissedFrame}}, h.sink.sentErrors())
}

func TestPole_ResetIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig("cam-1", "cam-2"), nil)
	h.start()
	first := h.waitArmed(0)

	for cycle := range uint64(2) {
		h.fire("cam-1", 100, 200, 300)
		h.fire("cam-2", 100, 200, 300)
		ev := h.nextEvent()
		require.Len(t, ev.arrays, 3)

		next := h.waitArmed(cycle + 1)
		assert.Equal(t, first.Cameras, next.Cameras)
		assert.Zero(t, next.ExpectedTriggers)
		assert.True(t, next.EventTime.IsZero())
		for _, c := range next.Cameras {
			assert.Equal(t, OutcomeIdle, c.Outcome)
			assert.Zero(t, c.Triggers)
		}
	}
	assert.Empty(t, h.sink.sentErrors())
}

func TestPole_AllCamerasFailToOpen(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig("cam-1", "cam-2"), nil)
	h.drv.Camera("cam-1").FailOpens(10)
	h.drv.Camera("cam-2").FailOpens(10)
	h.start()

	select {
	case <-h.pole.Done():
	case <-time.After(waitFor):
		t.Fatal("pole did not terminate")
	}

	assert.ErrorIs(t, h.pole.Err(), ErrNoCameras)
	assert.Equal(t, []Phase{PhaseBooting, PhaseEnd, PhaseTerm}, h.seenPhases())
	assert.Equal(t, PhaseTerm, h.pole.Status().Phase)
	assert.ElementsMatch(t, []sentError{
		{cameraID: "cam-1", kind: broker.KindCamLost},
		{cameraID: "cam-2", kind: broker.KindCamLost},
	}, h.sink.sentErrors())
}

func TestPole_PartialOpenKeepsRunning(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig("cam-1", "cam-2"), nil)
	h.drv.Camera("cam-2").FailOpens(10)
	h.start()

	st := h.waitArmed(0)
	require.Len(t, st.Cameras, 1)
	assert.Equal(t, "cam-1", st.Cameras[0].ID)
	assert.True(t, st.Cameras[0].Open)

	h.fire("cam-1", 100)
	ev := h.nextEvent()
	require.Len(t, ev.arrays, 1)
}

func TestPole_DetachWhileIdle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig("cam-1", "cam-2"), nil)
	h.start()
	h.waitArmed(0)

	require.NoError(t, h.pole.Detach("cam-2"))
	require.Eventually(t, func() bool {
		return len(h.pole.Status().Cameras) == 1
	}, waitFor, 2*time.Millisecond)
	h.waitErrors(sentError{cameraID: "cam-2", kind: broker.KindCamLost})

	h.fire("cam-1", 100, 200)
	h.fire("cam-2", 100, 200)
	ev := h.nextEvent()
	require.Len(t, ev.arrays, 2)
	assert.Equal(t, []string{"cam-1"}, shootCameras(ev.arrays[0]))

	h.waitArmed(1)
	assert.Len(t, h.sink.sentErrors(), 1, "a detached camera is reported once")
}

func TestPole_DeviceLossDetaches(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig("cam-1", "cam-2"), nil)
	h.start()
	h.waitArmed(0)

	h.drv.Camera("cam-2").Lose()
	require.Eventually(t, func() bool {
		st := h.pole.Status()
		_, ok := st.Camera("cam-2")
		return !ok
	}, waitFor, 2*time.Millisecond)
	h.waitErrors(sentError{cameraID: "cam-2", kind: broker.KindCamLost})
}

func TestPole_DetachDuringEvent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig("cam-1", "cam-2"), nil)
	h.start()
	h.waitArmed(0)

	// cam-2 never fires, so the event waits on it until it is detached
	h.fire("cam-1", 100)
	h.waitOutcome("cam-1", OutcomeDelivered)
	require.NoError(t, h.pole.Detach("cam-2"))

	ev := h.nextEvent()
	require.Len(t, ev.arrays, 1)

	st := h.waitArmed(1)
	require.Len(t, st.Cameras, 1)
	assert.Equal(t, []sentError{{cameraID: "cam-2", kind: broker.KindCamLost}}, h.sink.sentErrors())
}

func TestPole_LastCameraLostEndsPole(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig("cam-1"), nil)
	h.start()
	h.waitArmed(0)

	require.NoError(t, h.pole.Detach("cam-1"))
	select {
	case <-h.pole.Done():
	case <-time.After(waitFor):
		t.Fatal("pole did not terminate")
	}
	assert.ErrorIs(t, h.pole.Err(), ErrNoCameras)
	assert.NotContains(t, h.seenPhases(), PhaseWaitEnd)
}

func TestPole_StopDuringEvent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig("cam-1", "cam-2"), nil)
	h.start()
	h.waitArmed(0)

	h.fire("cam-1", 100)
	h.waitOutcome("cam-1", OutcomeDelivered)

	h.pole.Stop()
	select {
	case <-h.pole.Done():
	case <-time.After(waitFor):
		t.Fatal("pole did not terminate")
	}

	assert.NoError(t, h.pole.Err())
	assert.Empty(t, h.sink.events)
	assert.Empty(t, h.sink.sentErrors())
	st := h.pole.Status()
	assert.Equal(t, PhaseTerm, st.Phase)
	assert.Empty(t, st.Cameras)
}

func TestPole_StopBeforeStart(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig("cam-1"), nil)
	h.pole.Stop()
	<-h.pole.Done()
	assert.Equal(t, PhaseTerm, h.pole.Status().Phase)
	assert.NoError(t, h.pole.Err())

	// Start after Stop is a no-op
	h.pole.Start(context.Background())
	assert.Equal(t, PhaseTerm, h.pole.Status().Phase)
}

func TestPole_SetDownloadConcurrency(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := metrics.NewPoleMetrics(reg)
	require.NoError(t, err)

	h := newHarness(t, testConfig("cam-1", "cam-2", "cam-3"), m)
	st := h.pole.Status()
	assert.Equal(t, 1, st.DownloadSlots)
	assert.Equal(t, 3, st.DownloadMax)

	assert.Equal(t, 3, h.pole.SetDownloadConcurrency(10))
	assert.Equal(t, 1, h.pole.SetDownloadConcurrency(0))
	assert.Equal(t, 2, h.pole.SetDownloadConcurrency(2))
	assert.Equal(t, 2, h.pole.Status().DownloadSlots)
}

func TestPole_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := metrics.NewPoleMetrics(reg)
	require.NoError(t, err)

	cfg := testConfig("cam-1", "cam-2")
	cfg.EventTimeout = 300 * time.Millisecond
	h := newHarness(t, cfg, m)
	h.start()
	h.waitArmed(0)

	h.fire("cam-1", 100, 200)
	h.nextEvent()
	h.waitArmed(1)

	count, err := testutil.GatherAndCount(reg, "pole_camera_outcomes_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per camera outcome")

	count, err = testutil.GatherAndCount(reg, "pole_broker_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = testutil.GatherAndCount(reg, "pole_download_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	drv := simcam.NewDriver(testFrameSize)
	writer := framestore.New(afero.NewMemMapFs(), "/frames", testPole, testLogger())
	deps := Dependencies{Driver: drv, Writer: writer, Logger: testLogger()}

	_, err := New(testConfig(), deps)
	assert.ErrorIs(t, err, ErrNoCameras)

	_, err = New(testConfig("a", "a"), deps)
	assert.ErrorContains(t, err, "duplicate camera id")

	_, err = New(testConfig("a", ""), deps)
	assert.ErrorContains(t, err, "has no id")

	cfg := testConfig("a")
	cfg.EventTimeout = 0
	_, err = New(cfg, deps)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = New(testConfig("a"), Dependencies{Driver: drv})
	assert.Error(t, err)

	p, err := New(testConfig("a"), deps)
	require.NoError(t, err)
	assert.ErrorIs(t, p.Detach("b"), ErrUnknownCamera)
	assert.NoError(t, p.Detach("a"))
	p.Stop()
	<-p.Done()
}

func TestConfigFromSettings(t *testing.T) {
	t.Parallel()

	s := &conf.Settings{}
	s.Pole.Name = "north"
	s.Pole.TriggerTimeout = 2 * time.Second
	s.Pole.MaxFrameDLTime = 10 * time.Second
	s.Pole.EventTimeout = time.Minute
	s.Pole.NetworkSemaphore = 3
	s.Pole.FrameHeight = 8
	s.Pole.FrameWidth = 4
	s.Pole.Cameras = []conf.CameraSettings{
		{ID: "c1", IP: "10.0.0.1", SettingsFile: "c1.yaml"},
		{ID: "c2", IP: "10.0.0.2"},
	}
	s.Driver.OpenRetries = 3
	s.Driver.OpenBackoff = 3 * time.Second

	cfg := ConfigFromSettings(s)
	assert.Equal(t, "north", cfg.Name)
	assert.Equal(t, 32, cfg.FrameSize)
	assert.Equal(t, 3, cfg.NetworkSemaphore)
	assert.Equal(t, 3, cfg.OpenRetries)
	assert.Equal(t, []camera.Spec{
		{ID: "c1", IP: "10.0.0.1", SettingsFile: "c1.yaml"},
		{ID: "c2", IP: "10.0.0.2"},
	}, cfg.Cameras)
}

func TestPhase_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "WAIT_START", PhaseWaitStart.String())
	assert.Equal(t, "TERM", PhaseTerm.String())
	assert.Equal(t, "UNKNOWN", Phase(99).String())
}

// mismatchWriter writes frames but reports a size mismatch for one camera.
type mismatchWriter struct {
	*framestore.Store
	cameraID string
}

func (w *mismatchWriter) WriteFrame(path string, data []byte, expected int64) (string, error) {
	written, err := w.Store.WriteFrame(path, data, expected)
	if err != nil || !strings.Contains(filepath.Base(path), w.cameraID+"_") {
		return written, err
	}
	return written, fmt.Errorf("%w: %s", framestore.ErrSizeMismatch, written)
}

// counterValue returns the counter of family name whose labels include want.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			matched := true
			for k, v := range want {
				matched = matched && labels[k] == v
			}
			if matched {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

// outcomeCount returns how often camera ended an event with outcome.
func outcomeCount(t *testing.T, reg *prometheus.Registry, cameraID string, outcome Outcome) float64 {
	t.Helper()
	return counterValue(t, reg, "pole_camera_outcomes_total", map[string]string{"camera": cameraID, "outcome": outcome.String()})
}

func TestPole_LoopErrorReportsExecError(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := metrics.NewPoleMetrics(reg)
	require.NoError(t, err)

	cfg := testConfig("cam-1", "cam-2")
	cfg.MaxFrameDLTime = 200 * time.Millisecond
	h := newHarness(t, cfg, m)
	h.drv.Camera("cam-2").FailStreaming(true)
	h.start()
	h.waitArmed(0)

	h.fire("cam-1", 100, 200)
	h.fire("cam-2", 100, 200)

	ev := h.nextEvent()
	require.Len(t, ev.arrays, 2)
	for _, a := range ev.arrays {
		assert.Equal(t, []string{"cam-1"}, shootCameras(a))
	}

	h.waitErrors(sentError{cameraID: "cam-2", stillRunning: true, kind: broker.KindExecError})
	h.waitArmed(1)
	assert.InDelta(t, 1, outcomeCount(t, reg, "cam-2", OutcomeError), 0)
	assert.InDelta(t, 1, outcomeCount(t, reg, "cam-1", OutcomeDelivered), 0)
}

func TestPole_SizeMismatchKeepsCameraDelivered(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := metrics.NewPoleMetrics(reg)
	require.NoError(t, err)

	h := newHarnessWithWriter(t, testConfig("cam-1", "cam-2"), m, func(s *framestore.Store) FrameWriter {
		return &mismatchWriter{Store: s, cameraID: "cam-2"}
	})
	h.start()
	h.waitArmed(0)

	h.fire("cam-1", 100, 200)
	h.fire("cam-2", 100, 200)

	ev := h.nextEvent()
	require.Len(t, ev.arrays, 2)
	for _, a := range ev.arrays {
		assert.Equal(t, []string{"cam-1"}, shootCameras(a), "mismatched frames are not forwarded")
	}

	h.waitArmed(1)
	assert.Empty(t, h.sink.sentErrors())
	assert.InDelta(t, 1, outcomeCount(t, reg, "cam-2", OutcomeDelivered), 0)
	assert.InDelta(t, 2, counterValue(t, reg, "pole_frame_write_errors_total", map[string]string{"camera": "cam-2"}), 0)
	assert.InDelta(t, 0, counterValue(t, reg, "pole_frame_write_errors_total", map[string]string{"camera": "cam-1"}), 0)
}
