package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/polecam/internal/conf"
	"github.com/tphakala/polecam/internal/datastore"
	"github.com/tphakala/polecam/internal/errors"
	"github.com/tphakala/polecam/internal/logger"
	"github.com/tphakala/polecam/internal/pole"
)

type fakePole struct {
	mu       sync.Mutex
	status   pole.Status
	slots    int
	detached []string
	stopped  bool
}

func (f *fakePole) Status() pole.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakePole) SetDownloadConcurrency(n int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots = min(n, f.status.DownloadMax)
	f.status.DownloadSlots = f.slots
	return f.slots
}

func (f *fakePole) Detach(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.status.Camera(id); !ok {
		return errors.New(pole.ErrUnknownCamera).Context("camera_id", id).Build()
	}
	f.detached = append(f.detached, id)
	return nil
}

func (f *fakePole) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	f.status.Phase = pole.PhaseTerm
}

type fakeArchive struct {
	events    []datastore.Event
	errs      []datastore.CameraError
	err       error
	lastLimit int
	lastCam   string
}

func (f *fakeArchive) LatestEvents(limit int) ([]datastore.Event, error) {
	f.lastLimit = limit
	return f.events, f.err
}

func (f *fakeArchive) CameraErrors(cameraID string, limit int) ([]datastore.CameraError, error) {
	f.lastLimit = limit
	f.lastCam = cameraID
	return f.errs, f.err
}

func newFakePole() *fakePole {
	return &fakePole{status: pole.Status{
		Pole:          "pole-1",
		Phase:         pole.PhaseWaitStart,
		DownloadSlots: 2,
		DownloadMax:   4,
		Cameras: []pole.CameraStatus{
			{ID: "cam-1", Num: 1, Outcome: pole.OutcomeIdle, Open: true},
			{ID: "cam-2", Num: 2, Outcome: pole.OutcomeIdle, Open: true},
		},
	}}
}

func setupController(t *testing.T, archive EventArchive, settings *conf.Settings) (*echo.Echo, *fakePole) {
	t.Helper()
	if settings == nil {
		settings = &conf.Settings{}
		settings.API.RateLimit = 100
		settings.API.Burst = 100
	}
	e := echo.New()
	p := newFakePole()
	New(e, settings, p, archive, logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC))
	return e, p
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader = http.NoBody
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestGetPoleStatus(t *testing.T) {
	t.Parallel()
	e, _ := setupController(t, nil, nil)

	rec := do(e, http.MethodGet, "/api/v1/pole", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "pole-1", body["pole"])
	assert.Equal(t, "WAIT_START", body["phase"])
	assert.NotContains(t, body, "event_time", "zero event time is omitted")

	cams, ok := body["cameras"].([]any)
	require.True(t, ok)
	require.Len(t, cams, 2)
	first, ok := cams[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "IDLE", first["outcome"])
}

func TestSetDownloads(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantSlots int
	}{
		{"within bounds", `{"slots":3}`, http.StatusOK, 3},
		{"clamped to max", `{"slots":10}`, http.StatusOK, 4},
		{"zero rejected", `{"slots":0}`, http.StatusBadRequest, 0},
		{"malformed body", `{"slots":`, http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e, p := setupController(t, nil, nil)

			rec := do(e, http.MethodPut, "/api/v1/pole/downloads", tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode != http.StatusOK {
				resp := decode[ErrorResponse](t, rec)
				assert.Equal(t, tt.wantCode, resp.Code)
				assert.Len(t, resp.CorrelationID, 8)
				return
			}
			resp := decode[DownloadsResponse](t, rec)
			assert.Equal(t, tt.wantSlots, resp.Slots)
			assert.Equal(t, 4, resp.Max)
			assert.Equal(t, tt.wantSlots, p.slots)
		})
	}
}

func TestStopPole(t *testing.T) {
	t.Parallel()
	e, p := setupController(t, nil, nil)

	rec := do(e, http.MethodPost, "/api/v1/pole/stop", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, decode[ControlResult](t, rec).Success)
	assert.True(t, p.stopped)
}

func TestDetachCamera(t *testing.T) {
	t.Parallel()
	e, p := setupController(t, nil, nil)

	rec := do(e, http.MethodPost, "/api/v1/cameras/cam-2/detach", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	res := decode[ControlResult](t, rec)
	assert.Equal(t, "detach", res.Action)
	assert.Equal(t, []string{"cam-2"}, p.detached)

	rec = do(e, http.MethodPost, "/api/v1/cameras/cam-9/detach", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, []string{"cam-2"}, p.detached)
}

func TestGetEvents(t *testing.T) {
	t.Parallel()

	t.Run("no archive", func(t *testing.T) {
		t.Parallel()
		e, _ := setupController(t, nil, nil)
		assert.Equal(t, http.StatusNotFound, do(e, http.MethodGet, "/api/v1/events", "").Code)
		assert.Equal(t, http.StatusNotFound, do(e, http.MethodGet, "/api/v1/cameras/errors", "").Code)
	})

	t.Run("lists events", func(t *testing.T) {
		t.Parallel()
		archive := &fakeArchive{events: []datastore.Event{
			{ID: 1, Pole: "pole-1", TriggerNum: 1, TransactionID: "tx-1", Shoots: []datastore.EventShot{{CameraID: "cam-1", CameraNum: 1}}},
		}}
		e, _ := setupController(t, archive, nil)

		rec := do(e, http.MethodGet, "/api/v1/events?limit=5", "")
		require.Equal(t, http.StatusOK, rec.Code)
		events := decode[[]datastore.Event](t, rec)
		require.Len(t, events, 1)
		assert.Equal(t, "tx-1", events[0].TransactionID)
		assert.Equal(t, 5, archive.lastLimit)
	})

	t.Run("invalid limit", func(t *testing.T) {
		t.Parallel()
		e, _ := setupController(t, &fakeArchive{}, nil)
		assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/api/v1/events?limit=abc", "").Code)
		assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/api/v1/events?limit=-1", "").Code)
	})

	t.Run("archive failure", func(t *testing.T) {
		t.Parallel()
		e, _ := setupController(t, &fakeArchive{err: errors.NewStd("db down")}, nil)
		rec := do(e, http.MethodGet, "/api/v1/events", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "db down", decode[ErrorResponse](t, rec).Error)
	})
}

func TestGetCameraErrors(t *testing.T) {
	t.Parallel()
	archive := &fakeArchive{errs: []datastore.CameraError{{ID: 7, CameraID: "cam-1", Kind: "missed_frame", StillRunning: true}}}
	e, _ := setupController(t, archive, nil)

	rec := do(e, http.MethodGet, "/api/v1/cameras/errors?camera=cam-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	errs := decode[[]datastore.CameraError](t, rec)
	require.Len(t, errs, 1)
	assert.Equal(t, "missed_frame", errs[0].Kind)
	assert.Equal(t, "cam-1", archive.lastCam)
	assert.Zero(t, archive.lastLimit)
}

func TestGetHealth(t *testing.T) {
	t.Parallel()
	e, p := setupController(t, nil, nil)

	rec := do(e, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 2, health.Cameras)

	p.Stop()
	rec = do(e, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "terminated", decode[HealthResponse](t, rec).Status)
}

func TestMutatingRoutesAreRateLimited(t *testing.T) {
	t.Parallel()

	settings := &conf.Settings{}
	settings.API.RateLimit = 0.01
	settings.API.Burst = 1
	e, p := setupController(t, nil, settings)

	first := do(e, http.MethodPost, "/api/v1/cameras/cam-1/detach", "")
	require.Equal(t, http.StatusAccepted, first.Code)

	second := do(e, http.MethodPost, "/api/v1/cameras/cam-2/detach", "")
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, http.StatusTooManyRequests, decode[ErrorResponse](t, second).Code)
	assert.Equal(t, []string{"cam-1"}, p.detached)

	// reads are not limited
	for range 5 {
		assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/api/v1/pole", "").Code)
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	t.Parallel()

	settings := &conf.Settings{}
	settings.API.Listen = "127.0.0.1:0"
	s := NewServer(settings, newFakePole(), nil)

	var wg sync.WaitGroup
	quit := make(chan struct{})
	require.NoError(t, s.Start(&wg, quit))

	resp, err := http.Get("http://" + s.Addr().String() + "/api/v1/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	close(quit)
	wg.Wait()
}
