package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric family %s not gathered", name)
	return nil
}

func TestPoleMetrics_EventDurationHistogram(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewPoleMetrics(reg)
	require.NoError(t, err)

	m.RecordEvent(500 * time.Millisecond)
	m.RecordEvent(2 * time.Second)

	f := gatherFamily(t, reg, "pole_event_duration_seconds")
	require.Equal(t, dto.MetricType_HISTOGRAM, f.GetType())
	h := f.GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(2), h.GetSampleCount())
	assert.InDelta(t, 2.5, h.GetSampleSum(), 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(m.eventsTotal), 0)
}

func TestPoleMetrics_DownloadDurationPerCamera(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewPoleMetrics(reg)
	require.NoError(t, err)

	m.ObserveDownload("cam-1", 40*time.Millisecond)
	m.ObserveDownload("cam-2", 80*time.Millisecond)
	m.ObserveDownload("cam-2", 20*time.Millisecond)

	f := gatherFamily(t, reg, "pole_download_duration_seconds")
	counts := map[string]uint64{}
	for _, metric := range f.GetMetric() {
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == "camera" {
				counts[lp.GetValue()] = metric.GetHistogram().GetSampleCount()
			}
		}
	}
	assert.Equal(t, map[string]uint64{"cam-1": 1, "cam-2": 2}, counts)
}

func TestPoleMetrics_Gauges(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewPoleMetrics(reg)
	require.NoError(t, err)

	m.SetDownloadSlots(2)
	m.SetActiveCameras(5)
	m.SetExpectedTriggers(12)
	m.IncrementFrameWriteErrors("cam-3")

	assert.InDelta(t, 2, testutil.ToFloat64(m.downloadSlots), 0)
	assert.InDelta(t, 5, testutil.ToFloat64(m.activeCameras), 0)
	assert.InDelta(t, 12, testutil.ToFloat64(m.expectedTriggers), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.frameWriteErrorsTotal.WithLabelValues("cam-3")), 0)
}

func TestNewPoleMetrics_DoubleRegistrationFails(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPoleMetrics(reg)
	require.NoError(t, err)
	_, err = NewPoleMetrics(reg)
	assert.Error(t, err)
}
