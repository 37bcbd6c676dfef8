package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PoleMetrics tracks event cycles of the pole orchestrator.
type PoleMetrics struct {
	eventsTotal           prometheus.Counter
	cameraOutcomesTotal   *prometheus.CounterVec
	eventDuration         prometheus.Histogram
	downloadDuration      *prometheus.HistogramVec
	downloadSlots         prometheus.Gauge
	activeCameras         prometheus.Gauge
	expectedTriggers      prometheus.Gauge
	frameWriteErrorsTotal *prometheus.CounterVec
	brokerErrorsTotal     *prometheus.CounterVec

	collectors []prometheus.Collector
}

// NewPoleMetrics creates pole metrics and registers them with registry.
func NewPoleMetrics(registry *prometheus.Registry) (*PoleMetrics, error) {
	m := &PoleMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pole metrics: %w", err)
	}
	return m, nil
}

func (m *PoleMetrics) initMetrics() {
	m.eventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pole_events_total",
		Help: "Total number of completed event cycles",
	})
	m.cameraOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pole_camera_outcomes_total",
		Help: "Final outcome of each camera per event",
	}, []string{"camera", "outcome"})
	m.eventDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pole_event_duration_seconds",
		Help:    "Time from the first trigger of an event until its outcomes were final",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})
	m.downloadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pole_download_duration_seconds",
		Help:    "Frame download duration per camera",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"camera"})
	m.downloadSlots = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pole_download_slots",
		Help: "Number of cameras allowed to download frames at once",
	})
	m.activeCameras = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pole_active_cameras",
		Help: "Number of cameras still taking part in events",
	})
	m.expectedTriggers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pole_expected_triggers",
		Help: "Trigger count agreed for the current event",
	})
	m.frameWriteErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pole_frame_write_errors_total",
		Help: "Frames that could not be written to disk",
	}, []string{"camera"})
	m.brokerErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pole_broker_errors_total",
		Help: "Camera errors reported to the broker by kind",
	}, []string{"kind"})

	m.collectors = []prometheus.Collector{
		m.eventsTotal,
		m.cameraOutcomesTotal,
		m.eventDuration,
		m.downloadDuration,
		m.downloadSlots,
		m.activeCameras,
		m.expectedTriggers,
		m.frameWriteErrorsTotal,
		m.brokerErrorsTotal,
	}
}

// Describe implements the prometheus.Collector interface.
func (m *PoleMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *PoleMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

// RecordEvent counts a finished event and how long it took.
func (m *PoleMetrics) RecordEvent(duration time.Duration) {
	m.eventsTotal.Inc()
	m.eventDuration.Observe(duration.Seconds())
}

// RecordCameraOutcome counts the final outcome of one camera in an event.
func (m *PoleMetrics) RecordCameraOutcome(cameraID, outcome string) {
	m.cameraOutcomesTotal.WithLabelValues(cameraID, outcome).Inc()
}

// ObserveDownload records how long a camera took to download its frames.
func (m *PoleMetrics) ObserveDownload(cameraID string, duration time.Duration) {
	m.downloadDuration.WithLabelValues(cameraID).Observe(duration.Seconds())
}

// SetDownloadSlots sets the current download concurrency.
func (m *PoleMetrics) SetDownloadSlots(n int) {
	m.downloadSlots.Set(float64(n))
}

// SetActiveCameras sets the number of cameras still in service.
func (m *PoleMetrics) SetActiveCameras(n int) {
	m.activeCameras.Set(float64(n))
}

// SetExpectedTriggers sets the agreed trigger count of the running event.
func (m *PoleMetrics) SetExpectedTriggers(n int) {
	m.expectedTriggers.Set(float64(n))
}

// IncrementFrameWriteErrors counts a frame that failed to reach disk.
func (m *PoleMetrics) IncrementFrameWriteErrors(cameraID string) {
	m.frameWriteErrorsTotal.WithLabelValues(cameraID).Inc()
}

// IncrementBrokerErrors counts a camera error sent to the broker.
func (m *PoleMetrics) IncrementBrokerErrors(kind string) {
	m.brokerErrorsTotal.WithLabelValues(kind).Inc()
}
