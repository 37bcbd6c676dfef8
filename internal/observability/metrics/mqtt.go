// Package metrics provides custom Prometheus metrics for the polecam components.
package metrics

import (
	"fmt"
	"path"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTT error reasons.
const (
	ReasonConnect        = "connect"
	ReasonPublish        = "publish"
	ReasonConnectionLost = "connection_lost"
)

// MQTTMetrics tracks the broker connection and the messages published on it.
// Messages are labelled by topic kind, the last topic segment ("events" or "errors"),
// so pole and camera ids do not multiply series.
type MQTTMetrics struct {
	connected      prometheus.Gauge
	lastConnect    prometheus.Gauge
	reconnects     prometheus.Counter
	published      *prometheus.CounterVec
	errors         *prometheus.CounterVec
	payloadBytes   *prometheus.HistogramVec
	publishLatency prometheus.Histogram
}

// NewMQTTMetrics creates MQTT metrics and registers them with registry.
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "broker_mqtt_connected",
			Help: "1 while connected to the MQTT broker",
		}),
		lastConnect: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "broker_mqtt_last_connect_timestamp_seconds",
			Help: "Unix time of the last successful MQTT connection",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_mqtt_reconnects_total",
			Help: "MQTT reconnection attempts",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_mqtt_published_total",
			Help: "Messages delivered to the MQTT broker by topic kind",
		}, []string{"kind"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_mqtt_errors_total",
			Help: "MQTT failures by reason",
		}, []string{"reason"}),
		payloadBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "broker_mqtt_payload_bytes",
			Help:    "Size of published payloads",
			Buckets: prometheus.ExponentialBuckets(128, 2, 10),
		}, []string{"kind"}),
		publishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "broker_mqtt_publish_seconds",
			Help:    "Time until the broker acknowledged a publish",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}

	for _, c := range []prometheus.Collector{
		m.connected, m.lastConnect, m.reconnects, m.published, m.errors, m.payloadBytes, m.publishLatency,
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
		}
	}
	return m, nil
}

// SetConnected records the connection state.
func (m *MQTTMetrics) SetConnected(connected bool) {
	if connected {
		m.connected.Set(1)
		m.lastConnect.SetToCurrentTime()
		return
	}
	m.connected.Set(0)
}

// IncrementReconnects counts one reconnection attempt.
func (m *MQTTMetrics) IncrementReconnects() {
	m.reconnects.Inc()
}

// IncrementErrors counts one failure with the given reason.
func (m *MQTTMetrics) IncrementErrors(reason string) {
	m.errors.WithLabelValues(reason).Inc()
}

// ObservePublish records one publish to topic. A failed publish only counts
// a publish error.
func (m *MQTTMetrics) ObservePublish(topic string, size int, took time.Duration, err error) {
	m.publishLatency.Observe(took.Seconds())
	if err != nil {
		m.IncrementErrors(ReasonPublish)
		return
	}
	kind := path.Base(topic)
	m.published.WithLabelValues(kind).Inc()
	m.payloadBytes.WithLabelValues(kind).Observe(float64(size))
}

// Connected returns the connection gauge.
func (m *MQTTMetrics) Connected() prometheus.Gauge {
	return m.connected
}

// PublishedFor returns the delivered-message counter of one topic kind.
func (m *MQTTMetrics) PublishedFor(kind string) prometheus.Counter {
	return m.published.WithLabelValues(kind)
}

// ErrorsFor returns the error counter of one reason.
func (m *MQTTMetrics) ErrorsFor(reason string) prometheus.Counter {
	return m.errors.WithLabelValues(reason)
}
