package broker

import (
	"context"
	"encoding/json"
	"path"
	"time"

	"github.com/tphakala/polecam/internal/errors"
	"github.com/tphakala/polecam/internal/logger"
	"github.com/tphakala/polecam/internal/mqtt"
)

// EventMessage is the JSON payload published for a finished event.
type EventMessage struct {
	Pole        string       `json:"pole"`
	EventTime   time.Time    `json:"event_time"`
	ShootArrays []ShootArray `json:"shoot_arrays"`
}

// CameraErrorMessage is the JSON payload published for a camera error report.
type CameraErrorMessage struct {
	CameraID     string    `json:"camera_id"`
	Kind         ErrorKind `json:"kind"`
	StillRunning bool      `json:"still_running"`
	Time         time.Time `json:"time"`
}

// MQTTSink publishes reports as JSON to an MQTT broker.
type MQTTSink struct {
	client mqtt.Client
	topic  string
	log    logger.Logger
	now    func() time.Time
}

// NewMQTTSink creates a sink publishing below the topic prefix.
func NewMQTTSink(client mqtt.Client, topic string, log logger.Logger) *MQTTSink {
	if log == nil {
		log = logger.Global().Module("broker")
	}
	return &MQTTSink{
		client: client,
		topic:  topic,
		log:    log,
		now:    time.Now,
	}
}

// EventTopic returns the topic events of pole are published to.
func (s *MQTTSink) EventTopic(pole string) string {
	return path.Join(s.topic, pole, "events")
}

// ErrorTopic returns the topic error reports of a camera are published to.
func (s *MQTTSink) ErrorTopic(cameraID string) string {
	return path.Join(s.topic, "cameras", cameraID, "errors")
}

// SendEventData publishes one message holding all shoot arrays of the event.
func (s *MQTTSink) SendEventData(ctx context.Context, eventTS time.Time, pole string, arrays []ShootArray) error {
	if arrays == nil {
		arrays = []ShootArray{}
	}
	return s.publish(ctx, s.EventTopic(pole), EventMessage{
		Pole:        pole,
		EventTime:   eventTS,
		ShootArrays: arrays,
	})
}

// SendCameraError publishes one error report.
func (s *MQTTSink) SendCameraError(ctx context.Context, cameraID string, stillRunning bool, kind ErrorKind) error {
	return s.publish(ctx, s.ErrorTopic(cameraID), CameraErrorMessage{
		CameraID:     cameraID,
		Kind:         kind,
		StillRunning: stillRunning,
		Time:         s.now(),
	})
}

func (s *MQTTSink) publish(ctx context.Context, topic string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.New(err).
			Component("broker").
			Category(errors.CategoryBroker).
			Context("topic", topic).
			Build()
	}
	if err := s.client.Publish(ctx, topic, payload); err != nil {
		s.log.Warn("failed to publish report",
			logger.String("topic", topic),
			logger.Error(err))
		return err
	}
	return nil
}
