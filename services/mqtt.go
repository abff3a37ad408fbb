package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"aircomp/config"
	"aircomp/models"
	"aircomp/monitor"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Topic suffixes under MQTT_TOPIC_PREFIX.
const (
	TopicState       = "state"
	TopicError       = "error"
	TopicSeries      = "series"
	TopicAnnotations = "annotations"
	TopicLink        = "link"
)

const mqttPublishTimeout = 2 * time.Second

// tokenPublisher is the part of mqtt.Client the publisher uses
type tokenPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPublisher mirrors the dashboard model onto an MQTT broker
type MQTTPublisher struct {
	client     tokenPublisher
	prefix     string
	instanceID string
	logger     *zap.Logger
}

var (
	_ monitor.StateListener = (*MQTTPublisher)(nil)
	_ monitor.ChartListener = (*MQTTPublisher)(nil)
	_ LinkAlerter           = (*MQTTPublisher)(nil)
)

type statePayload struct {
	Instance string `json:"instance"`
	monitor.BoardSnapshot
}

type errorPayload struct {
	Instance string    `json:"instance"`
	Error    string    `json:"error"`
	Time     time.Time `json:"time"`
}

type seriesPayload struct {
	Instance string               `json:"instance"`
	Points   []models.SeriesPoint `json:"points"`
}

type annotationsPayload struct {
	Instance    string              `json:"instance"`
	Annotations []models.Annotation `json:"annotations"`
}

type linkPayload struct {
	Instance  string            `json:"instance"`
	Status    models.LinkStatus `json:"status"`
	LastSeen  *time.Time        `json:"last_seen,omitempty"`
	Seconds   float64           `json:"seconds"`
	LastError string            `json:"last_error,omitempty"`
}

// NewMQTTPublisher connects to cfg.MQTTBroker. The client reconnects on
// its own after a lost connection.
func NewMQTTPublisher(cfg *config.Config, instanceID string, logger *zap.Logger) (*MQTTPublisher, mqtt.Client, error) {
	broker := cfg.MQTTBroker
	if !strings.Contains(broker, "://") {
		broker = fmt.Sprintf("tcp://%s", broker)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(fmt.Sprintf("aircomp-monitor-%s", instanceID))
	opts.SetUsername(cfg.MQTTUsername)
	opts.SetPassword(cfg.MQTTPassword)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", broker))
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return newMQTTPublisher(client, cfg.MQTTTopicPrefix, instanceID, logger), client, nil
}

func newMQTTPublisher(client tokenPublisher, prefix, instanceID string, logger *zap.Logger) *MQTTPublisher {
	return &MQTTPublisher{
		client:     client,
		prefix:     strings.TrimRight(prefix, "/"),
		instanceID: instanceID,
		logger:     logger,
	}
}

// Topic returns the full topic for a suffix
func (p *MQTTPublisher) Topic(suffix string) string {
	return p.prefix + "/" + suffix
}

// StateUpdated publishes the board as a retained message
func (p *MQTTPublisher) StateUpdated(_ *models.StateSample, board monitor.BoardSnapshot) {
	p.publish(TopicState, true, statePayload{Instance: p.instanceID, BoardSnapshot: board})
}

func (p *MQTTPublisher) StateFailed(err error) {
	p.publish(TopicError, false, errorPayload{Instance: p.instanceID, Error: err.Error(), Time: time.Now()})
}

func (p *MQTTPublisher) PointsAppended(points []models.SeriesPoint) {
	if len(points) == 0 {
		return
	}
	p.publish(TopicSeries, false, seriesPayload{Instance: p.instanceID, Points: points})
}

func (p *MQTTPublisher) AnnotationsUpserted(annotations []models.Annotation) {
	if len(annotations) == 0 {
		return
	}
	p.publish(TopicAnnotations, false, annotationsPayload{Instance: p.instanceID, Annotations: annotations})
}

func (p *MQTTPublisher) SendLinkLostAlert(event models.LinkEvent) error {
	return p.publishLink(event)
}

func (p *MQTTPublisher) SendLinkRestoredAlert(event models.LinkEvent) error {
	return p.publishLink(event)
}

func (p *MQTTPublisher) publishLink(event models.LinkEvent) error {
	payload := linkPayload{
		Instance:  p.instanceID,
		Status:    event.Status,
		Seconds:   event.Since.Seconds(),
		LastError: event.LastError,
	}
	if !event.LastSeen.IsZero() {
		payload.LastSeen = &event.LastSeen
	}
	return p.publish(TopicLink, true, payload)
}

func (p *MQTTPublisher) publish(suffix string, retained bool, payload any) error {
	topic := p.Topic(suffix)

	jsonData, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("Failed to marshal MQTT payload", zap.String("topic", topic), zap.Error(err))
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	token := p.client.Publish(topic, 0, retained, jsonData)
	if !token.WaitTimeout(mqttPublishTimeout) {
		p.logger.Warn("MQTT publish timed out", zap.String("topic", topic))
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		p.logger.Error("Failed to publish MQTT message", zap.String("topic", topic), zap.Error(err))
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	p.logger.Debug("Published MQTT message", zap.String("topic", topic), zap.Int("bytes", len(jsonData)))
	return nil
}
