package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/gridlock-ai/sentinel/internal/domain"
)

// MQTTConfig locates the broker and topic the meter publishes to.
type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
}

// wireReading is the JSON the meter firmware publishes. The timestamp is
// optional; readings without one are stamped on receipt.
type wireReading struct {
	Timestamp   *time.Time `json:"timestamp"`
	Voltage     float64    `json:"voltage"`
	Current     float64    `json:"current"`
	Power       float64    `json:"power"`
	PowerFactor float64    `json:"power_factor"`
}

// DecodeReading parses one published reading.
func DecodeReading(payload []byte) (domain.Reading, error) {
	var w wireReading
	if err := json.Unmarshal(payload, &w); err != nil {
		return domain.Reading{}, fmt.Errorf("decode reading: %w", err)
	}
	r := domain.Reading{
		Voltage:     w.Voltage,
		Current:     w.Current,
		Power:       w.Power,
		PowerFactor: w.PowerFactor,
	}
	if w.Timestamp != nil {
		r.Timestamp = *w.Timestamp
	}
	return r, nil
}

// MQTTSubscriber pushes readings published on a topic into a Buffer.
type MQTTSubscriber struct {
	client mqtt.Client
	topic  string
	buf    *Buffer
	log    *zap.Logger
}

// NewMQTTSubscriber builds a client for cfg. Nothing connects until Start.
func NewMQTTSubscriber(cfg MQTTConfig, buf *Buffer, log *zap.Logger) *MQTTSubscriber {
	if log == nil {
		log = zap.NewNop()
	}
	s := &MQTTSubscriber{topic: cfg.Topic, buf: buf, log: log}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOnConnectHandler(func(c mqtt.Client) {
			// subscriptions do not survive a reconnect with a clean session
			if err := s.subscribe(c); err != nil {
				s.log.Error("mqtt resubscribe failed", zap.Error(err))
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.log.Warn("mqtt connection lost", zap.Error(err))
		})
	s.client = mqtt.NewClient(opts)
	return s
}

// Start connects to the broker. The subscription is made by the connect
// handler.
func (s *MQTTSubscriber) Start(timeout time.Duration) error {
	token := s.client.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt connect: timed out after %s", timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	s.log.Info("mqtt connected", zap.String("topic", s.topic))
	return nil
}

// Stop disconnects, waiting up to 250ms for in-flight work.
func (s *MQTTSubscriber) Stop() {
	s.client.Disconnect(250)
}

func (s *MQTTSubscriber) subscribe(c mqtt.Client) error {
	token := c.Subscribe(s.topic, 0, s.onMessage)
	token.Wait()
	return token.Error()
}

func (s *MQTTSubscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	r, err := DecodeReading(msg.Payload())
	if err != nil {
		s.log.Warn("dropping malformed reading", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	if err := s.buf.Put(r); err != nil {
		s.log.Warn("dropping invalid reading", zap.String("topic", msg.Topic()), zap.Error(err))
	}
}
