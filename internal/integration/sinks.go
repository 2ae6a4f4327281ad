package integration

import (
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/fieldmon/kismet-monitor/internal/config"
	"github.com/fieldmon/kismet-monitor/internal/models"
)

// natsPublisher is the part of *nats.Conn the sink uses
type natsPublisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes to <prefix>.<kind>
type NATSSink struct {
	nc     natsPublisher
	prefix string
}

func NewNATSSink(nc natsPublisher, prefix string) *NATSSink {
	return &NATSSink{nc: nc, prefix: prefix}
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Subject(kind models.Kind) string {
	return s.prefix + "." + kind.String()
}

func (s *NATSSink) Publish(kind models.Kind, payload []byte) error {
	return s.nc.Publish(s.Subject(kind), payload)
}

// Close leaves the connection to its owner
func (s *NATSSink) Close() {}

// mqttPublisher is the part of mqtt.Client the sink uses
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

const mqttPublishTimeout = 5 * time.Second

var errMQTTTimeout = errors.New("mqtt publish timeout")

// MQTTSink publishes to <prefix>/<kind>
type MQTTSink struct {
	client   mqttPublisher
	prefix   string
	qos      byte
	retained bool
}

// ConnectMQTT connects to the configured broker. The client keeps
// reconnecting on its own after the first connection.
func ConnectMQTT(cfg config.MQTTConfig) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetKeepAlive(30 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("MQTT client connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Error().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		// connect retry keeps going in the background
		log.Warn().Str("broker", cfg.Broker).Msg("MQTT broker not reachable yet, retrying in background")
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect mqtt %s: %w", cfg.Broker, err)
	}

	return newMQTTSink(client, cfg.TopicPrefix, cfg.QoS, cfg.Retained), nil
}

func newMQTTSink(client mqttPublisher, prefix string, qos byte, retained bool) *MQTTSink {
	return &MQTTSink{client: client, prefix: prefix, qos: qos, retained: retained}
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Topic(kind models.Kind) string {
	return s.prefix + "/" + kind.String()
}

func (s *MQTTSink) Publish(kind models.Kind, payload []byte) error {
	token := s.client.Publish(s.Topic(kind), s.qos, s.retained, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return errMQTTTimeout
	}
	return token.Error()
}

func (s *MQTTSink) Close() {
	s.client.Disconnect(250)
	log.Info().Msg("MQTT client disconnected")
}
