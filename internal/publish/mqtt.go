// Package publish forwards session readings to an MQTT broker.
package publish

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/afroash/thermolog/internal/config"
	"github.com/afroash/thermolog/internal/models"
)

const publishTimeout = 5 * time.Second

// MQTTPublisher publishes every reading to a per-channel topic and the
// end-of-session statistics as retained messages.
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
	logger zerolog.Logger
}

type readingPayload struct {
	Session     string  `json:"session"`
	Channel     int     `json:"channel"`
	Temperature float64 `json:"temperature"`
	Timestamp   string  `json:"timestamp"`
}

// NewMQTTPublisher connects to the broker. When cfg.DiscoveryPrefix is set
// a Home Assistant discovery entry is published for every channel.
func NewMQTTPublisher(cfg config.MQTTConfig, channels []int, logger zerolog.Logger) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Server).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	p := newPublisher(client, cfg.Topic, logger)
	if cfg.DiscoveryPrefix != "" {
		for _, ch := range channels {
			topic := discoveryTopic(cfg.DiscoveryPrefix, cfg.ClientID, ch)
			payload := discoveryPayload(cfg.ClientID, p.readingTopic(ch), ch)
			if err := p.publishJSON(topic, true, payload); err != nil {
				p.logger.Warn().Err(err).Int("channel", ch).Msg("MQTT discovery publish failed")
			}
		}
	}

	logger.Info().Str("server", cfg.Server).Str("topic", cfg.Topic).Msg("MQTT publisher connected")
	return p, nil
}

func newPublisher(client mqtt.Client, topic string, logger zerolog.Logger) *MQTTPublisher {
	return &MQTTPublisher{
		client: client,
		topic:  strings.TrimSuffix(topic, "/"),
		logger: logger.With().Str("component", "mqtt").Logger(),
	}
}

// OnReading publishes a reading. Failures are logged; the sampling loop is
// never interrupted by the broker.
func (p *MQTTPublisher) OnReading(reading models.Reading) {
	payload := readingPayload{
		Session:     reading.SessionID,
		Channel:     reading.Channel,
		Temperature: reading.Temperature,
		Timestamp:   reading.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if err := p.publishJSON(p.readingTopic(reading.Channel), false, payload); err != nil {
		p.logger.Warn().Err(err).Int("channel", reading.Channel).Msg("MQTT publish failed")
	}
}

// PublishSummaries publishes each channel summary as a retained message
func (p *MQTTPublisher) PublishSummaries(summaries []models.ChannelSummary) error {
	for _, s := range summaries {
		if err := p.publishJSON(p.summaryTopic(s.Channel), true, s); err != nil {
			return fmt.Errorf("publish summary for channel %d: %w", s.Channel, err)
		}
	}
	return nil
}

// Close disconnects from the broker, waiting briefly for in-flight messages
func (p *MQTTPublisher) Close() error {
	if p.client != nil {
		p.client.Disconnect(250)
	}
	return nil
}

func (p *MQTTPublisher) readingTopic(channel int) string {
	return fmt.Sprintf("%s/channel/%d", p.topic, channel)
}

func (p *MQTTPublisher) summaryTopic(channel int) string {
	return fmt.Sprintf("%s/summary/%d", p.topic, channel)
}

func (p *MQTTPublisher) publishJSON(topic string, retained bool, payload interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	token := p.client.Publish(topic, 0, retained, b)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return token.Error()
}

func discoveryTopic(prefix, clientID string, channel int) string {
	return fmt.Sprintf("%s/sensor/%s_%d/config", strings.TrimSuffix(prefix, "/"), clientID, channel)
}

func discoveryPayload(clientID, stateTopic string, channel int) map[string]interface{} {
	return map[string]interface{}{
		"name":                  fmt.Sprintf("Thermocouple %s ch%d", clientID, channel),
		"unique_id":             fmt.Sprintf("%s_%d", clientID, channel),
		"state_topic":           stateTopic,
		"unit_of_measurement":   "°C",
		"device_class":          "temperature",
		"state_class":           "measurement",
		"value_template":        "{{ value_json.temperature }}",
		"json_attributes_topic": stateTopic,
	}
}
