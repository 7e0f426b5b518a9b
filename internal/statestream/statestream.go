// Package statestream mirrors Home Assistant entity states published by the
// mqtt_statestream integration.
package statestream

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"dashboard_cards/internal/config"
	"dashboard_cards/internal/model"
)

// Updater receives one entity state change.
type Updater interface {
	UpdateState(st model.EntityState)
}

// Subscriber listens on <prefix>/+/+/state and forwards every message.
type Subscriber struct {
	client  mqtt.Client
	prefix  string
	updater Updater
	logger  *logrus.Logger
	now     func() time.Time
}

func New(cfg config.MQTT, updater Updater, logger *logrus.Logger) *Subscriber {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Subscriber{
		prefix:  strings.Trim(cfg.TopicPrefix, "/"),
		updater: updater,
		logger:  logger,
		now:     time.Now,
	}
	s.client = mqtt.NewClient(s.clientOptions(cfg))
	return s
}

func (s *Subscriber) clientOptions(cfg config.MQTT) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute).
		SetCleanSession(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	// subscriptions are lost on reconnect with a clean session
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		if err := s.subscribe(c); err != nil {
			s.logger.WithError(err).Error("statestream subscribe failed")
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.WithError(err).Warn("statestream connection lost")
	})
	return opts
}

// Topic returns the subscription filter.
func (s *Subscriber) Topic() string {
	return s.prefix + "/+/+/state"
}

// Start connects to the broker; messages flow until Stop.
func (s *Subscriber) Start(ctx context.Context) error {
	token := s.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connecting to MQTT broker: %w", err)
	}
	s.logger.WithField("topic", s.Topic()).Info("statestream connected")
	return nil
}

func (s *Subscriber) Stop() {
	s.client.Disconnect(250)
}

func (s *Subscriber) subscribe(c mqtt.Client) error {
	token := c.Subscribe(s.Topic(), 0, s.handle)
	token.Wait()
	return token.Error()
}

func (s *Subscriber) handle(_ mqtt.Client, msg mqtt.Message) {
	entityID, ok := ParseTopic(s.prefix, msg.Topic())
	if !ok {
		s.logger.WithField("topic", msg.Topic()).Debug("ignoring statestream topic")
		return
	}
	s.updater.UpdateState(model.EntityState{
		EntityID:    entityID,
		State:       decodePayload(msg.Payload()),
		LastChanged: s.now(),
	})
}

// ParseTopic maps "<prefix>/<domain>/<object_id>/state" to "<domain>.<object_id>".
func ParseTopic(prefix, topic string) (string, bool) {
	prefix = strings.Trim(prefix, "/")
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != "state" || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	return parts[0] + "." + parts[1], true
}

// decodePayload unquotes JSON-encoded strings, which statestream emits when
// publish_attributes is enabled.
func decodePayload(payload []byte) string {
	text := strings.TrimSpace(string(payload))
	if len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"' {
		if unq, err := strconv.Unquote(text); err == nil {
			return unq
		}
	}
	return text
}
