// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	publishTimeout    = 2 * time.Second
	disconnectQuiesce = 250
)

// MQTTConfig selects the broker and topic root
type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
}

// publisher is the part of mqtt.Client the sink uses
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTSink publishes each frame under <topic>/<frame name>
type MQTTSink struct {
	client publisher
	topic  string
	qos    byte
}

// DialMQTT connects to the broker. An empty client ID gets a random one.
func DialMQTT(cfg MQTTConfig) (*MQTTSink, error) {
	id := cfg.ClientID
	if id == "" {
		id = "gyrostat-" + uuid.NewString()[:8]
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(id).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)
	client := mqtt.NewClient(opts)

	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, token.Error())
	}
	return newMQTTSink(client, cfg), nil
}

func newMQTTSink(p publisher, cfg MQTTConfig) *MQTTSink {
	topic := strings.TrimSuffix(cfg.Topic, "/")
	if topic == "" {
		topic = "gyrostat"
	}
	return &MQTTSink{client: p, topic: topic, qos: cfg.QoS}
}

// TopicFor returns the full topic a frame type is published on
func (s *MQTTSink) TopicFor(t MsgType) string {
	return s.topic + "/" + t.Name()
}

// Send publishes a frame and waits for the broker to accept it
func (s *MQTTSink) Send(f Frame) error {
	token := s.client.Publish(s.TopicFor(f.Type), s.qos, false, f.Data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish %s: timed out", s.TopicFor(f.Type))
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", s.TopicFor(f.Type), err)
	}
	return nil
}

// Close disconnects from the broker
func (s *MQTTSink) Close() error {
	s.client.Disconnect(disconnectQuiesce)
	return nil
}
