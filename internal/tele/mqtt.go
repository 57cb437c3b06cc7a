package tele

import (
	"context"

	"github.com/256dpi/gomqtt/packet"
	"github.com/juju/errors"
	"github.com/temoto/eflexcan/internal/bms"
	"github.com/temoto/eflexcan/internal/config"
	"github.com/temoto/eflexcan/internal/tele/mqtt"
	"github.com/temoto/eflexcan/log2"
)

// MqttSink publishes batch to single topic with gomqtt based client.
type MqttSink struct {
	client *mqtt.Client
	log    *log2.Log
	topic  string
	qos    packet.QOS
	retain bool
}

func NewMqttSink(c config.Mqtt, log *log2.Log) (*MqttSink, error) {
	tlsconf, err := c.TLS()
	if err != nil {
		return nil, err
	}
	mlog := log.Clone(log2.LInfo)
	if c.LogDebug {
		mlog.SetLevel(log2.LDebug)
	}
	client, err := mqtt.NewClient(mqtt.ClientOptions{
		BrokerURL:      c.Broker,
		TLS:            tlsconf,
		ReconnectDelay: c.ReconnectDelay(),
		NetworkTimeout: c.NetworkTimeout(),
		KeepaliveSec:   uint16(c.KeepaliveSec),
		ClientID:       c.ClientID,
		Username:       c.Username,
		Password:       c.Password,
		Log:            mlog,
	})
	if err != nil {
		return nil, errors.Annotate(err, "mqtt sink")
	}
	return &MqttSink{
		client: client,
		log:    log,
		topic:  c.Topic,
		qos:    packet.QOS(c.QOS),
		retain: c.Retain,
	}, nil
}

func (self *MqttSink) Publish(ctx context.Context, batch []bms.Record) error {
	payload, err := Marshal(batch)
	if err != nil {
		return err
	}
	msg := &packet.Message{
		Topic:   self.topic,
		Payload: payload,
		QOS:     self.qos,
		Retain:  self.retain,
	}
	if err = self.client.Publish(ctx, msg); err != nil {
		return errors.Annotatef(err, "mqtt publish topic=%s", self.topic)
	}
	self.log.Debugf("mqtt published topic=%s records=%d size=%d", self.topic, len(batch), len(payload))
	return nil
}

func (self *MqttSink) Close() error { return self.client.Close() }
