package tele

import (
	"context"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/eflexcan/internal/bms"
	"github.com/temoto/eflexcan/internal/config"
	"github.com/temoto/eflexcan/log2"
)

// PahoSink publishes batch with eclipse paho client, supports QOS 2.
type PahoSink struct {
	log     *log2.Log
	m       paho.Client
	topic   string
	qos     byte
	retain  bool
	timeout time.Duration
}

// PahoOptions translates config to paho client options, shared with subscribers.
func PahoOptions(c config.Mqtt, log *log2.Log) (*paho.ClientOptions, error) {
	tlsconf, err := c.TLS()
	if err != nil {
		return nil, err
	}
	paho.ERROR = log
	paho.CRITICAL = log
	paho.WARN = log
	if c.LogDebug {
		paho.DEBUG = log
	}
	opt := paho.NewClientOptions().
		AddBroker(c.Broker).
		SetClientID(c.ClientID).
		SetUsername(c.Username).
		SetPassword(c.Password).
		SetCleanSession(true).
		SetKeepAlive(time.Duration(c.KeepaliveSec) * time.Second).
		SetPingTimeout(c.NetworkTimeout()).
		SetConnectTimeout(c.NetworkTimeout()).
		SetWriteTimeout(c.NetworkTimeout()).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Errorf("mqtt connection lost err=%v", err)
		})
	if tlsconf != nil {
		opt.SetTLSConfig(tlsconf)
	}
	return opt, nil
}

func NewPahoSink(c config.Mqtt, log *log2.Log) (*PahoSink, error) {
	opt, err := PahoOptions(c, log)
	if err != nil {
		return nil, errors.Annotate(err, "paho sink")
	}
	opt.SetOnConnectHandler(func(paho.Client) { log.Infof("mqtt connected broker=%s", c.Broker) })
	self := &PahoSink{
		log:     log,
		m:       paho.NewClient(opt),
		topic:   c.Topic,
		qos:     byte(c.QOS),
		retain:  c.Retain,
		timeout: c.NetworkTimeout(),
	}
	// broker may be unavailable at start, Publish will retry connect
	if err := self.connect(self.timeout); err != nil {
		log.Error(err)
	}
	return self, nil
}

func (self *PahoSink) connect(timeout time.Duration) error {
	token := self.m.Connect()
	if !token.WaitTimeout(timeout) {
		return errors.Timeoutf("mqtt connect")
	}
	return errors.Annotate(token.Error(), "mqtt connect")
}

func (self *PahoSink) Publish(ctx context.Context, batch []bms.Record) error {
	payload, err := Marshal(batch)
	if err != nil {
		return err
	}
	timeout := self.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !self.m.IsConnected() {
		if err = self.connect(timeout); err != nil {
			return err
		}
	}
	token := self.m.Publish(self.topic, self.qos, self.retain, payload)
	if !token.WaitTimeout(timeout) {
		return errors.Timeoutf("mqtt publish topic=%s", self.topic)
	}
	if err = token.Error(); err != nil {
		return errors.Annotatef(err, "mqtt publish topic=%s", self.topic)
	}
	self.log.Debugf("mqtt published topic=%s records=%d size=%d", self.topic, len(batch), len(payload))
	return nil
}

func (self *PahoSink) Close() error {
	self.m.Disconnect(uint(self.timeout / time.Millisecond))
	return nil
}
