package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/256dpi/gomqtt/client/future"
	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/eflexcan/log2"
)

const (
	DefaultNetworkTimeout = 30 * time.Second
	DefaultReconnectDelay = 3 * time.Second

	readyPollInterval = 100 * time.Millisecond
)

var ErrClientClosing = fmt.Errorf("MQTT client is closing")

type ClientOptions struct {
	BrokerURL      string
	TLS            *tls.Config
	ReconnectDelay time.Duration
	NetworkTimeout time.Duration
	KeepaliveSec   uint16
	ClientID       string // default is Username
	Username       string
	Password       string
	Log            *log2.Log
}

// Client publishes messages to one broker.
// Connection is made in background with clean session and restored
// after ReconnectDelay until Close. Publish calls are serialized,
// at most one QOS 1 message awaits PUBACK. Incoming PUBLISH is ignored.
type Client struct {
	opt     ClientOptions
	connect *packet.Connect
	dialer  *transport.Dialer
	alive   *alive.Alive
	lastID  uint32

	mu   sync.Mutex
	sess *session

	publishMu sync.Mutex
	inflight  struct {
		sync.Mutex
		id  packet.ID
		ack *future.Future
	}
}

func NewClient(opt ClientOptions) (*Client, error) {
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	if opt.ReconnectDelay == 0 {
		opt.ReconnectDelay = DefaultReconnectDelay
	}
	u, err := url.ParseRequestURI(opt.BrokerURL)
	if err != nil {
		return nil, errors.Annotatef(err, "mqtt broker=%s", opt.BrokerURL)
	}
	if u.User != nil && opt.Username == "" && opt.Password == "" {
		opt.Username = u.User.Username()
		opt.Password, _ = u.User.Password()
	}

	c := &Client{
		opt:     opt,
		connect: packet.NewConnect(),
		dialer: transport.NewDialer(transport.DialConfig{
			TLSConfig: opt.TLS,
			Timeout:   opt.NetworkTimeout,
		}),
		alive:  alive.NewAlive(),
		lastID: uint32(time.Now().UnixNano()),
	}
	c.connect.ClientID = defaultString(opt.ClientID, opt.Username)
	c.connect.KeepAlive = opt.KeepaliveSec
	c.connect.CleanSession = true
	c.connect.Username = opt.Username
	c.connect.Password = opt.Password

	c.alive.Add(1)
	go c.supervise()
	return c, nil
}

// Close sends DISCONNECT if connected and stops reconnecting.
func (c *Client) Close() error {
	err := c.Disconnect()
	c.alive.Stop()
	c.alive.Wait()
	return err
}

// Disconnect ends current connection, next one is made after ReconnectDelay.
func (c *Client) Disconnect() error {
	s := c.session(false)
	if s == nil {
		return nil
	}
	var err error
	if s.isReady() {
		err = s.write(packet.NewDisconnect())
	}
	_ = s.end(ErrClientClosing)
	return err
}

// Publish returns after send (QOS 0) or PUBACK (QOS 1).
// Waiting is bounded by ctx and NetworkTimeout.
// PUBACK timeout drops connection.
func (c *Client) Publish(ctx context.Context, msg *packet.Message) error {
	if msg.QOS > packet.QOSAtLeastOnce {
		return errors.NotSupportedf("mqtt QOS=%d", msg.QOS)
	}
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	s, err := c.readySession(ctx)
	if err != nil {
		return err
	}
	pub := packet.NewPublish()
	pub.Message = *msg
	if msg.QOS == packet.QOSAtMostOnce {
		return errors.Annotate(s.write(pub), "send PUBLISH")
	}

	pub.ID = c.nextID()
	ack := future.New()
	c.expect(pub.ID, ack)
	defer c.expect(0, nil)
	if err = s.write(pub); err != nil {
		return errors.Annotate(err, "send PUBLISH")
	}

	switch err = ack.Wait(c.ackTimeout(ctx)); err {
	case nil:
		return nil

	case future.ErrCanceled:
		if e, ok := ack.Result().(error); ok {
			return e
		}
		return ErrClientClosing

	case future.ErrTimeout:
		err = errors.Timeoutf("PUBACK id=%d", pub.ID)
		return s.end(err)
	}
	return errors.Errorf("code error future.Wait()=%v", err)
}

// WaitReady returns nil when connection is established,
// context.Canceled if ctx is done first, ErrClientClosing after Close.
func (c *Client) WaitReady(ctx context.Context) error {
	_, err := c.readySession(ctx)
	return err
}

func (c *Client) readySession(ctx context.Context) (*session, error) {
	stopch := c.alive.StopChan()
	for {
		if s := c.session(false); s != nil {
			switch err := s.awaitReady(ctx); err {
			case nil:
				return s, nil
			case context.Canceled:
				return nil, err
			}
			// session ended, supervisor will start next one
		}
		select {
		case <-time.After(readyPollInterval):
		case <-ctx.Done():
			return nil, context.Canceled
		case <-stopch:
			return nil, ErrClientClosing
		}
	}
}

func (c *Client) ackTimeout(ctx context.Context) time.Duration {
	timeout := c.opt.NetworkTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		timeout = 1
	}
	return timeout
}

// session returns live session, nil after Close.
func (c *Client) session(create bool) *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alive.IsRunning() {
		return nil
	}
	if c.sess != nil && !c.sess.alive.IsRunning() {
		c.sess = nil
	}
	if c.sess == nil && create {
		c.sess = startSession(c)
	}
	return c.sess
}

func (c *Client) supervise() {
	defer c.alive.Done()
	stopch := c.alive.StopChan()
	for {
		s := c.session(true)
		if s == nil {
			return
		}
		select {
		case <-s.alive.WaitChan():
		case <-stopch:
			_ = s.end(ErrClientClosing)
			return
		}

		c.opt.Log.Debugf("mqtt session ended err=%v reconnect after=%v", s.err(), c.opt.ReconnectDelay)
		select {
		case <-time.After(c.opt.ReconnectDelay):
		case <-stopch:
			return
		}
	}
}

func (c *Client) nextID() packet.ID {
	id := packet.ID(atomic.AddUint32(&c.lastID, 1) % (1 << 16))
	if id == 0 {
		id = 1
	}
	return id
}

func (c *Client) expect(id packet.ID, ack *future.Future) {
	c.inflight.Lock()
	c.inflight.id = id
	c.inflight.ack = ack
	c.inflight.Unlock()
}

// onPacket is called by session reader for packets other than keepalive.
func (c *Client) onPacket(s *session, p packet.Generic) {
	puback, ok := p.(*packet.Puback)
	if !ok {
		c.opt.Log.Debugf("mqtt unexpected packet %s", PacketString(p))
		return
	}
	c.inflight.Lock()
	id, ack := c.inflight.id, c.inflight.ack
	c.inflight.Unlock()
	switch {
	case ack == nil:
		c.opt.Log.Errorf("mqtt unexpected PUBACK id=%d", puback.ID)
	case id != puback.ID:
		// only one publish is in flight, broker state is out of sync
		_ = s.end(errors.Errorf("PUBACK id=%d expected=%d", puback.ID, id))
	default:
		ack.Complete(puback.ID)
	}
}

// onSessionEnd fails publish waiting for PUBACK.
func (c *Client) onSessionEnd(err error) {
	c.inflight.Lock()
	if c.inflight.ack != nil {
		c.inflight.ack.Cancel(err)
	}
	c.inflight.Unlock()
}
