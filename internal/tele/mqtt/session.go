package mqtt

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/256dpi/gomqtt/client"
	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/atomic_clock"
	"github.com/temoto/eflexcan/log2"
)

// session is one broker connection from dial to close, never reused.
type session struct {
	c     *Client
	log   *log2.Log
	alive *alive.Alive
	ready chan struct{} // closed after accepted CONNACK
	once  sync.Once

	mu    sync.Mutex
	conn  transport.Conn
	cause error

	lastOut atomic_clock.Clock
	lastIn  atomic_clock.Clock
}

func startSession(c *Client) *session {
	s := &session{
		c:     c,
		log:   c.opt.Log,
		alive: alive.NewAlive(),
		ready: make(chan struct{}),
	}
	s.alive.Add(1)
	go s.run()
	return s
}

func (s *session) run() {
	defer s.alive.Done()

	conn, err := s.c.dialer.Dial(s.c.opt.BrokerURL)
	if err != nil {
		err = errors.Annotatef(err, "mqtt dial broker=%s", s.c.opt.BrokerURL)
		s.log.Error(err)
		_ = s.end(err)
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	if !s.alive.IsRunning() {
		// ended while dialing
		_ = conn.Close()
		return
	}

	if err = s.handshake(conn); err != nil {
		s.log.Error(err)
		_ = s.end(err)
		return
	}
	if !s.alive.Add(2) {
		return
	}
	s.lastIn.SetNow()
	close(s.ready)
	go s.keepalive()
	go s.receive()
}

func (s *session) handshake(conn transport.Conn) error {
	if err := s.write(s.c.connect); err != nil {
		return err
	}
	conn.SetReadTimeout(s.c.opt.NetworkTimeout)
	pkt, err := conn.Receive()
	if err != nil {
		return errors.Annotate(err, "mqtt expect CONNACK")
	}
	connack, ok := pkt.(*packet.Connack)
	if !ok {
		return errors.Annotatef(client.ErrClientExpectedConnack, "mqtt received=%s", PacketString(pkt))
	}
	s.log.Debugf("mqtt %s", connack.String())
	if connack.ReturnCode != packet.ConnectionAccepted {
		return errors.Annotate(client.ErrClientConnectionDenied, connack.ReturnCode.String())
	}
	conn.SetReadTimeout(0)
	return nil
}

// end closes connection once, returns err for convenience.
func (s *session) end(err error) error {
	if err == nil {
		err = ErrClientClosing
	}
	s.once.Do(func() {
		s.mu.Lock()
		s.cause = err
		conn := s.conn
		s.mu.Unlock()
		s.alive.Stop()
		if conn != nil {
			_ = conn.Close()
		}
		s.c.onSessionEnd(err)
	})
	return err
}

func (s *session) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

func (s *session) isReady() bool {
	select {
	case <-s.ready:
		return s.alive.IsRunning()
	default:
		return false
	}
}

func (s *session) awaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
	case <-s.alive.StopChan():
	case <-ctx.Done():
		return context.Canceled
	}
	if !s.isReady() {
		return defaultError(s.err(), ErrClientClosing)
	}
	return nil
}

func (s *session) write(p packet.Generic) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return client.ErrClientNotConnected
	}
	if err := conn.Send(p, false); err != nil {
		return s.end(errors.Annotatef(err, "mqtt send %s", p.Type().String()))
	}
	s.lastOut.SetNow()
	s.log.Debugf("mqtt sent %s", PacketString(p))
	return nil
}

// keepalive sends PINGREQ when nothing was sent for a while
// and ends session when broker is silent longer than 1.5 keepalive.
func (s *session) keepalive() {
	defer s.alive.Done()
	if s.c.opt.KeepaliveSec == 0 {
		return
	}
	limit := keepaliveAndHalf(s.c.opt.KeepaliveSec)
	// ping as late as possible but leave NetworkTimeout for response
	idle := limit - s.c.opt.NetworkTimeout
	if idle <= 0 {
		idle = limit / 2
	}
	stopch := s.alive.StopChan()
	for {
		if atomic_clock.Since(&s.lastIn) > limit {
			_ = s.end(client.ErrClientMissingPong)
			return
		}
		wait := idle - atomic_clock.Since(&s.lastOut)
		if wait <= 0 {
			if err := s.write(packet.NewPingreq()); err != nil {
				return
			}
			wait = idle
		}
		select {
		case <-time.After(wait):
		case <-stopch:
			return
		}
	}
}

func (s *session) receive() {
	defer s.alive.Done()
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	for {
		pkt, err := conn.Receive()
		if !s.alive.IsRunning() {
			return
		}
		if err == io.EOF {
			_ = s.end(errors.Errorf("mqtt broker closed connection"))
			return
		} else if err != nil {
			_ = s.end(errors.Annotate(err, "mqtt receive"))
			return
		}
		s.lastIn.SetNow()
		s.log.Debugf("mqtt received %s", PacketString(pkt))

		switch pkt.(type) {
		case *packet.Connack:
			_ = s.end(errors.Errorf("mqtt duplicate CONNACK"))
			return
		case *packet.Pingresp:
		default:
			s.c.onPacket(s, pkt)
		}
	}
}
