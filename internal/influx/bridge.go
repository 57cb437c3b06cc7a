package influx

import (
	"context"
	"encoding/json"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/eflexcan/helpers"
	"github.com/temoto/eflexcan/internal/bms"
	"github.com/temoto/eflexcan/internal/config"
	"github.com/temoto/eflexcan/internal/tele"
	"github.com/temoto/eflexcan/log2"
	"github.com/temoto/spq"
)

const (
	DefaultWriteTimeout = 30 * time.Second
	defaultBackoffMin   = time.Second
	defaultBackoffMax   = 5 * time.Minute
)

var ErrMalformed = errors.New("malformed batch")

type BatchWriter interface {
	Write(ctx context.Context, batch []bms.Record) error
}

type Observer interface {
	InfluxWrote(records int)
	InfluxFailed(err error)
}

type NoopObserver struct{}

func (NoopObserver) InfluxWrote(int)    {}
func (NoopObserver) InfluxFailed(error) {}

type BridgeOptions struct {
	WriteTimeout time.Duration
	BackoffMin   time.Duration
	BackoffMax   time.Duration
	Observer     Observer
}

// Bridge moves record batches from MQTT topic into InfluxDB.
// Received payload is persisted in queue before ack to broker,
// removed from queue only after successful write.
type Bridge struct {
	alive   *alive.Alive
	log     *log2.Log
	q       *spq.Queue
	w       BatchWriter
	opt     BridgeOptions
	backoff helpers.Backoff
	sub     paho.Client
}

func NewBridge(q *spq.Queue, w BatchWriter, log *log2.Log, opt BridgeOptions) *Bridge {
	if opt.WriteTimeout <= 0 {
		opt.WriteTimeout = DefaultWriteTimeout
	}
	if opt.BackoffMin <= 0 {
		opt.BackoffMin = defaultBackoffMin
	}
	if opt.BackoffMax <= 0 {
		opt.BackoffMax = defaultBackoffMax
	}
	if opt.Observer == nil {
		opt.Observer = NoopObserver{}
	}
	return &Bridge{
		alive: alive.NewAlive(),
		log:   log,
		q:     q,
		w:     w,
		opt:   opt,
		backoff: helpers.Backoff{
			Min: opt.BackoffMin,
			Max: opt.BackoffMax,
			K:   2,
			Res: 100 * time.Millisecond,
		},
	}
}

// Accept validates payload and queues it for writing.
func (self *Bridge) Accept(payload []byte) error {
	if _, err := parse(payload); err != nil {
		return err
	}
	return errors.Annotate(self.q.Push(payload), "influx queue push")
}

// Subscribe connects to broker with paho and feeds Accept from topic.
// Subscription is renewed on every reconnect.
func (self *Bridge) Subscribe(m config.Mqtt, clientID string) error {
	opt, err := tele.PahoOptions(m, self.log)
	if err != nil {
		return errors.Annotate(err, "influx bridge")
	}
	if clientID != "" {
		opt.SetClientID(clientID)
	}
	onMessage := func(_ paho.Client, msg paho.Message) {
		if err := self.Accept(msg.Payload()); err != nil {
			self.log.Errorf("influx bridge topic=%s err=%v", msg.Topic(), err)
		}
	}
	opt.SetOnConnectHandler(func(c paho.Client) {
		self.log.Infof("influx bridge connected broker=%s subscribe topic=%s", m.Broker, m.Topic)
		token := c.Subscribe(m.Topic, byte(m.QOS), onMessage)
		if !token.WaitTimeout(m.NetworkTimeout()) {
			self.log.Errorf("influx bridge subscribe topic=%s timeout", m.Topic)
		} else if err := token.Error(); err != nil {
			self.log.Errorf("influx bridge subscribe topic=%s err=%v", m.Topic, err)
		}
	})
	self.sub = paho.NewClient(opt)
	token := self.sub.Connect()
	if !token.WaitTimeout(m.NetworkTimeout()) {
		return errors.Timeoutf("influx bridge mqtt connect")
	}
	return errors.Annotate(token.Error(), "influx bridge mqtt connect")
}

// Run writes queued batches until Stop.
func (self *Bridge) Run(ctx context.Context) {
	if !self.alive.Add(1) {
		return
	}
	defer self.alive.Done()
	stopch := self.alive.StopChan()

	for {
		box, err := self.q.Peek()
		switch err {
		case nil:
			ok := self.handle(ctx, box.Bytes())
			if ok {
				err = self.q.Delete(box)
			} else {
				err = self.q.DeletePush(box)
			}
			if err != nil {
				self.log.Errorf("influx queue update err=%v", err)
			}
			if !ok {
				delay := self.backoff.Failure()
				self.log.Debugf("influx retry delay=%v", delay)
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				case <-stopch:
					return
				}
			} else {
				self.backoff.Success()
			}

		case spq.ErrClosed:
			select {
			case <-stopch:
			default:
				self.log.Errorf("CRITICAL influx queue closed unexpectedly")
			}
			return

		default:
			self.log.Errorf("CRITICAL influx queue err=%v", err)
			return
		}
	}
}

// handle returns true when item should be removed from queue.
func (self *Bridge) handle(ctx context.Context, b []byte) bool {
	batch, err := parse(b)
	if err != nil {
		self.log.Errorf("influx drop queued item err=%v", err)
		return true
	}
	wctx, cancel := context.WithTimeout(ctx, self.opt.WriteTimeout)
	err = self.w.Write(wctx, batch)
	cancel()
	if err != nil {
		self.log.Error(err)
		self.opt.Observer.InfluxFailed(err)
		return false
	}
	self.log.Debugf("influx wrote records=%d", len(batch))
	self.opt.Observer.InfluxWrote(len(batch))
	return true
}

// Stop disconnects subscriber, closes queue and waits for Run.
// Batch being written when Stop is called stays in queue.
func (self *Bridge) Stop() {
	self.alive.Stop()
	if self.sub != nil {
		self.sub.Disconnect(uint(self.opt.WriteTimeout / time.Millisecond))
	}
	if err := self.q.Close(); err != nil {
		self.log.Errorf("influx queue close err=%v", err)
	}
	self.alive.Wait()
}

func parse(b []byte) ([]bms.Record, error) {
	var batch []bms.Record
	if err := json.Unmarshal(b, &batch); err != nil {
		return nil, errors.Wrap(err, ErrMalformed)
	}
	if len(batch) == 0 {
		return nil, errors.Annotate(ErrMalformed, "empty batch")
	}
	for i, r := range batch {
		if r.BatteryID == "" {
			return nil, errors.Annotatef(ErrMalformed, "record=%d battery_id empty", i)
		}
	}
	return batch, nil
}
