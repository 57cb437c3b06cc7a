package bms

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/eflexcan/log2"
)

const (
	DefaultInterval = 60 * time.Second
	DefaultTimeout  = 30 * time.Second
)

// Sink receives non-empty batch once per cycle.
// Returned nil means batch is handed off, watermarks advance.
type Sink interface {
	Publish(ctx context.Context, batch []Record) error
}

type GateOptions struct {
	Interval time.Duration // between ticks in Run
	Timeout  time.Duration // for Sink.Publish
	Observer Observer
}

// Gate periodically publishes nodes with fresh unpublished data.
// Node is eligible when both payloads are present and its freshness timestamp
// is strictly greater than watermark, the last published timestamp.
// Watermarks advance only after successful hand-off, so failed batch
// is retried on next tick.
type Gate struct {
	opt   GateOptions
	log   *log2.Log
	sink  Sink
	store *Store
	alive *alive.Alive

	mu         sync.Mutex // serializes Tick
	watermarks map[uint8]float64
}

func NewGate(store *Store, sink Sink, log *log2.Log, opt GateOptions) *Gate {
	if opt.Interval <= 0 {
		opt.Interval = DefaultInterval
	}
	if opt.Timeout <= 0 {
		opt.Timeout = DefaultTimeout
	}
	if opt.Observer == nil {
		opt.Observer = NoopObserver{}
	}
	return &Gate{
		opt:        opt,
		log:        log,
		sink:       sink,
		store:      store,
		alive:      alive.NewAlive(),
		watermarks: make(map[uint8]float64),
	}
}

// Tick runs one publish cycle.
// Decode failures are logged per node and do not fail the cycle.
// Returns only hand-off error.
func (self *Gate) Tick(ctx context.Context) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	snap := self.store.Snapshot()
	batch := make([]Record, 0, len(snap.Type60))
	for _, node := range snap.Complete() {
		fresh := snap.Fresh[node]
		if wm, ok := self.watermarks[node]; ok && !(fresh > wm) {
			self.log.Debugf("gate node=%d fresh=%f already published", node, fresh)
			continue
		}
		r, err := Decode(snap.Type10[node], snap.Type60[node], fresh)
		if err != nil {
			err = errors.Annotatef(err, "decode node=%d", node)
			self.log.Error(err)
			self.opt.Observer.DecodeFailed(node, err)
			continue
		}
		r.Node = node
		batch = append(batch, r)
	}
	if len(batch) == 0 {
		self.log.Debugf("gate nothing to publish")
		return nil
	}

	tbegin := time.Now()
	hctx, cancel := context.WithTimeout(ctx, self.opt.Timeout)
	err := self.sink.Publish(hctx, batch)
	cancel()
	took := time.Since(tbegin)
	if err != nil {
		self.opt.Observer.PublishFailed(err, took)
		return errors.Annotatef(err, "publish records=%d", len(batch))
	}
	for _, r := range batch {
		self.watermarks[r.Node] = r.Fresh
	}
	self.opt.Observer.Published(len(batch), took)
	self.log.Debugf("gate published records=%d took=%v", len(batch), took)
	return nil
}

// Watermark returns freshness timestamp of last published record for node.
func (self *Gate) Watermark(node uint8) (float64, bool) {
	self.mu.Lock()
	defer self.mu.Unlock()
	wm, ok := self.watermarks[node]
	return wm, ok
}

// Run calls Tick every Interval until Stop.
// In-flight hand-off is not canceled by Stop.
func (self *Gate) Run(ctx context.Context) {
	if !self.alive.Add(1) {
		return
	}
	defer self.alive.Done()

	tmr := time.NewTicker(self.opt.Interval)
	defer tmr.Stop()
	stopch := self.alive.StopChan()
	for {
		select {
		case <-tmr.C:
			if err := self.Tick(ctx); err != nil {
				self.log.Error(err)
			}

		case <-ctx.Done():
			return

		case <-stopch:
			return
		}
	}
}

// Stop waits for Run to return.
func (self *Gate) Stop() {
	self.alive.Stop()
	self.alive.Wait()
}
