package canbus

import (
	"context"
	"sync"
	"time"
)

const loopbackBuffer = 64

// LoopbackBus is in-memory bus for tests and simulations.
// Frame sent by one endpoint is delivered to every other endpoint.
type LoopbackBus struct {
	mu        sync.RWMutex
	closed    bool
	endpoints map[*Endpoint]struct{}
}

func NewLoopbackBus() *LoopbackBus {
	return &LoopbackBus{endpoints: make(map[*Endpoint]struct{})}
}

func (b *LoopbackBus) Open() *Endpoint {
	ep := &Endpoint{
		bus:    b,
		ch:     make(chan Frame, loopbackBuffer),
		closed: make(chan struct{}),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ep.closed)
		return ep
	}
	b.endpoints[ep] = struct{}{}
	return ep
}

func (b *LoopbackBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for ep := range b.endpoints {
		ep.closeLocked()
	}
	b.endpoints = nil
	return nil
}

type Endpoint struct {
	bus    *LoopbackBus
	ch     chan Frame
	once   sync.Once
	closed chan struct{}
}

var _ Bus = &Endpoint{} // compile-time interface test

// Send broadcasts frame to all other endpoints.
// Frame without capture time is stamped with time.Now().
func (e *Endpoint) Send(ctx context.Context, f Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if f.Time.IsZero() {
		f.Time = time.Now()
	}
	select {
	case <-e.closed:
		return ErrClosed
	default:
	}

	e.bus.mu.RLock()
	if e.bus.closed {
		e.bus.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]*Endpoint, 0, len(e.bus.endpoints))
	for ep := range e.bus.endpoints {
		if ep != e {
			targets = append(targets, ep)
		}
	}
	e.bus.mu.RUnlock()

	for _, t := range targets {
		select {
		case t.ch <- f:
		case <-t.closed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (e *Endpoint) Receive(ctx context.Context) (Frame, error) {
	select {
	case f := <-e.ch:
		return f, nil
	case <-e.closed:
		// drain what was delivered before close
		select {
		case f := <-e.ch:
			return f, nil
		default:
		}
		return Frame{}, ErrClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (e *Endpoint) Close() error {
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	e.closeLocked()
	return nil
}

func (e *Endpoint) closeLocked() {
	e.once.Do(func() { close(e.closed) })
	if e.bus.endpoints != nil {
		delete(e.bus.endpoints, e)
	}
}
