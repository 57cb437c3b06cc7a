package bms

import (
	"context"
	"encoding/binary"
	"sync"
	"time"
)

// sequence splits payload into family frames with sequence index in Data[0].
// Frame i gets timestamp t0+i.
func sequence(family Family, node uint8, payload []byte, t0 float64) []Frame {
	n := family.Expect()
	if len(payload) != n*FramePayload {
		panic("code error payload length")
	}
	var base uint32
	switch family {
	case Family10:
		base = 0x100
	case Family60:
		base = 0x600
	}
	frames := make([]Frame, n)
	for i := range frames {
		frames[i].ID = base | uint32(node)
		frames[i].Data[0] = byte(i)
		copy(frames[i].Data[1:], payload[i*FramePayload:(i+1)*FramePayload])
		frames[i].Timestamp = t0 + float64(i)
	}
	return frames
}

func reversed(frames []Frame) []Frame {
	r := make([]Frame, len(frames))
	for i, f := range frames {
		r[len(frames)-1-i] = f
	}
	return r
}

// testType10 is compiled type10 payload: battery_number=node batteries_in_system=13 voltage=54.9
func testType10(node uint8) []byte {
	p := make([]byte, Family10.Expect()*FramePayload)
	be := binary.BigEndian
	p[0] = node
	p[1] = 13
	be.PutUint16(p[2:4], 549)
	be.PutUint16(p[4:6], uint16(0xfffd)) // -0.3
	p[6] = 84
	be.PutUint16(p[10:12], 548)
	be.PutUint32(p[31:35], 140067)
	be.PutUint16(p[35:37], 550)
	be.PutUint16(p[37:39], 65535)
	be.PutUint16(p[46:48], 4004)
	p[48] = 'a'
	copy(p[49:56], []byte{0x22, 0x05, 6, 0x0e, 'X', 0x00, 0x2a})
	return p
}

// testType60 has cell voltages 3300+i in wire order.
func testType60() []byte { return testType60Base(3300) }

func testType60Base(base uint16) []byte {
	p := make([]byte, Family60.Expect()*FramePayload)
	p[0] = 0x55
	for i := 0; i < CellCount; i++ {
		binary.BigEndian.PutUint16(p[1+i*2:], base+uint16(i))
	}
	return p
}

func ingestAll(s *Store, frames []Frame) {
	for _, f := range frames {
		s.Ingest(f)
	}
}

type fakeSink struct {
	sync.Mutex
	batches [][]Record
	err     error
	block   bool
	release chan struct{} // when set, Publish waits for close
	calls   chan struct{}
}

func (self *fakeSink) Publish(ctx context.Context, batch []Record) error {
	self.Lock()
	err, block, release := self.err, self.block, self.release
	self.batches = append(self.batches, batch)
	self.Unlock()
	if self.calls != nil {
		select {
		case self.calls <- struct{}{}:
		default:
		}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (self *fakeSink) setErr(err error) {
	self.Lock()
	self.err = err
	self.Unlock()
}

func (self *fakeSink) published() [][]Record {
	self.Lock()
	defer self.Unlock()
	return append([][]Record(nil), self.batches...)
}

type countObserver struct {
	NoopObserver
	sync.Mutex
	accepted, dropped, flushed, decodeFailed, published, publishFailed int
}

func (self *countObserver) FrameAccepted(Key, float64) { self.Lock(); self.accepted++; self.Unlock() }
func (self *countObserver) FrameDropped(uint32)        { self.Lock(); self.dropped++; self.Unlock() }
func (self *countObserver) Flushed(Key)                { self.Lock(); self.flushed++; self.Unlock() }
func (self *countObserver) DecodeFailed(uint8, error)  { self.Lock(); self.decodeFailed++; self.Unlock() }
func (self *countObserver) Published(n int, _ time.Duration) {
	self.Lock()
	self.published += n
	self.Unlock()
}
func (self *countObserver) PublishFailed(error, time.Duration) {
	self.Lock()
	self.publishFailed++
	self.Unlock()
}
