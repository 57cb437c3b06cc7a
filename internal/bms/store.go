package bms

import (
	"sort"
	"sync"
)

// Store reassembles frame sequences per family and node.
// Only latest compiled payload per node and family is kept.
// Safe for concurrent Ingest and Snapshot.
type Store struct {
	mu       sync.Mutex
	entries  map[Key][]Frame
	type10   map[uint8][]byte
	type60   map[uint8][]byte
	fresh    map[uint8]float64
	observer Observer
}

func NewStore(observer Observer) *Store {
	if observer == nil {
		observer = NoopObserver{}
	}
	return &Store{
		entries:  make(map[Key][]Frame),
		type10:   make(map[uint8][]byte),
		type60:   make(map[uint8][]byte),
		fresh:    make(map[uint8]float64),
		observer: observer,
	}
}

// Ingest returns false if frame family is not recognized.
func (self *Store) Ingest(f Frame) bool {
	key, ok := Classify(f)
	if !ok {
		self.observer.FrameDropped(f.ID)
		return false
	}
	self.observer.FrameAccepted(key, f.Timestamp)

	self.mu.Lock()
	entry := append(self.entries[key], f)
	flushed := len(entry) == key.Family.Expect()
	if flushed {
		self.flushLocked(key, entry)
	} else {
		self.entries[key] = entry
	}
	self.mu.Unlock()

	if flushed {
		self.observer.Flushed(key)
	}
	return true
}

func (self *Store) flushLocked(key Key, entry []Frame) {
	buf, last := compile(entry)
	switch key.Family {
	case Family10:
		self.type10[key.Node] = buf
	case Family60:
		self.type60[key.Node] = buf
		self.fresh[key.Node] = last
	}
	delete(self.entries, key)
}

// Pending returns number of buffered frames of incomplete sequence.
func (self *Store) Pending(key Key) int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return len(self.entries[key])
}

// Snapshot is consistent copy of compiled payloads.
type Snapshot struct {
	Type10 map[uint8][]byte
	Type60 map[uint8][]byte
	Fresh  map[uint8]float64
}

func (self *Store) Snapshot() Snapshot {
	self.mu.Lock()
	defer self.mu.Unlock()
	s := Snapshot{
		Type10: make(map[uint8][]byte, len(self.type10)),
		Type60: make(map[uint8][]byte, len(self.type60)),
		Fresh:  make(map[uint8]float64, len(self.fresh)),
	}
	for node, b := range self.type10 {
		s.Type10[node] = append([]byte(nil), b...)
	}
	for node, b := range self.type60 {
		s.Type60[node] = append([]byte(nil), b...)
	}
	for node, t := range self.fresh {
		s.Fresh[node] = t
	}
	return s
}

// Complete returns ascending node ids having both payloads.
func (s Snapshot) Complete() []uint8 {
	nodes := make([]uint8, 0, len(s.Type10))
	for node := range s.Type10 {
		if _, ok := s.Type60[node]; ok {
			nodes = append(nodes, node)
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	return nodes
}
