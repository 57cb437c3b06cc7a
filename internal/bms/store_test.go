package bms

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/eflexcan/internal/canbus"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		id     uint32
		expect Key
		ok     bool
	}{
		{0x101, Key{Family10, 1}, true},
		{0x100, Key{Family10, 0}, true},
		{0x10f, Key{Family10, 15}, true},
		{0x60d, Key{Family60, 13}, true},
		{0x1000, Key{Family10, 0}, true},
		{0x6012, Key{Family60, 1}, true},
		{0x201, Key{}, false},
		{0x7ff, Key{}, false},
		{0x005, Key{}, false},
		{0x0, Key{}, false},
	}
	for _, c := range cases {
		c := c
		t.Run(fmt.Sprintf("%x", c.id), func(t *testing.T) {
			key, ok := Classify(Frame{ID: c.id})
			assert.Equal(t, c.ok, ok)
			assert.Equal(t, c.expect, key)
		})
	}
	assert.Equal(t, "10d", Key{Family10, 13}.String())
}

func TestCompilePermutation(t *testing.T) {
	t.Parallel()

	rnd := rand.New(rand.NewSource(1))
	for _, family := range []Family{Family10, Family60} {
		payload := make([]byte, family.Expect()*FramePayload)
		rnd.Read(payload)
		frames := sequence(family, 2, payload, 100)
		for i := 0; i < 200; i++ {
			shuffled := append([]Frame(nil), frames...)
			rnd.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
			require.Equal(t, payload, Compile(shuffled), "family=%s order=%v", family, shuffled)
		}
		assert.Equal(t, payload, Compile(reversed(frames)))
	}
}

func TestCompileAllPermutations60(t *testing.T) {
	t.Parallel()

	payload := testType60()
	frames := sequence(Family60, 0, payload, 0)
	count := 0
	permute(frames, 0, func(p []Frame) {
		count++
		if !bytes.Equal(payload, Compile(p)) {
			t.Fatalf("order=%v", p)
		}
	})
	assert.Equal(t, 5040, count)
}

func permute(a []Frame, k int, fun func([]Frame)) {
	if k == len(a) {
		fun(a)
		return
	}
	for i := k; i < len(a); i++ {
		a[k], a[i] = a[i], a[k]
		permute(a, k+1, fun)
		a[k], a[i] = a[i], a[k]
	}
}

// Sequence index is not validated: duplicate index yields
// buffer of expected length with wrong content.
func TestCompileDuplicateIndex(t *testing.T) {
	t.Parallel()

	payload := testType10(1)
	frames := sequence(Family10, 1, payload, 0)
	frames[4].Data[0] = 9 // index 9 twice, index 4 missing
	s := NewStore(nil)
	ingestAll(s, frames)
	snap := s.Snapshot()
	got := snap.Type10[1]
	require.Len(t, got, len(payload))
	assert.NotEqual(t, payload, got)
	// stable order: both index 9 frames in arrival order
	assert.Equal(t, payload[4*FramePayload:5*FramePayload], got[8*FramePayload:9*FramePayload])
	assert.Equal(t, payload[9*FramePayload:], got[9*FramePayload:])
}

func TestStorePartialInvisible(t *testing.T) {
	t.Parallel()

	obs := &countObserver{}
	s := NewStore(obs)
	frames := sequence(Family10, 5, testType10(5), 10)
	key := Key{Family10, 5}

	ingestAll(s, frames[:10])
	assert.Equal(t, 10, s.Pending(key))
	snap := s.Snapshot()
	assert.Empty(t, snap.Type10)
	assert.Empty(t, snap.Complete())

	assert.True(t, s.Ingest(frames[10]))
	assert.Equal(t, 0, s.Pending(key))
	snap = s.Snapshot()
	assert.Equal(t, testType10(5), snap.Type10[5])
	assert.Empty(t, snap.Complete(), "type60 missing")
	_, ok := snap.Fresh[5]
	assert.False(t, ok, "type10 flush must not set freshness")

	assert.False(t, s.Ingest(Frame{ID: 0x301}))
	assert.Equal(t, 11, obs.accepted)
	assert.Equal(t, 1, obs.dropped)
	assert.Equal(t, 1, obs.flushed)
}

func TestStoreFreshness(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	frames := sequence(Family60, 3, testType60(), 1000)
	// arrival order: 6,5,4,3,2,1,0 with increasing timestamps
	arrival := reversed(frames)
	for i := range arrival {
		arrival[i].Timestamp = 2000 + float64(i)
	}
	ingestAll(s, arrival)
	snap := s.Snapshot()
	// last in sorted order is index 6, which arrived first
	assert.Equal(t, float64(2000), snap.Fresh[3])
	assert.Equal(t, testType60(), snap.Type60[3])
}

func TestStoreOverwrite(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	p1 := testType10(7)
	p2 := testType10(7)
	p2[6] = 99
	ingestAll(s, sequence(Family10, 7, p1, 0))
	snap1 := s.Snapshot()
	ingestAll(s, sequence(Family10, 7, p2, 1))
	assert.Equal(t, p2, s.Snapshot().Type10[7])
	// snapshot is a copy
	assert.Equal(t, p1, snap1.Type10[7])

	// different nodes do not interfere
	ingestAll(s, sequence(Family10, 8, p1, 2))
	snap := s.Snapshot()
	assert.Len(t, snap.Type10, 2)
	assert.Equal(t, p2, snap.Type10[7])
}

func TestSnapshotComplete(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	for _, node := range []uint8{9, 2, 4} {
		ingestAll(s, sequence(Family10, node, testType10(node), 0))
	}
	for _, node := range []uint8{4, 9, 11} {
		ingestAll(s, sequence(Family60, node, testType60(), 0))
	}
	assert.Equal(t, []uint8{4, 9}, s.Snapshot().Complete())
}

func TestFromCAN(t *testing.T) {
	t.Parallel()

	full := canbus.MustFrame(0x105, []byte{0x0a, 1, 2, 3, 4, 5, 6, 7})
	full.Time = time.Unix(1715029936, 500000000)
	f, ok := FromCAN(full)
	require.True(t, ok)
	assert.Equal(t, uint32(0x105), f.ID)
	assert.Equal(t, full.Data, f.Data)
	assert.Equal(t, 1715029936.5, f.Timestamp)

	rtr := canbus.Frame{ID: 0x105, RTR: true}
	_, ok = FromCAN(rtr)
	assert.False(t, ok)
	rtr.Len = 8
	_, ok = FromCAN(rtr)
	assert.False(t, ok, "remote request with dlc=8")

	_, ok = FromCAN(canbus.MustFrame(0x105, []byte{0x0a, 1}))
	assert.False(t, ok)
	_, ok = FromCAN(canbus.MustFrame(0x105, nil))
	assert.False(t, ok)
}
