package bms

import (
	"fmt"
	"strconv"

	"github.com/temoto/eflexcan/helpers"
	"github.com/temoto/eflexcan/internal/canbus"
)

// Frame is one bus message as seen by aggregation.
type Frame struct {
	ID        uint32
	Data      [8]byte
	Timestamp float64 // seconds, strictly increasing per node
}

// FromCAN returns false for remote request and short frames,
// every sequence frame carries full 8 bytes.
func FromCAN(f canbus.Frame) (Frame, bool) {
	if f.RTR || f.Len != 8 {
		return Frame{}, false
	}
	return Frame{
		ID:        f.ID,
		Data:      f.Data,
		Timestamp: helpers.UnixFloat(f.Time),
	}, true
}

func (f Frame) String() string {
	return fmt.Sprintf("%03x#%x@%.6f", f.ID, f.Data, f.Timestamp)
}

type Family string

const (
	Family10 Family = "10"
	Family60 Family = "60"
)

// Expect returns number of frames in complete sequence, 0 for unknown family.
func (f Family) Expect() int {
	switch f {
	case Family10:
		return 11
	case Family60:
		return 7
	}
	return 0
}

type Key struct {
	Family Family
	Node   uint8 // 0..15
}

func (k Key) String() string { return string(k.Family) + strconv.FormatUint(uint64(k.Node), 16) }

// Classify takes most significant 3 hex digits of identifier:
// first two are family, last one is node id.
// Returns false for families other than "10" and "60".
func Classify(f Frame) (Key, bool) {
	s := strconv.FormatUint(uint64(f.ID), 16)
	for len(s) < 3 {
		s = "0" + s
	}
	family := Family(s[:2])
	if family.Expect() == 0 {
		return Key{}, false
	}
	node, err := strconv.ParseUint(s[2:3], 16, 8)
	if err != nil {
		// FormatUint output is always valid hex
		panic(fmt.Sprintf("code error classify id=%x err=%v", f.ID, err))
	}
	return Key{Family: family, Node: uint8(node)}, true
}
