package canbus

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/juju/errors"
)

// Classical CAN 2.0A/2.0B frame. CAN FD is not supported.
type Frame struct {
	ID       uint32 // 11-bit (std) or 29-bit (ext)
	Extended bool
	RTR      bool
	Len      uint8 // 0..8
	Data     [8]byte
	Time     time.Time // capture time, zero if unknown
	Iface    string    // receiving interface, empty if unknown
}

const (
	MaxStdID = 0x7ff
	MaxExtID = 0x1fffffff

	// Linux SocketCAN struct can_frame
	WireLen = 16

	canEffFlag = 0x80000000
	canRtrFlag = 0x40000000
	canErrFlag = 0x20000000
)

var (
	ErrInvalidID  = fmt.Errorf("canbus: invalid identifier")
	ErrInvalidLen = fmt.Errorf("canbus: invalid data length")
	ErrClosed     = fmt.Errorf("canbus: closed")
)

func (f Frame) Validate() error {
	if f.Len > 8 {
		return ErrInvalidLen
	}
	if (f.Extended && f.ID > MaxExtID) || (!f.Extended && f.ID > MaxStdID) {
		return ErrInvalidID
	}
	return nil
}

// MustFrame panics on invalid input, convenient for tests.
func MustFrame(id uint32, data []byte) Frame {
	f := Frame{ID: id, Extended: id > MaxStdID, Len: uint8(len(data))}
	if len(data) > 8 {
		panic(ErrInvalidLen)
	}
	copy(f.Data[:], data)
	if err := f.Validate(); err != nil {
		panic(err)
	}
	return f
}

func (f Frame) Payload() []byte { return f.Data[:f.Len] }

// String formats frame in candump compact notation: 101#08221100544603BB
func (f Frame) String() string {
	var b strings.Builder
	if f.Extended {
		fmt.Fprintf(&b, "%08X#", f.ID)
	} else {
		fmt.Fprintf(&b, "%03X#", f.ID)
	}
	if f.RTR {
		b.WriteByte('R')
		return b.String()
	}
	fmt.Fprintf(&b, "%X", f.Payload())
	return b.String()
}

// MarshalBinary encodes SocketCAN can_frame layout, little-endian:
// 0..3 can_id with EFF/RTR flags, 4 can_dlc, 5..7 padding, 8..15 data.
func (f Frame) MarshalBinary() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	id := f.ID
	if f.Extended {
		id |= canEffFlag
	}
	if f.RTR {
		id |= canRtrFlag
	}
	buf := make([]byte, WireLen)
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = f.Len
	copy(buf[8:16], f.Data[:])
	return buf, nil
}

func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < WireLen {
		return errors.Errorf("canbus: need %d bytes, got %d", WireLen, len(data))
	}
	id := binary.LittleEndian.Uint32(data[0:4])
	if id&canErrFlag != 0 {
		return errors.Errorf("canbus: error frame id=%08x", id)
	}
	f.Extended = id&canEffFlag != 0
	f.RTR = id&canRtrFlag != 0
	if f.Extended {
		f.ID = id & MaxExtID
	} else {
		f.ID = id & MaxStdID
	}
	f.Len = data[4]
	copy(f.Data[:], data[8:16])
	return f.Validate()
}
