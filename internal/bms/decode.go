package bms

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/juju/errors"
)

// Minimal compiled payload lengths accepted by Decode.
const (
	Type10MinLen = 56
	Type60MinLen = 33
)

var ErrMalformedPayload = errors.New("malformed payload")

// Decode is pure function of compiled type10, type60 payloads and freshness timestamp.
// Returned error Cause is ErrMalformedPayload.
func Decode(p10, p60 []byte, fresh float64) (Record, error) {
	var r Record
	if len(p10) < Type10MinLen {
		return r, errors.Annotatef(ErrMalformedPayload, "type10 length=%d min=%d", len(p10), Type10MinLen)
	}
	if len(p60) < Type60MinLen {
		return r, errors.Annotatef(ErrMalformedPayload, "type60 length=%d min=%d", len(p60), Type60MinLen)
	}
	be := binary.BigEndian

	serial, err := DecodeSerial(p10[49:56])
	if err != nil {
		return r, err
	}
	hw, err := asciiChar(p10[48])
	if err != nil {
		return r, errors.Annotate(err, "hardware_version")
	}

	r.BatteryID = serial
	r.BatteryNumber = p10[0]
	r.BatteriesInSystem = p10[1]
	r.BatteryVoltage = tenths(int64(be.Uint16(p10[2:4])))
	r.BatteryCurrent = tenths(int64(int16(be.Uint16(p10[4:6]))))
	r.BatterySOC = p10[6]
	r.SystemAverageVoltage = tenths(int64(be.Uint16(p10[10:12])))
	r.LifetimeDischargeEnergy = be.Uint32(p10[31:35])
	r.PreVolt = tenths(int64(be.Uint16(p10[35:37])))
	r.InsulationResistance = be.Uint16(p10[37:39])
	r.SoftwareVersion = be.Uint16(p10[46:48])
	r.HardwareVersion = hw

	// device sends first cell last
	var wire [CellCount]uint16
	for i := range wire {
		wire[i] = be.Uint16(p60[1+i*2 : 3+i*2])
	}
	r.CellVoltages[0] = wire[CellCount-1]
	copy(r.CellVoltages[1:], wire[:CellCount-1])

	r.Fresh = fresh
	r.Time = int64(math.RoundToEven(fresh))
	return r, nil
}

// DecodeSerial renders 7 byte serial fragment as battery id:
// hex2(s0) hex2(s1) dec(s2) hex2(s3) char(s4) dec4(u16be(s5,s6))
func DecodeSerial(s []byte) (string, error) {
	if len(s) < 7 {
		return "", errors.Annotatef(ErrMalformedPayload, "serial length=%d", len(s))
	}
	c, err := asciiChar(s[4])
	if err != nil {
		return "", errors.Annotate(err, "serial")
	}
	return fmt.Sprintf("%02x%02x%d%02x%s%04d", s[0], s[1], s[2], s[3], c, binary.BigEndian.Uint16(s[5:7])), nil
}

func asciiChar(b byte) (string, error) {
	if b > math.MaxInt8 {
		return "", errors.Annotatef(ErrMalformedPayload, "non-ASCII char=%#02x", b)
	}
	return string(rune(b)), nil
}

func tenths(x int64) float64 { return float64(x) / 10 }
