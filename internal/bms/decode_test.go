package bms

import (
	"encoding/json"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	r, err := Decode(testType10(3), testType60(), 1715029936.4)
	require.NoError(t, err)
	assert.Equal(t, "220560eX0042", r.BatteryID)
	assert.Equal(t, uint8(3), r.BatteryNumber)
	assert.Equal(t, uint8(13), r.BatteriesInSystem)
	assert.Equal(t, uint8(84), r.BatterySOC)
	assert.Equal(t, 54.9, r.BatteryVoltage)
	assert.Equal(t, -0.3, r.BatteryCurrent)
	assert.Equal(t, 54.8, r.SystemAverageVoltage)
	assert.Equal(t, 55.0, r.PreVolt)
	assert.Equal(t, uint16(65535), r.InsulationResistance)
	assert.Equal(t, uint16(4004), r.SoftwareVersion)
	assert.Equal(t, "a", r.HardwareVersion)
	assert.Equal(t, uint32(140067), r.LifetimeDischargeEnergy)
	assert.Equal(t, int64(1715029936), r.Time)
	assert.Equal(t, 1715029936.4, r.Fresh)

	again, err := Decode(testType10(3), testType60(), 1715029936.4)
	require.NoError(t, err)
	assert.Equal(t, r, again)
	j1, _ := json.Marshal(r)
	j2, _ := json.Marshal(again)
	assert.Equal(t, j1, j2)
}

func TestDecodeCellRotation(t *testing.T) {
	t.Parallel()

	r, err := Decode(testType10(0), testType60(), 0)
	require.NoError(t, err)
	expect := [CellCount]uint16{3315}
	for i := 1; i < CellCount; i++ {
		expect[i] = uint16(3300 + i - 1)
	}
	assert.Equal(t, expect, r.CellVoltages)
}

func TestDecodeBoundary(t *testing.T) {
	t.Parallel()

	p10, p60 := testType10(1), testType60()
	cases := []struct {
		name   string
		len10  int
		len60  int
		expect bool
	}{
		{"exact", 56, 33, true},
		{"full", len(p10), len(p60), true},
		{"short10", 55, 33, false},
		{"short60", 56, 32, false},
		{"empty", 0, 0, false},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			_, err := Decode(p10[:c.len10], p60[:c.len60], 1)
			if c.expect {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, ErrMalformedPayload, errors.Cause(err))
			}
		})
	}
}

func TestDecodeTimeRounding(t *testing.T) {
	t.Parallel()

	cases := []struct {
		fresh  float64
		expect int64
	}{
		{100.4, 100},
		{100.6, 101},
		{100.5, 100},
		{101.5, 102},
	}
	for _, c := range cases {
		r, err := Decode(testType10(1), testType60(), c.fresh)
		require.NoError(t, err)
		assert.Equal(t, c.expect, r.Time, "fresh=%v", c.fresh)
	}
}

// Hex fragments are always 2 digits.
func TestDecodeSerial(t *testing.T) {
	t.Parallel()

	cases := []struct {
		input     []byte
		expect    string
		expectErr bool
	}{
		{[]byte{0x22, 0x50, 56, 0xe9, '9', 0x00, 0x63}, "225056e990099", false},
		{[]byte{0x02, 0x05, 0, 0x0a, 'Z', 0x27, 0x0f}, "020500aZ9999", false},
		{[]byte{0x00, 0x00, 255, 0x00, 'A', 0x00, 0x00}, "000025500A0000", false},
		{[]byte{0x22, 0x50, 56, 0xe9, 0xc3, 0x00, 0x01}, "", true},
		{[]byte{0x22, 0x50, 56}, "", true},
	}
	for _, c := range cases {
		s, err := DecodeSerial(c.input)
		if c.expectErr {
			require.Error(t, err)
			assert.Equal(t, ErrMalformedPayload, errors.Cause(err))
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, c.expect, s)
	}
}

func TestDecodeHardwareNonASCII(t *testing.T) {
	t.Parallel()

	p10 := testType10(1)
	p10[48] = 0xff
	_, err := Decode(p10, testType60(), 1)
	require.Error(t, err)
	assert.Equal(t, ErrMalformedPayload, errors.Cause(err))
}

func TestRecordJSON(t *testing.T) {
	t.Parallel()

	r, err := Decode(testType10(2), testType60(), 1715029936)
	require.NoError(t, err)
	r.Node = 2
	b, err := json.Marshal([]Record{r})
	require.NoError(t, err)
	const expect = `[{"battery_id":"220560eX0042","battery_number":2,"batteries_in_system":13,"battery_soc":84,` +
		`"battery_voltage":54.9,"battery_current":-0.3,"system_average_voltage":54.8,"pre_volt":55,` +
		`"insulation_resistance":65535,"software_version":4004,"hardware_version":"a",` +
		`"lifetime_discharge_energy":140067,` +
		`"cell_voltages":[3315,3300,3301,3302,3303,3304,3305,3306,3307,3308,3309,3310,3311,3312,3313,3314],` +
		`"time":1715029936}]`
	assert.Equal(t, expect, string(b))
}
