package canbus

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCandump(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		input       string
		expectID    uint32
		expectData  []byte
		expectIface string
		expectTime  time.Time
		expectErr   string
	}{
		{"log", "(1715029936.123456) vcan0 101#08221100544603BB", 0x101,
			[]byte{0x08, 0x22, 0x11, 0x00, 0x54, 0x46, 0x03, 0xbb}, "vcan0", time.Unix(1715029936, 123456000), ""},
		{"bare", "60d#0100", 0x60d, []byte{0x01, 0x00}, "", time.Time{}, ""},
		{"iface-only", "can0 10f#", 0x10f, []byte{}, "can0", time.Time{}, ""},
		{"short-fraction", "(12.5) can0 101#01", 0x101, []byte{0x01}, "can0", time.Unix(12, 500000000), ""},
		{"dots", "101#01.02.03", 0x101, []byte{1, 2, 3}, "", time.Time{}, ""},
		{"empty", "  ", 0, nil, "", time.Time{}, "empty line"},
		{"no-separator", "101", 0, nil, "", time.Time{}, "not valid"},
		{"fd", "101##1aa", 0, nil, "", time.Time{}, "CAN FD"},
		{"bad-hex", "101#0g", 0, nil, "", time.Time{}, "candump data"},
		{"too-long", "101#010203040506070809", 0, nil, "", time.Time{}, "invalid data length"},
		{"bad-time", "(abc) can0 101#01", 0, nil, "", time.Time{}, "candump line"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			f, iface, err := ParseCandump(c.input)
			if c.expectErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), c.expectErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expectID, f.ID)
			assert.Equal(t, c.expectData, f.Payload())
			assert.Equal(t, c.expectIface, iface)
			assert.True(t, c.expectTime.Equal(f.Time), "time expected=%v actual=%v", c.expectTime, f.Time)
		})
	}
}

func TestFormatCandump(t *testing.T) {
	t.Parallel()

	f := MustFrame(0x601, []byte{0x00, 0x0d, 0x00})
	f.Time = time.Unix(1715029936, 5000)
	line := FormatCandump(f, "vcan0")
	assert.Equal(t, "(1715029936.000005) vcan0 601#000D00", line)

	g, iface, err := ParseCandump(line)
	require.NoError(t, err)
	assert.Equal(t, "vcan0", iface)
	assert.Equal(t, f, g)
}

func TestCandumpReplay(t *testing.T) {
	t.Parallel()

	input := `
# comment
(1.000001) vcan0 101#0001
(1.000002) vcan0 garbage
(1.000003) vcan0 601#0002
`
	bus := NewCandumpReader(strings.NewReader(input))
	ctx := context.Background()

	f, err := bus.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x101), f.ID)
	assert.Equal(t, "vcan0", f.Iface)

	_, err = bus.Receive(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line=4")

	f, err = bus.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x601), f.ID)
	assert.True(t, time.Unix(1, 3000).Equal(f.Time))

	_, err = bus.Receive(ctx)
	assert.Equal(t, io.EOF, err)
	assert.True(t, IsEOF(err))

	require.NoError(t, bus.Close())
	_, err = bus.Receive(ctx)
	assert.Equal(t, ErrClosed, err)
}

func TestLoggedBus(t *testing.T) {
	t.Parallel()

	lb := NewLoopbackBus()
	tx := lb.Open()
	out := bytes.NewBuffer(nil)
	rx := NewLoggedBus(lb.Open(), out, "vcan0")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f := MustFrame(0x103, []byte{0x0a, 0x01})
	f.Time = time.Unix(100, 0)
	require.NoError(t, tx.Send(ctx, f))
	got, err := rx.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, f, got)
	assert.Equal(t, "(100.000000) vcan0 103#0A01\n", out.String())

	// interface of replayed or socketcan frame wins over default
	f.Iface = "can1"
	require.NoError(t, tx.Send(ctx, f))
	got, err = rx.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "can1", got.Iface)
	assert.Equal(t, "(100.000000) vcan0 103#0A01\n(100.000000) can1 103#0A01\n", out.String())

	require.NoError(t, rx.Close())
	require.NoError(t, lb.Close())
}
