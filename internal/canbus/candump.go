package canbus

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
)

// ParseCandump parses one line of `candump -L` log or bare compact frame.
//   (1715029936.123456) vcan0 101#08221100544603BB
//   101#08221100544603BB
// Returns iface="" when line has no interface field.
func ParseCandump(line string) (Frame, string, error) {
	var f Frame
	var iface string
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return f, "", errors.NotValidf("candump empty line")
	}
	if strings.HasPrefix(fields[0], "(") {
		ts := strings.Trim(fields[0], "()")
		t, err := parseCandumpTime(ts)
		if err != nil {
			return f, "", errors.Annotatef(err, "candump line=%q", line)
		}
		f.Time = t
		fields = fields[1:]
	}
	switch len(fields) {
	case 1:
	case 2:
		iface, fields = fields[0], fields[1:]
	default:
		return f, "", errors.NotValidf("candump line=%q", line)
	}

	compact := fields[0]
	sep := strings.IndexByte(compact, '#')
	if sep <= 0 {
		return f, "", errors.NotValidf("candump frame=%q", compact)
	}
	idText, dataText := compact[:sep], compact[sep+1:]
	if strings.HasPrefix(dataText, "#") {
		return f, "", errors.NotSupportedf("candump CAN FD frame=%q", compact)
	}
	id, err := strconv.ParseUint(idText, 16, 32)
	if err != nil {
		return f, "", errors.Annotatef(err, "candump id=%q", idText)
	}
	f.ID = uint32(id)
	// candump pads extended identifiers to 8 digits
	f.Extended = len(idText) > 3
	if strings.HasPrefix(dataText, "R") {
		f.RTR = true
	} else {
		data, err := hex.DecodeString(strings.ReplaceAll(dataText, ".", ""))
		if err != nil {
			return f, "", errors.Annotatef(err, "candump data=%q", dataText)
		}
		if len(data) > 8 {
			return f, "", ErrInvalidLen
		}
		f.Len = uint8(len(data))
		copy(f.Data[:], data)
	}
	return f, iface, f.Validate()
}

func parseCandumpTime(s string) (time.Time, error) {
	secText, usecText := s, "0"
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		secText, usecText = s[:dot], s[dot+1:]
	}
	sec, err := strconv.ParseInt(secText, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	// normalize fraction to microseconds
	for len(usecText) < 6 {
		usecText += "0"
	}
	usec, err := strconv.ParseInt(usecText[:6], 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, usec*int64(time.Microsecond)), nil
}

// FormatCandump is inverse of ParseCandump for lines with timestamp and iface.
func FormatCandump(f Frame, iface string) string {
	t := f.Time
	if t.IsZero() {
		t = time.Now()
	}
	return fmt.Sprintf("(%d.%06d) %s %s", t.Unix(), t.Nanosecond()/int(time.Microsecond), iface, f.String())
}

// Replays frames from candump log file.
// Receive returns io.EOF after last line.
type candumpBus struct {
	mu     sync.Mutex
	closer io.Closer
	scan   *bufio.Scanner
	lineno int
	closed bool
}

func OpenCandump(path string) (Bus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Annotatef(err, "candump open")
	}
	return NewCandumpReader(f), nil
}

func NewCandumpReader(r io.Reader) Bus {
	b := &candumpBus{scan: bufio.NewScanner(r)}
	if c, ok := r.(io.Closer); ok {
		b.closer = c
	}
	return b
}

func (b *candumpBus) Receive(ctx context.Context) (Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if b.closed {
			return Frame{}, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		if !b.scan.Scan() {
			if err := b.scan.Err(); err != nil {
				return Frame{}, errors.Annotate(err, "candump read")
			}
			return Frame{}, io.EOF
		}
		b.lineno++
		line := strings.TrimSpace(b.scan.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		f, iface, err := ParseCandump(line)
		if err != nil {
			return Frame{}, errors.Annotatef(err, "candump line=%d", b.lineno)
		}
		f.Iface = iface
		if f.Time.IsZero() {
			f.Time = time.Now()
		}
		return f, nil
	}
}

func (b *candumpBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.closer != nil {
		return b.closer.Close()
	}
	return nil
}
