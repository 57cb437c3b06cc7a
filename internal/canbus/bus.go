package canbus

import (
	"context"
	"io"

	"github.com/juju/errors"
)

// Bus is source of received frames.
// Receive blocks until frame is available, ctx is done or bus is closed.
// Implementations are safe for one reader goroutine concurrent with Close.
type Bus interface {
	Receive(ctx context.Context) (Frame, error)
	Close() error
}

const (
	DriverSocketCAN = "socketcan"
	DriverCandump   = "candump"
	DriverLoopback  = "loopback"
)

// Open creates bus by driver name.
// channel is interface name for socketcan, log file path for candump,
// ignored for loopback.
func Open(driver, channel string) (Bus, error) {
	switch driver {
	case DriverSocketCAN, "":
		return DialSocketCAN(channel)
	case DriverCandump:
		return OpenCandump(channel)
	case DriverLoopback:
		return NewLoopbackBus().Open(), nil
	}
	return nil, errors.NotSupportedf("can driver=%s", driver)
}

// IsEOF reports end of finite bus, e.g. candump replay.
func IsEOF(err error) bool {
	return errors.Cause(err) == io.EOF
}
