//go:build linux

package canbus

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"
)

// Poll interval bounds Receive reaction time to ctx cancel and Close.
const socketcanPollInterval = 100 * time.Millisecond

type socketCAN struct {
	fd     int
	iface  string
	closed uint32
}

// DialSocketCAN opens raw CAN socket bound to interface, e.g. "can0", "vcan0".
func DialSocketCAN(iface string) (Bus, error) {
	netIf, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, errors.Annotatef(err, "socketcan iface=%s", iface)
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.CAN_RAW)
	if err != nil {
		return nil, errors.Annotate(err, "socketcan socket")
	}
	if err = unix.Bind(fd, &unix.SockaddrCAN{Ifindex: netIf.Index}); err != nil {
		_ = unix.Close(fd)
		return nil, errors.Annotatef(err, "socketcan bind iface=%s", iface)
	}
	return &socketCAN{fd: fd, iface: iface}, nil
}

func (s *socketCAN) Receive(ctx context.Context) (Frame, error) {
	buf := make([]byte, WireLen)
	pfd := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
	for {
		if atomic.LoadUint32(&s.closed) != 0 {
			return Frame{}, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		n, err := unix.Poll(pfd, int(socketcanPollInterval/time.Millisecond))
		switch {
		case err == unix.EINTR:
			continue
		case err != nil:
			return Frame{}, errors.Annotate(err, "socketcan poll")
		case n == 0:
			continue
		}

		n, err = unix.Read(s.fd, buf)
		if err == unix.EAGAIN || err == unix.EINTR {
			continue
		}
		if err != nil {
			if atomic.LoadUint32(&s.closed) != 0 {
				return Frame{}, ErrClosed
			}
			return Frame{}, errors.Annotate(err, "socketcan read")
		}
		if n != WireLen {
			return Frame{}, errors.Errorf("socketcan short read n=%d", n)
		}
		var f Frame
		if err = f.UnmarshalBinary(buf); err != nil {
			return Frame{}, err
		}
		f.Time = time.Now()
		f.Iface = s.iface
		return f, nil
	}
}

func (s *socketCAN) Close() error {
	if !atomic.CompareAndSwapUint32(&s.closed, 0, 1) {
		return nil
	}
	return unix.Close(s.fd)
}
