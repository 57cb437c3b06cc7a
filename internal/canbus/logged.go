package canbus

import (
	"bufio"
	"context"
	"io"
	"sync"
)

// Bus decorator writing every received frame to w in candump log format,
// readable back with OpenCandump. Frame.Iface is logged as is,
// iface is used for frames that do not carry one.
type loggedBus struct {
	inner Bus
	iface string
	mu    sync.Mutex
	w     *bufio.Writer
	c     io.Closer
}

func NewLoggedBus(inner Bus, w io.Writer, iface string) Bus {
	lb := &loggedBus{inner: inner, iface: iface, w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		lb.c = c
	}
	return lb
}

func (lb *loggedBus) Receive(ctx context.Context) (Frame, error) {
	f, err := lb.inner.Receive(ctx)
	if err != nil {
		return f, err
	}
	// frame log is best effort, write errors never drop the frame
	iface := f.Iface
	if iface == "" {
		iface = lb.iface
	}
	lb.mu.Lock()
	_, _ = lb.w.WriteString(FormatCandump(f, iface))
	_ = lb.w.WriteByte('\n')
	_ = lb.w.Flush()
	lb.mu.Unlock()
	return f, nil
}

func (lb *loggedBus) Close() error {
	err := lb.inner.Close()
	lb.mu.Lock()
	defer lb.mu.Unlock()
	_ = lb.w.Flush()
	if lb.c != nil {
		if cerr := lb.c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
