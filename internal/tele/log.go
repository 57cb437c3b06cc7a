package tele

import (
	"context"
	"io"
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/eflexcan/internal/bms"
)

// LogSink writes every batch as one JSON line.
type LogSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewLogSink(w io.Writer) *LogSink { return &LogSink{w: w} }

func (self *LogSink) Publish(ctx context.Context, batch []bms.Record) error {
	b, err := Marshal(batch)
	if err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	_, err = self.w.Write(append(b, '\n'))
	return errors.Annotate(err, "log sink write")
}

func (self *LogSink) Close() error { return nil }
