package run

import (
	"context"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/eflexcan/cmd/eflexcan/subcmd"
	"github.com/temoto/eflexcan/internal/bms"
	"github.com/temoto/eflexcan/internal/canbus"
	"github.com/temoto/eflexcan/internal/config"
	"github.com/temoto/eflexcan/internal/tele"
	"github.com/temoto/eflexcan/log2"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	frameLogMaxSizeMB  = 50
	frameLogMaxBackups = 10
	// for replayed lines without interface field
	frameLogIface = "can"
)

var Mod = subcmd.Mod{
	Name:  "run",
	Usage: "read CAN bus, publish battery records (default)",
	Main:  Main,
}

func Main(ctx context.Context, c *config.Config, log *log2.Log) error {
	m, stopMetrics, err := subcmd.StartMetrics(c, log)
	if err != nil {
		return err
	}
	defer stopMetrics()

	bus, err := canbus.Open(c.Can.Driver, c.Can.Channel)
	if err != nil {
		return errors.Annotatef(err, "can open driver=%s channel=%s", c.Can.Driver, c.Can.Channel)
	}
	if c.Can.LogFile != "" {
		w := &lumberjack.Logger{
			Filename:   c.Can.LogFile,
			MaxSize:    frameLogMaxSizeMB,
			MaxBackups: frameLogMaxBackups,
		}
		// closed by logged bus
		bus = canbus.NewLoggedBus(bus, w, frameLogIface)
	}
	defer bus.Close()

	sink, err := tele.NewSink(c, log, nil)
	if err != nil {
		return errors.Annotate(err, "sink")
	}
	defer sink.Close()

	store := bms.NewStore(m)
	gate := bms.NewGate(store, sink, log, bms.GateOptions{
		Interval: c.PublishInterval(),
		Timeout:  c.PublishTimeout(),
		Observer: m,
	})
	// in-flight hand-off completes after stop signal
	go gate.Run(context.Background())
	defer gate.Stop()

	subcmd.SdNotify(daemon.SdNotifyReady)
	log.Infof("running driver=%s channel=%s interval=%v sink=%s",
		c.Can.Driver, c.Can.Channel, c.PublishInterval(), c.Publish.Sink)

	err = Pump(ctx, bus, store, log)
	if canbus.IsEOF(err) {
		// finite replay, publish what is left
		log.Infof("can bus end of input")
		return gate.Tick(ctx)
	}
	if err != nil && ctx.Err() == nil {
		return err
	}
	subcmd.SdNotify(daemon.SdNotifyStopping)
	log.Infof("stopping")
	return nil
}

// Pump ingests received frames into store until ctx is done or bus fails.
// Frames of unknown families are silently dropped by store,
// remote request and short frames are dropped here.
func Pump(ctx context.Context, bus canbus.Bus, store *bms.Store, log *log2.Log) error {
	for {
		f, err := bus.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Annotate(err, "can receive")
		}
		if err = f.Validate(); err != nil {
			log.Errorf("can frame=%s err=%v", f.String(), err)
			continue
		}
		bf, ok := bms.FromCAN(f)
		if !ok {
			log.Debugf("can frame=%s skip, not full data", f.String())
			continue
		}
		store.Ingest(bf)
	}
}
