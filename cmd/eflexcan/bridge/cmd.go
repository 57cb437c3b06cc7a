package bridge

import (
	"context"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/eflexcan/cmd/eflexcan/subcmd"
	"github.com/temoto/eflexcan/internal/config"
	"github.com/temoto/eflexcan/internal/influx"
	"github.com/temoto/eflexcan/log2"
	"github.com/temoto/spq"
)

var Mod = subcmd.Mod{
	Name:  "influx-bridge",
	Usage: "subscribe to published records, write them to InfluxDB",
	Main:  Main,
}

func Main(ctx context.Context, c *config.Config, log *log2.Log) error {
	m, stopMetrics, err := subcmd.StartMetrics(c, log)
	if err != nil {
		return err
	}
	defer stopMetrics()

	q, err := spq.Open(c.Influx.QueuePath)
	if err != nil {
		return errors.Annotatef(err, "influx queue path=%s", c.Influx.QueuePath)
	}
	w := influx.NewWriter(c.Influx)
	defer w.Close()

	b := influx.NewBridge(q, w, log, influx.BridgeOptions{
		WriteTimeout: c.Mqtt.NetworkTimeout(),
		Observer:     m,
	})
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	defer func() {
		b.Stop()
		<-done
	}()

	if err = b.Subscribe(c.Mqtt, c.Influx.ClientID); err != nil {
		return err
	}
	subcmd.SdNotify(daemon.SdNotifyReady)
	log.Infof("influx bridge running topic=%s url=%s bucket=%s", c.Mqtt.Topic, c.Influx.URL, c.Influx.Bucket)

	<-ctx.Done()
	subcmd.SdNotify(daemon.SdNotifyStopping)
	log.Infof("stopping")
	return nil
}
