package tele

import (
	"encoding/json"
	"io"
	"os"

	"github.com/juju/errors"
	"github.com/temoto/eflexcan/internal/bms"
	"github.com/temoto/eflexcan/internal/config"
	"github.com/temoto/eflexcan/log2"
)

// Sink delivers record batches to telemetry consumers.
type Sink interface {
	bms.Sink
	io.Closer
}

// NewSink chooses sink by publish.sink and mqtt.client config.
// stdout is used by "stdout" sink, nil means os.Stdout.
func NewSink(c *config.Config, log *log2.Log, stdout io.Writer) (Sink, error) {
	switch c.Publish.Sink {
	case config.SinkStdout:
		if stdout == nil {
			stdout = os.Stdout
		}
		return NewLogSink(stdout), nil

	case config.SinkMqtt, "":
		switch c.Mqtt.Client {
		case config.ClientGomqtt, "":
			return NewMqttSink(c.Mqtt, log)
		case config.ClientPaho:
			return NewPahoSink(c.Mqtt, log)
		}
		return nil, errors.NotSupportedf("mqtt client=%s", c.Mqtt.Client)
	}
	return nil, errors.NotSupportedf("publish sink=%s", c.Publish.Sink)
}

// Outbound document is JSON array of records.
func Marshal(batch []bms.Record) ([]byte, error) {
	b, err := json.Marshal(batch)
	return b, errors.Annotate(err, "json marshal batch")
}
