// Package influx stores published battery records in InfluxDB.
package influx

import (
	"context"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/juju/errors"
	"github.com/temoto/eflexcan/internal/bms"
	"github.com/temoto/eflexcan/internal/config"
)

const (
	MeasurementBattery = "battery_measurements"
	MeasurementCell    = "battery_cell_voltages"
)

// PointWriter is satisfied by influxdb2 api.WriteAPIBlocking.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

type Writer struct {
	w      PointWriter
	client influxdb2.Client
}

func NewWriter(c config.Influx) *Writer {
	client := influxdb2.NewClient(c.URL, c.Token)
	return &Writer{
		w:      client.WriteAPIBlocking(c.Org, c.Bucket),
		client: client,
	}
}

func NewWriterWith(w PointWriter) *Writer { return &Writer{w: w} }

// Write sends whole batch in one request.
func (self *Writer) Write(ctx context.Context, batch []bms.Record) error {
	if len(batch) == 0 {
		return nil
	}
	err := self.w.WritePoint(ctx, Points(batch)...)
	return errors.Annotatef(err, "influx write records=%d", len(batch))
}

func (self *Writer) Close() {
	if self.client != nil {
		self.client.Close()
	}
}

// Points converts each record into one battery point and cell voltage points.
func Points(batch []bms.Record) []*write.Point {
	ps := make([]*write.Point, 0, len(batch)*(1+bms.CellCount))
	for _, r := range batch {
		ts := time.Unix(r.Time, 0)
		ps = append(ps, influxdb2.NewPoint(MeasurementBattery,
			map[string]string{"battery_id": r.BatteryID},
			map[string]interface{}{
				"voltage": r.BatteryVoltage,
				"current": r.BatteryCurrent,
				"soc":     int64(r.BatterySOC),
			},
			ts))
		for i, v := range r.CellVoltages {
			ps = append(ps, influxdb2.NewPoint(MeasurementCell,
				map[string]string{
					"battery_id": r.BatteryID,
					"cell_num":   strconv.Itoa(i + 1),
				},
				map[string]interface{}{"voltage": int64(v)},
				ts))
		}
	}
	return ps
}
