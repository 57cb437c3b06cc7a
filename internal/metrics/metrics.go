package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/temoto/atomic_clock"
	"github.com/temoto/eflexcan/internal/bms"
)

const namespace = "eflexcan"

// Metrics implements bms.Observer with prometheus collectors.
type Metrics struct {
	FramesReceived   *prometheus.CounterVec
	FramesDropped    prometheus.Counter
	Flushes          *prometheus.CounterVec
	RecordsPublished prometheus.Counter
	DecodeFailures   *prometheus.CounterVec
	PublishFailures  prometheus.Counter
	PublishDuration  prometheus.Histogram
	LastPublish      prometheus.Gauge
	LastFrame        prometheus.Gauge
	LogErrors        prometheus.Counter
	InfluxWritten    prometheus.Counter
	InfluxFailures   prometheus.Counter

	lastFrame   atomic_clock.Clock
	lastPublish atomic_clock.Clock
}

var _ bms.Observer = &Metrics{}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Bus frames of known families.",
		}, []string{"family"}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Bus frames of unknown families.",
		}),
		Flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequences_compiled_total",
			Help:      "Complete frame sequences compiled into payload.",
		}, []string{"family"}),
		RecordsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_published_total",
			Help:      "Battery records handed off to sink.",
		}),
		DecodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Malformed compiled payloads.",
		}, []string{"node"}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Failed batch hand-offs.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Batch hand-off latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
		LastPublish: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_publish_timestamp_seconds",
			Help:      "Unix time of last successful hand-off.",
		}),
		LastFrame: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_frame_timestamp_seconds",
			Help:      "Capture time of last accepted frame.",
		}),
		LogErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_errors_total",
			Help:      "Logged errors.",
		}),
		InfluxWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "influx_records_written_total",
			Help:      "Records written to InfluxDB by bridge.",
		}),
		InfluxFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "influx_write_failures_total",
			Help:      "Failed InfluxDB batch writes.",
		}),
	}
	reg.MustRegister(
		m.FramesReceived, m.FramesDropped, m.Flushes,
		m.RecordsPublished, m.DecodeFailures, m.PublishFailures,
		m.PublishDuration, m.LastPublish, m.LastFrame,
		m.LogErrors, m.InfluxWritten, m.InfluxFailures,
	)
	return m
}

func (m *Metrics) FrameAccepted(key bms.Key, ts float64) {
	m.FramesReceived.WithLabelValues(string(key.Family)).Inc()
	m.LastFrame.Set(ts)
	m.lastFrame.SetNow()
}

func (m *Metrics) FrameDropped(uint32) { m.FramesDropped.Inc() }

func (m *Metrics) Flushed(key bms.Key) { m.Flushes.WithLabelValues(string(key.Family)).Inc() }

func (m *Metrics) DecodeFailed(node uint8, _ error) {
	m.DecodeFailures.WithLabelValues(strconv.Itoa(int(node))).Inc()
}

func (m *Metrics) Published(records int, took time.Duration) {
	m.RecordsPublished.Add(float64(records))
	m.PublishDuration.Observe(took.Seconds())
	m.LastPublish.SetToCurrentTime()
	m.lastPublish.SetNow()
}

func (m *Metrics) PublishFailed(_ error, took time.Duration) {
	m.PublishFailures.Inc()
	m.PublishDuration.Observe(took.Seconds())
}

// LogError is log2.ErrorFunc.
func (m *Metrics) LogError(error) { m.LogErrors.Inc() }

// SinceFrame returns false until first accepted frame.
func (m *Metrics) SinceFrame() (time.Duration, bool) { return since(&m.lastFrame) }

// SincePublish returns false until first successful hand-off.
func (m *Metrics) SincePublish() (time.Duration, bool) { return since(&m.lastPublish) }

func since(c *atomic_clock.Clock) (time.Duration, bool) {
	if c.IsZero() {
		return 0, false
	}
	return atomic_clock.Since(c), true
}

// InfluxWrote and InfluxFailed implement influx.Observer.
func (m *Metrics) InfluxWrote(records int) { m.InfluxWritten.Add(float64(records)) }

func (m *Metrics) InfluxFailed(error) { m.InfluxFailures.Inc() }
