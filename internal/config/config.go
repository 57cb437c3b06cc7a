package config

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"net/url"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/eflexcan/helpers"
	"github.com/temoto/eflexcan/internal/canbus"
	"github.com/temoto/eflexcan/log2"
)

const DefaultPath = "eflexcan.hcl"

const (
	SinkMqtt   = "mqtt"
	SinkStdout = "stdout"

	ClientGomqtt = "gomqtt"
	ClientPaho   = "paho"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []Source `hcl:"include"`

	Log struct {
		File  string `hcl:"file"` // empty = stderr
		Level string `hcl:"level"`
	}
	Can struct {
		Driver  string `hcl:"driver"`
		Channel string `hcl:"channel"`
		LogFile string `hcl:"log_file"` // candump format frame log, empty disables
	}
	Publish struct {
		IntervalSec int    `hcl:"interval_sec"`
		TimeoutSec  int    `hcl:"timeout_sec"`
		Sink        string `hcl:"sink"`
	}
	Mqtt    Mqtt `hcl:"mqtt"`
	Metrics struct {
		Listen string `hcl:"listen"` // empty disables
	}
	Influx Influx `hcl:"influx"`
}

type Mqtt struct {
	Client            string `hcl:"client"`
	Broker            string `hcl:"broker"`
	Topic             string `hcl:"topic"`
	ClientID          string `hcl:"client_id"`
	Username          string `hcl:"username"`
	Password          string `hcl:"password"` // secret
	KeepaliveSec      int    `hcl:"keepalive_sec"`
	QOS               int    `hcl:"qos"`
	Retain            bool   `hcl:"retain"`
	NetworkTimeoutSec int    `hcl:"network_timeout_sec"`
	ReconnectDelaySec int    `hcl:"reconnect_delay_sec"`
	TlsCaFile         string `hcl:"tls_ca_file"`
	LogDebug          bool   `hcl:"log_debug"`
}

type Influx struct {
	URL       string `hcl:"url"`
	Token     string `hcl:"token"` // secret
	Org       string `hcl:"org"`
	Bucket    string `hcl:"bucket"`
	QueuePath string `hcl:"queue_path"`
	// subscriber client id, must differ from publisher
	ClientID string `hcl:"client_id"`
}

type Source struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func (c *Config) read(log *log2.Log, files Files, from string, source Source, errs *[]error) {
	p := files.Resolve(from, source.Name)
	if _, ok := c.includeSeen[p]; ok {
		if from == "" {
			*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		} else {
			*errs = append(*errs, errors.Errorf("config include loop: from=%s include=%s", from, source.Name))
		}
		return
	}
	c.includeSeen[p] = struct{}{}
	log.Debugf("config reading source='%s' path=%s", source.Name, p)

	b, err := files.Load(p)
	switch {
	case err != nil:
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	case b == nil:
		if !source.Optional {
			*errs = append(*errs, errors.NotFoundf("config required name=%s path=%s", source.Name, p))
		}
		return
	}

	if err = hcl.Unmarshal(b, c); err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config unmarshal source=%s", source.Name))
		return
	}
	includes := c.XXX_Include
	c.XXX_Include = nil
	for _, include := range includes {
		c.read(log, files, p, include, errs)
	}
}

// Read parses sources in order, later values override earlier.
// Includes are read right after the including source.
func Read(log *log2.Log, files Files, names ...string) (*Config, error) {
	if len(names) == 0 {
		return nil, errors.NotValidf("code error config.Read() without names")
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, files, "", Source{Name: name}, &errs)
	}
	if len(errs) == 0 {
		if err := c.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return c, helpers.FoldErrors(errs)
}

func MustRead(log *log2.Log, files Files, names ...string) *Config {
	c, err := Read(log, files, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}

// Validate applies defaults to zero values and checks ranges.
func (c *Config) Validate() error {
	if _, err := log2.ParseLevel(c.Log.Level); err != nil {
		return errors.Annotate(err, "config log.level")
	}

	switch c.Can.Driver {
	case "":
		c.Can.Driver = canbus.DriverSocketCAN
	case canbus.DriverSocketCAN, canbus.DriverCandump, canbus.DriverLoopback:
	default:
		return errors.NotValidf("config can.driver=%s", c.Can.Driver)
	}
	if c.Can.Channel == "" {
		switch c.Can.Driver {
		case canbus.DriverSocketCAN:
			c.Can.Channel = "vcan0"
		case canbus.DriverCandump:
			return errors.NotValidf("config can.channel empty for driver=candump")
		}
	}

	if c.Publish.IntervalSec < 0 || c.Publish.TimeoutSec < 0 {
		return errors.NotValidf("config publish interval_sec=%d timeout_sec=%d", c.Publish.IntervalSec, c.Publish.TimeoutSec)
	}
	switch c.Publish.Sink {
	case "":
		c.Publish.Sink = SinkMqtt
	case SinkMqtt, SinkStdout:
	default:
		return errors.NotValidf("config publish.sink=%s", c.Publish.Sink)
	}

	if err := c.Mqtt.validate(); err != nil {
		return err
	}

	if c.Influx.URL == "" {
		c.Influx.URL = "http://localhost:8086"
	}
	if c.Influx.Org == "" {
		c.Influx.Org = "eflex_data"
	}
	if c.Influx.Bucket == "" {
		c.Influx.Bucket = "eflex_data"
	}
	if c.Influx.QueuePath == "" {
		c.Influx.QueuePath = "./eflexcan-influx-queue"
	}
	return nil
}

func (m *Mqtt) validate() error {
	switch m.Client {
	case "":
		m.Client = ClientGomqtt
	case ClientGomqtt, ClientPaho:
	default:
		return errors.NotValidf("config mqtt.client=%s", m.Client)
	}
	if m.Broker == "" {
		m.Broker = "tcp://localhost:1883"
	}
	if _, err := url.ParseRequestURI(m.Broker); err != nil {
		return errors.Annotatef(err, "config mqtt.broker=%s", m.Broker)
	}
	if m.Topic == "" {
		m.Topic = "eflexbatteries"
	}
	maxQOS := 2
	if m.Client == ClientGomqtt {
		maxQOS = 1
	}
	if m.QOS < 0 || m.QOS > maxQOS {
		return errors.NotValidf("config mqtt.qos=%d for client=%s max=%d", m.QOS, m.Client, maxQOS)
	}
	if m.KeepaliveSec < 0 || m.KeepaliveSec > 0xffff {
		return errors.NotValidf("config mqtt.keepalive_sec=%d", m.KeepaliveSec)
	}
	if m.KeepaliveSec == 0 {
		m.KeepaliveSec = 60
	}
	return nil
}

func (c *Config) PublishInterval() time.Duration {
	return helpers.IntSecondDefault(c.Publish.IntervalSec, 60*time.Second)
}
func (c *Config) PublishTimeout() time.Duration {
	return helpers.IntSecondDefault(c.Publish.TimeoutSec, 30*time.Second)
}
func (m *Mqtt) NetworkTimeout() time.Duration {
	return helpers.IntSecondDefault(m.NetworkTimeoutSec, 30*time.Second)
}
func (m *Mqtt) ReconnectDelay() time.Duration {
	return helpers.IntSecondDefault(m.ReconnectDelaySec, 3*time.Second)
}

// TLS returns nil when tls_ca_file is not set.
func (m *Mqtt) TLS() (*tls.Config, error) {
	if m.TlsCaFile == "" {
		return nil, nil
	}
	cabytes, err := os.ReadFile(m.TlsCaFile)
	if err != nil {
		return nil, errors.Annotatef(err, "config mqtt.tls_ca_file=%s", m.TlsCaFile)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(cabytes) {
		return nil, errors.NotValidf("config mqtt.tls_ca_file=%s no certificates", m.TlsCaFile)
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}
