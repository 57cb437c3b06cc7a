// Support sub-commands in eflexcan application.
package subcmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/temoto/eflexcan/internal/config"
	"github.com/temoto/eflexcan/internal/metrics"
	"github.com/temoto/eflexcan/log2"
)

type Mod struct {
	Name  string
	Usage string
	Main  func(context.Context, *config.Config, *log2.Log) error
}

func Parse(command string, modules []Mod) (*Mod, error) {
	if command == "" {
		return nil, fmt.Errorf("empty command")
	}

	for i := range modules {
		m := &modules[i]
		if m.Name == "" {
			panic(fmt.Sprintf("code error Name='' module=%#v", m))
		}
		if command == m.Name {
			return m, nil
		}
	}
	return nil, fmt.Errorf("unknown command='%s'", command)
}

func SdNotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}

// SetupLog applies log section of config.
// Returned logger writes to log.file when set.
func SetupLog(c *config.Config, log *log2.Log) *log2.Log {
	level, _ := log2.ParseLevel(c.Log.Level) // checked by config.Validate
	if c.Log.File != "" {
		log.Infof("log file=%s", c.Log.File)
		log = log2.NewFile(c.Log.File, level)
	}
	log.SetLevel(level)
	return log
}

// StartMetrics registers collectors and serves them on metrics.listen.
// Returned stop func is never nil.
func StartMetrics(c *config.Config, log *log2.Log) (*metrics.Metrics, func(), error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	log.SetErrorFunc(m.LogError)
	if c.Metrics.Listen == "" {
		return m, func() {}, nil
	}

	srv := metrics.NewServer(c.Metrics.Listen, m, reg, log, 3*c.PublishInterval())
	if err := srv.Start(); err != nil {
		return nil, nil, err
	}
	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Errorf("metrics shutdown err=%v", err)
		}
	}
	return m, stop, nil
}
