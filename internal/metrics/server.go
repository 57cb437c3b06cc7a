package metrics

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/temoto/eflexcan/log2"
)

// Server exposes GET /metrics and GET /health.
type Server struct {
	log *log2.Log
	m   *Metrics
	srv *http.Server
	// health reports stale when no frame accepted for this long
	staleAfter time.Duration
}

type Health struct {
	Status           string  `json:"status"`
	SinceFrameSec    float64 `json:"since_frame_sec,omitempty"`
	SincePublishSec  float64 `json:"since_publish_sec,omitempty"`
	FrameSeen        bool    `json:"frame_seen"`
	PublishSucceeded bool    `json:"publish_succeeded"`
}

func NewServer(addr string, m *Metrics, g prometheus.Gatherer, log *log2.Log, staleAfter time.Duration) *Server {
	router := mux.NewRouter()
	s := &Server{
		log:        log,
		m:          m,
		staleAfter: staleAfter,
		srv: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	router.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{})).Methods("GET")
	router.HandleFunc("/health", s.health).Methods("GET")
	return s
}

func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start listens synchronously, serves in background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return errors.Annotatef(err, "metrics listen=%s", s.srv.Addr)
	}
	s.log.Infof("metrics listen=%s", ln.Addr().String())
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("metrics serve err=%v", err)
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	h := Health{Status: "ok"}
	code := http.StatusOK
	if d, ok := s.m.SinceFrame(); ok {
		h.FrameSeen = true
		h.SinceFrameSec = d.Seconds()
		if s.staleAfter > 0 && d > s.staleAfter {
			h.Status = "stale"
			code = http.StatusServiceUnavailable
		}
	} else {
		h.Status = "waiting"
	}
	if d, ok := s.m.SincePublish(); ok {
		h.PublishSucceeded = true
		h.SincePublishSec = d.Seconds()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(h); err != nil {
		s.log.Debugf("metrics health write err=%v", err)
	}
}
