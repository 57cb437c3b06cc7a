package metrics

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/eflexcan/internal/bms"
	"github.com/temoto/eflexcan/log2"
)

func TestObserver(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)
	store := bms.NewStore(m)

	store.Ingest(bms.Frame{ID: 0x101, Timestamp: 1715029936.5})
	store.Ingest(bms.Frame{ID: 0x601, Timestamp: 1715029937})
	store.Ingest(bms.Frame{ID: 0x301})
	for i := 1; i < 7; i++ {
		f := bms.Frame{ID: 0x601, Timestamp: 1715029937}
		f.Data[0] = byte(i)
		store.Ingest(f)
	}

	assert.Equal(t, float64(1), testutil.ToFloat64(m.FramesReceived.WithLabelValues("10")))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.FramesReceived.WithLabelValues("60")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FramesDropped))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Flushes.WithLabelValues("60")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.Flushes.WithLabelValues("10")))
	assert.Equal(t, float64(1715029937), testutil.ToFloat64(m.LastFrame))

	m.DecodeFailed(3, fmt.Errorf("bad"))
	m.Published(4, 10*time.Millisecond)
	m.PublishFailed(fmt.Errorf("offline"), time.Second)
	m.LogError(fmt.Errorf("logged"))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DecodeFailures.WithLabelValues("3")))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.RecordsPublished))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PublishFailures))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LogErrors))
	assert.Equal(t, 1, testutil.CollectAndCount(m.PublishDuration))
	assert.InDelta(t, float64(time.Now().Unix()), testutil.ToFloat64(m.LastPublish), 5)

	expected := `
# HELP eflexcan_frames_dropped_total Bus frames of unknown families.
# TYPE eflexcan_frames_dropped_total counter
eflexcan_frames_dropped_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "eflexcan_frames_dropped_total"))
}

func TestLogErrorFunc(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())
	log := log2.NewTest(t, log2.LDebug)
	log.SetErrorFunc(m.LogError)
	log.Errorf("one")
	log.Error(fmt.Errorf("two"))
	log.Warningf("not counted")
	assert.Equal(t, float64(2), testutil.ToFloat64(m.LogErrors))
}

func TestServer(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)
	log := log2.NewTest(t, log2.LDebug)
	s := NewServer("127.0.0.1:0", m, reg, log, time.Hour)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	getHealth := func() (int, Health) {
		resp, err := http.Get(ts.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		var h Health
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
		return resp.StatusCode, h
	}

	code, h := getHealth()
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "waiting", h.Status)
	assert.False(t, h.FrameSeen)

	m.FrameAccepted(bms.Key{Family: bms.Family10, Node: 1}, 1)
	m.Published(1, time.Millisecond)
	code, h = getHealth()
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", h.Status)
	assert.True(t, h.FrameSeen)
	assert.True(t, h.PublishSucceeded)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "eflexcan_records_published_total 1")

	resp2, err := http.Post(ts.URL+"/health", "text/plain", nil)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}

func TestServerStale(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)
	s := NewServer("", m, reg, nil, time.Nanosecond)
	m.FrameAccepted(bms.Key{Family: bms.Family60, Node: 2}, 1)
	time.Sleep(time.Millisecond)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"stale"`)
}
