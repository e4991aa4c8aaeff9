package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leonardotrapani/micstream/internal/logging"
)

var log = logging.L("metrics")

// Drop reasons.
const (
	DropDisconnected = "disconnected"
	DropQueueFull    = "queue_full"
	DropEmpty        = "empty"
)

// Metrics contains the Prometheus metrics for the capture client.
type Metrics struct {
	Registry *prometheus.Registry

	ChunksProduced      *prometheus.CounterVec
	ChunksSent          prometheus.Counter
	ChunksDropped       *prometheus.CounterVec
	BytesSent           prometheus.Counter
	RecordingsCompleted *prometheus.CounterVec
	ReconnectAttempts   prometheus.Counter
	Connected           prometheus.Gauge
	Recording           prometheus.Gauge
	Errors              *prometheus.CounterVec
}

// New registers every metric on a fresh registry, so tests and multiple
// controllers never collide on the default one.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		ChunksProduced: f.NewCounterVec(prometheus.CounterOpts{
			Name: "micstream_chunks_produced_total",
			Help: "Encoded chunks produced by the encoder",
		}, []string{"mode"}),
		ChunksSent: f.NewCounter(prometheus.CounterOpts{
			Name: "micstream_chunks_sent_total",
			Help: "audio_data chunks accepted by the transport",
		}),
		ChunksDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "micstream_chunks_dropped_total",
			Help: "Chunks discarded before delivery",
		}, []string{"reason"}),
		BytesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "micstream_bytes_sent_total",
			Help: "Encoded bytes accepted by the transport",
		}),
		RecordingsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "micstream_recordings_completed_total",
			Help: "Recording sessions that reached a clean stop",
		}, []string{"mode"}),
		ReconnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "micstream_reconnect_attempts_total",
			Help: "Transport reconnect attempts",
		}),
		Connected: f.NewGauge(prometheus.GaugeOpts{
			Name: "micstream_transport_connected",
			Help: "1 while the transport channel is connected",
		}),
		Recording: f.NewGauge(prometheus.GaugeOpts{
			Name: "micstream_recording",
			Help: "1 while a recording session is active",
		}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "micstream_errors_total",
			Help: "Errors surfaced on the status surface, by kind",
		}, []string{"kind"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func boolGauge(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
	} else {
		g.Set(0)
	}
}

func (m *Metrics) SetConnected(v bool) { boolGauge(m.Connected, v) }
func (m *Metrics) SetRecording(v bool) { boolGauge(m.Recording, v) }

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, m *Metrics) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("Metrics: serving on http://%s/metrics", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
