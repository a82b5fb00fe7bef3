package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/breeze-rmm/deskcap/internal/health"
	"github.com/breeze-rmm/deskcap/internal/logging"
)

var log = logging.L("metrics")

const defaultReadHeaderTimeout = 10 * time.Second

// Exporter serves /metrics and /healthz over HTTP.
type Exporter struct {
	addr     string
	registry *prometheus.Registry
	health   *health.Monitor

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewExporter registers cs together with the Go runtime and process
// collectors on a private registry. hm may be nil.
func NewExporter(addr string, hm *health.Monitor, cs ...prometheus.Collector) *Exporter {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(cs...)
	return &Exporter{addr: addr, registry: reg, health: hm}
}

func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves both endpoints, for embedding in another server.
func (e *Exporter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz", e.serveHealth)
	return mux
}

func (e *Exporter) serveHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if e.health == nil {
		_, _ = w.Write([]byte(`{"status":"unknown","components":{}}`))
		return
	}
	summary := e.health.Summary()
	if summary["status"] == string(health.Unhealthy) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(summary)
}

// Start listens on the configured address and serves in the background.
// It returns once the listener is bound.
func (e *Exporter) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.server != nil {
		return nil
	}

	ln, err := net.Listen("tcp", e.addr)
	if err != nil {
		return err
	}
	e.listener = ln
	e.server = &http.Server{
		Handler:           e.Handler(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}

	srv := e.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", logging.KeyError, err)
		}
	}()
	log.Info("metrics exporter listening", "addr", ln.Addr().String())
	return nil
}

// Addr is the bound address once started, else the configured one.
func (e *Exporter) Addr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener != nil {
		return e.listener.Addr().String()
	}
	return e.addr
}

func (e *Exporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.server == nil {
		return nil
	}
	err := e.server.Shutdown(ctx)
	e.server = nil
	e.listener = nil
	return err
}
