package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/VanDung-dev/tenet-mesh/network"
	"github.com/VanDung-dev/tenet-mesh/tumbler"
)

// ArrowContentType is the media type of the journal export.
const ArrowContentType = "application/vnd.apache.arrow.stream"

// JournalExporter serializes the signal journal as an Arrow IPC stream.
type JournalExporter interface {
	ExportIPC() ([]byte, error)
}

// HealthReport is the /health response body.
type HealthReport struct {
	Status  string        `json:"status"`
	Node    string        `json:"node"`
	Mesh    network.Stats `json:"mesh"`
	Tumbler tumbler.Stats `json:"tumbler"`
}

// MetricsServer runs an HTTP server exposing /metrics, /health, /peers and
// /journal.arrow.
type MetricsServer struct {
	server *http.Server
	logger logr.Logger

	mu       sync.Mutex
	listener net.Listener
}

// ServerOption configures a MetricsServer.
type ServerOption func(*serverOptions)

type serverOptions struct {
	gatherer prometheus.Gatherer
	journal  JournalExporter
	logger   logr.Logger
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(o *serverOptions) { o.gatherer = g }
}

// WithJournal enables /journal.arrow.
func WithJournal(j JournalExporter) ServerOption {
	return func(o *serverOptions) { o.journal = j }
}

// WithServerLogger sets the logger.
func WithServerLogger(logger logr.Logger) ServerOption {
	return func(o *serverOptions) { o.logger = logger }
}

// NewMetricsServer creates a new metrics server on the given address.
func NewMetricsServer(addr string, provider StatsProvider, opts ...ServerOption) *MetricsServer {
	o := serverOptions{
		gatherer: prometheus.DefaultGatherer,
		logger:   logr.Discard(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		report := HealthReport{
			Status:  "ok",
			Node:    provider.NodeName(),
			Mesh:    provider.GetStats(),
			Tumbler: provider.GetTumblerStats(),
		}
		code := http.StatusOK
		if !provider.IsRunning() {
			report.Status = "stopped"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report, o.logger)
	})
	mux.HandleFunc("GET /peers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, provider.GetPeers(), o.logger)
	})
	mux.HandleFunc("GET /journal.arrow", func(w http.ResponseWriter, r *http.Request) {
		if o.journal == nil {
			http.Error(w, "journal disabled", http.StatusNotFound)
			return
		}
		data, err := o.journal.ExportIPC()
		if err != nil {
			o.logger.Error(err, "Journal export failed")
			http.Error(w, "journal export failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", ArrowContentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})

	return &MetricsServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: o.logger,
	}
}

// Handler returns the HTTP handler.
func (s *MetricsServer) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the metrics server (blocking).
func (s *MetricsServer) Start() error {
	return s.server.ListenAndServe()
}

// StartAsync binds the listener and serves in a goroutine.
func (s *MetricsServer) StartAsync() error {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(err, "Metrics server stopped")
		}
	}()
	s.logger.Info("Metrics server started", "address", lis.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before StartAsync.
func (s *MetricsServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully stops the metrics server.
func (s *MetricsServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v any, logger logr.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error(err, "Failed to write response")
	}
}
