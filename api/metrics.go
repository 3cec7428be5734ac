// Package api exposes mesh metrics, health and stats over HTTP and gRPC.
package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/VanDung-dev/tenet-mesh/network"
	"github.com/VanDung-dev/tenet-mesh/tumbler"
)

// StatsProvider is the read-only view of a running mesh.
type StatsProvider interface {
	NodeName() string
	IsRunning() bool
	GetStats() network.Stats
	GetTumblerStats() tumbler.Stats
	GetPeers() []network.Peer
}

// Metrics holds all Prometheus metrics for a mesh node.
type Metrics struct {
	// Admission decisions, fed by the mesh tap
	SignalsTotal    *prometheus.CounterVec
	RejectionsTotal *prometheus.CounterVec
	FrameBytes      prometheus.Histogram

	namespace string
	factory   promauto.Factory
}

// NewMetrics creates metrics registered on reg under namespace.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SignalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Signals seen by direction, name and verdict",
		}, []string{"direction", "signal", "verdict"}),
		RejectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signal_rejections_total",
			Help:      "Rejected signals by direction and reason",
		}, []string{"direction", "reason"}),
		FrameBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_bytes",
			Help:      "Encoded size of admitted frames",
			Buckets:   prometheus.ExponentialBuckets(32, 4, 8),
		}),
		namespace: namespace,
		factory:   factory,
	}
}

// Observe records one admission decision. It implements network.Tap.
func (m *Metrics) Observe(e network.Event) {
	direction := string(e.Direction)
	if !e.Verdict.Accepted {
		m.SignalsTotal.WithLabelValues(direction, e.Signal.Name, "rejected").Inc()
		m.RejectionsTotal.WithLabelValues(direction, string(e.Verdict.Reason)).Inc()
		return
	}
	m.SignalsTotal.WithLabelValues(direction, e.Signal.Name, "accepted").Inc()
	if len(e.Frame) > 0 {
		m.FrameBytes.Observe(float64(len(e.Frame)))
	}
}

// RegisterStats adds collectors that read mesh and tumbler counters from
// provider at scrape time.
func (m *Metrics) RegisterStats(provider StatsProvider) {
	counter := func(name, help string, read func() float64) {
		m.factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      name,
			Help:      help,
		}, read)
	}
	gauge := func(name, help string, read func() float64) {
		m.factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      name,
			Help:      help,
		}, read)
	}

	counter("datagrams_sent_total", "Datagrams successfully sent",
		func() float64 { return float64(provider.GetStats().Sent) })
	counter("datagrams_received_total", "Datagrams received",
		func() float64 { return float64(provider.GetStats().Received) })
	counter("datagrams_dropped_total", "Datagrams dropped on send or receive",
		func() float64 { return float64(provider.GetStats().Dropped) })
	counter("datagrams_malformed_total", "Received datagrams that failed to decode",
		func() float64 { return float64(provider.GetStats().Malformed) })
	counter("tumbler_accepted_total", "Signals admitted by the tumbler",
		func() float64 { return float64(provider.GetTumblerStats().Accepted) })
	counter("tumbler_rejected_total", "Signals rejected by the tumbler",
		func() float64 { return float64(provider.GetTumblerStats().Rejected) })

	gauge("peers", "Configured peers",
		func() float64 { return float64(provider.GetStats().Peers) })
	gauge("peers_active", "Peers heard from within the liveness window",
		func() float64 {
			active := 0
			for _, p := range provider.GetPeers() {
				if p.Status == network.PeerActive {
					active++
				}
			}
			return float64(active)
		})
	gauge("uptime_seconds", "Seconds since the socket was bound",
		func() float64 { return provider.GetStats().Uptime })
	gauge("dedup_cache_size", "Signal ids held for duplicate detection",
		func() float64 { return float64(provider.GetTumblerStats().DedupCacheSize) })
	gauge("up", "1 while the mesh is running",
		func() float64 {
			if provider.IsRunning() {
				return 1
			}
			return 0
		})
}

var _ network.Tap = (*Metrics)(nil)
