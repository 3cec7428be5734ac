package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/go-zeromq/zmq4"
)

// RelayStats contains relay statistics.
type RelayStats struct {
	Endpoint  string `json:"endpoint"`
	IsRunning bool   `json:"is_running"`
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
}

// ZmqRelay republishes admitted frames on a ZeroMQ PUB socket so the HTTP,
// WebSocket and stdio facades can follow mesh traffic. Each message has two
// frames: the topic "<direction>.<SIGNAL_NAME>" and the raw wire frame.
type ZmqRelay struct {
	endpoint string
	logger   logr.Logger

	ctx    context.Context
	cancel context.CancelFunc
	pub    zmq4.Socket

	mu      sync.Mutex
	running bool

	published atomic.Uint64
	failed    atomic.Uint64
}

// NewZmqRelay creates a relay that will listen on endpoint (e.g. "tcp://127.0.0.1:7401").
func NewZmqRelay(endpoint string, logger logr.Logger) *ZmqRelay {
	ctx, cancel := context.WithCancel(context.Background())
	return &ZmqRelay{
		endpoint: endpoint,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start binds the PUB socket.
func (r *ZmqRelay) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}

	pub := zmq4.NewPub(r.ctx)
	if err := pub.Listen(r.endpoint); err != nil {
		_ = pub.Close()
		return fmt.Errorf("failed to bind relay %s: %w", r.endpoint, err)
	}
	r.pub = pub
	r.running = true
	r.logger.Info("Relay started", "endpoint", r.endpoint)
	return nil
}

// Stop closes the PUB socket. It is safe to call more than once.
func (r *ZmqRelay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}
	r.running = false
	r.cancel()
	if err := r.pub.Close(); err != nil {
		r.logger.V(1).Info("Relay close error", "err", err.Error())
	}
}

// Observe publishes accepted frames; rejected signals are not relayed.
func (r *ZmqRelay) Observe(e Event) {
	if !e.Verdict.Accepted || len(e.Frame) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}

	topic := []byte(string(e.Direction) + "." + e.Signal.Name)
	if err := r.pub.Send(zmq4.NewMsgFrom(topic, e.Frame)); err != nil {
		r.failed.Add(1)
		r.logger.V(1).Info("Relay publish failed", "topic", string(topic), "err", err.Error())
		return
	}
	r.published.Add(1)
}

// Addr returns the bound address, or nil when not running.
func (r *ZmqRelay) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return nil
	}
	return r.pub.Addr()
}

// GetStats returns relay statistics.
func (r *ZmqRelay) GetStats() RelayStats {
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()

	return RelayStats{
		Endpoint:  r.endpoint,
		IsRunning: running,
		Published: r.published.Load(),
		Failed:    r.failed.Load(),
	}
}
