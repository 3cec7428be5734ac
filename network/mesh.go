package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/VanDung-dev/tenet-mesh/protocol"
	"github.com/VanDung-dev/tenet-mesh/tumbler"
)

// Common errors for mesh operations
var (
	ErrMeshNotRunning = errors.New("mesh is not running")
	ErrMeshRunning    = errors.New("mesh already running")
	ErrMeshClosed     = errors.New("mesh is closed")
	ErrRejected       = errors.New("signal rejected")
)

const (
	// DefaultHeartbeatInterval is how often HEARTBEAT is sent to every peer.
	DefaultHeartbeatInterval = 30 * time.Second

	// staleHeartbeats is how many missed heartbeat intervals mark a peer inactive.
	staleHeartbeats = 3

	readBufferSize = 64 * 1024
	maxFanout      = 32
)

// Config defines configuration for the mesh.
type Config struct {
	NodeName          string        `json:"node_name" yaml:"node_name"`
	BindAddr          string        `json:"bind_addr" yaml:"bind_addr"`
	Peers             []PeerConfig  `json:"peers" yaml:"peers"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`
	SweepInterval     time.Duration `json:"sweep_interval" yaml:"sweep_interval"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		NodeName:          "node-1",
		BindAddr:          "0.0.0.0:7400",
		Peers:             []PeerConfig{},
		HeartbeatInterval: DefaultHeartbeatInterval,
		SweepInterval:     tumbler.SweepInterval,
	}
}

// Handler reacts to admitted inbound signals. emit sends follow-up signals
// derived from sig.
type Handler interface {
	HandleSignal(ctx context.Context, sig protocol.Signal, emit protocol.EmitFunc)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, sig protocol.Signal, emit protocol.EmitFunc)

// HandleSignal calls f.
func (f HandlerFunc) HandleSignal(ctx context.Context, sig protocol.Signal, emit protocol.EmitFunc) {
	f(ctx, sig, emit)
}

// Stats contains datagram counters for the mesh.
type Stats struct {
	Sent      uint64  `json:"sent"`
	Received  uint64  `json:"received"`
	Dropped   uint64  `json:"dropped"`
	Malformed uint64  `json:"malformed"` // undecodable datagrams, also counted in Dropped
	Peers     int     `json:"peers"`
	Uptime    float64 `json:"uptime"` // seconds since bind
}

// Mesh is a UDP signal node: it admits, sends, receives and dispatches signals.
type Mesh struct {
	config  Config
	logger  logr.Logger
	clock   clock.WithTicker
	tumbler *tumbler.Tumbler
	handler Handler
	peers   *PeerRegistry
	taps    []Tap

	mu      sync.RWMutex
	conn    net.PacketConn
	cancel  context.CancelFunc
	running bool
	closed  bool
	boundAt time.Time
	wg      sync.WaitGroup
	stopped chan struct{}

	// Statistics (atomic for thread-safety)
	sent      atomic.Uint64
	received  atomic.Uint64
	dropped   atomic.Uint64
	malformed atomic.Uint64
}

// Option configures a Mesh.
type Option func(*Mesh)

// WithLogger sets the logger.
func WithLogger(logger logr.Logger) Option {
	return func(m *Mesh) { m.logger = logger }
}

// WithClock injects the clock driving timestamps, heartbeat and sweep tasks.
func WithClock(clk clock.WithTicker) Option {
	return func(m *Mesh) { m.clock = clk }
}

// WithTumbler sets the admission controller.
func WithTumbler(t *tumbler.Tumbler) Option {
	return func(m *Mesh) { m.tumbler = t }
}

// WithHandler sets the handler for admitted inbound signals.
func WithHandler(h Handler) Option {
	return func(m *Mesh) { m.handler = h }
}

// WithTap adds an observer of admission decisions.
func WithTap(t Tap) Option {
	return func(m *Mesh) { m.taps = append(m.taps, t) }
}

// New creates a mesh node. It does not bind until Start.
func New(config Config, opts ...Option) *Mesh {
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = tumbler.SweepInterval
	}

	m := &Mesh{
		config:  config,
		logger:  logr.Discard(),
		clock:   clock.RealClock{},
		peers:   NewPeerRegistry(config.Peers),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.tumbler == nil {
		m.tumbler = tumbler.New(nil, tumbler.WithClock(m.clock), tumbler.WithLogger(m.logger))
	}
	return m
}

// Start binds the UDP socket and starts the receive loop, the heartbeat task
// and the dedup-sweep task. The first heartbeat is sent before Start returns.
// Cancelling ctx closes the mesh.
func (m *Mesh) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrMeshClosed
	}
	if m.running {
		m.mu.Unlock()
		return ErrMeshRunning
	}

	conn, err := net.ListenPacket("udp", m.config.BindAddr)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to bind %s: %w", m.config.BindAddr, err)
	}
	m.peers.Resolve(m.logger)

	runCtx, cancel := context.WithCancel(ctx)
	heartbeat := m.clock.NewTicker(m.config.HeartbeatInterval)
	sweep := m.clock.NewTicker(m.config.SweepInterval)

	m.conn = conn
	m.cancel = cancel
	m.running = true
	m.boundAt = m.clock.Now()
	m.mu.Unlock()

	m.wg.Add(3)
	go m.receiveLoop(runCtx, conn)
	go m.heartbeatLoop(runCtx, heartbeat)
	go m.sweepLoop(runCtx, sweep)
	context.AfterFunc(runCtx, func() { _ = m.Close() })

	m.logger.Info("Mesh started", "node", m.config.NodeName, "address", conn.LocalAddr().String(), "peers", m.peers.Len())
	m.sendHeartbeat()
	return nil
}

// Close stops both scheduled tasks and closes the socket. It is safe to call
// more than once; every call returns once shutdown has finished, and later Emit
// calls return ErrMeshClosed. Close must not be called from a Handler.
func (m *Mesh) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		<-m.stopped
		return nil
	}
	m.closed = true
	m.running = false

	var err error
	if m.cancel != nil {
		m.cancel()
	}
	if m.conn != nil {
		err = m.conn.Close()
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("Mesh stopped", "node", m.config.NodeName)
	close(m.stopped)
	return err
}

// Emit admits sig and, if accepted, encodes it once and sends it to every
// peer. Signals without metadata are stamped as originating here. Per-peer
// send failures are counted as dropped and never abort the other sends.
func (m *Mesh) Emit(sig protocol.Signal) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrMeshClosed
	}
	if !m.running {
		m.mu.RUnlock()
		return ErrMeshNotRunning
	}
	conn := m.conn
	m.mu.RUnlock()

	now := m.clock.Now()
	if sig.Name == "" {
		sig.Name = protocol.SignalName(sig.Code)
	}
	if sig.Sender == "" {
		sig.Sender = m.config.NodeName
	}
	if sig.Version == 0 {
		sig.Version = protocol.ProtocolVersion
	}
	if sig.Timestamp == 0 {
		sig.Timestamp = now.Unix()
	}
	if sig.Metadata == nil {
		sig.Metadata = protocol.NewMetadata(m.config.NodeName, now)
	}

	verdict := m.tumbler.Admit(sig)
	if !verdict.Accepted {
		m.observe(Event{Direction: Outbound, Signal: sig, Verdict: verdict, At: now})
		return fmt.Errorf("%w: %s", ErrRejected, verdict.Reason)
	}

	frame, err := protocol.EncodeSignal(sig)
	if err != nil {
		m.dropped.Add(1)
		return fmt.Errorf("failed to encode %s: %w", sig.Name, err)
	}
	m.observe(Event{Direction: Outbound, Signal: sig, Verdict: verdict, Frame: frame, At: now})

	var g errgroup.Group
	g.SetLimit(maxFanout)
	for _, target := range m.peers.targets() {
		g.Go(func() error {
			m.sendTo(conn, target, frame, sig.Name)
			return nil
		})
	}
	_ = g.Wait()

	return nil
}

func (m *Mesh) sendTo(conn net.PacketConn, target sendTarget, frame []byte, name string) {
	if target.addr == nil {
		m.dropped.Add(1)
		m.logger.V(1).Info("Dropping send to unresolved peer", "peer", target.name, "signal", name)
		return
	}
	if _, err := conn.WriteTo(frame, target.addr); err != nil {
		m.dropped.Add(1)
		m.logger.Error(err, "Send failed", "peer", target.name, "signal", name)
		return
	}
	m.sent.Add(1)
}

// receiveLoop reads datagrams one at a time, in arrival order.
func (m *Mesh) receiveLoop(ctx context.Context, conn net.PacketConn) {
	defer m.wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			m.logger.Error(err, "Receive failed")
			continue
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		m.handleDatagram(ctx, datagram, addr)
	}
}

func (m *Mesh) handleDatagram(ctx context.Context, datagram []byte, from net.Addr) {
	m.received.Add(1)
	now := m.clock.Now()

	if ctx.Err() != nil {
		m.dropped.Add(1)
		return
	}

	sig, err := protocol.Decode(datagram)
	if err != nil {
		m.dropped.Add(1)
		m.malformed.Add(1)
		m.logger.V(1).Info("Dropping malformed datagram", "from", from.String(), "size", len(datagram), "err", err.Error())
		return
	}

	if udp, ok := from.(*net.UDPAddr); ok {
		m.peers.MarkSeen(udp.Port, now)
	}

	verdict := m.tumbler.Admit(sig)
	m.observe(Event{Direction: Inbound, Signal: sig, Verdict: verdict, Frame: datagram, At: now})
	if !verdict.Accepted {
		m.dropped.Add(1)
		return
	}

	if !protocol.IsKnownSignal(sig.Code) {
		m.logger.Info("Ignoring unknown signal", "code", sig.Name, "sender", sig.Sender)
		return
	}
	if m.handler != nil {
		m.handler.HandleSignal(ctx, sig, m.replyTo(sig))
	}
}

// replyTo returns an EmitFunc whose signals descend from parent, so hop count
// and lineage propagate through the mesh.
func (m *Mesh) replyTo(parent protocol.Signal) protocol.EmitFunc {
	return func(code protocol.Code, payload map[string]any) {
		now := m.clock.Now()
		child := protocol.NewSignal(code, m.config.NodeName, payload, now)
		child.Metadata = protocol.ChildMetadata(parent.Metadata, m.config.NodeName, now)

		if err := m.Emit(child); err != nil {
			m.logger.V(1).Info("Reply not sent", "signal", child.Name, "parent", parent.Name, "err", err.Error())
		}
	}
}

func (m *Mesh) heartbeatLoop(ctx context.Context, ticker clock.Ticker) {
	defer m.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			m.sendHeartbeat()
		}
	}
}

func (m *Mesh) sendHeartbeat() {
	now := m.clock.Now()
	if n := m.peers.ExpireStale(now.Add(-staleHeartbeats * m.config.HeartbeatInterval)); n > 0 {
		m.logger.Info("Peers went inactive", "count", n)
	}

	sig := protocol.NewSignal(protocol.Heartbeat, m.config.NodeName, map[string]any{
		"status": "alive",
		"uptime": m.uptime(now).Seconds(),
	}, now)
	if err := m.Emit(sig); err != nil && !errors.Is(err, ErrMeshClosed) {
		m.logger.Error(err, "Heartbeat not sent")
	}
}

func (m *Mesh) sweepLoop(ctx context.Context, ticker clock.Ticker) {
	defer m.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			m.tumbler.Sweep()
		}
	}
}

func (m *Mesh) observe(e Event) {
	for _, t := range m.taps {
		t.Observe(e)
	}
}

func (m *Mesh) uptime(now time.Time) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.boundAt.IsZero() {
		return 0
	}
	return now.Sub(m.boundAt)
}

// GetStats returns current datagram statistics.
func (m *Mesh) GetStats() Stats {
	return Stats{
		Sent:      m.sent.Load(),
		Received:  m.received.Load(),
		Dropped:   m.dropped.Load(),
		Malformed: m.malformed.Load(),
		Peers:     m.peers.Len(),
		Uptime:    m.uptime(m.clock.Now()).Seconds(),
	}
}

// GetTumblerStats returns admission statistics.
func (m *Mesh) GetTumblerStats() tumbler.Stats {
	return m.tumbler.Stats()
}

// GetPeers returns a snapshot of all configured peers.
func (m *Mesh) GetPeers() []Peer {
	return m.peers.Snapshot()
}

// LocalAddr returns the bound address, or nil before Start.
func (m *Mesh) LocalAddr() net.Addr {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn == nil {
		return nil
	}
	return m.conn.LocalAddr()
}

// NodeName returns the configured node name.
func (m *Mesh) NodeName() string {
	return m.config.NodeName
}

// IsRunning returns whether the mesh is bound and not closed.
func (m *Mesh) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}
