// Package tumbler implements admission control for mesh signals: a whitelist
// gate followed by a loop/storm circuit breaker (hop count, TTL, deduplication).
package tumbler

import (
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/VanDung-dev/tenet-mesh/cache"
	"github.com/VanDung-dev/tenet-mesh/protocol"
)

// Reason explains why a signal was rejected.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonNotWhitelisted   Reason = "not_whitelisted"
	ReasonHopLimitExceeded Reason = "hop_limit_exceeded"
	ReasonSignalExpired    Reason = "signal_expired"
	ReasonDuplicateSignal  Reason = "duplicate_signal"
)

const (
	// MaxHops is the hop count at which a signal is no longer accepted.
	MaxHops = 3

	// SignalTTL bounds both signal age and the dedup window.
	SignalTTL = 30 * time.Second

	// SweepInterval is how often the owner should call Sweep.
	SweepInterval = 60 * time.Second
)

// Verdict is the one-shot outcome of admission.
type Verdict struct {
	Accepted bool   `json:"accepted"`
	Reason   Reason `json:"reason,omitempty"`
}

// Stats is a snapshot of admission counters.
type Stats struct {
	Accepted            uint64   `json:"accepted"`
	Rejected            uint64   `json:"rejected"`
	RejectedWhitelist   uint64   `json:"rejectedWhitelist"`
	RejectedHopLimit    uint64   `json:"rejectedHopLimit"`
	RejectedExpired     uint64   `json:"rejectedExpired"`
	RejectedDuplicate   uint64   `json:"rejectedDuplicate"`
	Whitelist           []string `json:"whitelist"`
	WhitelistConfigured bool     `json:"whitelistConfigured"`
	DedupCacheSize      int      `json:"dedupCacheSize"`
}

// DefaultWhitelist is used when no whitelist is configured.
func DefaultWhitelist() []string {
	return protocol.KnownSignalNames()
}

// Tumbler decides whether a signal may enter or leave this node.
type Tumbler struct {
	logger logr.Logger
	clock  clock.PassiveClock

	whitelist  map[string]struct{}
	configured bool
	seen       *cache.TTLSet

	mu    sync.Mutex
	stats Stats
}

// Option configures a Tumbler.
type Option func(*Tumbler)

// WithClock overrides the wall clock, mainly for tests.
func WithClock(clk clock.PassiveClock) Option {
	return func(t *Tumbler) {
		t.clock = clk
	}
}

// WithLogger sets the logger.
func WithLogger(logger logr.Logger) Option {
	return func(t *Tumbler) {
		t.logger = logger
	}
}

// New creates a Tumbler. A nil or empty whitelist selects DefaultWhitelist.
// The whitelist is fixed for the lifetime of the Tumbler.
func New(whitelist []string, opts ...Option) *Tumbler {
	t := &Tumbler{
		logger: logr.Discard(),
		clock:  clock.RealClock{},
		seen:   cache.NewTTLSet(SignalTTL),
	}
	for _, opt := range opts {
		opt(t)
	}

	names := whitelist
	if len(names) == 0 {
		names = DefaultWhitelist()
	} else {
		t.configured = true
	}
	t.whitelist = make(map[string]struct{}, len(names))
	for _, n := range names {
		t.whitelist[n] = struct{}{}
	}

	return t
}

// Admit runs sig through the whitelist gate and, when metadata is present,
// the circuit breaker. Accepted signals with metadata are recorded for dedup.
func (t *Tumbler) Admit(sig protocol.Signal) Verdict {
	name := sig.Name
	if name == "" {
		name = protocol.SignalName(sig.Code)
	}

	if _, ok := t.whitelist[name]; !ok {
		return t.reject(ReasonNotWhitelisted, sig)
	}

	md := sig.Metadata
	if md == nil {
		return t.accept()
	}

	if md.HopCount >= MaxHops {
		return t.reject(ReasonHopLimitExceeded, sig)
	}

	now := t.clock.Now()
	if now.Sub(time.UnixMilli(md.Timestamp)) > SignalTTL {
		return t.reject(ReasonSignalExpired, sig)
	}

	if t.seen.Observe(md.SignalID, now) {
		return t.reject(ReasonDuplicateSignal, sig)
	}

	return t.accept()
}

// Sweep evicts dedup entries older than SignalTTL.
func (t *Tumbler) Sweep() int {
	removed := t.seen.Sweep(t.clock.Now())
	if removed > 0 {
		t.logger.V(1).Info("Swept dedup cache", "removed", removed, "remaining", t.seen.Len())
	}
	return removed
}

// Stats returns a snapshot of the admission counters.
func (t *Tumbler) Stats() Stats {
	t.mu.Lock()
	stats := t.stats
	t.mu.Unlock()

	stats.Whitelist = t.Whitelist()
	stats.DedupCacheSize = t.seen.Len()
	stats.WhitelistConfigured = t.configured
	return stats
}

// Whitelist returns the allowed signal names, sorted.
func (t *Tumbler) Whitelist() []string {
	names := make([]string, 0, len(t.whitelist))
	for n := range t.whitelist {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (t *Tumbler) accept() Verdict {
	t.mu.Lock()
	t.stats.Accepted++
	t.mu.Unlock()
	return Verdict{Accepted: true}
}

func (t *Tumbler) reject(reason Reason, sig protocol.Signal) Verdict {
	t.mu.Lock()
	t.stats.Rejected++
	switch reason {
	case ReasonNotWhitelisted:
		t.stats.RejectedWhitelist++
	case ReasonHopLimitExceeded:
		t.stats.RejectedHopLimit++
	case ReasonSignalExpired:
		t.stats.RejectedExpired++
	case ReasonDuplicateSignal:
		t.stats.RejectedDuplicate++
	}
	t.mu.Unlock()

	kv := []any{"reason", reason, "signal", sig.Name, "sender", sig.Sender}
	if sig.Metadata != nil {
		kv = append(kv, "signalID", sig.Metadata.SignalID, "hops", sig.Metadata.HopCount)
	}
	t.logger.V(1).Info("Signal rejected", kv...)

	return Verdict{Accepted: false, Reason: reason}
}
