package tumbler

import (
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	testclock "k8s.io/utils/clock/testing"

	"github.com/VanDung-dev/tenet-mesh/protocol"
)

func newTestTumbler(t *testing.T, whitelist []string) (*Tumbler, *testclock.FakeClock) {
	t.Helper()
	clk := testclock.NewFakeClock(time.UnixMilli(1_700_000_000_000))
	return New(whitelist, WithClock(clk), WithLogger(testr.New(t))), clk
}

func signalWith(code protocol.Code, md *protocol.Metadata) protocol.Signal {
	return protocol.Signal{
		Code:     code,
		Name:     protocol.SignalName(code),
		Sender:   "peer",
		Metadata: md,
	}
}

func metadataAt(id string, hops int, ts time.Time) *protocol.Metadata {
	return &protocol.Metadata{
		SignalID:     id,
		OriginServer: "peer",
		HopCount:     hops,
		Timestamp:    ts.UnixMilli(),
	}
}

func TestDefaultWhitelist(t *testing.T) {
	tb, _ := newTestTumbler(t, nil)

	stats := tb.Stats()
	if len(stats.Whitelist) != 9 {
		t.Errorf("Expected 9 default names, got %d", len(stats.Whitelist))
	}
	if stats.WhitelistConfigured {
		t.Error("Default whitelist should not be marked as configured")
	}
}

func TestLegacySignalBypassesCircuitBreaker(t *testing.T) {
	tb, _ := newTestTumbler(t, nil)

	for i := 0; i < 3; i++ {
		if v := tb.Admit(signalWith(protocol.Heartbeat, nil)); !v.Accepted {
			t.Fatalf("Legacy signal %d rejected: %s", i, v.Reason)
		}
	}
	if got := tb.Stats().Accepted; got != 3 {
		t.Errorf("Expected 3 accepted, got %d", got)
	}
}

func TestWhitelistEnforcement(t *testing.T) {
	tb, clk := newTestTumbler(t, []string{"HEARTBEAT"})

	// Rejected with and without metadata; circuit-breaker state is irrelevant.
	v := tb.Admit(signalWith(protocol.DecisionPending, nil))
	if v.Accepted || v.Reason != ReasonNotWhitelisted {
		t.Errorf("Expected not_whitelisted, got %+v", v)
	}
	v = tb.Admit(signalWith(protocol.DecisionPending, metadataAt("fresh", 0, clk.Now())))
	if v.Accepted || v.Reason != ReasonNotWhitelisted {
		t.Errorf("Expected not_whitelisted, got %+v", v)
	}
	v = tb.Admit(signalWith(protocol.Code(0x9999), nil))
	if v.Accepted || v.Reason != ReasonNotWhitelisted {
		t.Errorf("Expected unknown code to be not_whitelisted, got %+v", v)
	}

	stats := tb.Stats()
	if stats.RejectedWhitelist != 3 || stats.Rejected != 3 {
		t.Errorf("Expected 3 whitelist rejections, got %+v", stats)
	}

	// A rejected signal is not recorded for dedup.
	if v := tb.Admit(signalWith(protocol.Heartbeat, metadataAt("fresh", 0, clk.Now()))); !v.Accepted {
		t.Errorf("Expected heartbeat accepted, got %+v", v)
	}
}

func TestHopCountBoundary(t *testing.T) {
	tb, clk := newTestTumbler(t, nil)

	if v := tb.Admit(signalWith(protocol.TenetViolation, metadataAt("h2", 2, clk.Now()))); !v.Accepted {
		t.Errorf("hopCount=2 should be accepted, got %+v", v)
	}
	v := tb.Admit(signalWith(protocol.TenetViolation, metadataAt("h3", 3, clk.Now())))
	if v.Accepted || v.Reason != ReasonHopLimitExceeded {
		t.Errorf("hopCount=3 should be rejected with hop_limit_exceeded, got %+v", v)
	}
	if got := tb.Stats().RejectedHopLimit; got != 1 {
		t.Errorf("Expected 1 hop-limit rejection, got %d", got)
	}
}

func TestTTLBoundary(t *testing.T) {
	tb, clk := newTestTumbler(t, nil)
	now := clk.Now()

	young := metadataAt("young", 0, now.Add(-29_999*time.Millisecond))
	if v := tb.Admit(signalWith(protocol.Heartbeat, young)); !v.Accepted {
		t.Errorf("29.999s old signal should be accepted, got %+v", v)
	}

	old := metadataAt("old", 0, now.Add(-30_001*time.Millisecond))
	v := tb.Admit(signalWith(protocol.Heartbeat, old))
	if v.Accepted || v.Reason != ReasonSignalExpired {
		t.Errorf("30.001s old signal should be signal_expired, got %+v", v)
	}
	if got := tb.Stats().RejectedExpired; got != 1 {
		t.Errorf("Expected 1 expired rejection, got %d", got)
	}
}

func TestDedupIdempotence(t *testing.T) {
	tb, clk := newTestTumbler(t, nil)

	sig := signalWith(protocol.LessonLearned, metadataAt("dup-1", 0, clk.Now()))
	if v := tb.Admit(sig); !v.Accepted {
		t.Fatalf("First submission rejected: %+v", v)
	}

	clk.Step(10 * time.Second)
	v := tb.Admit(sig)
	if v.Accepted || v.Reason != ReasonDuplicateSignal {
		t.Errorf("Second submission should be duplicate_signal, got %+v", v)
	}

	stats := tb.Stats()
	if stats.Accepted != 1 || stats.Rejected != 1 || stats.RejectedDuplicate != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestSweepBoundsDedupCache(t *testing.T) {
	tb, clk := newTestTumbler(t, nil)

	for _, id := range []string{"a", "b", "c"} {
		tb.Admit(signalWith(protocol.Heartbeat, metadataAt(id, 0, clk.Now())))
	}
	if got := tb.Stats().DedupCacheSize; got != 3 {
		t.Fatalf("Expected cache size 3, got %d", got)
	}

	clk.Step(SweepInterval)
	if removed := tb.Sweep(); removed != 3 {
		t.Errorf("Expected 3 removed, got %d", removed)
	}
	if got := tb.Stats().DedupCacheSize; got != 0 {
		t.Errorf("Expected empty cache, got %d", got)
	}
}

func TestIndependentInstances(t *testing.T) {
	a, clk := newTestTumbler(t, nil)
	b := New(nil, WithClock(clk))

	sig := signalWith(protocol.Heartbeat, metadataAt("shared", 0, clk.Now()))
	if v := a.Admit(sig); !v.Accepted {
		t.Fatalf("a rejected: %+v", v)
	}
	if v := b.Admit(sig); !v.Accepted {
		t.Errorf("b should not share a's dedup cache, got %+v", v)
	}
}
