package network

import (
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/google/go-cmp/cmp"
)

func TestNewPeerRegistrySkipsInvalidEntries(t *testing.T) {
	r := NewPeerRegistry([]PeerConfig{
		{Name: "a", Address: "10.0.0.1", Port: 7400},
		{Name: "", Address: "10.0.0.2", Port: 7400},
		{Name: "zero-port", Address: "10.0.0.3", Port: 0},
		{Name: "too-high", Address: "10.0.0.4", Port: 70000},
		{Name: "b", Port: 7401},
	})

	want := []Peer{
		{Name: "a", Address: "10.0.0.1", Port: 7400, Status: PeerUnknown},
		{Name: "b", Port: 7401, Status: PeerUnknown},
	}
	if diff := cmp.Diff(want, r.Snapshot()); diff != "" {
		t.Errorf("Snapshot mismatch (-want +got):\n%s", diff)
	}
	if r.Len() != 2 {
		t.Errorf("Expected 2 peers, got %d", r.Len())
	}
}

func TestResolveDefaultsToLoopback(t *testing.T) {
	r := NewPeerRegistry([]PeerConfig{{Name: "local", Port: 7400}})
	r.Resolve(testr.New(t))

	targets := r.targets()
	if len(targets) != 1 || targets[0].addr == nil {
		t.Fatalf("Expected one resolved target, got %+v", targets)
	}
	if got := targets[0].addr.String(); got != "127.0.0.1:7400" {
		t.Errorf("Expected 127.0.0.1:7400, got %s", got)
	}
}

func TestMarkSeenMatchesByPort(t *testing.T) {
	r := NewPeerRegistry([]PeerConfig{
		{Name: "a", Address: "10.0.0.1", Port: 7400},
		{Name: "b", Address: "10.0.0.2", Port: 7400},
		{Name: "c", Address: "10.0.0.3", Port: 7401},
	})
	now := time.Unix(1_700_000_000, 0)

	names := r.MarkSeen(7400, now)
	if diff := cmp.Diff([]string{"a", "b"}, names); diff != "" {
		t.Errorf("MarkSeen names mismatch (-want +got):\n%s", diff)
	}
	if names := r.MarkSeen(9999, now); len(names) != 0 {
		t.Errorf("Expected no match for unknown port, got %v", names)
	}

	for _, p := range r.Snapshot() {
		switch p.Name {
		case "a", "b":
			if p.Status != PeerActive || !p.LastSeen.Equal(now) {
				t.Errorf("Peer %s: expected active at %v, got %s at %v", p.Name, now, p.Status, p.LastSeen)
			}
		case "c":
			if p.Status != PeerUnknown {
				t.Errorf("Peer c: expected unknown, got %s", p.Status)
			}
		}
	}
}

func TestExpireStale(t *testing.T) {
	r := NewPeerRegistry([]PeerConfig{
		{Name: "old", Port: 7400},
		{Name: "fresh", Port: 7401},
		{Name: "never", Port: 7402},
	})
	base := time.Unix(1_700_000_000, 0)
	r.MarkSeen(7400, base)
	r.MarkSeen(7401, base.Add(80*time.Second))

	cutoff := base.Add(time.Second)
	if n := r.ExpireStale(cutoff); n != 1 {
		t.Errorf("Expected 1 peer expired, got %d", n)
	}
	if n := r.ExpireStale(cutoff); n != 0 {
		t.Errorf("Expiring twice should not change state, got %d", n)
	}

	status := map[string]PeerStatus{}
	for _, p := range r.Snapshot() {
		status[p.Name] = p.Status
	}
	want := map[string]PeerStatus{"old": PeerInactive, "fresh": PeerActive, "never": PeerUnknown}
	if diff := cmp.Diff(want, status); diff != "" {
		t.Errorf("Status mismatch (-want +got):\n%s", diff)
	}

	// A peer heard from again comes back.
	r.MarkSeen(7400, base.Add(100*time.Second))
	for _, p := range r.Snapshot() {
		if p.Name == "old" && p.Status != PeerActive {
			t.Errorf("Expected old to be active again, got %s", p.Status)
		}
	}
}
