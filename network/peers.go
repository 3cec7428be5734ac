package network

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// PeerStatus is the liveness state of a peer.
type PeerStatus string

const (
	PeerUnknown  PeerStatus = "unknown"
	PeerActive   PeerStatus = "active"
	PeerInactive PeerStatus = "inactive"
)

// PeerConfig is one statically configured peer.
type PeerConfig struct {
	Name    string `json:"name" yaml:"name"`
	Address string `json:"address" yaml:"address"`
	Port    int    `json:"port" yaml:"port"`
}

// Peer contains information about a mesh peer.
type Peer struct {
	Name     string     `json:"name"`
	Address  string     `json:"address"`
	Port     int        `json:"port"`
	LastSeen time.Time  `json:"lastSeen,omitempty"`
	Status   PeerStatus `json:"status"`
}

type peerEntry struct {
	Peer
	addr *net.UDPAddr
}

type sendTarget struct {
	name string
	addr *net.UDPAddr
}

// PeerRegistry holds the static peer list and its liveness state.
type PeerRegistry struct {
	peers  []*peerEntry
	byPort map[int][]*peerEntry
	mu     sync.RWMutex
}

// NewPeerRegistry creates a registry from static configuration. Entries without
// a name or with an invalid port are skipped.
func NewPeerRegistry(configs []PeerConfig) *PeerRegistry {
	r := &PeerRegistry{
		byPort: make(map[int][]*peerEntry),
	}
	for _, c := range configs {
		if c.Name == "" || c.Port <= 0 || c.Port > 65535 {
			continue
		}
		e := &peerEntry{Peer: Peer{
			Name:    c.Name,
			Address: c.Address,
			Port:    c.Port,
			Status:  PeerUnknown,
		}}
		r.peers = append(r.peers, e)
		r.byPort[c.Port] = append(r.byPort[c.Port], e)
	}
	return r
}

// Resolve looks up UDP addresses for every peer. Peers that fail to resolve
// stay registered; sends to them are counted as dropped.
func (r *PeerRegistry) Resolve(logger logr.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.peers {
		host := e.Address
		if host == "" {
			host = "127.0.0.1"
		}
		addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(e.Port)))
		if err != nil {
			logger.Error(err, "Failed to resolve peer", "peer", e.Name, "address", e.Address)
			e.addr = nil
			continue
		}
		e.addr = addr
	}
}

// MarkSeen marks every peer configured on port as active. It returns the
// names of the matched peers.
func (r *PeerRegistry) MarkSeen(port int, now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.byPort[port]
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		e.LastSeen = now
		e.Status = PeerActive
		names = append(names, e.Name)
	}
	return names
}

// ExpireStale marks active peers not seen since cutoff as inactive and returns
// how many changed state.
func (r *PeerRegistry) ExpireStale(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := 0
	for _, e := range r.peers {
		if e.Status == PeerActive && e.LastSeen.Before(cutoff) {
			e.Status = PeerInactive
			changed++
		}
	}
	return changed
}

// Snapshot returns a copy of all peers in configuration order.
func (r *PeerRegistry) Snapshot() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Peer, 0, len(r.peers))
	for _, e := range r.peers {
		out = append(out, e.Peer)
	}
	return out
}

// Len returns the number of configured peers.
func (r *PeerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

func (r *PeerRegistry) targets() []sendTarget {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]sendTarget, 0, len(r.peers))
	for _, e := range r.peers {
		out = append(out, sendTarget{name: e.Name, addr: e.addr})
	}
	return out
}
