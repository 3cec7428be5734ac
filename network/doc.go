// Package network provides the UDP signal mesh.
// This package implements:
// - Static peer registry with liveness tracking
// - UDP send/receive loop gated by the tumbler
// - Heartbeat and dedup-sweep scheduled tasks
// - ZeroMQ relay of admitted frames for other facades
package network
