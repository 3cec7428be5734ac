// Package cache provides time-bounded caches with concurrent access.
// This package implements:
// - Thread-safe TTL set for replay and duplicate detection
// - Clock-driven expiration with explicit sweeps
package cache
