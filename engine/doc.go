// Package engine reacts to mesh signals.
// This package implements:
// - Signal dispatch keyed by signal code
// - Collaborator contracts for evaluation and pattern storage
// - An in-memory PatternStore
package engine
