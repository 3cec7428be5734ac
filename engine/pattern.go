package engine

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Pattern store errors.
var (
	ErrPatternNotFound = errors.New("pattern not found")
	ErrPatternExists   = errors.New("pattern already exists")
	ErrInvalidPattern  = errors.New("invalid pattern")
)

// PatternType classifies a learned pattern.
type PatternType string

const (
	PatternViolation   PatternType = "violation"
	PatternSuccess     PatternType = "success"
	PatternCounterfeit PatternType = "counterfeit"
	PatternBlindSpot   PatternType = "blind_spot"
)

// Pattern is a learned recurring description with a frequency counter.
// Frequency only ever grows; patterns are never deleted by the mesh.
type Pattern struct {
	ID          string      `json:"id"`
	Type        PatternType `json:"type"`
	Description string      `json:"description"`
	RelatedIDs  []string    `json:"related_ids"`
	Frequency   int         `json:"frequency"`
	LastSeen    time.Time   `json:"last_seen"`
	Confidence  float64     `json:"confidence"`
}

// Validate checks if the pattern has required fields.
func (p *Pattern) Validate() error {
	if p.ID == "" {
		return errors.New("pattern ID is required")
	}
	if strings.TrimSpace(p.Description) == "" {
		return errors.New("pattern description is required")
	}
	switch p.Type {
	case PatternViolation, PatternSuccess, PatternCounterfeit, PatternBlindSpot:
	default:
		return errors.New("pattern type is invalid")
	}
	if p.Frequency < 1 {
		return errors.New("pattern frequency must be at least 1")
	}
	return nil
}

// PatternStore is the persistence contract the dispatcher needs.
type PatternStore interface {
	// FindByDescription returns ErrPatternNotFound when no pattern matches exactly.
	FindByDescription(ctx context.Context, description string) (Pattern, error)
	Insert(ctx context.Context, p Pattern) error
	IncrementFrequency(ctx context.Context, id string) error
}

// ClassifyLesson maps lesson text to a pattern type using fixed substring rules.
// Rules are checked in order; the first match wins.
func ClassifyLesson(lesson string) PatternType {
	text := strings.ToLower(lesson)
	switch {
	case containsAny(text, "violat", "breach"):
		return PatternViolation
	case containsAny(text, "counterfeit", "fake", "pretend", "disguise", "masquerad"):
		return PatternCounterfeit
	case containsAny(text, "blind spot", "blind_spot", "overlook", "missed", "didn't consider", "did not consider"):
		return PatternBlindSpot
	default:
		return PatternSuccess
	}
}

func containsAny(text string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}
