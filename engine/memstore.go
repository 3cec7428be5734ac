package engine

import (
	"context"
	"errors"
	"sync"

	"k8s.io/utils/clock"
)

// MemoryPatternStore keeps patterns in process with thread-safe operations.
type MemoryPatternStore struct {
	byID   map[string]*Pattern
	byDesc map[string]string
	clock  clock.PassiveClock
	mu     sync.RWMutex
}

// NewMemoryPatternStore creates an empty store.
func NewMemoryPatternStore() *MemoryPatternStore {
	return &MemoryPatternStore{
		byID:   make(map[string]*Pattern),
		byDesc: make(map[string]string),
		clock:  clock.RealClock{},
	}
}

// SetClock overrides the clock used for LastSeen timestamps.
func (m *MemoryPatternStore) SetClock(clk clock.PassiveClock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clk
}

// FindByDescription returns a copy of the pattern with exactly this description.
func (m *MemoryPatternStore) FindByDescription(ctx context.Context, description string) (Pattern, error) {
	if err := ctx.Err(); err != nil {
		return Pattern{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byDesc[description]
	if !ok {
		return Pattern{}, ErrPatternNotFound
	}
	return clonePattern(m.byID[id]), nil
}

// Insert adds a new pattern. Descriptions are unique.
func (m *MemoryPatternStore) Insert(ctx context.Context, p Pattern) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return errors.Join(ErrInvalidPattern, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[p.ID]; exists {
		return ErrPatternExists
	}
	if _, exists := m.byDesc[p.Description]; exists {
		return ErrPatternExists
	}

	if p.LastSeen.IsZero() {
		p.LastSeen = m.clock.Now().UTC()
	}
	stored := clonePattern(&p)
	m.byID[p.ID] = &stored
	m.byDesc[p.Description] = p.ID
	return nil
}

// IncrementFrequency bumps a pattern's frequency and refreshes LastSeen.
func (m *MemoryPatternStore) IncrementFrequency(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.byID[id]
	if !ok {
		return ErrPatternNotFound
	}
	p.Frequency++
	p.LastSeen = m.clock.Now().UTC()
	return nil
}

// Get retrieves a pattern by ID.
func (m *MemoryPatternStore) Get(id string) (Pattern, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.byID[id]
	if !ok {
		return Pattern{}, false
	}
	return clonePattern(p), true
}

// List returns copies of all patterns.
func (m *MemoryPatternStore) List() []Pattern {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Pattern, 0, len(m.byID))
	for _, p := range m.byID {
		out = append(out, clonePattern(p))
	}
	return out
}

// Size returns the number of stored patterns.
func (m *MemoryPatternStore) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

func clonePattern(p *Pattern) Pattern {
	c := *p
	if p.RelatedIDs != nil {
		c.RelatedIDs = append([]string(nil), p.RelatedIDs...)
	}
	return c
}
