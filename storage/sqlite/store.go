// Package sqlite provides a SQLite-backed pattern store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"k8s.io/utils/clock"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/VanDung-dev/tenet-mesh/engine"
	"github.com/VanDung-dev/tenet-mesh/storage/sqlite/migrations"
)

// Store persists learned patterns in SQLite.
type Store struct {
	sqlDB *sql.DB
	clock clock.PassiveClock
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite pattern store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, clock: clock.RealClock{}}, nil
}

// SetClock overrides the clock used when a pattern is reinforced.
func (s *Store) SetClock(clk clock.PassiveClock) {
	s.clock = clk
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// FindByDescription returns the pattern whose description matches exactly.
func (s *Store) FindByDescription(ctx context.Context, description string) (engine.Pattern, error) {
	if err := ctx.Err(); err != nil {
		return engine.Pattern{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, type, description, related_ids, frequency, last_seen, confidence
		   FROM patterns WHERE description = ?`,
		description,
	)
	p, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Pattern{}, engine.ErrPatternNotFound
	}
	if err != nil {
		return engine.Pattern{}, fmt.Errorf("find pattern: %w", err)
	}
	return p, nil
}

// Insert stores a new pattern. A duplicate id or description yields
// engine.ErrPatternExists.
func (s *Store) Insert(ctx context.Context, p engine.Pattern) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return errors.Join(engine.ErrInvalidPattern, err)
	}
	related := p.RelatedIDs
	if related == nil {
		related = []string{}
	}
	relatedJSON, err := json.Marshal(related)
	if err != nil {
		return fmt.Errorf("marshal related ids: %w", err)
	}
	lastSeen := p.LastSeen
	if lastSeen.IsZero() {
		lastSeen = s.clock.Now()
	}

	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO patterns (id, type, description, related_ids, frequency, last_seen, confidence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		string(p.Type),
		p.Description,
		string(relatedJSON),
		p.Frequency,
		toMillis(lastSeen),
		p.Confidence,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return engine.ErrPatternExists
		}
		return fmt.Errorf("insert pattern: %w", err)
	}
	return nil
}

// IncrementFrequency bumps the frequency of id by one in a single statement.
func (s *Store) IncrementFrequency(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE patterns SET frequency = frequency + 1, last_seen = ? WHERE id = ?`,
		toMillis(s.clock.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("increment pattern: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment pattern: %w", err)
	}
	if n == 0 {
		return engine.ErrPatternNotFound
	}
	return nil
}

// List returns every pattern, most frequent first.
func (s *Store) List(ctx context.Context) ([]engine.Pattern, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, type, description, related_ids, frequency, last_seen, confidence
		   FROM patterns ORDER BY frequency DESC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer rows.Close()

	var out []engine.Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("list patterns: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPattern(row rowScanner) (engine.Pattern, error) {
	var (
		p           engine.Pattern
		patternType string
		relatedJSON string
		lastSeen    int64
	)
	if err := row.Scan(&p.ID, &patternType, &p.Description, &relatedJSON, &p.Frequency, &lastSeen, &p.Confidence); err != nil {
		return engine.Pattern{}, err
	}
	p.Type = engine.PatternType(patternType)
	p.LastSeen = fromMillis(lastSeen)
	if err := json.Unmarshal([]byte(relatedJSON), &p.RelatedIDs); err != nil {
		return engine.Pattern{}, fmt.Errorf("decode related ids: %w", err)
	}
	return p, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var _ engine.PatternStore = (*Store)(nil)
