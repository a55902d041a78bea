package booking

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps tables in process memory. It backs tests and deployments
// without a database; rows get a synthetic integer "id" column.
type MemoryStore struct {
	mu     sync.Mutex
	tables map[string][]Row
	nextID int64

	allowed []string
}

// NewMemoryStore creates a store for the given allowlisted tables.
func NewMemoryStore(tables []string) *MemoryStore {
	s := &MemoryStore{
		tables:  make(map[string][]Row, len(tables)),
		nextID:  1,
		allowed: slices.Clone(tables),
	}
	for _, t := range tables {
		s.tables[t] = nil
	}
	return s
}

// Tables implements [Store].
func (s *MemoryStore) Tables() []string {
	return slices.Clone(s.allowed)
}

// Query implements [Store].
func (s *MemoryStore) Query(_ context.Context, table string, filters map[string]any) ([]Row, error) {
	if err := s.check(table, filters); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []Row{}
	for _, row := range s.tables[table] {
		if rowMatches(row, filters) {
			out = append(out, maps.Clone(row))
		}
	}
	return out, nil
}

// Insert implements [Store].
func (s *MemoryStore) Insert(_ context.Context, table string, values map[string]any) (Row, error) {
	if err := s.check(table, values); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row := maps.Clone(Row(values))
	if row == nil {
		row = Row{}
	}
	if _, ok := row["id"]; !ok {
		row["id"] = s.nextID
		s.nextID++
	}
	s.tables[table] = append(s.tables[table], row)
	return maps.Clone(row), nil
}

// Update implements [Store].
func (s *MemoryStore) Update(_ context.Context, table string, filters, values map[string]any) (int64, error) {
	if err := s.check(table, filters, values); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, row := range s.tables[table] {
		if rowMatches(row, filters) {
			for k, v := range values {
				row[k] = v
			}
			n++
		}
	}
	return n, nil
}

// Delete implements [Store].
func (s *MemoryStore) Delete(_ context.Context, table string, filters map[string]any) (int64, error) {
	if err := s.check(table, filters); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []Row
	var n int64
	for _, row := range s.tables[table] {
		if rowMatches(row, filters) {
			n++
			continue
		}
		kept = append(kept, row)
	}
	s.tables[table] = kept
	return n, nil
}

func (s *MemoryStore) check(table string, colMaps ...map[string]any) error {
	if err := CheckTable(s.allowed, table); err != nil {
		return err
	}
	return CheckColumns(colMaps...)
}

// rowMatches reports whether row satisfies every equality filter. Values are
// compared by their string form so that LLM-supplied "2" matches a stored 2.
func rowMatches(row Row, filters map[string]any) bool {
	for k, want := range filters {
		got, ok := row[k]
		if !ok {
			return false
		}
		if !looseEqual(got, want) {
			return false
		}
	}
	return true
}

func looseEqual(a, b any) bool {
	if a == b {
		return true
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
