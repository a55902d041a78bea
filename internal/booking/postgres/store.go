// Package postgres provides a PostgreSQL-backed implementation of
// [booking.Store]. Table and column names are validated before they are
// interpolated; values always travel as bound parameters.
package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxgate/voxgate/internal/booking"
)

// Compile-time interface check.
var _ booking.Store = (*Store)(nil)

// Store executes agent table operations against PostgreSQL.
type Store struct {
	pool    *pgxpool.Pool
	allowed []string
}

// NewStore creates a store over the given pool, restricted to the
// allowlisted tables. The tables themselves are expected to exist; the agent
// never creates schema.
func NewStore(ctx context.Context, dsn string, tables []string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("booking postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("booking postgres: ping: %w", err)
	}
	return &Store{pool: pool, allowed: append([]string(nil), tables...)}, nil
}

// NewStoreWithPool wraps an existing pool, sharing it with other components.
func NewStoreWithPool(pool *pgxpool.Pool, tables []string) *Store {
	return &Store{pool: pool, allowed: append([]string(nil), tables...)}
}

// Tables implements [booking.Store].
func (s *Store) Tables() []string {
	return append([]string(nil), s.allowed...)
}

// Query implements [booking.Store].
func (s *Store) Query(ctx context.Context, table string, filters map[string]any) ([]booking.Row, error) {
	if err := s.check(table, filters); err != nil {
		return nil, err
	}

	var args []any
	where := whereClause(filters, &args)
	q := fmt.Sprintf(`SELECT * FROM %s%s ORDER BY 1`, table, where)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("booking: query %s: %w", table, err)
	}
	out, err := pgx.CollectRows(rows, collectRow)
	if err != nil {
		return nil, fmt.Errorf("booking: scan %s: %w", table, err)
	}
	if out == nil {
		out = []booking.Row{}
	}
	return out, nil
}

// Insert implements [booking.Store].
func (s *Store) Insert(ctx context.Context, table string, values map[string]any) (booking.Row, error) {
	if err := s.check(table, values); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("booking: insert into %s: no values", table)
	}

	cols := sortedKeys(values)
	args := make([]any, 0, len(cols))
	placeholders := make([]string, 0, len(cols))
	for _, c := range cols {
		args = append(args, values[c])
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING *`,
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("booking: insert into %s: %w", table, err)
	}
	row, err := pgx.CollectOneRow(rows, collectRow)
	if err != nil {
		return nil, fmt.Errorf("booking: insert into %s: %w", table, err)
	}
	return row, nil
}

// Update implements [booking.Store].
func (s *Store) Update(ctx context.Context, table string, filters, values map[string]any) (int64, error) {
	if err := s.check(table, filters, values); err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("booking: update %s: no values", table)
	}

	var args []any
	sets := make([]string, 0, len(values))
	for _, c := range sortedKeys(values) {
		args = append(args, values[c])
		sets = append(sets, fmt.Sprintf("%s = $%d", c, len(args)))
	}
	where := whereClause(filters, &args)

	q := fmt.Sprintf(`UPDATE %s SET %s%s`, table, strings.Join(sets, ", "), where)
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("booking: update %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

// Delete implements [booking.Store].
func (s *Store) Delete(ctx context.Context, table string, filters map[string]any) (int64, error) {
	if err := s.check(table, filters); err != nil {
		return 0, err
	}

	var args []any
	where := whereClause(filters, &args)
	q := fmt.Sprintf(`DELETE FROM %s%s`, table, where)

	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("booking: delete from %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) check(table string, colMaps ...map[string]any) error {
	if err := booking.CheckTable(s.allowed, table); err != nil {
		return err
	}
	return booking.CheckColumns(colMaps...)
}

// whereClause renders AND-combined equality conditions, appending bound
// values to args. Returns "" for an empty filter map.
func whereClause(filters map[string]any, args *[]any) string {
	if len(filters) == 0 {
		return ""
	}
	conds := make([]string, 0, len(filters))
	for _, c := range sortedKeys(filters) {
		*args = append(*args, filters[c])
		conds = append(conds, fmt.Sprintf("%s = $%d", c, len(*args)))
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// collectRow turns a pgx row into a column-keyed map.
func collectRow(row pgx.CollectableRow) (booking.Row, error) {
	values, err := row.Values()
	if err != nil {
		return nil, err
	}
	out := make(booking.Row, len(values))
	for i, fd := range row.FieldDescriptions() {
		out[fd.Name] = values[i]
	}
	return out, nil
}

// sortedKeys returns the map keys in a stable order so generated SQL is
// deterministic.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
