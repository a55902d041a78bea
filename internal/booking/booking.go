// Package booking is the table store behind the voice agent's tools. The
// agent may only touch tables from the configured allowlist, and every
// identifier it supplies is validated before it reaches SQL.
package booking

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrTableNotAllowed is returned when the agent names a table outside the
// configured allowlist.
var ErrTableNotAllowed = errors.New("booking: table not allowed")

// ErrBadIdentifier is returned when a table or column name is not a plain
// SQL identifier. Identifiers come from model output and are never
// interpolated unchecked.
var ErrBadIdentifier = errors.New("booking: invalid identifier")

// Row is one table row keyed by column name.
type Row map[string]any

// Store executes the agent's table operations.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Query returns rows matching every filter (equality, AND-combined).
	// An empty filter map returns all rows. The result is never nil.
	Query(ctx context.Context, table string, filters map[string]any) ([]Row, error)

	// Insert adds one row and returns it as stored (including any
	// generated id column).
	Insert(ctx context.Context, table string, values map[string]any) (Row, error)

	// Update sets values on every row matching the filters and returns the
	// number of rows changed.
	Update(ctx context.Context, table string, filters, values map[string]any) (int64, error)

	// Delete removes every row matching the filters and returns the number
	// of rows removed.
	Delete(ctx context.Context, table string, filters map[string]any) (int64, error)

	// Tables lists the allowlisted table names.
	Tables() []string
}

var identifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidIdentifier reports whether name is a plain SQL identifier.
func ValidIdentifier(name string) bool {
	return identifierRe.MatchString(name)
}

// CheckTable validates the table name against the allowlist.
func CheckTable(allowed []string, table string) error {
	if !ValidIdentifier(table) {
		return fmt.Errorf("%w: %q", ErrBadIdentifier, table)
	}
	for _, t := range allowed {
		if t == table {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrTableNotAllowed, table)
}

// CheckColumns validates every key of the given maps.
func CheckColumns(maps ...map[string]any) error {
	for _, m := range maps {
		for col := range m {
			if !ValidIdentifier(col) {
				return fmt.Errorf("%w: column %q", ErrBadIdentifier, col)
			}
		}
	}
	return nil
}
