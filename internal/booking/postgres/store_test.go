package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxgate/voxgate/internal/booking"
)

// newTestStore connects to the database named by VOXGATE_TEST_POSTGRES_DSN
// and recreates the bookings table. Tests are skipped when the variable is
// unset.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("VOXGATE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOXGATE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)

	ddl := `
DROP TABLE IF EXISTS bookings;
CREATE TABLE bookings (
    id     SERIAL PRIMARY KEY,
    name   TEXT    NOT NULL,
    guests INTEGER NOT NULL DEFAULT 1
);`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		t.Fatalf("create table: %v", err)
	}

	return NewStoreWithPool(pool, []string{"bookings"})
}

func TestStore_InsertQueryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	row, err := s.Insert(ctx, "bookings", map[string]any{"name": "Ada", "guests": 2})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if row["id"] == nil {
		t.Error("expected RETURNING to include the generated id")
	}

	got, err := s.Query(ctx, "bookings", map[string]any{"name": "Ada"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d rows, want 1", len(got))
	}
}

func TestStore_UpdateAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	row, _ := s.Insert(ctx, "bookings", map[string]any{"name": "Grace", "guests": 1})

	n, err := s.Update(ctx, "bookings", map[string]any{"id": row["id"]}, map[string]any{"guests": 3})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if n != 1 {
		t.Fatalf("updated %d rows, want 1", n)
	}

	n, err = s.Delete(ctx, "bookings", map[string]any{"id": row["id"]})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted %d rows, want 1", n)
	}

	got, _ := s.Query(ctx, "bookings", nil)
	if len(got) != 0 {
		t.Errorf("rows remain after delete: %+v", got)
	}
}

func TestStore_TableAllowlistEnforced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Query(ctx, "pg_catalog", nil); !errors.Is(err, booking.ErrTableNotAllowed) {
		t.Errorf("err = %v, want ErrTableNotAllowed", err)
	}
}
