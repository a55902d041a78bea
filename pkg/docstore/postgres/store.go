// Package postgres provides a PostgreSQL-backed implementation of
// [docstore.Index] using the pgvector extension.
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Upsert(ctx, passage)
//	hits, _ := store.Search(ctx, queryVec, 5, "handbook.pdf")
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/voxgate/voxgate/pkg/docstore"
)

// Compile-time interface check.
var _ docstore.Index = (*Store)(nil)

// Store is a pgvector-backed passage index. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every connection,
// and runs [Migrate] to ensure the passages table and vector extension exist.
//
// embeddingDimensions must match the output dimension of the embedding model
// used to produce [docstore.Passage.Embedding] values (e.g., 1536 for OpenAI
// text-embedding-3-small). Changing this value after the first migration
// requires a manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("docstore postgres: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("docstore postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("docstore postgres: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("docstore postgres: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Pool exposes the underlying connection pool so other stores in the same
// database (the booking tables) can share it.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// ddlPassages returns the passages DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlPassages(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS passages (
    id          TEXT         PRIMARY KEY,
    document    TEXT         NOT NULL,
    content     TEXT         NOT NULL,
    embedding   vector(%d),
    position    INTEGER      NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_passages_document
    ON passages (document);

CREATE INDEX IF NOT EXISTS idx_passages_embedding
    ON passages USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures the passages table and vector extension exist.
// It is idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlPassages(embeddingDimensions)); err != nil {
		return fmt.Errorf("docstore migrate: %w", err)
	}
	return nil
}

// Upsert implements [docstore.Index]. If a passage with the same ID already
// exists it is completely replaced.
func (s *Store) Upsert(ctx context.Context, p docstore.Passage) error {
	const q = `
		INSERT INTO passages
		    (id, document, content, embedding, position, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
		    document   = EXCLUDED.document,
		    content    = EXCLUDED.content,
		    embedding  = EXCLUDED.embedding,
		    position   = EXCLUDED.position,
		    created_at = EXCLUDED.created_at`

	vec := pgvector.NewVector(p.Embedding)
	_, err := s.pool.Exec(ctx, q,
		p.ID,
		p.Document,
		p.Content,
		vec,
		p.Position,
		p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("docstore: upsert passage: %w", err)
	}
	return nil
}

// Search implements [docstore.Index]. It finds the topK passages whose
// embeddings are closest (cosine distance) to the supplied query embedding,
// optionally restricted to a single document.
//
// Results are ordered by ascending cosine distance (most similar first).
func (s *Store) Search(ctx context.Context, embedding []float32, topK int, document string) ([]docstore.PassageResult, error) {
	queryVec := pgvector.NewVector(embedding)

	args := []any{queryVec} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	whereClause := ""
	if document != "" {
		whereClause = "WHERE document = " + next(document)
	}

	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, document, content, embedding, position, created_at,
		       embedding <=> $1 AS distance
		FROM   passages
		%s
		ORDER  BY distance
		LIMIT  %s`, whereClause, limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("docstore: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (docstore.PassageResult, error) {
		var (
			pr  docstore.PassageResult
			vec pgvector.Vector
		)
		if err := row.Scan(
			&pr.Passage.ID,
			&pr.Passage.Document,
			&pr.Passage.Content,
			&vec,
			&pr.Passage.Position,
			&pr.Passage.CreatedAt,
			&pr.Distance,
		); err != nil {
			return docstore.PassageResult{}, err
		}
		pr.Passage.Embedding = vec.Slice()
		return pr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("docstore: scan rows: %w", err)
	}
	if results == nil {
		results = []docstore.PassageResult{}
	}
	return results, nil
}

// ListDocuments implements [docstore.Index]. It returns the distinct document
// names in the index, sorted alphabetically.
func (s *Store) ListDocuments(ctx context.Context) ([]string, error) {
	const q = `SELECT DISTINCT document FROM passages ORDER BY document`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("docstore: list documents: %w", err)
	}

	names, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var name string
		err := row.Scan(&name)
		return name, err
	})
	if err != nil {
		return nil, fmt.Errorf("docstore: scan documents: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
