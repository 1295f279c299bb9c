// Package postgres provides a PostgreSQL-backed knowledge excerpt store with
// pgvector similarity search.
//
// Excerpts are stored pre-embedded; Retrieve embeds the query with the
// configured embeddings provider and runs a cosine nearest-neighbour search.
// The pgvector extension must be available in the target database; [Migrate]
// installs it via CREATE EXTENSION IF NOT EXISTS.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/docground/docground/internal/knowledge"
	"github.com/docground/docground/pkg/provider/embeddings"
	"github.com/docground/docground/pkg/types"
)

var _ knowledge.Provider = (*Store)(nil)

// Store is a knowledge.Provider backed by an excerpts table with a pgvector
// HNSW index. All methods are safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
}

// NewStore establishes a connection pool to the PostgreSQL database at dsn,
// registers pgvector types on every connection, and runs [Migrate].
//
// The embedder's Dimensions must match the dimension used when the excerpts
// table was first created; changing models later requires a manual schema
// change and re-indexing.
func NewStore(ctx context.Context, dsn string, embedder embeddings.Provider) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("knowledge store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so vector columns can be
	// scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("knowledge store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("knowledge store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embedder.Dimensions()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("knowledge store: migrate: %w", err)
	}

	return &Store{pool: pool, embedder: embedder}, nil
}

// Migrate ensures the pgvector extension, the excerpts table and its HNSW
// index exist. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("knowledge store: invalid embedding dimensions %d", embeddingDimensions)
	}

	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS knowledge_excerpts (
    id             TEXT         PRIMARY KEY,
    text           TEXT         NOT NULL,
    source_locator TEXT         NOT NULL DEFAULT '',
    embedding      VECTOR(%d)   NOT NULL,
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
)`, embeddingDimensions),
		`CREATE INDEX IF NOT EXISTS idx_knowledge_excerpts_embedding
    ON knowledge_excerpts USING hnsw (embedding vector_cosine_ops)`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("knowledge store: migrate: %w", err)
		}
	}
	return nil
}

// Index embeds the excerpt text and upserts it. An excerpt with the same ID
// is completely replaced.
func (s *Store) Index(ctx context.Context, excerpt types.KnowledgeExcerpt) error {
	vec, err := s.embedder.Embed(ctx, excerpt.Text)
	if err != nil {
		return fmt.Errorf("knowledge store: embed excerpt: %w", err)
	}

	const q = `
		INSERT INTO knowledge_excerpts (id, text, source_locator, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
		    text           = EXCLUDED.text,
		    source_locator = EXCLUDED.source_locator,
		    embedding      = EXCLUDED.embedding`

	if _, err := s.pool.Exec(ctx, q, excerpt.ID, excerpt.Text, excerpt.SourceLocator, pgvector.NewVector(vec)); err != nil {
		return fmt.Errorf("knowledge store: index excerpt: %w", err)
	}
	return nil
}

// Retrieve implements knowledge.Provider. It embeds the query and returns the
// limit closest excerpts by cosine distance, most similar first. Relevance is
// 1 - distance, clamped to [0, 1].
func (s *Store) Retrieve(ctx context.Context, query string, limit int) ([]types.KnowledgeExcerpt, error) {
	if limit <= 0 {
		return nil, nil
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("knowledge store: embed query: %w", err)
	}

	const q = `
		SELECT id, text, source_locator, embedding <=> $1 AS distance
		FROM   knowledge_excerpts
		ORDER  BY distance
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(queryVec), limit)
	if err != nil {
		return nil, fmt.Errorf("knowledge store: search: %w", err)
	}

	excerpts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.KnowledgeExcerpt, error) {
		var (
			e        types.KnowledgeExcerpt
			distance float64
		)
		if err := row.Scan(&e.ID, &e.Text, &e.SourceLocator, &distance); err != nil {
			return types.KnowledgeExcerpt{}, err
		}
		e.Relevance = 1 - distance
		if e.Relevance < 0 {
			e.Relevance = 0
		}
		if e.Relevance > 1 {
			e.Relevance = 1
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge store: scan rows: %w", err)
	}
	if excerpts == nil {
		excerpts = []types.KnowledgeExcerpt{}
	}
	return excerpts, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
