package index

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/freightdesk/contract-agent/database"
	"github.com/freightdesk/contract-agent/embeddings"
)

// Postgres is a durable index backed by one pgvector table per collection.
// Each Add runs in a single transaction, so readers never see a partial
// batch and a failed Add leaves nothing behind.
type Postgres struct {
	pool       *pgxpool.Pool
	embedder   embeddings.Embedder
	collection string
	dimension  int
}

func NewPostgres(ctx context.Context, pool *pgxpool.Pool, embedder embeddings.Embedder, collection string, dimension int) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if err := database.EnsureCollection(ctx, pool, collection, dimension); err != nil {
		return nil, fmt.Errorf("ensure collection: %w", err)
	}

	return &Postgres{
		pool:       pool,
		embedder:   embedder,
		collection: collection,
		dimension:  dimension,
	}, nil
}

func (p *Postgres) Add(ctx context.Context, entries []Entry) (err error) {
	if len(entries) == 0 {
		return nil
	}
	if p.embedder == nil {
		return fmt.Errorf("embedder is not configured")
	}

	texts := make([]string, len(entries))
	for i, entry := range entries {
		texts[i] = entry.Text
	}

	vectors, embedErr := p.embedder.Embed(ctx, texts)
	if embedErr != nil {
		return fmt.Errorf("embed chunks: %w", embedErr)
	}
	if len(vectors) != len(entries) {
		return fmt.Errorf("embedding count mismatch: have %d chunks, %d vectors", len(entries), len(vectors))
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// Re-ingesting a document replaces its chunks: stale rows go away inside
	// the same transaction, so readers never see a mixed version.
	deleteStmt := fmt.Sprintf("DELETE FROM %s WHERE document = ANY($1)", p.collection)
	if _, err = tx.Exec(ctx, deleteStmt, batchDocuments(entries)); err != nil {
		return fmt.Errorf("delete existing document chunks: %w", err)
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, document, chunk_index, format, char_count, word_count, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.collection)

	for i, entry := range entries {
		meta := entry.Metadata
		if _, err = tx.Exec(ctx, stmt,
			entryID(meta), meta.Document, meta.ChunkIndex, meta.Format,
			meta.CharCount, meta.WordCount, entry.Text, pgvector.NewVector(vectors[i]),
		); err != nil {
			return fmt.Errorf("insert chunk %d of %s: %w", meta.ChunkIndex, meta.Document, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (p *Postgres) Search(ctx context.Context, query string, topK int, filter *Filter) ([]Result, error) {
	if topK <= 0 {
		topK = 4
	}

	count, err := p.Count(ctx)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return []Result{}, nil
	}

	vectors, err := p.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedder returned no vectors")
	}

	args := []any{pgvector.NewVector(vectors[0]), topK}
	where := ""
	if filter != nil {
		if filter.Document != "" {
			args = append(args, filter.Document)
			where += fmt.Sprintf(" AND document = $%d", len(args))
		}
		if filter.Format != "" {
			args = append(args, filter.Format)
			where += fmt.Sprintf(" AND format = $%d", len(args))
		}
	}

	// <=> is cosine distance; position breaks ties in insertion order.
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, document, chunk_index, format, char_count, word_count, content,
		       (embedding <=> $1) AS distance
		FROM %s
		WHERE TRUE%s
		ORDER BY embedding <=> $1, position
		LIMIT $2
	`, p.collection, where), args...)
	if err != nil {
		return nil, fmt.Errorf("query similar chunks: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0, topK)
	for rows.Next() {
		var (
			item     Result
			distance float64
		)
		if scanErr := rows.Scan(
			&item.ID, &item.Metadata.Document, &item.Metadata.ChunkIndex, &item.Metadata.Format,
			&item.Metadata.CharCount, &item.Metadata.WordCount, &item.Text, &distance,
		); scanErr != nil {
			return nil, fmt.Errorf("scan similar chunk: %w", scanErr)
		}
		item.Score = 1 - distance
		results = append(results, item)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return results, nil
}

func (p *Postgres) Count(ctx context.Context) (int, error) {
	var count int
	if err := p.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", p.collection)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count collection rows: %w", err)
	}
	return count, nil
}

func (p *Postgres) Clear(ctx context.Context) error {
	if err := database.DropCollection(ctx, p.pool, p.collection); err != nil {
		return err
	}
	if err := database.EnsureCollection(ctx, p.pool, p.collection, p.dimension); err != nil {
		return fmt.Errorf("recreate collection: %w", err)
	}
	return nil
}

var _ Index = (*Postgres)(nil)
