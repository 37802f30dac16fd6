package database

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
)

var collectionNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidCollectionName reports whether name is safe to use as a table name.
func ValidCollectionName(name string) bool {
	return collectionNamePattern.MatchString(name)
}

// EnsureCollection creates the table and indexes backing one embedding
// collection if they do not exist yet.
func EnsureCollection(ctx context.Context, pool *pgxpool.Pool, collection string, dimension int) error {
	if !ValidCollectionName(collection) {
		return fmt.Errorf("invalid collection name: %q", collection)
	}
	if dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}

	for _, stmt := range collectionStatements(collection, dimension) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}

	return nil
}

// DropCollection removes a collection's table entirely.
func DropCollection(ctx context.Context, pool *pgxpool.Pool, collection string) error {
	if !ValidCollectionName(collection) {
		return fmt.Errorf("invalid collection name: %q", collection)
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", collection)); err != nil {
		return fmt.Errorf("drop collection table: %w", err)
	}
	return nil
}

func collectionStatements(collection string, dimension int) []string {
	return []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			position BIGSERIAL,
			document TEXT NOT NULL,
			chunk_index INT NOT NULL,
			format TEXT NOT NULL DEFAULT '',
			char_count INT NOT NULL,
			word_count INT NOT NULL,
			content TEXT NOT NULL,
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(document, chunk_index)
		)`, collection, dimension),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_document ON %s(document)", collection, collection),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s USING ivfflat (embedding vector_cosine_ops)", collection, collection),
	}
}
