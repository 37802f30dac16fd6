// Package index stores chunk embeddings and answers nearest-neighbor
// queries. Vectors are unit length, so similarity is the plain dot product
// (equivalently 1 minus cosine distance). Two implementations exist: a
// Postgres/pgvector collection for durable deployments and an in-memory
// brute-force store for tests and single-process runs.
package index

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Metadata describes the chunk behind a stored vector.
type Metadata struct {
	Document   string
	ChunkIndex int
	Format     string
	CharCount  int
	WordCount  int
}

// Entry is one chunk of text to be embedded and stored.
type Entry struct {
	Text     string
	Metadata Metadata
}

// Result is one retrieved chunk with its similarity score.
type Result struct {
	ID       string
	Text     string
	Metadata Metadata
	Score    float64
}

// Filter restricts a search to entries whose metadata matches every set
// field exactly. A nil filter matches everything.
type Filter struct {
	Document string
	Format   string
}

// Matches reports whether meta satisfies the filter.
func (f *Filter) Matches(meta Metadata) bool {
	if f == nil {
		return true
	}
	if f.Document != "" && meta.Document != f.Document {
		return false
	}
	if f.Format != "" && meta.Format != f.Format {
		return false
	}
	return true
}

// Index is the embedding store behind retrieval.
//
// Add persists all entries or none of them: on error the caller may assume
// nothing was written. Entries replace any previously stored chunks of the
// same document, so re-ingesting an updated document never leaves stale
// chunks behind. Search never fails on an empty index; it returns an
// empty result. Results are ordered by non-increasing score, ties kept in
// insertion order. Clear destroys the collection and recreates it empty.
type Index interface {
	Add(ctx context.Context, entries []Entry) error
	Search(ctx context.Context, query string, topK int, filter *Filter) ([]Result, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// entryID builds the stable persisted id for a chunk: document name plus
// chunk index plus a uniqueness suffix.
func entryID(meta Metadata) string {
	return fmt.Sprintf("%s:%d:%s", meta.Document, meta.ChunkIndex, uuid.New().String())
}

// batchDocuments returns the distinct document names in one Add batch.
func batchDocuments(entries []Entry) []string {
	seen := make(map[string]struct{}, 1)
	documents := make([]string, 0, 1)
	for _, entry := range entries {
		if _, ok := seen[entry.Metadata.Document]; ok {
			continue
		}
		seen[entry.Metadata.Document] = struct{}{}
		documents = append(documents, entry.Metadata.Document)
	}
	return documents
}
