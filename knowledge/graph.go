// Package knowledge maintains the provenance graph: which documents were
// ingested, which chunks they produced, and how they relate.
package knowledge

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/freightdesk/contract-agent/chunker"
	"github.com/freightdesk/contract-agent/ingestion"
)

// Graph stores document provenance in Neo4j and answers chunk-count
// lookups for citation enrichment.
type Graph struct {
	driver neo4j.DriverWithContext
}

func NewGraph(driver neo4j.DriverWithContext) *Graph {
	return &Graph{driver: driver}
}

// SyncDocument upserts the document node and replaces its chunk nodes so a
// re-ingest never leaves stale chunks behind.
func (g *Graph) SyncDocument(ctx context.Context, doc ingestion.Document, chunks []chunker.Chunk) error {
	if g.driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (d:Document {name: $name})
			SET d.format = $format,
			    d.chunk_count = $chunk_count,
			    d.updated_at = datetime()
		`, map[string]any{
			"name":        doc.Name,
			"format":      string(doc.Format),
			"chunk_count": len(chunks),
		}); err != nil {
			return nil, fmt.Errorf("upsert document node: %w", err)
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {name: $name})-[:HAS_CHUNK]->(c:Chunk)
			DETACH DELETE c
		`, map[string]any{"name": doc.Name}); err != nil {
			return nil, fmt.Errorf("clear existing chunks: %w", err)
		}

		for _, chunk := range chunks {
			if _, err := tx.Run(ctx, `
				MATCH (d:Document {name: $name})
				MERGE (c:Chunk {document: $name, index: $index})
				SET c.char_count = $char_count,
				    c.word_count = $word_count
				MERGE (d)-[:HAS_CHUNK {index: $index}]->(c)
			`, map[string]any{
				"name":       doc.Name,
				"index":      chunk.Index,
				"char_count": chunk.CharCount,
				"word_count": chunk.WordCount,
			}); err != nil {
				return nil, fmt.Errorf("upsert chunk node %d: %w", chunk.Index, err)
			}
		}

		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("sync document %s: %w", doc.Name, err)
	}

	return nil
}

// ChunkCounts returns the number of chunks recorded for each named document.
// Documents absent from the graph are omitted from the result.
func (g *Graph) ChunkCounts(ctx context.Context, documents []string) (map[string]int, error) {
	if g.driver == nil {
		return nil, fmt.Errorf("neo4j driver is nil")
	}
	if len(documents) == 0 {
		return map[string]int{}, nil
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (d:Document)
		WHERE d.name IN $names
		OPTIONAL MATCH (d)-[:HAS_CHUNK]->(c:Chunk)
		RETURN d.name AS name, count(c) AS chunks
	`, map[string]any{"names": documents})
	if err != nil {
		return nil, fmt.Errorf("run chunk count query: %w", err)
	}

	counts := make(map[string]int, len(documents))
	for result.Next(ctx) {
		record := result.Record()
		nameVal, _ := record.Get("name")
		countVal, _ := record.Get("chunks")

		name, ok := nameVal.(string)
		if !ok {
			continue
		}
		switch v := countVal.(type) {
		case int64:
			counts[name] = int(v)
		case int32:
			counts[name] = int(v)
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("chunk count result: %w", err)
	}

	return counts, nil
}

// Clear removes every document and chunk node from the graph.
func (g *Graph) Clear(ctx context.Context) error {
	if g.driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `MATCH (c:Chunk) DETACH DELETE c`, nil); err != nil {
			return nil, fmt.Errorf("delete chunk nodes: %w", err)
		}
		if _, err := tx.Run(ctx, `MATCH (d:Document) DETACH DELETE d`, nil); err != nil {
			return nil, fmt.Errorf("delete document nodes: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("clear knowledge graph: %w", err)
	}

	return nil
}

var _ ingestion.GraphSyncer = (*Graph)(nil)
