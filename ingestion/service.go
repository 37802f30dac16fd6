package ingestion

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/freightdesk/contract-agent/chunker"
	"github.com/freightdesk/contract-agent/index"
)

// GraphSyncer records document/chunk provenance in the knowledge graph.
// It is optional; a nil syncer disables graph bookkeeping.
type GraphSyncer interface {
	SyncDocument(ctx context.Context, doc Document, chunks []chunker.Chunk) error
}

type Service struct {
	idx          index.Index
	graph        GraphSyncer
	logger       *log.Logger
	chunkSize    int
	chunkOverlap int
}

func NewService(idx index.Index, graph GraphSyncer, logger *log.Logger, chunkSize, chunkOverlap int) *Service {
	if logger == nil {
		logger = log.Default()
	}

	return &Service{
		idx:          idx,
		graph:        graph,
		logger:       logger,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// DocumentReport is the per-document outcome of a batch ingest.
type DocumentReport struct {
	Name   string
	Format DocumentFormat
	Chunks int
	Err    error
}

// Report collects the outcome of one ingest batch. A failed document never
// aborts the batch; the remaining documents are processed independently.
type Report struct {
	Documents []DocumentReport
}

func (r Report) Failed() int {
	failed := 0
	for _, doc := range r.Documents {
		if doc.Err != nil {
			failed++
		}
	}
	return failed
}

func (r Report) TotalChunks() int {
	total := 0
	for _, doc := range r.Documents {
		total += doc.Chunks
	}
	return total
}

// IngestDocuments parses, chunks, embeds, and persists each payload.
func (s *Service) IngestDocuments(ctx context.Context, payloads []DocumentPayload) Report {
	report := Report{Documents: make([]DocumentReport, 0, len(payloads))}

	for _, payload := range payloads {
		docReport := s.ingestOne(ctx, payload)
		if docReport.Err != nil {
			s.logger.Printf("ingest failed for %s: %v", payload.Name, docReport.Err)
		} else {
			s.logger.Printf("ingested %s (%d chunks)", payload.Name, docReport.Chunks)
		}
		report.Documents = append(report.Documents, docReport)
	}

	return report
}

func (s *Service) ingestOne(ctx context.Context, payload DocumentPayload) DocumentReport {
	format := DetectFormat(payload.Name)
	docReport := DocumentReport{Name: payload.Name, Format: format}

	if s.idx == nil {
		docReport.Err = fmt.Errorf("index is not configured")
		return docReport
	}

	parser, err := ParserFor(format)
	if err != nil {
		docReport.Err = fmt.Errorf("%w: %s", err, payload.Name)
		return docReport
	}

	doc, err := parser.Parse(ctx, payload)
	if err != nil {
		docReport.Err = fmt.Errorf("parse document: %w", err)
		return docReport
	}

	chunks := chunker.Split(doc.Name, doc.Text, s.chunkSize, s.chunkOverlap)
	if len(chunks) == 0 {
		s.logger.Printf("skip empty document %s", doc.Name)
		return docReport
	}

	entries := make([]index.Entry, len(chunks))
	for i, chunk := range chunks {
		entries[i] = index.Entry{
			Text: chunk.Text,
			Metadata: index.Metadata{
				Document:   chunk.Document,
				ChunkIndex: chunk.Index,
				Format:     string(doc.Format),
				CharCount:  chunk.CharCount,
				WordCount:  chunk.WordCount,
			},
		}
	}

	// Add is all-or-nothing: a failure here means no chunks were stored.
	if err := s.idx.Add(ctx, entries); err != nil {
		docReport.Err = fmt.Errorf("index chunks: %w", err)
		return docReport
	}

	if s.graph != nil {
		if err := s.graph.SyncDocument(ctx, doc, chunks); err != nil {
			docReport.Err = fmt.Errorf("sync provenance graph: %w", err)
			return docReport
		}
	}

	docReport.Chunks = len(chunks)
	return docReport
}

// IngestDirectory ingests every supported file under dir.
func (s *Service) IngestDirectory(ctx context.Context, dir string) (Report, error) {
	if _, err := os.Stat(dir); err != nil {
		return Report{}, fmt.Errorf("data directory: %w", err)
	}

	payloads := make([]DocumentPayload, 0)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || DetectFormat(d.Name()) == FormatUnknown {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return fmt.Errorf("read %s: %w", path, readErr)
		}
		payloads = append(payloads, DocumentPayload{Name: d.Name(), Data: data})
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("walk data directory: %w", err)
	}

	if len(payloads) == 0 {
		s.logger.Printf("no supported documents found in %s", dir)
		return Report{}, nil
	}

	return s.IngestDocuments(ctx, payloads), nil
}
