// Package ingestion turns uploaded contract documents into indexed,
// retrievable chunks: format detection, text extraction, chunking, and
// persistence to the embedding index and the provenance graph.
package ingestion

import (
	"path/filepath"
	"strings"
)

// DocumentFormat tags the source format of an ingested document.
type DocumentFormat string

const (
	// FormatUnknown represents an unsupported or undetected format.
	FormatUnknown DocumentFormat = ""
	// FormatPDF represents PDF documents.
	FormatPDF DocumentFormat = "pdf"
	// FormatSpreadsheet represents tabular documents (CSV exports).
	FormatSpreadsheet DocumentFormat = "spreadsheet"
	// FormatText represents plain text and markdown documents.
	FormatText DocumentFormat = "text"
)

// DetectFormat infers a document format from the filename extension.
func DetectFormat(name string) DocumentFormat {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".pdf":
		return FormatPDF
	case ".csv":
		return FormatSpreadsheet
	case ".txt", ".md", ".markdown", ".text":
		return FormatText
	default:
		return FormatUnknown
	}
}
