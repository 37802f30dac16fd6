package ingestion

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// DocumentPayload is one uploaded file: a filename plus raw bytes.
type DocumentPayload struct {
	Name string
	Data []byte
}

// Document is the immutable result of extraction: the identifier, the plain
// text, and the source format tag. Chunks reference documents by Name.
type Document struct {
	Name   string
	Text   string
	Format DocumentFormat
}

// DocumentParser extracts plain text from one payload format.
type DocumentParser interface {
	Parse(ctx context.Context, payload DocumentPayload) (Document, error)
}

// ParserFor returns the parser for a detected format, or an error for
// unsupported formats.
func ParserFor(format DocumentFormat) (DocumentParser, error) {
	switch format {
	case FormatPDF:
		return pdfParser{}, nil
	case FormatSpreadsheet:
		return csvParser{}, nil
	case FormatText:
		return textParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported document format")
	}
}

type textParser struct{}

func (textParser) Parse(_ context.Context, payload DocumentPayload) (Document, error) {
	return Document{
		Name:   payload.Name,
		Text:   normalizePlainText(string(payload.Data)),
		Format: FormatText,
	}, nil
}

type pdfParser struct{}

func (pdfParser) Parse(_ context.Context, payload DocumentPayload) (Document, error) {
	reader, err := pdf.NewReader(bytes.NewReader(payload.Data), int64(len(payload.Data)))
	if err != nil {
		return Document{}, fmt.Errorf("open pdf: %w", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return Document{}, fmt.Errorf("extract pdf text: %w", err)
	}

	buf := &bytes.Buffer{}
	if _, err := io.Copy(buf, plain); err != nil {
		return Document{}, fmt.Errorf("read pdf text: %w", err)
	}

	return Document{
		Name:   payload.Name,
		Text:   normalizePlainText(buf.String()),
		Format: FormatPDF,
	}, nil
}

type csvParser struct{}

// Parse flattens each row into "Header: value" lines so rate tables and KPI
// matrices stay searchable as text.
func (csvParser) Parse(_ context.Context, payload DocumentPayload) (Document, error) {
	reader := csv.NewReader(bytes.NewReader(payload.Data))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return Document{}, fmt.Errorf("parse csv: %w", err)
	}

	if len(records) == 0 {
		return Document{Name: payload.Name, Format: FormatSpreadsheet}, nil
	}

	headers := records[0]
	rows := records[1:]

	blocks := make([]string, 0, len(rows))
	for idx, row := range rows {
		blocks = append(blocks, formatCSVRow(headers, row, idx))
	}

	return Document{
		Name:   payload.Name,
		Text:   strings.Join(blocks, "\n\n"),
		Format: FormatSpreadsheet,
	}, nil
}

func formatCSVRow(headers, row []string, idx int) string {
	builder := &strings.Builder{}
	builder.WriteString(fmt.Sprintf("Row %d", idx+1))

	limit := len(headers)
	if len(row) < limit {
		limit = len(row)
	}

	for i := 0; i < limit; i++ {
		header := strings.TrimSpace(headers[i])
		value := strings.TrimSpace(row[i])
		if header == "" {
			header = fmt.Sprintf("Column %d", i+1)
		}
		builder.WriteString("\n")
		builder.WriteString(header)
		builder.WriteString(": ")
		builder.WriteString(value)
	}

	// Values beyond the header count are kept, not dropped.
	for i := len(headers); i < len(row); i++ {
		builder.WriteString("\n")
		builder.WriteString(fmt.Sprintf("Extra %d: %s", i+1, strings.TrimSpace(row[i])))
	}

	return builder.String()
}

func normalizePlainText(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}
