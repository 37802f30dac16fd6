package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/freightdesk/contract-agent/agent"
	"github.com/freightdesk/contract-agent/ingestion"
)

type stubIngestor struct {
	report   ingestion.Report
	received []ingestion.DocumentPayload
}

func (s *stubIngestor) IngestDocuments(ctx context.Context, payloads []ingestion.DocumentPayload) ingestion.Report {
	s.received = payloads
	return s.report
}

var _ Ingestor = (*stubIngestor)(nil)

type stubAsker struct {
	answer agent.Answer
	deltas []string
	err    error
}

func (s *stubAsker) Ask(ctx context.Context, threadID, question string) (agent.Answer, error) {
	return s.answer, s.err
}

func (s *stubAsker) AskStream(ctx context.Context, threadID, question string, fn func(string) error) (agent.Answer, error) {
	if s.err != nil {
		return agent.Answer{}, s.err
	}
	for _, delta := range s.deltas {
		if err := fn(delta); err != nil {
			return agent.Answer{}, err
		}
	}
	return s.answer, nil
}

var _ Asker = (*stubAsker)(nil)

type stubWiper struct {
	cleared bool
	err     error
}

func (s *stubWiper) Clear(ctx context.Context) error {
	if s.err != nil {
		return s.err
	}
	s.cleared = true
	return nil
}

var _ Wiper = (*stubWiper)(nil)

func testServer(ingestor Ingestor, asker Asker, wipers ...Wiper) *Server {
	return New(ingestor, asker, log.New(io.Discard, "", 0), wipers...)
}

func TestHealthz(t *testing.T) {
	srv := testServer(&stubIngestor{}, &stubAsker{})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestIngestHandler(t *testing.T) {
	ingestor := &stubIngestor{report: ingestion.Report{Documents: []ingestion.DocumentReport{
		{Name: "terms.txt", Format: ingestion.FormatText, Chunks: 3},
	}}}
	srv := testServer(ingestor, &stubAsker{})

	body := `{"documents":[{"name":"terms.txt","text":"Payment due Net 30 days."}]}`
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(ingestor.received) != 1 || ingestor.received[0].Name != "terms.txt" {
		t.Fatalf("payload not forwarded: %+v", ingestor.received)
	}

	var resp ingestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Chunks != 3 || resp.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", resp)
	}
}

func TestIngestPartialFailureReturnsMultiStatus(t *testing.T) {
	ingestor := &stubIngestor{report: ingestion.Report{Documents: []ingestion.DocumentReport{
		{Name: "good.txt", Format: ingestion.FormatText, Chunks: 1},
		{Name: "bad.png", Err: errors.New("unsupported document format")},
	}}}
	srv := testServer(ingestor, &stubAsker{})

	body := `{"documents":[{"name":"good.txt","text":"x"},{"name":"bad.png","text":"y"}]}`
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(body)))

	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("expected 207, got %d", rec.Code)
	}

	var resp ingestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Failed != 1 {
		t.Fatalf("expected 1 failed document, got %d", resp.Failed)
	}
	if resp.Documents[1].Error == "" {
		t.Fatal("failed document must carry its error message")
	}
}

func TestIngestRejectsEmptyBatch(t *testing.T) {
	srv := testServer(&stubIngestor{}, &stubAsker{})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(`{"documents":[]}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestQueryHandler(t *testing.T) {
	asker := &stubAsker{answer: agent.Answer{
		Text:   "The payment terms are Net 30 days.",
		Stage:  agent.StageAnalyst,
		Intent: agent.IntentSpecific,
		Citations: []agent.Citation{
			{Document: "terms.txt", ChunkIndex: 0, Score: 0.91, TotalChunks: 3},
		},
	}}
	srv := testServer(&stubIngestor{}, asker)

	body := `{"threadId":"t1","question":"What are payment terms?"}`
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp queryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Stage != "analyst" || resp.Intent != "specific" {
		t.Fatalf("unexpected routing metadata: %+v", resp)
	}
	if len(resp.Citations) != 1 || resp.Citations[0].Document != "terms.txt" {
		t.Fatalf("citations not carried: %+v", resp.Citations)
	}
}

func TestQueryRequiresQuestion(t *testing.T) {
	srv := testServer(&stubIngestor{}, &stubAsker{})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"threadId":"t1","question":"  "}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestQueryRejectsGet(t *testing.T) {
	srv := testServer(&stubIngestor{}, &stubAsker{})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/query", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if rec.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("Allow header missing, got %q", rec.Header().Get("Allow"))
	}
}

func TestQueryStreamWritesDeltasAndTrailer(t *testing.T) {
	asker := &stubAsker{
		deltas: []string{"The payment terms ", "are Net 30 days."},
		answer: agent.Answer{
			Text:   "The payment terms are Net 30 days.",
			Stage:  agent.StageAnalyst,
			Intent: agent.IntentSpecific,
		},
	}
	srv := testServer(&stubIngestor{}, asker)

	body := `{"threadId":"t1","question":"What are payment terms?"}`
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/query/stream", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	raw := rec.Body.String()
	text, trailer, found := strings.Cut(raw, "\n\x1e")
	if !found {
		t.Fatalf("trailer separator missing in %q", raw)
	}
	if text != "The payment terms are Net 30 days." {
		t.Fatalf("streamed text mismatch: %q", text)
	}

	var resp queryResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(trailer)), &resp); err != nil {
		t.Fatalf("decode trailer: %v", err)
	}
	if resp.Stage != "analyst" {
		t.Fatalf("trailer stage mismatch: %+v", resp)
	}
}

func TestClearRequiresConfirmation(t *testing.T) {
	wiper := &stubWiper{}
	srv := testServer(&stubIngestor{}, &stubAsker{}, wiper)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/clear", strings.NewReader(`{"confirm":false}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if wiper.cleared {
		t.Fatal("clear must not run without confirmation")
	}
}

func TestClearWipesAllStores(t *testing.T) {
	first := &stubWiper{}
	second := &stubWiper{}
	srv := testServer(&stubIngestor{}, &stubAsker{}, first, second)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/clear", strings.NewReader(`{"confirm":true}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !first.cleared || !second.cleared {
		t.Fatal("every store must be cleared")
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	srv := testServer(&stubIngestor{}, &stubAsker{})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"question":"x","bogus":true}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}
