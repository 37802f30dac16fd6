// Package api exposes the HTTP surface of the contract agent: ingest,
// query, streaming query, clear, and health.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/freightdesk/contract-agent/agent"
	"github.com/freightdesk/contract-agent/ingestion"
)

// Ingestor ingests uploaded documents into the index and the graph.
type Ingestor interface {
	IngestDocuments(ctx context.Context, payloads []ingestion.DocumentPayload) ingestion.Report
}

// Asker answers contract questions, optionally streaming deltas.
type Asker interface {
	Ask(ctx context.Context, threadID, question string) (agent.Answer, error)
	AskStream(ctx context.Context, threadID, question string, fn func(delta string) error) (agent.Answer, error)
}

// Wiper removes all stored data from one backing store.
type Wiper interface {
	Clear(ctx context.Context) error
}

// Server routes HTTP requests to the pre-wired services.
type Server struct {
	ingestor Ingestor
	asker    Asker
	wipers   []Wiper
	logger   *log.Logger
	handler  http.Handler
}

func New(ingestor Ingestor, asker Asker, logger *log.Logger, wipers ...Wiper) *Server {
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{ingestor: ingestor, asker: asker, wipers: wipers, logger: logger}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/ingest", s.handleIngest)
	mux.HandleFunc("/v1/query", s.handleQuery)
	mux.HandleFunc("/v1/query/stream", s.handleQueryStream)
	mux.HandleFunc("/v1/clear", s.handleClear)
	return mux
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type ingestDocument struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

type ingestRequest struct {
	Documents []ingestDocument `json:"documents"`
}

type ingestDocumentResult struct {
	Name   string `json:"name"`
	Format string `json:"format"`
	Chunks int    `json:"chunks"`
	Error  string `json:"error,omitempty"`
}

type ingestResponse struct {
	Documents []ingestDocumentResult `json:"documents"`
	Chunks    int                    `json:"chunks"`
	Failed    int                    `json:"failed"`
}

type queryRequest struct {
	ThreadID string `json:"threadId"`
	Question string `json:"question"`
}

type queryCitation struct {
	Document    string  `json:"document"`
	ChunkIndex  int     `json:"chunkIndex"`
	Score       float64 `json:"score"`
	TotalChunks int     `json:"totalChunks,omitempty"`
}

type queryResponse struct {
	Answer    string          `json:"answer"`
	Stage     string          `json:"stage"`
	Intent    string          `json:"intent"`
	Errored   bool            `json:"errored"`
	Citations []queryCitation `json:"citations"`
}

type clearRequest struct {
	Confirm bool `json:"confirm"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if len(req.Documents) == 0 {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("at least one document is required"))
		return
	}

	payloads := make([]ingestion.DocumentPayload, len(req.Documents))
	for i, doc := range req.Documents {
		if strings.TrimSpace(doc.Name) == "" {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("document %d has no name", i))
			return
		}
		payloads[i] = ingestion.DocumentPayload{Name: doc.Name, Data: []byte(doc.Text)}
	}

	report := s.ingestor.IngestDocuments(r.Context(), payloads)

	resp := ingestResponse{
		Documents: make([]ingestDocumentResult, len(report.Documents)),
		Chunks:    report.TotalChunks(),
		Failed:    report.Failed(),
	}
	for i, doc := range report.Documents {
		resp.Documents[i] = ingestDocumentResult{
			Name:   doc.Name,
			Format: string(doc.Format),
			Chunks: doc.Chunks,
		}
		if doc.Err != nil {
			resp.Documents[i].Error = doc.Err.Error()
		}
	}

	status := http.StatusOK
	if resp.Failed > 0 {
		status = http.StatusMultiStatus
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}

	answer, err := s.asker.Ask(r.Context(), req.ThreadID, req.Question)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("query failed: %w", err))
		return
	}

	s.writeJSON(w, http.StatusOK, transformAnswer(answer))
}

// handleQueryStream writes raw text deltas as they arrive, then a final JSON
// metadata line prefixed with "\n\x1e" (record separator) carrying the stage,
// intent, and citations.
func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	answer, err := s.asker.AskStream(r.Context(), req.ThreadID, req.Question, func(delta string) error {
		if _, writeErr := io.WriteString(w, delta); writeErr != nil {
			return writeErr
		}
		if canFlush {
			flusher.Flush()
		}
		return nil
	})
	if err != nil {
		// Headers are already sent; the best we can do is log and stop.
		s.logger.Printf("stream aborted: %v", err)
		return
	}

	trailer, err := json.Marshal(transformAnswer(answer))
	if err != nil {
		s.logger.Printf("encode stream trailer: %v", err)
		return
	}
	if _, err := fmt.Fprintf(w, "\n\x1e%s\n", trailer); err != nil {
		s.logger.Printf("write stream trailer: %v", err)
		return
	}
	if canFlush {
		flusher.Flush()
	}
}

func (s *Server) decodeQuery(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return queryRequest{}, false
	}

	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return queryRequest{}, false
	}
	if strings.TrimSpace(req.Question) == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("question is required"))
		return queryRequest{}, false
	}
	if req.ThreadID == "" {
		req.ThreadID = "default"
	}

	return req, true
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req clearRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if !req.Confirm {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("confirm must be true to clear data"))
		return
	}

	for _, wiper := range s.wipers {
		if err := wiper.Clear(r.Context()); err != nil {
			s.writeError(w, http.StatusInternalServerError, fmt.Errorf("clear stored data: %w", err))
			return
		}
	}

	s.logger.Println("stored contract data cleared")
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "contract data cleared"})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed, use %s", allowed))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Printf("http %d: %v", status, err)
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}

func transformAnswer(answer agent.Answer) queryResponse {
	resp := queryResponse{
		Answer:    answer.Text,
		Stage:     answer.Stage.String(),
		Intent:    answer.Intent.String(),
		Errored:   answer.Errored,
		Citations: make([]queryCitation, len(answer.Citations)),
	}
	for i, c := range answer.Citations {
		resp.Citations[i] = queryCitation{
			Document:    c.Document,
			ChunkIndex:  c.ChunkIndex,
			Score:       c.Score,
			TotalChunks: c.TotalChunks,
		}
	}
	return resp
}
