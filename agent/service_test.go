package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/freightdesk/contract-agent/index"
	"github.com/freightdesk/contract-agent/llm"
)

type stubIndex struct {
	results     []index.Result
	err         error
	searchCalls int
	lastFilter  *index.Filter
}

func (s *stubIndex) Add(ctx context.Context, entries []index.Entry) error { return nil }

func (s *stubIndex) Search(ctx context.Context, query string, topK int, filter *index.Filter) ([]index.Result, error) {
	s.searchCalls++
	s.lastFilter = filter
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

func (s *stubIndex) Count(ctx context.Context) (int, error) { return len(s.results), nil }
func (s *stubIndex) Clear(ctx context.Context) error        { return nil }

var _ index.Index = (*stubIndex)(nil)

type stubLLM struct {
	answer        string
	err           error
	generateCalls int
}

func (s *stubLLM) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	s.generateCalls++
	if s.err != nil {
		return "", s.err
	}
	return s.answer, nil
}

var _ llm.Client = (*stubLLM)(nil)

// scriptedStreamLLM emits a fixed delta sequence; Generate returns their
// concatenation so streaming and synchronous answers must match.
type scriptedStreamLLM struct {
	deltas []string
}

func (s *scriptedStreamLLM) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	return strings.Join(s.deltas, ""), nil
}

func (s *scriptedStreamLLM) GenerateStream(ctx context.Context, messages []llm.Message, fn func(string) error) error {
	for _, delta := range s.deltas {
		if err := fn(delta); err != nil {
			return err
		}
	}
	return nil
}

var _ llm.StreamClient = (*scriptedStreamLLM)(nil)

type stubClassifier struct {
	intent Intent
	err    error
}

func (s *stubClassifier) Classify(ctx context.Context, query string, history []llm.Message) (Intent, error) {
	return s.intent, s.err
}

var _ Classifier = (*stubClassifier)(nil)

type stubInsights struct {
	counts map[string]int
	err    error
}

func (s *stubInsights) ChunkCounts(ctx context.Context, documents []string) (map[string]int, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.counts, nil
}

var _ InsightStore = (*stubInsights)(nil)

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func paymentChunk() index.Result {
	return index.Result{
		ID:   "tesla.pdf:0:abc",
		Text: "Payment due Net 30 days from invoice date.",
		Metadata: index.Metadata{
			Document:   "tesla.pdf",
			ChunkIndex: 0,
			Format:     "pdf",
		},
		Score: 0.95,
	}
}

func TestRoutingTotality(t *testing.T) {
	cases := []struct {
		name       string
		classifier *stubClassifier
		results    []index.Result
		wantStage  Stage
		wantText   string
	}{
		{
			name:       "specific with results",
			classifier: &stubClassifier{intent: IntentSpecific},
			results:    []index.Result{paymentChunk()},
			wantStage:  StageAnalyst,
		},
		{
			name:       "broad with results",
			classifier: &stubClassifier{intent: IntentBroad},
			results:    []index.Result{paymentChunk()},
			wantStage:  StageSummarizer,
		},
		{
			name:       "classification failure defaults to analyst",
			classifier: &stubClassifier{intent: IntentBroad, err: errors.New("rate limited")},
			results:    []index.Result{paymentChunk()},
			wantStage:  StageAnalyst,
		},
		{
			name:       "specific with zero results",
			classifier: &stubClassifier{intent: IntentSpecific},
			results:    nil,
			wantStage:  StageAnalyst,
			wantText:   noContextAnswer,
		},
		{
			name:       "broad with zero results",
			classifier: &stubClassifier{intent: IntentBroad},
			results:    nil,
			wantStage:  StageSummarizer,
			wantText:   noContextAnswer,
		},
		{
			name:       "classification failure with zero results",
			classifier: &stubClassifier{err: errors.New("rate limited")},
			results:    nil,
			wantStage:  StageAnalyst,
			wantText:   noContextAnswer,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			idx := &stubIndex{results: tc.results}
			client := &stubLLM{answer: "Generated answer."}
			svc := NewService(idx, client, tc.classifier, nil, testLogger(), 4)

			answer, err := svc.Ask(context.Background(), "thread-1", "What are the payment terms?")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if answer.Stage != tc.wantStage {
				t.Fatalf("expected stage %s, got %s", tc.wantStage, answer.Stage)
			}
			if idx.searchCalls != 1 {
				t.Fatalf("expected exactly one retrieval, got %d", idx.searchCalls)
			}
			if tc.wantText != "" && answer.Text != tc.wantText {
				t.Fatalf("expected answer %q, got %q", tc.wantText, answer.Text)
			}
			if len(tc.results) > 0 && client.generateCalls != 1 {
				t.Fatalf("expected exactly one reasoning call, got %d", client.generateCalls)
			}
			if len(tc.results) == 0 && client.generateCalls != 0 {
				t.Fatalf("model must not be called with empty context, got %d calls", client.generateCalls)
			}
		})
	}
}

func TestNoContextAnswerIsFixed(t *testing.T) {
	svc := NewService(&stubIndex{}, &stubLLM{answer: "should not appear"}, &stubClassifier{intent: IntentSpecific}, nil, testLogger(), 4)

	answer, err := svc.Ask(context.Background(), "thread-1", "What is the fuel surcharge?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.Text != noContextAnswer {
		t.Fatalf("expected the fixed no-context answer, got %q", answer.Text)
	}
	if answer.Text == "" {
		t.Fatal("answer must never be empty")
	}
}

func TestRetrievalUnavailableRecovered(t *testing.T) {
	idx := &stubIndex{err: errors.New("embedding service unavailable")}
	client := &stubLLM{answer: "should not appear"}
	svc := NewService(idx, client, &stubClassifier{intent: IntentSpecific}, nil, testLogger(), 4)

	answer, err := svc.Ask(context.Background(), "thread-1", "What is the base rate?")
	if err != nil {
		t.Fatalf("retrieval failure must not crash the thread: %v", err)
	}
	if answer.Text != retrievalUnavailableReply {
		t.Fatalf("expected the retrieval-unavailable reply, got %q", answer.Text)
	}
	if !answer.Errored {
		t.Fatal("recovery answer must be error-flagged")
	}
	if client.generateCalls != 0 {
		t.Fatalf("model must not run after retrieval failure, got %d calls", client.generateCalls)
	}
}

func TestReasoningFailureRecovered(t *testing.T) {
	idx := &stubIndex{results: []index.Result{paymentChunk()}}
	client := &stubLLM{err: errors.New("429 rate limited")}
	svc := NewService(idx, client, &stubClassifier{intent: IntentSpecific}, nil, testLogger(), 4)

	answer, err := svc.Ask(context.Background(), "thread-1", "What are the payment terms?")
	if err != nil {
		t.Fatalf("reasoning failure must be recovered at the stage boundary: %v", err)
	}
	if answer.Text != reasoningFailedReply {
		t.Fatalf("expected the error-flagged reply, got %q", answer.Text)
	}
	if !answer.Errored {
		t.Fatal("recovery answer must be error-flagged")
	}

	// The thread is closed, not hung: the next question runs normally.
	client.err = nil
	client.answer = "Net 30 days."
	if _, err := svc.Ask(context.Background(), "thread-1", "And the penalties?"); err != nil {
		t.Fatalf("thread should accept the next question: %v", err)
	}
}

func TestStreamingEquivalence(t *testing.T) {
	// Surrounding whitespace is deliberate: the sync answer must equal the
	// concatenated deltas exactly, not modulo trimming.
	client := &scriptedStreamLLM{deltas: []string{" Payment is due ", "Net 30 days ", "from invoice date.\n"}}
	classifier := &stubClassifier{intent: IntentSpecific}

	streamed := NewService(&stubIndex{results: []index.Result{paymentChunk()}}, client, classifier, nil, testLogger(), 4)
	var deltas []string
	streamAnswer, err := streamed.AskStream(context.Background(), "thread-a", "What are the payment terms?", func(delta string) error {
		deltas = append(deltas, delta)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	synchronous := NewService(&stubIndex{results: []index.Result{paymentChunk()}}, client, classifier, nil, testLogger(), 4)
	syncAnswer, err := synchronous.Ask(context.Background(), "thread-b", "What are the payment terms?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}

	joined := strings.Join(deltas, "")
	if joined != syncAnswer.Text {
		t.Fatalf("concatenated deltas %q differ from synchronous answer %q", joined, syncAnswer.Text)
	}
	if streamAnswer.Text != syncAnswer.Text {
		t.Fatalf("stream answer %q differs from synchronous answer %q", streamAnswer.Text, syncAnswer.Text)
	}
	if len(deltas) != 3 {
		t.Fatalf("expected 3 deltas, got %d", len(deltas))
	}
}

func TestStreamConsumerAbandonment(t *testing.T) {
	client := &scriptedStreamLLM{deltas: []string{"first ", "second ", "third"}}
	svc := NewService(&stubIndex{results: []index.Result{paymentChunk()}}, client, &stubClassifier{intent: IntentSpecific}, nil, testLogger(), 4)

	abandoned := errors.New("consumer went away")
	_, err := svc.AskStream(context.Background(), "thread-1", "What are the payment terms?", func(delta string) error {
		return abandoned
	})
	if !errors.Is(err, abandoned) {
		t.Fatalf("expected the consumer's error back, got %v", err)
	}

	// The cycle closed; the thread accepts the next question.
	if _, err := svc.Ask(context.Background(), "thread-1", "What are the penalties?"); err != nil {
		t.Fatalf("thread should accept the next question after abandonment: %v", err)
	}
}

func TestFixedAnswerStreamedAsSingleDelta(t *testing.T) {
	svc := NewService(&stubIndex{}, &stubLLM{}, &stubClassifier{intent: IntentBroad}, nil, testLogger(), 4)

	var deltas []string
	answer, err := svc.AskStream(context.Background(), "thread-1", "Summarize everything", func(delta string) error {
		deltas = append(deltas, delta)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(deltas) != 1 || deltas[0] != noContextAnswer {
		t.Fatalf("expected one fixed delta, got %v", deltas)
	}
	if answer.Text != noContextAnswer {
		t.Fatalf("unexpected answer: %q", answer.Text)
	}
}

func TestCitationsCarryProvenance(t *testing.T) {
	idx := &stubIndex{results: []index.Result{paymentChunk()}}
	insights := &stubInsights{counts: map[string]int{"tesla.pdf": 7}}
	svc := NewService(idx, &stubLLM{answer: "Net 30 days."}, &stubClassifier{intent: IntentSpecific}, insights, testLogger(), 4)

	answer, err := svc.Ask(context.Background(), "thread-1", "What are the payment terms?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if len(answer.Citations) != 1 {
		t.Fatalf("expected 1 citation, got %d", len(answer.Citations))
	}
	cite := answer.Citations[0]
	if cite.Document != "tesla.pdf" || cite.ChunkIndex != 0 {
		t.Fatalf("citation lost provenance: %+v", cite)
	}
	if cite.Score != 0.95 {
		t.Fatalf("citation lost similarity score: %f", cite.Score)
	}
	if cite.TotalChunks != 7 {
		t.Fatalf("citation missing graph insight, got %d", cite.TotalChunks)
	}
}

func TestInsightFailureIsNonFatal(t *testing.T) {
	idx := &stubIndex{results: []index.Result{paymentChunk()}}
	insights := &stubInsights{err: errors.New("neo4j down")}
	svc := NewService(idx, &stubLLM{answer: "Net 30 days."}, &stubClassifier{intent: IntentSpecific}, insights, testLogger(), 4)

	answer, err := svc.Ask(context.Background(), "thread-1", "What are the payment terms?")
	if err != nil {
		t.Fatalf("insight failure must not fail the query: %v", err)
	}
	if len(answer.Citations) != 1 {
		t.Fatalf("expected citations despite insight failure, got %d", len(answer.Citations))
	}
}

func TestQueryNamingDocumentSetsFilter(t *testing.T) {
	idx := &stubIndex{results: []index.Result{paymentChunk()}}
	svc := NewService(idx, &stubLLM{answer: "ok"}, &stubClassifier{intent: IntentSpecific}, nil, testLogger(), 4)

	if _, err := svc.Ask(context.Background(), "thread-1", "What are the payment terms in tesla.pdf?"); err != nil {
		t.Fatalf("ask: %v", err)
	}
	if idx.lastFilter == nil || idx.lastFilter.Document != "tesla.pdf" {
		t.Fatalf("expected retrieval filtered to tesla.pdf, got %+v", idx.lastFilter)
	}

	if _, err := svc.Ask(context.Background(), "thread-1", "What are the payment terms?"); err != nil {
		t.Fatalf("ask: %v", err)
	}
	if idx.lastFilter != nil {
		t.Fatalf("expected no filter for a generic query, got %+v", idx.lastFilter)
	}
}

type historyCapturingClassifier struct {
	histories [][]llm.Message
}

func (c *historyCapturingClassifier) Classify(ctx context.Context, query string, history []llm.Message) (Intent, error) {
	c.histories = append(c.histories, append([]llm.Message(nil), history...))
	return IntentSpecific, nil
}

var _ Classifier = (*historyCapturingClassifier)(nil)

func TestClassifierReceivesPriorTurns(t *testing.T) {
	idx := &stubIndex{results: []index.Result{paymentChunk()}}
	classifier := &historyCapturingClassifier{}
	svc := NewService(idx, &stubLLM{answer: "Net 30 days."}, classifier, nil, testLogger(), 4)

	if _, err := svc.Ask(context.Background(), "thread-1", "What are the payment terms?"); err != nil {
		t.Fatalf("first ask: %v", err)
	}
	if _, err := svc.Ask(context.Background(), "thread-1", "And the penalties?"); err != nil {
		t.Fatalf("second ask: %v", err)
	}

	if len(classifier.histories) != 2 {
		t.Fatalf("expected 2 classifications, got %d", len(classifier.histories))
	}
	if len(classifier.histories[0]) != 0 {
		t.Fatalf("first turn must see an empty history, got %d messages", len(classifier.histories[0]))
	}

	second := classifier.histories[1]
	if len(second) == 0 {
		t.Fatal("second turn must see the prior conversation")
	}
	if second[0].Content != "What are the payment terms?" {
		t.Fatalf("history must start with the first question, got %q", second[0].Content)
	}
	for _, msg := range second {
		if msg.Content == "And the penalties?" {
			t.Fatal("the current question must not appear in the prior history")
		}
	}
}

func TestEmptyQuestionRejected(t *testing.T) {
	svc := NewService(&stubIndex{}, &stubLLM{}, &stubClassifier{}, nil, testLogger(), 4)
	if _, err := svc.Ask(context.Background(), "thread-1", "   "); err == nil {
		t.Fatal("expected error for empty question")
	}
}

func TestThreadsAreIsolated(t *testing.T) {
	idx := &stubIndex{results: []index.Result{paymentChunk()}}
	svc := NewService(idx, &stubLLM{answer: "ok"}, &stubClassifier{intent: IntentSpecific}, nil, testLogger(), 4)

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		threadID := fmt.Sprintf("thread-%d", i)
		go func() {
			_, err := svc.Ask(context.Background(), threadID, "What are the payment terms?")
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent thread failed: %v", err)
		}
	}
}
