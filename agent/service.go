package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/freightdesk/contract-agent/index"
	"github.com/freightdesk/contract-agent/llm"
)

const defaultTopK = 4

// Citation points at one retrieved passage backing an answer.
type Citation struct {
	Document    string
	ChunkIndex  int
	Score       float64
	TotalChunks int
}

// Answer is the completed result of one query cycle.
type Answer struct {
	Text      string
	Stage     Stage
	Intent    Intent
	Citations []Citation
	// Errored marks answers produced by a recovery path (retrieval or
	// reasoning failure) rather than by the language model.
	Errored bool
}

// InsightStore supplies per-document chunk counts from the provenance graph
// to enrich citations. It is optional.
type InsightStore interface {
	ChunkCounts(ctx context.Context, documents []string) (map[string]int, error)
}

// Service is the routing supervisor: it walks one query through the stage
// machine and guarantees the cursor reaches the terminal stage on every
// code path.
type Service struct {
	retriever  *retriever
	classifier Classifier
	llm        llm.Client
	insights   InsightStore
	logger     *log.Logger
	threads    *threadRegistry
}

func NewService(idx index.Index, client llm.Client, classifier Classifier, insights InsightStore, logger *log.Logger, topK int) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if topK <= 0 {
		topK = defaultTopK
	}
	if classifier == nil {
		classifier = NewLLMClassifier(client)
	}

	return &Service{
		retriever:  &retriever{idx: idx, topK: topK},
		classifier: classifier,
		llm:        client,
		insights:   insights,
		logger:     logger,
		threads:    newThreadRegistry(),
	}
}

// Ask answers one question synchronously.
func (s *Service) Ask(ctx context.Context, threadID, question string) (Answer, error) {
	return s.run(ctx, threadID, question, nil)
}

// AskStream answers one question, delivering the answer text incrementally
// through fn. Concatenating every delta equals the synchronous answer. A
// non-nil error from fn abandons the stream; the conversation still closes
// cleanly.
func (s *Service) AskStream(ctx context.Context, threadID, question string, fn func(delta string) error) (Answer, error) {
	if fn == nil {
		return Answer{}, fmt.Errorf("stream callback is nil")
	}
	return s.run(ctx, threadID, question, fn)
}

func (s *Service) run(ctx context.Context, threadID, question string, streamFn func(string) error) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, fmt.Errorf("question cannot be empty")
	}
	if s.retriever.idx == nil {
		return Answer{}, fmt.Errorf("index is not configured")
	}

	conv, release := s.threads.acquire(threadID)
	defer release()

	history := append([]llm.Message(nil), conv.History()...)
	conv.Next = StageStart
	conv.Append(llm.RoleUser, question)

	// Whatever happens below, the cycle must close.
	defer func() { conv.Next = StageEnd }()

	var (
		retrieval Retrieval
		intent    Intent
		answer    Answer
	)

	for conv.Next != StageEnd {
		switch conv.Next {
		case StageStart:
			// Retrieval always precedes reasoning.
			conv.Next = StageRetriever

		case StageRetriever:
			retrieval = s.retriever.retrieve(ctx, conv, question)
			intent = s.classify(ctx, question, history)
			if intent == IntentBroad {
				conv.Next = StageSummarizer
			} else {
				conv.Next = StageAnalyst
			}
			s.logger.Printf("thread %s: routing %s query to %s", threadID, intent, conv.Next)

		case StageAnalyst, StageSummarizer:
			var err error
			answer, err = s.respond(ctx, conv.Next, question, retrieval, streamFn)
			answer.Intent = intent
			conv.Append(llm.RoleAssistant, answer.Text)
			conv.Next = StageEnd
			if err != nil {
				return answer, err
			}
		}
	}

	return answer, nil
}

func (s *Service) classify(ctx context.Context, query string, history []llm.Message) Intent {
	intent, err := s.classifier.Classify(ctx, query, history)
	if err != nil {
		// Fail toward the more specific stage; never drop the query.
		s.logger.Printf("intent classification failed, defaulting to %s: %v", IntentSpecific, err)
		return IntentSpecific
	}
	return intent
}

// consumerAbort wraps an error returned by the stream consumer so it can be
// told apart from a model failure.
type consumerAbort struct{ err error }

func (a *consumerAbort) Error() string { return a.err.Error() }
func (a *consumerAbort) Unwrap() error { return a.err }

func (s *Service) respond(ctx context.Context, stage Stage, question string, retrieval Retrieval, streamFn func(string) error) (Answer, error) {
	answer := Answer{Stage: stage}

	if retrieval.Unavailable {
		answer.Text = retrievalUnavailableReply
		answer.Errored = true
		return answer, deliver(streamFn, answer.Text)
	}

	if len(retrieval.Results) == 0 {
		// Never call the model with empty context.
		answer.Text = noContextAnswer
		return answer, deliver(streamFn, answer.Text)
	}

	answer.Citations = s.citations(ctx, retrieval.Results)

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: instructionsFor(stage)},
		{Role: llm.RoleUser, Content: formatUserPrompt(question, retrieval.Results)},
	}

	text, err := s.generate(ctx, messages, streamFn)
	if err != nil {
		var abort *consumerAbort
		if errors.As(err, &abort) {
			answer.Text = text
			return answer, abort.err
		}
		// Model failure is recovered at the stage boundary.
		s.logger.Printf("%s stage generation failed: %v", stage, err)
		answer.Text = reasoningFailedReply
		answer.Errored = true
		return answer, deliver(streamFn, answer.Text)
	}

	// The answer is kept byte-for-byte identical to the streamed deltas.
	answer.Text = text
	return answer, nil
}

// generate runs the model call in streaming mode when both the client and
// the caller support it, falling back to one synchronous call otherwise.
func (s *Service) generate(ctx context.Context, messages []llm.Message, streamFn func(string) error) (string, error) {
	if s.llm == nil {
		return "", fmt.Errorf("llm client is not configured")
	}

	if streamFn != nil {
		if streamClient, ok := s.llm.(llm.StreamClient); ok {
			var builder strings.Builder
			err := streamClient.GenerateStream(ctx, messages, func(delta string) error {
				if delta == "" {
					return nil
				}
				builder.WriteString(delta)
				if fnErr := streamFn(delta); fnErr != nil {
					return &consumerAbort{err: fnErr}
				}
				return nil
			})
			if err != nil {
				var abort *consumerAbort
				if errors.As(err, &abort) {
					return builder.String(), abort
				}
				return builder.String(), fmt.Errorf("stream generate: %w", err)
			}
			return builder.String(), nil
		}
	}

	text, err := s.llm.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if streamFn != nil {
		if fnErr := streamFn(text); fnErr != nil {
			return text, &consumerAbort{err: fnErr}
		}
	}
	return text, nil
}

func deliver(streamFn func(string) error, text string) error {
	if streamFn == nil {
		return nil
	}
	return streamFn(text)
}

func (s *Service) citations(ctx context.Context, results []index.Result) []Citation {
	citations := make([]Citation, len(results))
	for i, result := range results {
		citations[i] = Citation{
			Document:   result.Metadata.Document,
			ChunkIndex: result.Metadata.ChunkIndex,
			Score:      result.Score,
		}
	}

	if s.insights == nil {
		return citations
	}

	counts, err := s.insights.ChunkCounts(ctx, uniqueDocuments(results))
	if err != nil {
		s.logger.Printf("graph insights error: %v", err)
		return citations
	}
	for i := range citations {
		citations[i].TotalChunks = counts[citations[i].Document]
	}
	return citations
}

func uniqueDocuments(results []index.Result) []string {
	seen := make(map[string]struct{}, len(results))
	documents := make([]string, 0, len(results))
	for _, result := range results {
		if _, ok := seen[result.Metadata.Document]; ok {
			continue
		}
		seen[result.Metadata.Document] = struct{}{}
		documents = append(documents, result.Metadata.Document)
	}
	return documents
}

func formatUserPrompt(question string, results []index.Result) string {
	var sb strings.Builder
	sb.WriteString("Retrieved contract passages:\n\n")
	for _, result := range results {
		sb.WriteString(fmt.Sprintf("[Source: %s chunk %d]\n", result.Metadata.Document, result.Metadata.ChunkIndex))
		sb.WriteString(strings.TrimSpace(result.Text))
		sb.WriteString("\n\n")
	}
	sb.WriteString("Question:\n")
	sb.WriteString(question)
	return sb.String()
}
