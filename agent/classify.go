package agent

import (
	"context"
	"strings"

	"github.com/freightdesk/contract-agent/llm"
)

// Classifier decides whether a query needs precise extraction or broad
// synthesis. Implementations must be side-effect free so the state machine
// can swap them without changing routing behavior.
type Classifier interface {
	Classify(ctx context.Context, query string, history []llm.Message) (Intent, error)
}

// broadMarkers are phrases that mark an overview query without needing a
// model call.
var broadMarkers = []string{
	"summarize", "summarise", "summary", "overview",
	"list all", "list everything", "what does the contract cover",
	"give me the big picture", "walk me through",
}

// LLMClassifier asks the language model for the intent, with a keyword fast
// path for unambiguous overview queries. Any failure or unrecognized label
// falls back to the specific intent so the query is never dropped.
type LLMClassifier struct {
	client llm.Client
}

func NewLLMClassifier(client llm.Client) *LLMClassifier {
	return &LLMClassifier{client: client}
}

func (c *LLMClassifier) Classify(ctx context.Context, query string, history []llm.Message) (Intent, error) {
	lowered := strings.ToLower(query)
	for _, marker := range broadMarkers {
		if strings.Contains(lowered, marker) {
			return IntentBroad, nil
		}
	}

	if c.client == nil {
		return IntentSpecific, nil
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: classifyInstructions},
	}
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: query})

	label, err := c.client.Generate(ctx, messages)
	if err != nil {
		return IntentSpecific, err
	}

	switch strings.ToLower(strings.TrimSpace(label)) {
	case "broad":
		return IntentBroad, nil
	case "specific":
		return IntentSpecific, nil
	default:
		return IntentSpecific, nil
	}
}

var _ Classifier = (*LLMClassifier)(nil)
