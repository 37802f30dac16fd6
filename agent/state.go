// Package agent runs one contract question through the supervised workflow:
// retrieval always happens first, then exactly one reasoning stage (analyst
// or summarizer) produces the answer, optionally streamed. Each conversation
// thread holds its own message history and routing cursor.
package agent

import (
	"fmt"
	"sync"

	"github.com/freightdesk/contract-agent/llm"
)

// Stage is the routing cursor of a conversation. The workflow moves
// Start -> Retriever -> (Analyst | Summarizer) -> End, never backwards and
// never in a loop.
type Stage int

const (
	StageStart Stage = iota
	StageRetriever
	StageAnalyst
	StageSummarizer
	StageEnd
)

func (s Stage) String() string {
	switch s {
	case StageStart:
		return "start"
	case StageRetriever:
		return "retriever"
	case StageAnalyst:
		return "analyst"
	case StageSummarizer:
		return "summarizer"
	case StageEnd:
		return "end"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Intent is the supervisor's classification of a query.
type Intent int

const (
	// IntentSpecific asks for exact figures: rates, KPIs, penalties, dates.
	IntentSpecific Intent = iota
	// IntentBroad asks for an overview or summary across the documents.
	IntentBroad
)

func (i Intent) String() string {
	if i == IntentBroad {
		return "broad"
	}
	return "specific"
}

// Conversation is the state threaded through one query-answer cycle: the
// ordered message history and the routing cursor. It is mutated only by
// appending messages and advancing Next; the thread registry guarantees a
// single in-flight query per thread.
type Conversation struct {
	ThreadID string
	Messages []llm.Message
	Next     Stage
}

func NewConversation(threadID string) *Conversation {
	return &Conversation{ThreadID: threadID, Next: StageStart}
}

func (c *Conversation) Append(role, content string) {
	c.Messages = append(c.Messages, llm.Message{Role: role, Content: content})
}

// History returns prior turns, excluding stage-internal messages appended
// during the current cycle.
func (c *Conversation) History() []llm.Message {
	return c.Messages
}

// threadRegistry hands out per-thread conversations and serializes access to
// each one. Different threads proceed concurrently; one thread processes one
// query at a time.
type threadRegistry struct {
	mu      sync.Mutex
	threads map[string]*threadState
}

type threadState struct {
	mu   sync.Mutex
	conv *Conversation
}

func newThreadRegistry() *threadRegistry {
	return &threadRegistry{threads: make(map[string]*threadState)}
}

// acquire locks the thread and returns its conversation plus a release func.
func (r *threadRegistry) acquire(threadID string) (*Conversation, func()) {
	r.mu.Lock()
	state, ok := r.threads[threadID]
	if !ok {
		state = &threadState{conv: NewConversation(threadID)}
		r.threads[threadID] = state
	}
	r.mu.Unlock()

	state.mu.Lock()
	return state.conv, state.mu.Unlock
}
