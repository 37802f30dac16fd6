package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/freightdesk/contract-agent/index"
	"github.com/freightdesk/contract-agent/llm"
)

// documentExtensions are used to spot a query that explicitly names one
// uploaded document, which narrows retrieval to that document.
var documentExtensions = []string{".pdf", ".csv", ".txt", ".md", ".xlsx"}

// Retrieval is the outcome of the retriever stage for one query cycle.
type Retrieval struct {
	Results []index.Result
	// Unavailable is set when the embedding service or store failed;
	// downstream stages answer with a fixed recovery message.
	Unavailable bool
}

type retriever struct {
	idx  index.Index
	topK int
}

func (r *retriever) retrieve(ctx context.Context, conv *Conversation, query string) Retrieval {
	filter := documentFilter(query)

	results, err := r.idx.Search(ctx, query, r.topK, filter)
	if err != nil {
		return Retrieval{Unavailable: true}
	}

	conv.Append(llm.RoleAssistant, sourcesMessage(results))
	return Retrieval{Results: results}
}

// documentFilter returns a filter for the single document the query names,
// or nil when the query does not reference a file.
func documentFilter(query string) *index.Filter {
	for _, token := range strings.Fields(query) {
		cleaned := strings.Trim(token, `"'.,;:()?!`)
		lowered := strings.ToLower(cleaned)
		for _, ext := range documentExtensions {
			if strings.HasSuffix(lowered, ext) && len(lowered) > len(ext) {
				return &index.Filter{Document: cleaned}
			}
		}
	}
	return nil
}

// sourcesMessage records which passages were consulted, for later citation.
func sourcesMessage(results []index.Result) string {
	if len(results) == 0 {
		return "Consulted sources: none"
	}
	refs := make([]string, len(results))
	for i, result := range results {
		refs[i] = fmt.Sprintf("%s#%d", result.Metadata.Document, result.Metadata.ChunkIndex)
	}
	return "Consulted sources: " + strings.Join(refs, ", ")
}
