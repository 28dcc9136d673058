package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/llmrouter/gateway/internal/store"
)

// FileSearch implements Executor against a conversation's stored items,
// standing in for the (out-of-scope) file/vector-store sub-API. It is
// parameterized over a conversation id, not the workspace (§4.G) — each
// call only ever sees items belonging to the one conversation the agent
// loop is running against.
type FileSearch struct {
	items store.ResponseItemRepository
}

func NewFileSearch(items store.ResponseItemRepository) *FileSearch {
	return &FileSearch{items: items}
}

// Search expects params to carry "query" and "conversation_id" (the
// agent loop sets the latter before calling the registry, overriding any
// value the model supplied).
func (f *FileSearch) Search(ctx context.Context, params map[string]any) (string, error) {
	query, _ := params["query"].(string)
	if query == "" {
		return "", fmt.Errorf("file_search: missing required \"query\" parameter")
	}
	conversationID, _ := params["conversation_id"].(string)
	if conversationID == "" {
		return "No attachments available outside a conversation.", nil
	}

	candidates, err := f.items.ListByConversation(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("listing conversation items: %w", err)
	}

	needle := strings.ToLower(query)
	var matches []string
	for _, item := range candidates {
		for _, content := range item.Content {
			if strings.Contains(strings.ToLower(content.Text), needle) {
				matches = append(matches, content.Text)
			}
		}
	}

	if len(matches) == 0 {
		return "No matching content found in this conversation's attachments.", nil
	}

	out := ""
	for i, m := range matches {
		out += fmt.Sprintf("%d. %s\n", i+1, m)
	}
	return out, nil
}
