// models.go provides constructors for the domain.ResponseObject /
// domain.ResponseOutputItem entities the agent loop builds and emits —
// the types themselves live in internal/domain so internal/store can
// reference them without importing internal/responses.
package responses

import (
	"strings"
	"time"

	"github.com/llmrouter/gateway/internal/domain"
)

func newResponseObject(model string, principal domain.Principal, conversationID, previousResponseID string, metadata map[string]string) *domain.ResponseObject {
	return &domain.ResponseObject{
		ID:                 NewResponseID(),
		Status:             domain.ResponseInProgress,
		Model:              model,
		CreatedAt:          time.Now(),
		ConversationID:     conversationID,
		PreviousResponseID: previousResponseID,
		Metadata:           metadata,
		Principal:          principal,
	}
}

// newUserMessageItem builds a completed user-role message item for input
// persistence (§4.E "Input persistence": stored before any event is
// emitted, final whitespace trimmed).
func newUserMessageItem(text string) domain.ResponseOutputItem {
	return domain.ResponseOutputItem{
		ID:      NewMessageID(),
		Type:    domain.OutputItemMessage,
		Status:  domain.ItemCompleted,
		Role:    "user",
		Content: []domain.OutputContent{{Type: "output_text", Text: strings.TrimSpace(text)}},
	}
}

func newAssistantMessageItem(text string) domain.ResponseOutputItem {
	return domain.ResponseOutputItem{
		ID:      NewMessageID(),
		Type:    domain.OutputItemMessage,
		Status:  domain.ItemCompleted,
		Role:    "assistant",
		Content: []domain.OutputContent{{Type: "output_text", Text: text}},
	}
}

// newInProgressMessageItem is the item emitted by output_item.added for a
// message cycle, before any text has arrived.
func newInProgressMessageItem() domain.ResponseOutputItem {
	return domain.ResponseOutputItem{
		ID:      NewMessageID(),
		Type:    domain.OutputItemMessage,
		Status:  domain.ItemInProgress,
		Role:    "assistant",
		Content: []domain.OutputContent{},
	}
}

// toolItemType maps a tool name to its ResponseOutputItem discriminator.
// Anything not web_search or file_search is modeled as a generic
// function_call, which covers current_date and any caller-defined tool.
func toolItemType(toolName string) domain.OutputItemType {
	switch toolName {
	case "web_search":
		return domain.OutputItemWebSearchCall
	case "file_search":
		return domain.OutputItemFileSearchCall
	default:
		return domain.OutputItemFunctionCall
	}
}

func newToolCallItem(toolName, callID, arguments string) domain.ResponseOutputItem {
	itemType := toolItemType(toolName)
	item := domain.ResponseOutputItem{
		ID:        NewToolCallID(string(itemType)),
		Type:      itemType,
		Status:    domain.ItemInProgress,
		CallID:    callID,
		Name:      toolName,
		Arguments: arguments,
	}
	if itemType == domain.OutputItemWebSearchCall || itemType == domain.OutputItemFileSearchCall {
		item.Action = &domain.ToolCallAction{Type: "search", Query: extractQuery(arguments)}
	}
	return item
}
