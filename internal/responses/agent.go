// Package responses implements the Responses Agent Loop (§4.E): a
// single-threaded cooperative state machine, one per request, that
// alternates LLM completions and tool executions and emits a precisely
// ordered SSE event schedule while persisting response items as they
// complete.
package responses

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/llmrouter/gateway/internal/completion"
	"github.com/llmrouter/gateway/internal/domain"
	"github.com/llmrouter/gateway/internal/gwerrors"
	"github.com/llmrouter/gateway/internal/provider"
	"github.com/llmrouter/gateway/internal/store"
	"github.com/llmrouter/gateway/internal/tools"
)

// maxAgentIterations bounds the agent loop (§5 "total agent-loop
// iterations bounded at 100").
const maxAgentIterations = 100

// titleAwaitTimeout is how long the main loop waits for the background
// title task before emitting response.completed (§4.E).
const titleAwaitTimeout = 2 * time.Second

// Service is the Responses Agent Loop.
type Service struct {
	completion    *completion.Service
	responses     store.ResponseRepository
	items         store.ResponseItemRepository
	conversations store.ConversationRepository
	tools         *tools.Registry
	maxIterations int
	titleModel    string
}

func NewService(
	completionSvc *completion.Service,
	responses store.ResponseRepository,
	items store.ResponseItemRepository,
	conversations store.ConversationRepository,
	toolRegistry *tools.Registry,
	titleModel string,
) *Service {
	return &Service{
		completion:    completionSvc,
		responses:     responses,
		items:         items,
		conversations: conversations,
		tools:         toolRegistry,
		maxIterations: maxAgentIterations,
		titleModel:    titleModel,
	}
}

// CreateRequest is the Responses-API request the agent loop serves.
type CreateRequest struct {
	Model              string
	Input              string
	ConversationID     string
	PreviousResponseID string
	Tools              []string // requested builtin tool names, e.g. "web_search", "file_search"
	Metadata           map[string]string
}

// conversationLinker is satisfied by store.MemoryResponseItems so its
// ListByConversation can be populated without widening the
// ResponseItemRepository interface for a detail specific to the
// in-memory implementation (a real repository would join on the
// response's stored conversation_id instead).
type conversationLinker interface {
	LinkConversation(responseID, conversationID string)
}

// CreateResponseStream creates the ResponseObject row, persists the input
// message, and starts the agent loop in a background goroutine so the
// HTTP handler can return the SSE stream immediately (§4.E). It returns
// the event channel and the response id.
func (s *Service) CreateResponseStream(ctx context.Context, req CreateRequest, principal domain.Principal) (<-chan Event, string, error) {
	respObj := newResponseObject(req.Model, principal, req.ConversationID, req.PreviousResponseID, req.Metadata)
	if err := s.responses.Create(ctx, respObj); err != nil {
		return nil, "", gwerrors.Wrap(gwerrors.KindInternalError, "creating response row", err)
	}
	if linker, ok := s.items.(conversationLinker); ok && req.ConversationID != "" {
		linker.LinkConversation(respObj.ID, req.ConversationID)
	}

	userItem := newUserMessageItem(req.Input)
	if err := s.items.Create(ctx, respObj.ID, userItem); err != nil {
		return nil, "", gwerrors.Wrap(gwerrors.KindInternalError, "persisting input item", err)
	}

	emitter := NewEventEmitter(1024)
	go s.run(ctx, respObj, req, emitter, principal)

	return emitter.Events(), respObj.ID, nil
}

// GetResponse returns the stored ResponseObject by id.
func (s *Service) GetResponse(ctx context.Context, id string) (*domain.ResponseObject, error) {
	return s.responses.Get(ctx, id)
}

// ListInputItems returns every response item stored for id, in the order
// they were persisted (§6 "GET /v1/responses/{id}/input_items").
func (s *Service) ListInputItems(ctx context.Context, id string) ([]domain.ResponseOutputItem, error) {
	return s.items.ListByResponse(ctx, id)
}

func (s *Service) run(ctx context.Context, respObj *domain.ResponseObject, req CreateRequest, emitter *EventEmitter, principal domain.Principal) {
	defer emitter.Close()

	emitter.Created(respObj)
	emitter.InProgress(respObj)

	title := s.maybeStartTitleTask(req.ConversationID, req.Input, emitter, principal)

	messages := []provider.Message{{Role: "user", Content: provider.Content{Text: req.Input}}}
	toolDefs := s.buildToolDefs(req.Tools)

	var totalInput, totalOutput int
	var finalErr error

loop:
	for iteration := 0; iteration < s.maxIterations; iteration++ {
		stream, _, err := s.completion.CreateChatCompletionStream(ctx, &provider.ChatRequest{
			Model:    respObj.Model,
			Messages: messages,
			Tools:    toolDefs,
			Stream:   true,
		}, principal)
		if err != nil {
			finalErr = err
			break loop
		}

		var text strings.Builder
		messageOpen := false
		acc := newToolCallAccumulator()

		for chunk := range stream {
			if chunk.Error != nil {
				finalErr = chunk.Error
				break loop
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					if !messageOpen {
						emitter.OutputItemAdded(newInProgressMessageItem())
						emitter.ContentPartAdded()
						messageOpen = true
					}
					text.WriteString(choice.Delta.Content)
					emitter.OutputTextDelta(choice.Delta.Content)
				}
				if len(choice.Delta.ToolCalls) > 0 {
					acc.add(choice.Delta.ToolCalls)
				}
			}
			if chunk.Usage != nil {
				totalInput = chunk.Usage.PromptTokens
				totalOutput = chunk.Usage.CompletionTokens
			}
		}

		if messageOpen {
			finalText := strings.TrimSpace(text.String())
			emitter.OutputTextDone(finalText)
			emitter.ContentPartDone(finalText)
			assistantItem := newAssistantMessageItem(finalText)
			emitter.OutputItemDone(assistantItem)
			emitter.AdvanceOutputIndex()
			s.persistItem(ctx, respObj.ID, assistantItem)
			messages = append(messages, provider.Message{Role: "assistant", Content: provider.Content{Text: finalText}})
		}

		if acc.empty() {
			break loop
		}

		for _, call := range acc.inOrder() {
			messages = s.executeToolCall(ctx, respObj.ID, req.ConversationID, call, emitter, messages)
		}
	}

	respObj.Usage = provider.Usage{
		PromptTokens:     totalInput,
		CompletionTokens: totalOutput,
		TotalTokens:      totalInput + totalOutput,
	}

	title.await(titleAwaitTimeout)

	if finalErr != nil {
		respObj.Status = domain.ResponseFailed
		if err := s.responses.Update(context.Background(), respObj); err != nil {
			log.Printf("responses: failed to update failed response %s: %v", respObj.ID, err)
		}
		emitter.Failed(respObj, finalErr.Error())
		return
	}

	respObj.Status = domain.ResponseCompleted
	if err := s.responses.Update(context.Background(), respObj); err != nil {
		log.Printf("responses: failed to update completed response %s: %v", respObj.ID, err)
	}
	emitter.Completed(respObj)
}

// executeToolCall validates and runs one reassembled tool call (§4.E agent
// loop algorithm). Errors at every stage — missing name, malformed JSON
// arguments, missing required query, unknown tool, or execution failure —
// are fed back to the model as a synthetic tool result rather than
// aborting the response.
//
// Only web_search calls get an output item added/done event pair and get
// persisted (matching the original agent loop's execute_tool: file_search
// and current_date return a plain result string with no item emitted at
// all, and the missing-name/unknown-tool error path never had an item to
// begin with — it goes straight into the message list).
func (s *Service) executeToolCall(ctx context.Context, responseID, conversationID string, call resolved, emitter *EventEmitter, messages []provider.Message) []provider.Message {
	var resultText, toolName string

	switch {
	case call.name == "":
		toolName = "unknown"
		resultText = fmt.Sprintf("ERROR: Tool call at index %d is missing a tool name. Provide a valid \"name\" for every tool_calls entry.", call.index)
	default:
		toolName = call.name
		var params map[string]any
		if err := json.Unmarshal([]byte(call.args), &params); err != nil {
			resultText = fmt.Sprintf("ERROR: Tool call %q at index %d has arguments that are not valid JSON: %v", call.name, call.index, err)
		} else if requiresQuery(call.name) && emptyQuery(params) {
			resultText = fmt.Sprintf("ERROR: Tool call %q at index %d is missing the required \"query\" parameter.", call.name, call.index)
		} else if !s.tools.Has(call.name) {
			resultText = fmt.Sprintf("ERROR: Tool %q is not a recognized tool.", call.name)
		} else {
			if call.name == "file_search" {
				if params == nil {
					params = map[string]any{}
				}
				params["conversation_id"] = conversationID
			}
			out, err := s.tools.Execute(ctx, call.name, params)
			if err != nil {
				resultText = fmt.Sprintf("ERROR: Tool %q failed: %v", call.name, err)
			} else {
				resultText = out
			}
		}
	}

	if toolName == "web_search" {
		item := newToolCallItem(toolName, call.id, call.args)
		emitter.OutputItemAdded(item)
		emitter.WebSearchInProgress()
		emitter.WebSearchSearching()
		emitter.WebSearchCompleted()

		item.Status = domain.ItemCompleted
		item.Output = resultText
		emitter.OutputItemDone(item)
		emitter.AdvanceOutputIndex()
		s.persistItem(ctx, responseID, item)
	}

	return append(messages, provider.Message{Role: "tool", ToolCallID: call.id, Content: provider.Content{Text: resultText}})
}

func (s *Service) persistItem(ctx context.Context, responseID string, item domain.ResponseOutputItem) {
	if err := s.items.Create(ctx, responseID, item); err != nil {
		log.Printf("responses: failed to persist item %s: %v", item.ID, err)
	}
}

// buildToolDefs turns the requested builtin tool names into canonical
// Tool definitions, always silently including current_date (§4.E: "always
// silently appended to the tool list... so that models can obtain time
// without special prompting").
func (s *Service) buildToolDefs(requested []string) []provider.Tool {
	names := map[string]bool{"current_date": true}
	for _, n := range requested {
		names[n] = true
	}
	ordered := make([]string, 0, len(names))
	for n := range names {
		ordered = append(ordered, n)
	}
	sort.Strings(ordered)

	defs := make([]provider.Tool, 0, len(ordered))
	for _, n := range ordered {
		defs = append(defs, toolDefinition(n))
	}
	return defs
}

func toolDefinition(name string) provider.Tool {
	switch name {
	case "web_search":
		return provider.Tool{Type: "function", Function: provider.ToolFunction{
			Name:        "web_search",
			Description: "Search the web for up-to-date information.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"query": map[string]any{"type": "string"}},
				"required":   []string{"query"},
			},
		}}
	case "file_search":
		return provider.Tool{Type: "function", Function: provider.ToolFunction{
			Name:        "file_search",
			Description: "Search this conversation's attachments.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"query": map[string]any{"type": "string"}},
				"required":   []string{"query"},
			},
		}}
	default:
		return provider.Tool{Type: "function", Function: provider.ToolFunction{
			Name:        name,
			Description: "Returns the current date and time in RFC3339 format.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		}}
	}
}

func requiresQuery(toolName string) bool {
	return toolName == "web_search" || toolName == "file_search"
}

func emptyQuery(params map[string]any) bool {
	q, ok := params["query"].(string)
	return !ok || q == ""
}

func extractQuery(argsJSON string) string {
	var params map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &params); err != nil {
		return ""
	}
	q, _ := params["query"].(string)
	return q
}
