package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// AnthropicProvider implements Provider for Anthropic's Messages API.
type AnthropicProvider struct {
	apiKey  string
	baseURL string // e.g. "https://api.anthropic.com/v1"
	client  *http.Client
}

// NewAnthropicProvider creates an AnthropicProvider ready to make API calls.
func NewAnthropicProvider(apiKey, baseURL string, client *http.Client) *AnthropicProvider {
	return &AnthropicProvider{apiKey: apiKey, baseURL: baseURL, client: client}
}

func (a *AnthropicProvider) Name() string { return "anthropic" }

// anthropicAPIVersion pins the API version Anthropic expects on every
// request, via a date-based header rather than a versioned URL path.
const anthropicAPIVersion = "2023-06-01"

// anthropicDefaultMaxTokens is used when the caller doesn't specify
// max_tokens. Anthropic requires the field, so the gateway must default
// it — 4096 rather than the bare-minimum 1024 some SDKs default to, since
// that's tight for anything beyond a short reply.
const anthropicDefaultMaxTokens = 4096

// --- request wire types ---

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
	Stream    bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string                 `json:"role"`
	Content []anthropicContentItem `json:"content"`
}

// anthropicContentItem covers both text and tool_use/tool_result blocks —
// Anthropic represents message content as an array of typed blocks even
// for plain text turns.
type anthropicContentItem struct {
	Type      string `json:"type"` // "text" | "tool_use" | "tool_result"
	Text      string `json:"text,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"` // tool_result
	Content   string `json:"content,omitempty"`     // tool_result
	ID        string `json:"id,omitempty"`          // tool_use
	Name      string `json:"name,omitempty"`        // tool_use
	Input     any    `json:"input,omitempty"`       // tool_use
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// --- response wire types ---

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

type anthropicContentBlock struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Input any    `json:"input,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// --- streaming event wire types ---
//
// Anthropic sends NAMED events, each with its own JSON payload shape:
// message_start, content_block_start, content_block_delta, content_block_stop,
// message_delta, message_stop, ping, error. We decode into one wrapper and
// switch on Type, leaving irrelevant fields at their zero value.

type anthropicStreamEvent struct {
	Type         string                 `json:"type"`
	Index        int                    `json:"index"`
	Message      *anthropicEventMessage `json:"message,omitempty"`
	ContentBlock *anthropicContentBlock `json:"content_block,omitempty"`
	Delta        *anthropicEventDelta   `json:"delta,omitempty"`
	Usage        *anthropicUsage        `json:"usage,omitempty"`
	Error        *anthropicStreamError  `json:"error,omitempty"`
}

type anthropicEventMessage struct {
	ID    string         `json:"id"`
	Model string         `json:"model"`
	Usage anthropicUsage `json:"usage"`
}

// anthropicEventDelta is a union of the three delta shapes Anthropic sends
// depending on event type: text_delta (block delta), input_json_delta
// (tool-use argument fragment), and the message_delta stop fields.
type anthropicEventDelta struct {
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`         // content_block_delta / text_delta
	PartialJSON string `json:"partial_json,omitempty"` // content_block_delta / input_json_delta
	StopReason  string `json:"stop_reason,omitempty"`  // message_delta
}

type anthropicStreamError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Request translation
// ---------------------------------------------------------------------------

// toAnthropicRequest translates a canonical ChatRequest into Anthropic's
// format: the last system message wins (spec convention, not a faithfully
// documented API behavior — see SPEC_FULL.md Open Question 2), remaining
// messages map through role-for-role except tool→user, and max_tokens
// gets a default since Anthropic requires it.
func toAnthropicRequest(req *ChatRequest) *anthropicRequest {
	ar := &anthropicRequest{Model: req.Model}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			// Last wins: each subsequent system message replaces the
			// previous one rather than accumulating.
			ar.System = msg.Content.String()
			continue
		case "tool":
			ar.Messages = append(ar.Messages, anthropicMessage{
				Role: "user",
				Content: []anthropicContentItem{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content.String(),
				}},
			})
			continue
		}

		am := anthropicMessage{Role: msg.Role}
		if text := msg.Content.String(); text != "" || len(msg.ToolCalls) == 0 {
			am.Content = append(am.Content, anthropicContentItem{Type: "text", Text: text})
		}
		for _, tc := range msg.ToolCalls {
			var input any
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
			am.Content = append(am.Content, anthropicContentItem{
				Type:  "tool_use",
				ID:    tc.ID,
				Name:  tc.Function.Name,
				Input: input,
			})
		}
		ar.Messages = append(ar.Messages, am)
	}

	for _, t := range req.Tools {
		ar.Tools = append(ar.Tools, anthropicTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}

	if req.MaxTokens > 0 {
		ar.MaxTokens = req.MaxTokens
	} else {
		ar.MaxTokens = anthropicDefaultMaxTokens
	}

	return ar
}

func mapAnthropicStopReason(reason string) FinishReason {
	switch reason {
	case "max_tokens":
		return FinishLength
	case "tool_use":
		return FinishToolCalls
	case "end_turn", "stop_sequence":
		return FinishStop
	default:
		return FinishStop
	}
}

func (a *AnthropicProvider) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	url := fmt.Sprintf("%s/messages", a.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	return httpReq, nil
}

// ---------------------------------------------------------------------------
// Non-streaming
// ---------------------------------------------------------------------------

func (a *AnthropicProvider) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	anthropicReq := toAnthropicRequest(req)

	body, err := json.Marshal(anthropicReq)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := a.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &Transport{Reason: err.Error()}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &Transport{Reason: err.Error()}
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, &HttpError{Status: httpResp.StatusCode, Body: string(respBody)}
	}

	var anthropicResp anthropicResponse
	if err := json.Unmarshal(respBody, &anthropicResp); err != nil {
		return nil, &InvalidResponse{Reason: "decoding anthropic response: " + err.Error()}
	}

	msg := Message{Role: "assistant"}
	var toolCalls []ToolCall
	var text string
	for _, block := range anthropicResp.Content {
		switch block.Type {
		case "text":
			text += block.Text
		case "tool_use":
			args, _ := json.Marshal(block.Input)
			toolCalls = append(toolCalls, ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: ToolCallFunction{
					Name:      block.Name,
					Arguments: string(args),
				},
			})
		}
	}
	msg.Content = Content{Text: text}
	msg.ToolCalls = toolCalls

	finish := mapAnthropicStopReason(anthropicResp.StopReason)

	resp := &ChatResponse{
		ID:    anthropicResp.ID,
		Model: anthropicResp.Model,
		Choices: []Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: finish,
		}},
		Usage: Usage{
			PromptTokens:     anthropicResp.Usage.InputTokens,
			CompletionTokens: anthropicResp.Usage.OutputTokens,
			TotalTokens:      anthropicResp.Usage.InputTokens + anthropicResp.Usage.OutputTokens,
		},
	}

	return resp, nil
}

// ---------------------------------------------------------------------------
// Streaming
// ---------------------------------------------------------------------------

func (a *AnthropicProvider) ChatCompletionStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	anthropicReq := toAnthropicRequest(req)
	anthropicReq.Stream = true

	body, err := json.Marshal(anthropicReq)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := a.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &Transport{Reason: err.Error()}
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, &HttpError{Status: httpResp.StatusCode, Body: string(respBody)}
	}

	ch := make(chan StreamChunk)

	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		var (
			respID       string
			model        string
			inputTokens  int
			outputTokens int
		)

		// blocks accumulates tool_use blocks keyed by their content-block
		// index, so input_json_delta fragments (one per token, just like
		// text_delta) can be concatenated before being emitted as a
		// ToolCallFragment.
		blocks := map[int]*anthropicBlockState{}

		send := func(chunk StreamChunk) bool {
			select {
			case ch <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		parser := newLineReader(httpResp.Body)

		for {
			line, err := parser.readLine()
			if err != nil {
				if err != io.EOF {
					send(StreamChunk{Done: true, Error: &Transport{Reason: err.Error()}})
				}
				return
			}

			data, ok := dataPayload(line)
			if !ok {
				continue
			}

			var event anthropicStreamEvent
			if err := json.Unmarshal(data, &event); err != nil {
				send(StreamChunk{Done: true, Error: &InvalidResponse{Reason: "decoding anthropic stream event: " + err.Error()}})
				return
			}

			switch event.Type {
			case "message_start":
				if event.Message != nil {
					respID = event.Message.ID
					model = event.Message.Model
					inputTokens = event.Message.Usage.InputTokens
				}
				if !send(StreamChunk{
					ID: respID, Model: model,
					Choices: []ChunkChoice{{Delta: Delta{Role: "assistant"}}},
				}) {
					return
				}

			case "content_block_start":
				if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
					blocks[event.Index] = &anthropicBlockState{
						id:   event.ContentBlock.ID,
						name: event.ContentBlock.Name,
					}
				}

			case "content_block_delta":
				if event.Delta == nil {
					continue
				}
				if event.Delta.Type == "input_json_delta" {
					if b, ok := blocks[event.Index]; ok {
						b.args += event.Delta.PartialJSON
						frag := ToolCallFragment{
							Index: event.Index,
							Function: ToolCallFunctionFragment{
								Arguments: event.Delta.PartialJSON,
							},
						}
						if !b.namesSent {
							frag.ID = b.id
							frag.Function.Name = b.name
							b.namesSent = true
						}
						if !send(StreamChunk{
							ID: respID, Model: model,
							Choices: []ChunkChoice{{Delta: Delta{ToolCalls: []ToolCallFragment{frag}}}},
						}) {
							return
						}
					}
					continue
				}
				if event.Delta.Text != "" {
					if !send(StreamChunk{
						ID: respID, Model: model,
						Choices: []ChunkChoice{{Delta: Delta{Content: event.Delta.Text}}},
					}) {
						return
					}
				}

			case "message_delta":
				if event.Usage != nil {
					outputTokens = event.Usage.OutputTokens
				}
				if event.Delta != nil && event.Delta.StopReason != "" {
					reason := mapAnthropicStopReason(event.Delta.StopReason)
					if !send(StreamChunk{
						ID: respID, Model: model,
						Choices: []ChunkChoice{{FinishReason: &reason}},
					}) {
						return
					}
				}

			case "message_stop":
				send(StreamChunk{
					ID: respID, Model: model, Done: true,
					Usage: &Usage{
						PromptTokens:     inputTokens,
						CompletionTokens: outputTokens,
						TotalTokens:      inputTokens + outputTokens,
					},
				})
				return

			case "error":
				msg := "anthropic stream error"
				if event.Error != nil {
					msg = event.Error.Message
				}
				send(StreamChunk{Done: true, Error: &InvalidResponse{Reason: msg}})
				return

			// "ping" and "content_block_stop" carry nothing we need.
			}
		}
	}()

	return ch, nil
}

type anthropicBlockState struct {
	id        string
	name      string
	args      string
	namesSent bool
}
