package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
)

// GeminiProvider implements Provider for Google's Gemini generateContent API.
type GeminiProvider struct {
	apiKey  string
	baseURL string // e.g. "https://generativelanguage.googleapis.com/v1beta"
	client  *http.Client
}

// NewGeminiProvider creates a GeminiProvider ready to make API calls.
func NewGeminiProvider(apiKey, baseURL string, client *http.Client) *GeminiProvider {
	return &GeminiProvider{apiKey: apiKey, baseURL: baseURL, client: client}
}

func (g *GeminiProvider) Name() string { return "gemini" }

// --- request wire types ---

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Tools             []geminiTool            `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

// geminiPart is a union of text and functionCall/functionResponse shapes.
type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string `json:"name"`
	Args any    `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string `json:"name"`
	Response any    `json:"response"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

type geminiFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

// --- response wire types ---

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// ---------------------------------------------------------------------------
// Request translation
// ---------------------------------------------------------------------------

// toGeminiRequest translates a canonical ChatRequest into Gemini's format:
// each system message replaces systemInstruction (last wins — see
// SPEC_FULL.md Open Question 2), assistant maps to "model", user and tool
// map to "user".
func toGeminiRequest(req *ChatRequest) *geminiRequest {
	gr := &geminiRequest{}

	for _, msg := range req.Messages {
		if msg.Role == "system" {
			gr.SystemInstruction = &geminiContent{
				Parts: []geminiPart{{Text: msg.Content.String()}},
			}
			continue
		}

		role := msg.Role
		switch role {
		case "assistant":
			role = "model"
		case "tool":
			role = "user"
		}

		var parts []geminiPart
		if text := msg.Content.String(); text != "" {
			parts = append(parts, geminiPart{Text: text})
		}
		if msg.Role == "tool" {
			var response any
			_ = json.Unmarshal([]byte(msg.Content.String()), &response)
			parts = append(parts, geminiPart{
				FunctionResponse: &geminiFunctionResponse{Name: msg.ToolCallID, Response: response},
			})
		}
		for _, tc := range msg.ToolCalls {
			var args any
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			parts = append(parts, geminiPart{
				FunctionCall: &geminiFunctionCall{Name: tc.Function.Name, Args: args},
			})
		}

		gr.Contents = append(gr.Contents, geminiContent{Role: role, Parts: parts})
	}

	if len(req.Tools) > 0 {
		decls := make([]geminiFunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, geminiFunctionDeclaration{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			})
		}
		gr.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	if req.MaxTokens > 0 || req.Temperature != nil || req.TopP != nil || len(req.Stop) > 0 {
		gr.GenerationConfig = &geminiGenerationConfig{
			Temperature:   req.Temperature,
			TopP:          req.TopP,
			StopSequences: req.Stop,
		}
		if req.MaxTokens > 0 {
			gr.GenerationConfig.MaxOutputTokens = req.MaxTokens
		}
	}

	return gr
}

func mapGeminiFinishReason(reason string) FinishReason {
	switch reason {
	case "STOP":
		return FinishStop
	case "MAX_TOKENS":
		return FinishLength
	case "SAFETY":
		return FinishContentFilter
	default:
		return FinishStop
	}
}

// newRequest builds the POST request for either the non-streaming or SSE
// endpoint. Auth is the x-goog-api-key header — never the URL's ?key=
// query parameter some client SDKs use, so the key never lands in access
// logs or intermediary caches keyed on URL.
func (g *GeminiProvider) newRequest(ctx context.Context, method string, body []byte) (*http.Request, error) {
	url := fmt.Sprintf("%s/models/%s", g.baseURL, method)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)
	return httpReq, nil
}

// ---------------------------------------------------------------------------
// Non-streaming
// ---------------------------------------------------------------------------

func (g *GeminiProvider) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	geminiReq := toGeminiRequest(req)

	body, err := json.Marshal(geminiReq)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := g.newRequest(ctx, fmt.Sprintf("%s:generateContent", req.Model), body)
	if err != nil {
		return nil, err
	}

	httpResp, err := g.client.Do(httpReq)
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

	var geminiResp geminiResponse
	if err := json.Unmarshal(respBody, &geminiResp); err != nil {
		return nil, &InvalidResponse{Reason: "decoding gemini response: " + err.Error()}
	}

	if len(geminiResp.Candidates) == 0 {
		return nil, &InvalidResponse{Reason: "gemini returned no candidates"}
	}

	candidate := geminiResp.Candidates[0]

	var text string
	var toolCalls []ToolCall
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
		if part.FunctionCall != nil {
			args, _ := json.Marshal(part.FunctionCall.Args)
			toolCalls = append(toolCalls, ToolCall{
				ID:   uuid.NewString(),
				Type: "function",
				Function: ToolCallFunction{
					Name:      part.FunctionCall.Name,
					Arguments: string(args),
				},
			})
		}
	}

	resp := &ChatResponse{
		ID:    uuid.NewString(),
		Model: req.Model,
		Choices: []Choice{{
			Index: 0,
			Message: Message{
				Role:      "assistant",
				Content:   Content{Text: text},
				ToolCalls: toolCalls,
			},
			FinishReason: mapGeminiFinishReason(candidate.FinishReason),
		}},
	}

	if geminiResp.UsageMetadata != nil {
		resp.Usage = Usage{
			PromptTokens:     geminiResp.UsageMetadata.PromptTokenCount,
			CompletionTokens: geminiResp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      geminiResp.UsageMetadata.TotalTokenCount,
		}
	}

	return resp, nil
}

// ---------------------------------------------------------------------------
// Streaming
// ---------------------------------------------------------------------------

// ChatCompletionStream streams from :streamGenerateContent?alt=sse. Gemini
// emits one JSON object per logical event but, unlike Anthropic, never
// assigns its own response id — the adapter mints one uuid and reuses it
// for every chunk of this stream (§4.B).
func (g *GeminiProvider) ChatCompletionStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	geminiReq := toGeminiRequest(req)

	body, err := json.Marshal(geminiReq)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := g.newRequest(ctx, fmt.Sprintf("%s:streamGenerateContent?alt=sse", req.Model), body)
	if err != nil {
		return nil, err
	}

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, &Transport{Reason: err.Error()}
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, &HttpError{Status: httpResp.StatusCode, Body: string(respBody)}
	}

	ch := make(chan StreamChunk)
	respID := uuid.NewString()

	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		send := func(chunk StreamChunk) bool {
			select {
			case ch <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		reader := newLineReader(httpResp.Body)
		roleSent := false

		for {
			line, err := reader.readLine()
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

			var geminiResp geminiResponse
			if err := json.Unmarshal(data, &geminiResp); err != nil {
				send(StreamChunk{Done: true, Error: &InvalidResponse{Reason: "decoding gemini stream event: " + err.Error()}})
				return
			}

			if len(geminiResp.Candidates) == 0 {
				continue
			}
			candidate := geminiResp.Candidates[0]

			delta := Delta{}
			if !roleSent {
				delta.Role = "assistant"
				roleSent = true
			}
			var toolCalls []ToolCallFragment
			for i, part := range candidate.Content.Parts {
				if part.Text != "" {
					delta.Content += part.Text
				}
				if part.FunctionCall != nil {
					args, _ := json.Marshal(part.FunctionCall.Args)
					toolCalls = append(toolCalls, ToolCallFragment{
						Index: i,
						Function: ToolCallFunctionFragment{
							Name:      part.FunctionCall.Name,
							Arguments: string(args),
						},
					})
				}
			}
			delta.ToolCalls = toolCalls

			chunk := StreamChunk{
				ID:      respID,
				Model:   req.Model,
				Choices: []ChunkChoice{{Delta: delta}},
			}

			if candidate.FinishReason != "" {
				chunk.Done = true
				reason := mapGeminiFinishReason(candidate.FinishReason)
				chunk.Choices[0].FinishReason = &reason
			}

			if geminiResp.UsageMetadata != nil {
				chunk.Usage = &Usage{
					PromptTokens:     geminiResp.UsageMetadata.PromptTokenCount,
					CompletionTokens: geminiResp.UsageMetadata.CandidatesTokenCount,
					TotalTokens:      geminiResp.UsageMetadata.TotalTokenCount,
				}
			}

			if !send(chunk) {
				return
			}
		}
	}()

	return ch, nil
}
