package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// VLLMProvider implements Provider for vLLM and any other OpenAI-compatible
// /v1/chat/completions endpoint. Since the canonical wire model already
// mirrors the OpenAI shape (§4.A), this adapter is close to a pure
// passthrough: minimal parsing, forward everything else as-is, extract
// usage from the final chunk for accounting.
type VLLMProvider struct {
	name    string // distinguishes multiple OpenAI-compatible backends in logs/metrics
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewVLLMProvider creates a VLLMProvider. name is typically "vllm" or
// "openai-compatible" (or a more specific label from config) and is what
// Name() reports.
func NewVLLMProvider(name, apiKey, baseURL string, client *http.Client) *VLLMProvider {
	return &VLLMProvider{name: name, apiKey: apiKey, baseURL: baseURL, client: client}
}

func (v *VLLMProvider) Name() string { return v.name }

// encodeRequest marshals ChatRequest for the wire, merging Extra back
// in so fields the gateway doesn't interpret still reach the upstream —
// the one adapter where Extra survives the round trip (§4.A).
func (v *VLLMProvider) encodeRequest(req *ChatRequest) ([]byte, error) {
	base, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if len(req.Extra) == 0 {
		return base, nil
	}

	var merged map[string]any
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, val := range req.Extra {
		if _, exists := merged[k]; !exists {
			merged[k] = val
		}
	}
	return json.Marshal(merged)
}

func (v *VLLMProvider) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	url := fmt.Sprintf("%s/chat/completions", v.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if v.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+v.apiKey)
	}
	return httpReq, nil
}

func (v *VLLMProvider) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	body, err := v.encodeRequest(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := v.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	httpResp, err := v.client.Do(httpReq)
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

	var resp ChatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &InvalidResponse{Reason: "decoding vllm response: " + err.Error()}
	}
	return &resp, nil
}

// ChatCompletionStream parses `data: ...` lines, recognizes the `[DONE]`
// sentinel, and forwards every other frame as a parsed StreamChunk almost
// unchanged — the upstream is already emitting our canonical shape.
func (v *VLLMProvider) ChatCompletionStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	streamReq := *req
	streamReq.Stream = true

	body, err := v.encodeRequest(&streamReq)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := v.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	httpResp, err := v.client.Do(httpReq)
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

		reader := newLineReader(httpResp.Body)

		for {
			line, err := reader.readLine()
			if err != nil {
				if err != io.EOF {
					select {
					case ch <- StreamChunk{Done: true, Error: &Transport{Reason: err.Error()}}:
					case <-ctx.Done():
					}
				}
				return
			}

			data, ok := dataPayload(line)
			if !ok {
				continue
			}

			if string(data) == "[DONE]" {
				return
			}

			var chunk StreamChunk
			if err := json.Unmarshal(data, &chunk); err != nil {
				select {
				case ch <- StreamChunk{Done: true, Error: &InvalidResponse{Reason: "decoding vllm stream chunk: " + err.Error()}}:
				case <-ctx.Done():
				}
				return
			}

			// The final chunk is the one carrying usage and/or a
			// finish_reason — mark it Done. The stream itself ends only
			// when the channel closes, on [DONE] or EOF.
			if chunk.Usage != nil || (len(chunk.Choices) > 0 && chunk.Choices[0].FinishReason != nil) {
				chunk.Done = true
			}

			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}
