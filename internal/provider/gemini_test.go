package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGemini_ChatCompletion_UsesHeaderAuthAndMapsRoles(t *testing.T) {
	var captured geminiRequest
	var capturedPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedPath = r.URL.Path
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.Empty(t, r.URL.Query().Get("key"), "api key must not appear as a query parameter")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		resp := geminiResponse{
			Candidates: []geminiCandidate{{
				Content:      geminiContent{Role: "model", Parts: []geminiPart{{Text: "hello back"}}},
				FinishReason: "STOP",
			}},
			UsageMetadata: &geminiUsageMetadata{PromptTokenCount: 4, CandidatesTokenCount: 2, TotalTokenCount: 6},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := NewGeminiProvider("test-key", server.URL, server.Client())

	req := &ChatRequest{
		Model: "gemini-1.5-pro",
		Messages: []Message{
			{Role: "system", Content: Content{Text: "be nice"}},
			{Role: "user", Content: Content{Text: "hi"}},
			{Role: "assistant", Content: Content{Text: "hello"}},
		},
	}

	resp, err := p.ChatCompletion(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(capturedPath, "gemini-1.5-pro:generateContent"))
	require.NotNil(t, captured.SystemInstruction)
	assert.Equal(t, "be nice", captured.SystemInstruction.Parts[0].Text)
	require.Len(t, captured.Contents, 2)
	assert.Equal(t, "user", captured.Contents[0].Role)
	assert.Equal(t, "model", captured.Contents[1].Role) // assistant -> model

	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hello back", resp.Choices[0].Message.Content.Text)
	assert.Equal(t, FinishStop, resp.Choices[0].FinishReason)
	assert.Equal(t, 6, resp.Usage.TotalTokens)
}

func TestGemini_ChatCompletion_NoCandidatesIsInvalidResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(geminiResponse{})
	}))
	defer server.Close()

	p := NewGeminiProvider("key", server.URL, server.Client())

	_, err := p.ChatCompletion(context.Background(), &ChatRequest{Model: "gemini-1.5-pro"})
	require.Error(t, err)
	_, ok := err.(*InvalidResponse)
	assert.True(t, ok, "expected *InvalidResponse, got %T", err)
}

func TestGemini_ChatCompletionStream_MintsOneResponseIDForWholeStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.Contains(r.URL.RawQuery, "alt=sse"))
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`{"candidates":[{"content":{"parts":[{"text":"Hel"}]}}]}`,
			`{"candidates":[{"content":{"parts":[{"text":"lo"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":2,"totalTokenCount":5}}`,
		}
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
		}
	}))
	defer server.Close()

	p := NewGeminiProvider("key", server.URL, server.Client())

	ch, err := p.ChatCompletionStream(context.Background(), &ChatRequest{Model: "gemini-1.5-pro", Stream: true})
	require.NoError(t, err)

	var ids []string
	var text strings.Builder
	var sawFinish bool
	for chunk := range ch {
		require.Nil(t, chunk.Error)
		ids = append(ids, chunk.ID)
		for _, choice := range chunk.Choices {
			text.WriteString(choice.Delta.Content)
			if choice.FinishReason != nil {
				sawFinish = true
				assert.Equal(t, FinishStop, *choice.FinishReason)
			}
		}
	}

	require.Len(t, ids, 2)
	assert.Equal(t, ids[0], ids[1], "gemini adapter must reuse one minted id across the whole stream")
	assert.Equal(t, "Hello", text.String())
	assert.True(t, sawFinish)
}
