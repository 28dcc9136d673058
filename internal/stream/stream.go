// Package stream writes canonical StreamChunks to an http.ResponseWriter
// as OpenAI-compatible Server-Sent Events.
package stream

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/llmrouter/gateway/internal/provider"
)

// wireChunk is the JSON shape sent to the client for each SSE event. It
// mirrors provider.StreamChunk plus the "object" discriminator OpenAI
// clients expect; Done/Error never escape to the wire (they're signaling
// fields private to the gateway's own plumbing).
type wireChunk struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []provider.ChunkChoice `json:"choices"`
	Usage   *provider.Usage        `json:"usage,omitempty"`
}

// Write reads StreamChunks from the channel and writes them to w as
// "data: {json}\n\n" frames, finishing with "data: [DONE]\n\n".
func Write(w http.ResponseWriter, chunks <-chan provider.StreamChunk) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support flushing (http.Flusher)")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for chunk := range chunks {
		if chunk.Error != nil {
			log.Printf("stream error: %v", chunk.Error)
			// Headers are already sent; the best we can do in SSE is stop
			// emitting events. The client detects the truncation by the
			// absence of the [DONE] sentinel.
			return chunk.Error
		}

		if err := writeFrame(w, flusher, chunk); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprint(w, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("writing SSE done marker: %w", err)
	}
	flusher.Flush()

	return nil
}

func writeFrame(w http.ResponseWriter, flusher http.Flusher, chunk provider.StreamChunk) error {
	event := wireChunk{
		ID:      chunk.ID,
		Object:  "chat.completion.chunk",
		Created: chunk.Created,
		Model:   chunk.Model,
		Choices: chunk.Choices,
		Usage:   chunk.Usage,
	}
	if event.Choices == nil {
		event.Choices = []provider.ChunkChoice{}
	}

	jsonBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling SSE chunk: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", jsonBytes); err != nil {
		return fmt.Errorf("writing SSE event: %w", err)
	}
	flusher.Flush()
	return nil
}
