package completion

import (
	"context"

	"github.com/llmrouter/gateway/internal/provider"
)

// tee forks a single adapter stream into two channels: the raw stream
// relayed to the HTTP client, and a copy inspected by the accounting
// goroutine to maintain running token counts (§4.D step 5). Both channels
// close once in is drained. After ctx is cancelled (a disconnected
// client), a send to the client side that would block is skipped, while
// every chunk is still delivered to the accounting side, which always
// drains its channel.
func tee(ctx context.Context, in <-chan provider.StreamChunk) (client <-chan provider.StreamChunk, acc <-chan provider.StreamChunk) {
	c := make(chan provider.StreamChunk)
	a := make(chan provider.StreamChunk)

	go func() {
		defer close(c)
		defer close(a)

		for chunk := range in {
			select {
			case c <- chunk:
			case <-ctx.Done():
			}
			a <- chunk
		}
	}()

	return c, a
}
