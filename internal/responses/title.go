// title.go implements the background conversation-title task (§4.E
// "Conversation title generation"): spawned once per request that carries
// a conversation_id whose metadata doesn't yet have a title, awaited with
// a 2-second timeout at the end of the agent loop so a prompt title still
// lands before response.completed, but never blocking or delaying any
// user-visible event before that.
package responses

import (
	"context"
	"fmt"
	"time"

	"github.com/llmrouter/gateway/internal/domain"
	"github.com/llmrouter/gateway/internal/provider"
)

const titleGenerationTimeout = 30 * time.Second

type titleTask struct {
	done chan struct{}
}

// maybeStartTitleTask returns nil if no title needs generating —
// conversationID is empty, the conversation can't be read, or it already
// carries a title.
func (s *Service) maybeStartTitleTask(conversationID, firstUserMessage string, emitter *EventEmitter, principal domain.Principal) *titleTask {
	if conversationID == "" {
		return nil
	}

	bgCtx, cancel := context.WithTimeout(context.Background(), titleGenerationTimeout)

	conv, err := s.conversations.Get(bgCtx, conversationID)
	if err != nil || conv.Metadata["title"] != "" {
		cancel()
		return nil
	}

	task := &titleTask{done: make(chan struct{})}
	go func() {
		defer cancel()
		defer close(task.done)

		prompt := buildTitlePrompt(firstUserMessage)
		resp, _, err := s.completion.CreateChatCompletion(bgCtx, &provider.ChatRequest{
			Model:     s.titleModel,
			Messages:  []provider.Message{{Role: "user", Content: provider.Content{Text: prompt}}},
			MaxTokens: 20,
		}, principal)
		if err != nil {
			return
		}

		title := ""
		if len(resp.Choices) > 0 {
			title = resp.Choices[0].Message.Content.String()
		}
		title = truncateRunes(title, 60)

		if err := s.conversations.UpdateMetadata(bgCtx, conversationID, map[string]string{"title": title}); err != nil {
			return
		}
		emitter.TitleUpdated(conversationID, title)
	}()
	return task
}

// await blocks until the title task finishes or timeout elapses,
// whichever comes first. A nil task (no title generation needed)
// returns immediately.
func (t *titleTask) await(timeout time.Duration) {
	if t == nil {
		return
	}
	select {
	case <-t.done:
	case <-time.After(timeout):
	}
}

func buildTitlePrompt(userMessage string) string {
	return fmt.Sprintf("Generate a title ≤60 chars for: %s", truncateRunes(userMessage, 500))
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
