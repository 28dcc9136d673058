package responses

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/llmrouter/gateway/internal/admission"
	"github.com/llmrouter/gateway/internal/billing"
	"github.com/llmrouter/gateway/internal/completion"
	"github.com/llmrouter/gateway/internal/domain"
	"github.com/llmrouter/gateway/internal/pool"
	"github.com/llmrouter/gateway/internal/pricing"
	"github.com/llmrouter/gateway/internal/provider"
	"github.com/llmrouter/gateway/internal/store"
	"github.com/llmrouter/gateway/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProvider replays a fixed sequence of streamed chunk sets, one
// per call to ChatCompletionStream; the last entry repeats for any call
// beyond the script's length, which is how the max-iterations test keeps
// returning tool_calls forever.
type scriptedProvider struct {
	mu    sync.Mutex
	calls int
	steps [][]provider.StreamChunk
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) ChatCompletion(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	return nil, fmt.Errorf("scriptedProvider does not implement non-streaming completion")
}

func (p *scriptedProvider) ChatCompletionStream(ctx context.Context, req *provider.ChatRequest) (<-chan provider.StreamChunk, error) {
	p.mu.Lock()
	idx := p.calls
	p.calls++
	if idx >= len(p.steps) {
		idx = len(p.steps) - 1
	}
	chunks := p.steps[idx]
	p.mu.Unlock()

	ch := make(chan provider.StreamChunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

// stubExecutor is a tools.Executor returning a fixed result and counting
// invocations.
type stubExecutor struct {
	result string
	err    error
	calls  int64
}

func (s *stubExecutor) Search(ctx context.Context, params map[string]any) (string, error) {
	atomic.AddInt64(&s.calls, 1)
	return s.result, s.err
}

type testHarness struct {
	service       *Service
	responses     *store.MemoryResponses
	items         *store.MemoryResponseItems
	conversations *store.MemoryConversations
	registry      *tools.Registry
}

func newHarness(t *testing.T, prov provider.Provider) *testHarness {
	t.Helper()

	table := pricing.NewTable()
	require.NoError(t, table.AddRecord(pricing.Record{
		ModelID:             "m",
		InputNanoUSDPerTok:  1,
		OutputNanoUSDPerTok: 1,
		EffectiveFrom:       time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}))
	models := store.NewMemoryModels(table)
	models.RegisterModel(domain.ProviderDescriptor{ID: "m", Kind: "vllm"})

	balances := store.NewMemoryOrgBalances()
	balances.Set("org-1", 1_000_000)

	usage := store.NewMemoryUsage()
	recorder := billing.NewRecorder(usage, balances, nil)

	backendPool := pool.New()
	backendPool.Register("m", prov, false)

	completionSvc := completion.NewService(models, admission.NewChecker(balances, nil), backendPool, recorder)

	responsesRepo := store.NewMemoryResponses()
	itemsRepo := store.NewMemoryResponseItems()
	conversationsRepo := store.NewMemoryConversations()
	registry := tools.NewRegistry(time.Second)

	svc := NewService(completionSvc, responsesRepo, itemsRepo, conversationsRepo, registry, "m")

	return &testHarness{
		service:       svc,
		responses:     responsesRepo,
		items:         itemsRepo,
		conversations: conversationsRepo,
		registry:      registry,
	}
}

func testPrincipal() domain.Principal {
	return domain.Principal{APIKeyID: "key-1", WorkspaceID: "ws-1", OrgID: "org-1"}
}

// drain collects every event from the channel until it closes, with a
// generous timeout so a broken loop fails the test instead of hanging it.
func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for events to drain")
		}
	}
}

func eventTypes(events []Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestCreateResponseStream_MessageOnly(t *testing.T) {
	prov := &scriptedProvider{steps: [][]provider.StreamChunk{
		{
			{Choices: []provider.ChunkChoice{{Delta: provider.Delta{Content: "Hello"}}}},
			{Choices: []provider.ChunkChoice{{Delta: provider.Delta{Content: ", world"}}}},
			{Usage: &provider.Usage{PromptTokens: 5, CompletionTokens: 2}},
		},
	}}
	h := newHarness(t, prov)

	events, responseID, err := h.service.CreateResponseStream(context.Background(), CreateRequest{
		Model: "m",
		Input: "hi",
	}, testPrincipal())
	require.NoError(t, err)
	require.NotEmpty(t, responseID)

	collected := drain(t, events)
	types := eventTypes(collected)

	assert.Equal(t, "response.created", types[0])
	assert.Equal(t, "response.in_progress", types[1])
	assert.Contains(t, types, "response.output_item.added")
	assert.Contains(t, types, "response.output_text.delta")
	assert.Contains(t, types, "response.output_text.done")
	assert.Contains(t, types, "response.output_item.done")
	assert.Equal(t, "response.completed", types[len(types)-1])

	stored, err := h.service.GetResponse(context.Background(), responseID)
	require.NoError(t, err)
	assert.Equal(t, domain.ResponseCompleted, stored.Status)

	items, err := h.items.ListByResponse(context.Background(), responseID)
	require.NoError(t, err)
	require.Len(t, items, 2) // user input + assistant message
	assert.Equal(t, "user", items[0].Role)
	assert.Equal(t, "assistant", items[1].Role)
	assert.Equal(t, "Hello, world", items[1].Content[0].Text)
}

func TestCreateResponseStream_WebSearchToolCall(t *testing.T) {
	prov := &scriptedProvider{steps: [][]provider.StreamChunk{
		{
			{Choices: []provider.ChunkChoice{{Delta: provider.Delta{ToolCalls: []provider.ToolCallFragment{
				{Index: 0, ID: "call_1", Function: provider.ToolCallFunctionFragment{Name: "web_search", Arguments: `{"query":`}},
			}}}}},
			{Choices: []provider.ChunkChoice{{Delta: provider.Delta{ToolCalls: []provider.ToolCallFragment{
				{Index: 0, Function: provider.ToolCallFunctionFragment{Arguments: `"golang generics"}`}},
			}}}}},
			{Usage: &provider.Usage{PromptTokens: 20, CompletionTokens: 4}},
		},
		{
			{Choices: []provider.ChunkChoice{{Delta: provider.Delta{Content: "Generics were added in Go 1.18."}}}},
			{Usage: &provider.Usage{PromptTokens: 30, CompletionTokens: 8}},
		},
	}}
	h := newHarness(t, prov)
	search := &stubExecutor{result: "1. Go 1.18 release notes"}
	h.registry.Register("web_search", search)

	events, responseID, err := h.service.CreateResponseStream(context.Background(), CreateRequest{
		Model: "m",
		Input: "when were generics added to go?",
		Tools: []string{"web_search"},
	}, testPrincipal())
	require.NoError(t, err)

	collected := drain(t, events)
	types := eventTypes(collected)

	assert.Contains(t, types, "response.web_search_call.in_progress")
	assert.Contains(t, types, "response.web_search_call.searching")
	assert.Contains(t, types, "response.web_search_call.completed")
	assert.Equal(t, "response.completed", types[len(types)-1])
	assert.EqualValues(t, 1, atomic.LoadInt64(&search.calls))

	items, err := h.items.ListByResponse(context.Background(), responseID)
	require.NoError(t, err)
	require.Len(t, items, 3) // user input, web_search_call, assistant message
	assert.Equal(t, domain.OutputItemWebSearchCall, items[1].Type)
	assert.Equal(t, domain.ItemCompleted, items[1].Status)
	assert.Equal(t, "1. Go 1.18 release notes", items[1].Output)
	require.NotNil(t, items[1].Action)
	assert.Equal(t, "golang generics", items[1].Action.Query)
	assert.Equal(t, "Generics were added in Go 1.18.", items[2].Content[0].Text)
}

func TestCreateResponseStream_MalformedToolCallSelfRepairs(t *testing.T) {
	prov := &scriptedProvider{steps: [][]provider.StreamChunk{
		{
			// A tool call fragment with no name at all.
			{Choices: []provider.ChunkChoice{{Delta: provider.Delta{ToolCalls: []provider.ToolCallFragment{
				{Index: 0, Function: provider.ToolCallFunctionFragment{Arguments: `{}`}},
			}}}}},
			{Usage: &provider.Usage{PromptTokens: 10, CompletionTokens: 1}},
		},
		{
			{Choices: []provider.ChunkChoice{{Delta: provider.Delta{Content: "Sorry, let me try again."}}}},
			{Usage: &provider.Usage{PromptTokens: 15, CompletionTokens: 5}},
		},
	}}
	h := newHarness(t, prov)

	events, responseID, err := h.service.CreateResponseStream(context.Background(), CreateRequest{
		Model: "m",
		Input: "do something",
	}, testPrincipal())
	require.NoError(t, err)

	collected := drain(t, events)
	assert.Equal(t, "response.completed", collected[len(collected)-1].Type)

	items, err := h.items.ListByResponse(context.Background(), responseID)
	require.NoError(t, err)
	// The synthesized error for a missing tool name never becomes an item —
	// only web_search calls get an item added/done; the error text still
	// reaches the model as a role:"tool" message, which the second
	// iteration's assistant reply below demonstrates indirectly.
	require.Len(t, items, 2) // user input, assistant message
	assert.Equal(t, "assistant", items[1].Role)
	assert.Equal(t, "Sorry, let me try again.", items[1].Content[0].Text)
}

func TestCreateResponseStream_MaxIterationsBound(t *testing.T) {
	prov := &scriptedProvider{steps: [][]provider.StreamChunk{
		{
			{Choices: []provider.ChunkChoice{{Delta: provider.Delta{ToolCalls: []provider.ToolCallFragment{
				{Index: 0, ID: "call_x", Function: provider.ToolCallFunctionFragment{Name: "current_date", Arguments: `{}`}},
			}}}}},
			{Usage: &provider.Usage{PromptTokens: 1, CompletionTokens: 1}},
		},
	}}
	h := newHarness(t, prov)
	h.service.maxIterations = 3

	events, responseID, err := h.service.CreateResponseStream(context.Background(), CreateRequest{
		Model: "m",
		Input: "what time is it, forever",
	}, testPrincipal())
	require.NoError(t, err)

	collected := drain(t, events)
	assert.Equal(t, "response.completed", collected[len(collected)-1].Type)

	items, err := h.items.ListByResponse(context.Background(), responseID)
	require.NoError(t, err)
	// current_date calls never get a persisted item, so only the user
	// input item survives no matter how many iterations ran.
	assert.Len(t, items, 1)
}

func TestCreateResponseStream_ClientDisconnectDoesNotHang(t *testing.T) {
	prov := &scriptedProvider{steps: [][]provider.StreamChunk{
		{
			{Choices: []provider.ChunkChoice{{Delta: provider.Delta{Content: "partial"}}}},
			{Usage: &provider.Usage{PromptTokens: 1, CompletionTokens: 1}},
		},
	}}
	h := newHarness(t, prov)

	ctx, cancel := context.WithCancel(context.Background())
	events, _, err := h.service.CreateResponseStream(ctx, CreateRequest{
		Model: "m",
		Input: "hi",
	}, testPrincipal())
	require.NoError(t, err)

	cancel()

	// The loop must still reach a terminal state and close the channel
	// even though the caller stopped reading immediately.
	drain(t, events)
}
