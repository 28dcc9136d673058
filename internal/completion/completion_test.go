package completion

import (
	"context"
	"testing"
	"time"

	"github.com/llmrouter/gateway/internal/admission"
	"github.com/llmrouter/gateway/internal/billing"
	"github.com/llmrouter/gateway/internal/domain"
	"github.com/llmrouter/gateway/internal/gwerrors"
	"github.com/llmrouter/gateway/internal/pool"
	"github.com/llmrouter/gateway/internal/pricing"
	"github.com/llmrouter/gateway/internal/provider"
	"github.com/llmrouter/gateway/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name       string
	failStream bool
	failHTTP   bool
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) ChatCompletion(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	if f.failHTTP {
		return nil, &provider.HttpError{Status: 429, Body: "slow down"}
	}
	return &provider.ChatResponse{
		Model:   req.Model,
		Choices: []provider.Choice{{Message: provider.Message{Role: "assistant", Content: provider.Content{Text: "hi"}}}},
		Usage:   provider.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (f *fakeProvider) ChatCompletionStream(ctx context.Context, req *provider.ChatRequest) (<-chan provider.StreamChunk, error) {
	if f.failStream {
		return nil, &provider.Transport{Reason: "boom"}
	}
	ch := make(chan provider.StreamChunk, 2)
	ch <- provider.StreamChunk{Model: req.Model, Choices: []provider.ChunkChoice{{Delta: provider.Delta{Content: "hi"}}}}
	ch <- provider.StreamChunk{Model: req.Model, Usage: &provider.Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10}, Done: true}
	close(ch)
	return ch, nil
}

func newTestService(t *testing.T) (*Service, *store.MemoryUsage, *store.MemoryOrgBalances) {
	t.Helper()
	table := pricing.NewTable()
	require.NoError(t, table.AddRecord(pricing.Record{
		ModelID:             "m",
		InputNanoUSDPerTok:  10,
		OutputNanoUSDPerTok: 20,
		EffectiveFrom:       time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}))

	models := store.NewMemoryModels(table)
	models.RegisterModel(domain.ProviderDescriptor{ID: "m", Kind: "vllm"})
	models.RegisterAlias("m-alias", "m")

	balances := store.NewMemoryOrgBalances()
	balances.Set("org-1", 1_000_000)

	usage := store.NewMemoryUsage()
	recorder := billing.NewRecorder(usage, balances, nil)

	backendPool := pool.New()

	svc := NewService(models, admission.NewChecker(balances, nil), backendPool, recorder)
	return svc, usage, balances
}

func principal() domain.Principal {
	return domain.Principal{APIKeyID: "key-1", WorkspaceID: "ws-1", OrgID: "org-1"}
}

func TestCreateChatCompletion_Success(t *testing.T) {
	svc, usage, balances := newTestService(t)
	svc.pool.Register("m", &fakeProvider{name: "backend"}, false)

	resp, inferenceID, err := svc.CreateChatCompletion(context.Background(), &provider.ChatRequest{Model: "m-alias"}, principal())
	require.NoError(t, err)
	assert.Equal(t, "m", resp.Model)
	assert.NotEmpty(t, inferenceID)

	require.Eventually(t, func() bool {
		_, ok := usage.Get(inferenceID)
		return ok
	}, time.Second, 5*time.Millisecond)

	row, _ := usage.Get(inferenceID)
	assert.Equal(t, "completed", row.Status)
	assert.Equal(t, int64(10*10+5*20), row.CostNanoUSD)

	balance, _ := balances.Read(context.Background(), "org-1")
	assert.Equal(t, int64(1_000_000-(10*10+5*20)), balance)
}

func TestCreateChatCompletion_UnknownModel(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, _, err := svc.CreateChatCompletion(context.Background(), &provider.ChatRequest{Model: "does-not-exist"}, principal())
	require.Error(t, err)
	ge, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.KindModelNotFound, ge.Kind)
}

func TestCreateChatCompletion_InsufficientCredits(t *testing.T) {
	svc, _, balances := newTestService(t)
	svc.pool.Register("m", &fakeProvider{name: "backend"}, false)
	balances.Set("org-1", 0)

	_, _, err := svc.CreateChatCompletion(context.Background(), &provider.ChatRequest{Model: "m"}, principal())
	require.Error(t, err)
	ge, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.KindInsufficientCredits, ge.Kind)
}

func TestCreateChatCompletion_NoBackend(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, _, err := svc.CreateChatCompletion(context.Background(), &provider.ChatRequest{Model: "m"}, principal())
	require.Error(t, err)
	ge, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.KindModelUnavailable, ge.Kind)
}

func TestCreateChatCompletion_UpstreamErrorStillRecordsFailedUsage(t *testing.T) {
	svc, usage, _ := newTestService(t)
	svc.pool.Register("m", &fakeProvider{name: "backend", failHTTP: true}, false)

	_, inferenceID, err := svc.CreateChatCompletion(context.Background(), &provider.ChatRequest{Model: "m"}, principal())
	require.Error(t, err)
	ge, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.KindRateLimited, ge.Kind)

	require.Eventually(t, func() bool {
		_, ok := usage.Get(inferenceID)
		return ok
	}, time.Second, 5*time.Millisecond)
	row, _ := usage.Get(inferenceID)
	assert.Equal(t, "failed", row.Status)
	assert.Equal(t, int64(0), row.CostNanoUSD)
}

func TestCreateChatCompletionStream_Success(t *testing.T) {
	svc, usage, _ := newTestService(t)
	svc.pool.Register("m", &fakeProvider{name: "backend"}, false)

	ch, inferenceID, err := svc.CreateChatCompletionStream(context.Background(), &provider.ChatRequest{Model: "m"}, principal())
	require.NoError(t, err)

	var chunks []provider.StreamChunk
	for chunk := range ch {
		chunks = append(chunks, chunk)
	}
	assert.Len(t, chunks, 2)

	require.Eventually(t, func() bool {
		_, ok := usage.Get(inferenceID)
		return ok
	}, time.Second, 5*time.Millisecond)

	row, _ := usage.Get(inferenceID)
	assert.Equal(t, "completed", row.Status)
	assert.Equal(t, 7, row.InputTokens)
	assert.Equal(t, 3, row.OutputTokens)
}

func TestCreateChatCompletionStream_ClientDisconnectStillRecordsUsage(t *testing.T) {
	svc, usage, _ := newTestService(t)
	svc.pool.Register("m", &fakeProvider{name: "backend"}, false)

	ctx, cancel := context.WithCancel(context.Background())
	ch, inferenceID, err := svc.CreateChatCompletionStream(ctx, &provider.ChatRequest{Model: "m"}, principal())
	require.NoError(t, err)

	// Simulate a disconnect: stop reading from the client channel and
	// cancel its context, the way an http.Handler does when the request
	// context is done.
	<-ch
	cancel()

	require.Eventually(t, func() bool {
		_, ok := usage.Get(inferenceID)
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestCreateChatCompletionStream_TransportErrorMapsToUpstream(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.pool.Register("m", &fakeProvider{name: "backend", failStream: true}, false)

	_, _, err := svc.CreateChatCompletionStream(context.Background(), &provider.ChatRequest{Model: "m"}, principal())
	require.Error(t, err)
	ge, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.KindUpstreamError, ge.Kind)
}
