package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/llmrouter/gateway/internal/domain"
	"github.com/llmrouter/gateway/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRecord_WritesUsageAndDecrementsBalance(t *testing.T) {
	usage := store.NewMemoryUsage()
	balances := store.NewMemoryOrgBalances()
	balances.Set("org-1", 1_000_000)
	recorder := NewRecorder(usage, balances, newTestRedis(t))

	err := recorder.Record(context.Background(), domain.UsageRecord{
		InferenceID: "inf-1",
		OrgID:       "org-1",
		ModelID:     "m",
		CostNanoUSD: 500,
		CreatedAt:   time.Now(),
		Status:      "completed",
	})
	require.NoError(t, err)

	row, ok := usage.Get("inf-1")
	require.True(t, ok)
	require.Equal(t, int64(500), row.CostNanoUSD)

	balance, err := balances.Read(context.Background(), "org-1")
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000-500), balance)
}

func TestRecord_DuplicateInferenceIDIsNoOp(t *testing.T) {
	usage := store.NewMemoryUsage()
	balances := store.NewMemoryOrgBalances()
	balances.Set("org-1", 1_000_000)
	recorder := NewRecorder(usage, balances, newTestRedis(t))

	record := domain.UsageRecord{
		InferenceID: "inf-dup",
		OrgID:       "org-1",
		CostNanoUSD: 500,
		Status:      "completed",
	}
	require.NoError(t, recorder.Record(context.Background(), record))
	require.NoError(t, recorder.Record(context.Background(), record))

	balance, err := balances.Read(context.Background(), "org-1")
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000-500), balance, "second Record call must not double-decrement")
}

func TestRecord_WithoutRedisStillIdempotentViaRepository(t *testing.T) {
	usage := store.NewMemoryUsage()
	balances := store.NewMemoryOrgBalances()
	balances.Set("org-1", 1_000_000)
	recorder := NewRecorder(usage, balances, nil)

	record := domain.UsageRecord{InferenceID: "inf-2", OrgID: "org-1", CostNanoUSD: 100}
	require.NoError(t, recorder.Record(context.Background(), record))
	require.NoError(t, recorder.Record(context.Background(), record))

	balance, err := balances.Read(context.Background(), "org-1")
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000-100), balance)
}

// flakyOrgBalances fails Decrement a configurable number of times before
// succeeding, to exercise Record's single-retry policy (spec.md §7: "usage
// recording failures are logged and retried once").
type flakyOrgBalances struct {
	*store.MemoryOrgBalances
	failuresLeft int
	calls        int
}

func (f *flakyOrgBalances) Decrement(ctx context.Context, orgID string, amountNanoUSD int64) error {
	f.calls++
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return errors.New("transient balance store error")
	}
	return f.MemoryOrgBalances.Decrement(ctx, orgID, amountNanoUSD)
}

func TestRecord_RetriesDecrementOnceAfterFailure(t *testing.T) {
	usage := store.NewMemoryUsage()
	balances := &flakyOrgBalances{MemoryOrgBalances: store.NewMemoryOrgBalances(), failuresLeft: 1}
	balances.Set("org-1", 1_000_000)
	recorder := NewRecorder(usage, balances, nil)

	err := recorder.Record(context.Background(), domain.UsageRecord{
		InferenceID: "inf-retry",
		OrgID:       "org-1",
		CostNanoUSD: 500,
		Status:      "completed",
	})
	require.NoError(t, err)
	require.Equal(t, 2, balances.calls, "one failed attempt plus one retry")

	balance, err := balances.Read(context.Background(), "org-1")
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000-500), balance)
}

func TestRecord_ReturnsErrorWhenRetryAlsoFails(t *testing.T) {
	usage := store.NewMemoryUsage()
	balances := &flakyOrgBalances{MemoryOrgBalances: store.NewMemoryOrgBalances(), failuresLeft: 2}
	balances.Set("org-1", 1_000_000)
	recorder := NewRecorder(usage, balances, nil)

	err := recorder.Record(context.Background(), domain.UsageRecord{
		InferenceID: "inf-retry-fail",
		OrgID:       "org-1",
		CostNanoUSD: 500,
		Status:      "completed",
	})
	require.Error(t, err)
	require.Equal(t, 2, balances.calls, "must not retry more than once")
}

func TestRecord_FailedStatusStillCharged(t *testing.T) {
	usage := store.NewMemoryUsage()
	balances := store.NewMemoryOrgBalances()
	balances.Set("org-1", 1_000_000)
	recorder := NewRecorder(usage, balances, newTestRedis(t))

	err := recorder.Record(context.Background(), domain.UsageRecord{
		InferenceID: "inf-failed",
		OrgID:       "org-1",
		CostNanoUSD: 200,
		Status:      "failed",
	})
	require.NoError(t, err)

	balance, err := balances.Read(context.Background(), "org-1")
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000-200), balance)
}
