package admission

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/llmrouter/gateway/internal/gwerrors"
	"github.com/llmrouter/gateway/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_AllowsPositiveBalance(t *testing.T) {
	balances := store.NewMemoryOrgBalances()
	balances.Set("org-1", 100)
	checker := NewChecker(balances, nil)

	require.NoError(t, checker.Check(context.Background(), "org-1"))
}

func TestCheck_RejectsZeroBalance(t *testing.T) {
	balances := store.NewMemoryOrgBalances()
	balances.Set("org-1", 0)
	checker := NewChecker(balances, nil)

	err := checker.Check(context.Background(), "org-1")
	require.Error(t, err)
	ge, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.KindInsufficientCredits, ge.Kind)
}

func TestCheck_RejectsNegativeBalance(t *testing.T) {
	balances := store.NewMemoryOrgBalances()
	balances.Set("org-1", -5)
	checker := NewChecker(balances, nil)

	err := checker.Check(context.Background(), "org-1")
	require.Error(t, err)
}

func TestCheck_UnknownOrgDefaultsToZeroBalance(t *testing.T) {
	balances := store.NewMemoryOrgBalances()
	checker := NewChecker(balances, nil)

	err := checker.Check(context.Background(), "unknown-org")
	require.Error(t, err)
}

func TestCheck_CachesBalanceInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	balances := store.NewMemoryOrgBalances()
	balances.Set("org-1", 100)
	checker := NewChecker(balances, redisClient)

	require.NoError(t, checker.Check(context.Background(), "org-1"))
	assert.True(t, mr.Exists(cacheKey("org-1")))

	// Draining the repository's balance to zero must not affect a check
	// served from the still-fresh cache entry.
	balances.Set("org-1", 0)
	require.NoError(t, checker.Check(context.Background(), "org-1"))

	// Once the cache entry expires, the check reflects the real balance.
	mr.FastForward(cacheTTL + time.Second)
	err := checker.Check(context.Background(), "org-1")
	require.Error(t, err)
	ge, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.KindInsufficientCredits, ge.Kind)
}
