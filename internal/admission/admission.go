// Package admission implements the pre-dispatch credit check (§4.D step 2,
// §5 "admission safety"): a request is dispatched only if, at admission
// time, the organization's balance is strictly positive. There is no
// reservation — an in-flight request may still drive the balance negative
// by the time it finishes, and that overshoot is accepted by design.
package admission

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/llmrouter/gateway/internal/gwerrors"
	"github.com/llmrouter/gateway/internal/store"
	"github.com/redis/go-redis/v9"
)

// cacheTTL bounds how long a cached balance read is trusted before falling
// back to the repository. A generous-but-short window: every admission
// check is already best-effort (no reservation), so a few seconds of
// staleness only widens the overshoot the design already accepts.
const cacheTTL = 2 * time.Second

// Checker performs the admission credit check, optionally cache-aside in
// front of a Redis instance so a hot org doesn't hit the balance
// repository on every single request (§4.F).
type Checker struct {
	balances store.OrgBalanceRepository
	redis    *redis.Client // nil disables the cache-aside read path
}

// NewChecker builds a Checker. redisClient may be nil, in which case every
// check reads the repository directly.
func NewChecker(balances store.OrgBalanceRepository, redisClient *redis.Client) *Checker {
	return &Checker{balances: balances, redis: redisClient}
}

func cacheKey(orgID string) string { return "org_balance:" + orgID }

// Check reads orgID's balance and fails with KindInsufficientCredits if it
// is not strictly positive.
func (c *Checker) Check(ctx context.Context, orgID string) error {
	balance, ok := c.readCached(ctx, orgID)
	if !ok {
		var err error
		balance, err = c.balances.Read(ctx, orgID)
		if err != nil {
			return gwerrors.Wrap(gwerrors.KindInternalError, "reading org balance", err)
		}
		c.writeCached(ctx, orgID, balance)
	}

	if balance <= 0 {
		return gwerrors.New(gwerrors.KindInsufficientCredits, "organization has insufficient credits")
	}
	return nil
}

func (c *Checker) readCached(ctx context.Context, orgID string) (int64, bool) {
	if c.redis == nil {
		return 0, false
	}
	s, err := c.redis.Get(ctx, cacheKey(orgID)).Result()
	if err != nil {
		return 0, false
	}
	balance, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return balance, true
}

func (c *Checker) writeCached(ctx context.Context, orgID string, balance int64) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Set(ctx, cacheKey(orgID), fmt.Sprintf("%d", balance), cacheTTL).Err(); err != nil {
		log.Printf("admission: redis cache write failed for org %s: %v", orgID, err)
	}
}
