// Package billing implements the usage recorder described in §4.F: write
// the UsageRecord first, then decrement OrgBalance, with a Redis-backed
// idempotency guard standing in for (and layered in front of) the
// repository's own unique-constraint-as-success behavior (§8 "billing
// idempotency").
package billing

import (
	"context"
	"log"
	"time"

	"github.com/llmrouter/gateway/internal/domain"
	"github.com/llmrouter/gateway/internal/store"
	"github.com/redis/go-redis/v9"
)

// idempotencyTTL bounds how long a SETNX guard key survives. It only needs
// to outlive retries of the same inference_id, not the record itself — the
// repository's Insert is idempotent on its own once the row lands.
const idempotencyTTL = 24 * time.Hour

// Recorder records completed or failed inferences (§4.D step 6-7, §4.F).
type Recorder struct {
	usage    store.UsageRepository
	balances store.OrgBalanceRepository
	redis    *redis.Client // nil disables the cache-aside idempotency guard
}

// NewRecorder builds a Recorder. redisClient may be nil, in which case
// idempotency relies solely on the repository's own unique constraint.
func NewRecorder(usage store.UsageRepository, balances store.OrgBalanceRepository, redisClient *redis.Client) *Recorder {
	return &Recorder{usage: usage, balances: balances, redis: redisClient}
}

// Record writes record and decrements its org's balance by its cost. It is
// safe to call more than once with the same InferenceID: the Redis guard
// (when configured) and the repository's own idempotent Insert both treat
// a duplicate as a no-op success.
func (r *Recorder) Record(ctx context.Context, record domain.UsageRecord) error {
	if r.redis != nil {
		key := "inference:" + record.InferenceID
		acquired, err := r.redis.SetNX(ctx, key, "1", idempotencyTTL).Result()
		if err != nil {
			// Cache is best-effort: fall through to the repository's own
			// unique-constraint idempotency rather than failing the record.
			log.Printf("billing: redis SETNX failed for %s: %v", record.InferenceID, err)
		} else if !acquired {
			return nil
		}
	}

	if err := r.usage.Insert(ctx, record); err != nil {
		return err
	}

	// The usage row is the audit trail; if the decrement fails, retry once
	// before giving up — usage recording failures are logged and retried
	// once, never surfaced to the client (spec's billing policy).
	err := r.balances.Decrement(ctx, record.OrgID, record.CostNanoUSD)
	if err != nil {
		log.Printf("billing: balance decrement failed for org %s, inference %s, retrying once: %v", record.OrgID, record.InferenceID, err)
		err = r.balances.Decrement(ctx, record.OrgID, record.CostNanoUSD)
	}
	if err != nil {
		log.Printf("billing: balance decrement failed for org %s, inference %s after retry: %v", record.OrgID, record.InferenceID, err)
		return err
	}
	return nil
}

// RecordAsync runs Record in a detached goroutine, the way §4.D step 7
// requires usage recording to not block the HTTP response future.
func (r *Recorder) RecordAsync(record domain.UsageRecord) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := r.Record(ctx, record); err != nil {
			log.Printf("billing: async record failed for inference %s: %v", record.InferenceID, err)
		}
	}()
}
