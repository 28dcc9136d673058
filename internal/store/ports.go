// Package store defines the interfaces the core consumes for persistence
// and auth (§4.H) — treated as external collaborators, not implemented
// against a real database (§1 explicitly excludes the persistence layer
// proper). memory.go provides in-memory implementations sufficient to
// drive the core end-to-end in tests.
package store

import (
	"context"
	"time"

	"github.com/llmrouter/gateway/internal/domain"
	"github.com/llmrouter/gateway/internal/pricing"
)

// ResponseRepository persists ResponseObject rows.
type ResponseRepository interface {
	Create(ctx context.Context, resp *domain.ResponseObject) error
	Update(ctx context.Context, resp *domain.ResponseObject) error
	Get(ctx context.Context, id string) (*domain.ResponseObject, error)
}

// ResponseItemRepository persists individual response output items.
type ResponseItemRepository interface {
	Create(ctx context.Context, responseID string, item domain.ResponseOutputItem) error
	ListByResponse(ctx context.Context, responseID string) ([]domain.ResponseOutputItem, error)
	ListByConversation(ctx context.Context, conversationID string) ([]domain.ResponseOutputItem, error)
}

// ConversationRepository reads/updates conversation metadata (e.g. title).
type ConversationRepository interface {
	Get(ctx context.Context, id string) (*domain.Conversation, error)
	UpdateMetadata(ctx context.Context, id string, metadata map[string]string) error
}

// ModelsRepository resolves an alias or canonical model id and looks up
// time-effective pricing (§4.D step 1, §4.F).
type ModelsRepository interface {
	ResolveAndGet(ctx context.Context, modelOrAlias string) (canonicalModelID string, descriptor domain.ProviderDescriptor, err error)
	GetPricingAt(ctx context.Context, modelID string, at time.Time) (pricing.Record, error)
}

// OrgBalanceRepository reads and decrements an organization's nano-USD
// credit balance.
type OrgBalanceRepository interface {
	Read(ctx context.Context, orgID string) (int64, error)
	Decrement(ctx context.Context, orgID string, amountNanoUSD int64) error
}

// UsageRepository inserts usage rows. Insert must be idempotent on
// InferenceID (§4.F, §8 "billing idempotency").
type UsageRepository interface {
	Insert(ctx context.Context, record domain.UsageRecord) error
}

// AuthService resolves a bearer token to a Principal. Stands in for the
// org/workspace/api-key system (§1 "treated as an auth service returning
// a principal").
type AuthService interface {
	Authenticate(ctx context.Context, bearerToken string) (domain.Principal, error)
}

// ErrNotFound is returned by Get/ResolveAndGet when the requested entity
// doesn't exist.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "not found" }
