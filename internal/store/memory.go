package store

import (
	"context"
	"sync"
	"time"

	"github.com/llmrouter/gateway/internal/domain"
	"github.com/llmrouter/gateway/internal/pricing"
)

// MemoryResponses is an in-memory ResponseRepository, mutex-guarded.
type MemoryResponses struct {
	mu   sync.RWMutex
	rows map[string]*domain.ResponseObject
}

func NewMemoryResponses() *MemoryResponses {
	return &MemoryResponses{rows: make(map[string]*domain.ResponseObject)}
}

func (m *MemoryResponses) Create(ctx context.Context, resp *domain.ResponseObject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *resp
	m.rows[resp.ID] = &cp
	return nil
}

func (m *MemoryResponses) Update(ctx context.Context, resp *domain.ResponseObject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[resp.ID]; !ok {
		return ErrNotFound
	}
	cp := *resp
	m.rows[resp.ID] = &cp
	return nil
}

func (m *MemoryResponses) Get(ctx context.Context, id string) (*domain.ResponseObject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *row
	return &cp, nil
}

// MemoryResponseItems is an in-memory ResponseItemRepository.
type MemoryResponseItems struct {
	mu             sync.RWMutex
	byResponse     map[string][]domain.ResponseOutputItem
	conversationOf map[string]string // responseID -> conversationID, set by caller
	byConversation map[string][]domain.ResponseOutputItem
}

func NewMemoryResponseItems() *MemoryResponseItems {
	return &MemoryResponseItems{
		byResponse:     make(map[string][]domain.ResponseOutputItem),
		conversationOf: make(map[string]string),
		byConversation: make(map[string][]domain.ResponseOutputItem),
	}
}

// LinkConversation records which conversation a response belongs to, so
// items created against that response also appear in
// ListByConversation. The completion/responses layer calls this once,
// right after creating the ResponseObject row.
func (m *MemoryResponseItems) LinkConversation(responseID, conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversationOf[responseID] = conversationID
}

func (m *MemoryResponseItems) Create(ctx context.Context, responseID string, item domain.ResponseOutputItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byResponse[responseID] = append(m.byResponse[responseID], item)
	if conv, ok := m.conversationOf[responseID]; ok && conv != "" {
		m.byConversation[conv] = append(m.byConversation[conv], item)
	}
	return nil
}

func (m *MemoryResponseItems) ListByResponse(ctx context.Context, responseID string) ([]domain.ResponseOutputItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := m.byResponse[responseID]
	out := make([]domain.ResponseOutputItem, len(items))
	copy(out, items)
	return out, nil
}

func (m *MemoryResponseItems) ListByConversation(ctx context.Context, conversationID string) ([]domain.ResponseOutputItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := m.byConversation[conversationID]
	out := make([]domain.ResponseOutputItem, len(items))
	copy(out, items)
	return out, nil
}

// MemoryConversations is an in-memory ConversationRepository.
type MemoryConversations struct {
	mu   sync.RWMutex
	rows map[string]*domain.Conversation
}

func NewMemoryConversations() *MemoryConversations {
	return &MemoryConversations{rows: make(map[string]*domain.Conversation)}
}

// Ensure creates the conversation row if it doesn't already exist — a
// test/wiring convenience, since conversation creation proper belongs to
// the out-of-scope conversation sub-API (§1).
func (m *MemoryConversations) Ensure(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		m.rows[id] = &domain.Conversation{ID: id, Metadata: map[string]string{}}
	}
}

func (m *MemoryConversations) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *row
	cp.Metadata = cloneMetadata(row.Metadata)
	return &cp, nil
}

func (m *MemoryConversations) UpdateMetadata(ctx context.Context, id string, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	if row.Metadata == nil {
		row.Metadata = map[string]string{}
	}
	for k, v := range metadata {
		row.Metadata[k] = v
	}
	return nil
}

func cloneMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// MemoryModels is an in-memory ModelsRepository: a static alias table, a
// descriptor per canonical model, and a pricing.Table.
type MemoryModels struct {
	mu          sync.RWMutex
	aliases     map[string]string // alias -> canonical
	descriptors map[string]domain.ProviderDescriptor
	pricing     *pricing.Table
}

func NewMemoryModels(pricingTable *pricing.Table) *MemoryModels {
	return &MemoryModels{
		aliases:     make(map[string]string),
		descriptors: make(map[string]domain.ProviderDescriptor),
		pricing:     pricingTable,
	}
}

func (m *MemoryModels) RegisterAlias(alias, canonical string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aliases[alias] = canonical
}

func (m *MemoryModels) RegisterModel(descriptor domain.ProviderDescriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.descriptors[descriptor.ID] = descriptor
}

func (m *MemoryModels) ResolveAndGet(ctx context.Context, modelOrAlias string) (string, domain.ProviderDescriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	canonical := modelOrAlias
	if target, ok := m.aliases[modelOrAlias]; ok {
		canonical = target
	}
	descriptor, ok := m.descriptors[canonical]
	if !ok {
		return "", domain.ProviderDescriptor{}, ErrNotFound
	}
	return canonical, descriptor, nil
}

func (m *MemoryModels) GetPricingAt(ctx context.Context, modelID string, at time.Time) (pricing.Record, error) {
	record, ok := m.pricing.GetPricingAt(modelID, at)
	if !ok {
		return pricing.Record{}, ErrNotFound
	}
	return record, nil
}

// MemoryOrgBalances is an in-memory OrgBalanceRepository.
type MemoryOrgBalances struct {
	mu       sync.Mutex
	balances map[string]int64
}

func NewMemoryOrgBalances() *MemoryOrgBalances {
	return &MemoryOrgBalances{balances: make(map[string]int64)}
}

func (m *MemoryOrgBalances) Set(orgID string, nanoUSD int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[orgID] = nanoUSD
}

func (m *MemoryOrgBalances) Read(ctx context.Context, orgID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[orgID], nil
}

func (m *MemoryOrgBalances) Decrement(ctx context.Context, orgID string, amountNanoUSD int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Decrementing below zero is allowed (§4.F): admission guards against
	// *starting* a request on a non-positive balance, but an in-flight
	// request's actual cost is still recorded in full.
	m.balances[orgID] -= amountNanoUSD
	return nil
}

// MemoryUsage is an in-memory UsageRepository. Insert is idempotent on
// InferenceID, mirroring the unique-constraint semantics §4.F describes
// for the real repository.
type MemoryUsage struct {
	mu      sync.Mutex
	records map[string]domain.UsageRecord
}

func NewMemoryUsage() *MemoryUsage {
	return &MemoryUsage{records: make(map[string]domain.UsageRecord)}
}

func (m *MemoryUsage) Insert(ctx context.Context, record domain.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[record.InferenceID]; exists {
		return nil // unique-violation-as-success: idempotent by design
	}
	m.records[record.InferenceID] = record
	return nil
}

func (m *MemoryUsage) Get(inferenceID string) (domain.UsageRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[inferenceID]
	return r, ok
}

// MemoryAuth is an in-memory AuthService keyed by bearer token.
type MemoryAuth struct {
	mu         sync.RWMutex
	principals map[string]domain.Principal
}

func NewMemoryAuth() *MemoryAuth {
	return &MemoryAuth{principals: make(map[string]domain.Principal)}
}

func (m *MemoryAuth) Register(bearerToken string, principal domain.Principal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.principals[bearerToken] = principal
}

func (m *MemoryAuth) Authenticate(ctx context.Context, bearerToken string) (domain.Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.principals[bearerToken]
	if !ok {
		return domain.Principal{}, ErrNotFound
	}
	return p, nil
}
