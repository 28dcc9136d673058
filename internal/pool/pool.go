// Package pool implements the Provider Pool: a thread-safe registry
// mapping a model id to the backend(s) that serve it, with round-robin
// selection and one-retry-to-the-next-peer fallback on transport error.
package pool

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/llmrouter/gateway/internal/provider"
)

const shardCount = 32

// ModelId is the lookup key at the pool — canonical model ids only;
// alias resolution happens upstream in the Completion Service.
type ModelId = string

type entry struct {
	backend  provider.Provider
	external bool
}

// shard owns one bucket of the model→backends map behind its own lock, so
// concurrent lookups for different models never contend on a single
// global mutex (spec §5, §9: "the natural shape is copy-on-write of the
// read path; do not gate lookups behind a write lock").
type shard struct {
	mu       sync.RWMutex
	backends map[ModelId][]*entry
	cursors  map[ModelId]*atomic.Uint64
}

// Pool is the registry from ModelId to a ranked list of backend instances.
type Pool struct {
	shards [shardCount]*shard
}

// New returns an empty Pool.
func New() *Pool {
	p := &Pool{}
	for i := range p.shards {
		p.shards[i] = &shard{
			backends: make(map[ModelId][]*entry),
			cursors:  make(map[ModelId]*atomic.Uint64),
		}
	}
	return p
}

func (p *Pool) shardFor(model ModelId) *shard {
	h := xxhash.Sum64String(model)
	return p.shards[h%shardCount]
}

// Register adds a backend instance for model. external marks the backend
// as a hosted/external API (vs a self-hosted vLLM worker) for IsExternal.
func (p *Pool) Register(model ModelId, backend provider.Provider, external bool) {
	s := p.shardFor(model)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.backends[model] = append(s.backends[model], &entry{backend: backend, external: external})
	if _, ok := s.cursors[model]; !ok {
		s.cursors[model] = &atomic.Uint64{}
	}
}

// Unregister removes every backend instance registered for model.
// Deactivation does not cancel in-flight requests already dispatched to
// those backends (§3 "Ownership & lifecycle").
func (p *Pool) Unregister(model ModelId) {
	s := p.shardFor(model)
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.backends, model)
	delete(s.cursors, model)
}

// IsExternal reports whether model is served by at least one external
// (non-vLLM) provider.
func (p *Pool) IsExternal(model ModelId) bool {
	s := p.shardFor(model)
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.backends[model] {
		if e.external {
			return true
		}
	}
	return false
}

// Get returns the next backend for model via round-robin, or ok=false if
// no backend is registered.
func (p *Pool) Get(model ModelId) (provider.Provider, bool) {
	s := p.shardFor(model)
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.backends[model]
	if len(entries) == 0 {
		return nil, false
	}
	cursor := s.cursors[model]
	i := cursor.Add(1) - 1
	return entries[i%uint64(len(entries))].backend, true
}

// ResolveWithFallback calls fn with the backend selected for model; if fn
// reports a transport-layer failure, it is retried exactly once against
// the next peer for the same model (round-robin cursor has already
// advanced, so this naturally picks a different instance when more than
// one is registered). A backend that errors is not evicted — health
// tracking is out of scope (§4.C).
//
// isTransportErr lets the caller distinguish "upstream rejected the
// request" (4xx, don't retry a different peer) from "couldn't reach the
// upstream at all" (retry once against the next instance).
func ResolveWithFallback[T any](p *Pool, model ModelId, fn func(provider.Provider) (T, error, bool)) (result T, err error, found bool) {
	backend, ok := p.Get(model)
	if !ok {
		found = false
		return
	}
	found = true

	var isTransportErr bool
	result, err, isTransportErr = fn(backend)
	if err == nil || !isTransportErr {
		return
	}

	retryBackend, ok := p.Get(model)
	if !ok || retryBackend == backend {
		return
	}

	result, err, _ = fn(retryBackend)
	return
}
