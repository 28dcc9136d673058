// Package completion implements the Completion Service (§4.D): the single
// chokepoint every chat-completion request passes through, regardless of
// which backend eventually serves it. It resolves the model, checks
// admission, computes a request-hash fingerprint, dispatches through the
// Provider Pool with one-retry fallback, and records usage identically
// whether the stream ends naturally, the client disconnects, or the
// upstream errors.
package completion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/llmrouter/gateway/internal/admission"
	"github.com/llmrouter/gateway/internal/billing"
	"github.com/llmrouter/gateway/internal/domain"
	"github.com/llmrouter/gateway/internal/gwerrors"
	"github.com/llmrouter/gateway/internal/metrics"
	"github.com/llmrouter/gateway/internal/pool"
	"github.com/llmrouter/gateway/internal/pricing"
	"github.com/llmrouter/gateway/internal/provider"
	"github.com/llmrouter/gateway/internal/store"
)

// Service is the Completion Service.
type Service struct {
	models    store.ModelsRepository
	admission *admission.Checker
	pool      *pool.Pool
	recorder  *billing.Recorder
	metrics   *metrics.Recorder // nil disables Prometheus observation
}

func NewService(models store.ModelsRepository, admissionChecker *admission.Checker, backendPool *pool.Pool, recorder *billing.Recorder) *Service {
	return &Service{models: models, admission: admissionChecker, pool: backendPool, recorder: recorder}
}

// WithMetrics attaches a metrics.Recorder, returning the same Service for
// chaining at construction time. A Service with no attached recorder
// observes nothing, which is what NewService alone gives you.
func (s *Service) WithMetrics(recorder *metrics.Recorder) *Service {
	s.metrics = recorder
	return s
}

// requestHash computes the SHA-256 fingerprint of req's deterministic JSON
// serialization (§4.D step 3). encoding/json sorts map keys, so the
// output is stable across calls regardless of Go's randomized map
// iteration order.
func requestHash(req *provider.ChatRequest) (string, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// resolve runs steps 1-2 common to both the streaming and non-streaming
// paths: alias resolution and admission.
func (s *Service) resolve(ctx context.Context, req *provider.ChatRequest, principal domain.Principal) (canonical string, err error) {
	canonical, _, err = s.models.ResolveAndGet(ctx, req.Model)
	if err != nil {
		return "", gwerrors.Wrap(gwerrors.KindModelNotFound, "model not found: "+req.Model, err)
	}
	req.Model = canonical

	if err := s.admission.Check(ctx, principal.OrgID); err != nil {
		return "", err
	}
	return canonical, nil
}

// CreateChatCompletion serves a non-streaming chat completion request. It
// returns the response, the inference id (for the Inference-Id header),
// and an error.
func (s *Service) CreateChatCompletion(ctx context.Context, req *provider.ChatRequest, principal domain.Principal) (*provider.ChatResponse, string, error) {
	canonical, err := s.resolve(ctx, req, principal)
	if err != nil {
		return nil, "", err
	}

	if _, err := requestHash(req); err != nil {
		return nil, "", gwerrors.Wrap(gwerrors.KindInvalidRequest, "hashing request", err)
	}

	inferenceID := uuid.NewString()
	startedAt := time.Now()

	resp, err, found := pool.ResolveWithFallback(s.pool, canonical, func(p provider.Provider) (*provider.ChatResponse, error, bool) {
		r, err := p.ChatCompletion(ctx, req)
		if err != nil {
			_, isTransport := err.(*provider.Transport)
			return nil, err, isTransport
		}
		return r, nil, false
	})
	if !found {
		return nil, inferenceID, gwerrors.New(gwerrors.KindModelUnavailable, "no backend registered for model "+canonical)
	}
	if err != nil {
		s.recordUsage(context.Background(), inferenceID, principal, canonical, startedAt, 0, 0, "failed")
		return nil, inferenceID, mapProviderError(err)
	}

	s.recordUsage(context.Background(), inferenceID, principal, canonical, startedAt,
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens, "completed")
	return resp, inferenceID, nil
}

// CreateChatCompletionStream serves a streaming chat completion request.
// The returned channel is the client-facing half of the teeing stream
// (§4.D step 5); accounting happens on the other half in a detached
// goroutine regardless of how the stream ends (step 6).
func (s *Service) CreateChatCompletionStream(ctx context.Context, req *provider.ChatRequest, principal domain.Principal) (<-chan provider.StreamChunk, string, error) {
	canonical, err := s.resolve(ctx, req, principal)
	if err != nil {
		return nil, "", err
	}

	if _, err := requestHash(req); err != nil {
		return nil, "", gwerrors.Wrap(gwerrors.KindInvalidRequest, "hashing request", err)
	}

	inferenceID := uuid.NewString()
	startedAt := time.Now()

	upstream, err, found := pool.ResolveWithFallback(s.pool, canonical, func(p provider.Provider) (<-chan provider.StreamChunk, error, bool) {
		ch, err := p.ChatCompletionStream(ctx, req)
		if err != nil {
			_, isTransport := err.(*provider.Transport)
			return nil, err, isTransport
		}
		return ch, nil, false
	})
	if !found {
		return nil, inferenceID, gwerrors.New(gwerrors.KindModelUnavailable, "no backend registered for model "+canonical)
	}
	if err != nil {
		s.recordUsage(context.Background(), inferenceID, principal, canonical, startedAt, 0, 0, "failed")
		return nil, inferenceID, mapProviderError(err)
	}

	client, acc := tee(ctx, upstream)
	go s.account(inferenceID, principal, canonical, startedAt, acc)

	return client, inferenceID, nil
}

// account consumes the accounting half of the teed stream, tracking the
// best tokens observed so far, and records usage exactly once when the
// stream ends — regardless of whether that happened because the upstream
// sent its final chunk, the client disconnected, or an upstream error
// arrived (§4.D step 6: "three cases are handled identically").
func (s *Service) account(inferenceID string, principal domain.Principal, model string, startedAt time.Time, acc <-chan provider.StreamChunk) {
	var promptTokens, completionTokens int
	status := "failed"

	for chunk := range acc {
		if chunk.Error != nil {
			continue
		}
		if chunk.Usage != nil {
			promptTokens = chunk.Usage.PromptTokens
			completionTokens = chunk.Usage.CompletionTokens
			status = "completed"
		}
	}

	s.recordUsage(context.Background(), inferenceID, principal, model, startedAt, promptTokens, completionTokens, status)
}

func (s *Service) recordUsage(ctx context.Context, inferenceID string, principal domain.Principal, model string, startedAt time.Time, promptTokens, completionTokens int, status string) {
	record := domain.UsageRecord{
		InferenceID:  inferenceID,
		APIKeyID:     principal.APIKeyID,
		WorkspaceID:  principal.WorkspaceID,
		OrgID:        principal.OrgID,
		ModelID:      model,
		InputTokens:  promptTokens,
		OutputTokens: completionTokens,
		CreatedAt:    startedAt,
		Status:       status,
	}

	rate, err := s.models.GetPricingAt(ctx, model, startedAt)
	if err != nil {
		log.Printf("completion: no pricing for model %s at %s, recording zero cost: %v", model, startedAt, err)
	} else {
		record.CostNanoUSD = pricing.CostNanoUSD(rate, promptTokens, completionTokens)
		record.PricingEffectiveAt = rate.EffectiveFrom
	}

	s.recorder.RecordAsync(record)
	s.metrics.ObserveUsage(model, status, promptTokens, completionTokens, record.CostNanoUSD, time.Since(startedAt))
}

// mapProviderError maps an adapter's typed error to a client-facing
// gwerrors.Error per §4.B/§7: 4xx passthrough for 400/401/403/404/429,
// 502 for transport, 500 otherwise.
func mapProviderError(err error) error {
	switch e := err.(type) {
	case *provider.HttpError:
		switch e.Status {
		case 400:
			return gwerrors.Wrap(gwerrors.KindInvalidRequest, "upstream rejected the request", err)
		case 401:
			return gwerrors.Wrap(gwerrors.KindUnauthorized, "upstream rejected credentials", err)
		case 403:
			return gwerrors.Wrap(gwerrors.KindForbidden, "upstream forbade the request", err)
		case 404:
			return gwerrors.Wrap(gwerrors.KindModelNotFound, "upstream model not found", err)
		case 429:
			return gwerrors.Wrap(gwerrors.KindRateLimited, "upstream rate limited the request", err)
		default:
			return gwerrors.Wrap(gwerrors.KindInternalError, "upstream returned an error", err)
		}
	case *provider.Transport:
		return gwerrors.Wrap(gwerrors.KindUpstreamError, "upstream unreachable", err)
	case *provider.InvalidResponse:
		return gwerrors.Wrap(gwerrors.KindInternalError, "upstream returned an unparseable response", err)
	default:
		return gwerrors.Wrap(gwerrors.KindInternalError, "completion failed", err)
	}
}
