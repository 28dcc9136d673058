// Command llmrouter starts the HTTP gateway: it loads configuration, wires
// every subsystem together, and serves the chat-completion and responses
// APIs.
package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/llmrouter/gateway/internal/admission"
	"github.com/llmrouter/gateway/internal/billing"
	"github.com/llmrouter/gateway/internal/completion"
	"github.com/llmrouter/gateway/internal/config"
	"github.com/llmrouter/gateway/internal/domain"
	"github.com/llmrouter/gateway/internal/metrics"
	"github.com/llmrouter/gateway/internal/pool"
	"github.com/llmrouter/gateway/internal/pricing"
	"github.com/llmrouter/gateway/internal/provider"
	"github.com/llmrouter/gateway/internal/responses"
	"github.com/llmrouter/gateway/internal/server"
	"github.com/llmrouter/gateway/internal/store"
	"github.com/llmrouter/gateway/internal/tools"
)

func main() {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	pricingTable := buildPricingTable(cfg)
	backendPool, models := buildPoolAndModels(cfg, pricingTable)

	responsesRepo := store.NewMemoryResponses()
	itemsRepo := store.NewMemoryResponseItems()
	conversationsRepo := store.NewMemoryConversations()
	balances := store.NewMemoryOrgBalances()
	for orgID, seed := range cfg.Admission.SeedOrgBalancesNanoUSD {
		balances.Set(orgID, seed)
	}
	usage := store.NewMemoryUsage()
	auth := store.NewMemoryAuth()
	for token, key := range cfg.APIKeys {
		auth.Register(token, domain.Principal{
			APIKeyID:    key.APIKeyID,
			WorkspaceID: key.WorkspaceID,
			OrgID:       key.OrgID,
		})
	}

	redisClient := buildRedisClient(cfg)

	admissionChecker := admission.NewChecker(balances, redisClient)
	billingRecorder := billing.NewRecorder(usage, balances, redisClient)
	metricsRecorder := metrics.New(prometheus.DefaultRegisterer)

	completionSvc := completion.NewService(models, admissionChecker, backendPool, billingRecorder).
		WithMetrics(metricsRecorder)

	toolRegistry := tools.NewRegistry(cfg.Responses.ToolCallTimeout)
	toolRegistry.Register("file_search", tools.NewFileSearch(itemsRepo))
	if cfg.Tools.WebSearchAPIKey != "" {
		toolRegistry.Register("web_search", tools.NewWebSearch(cfg.Tools.WebSearchAPIKey, cfg.Tools.WebSearchBaseURL, http.DefaultClient))
	}

	responsesSvc := responses.NewService(completionSvc, responsesRepo, itemsRepo, conversationsRepo, toolRegistry, cfg.Responses.TitleModel)

	srv := server.New(cfg, completionSvc, responsesSvc, auth, metricsRecorder)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	log.Printf("llmgateway listening on :%d", cfg.Server.Port)
	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// buildPricingTable seeds a pricing.Table from the config's static rows
// (§4.F). A malformed effective_from/effective_until or an overlapping
// record is a startup-fatal misconfiguration, not a runtime error.
func buildPricingTable(cfg *config.Config) *pricing.Table {
	table := pricing.NewTable()
	for _, p := range cfg.Pricing {
		from, err := config.ParsePricingTime(p.EffectiveFrom)
		if err != nil {
			log.Fatalf("pricing row %q: invalid effective_from: %v", p.ModelID, err)
		}
		until, err := config.ParsePricingTime(p.EffectiveUntil)
		if err != nil {
			log.Fatalf("pricing row %q: invalid effective_until: %v", p.ModelID, err)
		}
		record := pricing.Record{
			ModelID:             p.ModelID,
			InputNanoUSDPerTok:  p.InputNanoUSDPerTok,
			OutputNanoUSDPerTok: p.OutputNanoUSDPerTok,
			ContextLength:       p.ContextLength,
			EffectiveFrom:       from,
			EffectiveUntil:      until,
		}
		if err := table.AddRecord(record); err != nil {
			log.Fatalf("pricing row %q: %v", p.ModelID, err)
		}
	}
	return table
}

// buildPoolAndModels constructs one adapter per configured provider,
// registers each of its models against the pool (§4.C), and mirrors the
// same canonical-id/descriptor pairing into the models repository so the
// Completion Service can resolve aliases and look up pricing (§4.D step 1).
func buildPoolAndModels(cfg *config.Config, pricingTable *pricing.Table) (*pool.Pool, *store.MemoryModels) {
	backendPool := pool.New()
	models := store.NewMemoryModels(pricingTable)

	for providerName, providerCfg := range cfg.Providers {
		backend := newProviderAdapter(providerName, providerCfg)
		external := providerCfg.Kind != "vllm"
		for _, modelID := range providerCfg.Models {
			backendPool.Register(modelID, backend, external)
			models.RegisterModel(domain.ProviderDescriptor{
				ID:          modelID,
				Kind:        providerCfg.Kind,
				BaseURL:     providerCfg.BaseURL,
				Credentials: providerCfg.APIKey,
				Timeout:     providerCfg.Timeout,
				Extra:       providerCfg.Extra,
			})
			log.Printf("registered model %q -> provider %q (%s)", modelID, providerName, providerCfg.Kind)
		}
	}

	for _, modelCfg := range cfg.Models {
		models.RegisterAlias(modelCfg.Alias, modelCfg.Canonical)
	}

	return backendPool, models
}

// newProviderAdapter dispatches on the provider kind to the matching
// adapter constructor (§4.B/§4.C).
func newProviderAdapter(name string, cfg config.ProviderConfig) provider.Provider {
	client := &http.Client{Timeout: cfg.Timeout}
	switch cfg.Kind {
	case "anthropic":
		return provider.NewAnthropicProvider(cfg.APIKey, cfg.BaseURL, client)
	case "gemini":
		return provider.NewGeminiProvider(cfg.APIKey, cfg.BaseURL, client)
	case "vllm", "openai-compatible", "":
		return provider.NewVLLMProvider(name, cfg.APIKey, cfg.BaseURL, client)
	default:
		log.Fatalf("provider %q: unknown kind %q", name, cfg.Kind)
		return nil
	}
}

// buildRedisClient returns nil when no Redis address is configured — every
// subsystem that takes a *redis.Client treats nil as "disabled" rather than
// erroring (§4.F, §8 billing idempotency; admission balance cache-aside).
func buildRedisClient(cfg *config.Config) *redis.Client {
	if cfg.Redis.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}
