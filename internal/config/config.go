// Package config handles loading and validating gateway configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level configuration for the llmgateway.
type Config struct {
	Server    ServerConfig              `koanf:"server"`
	Providers map[string]ProviderConfig `koanf:"providers"`
	Models    map[string]ModelConfig    `koanf:"models"`
	Pricing   []PricingConfig           `koanf:"pricing"`
	Admission AdmissionConfig           `koanf:"admission"`
	Responses ResponsesConfig           `koanf:"responses"`
	Tools     ToolsConfig               `koanf:"tools"`
	Redis     RedisConfig               `koanf:"redis"`
	// APIKeys seeds the out-of-scope auth service's principal table,
	// keyed by the bearer token clients send (§4.H "treated as an auth
	// service returning a principal").
	APIKeys map[string]APIKeyConfig `koanf:"api_keys"`
}

// APIKeyConfig is one seeded principal.
type APIKeyConfig struct {
	APIKeyID    string `koanf:"api_key_id"`
	WorkspaceID string `koanf:"workspace_id"`
	OrgID       string `koanf:"org_id"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// ProviderConfig holds a single backend instance the Provider Pool
// registers (§4.C): the teacher's original shape (api_key/base_url/models)
// extended with the fields the pool needs to dispatch and retry.
type ProviderConfig struct {
	Kind    string            `koanf:"kind"` // "vllm" | "openai-compatible" | "anthropic" | "gemini"
	APIKey  string            `koanf:"api_key"`
	BaseURL string            `koanf:"base_url"`
	Models  []string          `koanf:"models"`
	Timeout time.Duration     `koanf:"timeout"`
	Extra   map[string]string `koanf:"extra"`
}

// ModelConfig maps a caller-facing model id or alias to the canonical
// model id a provider config's Models list serves (§4.C, §4.D step 1).
type ModelConfig struct {
	Alias     string `koanf:"alias"`
	Canonical string `koanf:"canonical"`
}

// PricingConfig is one static pricing seed row (§4.F). EffectiveFrom/Until
// are RFC3339; Until empty means open-ended.
type PricingConfig struct {
	ModelID             string `koanf:"model_id"`
	InputNanoUSDPerTok  int64  `koanf:"input_nano_usd_per_token"`
	OutputNanoUSDPerTok int64  `koanf:"output_nano_usd_per_token"`
	ContextLength       int    `koanf:"context_length"`
	EffectiveFrom       string `koanf:"effective_from"`
	EffectiveUntil      string `koanf:"effective_until"`
}

// AdmissionConfig holds seed org balances and billing knobs (§4.D step 2,
// §4.F).
type AdmissionConfig struct {
	SeedOrgBalancesNanoUSD map[string]int64 `koanf:"seed_org_balances_nano_usd"`
}

// ResponsesConfig holds the Responses Agent Loop settings (§4.E, §5).
// Only ToolCallTimeout and TitleModel are passed on by cmd/llmrouter;
// MaxIterations and TitleGenerationTimeout are loaded and defaulted but
// not read by the agent loop, which uses its own fixed bounds (100
// iterations, 2s title await).
type ResponsesConfig struct {
	MaxIterations          int           `koanf:"max_iterations"`
	ToolCallTimeout        time.Duration `koanf:"tool_call_timeout"`
	TitleGenerationTimeout time.Duration `koanf:"title_generation_timeout"`
	TitleModel             string        `koanf:"title_model"`
}

// ToolsConfig holds credentials for the builtin tool executors (§4.G).
type ToolsConfig struct {
	WebSearchAPIKey  string `koanf:"web_search_api_key"`
	WebSearchBaseURL string `koanf:"web_search_base_url"`
}

// RedisConfig is the optional DSN backing the billing idempotency guard
// and the admission balance cache. Addr empty disables Redis entirely —
// both subsystems fall back to repository-only behavior.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// Load reads configuration from a YAML file, layers environment variable
// overrides on top, and returns a fully populated Config.
func Load(path string) (*Config, error) {
	// Load .env file into the process environment (ignored if not present).
	// This is the equivalent of require('dotenv').config() in Node.
	_ = godotenv.Load()

	// Create a new koanf instance. The "." delimiter tells koanf how to
	// separate nested keys internally (e.g., "server.port").
	k := koanf.New(".")

	// Load the YAML config file. file.Provider reads the file,
	// yaml.Parser() decodes the YAML format into koanf's internal map.
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	// Layer environment variables on top. Any env var starting with
	// "LLMGATEWAY_" can override a config value. The callback transforms
	// the env var name into a koanf key path:
	//   LLMGATEWAY_SERVER_PORT -> server.port
	if err := k.Load(env.Provider("LLMGATEWAY_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "LLMGATEWAY_")),
			"_", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	// Unmarshal the loaded key-value pairs into our Config struct.
	// The "" means start from the root. &cfg passes a pointer so koanf
	// can write into the struct (like passing by reference in Node).
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR_NAME} placeholders in provider/tool secrets.
	// koanf doesn't do this automatically, so we handle it ourselves
	// using os.Getenv to look up the actual environment variable value.
	for name, p := range cfg.Providers {
		p.APIKey = expandSecret(p.APIKey)
		cfg.Providers[name] = p // write back into the map
	}
	cfg.Tools.WebSearchAPIKey = expandSecret(cfg.Tools.WebSearchAPIKey)
	cfg.Redis.Password = expandSecret(cfg.Redis.Password)

	applyDefaults(&cfg)

	return &cfg, nil
}

// expandSecret resolves a "${VAR_NAME}" placeholder to the named
// environment variable's value, leaving any other string untouched.
func expandSecret(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		return os.Getenv(value[2 : len(value)-1])
	}
	return value
}

// applyDefaults fills in the Responses agent loop's bounds when the
// operator's config leaves them at the zero value (§5's documented
// defaults: 100 iterations, 30s tool timeout, 2s title-generation await).
func applyDefaults(cfg *Config) {
	if cfg.Responses.MaxIterations <= 0 {
		cfg.Responses.MaxIterations = 100
	}
	if cfg.Responses.ToolCallTimeout <= 0 {
		cfg.Responses.ToolCallTimeout = 30 * time.Second
	}
	if cfg.Responses.TitleGenerationTimeout <= 0 {
		cfg.Responses.TitleGenerationTimeout = 2 * time.Second
	}
}

// ParsePricingTime parses a PricingConfig time field, treating an empty
// string as the zero time ("open-ended").
func ParsePricingTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
