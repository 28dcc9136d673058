// Package domain holds the entities shared between the core subsystems
// (completion, responses, pricing, billing) and the store's consumed
// interfaces — kept separate from internal/provider (the wire model) and
// internal/store (the repositories) to avoid an import cycle between the
// two.
package domain

import (
	"time"

	"github.com/llmrouter/gateway/internal/provider"
)

// ProviderDescriptor is the pool's view of a backend instance (§3).
// Credentials are opaque to the pool — only the adapter constructor reads
// them.
type ProviderDescriptor struct {
	ID          string
	Kind        string // "vllm" | "openai-compatible" | "anthropic" | "gemini"
	BaseURL     string
	Credentials string
	Timeout     time.Duration
	Extra       map[string]string
}

// Principal is the caller identity the (out-of-scope) auth service
// resolves a bearer token to.
type Principal struct {
	APIKeyID    string
	WorkspaceID string
	OrgID       string
}

// OutputItemType discriminates ResponseOutputItem the way the original
// system's tagged union does (§3).
type OutputItemType string

const (
	OutputItemMessage        OutputItemType = "message"
	OutputItemWebSearchCall  OutputItemType = "web_search_call"
	OutputItemFileSearchCall OutputItemType = "file_search_call"
	OutputItemFunctionCall   OutputItemType = "function_call"
)

// ItemStatus is the lifecycle status of a response output item.
type ItemStatus string

const (
	ItemInProgress ItemStatus = "in_progress"
	ItemCompleted  ItemStatus = "completed"
	ItemFailed     ItemStatus = "failed"
)

// OutputContent is one content part of a Message output item — today
// always a single output_text part (§4.E "content_index is always 0").
type OutputContent struct {
	Type string `json:"type"` // "output_text"
	Text string `json:"text"`
}

// ToolCallAction describes the action a tool-call item is performing,
// e.g. {"type":"search","query":"..."} for a web_search_call.
type ToolCallAction struct {
	Type  string `json:"type"`
	Query string `json:"query,omitempty"`
}

// ResponseOutputItem is a tagged-union element of a response's output
// list (§3). Only the fields relevant to Type are populated; this is the
// Go-idiomatic flattening of what the original models as a Rust enum.
type ResponseOutputItem struct {
	ID     string         `json:"id"`
	Type   OutputItemType `json:"type"`
	Status ItemStatus     `json:"status"`

	// Message
	Role    string          `json:"role,omitempty"`
	Content []OutputContent `json:"content,omitempty"`

	// WebSearchCall / FileSearchCall
	Action *ToolCallAction `json:"action,omitempty"`

	// FunctionCall (and the function/arguments side of web/file search
	// calls, which are modeled internally as function calls against a
	// builtin tool)
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
}

// ResponseStatus is the lifecycle status of a ResponseObject (§3).
type ResponseStatus string

const (
	ResponseInProgress ResponseStatus = "in_progress"
	ResponseCompleted  ResponseStatus = "completed"
	ResponseFailed     ResponseStatus = "failed"
	ResponseCancelled  ResponseStatus = "cancelled"
)

// ResponseObject is the Responses-API-visible entity (§3).
type ResponseObject struct {
	ID                 string
	Status             ResponseStatus
	Model              string
	Output             []ResponseOutputItem
	Usage              provider.Usage
	CreatedAt          time.Time
	ConversationID     string
	PreviousResponseID string
	Metadata           map[string]string
	Principal          Principal
}

// Conversation is an ordered, append-only container of response output
// items, referenced by an opaque ConversationId (§3).
type Conversation struct {
	ID       string
	Items    []ResponseOutputItem
	Metadata map[string]string
}

// UsageRecord is one row of usage accounting (§3).
type UsageRecord struct {
	InferenceID        string
	APIKeyID           string
	WorkspaceID        string
	OrgID              string
	ModelID            string
	InputTokens        int
	OutputTokens       int
	CostNanoUSD        int64
	PricingEffectiveAt time.Time
	CreatedAt          time.Time
	Status             string // "completed" | "failed"
}
