// Package provider defines the canonical wire model and the Provider
// interface every LLM backend adapter implements, plus the adapters
// themselves (vLLM/OpenAI-compatible, Anthropic, Gemini).
package provider

import "encoding/json"

// FinishReason is normalized across every backend to one of four values.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength         FinishReason = "length"
	FinishContentFilter  FinishReason = "content_filter"
	FinishToolCalls      FinishReason = "tool_calls"
)

// ContentPart is one piece of a multi-part message (spec §4.A: "content is
// either a string or an ordered list of parts"). Adapters must preserve
// ordering when translating to a native wire format.
type ContentPart struct {
	Type string `json:"type"` // "text" | "image" | "audio" | "file_ref"

	Text string `json:"text,omitempty"`

	// ImageURL/AudioURL/FileRef are alternatives to Text depending on Type.
	ImageURL string `json:"image_url,omitempty"`
	AudioURL string `json:"audio_url,omitempty"`
	FileRef  string `json:"file_ref,omitempty"`
}

// Content holds a message's body, which arrives over the wire as either a
// plain string or an array of ContentPart — never both. Exactly one of
// Text/Parts is populated after Unmarshal.
type Content struct {
	Text  string
	Parts []ContentPart
}

// IsEmpty reports whether no text or parts were ever set.
func (c Content) IsEmpty() bool {
	return c.Text == "" && len(c.Parts) == 0
}

// String renders the content as flat text, concatenating part text in
// order. Used by adapters (Anthropic, Gemini) that don't support
// multi-part input and must flatten to a single string.
func (c Content) String() string {
	if c.Parts == nil {
		return c.Text
	}
	var out string
	for _, p := range c.Parts {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		c.Parts = nil
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	c.Parts = parts
	c.Text = ""
	return nil
}

// Message is one turn in the conversation. Role is one of
// system|user|assistant|tool (§3).
type Message struct {
	Role       string     `json:"role"`
	Content    Content    `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set when Role == "tool"
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // set when Role == "assistant" and it called tools
}

// ToolCall is a complete (non-streaming) tool invocation attached to an
// assistant message.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"` // "function"
	Function ToolCallFunction `json:"function"`
}

type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCallFragment is one streamed piece of a tool call (§3). Reassembly
// concatenates Function.Arguments fragments keyed by Index; Name and ID
// arrive once, on the first fragment for that index, and must be
// remembered by the caller (see internal/responses/toolcalls.go).
type ToolCallFragment struct {
	Index    int                      `json:"index"`
	ID       string                   `json:"id,omitempty"`
	Function ToolCallFunctionFragment `json:"function,omitempty"`
}

type ToolCallFunctionFragment struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Tool describes a function the model may call.
type Tool struct {
	Type     string       `json:"type"` // "function"
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolChoice controls whether/which tool the model must call. It is
// either a bare string ("auto"|"none"|"required") or an object pinning a
// specific function — OpenAI's discriminated-union wire shape.
type ToolChoice struct {
	Mode         string // "auto" | "none" | "required" | "function"
	FunctionName string // set when Mode == "function"
}

func (t ToolChoice) MarshalJSON() ([]byte, error) {
	if t.Mode == "function" {
		return json.Marshal(map[string]any{
			"type":     "function",
			"function": map[string]string{"name": t.FunctionName},
		})
	}
	return json.Marshal(t.Mode)
}

func (t *ToolChoice) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t.Mode = s
		return nil
	}
	var obj struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	t.Mode = "function"
	t.FunctionName = obj.Function.Name
	return nil
}

// ResponseFormat constrains the shape of the model's output (plain text,
// generic JSON, or a named JSON schema).
type ResponseFormat struct {
	Type       string         `json:"type"` // "text" | "json_object" | "json_schema"
	JSONSchema map[string]any `json:"json_schema,omitempty"`
}

// ChatRequest is the canonical representation of a chat completion
// request (§3 CanonicalChatRequest). Every adapter translates this into
// its own wire format.
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	TopP           *float64        `json:"top_p,omitempty"`
	Stop           []string        `json:"stop,omitempty"`
	Stream         bool            `json:"stream"`
	Tools          []Tool          `json:"tools,omitempty"`
	ToolChoice     *ToolChoice     `json:"tool_choice,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	User           string          `json:"user,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`

	// Extra carries fields the gateway doesn't interpret. vLLM/OpenAI
	// adapters forward it verbatim into the upstream request body;
	// Anthropic/Gemini adapters silently drop it since those APIs reject
	// unrecognized top-level fields.
	Extra map[string]any `json:"-"`
}

// Usage holds token counts. Every provider reports this in some form; we
// normalize it here. Feeds cost computation (internal/pricing) and
// Prometheus metrics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is one non-streaming completion choice.
type Choice struct {
	Index        int          `json:"index"`
	Message      Message      `json:"message"`
	FinishReason FinishReason `json:"finish_reason"`
}

// ChatResponse is the canonical non-streaming response (§3 CanonicalResponse).
type ChatResponse struct {
	ID      string   `json:"id"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Delta is the incremental content of one streaming chunk.
type Delta struct {
	Role      string             `json:"role,omitempty"`
	Content   string             `json:"content,omitempty"`
	ToolCalls []ToolCallFragment `json:"tool_calls,omitempty"`
}

// ChunkChoice is one choice within a streaming chunk.
type ChunkChoice struct {
	Index        int           `json:"index"`
	Delta        Delta         `json:"delta"`
	FinishReason *FinishReason `json:"finish_reason,omitempty"`
}

// StreamChunk is the canonical streaming unit (§3 CanonicalChunk). The
// final chunk — and only the final chunk — of a completion carries
// authoritative Usage.
//
// Done and Error are internal plumbing, not part of the OpenAI wire
// shape: Done flags the chunk an adapter considers final (the SSE writer
// and the completion service's teeing stream do not read it; they run
// until the channel closes), and Error carries a terminal failure so the
// stream can surface it instead of silently truncating.
type StreamChunk struct {
	ID      string        `json:"id"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`

	Done  bool  `json:"-"`
	Error error `json:"-"`
}
