package providers

import "time"

// MessageTurn is a single message in a conversation. It is
// provider-agnostic; adapters translate turns to their wire format.
type MessageTurn struct {
	// Role identifies the message sender (system, user, assistant, tool)
	Role string `json:"role"`

	// Content is the message text content
	Content string `json:"content"`
}

// Parameters are the sampling controls of a request. Zero values mean the
// provider default. Extra entries are passed through to the adapter
// without interpretation by the core.
type Parameters struct {
	// Temperature controls randomness (0.0 to 2.0)
	Temperature float64 `json:"temperature,omitempty"`

	// MaxTokens is the maximum number of tokens to generate (1 to 1e6)
	MaxTokens int `json:"max_tokens,omitempty"`

	// TopP controls nucleus sampling (0.0 to 1.0)
	TopP float64 `json:"top_p,omitempty"`

	// Stop sequences that halt generation
	Stop []string `json:"stop,omitempty"`

	// Extra holds provider-specific parameters the core does not
	// interpret
	Extra map[string]any `json:"extra,omitempty"`
}

// RequestIntent is a provider-agnostic request the core routes. Validate
// rejects malformed intents before any key is selected.
type RequestIntent struct {
	// Model is the model identifier (e.g. "gpt-4", "claude-3-opus")
	Model string `json:"model"`

	// Messages is the conversation history, oldest first
	Messages []MessageTurn `json:"messages"`

	// Parameters are the sampling controls
	Parameters Parameters `json:"parameters"`

	// ProviderID names the provider this intent targets
	ProviderID string `json:"provider_id"`

	// Stream requests an incremental response where the provider
	// supports it
	Stream bool `json:"stream,omitempty"`

	// Tools indicates the request carries tool definitions the
	// provider must support
	Tools bool `json:"tools,omitempty"`
}

// Clone returns a deep copy of the intent.
func (r *RequestIntent) Clone() *RequestIntent {
	if r == nil {
		return nil
	}
	out := *r
	if r.Messages != nil {
		out.Messages = make([]MessageTurn, len(r.Messages))
		copy(out.Messages, r.Messages)
	}
	if r.Parameters.Stop != nil {
		out.Parameters.Stop = make([]string, len(r.Parameters.Stop))
		copy(out.Parameters.Stop, r.Parameters.Stop)
	}
	if r.Parameters.Extra != nil {
		out.Parameters.Extra = make(map[string]any, len(r.Parameters.Extra))
		for k, v := range r.Parameters.Extra {
			out.Parameters.Extra[k] = v
		}
	}
	return &out
}

// TokenUsage tracks token consumption for a request.
type TokenUsage struct {
	// Input is the number of tokens in the prompt
	Input int `json:"input"`

	// Output is the number of tokens in the completion
	Output int `json:"output"`

	// Total is input plus output
	Total int `json:"total"`
}

// ResponseMetadata carries execution facts about a completed request.
type ResponseMetadata struct {
	// ModelUsed is the model that actually served the request, which
	// may differ from the requested model after provider-side aliasing
	ModelUsed string `json:"model_used"`

	// TokensUsed is the token consumption reported by the provider
	TokensUsed TokenUsage `json:"tokens_used"`

	// ResponseTimeMS is the provider round-trip time in milliseconds
	ResponseTimeMS int64 `json:"response_time_ms"`

	// ProviderID is the provider that served the request
	ProviderID string `json:"provider_id"`

	// Timestamp is when the response was produced
	Timestamp time.Time `json:"timestamp"`

	// FinishReason indicates why generation stopped
	// (stop, length, tool_calls, content_filter)
	FinishReason string `json:"finish_reason,omitempty"`

	// RequestID is the id assigned when the request entered the router
	RequestID string `json:"request_id"`

	// CorrelationID joins this response to its routing decision and
	// audit events
	CorrelationID string `json:"correlation_id"`

	// AdditionalMetadata holds provider-specific response context
	AdditionalMetadata map[string]any `json:"additional_metadata,omitempty"`
}

// Response is the provider-agnostic result of a routed request.
type Response struct {
	// Content is the generated text
	Content string `json:"content"`

	// Metadata carries execution facts
	Metadata ResponseMetadata `json:"metadata"`

	// Cost is the adapter-reported actual cost when available
	Cost *CostReport `json:"cost,omitempty"`

	// KeyUsed is the id of the key that served the request
	KeyUsed string `json:"key_used"`

	// RequestID duplicates Metadata.RequestID for callers that discard
	// metadata
	RequestID string `json:"request_id"`
}

// CostReport is an adapter-reported cost figure in a string-decimal form
// that survives JSON round trips without float drift.
type CostReport struct {
	// Amount is a decimal string, for example "0.0135"
	Amount string `json:"amount"`

	// Currency is an ISO 4217 code, normally "USD"
	Currency string `json:"currency"`
}

// Capabilities reports what a provider supports. The routing core rejects
// intents a provider cannot serve before key selection.
type Capabilities struct {
	// Models lists supported model identifiers. Empty means the adapter
	// accepts any model name and defers validation to the provider.
	Models []string `json:"models,omitempty"`

	// SupportsStreaming reports incremental response support
	SupportsStreaming bool `json:"supports_streaming"`

	// SupportsTools reports tool/function calling support
	SupportsTools bool `json:"supports_tools"`

	// MaxContextTokens is the largest context window across supported
	// models, 0 when unknown
	MaxContextTokens int `json:"max_context_tokens,omitempty"`
}

// SupportsModel reports whether the capability set covers a model.
// An empty model list accepts everything.
func (c Capabilities) SupportsModel(model string) bool {
	if len(c.Models) == 0 {
		return true
	}
	for _, m := range c.Models {
		if m == model {
			return true
		}
	}
	return false
}

// HealthState is an adapter's self-reported health.
type HealthState struct {
	// Healthy indicates whether the provider is currently usable
	Healthy bool `json:"healthy"`

	// LastCheck is when health was last updated
	LastCheck time.Time `json:"last_check"`

	// LastError is the most recent failure message, empty when healthy
	LastError string `json:"last_error,omitempty"`

	// ConsecutiveFailures counts sequential failures since the last
	// success
	ConsecutiveFailures int `json:"consecutive_failures"`

	// TotalRequests is the number of requests observed
	TotalRequests int64 `json:"total_requests"`

	// FailedRequests is the number of failed requests observed
	FailedRequests int64 `json:"failed_requests"`
}

// SuccessRate returns the fraction of observed requests that succeeded.
// Returns 1.0 when nothing has been observed yet.
func (h HealthState) SuccessRate() float64 {
	if h.TotalRequests == 0 {
		return 1.0
	}
	return float64(h.TotalRequests-h.FailedRequests) / float64(h.TotalRequests)
}

// Message role constants
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Finish reason constants
const (
	FinishReasonStop          = "stop"
	FinishReasonLength        = "length"
	FinishReasonToolCalls     = "tool_calls"
	FinishReasonContentFilter = "content_filter"
)
