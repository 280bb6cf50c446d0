package service

import (
	"context"

	"go.uber.org/zap"
)

// ChatMessage is one OpenAI-shaped chat message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// ChatRequest is the OpenAI chat-completions payload, already validated and
// decoded by the HTTP layer.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Tools       []any         `json:"tools,omitempty"` // present only to detect+reject in adapters that don't support tools
	User        string        `json:"user,omitempty"`
}

// StreamChunk is one OpenAI-shaped SSE delta, pre-serialization. Sink
// implementations are responsible for framing ("data: ...\n\n") and
// flushing.
type StreamChunk struct {
	DeltaContent string
	FinishReason string // empty until the terminal chunk
}

// Sink receives streamed chunks for a single chat call. A nil Sink on
// ChatContext means the caller wants a buffered (non-streaming) response.
type Sink interface {
	Send(chunk StreamChunk) error
}

// ChatContext carries the per-call cancellation signal, the optional
// streaming sink, a request id for correlation, and a logger scoped to the
// call.
type ChatContext struct {
	Ctx       context.Context
	Sink      Sink // nil for buffered calls
	RequestID string
	Logger    *zap.Logger

	// RecordUpstreamRequest, when set, receives the JSON payload a
	// translating provider (qwen-web) is about to send upstream, before
	// the upstream call is made, so the audit Request row captures the
	// transformed shape alongside the client's original. Pass-through
	// providers never call it — their upstream payload is the client
	// payload.
	RecordUpstreamRequest func(payload string)
}

// Usage reports token accounting for a completed chat call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatResult is returned by a buffered Provider.Chat call. For streaming
// calls the provider emits chunks via the Sink and returns the same shape
// once the stream has terminated, so callers have one code path for
// persistence regardless of Stream.
type ChatResult struct {
	Content      string
	FinishReason string
	Usage        Usage
	ParentID     string // opaque upstream handle; empty for non-stateful providers
	ChatID       string // opaque upstream conversation handle; empty for non-stateful providers
	Error        string // non-empty on a recorded-but-non-fatal failure (e.g. mid-stream abort)

	// UpstreamResponse is the translating provider's reconstruction of
	// the upstream's own response, JSON-encoded, for the Response row's
	// native-shape blob. Empty for pass-through providers.
	UpstreamResponse string
}

// HealthStatus is the result of Provider.HealthCheck.
type HealthStatus struct {
	Healthy   bool
	LatencyMS int64
	Message   string
}

// ProviderConfigView is what GetConfig returns: every configured key with
// sensitive values redacted.
type ProviderConfigView struct {
	BaseURL string
	Extra   map[string]string // redacted in place for is_sensitive keys
}

// Provider is the capability set every upstream backend implements,
// regardless of whether it's a thin pass-through or a stateful adapter
// like qwen-web.
type Provider interface {
	// Name returns the provider's configured slug.
	Name() string

	// Chat executes one OpenAI chat-completions call. If cc.Sink is
	// non-nil the provider streams chunks to it and returns the
	// accumulated ChatResult once the stream terminates; otherwise it
	// returns a single buffered result.
	Chat(req ChatRequest, cc ChatContext) (ChatResult, error)

	// HealthCheck reports upstream reachability.
	HealthCheck(ctx context.Context) (HealthStatus, error)

	// ListModels optionally reports upstream-advertised model ids. A nil
	// slice (as opposed to an empty one) signals "not supported". The
	// dispatcher's model listing unions this with the provider's linked
	// ProviderModel rows either way.
	ListModels(ctx context.Context) []string

	// GetConfig returns this provider's view of its own configuration
	// with sensitive keys masked.
	GetConfig() ProviderConfigView

	// Close releases any transport resources (idle connections, open
	// sockets) held by the provider. Called by the registry before the
	// instance is dropped on unload/reload.
	Close() error
}
