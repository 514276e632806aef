package types

import (
	"time"
)

// Message is a single conversation turn sent to a backend.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// RequestParams carries the caller-supplied generation fields before
// normalization. Nil pointer fields fall back to the model defaults.
type RequestParams struct {
	Temperature *float32               `json:"temperature,omitempty"`
	MaxTokens   *int                   `json:"max_tokens,omitempty"`
	TopP        *float32               `json:"top_p,omitempty"`
	Stop        []string               `json:"stop,omitempty"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// GenerationParams is the normalized parameter set handed to a backend.
// Built once per request by the registry and treated as immutable after
// construction. Precedence: explicit request field > model config default.
type GenerationParams struct {
	Model       string                 `json:"model"`
	Messages    []Message              `json:"messages"`
	Temperature float32                `json:"temperature"`
	MaxTokens   int                    `json:"max_tokens"`
	TopP        float32                `json:"top_p"`
	Stop        []string               `json:"stop,omitempty"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// StreamingOptions bundles the request-scoped streaming controls. Zero
// value means plain text streaming with library defaults; Normalize clamps
// invalid batch/rate values instead of rejecting the request.
type StreamingOptions struct {
	// JSONMode requests a single JSON document; the accumulated text is
	// parsed once the stream completes, and parse failures fall back to
	// raw text.
	JSONMode bool `json:"json_mode,omitempty"`

	// IncludeUsage requests final token usage on the stream.
	IncludeUsage bool `json:"include_usage,omitempty"`

	// BatchSize coalesces up to N consecutive text chunks into one
	// delivered chunk. Values < 1 clamp to 1 (no batching).
	BatchSize int `json:"batch_size,omitempty"`

	// MinChunkInterval enforces a minimum delay between delivered chunks.
	// Negative values clamp to 0.
	MinChunkInterval time.Duration `json:"min_chunk_interval,omitempty"`

	// DebugCapture retains raw chunks on the adapter for inspection.
	DebugCapture bool `json:"debug_capture,omitempty"`

	// DeferredEvents delivers lifecycle events on a separate goroutine so
	// a slow or failing callback cannot stall the stream.
	DeferredEvents bool `json:"deferred_events,omitempty"`

	// Reconnect tunables. Nil fields fall back to the router defaults.
	MaxConnectionAttempts   *int           `json:"max_connection_attempts,omitempty"`
	ConnectionTimeout       *time.Duration `json:"connection_timeout,omitempty"`
	ReadTimeout             *time.Duration `json:"read_timeout,omitempty"`
	ReconnectOnError        *bool          `json:"reconnect_on_error,omitempty"`
	PreservePartialResponse *bool          `json:"preserve_partial_response,omitempty"`
}

// Normalize clamps invalid values to safe defaults. Called once when the
// options enter the router; downstream code may assume the result is sane.
func (o *StreamingOptions) Normalize() {
	if o.BatchSize < 1 {
		o.BatchSize = 1
	}
	if o.MinChunkInterval < 0 {
		o.MinChunkInterval = 0
	}
	if o.MaxConnectionAttempts != nil && *o.MaxConnectionAttempts < 1 {
		one := 1
		o.MaxConnectionAttempts = &one
	}
}
