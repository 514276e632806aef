package types

// Usage reports token consumption for a single generation.
type Usage struct {
	PromptTokens     int               `json:"prompt_tokens"`
	CompletionTokens int               `json:"completion_tokens"`
	TotalTokens      int               `json:"total_tokens"`
	CachedTokens     int               `json:"cached_tokens,omitempty"`
	CacheInfo        map[string]string `json:"cache_info,omitempty"`
}

// CostBreakdown decomposes the USD cost of a generation. When present,
// InputCost + OutputCost - CacheSavings == TotalCost up to rounding.
type CostBreakdown struct {
	InputCost    float64 `json:"input_cost"`
	OutputCost   float64 `json:"output_cost"`
	CacheSavings float64 `json:"cache_savings"`
	TotalCost    float64 `json:"total_cost"`
}

// GenerationResponse is the uniform synchronous result regardless of which
// backend served the request. Created once by the router and returned once.
type GenerationResponse struct {
	Text          string         `json:"text"`
	Model         string         `json:"model"`
	Provider      string         `json:"provider"`
	FinishReason  string         `json:"finish_reason,omitempty"`
	Usage         *Usage         `json:"usage,omitempty"`
	CostUSD       float64        `json:"cost_usd,omitempty"`
	CostBreakdown *CostBreakdown `json:"cost_breakdown,omitempty"`
	RequestID     string         `json:"request_id,omitempty"`
}

// StreamChunk is one unit of a streamed generation. Text chunks carry
// incremental output; the terminal chunk carries either final usage (when
// the backend emits it), a finish reason, or an error. A stream is never
// silently truncated: failure always surfaces as a chunk with Err set.
type StreamChunk struct {
	Text         string `json:"text,omitempty"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`

	// Usage is present on the final chunk of usage-emitting streams. For
	// backends without a usage-streaming variant the router synthesizes a
	// terminal chunk with UsageFinal set and Usage nil, so consumers see a
	// uniform shape either way.
	Usage      *Usage `json:"usage,omitempty"`
	UsageFinal bool   `json:"usage_final,omitempty"`

	// Reconnected marks the first chunk produced after a mid-stream
	// reconnect. Previously delivered chunks are never replayed; consumers
	// that do not want partial output preserved reset accumulation here.
	Reconnected bool `json:"reconnected,omitempty"`

	Err error `json:"-"`
}
