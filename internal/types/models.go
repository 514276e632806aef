package types

// ModelConfig describes one routable model: which provider serves it, the
// default hyperparameters, and the per-1K-token pricing. Loaded once at
// startup and treated as immutable.
type ModelConfig struct {
	ModelID  string `yaml:"model_id" json:"model_id"`
	Provider string `yaml:"provider" json:"provider"`

	// Defaults applied when the request leaves a field unset.
	Temperature float32 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
	TopP        float32 `yaml:"top_p" json:"top_p"`

	// Pricing in USD per 1K tokens. Zero values mean pricing data is
	// absent and exact cost computation is impossible for this model.
	InputCostPer1K  float64 `yaml:"input_cost_per_1k" json:"input_cost_per_1k"`
	OutputCostPer1K float64 `yaml:"output_cost_per_1k" json:"output_cost_per_1k"`

	MaxContextWindow int `yaml:"max_context_window" json:"max_context_window,omitempty"`
}

// HasPricing reports whether exact per-token pricing is configured.
func (m *ModelConfig) HasPricing() bool {
	return m.InputCostPer1K > 0 || m.OutputCostPer1K > 0
}
