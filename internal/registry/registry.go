package registry

import (
	"github.com/sirupsen/logrus"

	"github.com/maxr0ssi/llm-router/internal/types"
)

// approxCostPer1K is the blended flat rate used when a model has no
// configured pricing but a best-effort figure is still wanted.
const approxCostPer1K = 0.002

// cacheDiscount is the fraction of the input rate saved on cached prompt
// tokens (providers bill cache reads at roughly 10% of the input price).
const cacheDiscount = 0.9

// Registry is the model config lookup table: model id to provider,
// defaults and pricing. Loaded once at startup, read-only afterwards.
type Registry struct {
	models map[string]types.ModelConfig
	logger *logrus.Logger
}

// New builds a registry from the configured model table.
func New(models []types.ModelConfig, logger *logrus.Logger) *Registry {
	byID := make(map[string]types.ModelConfig, len(models))
	for _, m := range models {
		byID[m.ModelID] = m
	}
	return &Registry{models: byID, logger: logger}
}

// GetConfig resolves a model id to its configuration.
func (r *Registry) GetConfig(modelID string) (*types.ModelConfig, error) {
	cfg, ok := r.models[modelID]
	if !ok {
		return nil, &types.ConfigNotFoundError{ModelID: modelID}
	}
	return &cfg, nil
}

// CheckLightweightAvailability reports whether the model is configured at
// all. No network call is made; backend-level availability is layered on
// top by the router.
func (r *Registry) CheckLightweightAvailability(modelID string) bool {
	_, ok := r.models[modelID]
	return ok
}

// Models returns all configured models, for catalog listing.
func (r *Registry) Models() []types.ModelConfig {
	out := make([]types.ModelConfig, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	return out
}

// NormalizeParams merges caller-supplied fields with the model defaults
// into the immutable parameter set handed to the backend. Precedence is
// explicit request field over model config default.
func (r *Registry) NormalizeParams(messages []types.Message, req *types.RequestParams, cfg *types.ModelConfig) *types.GenerationParams {
	params := &types.GenerationParams{
		Model:       cfg.ModelID,
		Messages:    messages,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		TopP:        cfg.TopP,
	}

	if req == nil {
		return params
	}
	if req.Temperature != nil {
		params.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		params.MaxTokens = *req.MaxTokens
	}
	if req.TopP != nil {
		params.TopP = *req.TopP
	}
	if len(req.Stop) > 0 {
		params.Stop = req.Stop
	}
	if len(req.Extra) > 0 {
		params.Extra = req.Extra
	}
	return params
}

// CalculateExactCost derives the USD cost breakdown from configured
// per-1K-token rates. Returns false when pricing data or usage is absent,
// which triggers the approximate fallback in the router.
func (r *Registry) CalculateExactCost(cfg *types.ModelConfig, usage *types.Usage) (*types.CostBreakdown, bool) {
	if usage == nil || !cfg.HasPricing() {
		return nil, false
	}

	inputCost := float64(usage.PromptTokens) * cfg.InputCostPer1K / 1000
	outputCost := float64(usage.CompletionTokens) * cfg.OutputCostPer1K / 1000
	savings := r.CalculateCacheSavings(cfg, usage)

	return &types.CostBreakdown{
		InputCost:    inputCost,
		OutputCost:   outputCost,
		CacheSavings: savings,
		TotalCost:    inputCost + outputCost - savings,
	}, true
}

// CalculateCost is the approximate variant: it always produces a
// best-effort figure as long as usage is known, falling back to a blended
// flat rate when the model has no configured pricing.
func (r *Registry) CalculateCost(cfg *types.ModelConfig, usage *types.Usage) (float64, bool) {
	if usage == nil {
		return 0, false
	}
	if cfg.HasPricing() {
		return float64(usage.PromptTokens)*cfg.InputCostPer1K/1000 +
			float64(usage.CompletionTokens)*cfg.OutputCostPer1K/1000, true
	}
	return float64(usage.TotalTokens) * approxCostPer1K / 1000, true
}

// CalculateCacheSavings computes the cost reduction from cached prompt
// tokens the provider did not reprocess at full price.
func (r *Registry) CalculateCacheSavings(cfg *types.ModelConfig, usage *types.Usage) float64 {
	if usage == nil || usage.CachedTokens == 0 || cfg.InputCostPer1K == 0 {
		return 0
	}
	return float64(usage.CachedTokens) * cfg.InputCostPer1K / 1000 * cacheDiscount
}
