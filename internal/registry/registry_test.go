package registry

import (
	"errors"
	"math"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/maxr0ssi/llm-router/internal/types"
)

func testRegistry() *Registry {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return New([]types.ModelConfig{
		{
			ModelID:         "gpt-4o",
			Provider:        "openai",
			Temperature:     0.7,
			MaxTokens:       4096,
			TopP:            1.0,
			InputCostPer1K:  0.005,
			OutputCostPer1K: 0.015,
		},
		{
			ModelID:     "test-unpriced",
			Provider:    "openai",
			Temperature: 0.5,
			MaxTokens:   1024,
		},
	}, logger)
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-12
}

func TestGetConfig(t *testing.T) {
	r := testRegistry()

	cfg, err := r.GetConfig("gpt-4o")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider != "openai" {
		t.Errorf("expected provider openai, got %s", cfg.Provider)
	}

	_, err = r.GetConfig("no-such-model")
	var nf *types.ConfigNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected ConfigNotFoundError, got %v", err)
	}
	if nf.ModelID != "no-such-model" {
		t.Errorf("error must carry the requested model id, got %s", nf.ModelID)
	}
}

func TestCheckLightweightAvailability(t *testing.T) {
	r := testRegistry()
	if !r.CheckLightweightAvailability("gpt-4o") {
		t.Error("configured model must be available")
	}
	if r.CheckLightweightAvailability("no-such-model") {
		t.Error("unknown model must not be available")
	}
}

func TestNormalizeParams_Defaults(t *testing.T) {
	r := testRegistry()
	cfg, _ := r.GetConfig("gpt-4o")
	messages := []types.Message{{Role: "user", Content: "hi"}}

	params := r.NormalizeParams(messages, nil, cfg)

	if params.Model != "gpt-4o" {
		t.Errorf("expected model gpt-4o, got %s", params.Model)
	}
	if params.Temperature != 0.7 || params.MaxTokens != 4096 || params.TopP != 1.0 {
		t.Errorf("model defaults not applied: %+v", params)
	}
	if len(params.Messages) != 1 {
		t.Error("messages must be carried through")
	}
}

func TestNormalizeParams_ExplicitOverridesDefaults(t *testing.T) {
	r := testRegistry()
	cfg, _ := r.GetConfig("gpt-4o")
	temp := float32(0.2)
	maxTokens := 100

	params := r.NormalizeParams(nil, &types.RequestParams{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
		Stop:        []string{"END"},
	}, cfg)

	if params.Temperature != 0.2 {
		t.Errorf("explicit temperature must win, got %f", params.Temperature)
	}
	if params.MaxTokens != 100 {
		t.Errorf("explicit max_tokens must win, got %d", params.MaxTokens)
	}
	if params.TopP != 1.0 {
		t.Errorf("unset field must keep the model default, got %f", params.TopP)
	}
	if len(params.Stop) != 1 || params.Stop[0] != "END" {
		t.Errorf("stop sequences not carried: %v", params.Stop)
	}
}

func TestCalculateExactCost(t *testing.T) {
	r := testRegistry()
	cfg, _ := r.GetConfig("gpt-4o")
	usage := &types.Usage{PromptTokens: 2000, CompletionTokens: 1000, TotalTokens: 3000}

	breakdown, ok := r.CalculateExactCost(cfg, usage)
	if !ok {
		t.Fatal("expected exact cost for a priced model")
	}
	if !almostEqual(breakdown.InputCost, 0.010) {
		t.Errorf("expected input cost 0.010, got %f", breakdown.InputCost)
	}
	if !almostEqual(breakdown.OutputCost, 0.015) {
		t.Errorf("expected output cost 0.015, got %f", breakdown.OutputCost)
	}
	if !almostEqual(breakdown.TotalCost, 0.025) {
		t.Errorf("expected total 0.025, got %f", breakdown.TotalCost)
	}
}

func TestCalculateExactCost_CacheSavings(t *testing.T) {
	r := testRegistry()
	cfg, _ := r.GetConfig("gpt-4o")
	usage := &types.Usage{PromptTokens: 2000, CompletionTokens: 1000, CachedTokens: 1000}

	breakdown, ok := r.CalculateExactCost(cfg, usage)
	if !ok {
		t.Fatal("expected exact cost")
	}

	// 1000 cached tokens at 0.005/1K discounted 90%.
	wantSavings := 0.005 * 0.9
	if !almostEqual(breakdown.CacheSavings, wantSavings) {
		t.Errorf("expected savings %f, got %f", wantSavings, breakdown.CacheSavings)
	}
	if !almostEqual(breakdown.TotalCost, breakdown.InputCost+breakdown.OutputCost-breakdown.CacheSavings) {
		t.Error("total must equal input plus output minus savings")
	}
}

func TestCalculateExactCost_RequiresPricingAndUsage(t *testing.T) {
	r := testRegistry()

	priced, _ := r.GetConfig("gpt-4o")
	if _, ok := r.CalculateExactCost(priced, nil); ok {
		t.Error("nil usage must not produce an exact cost")
	}

	unpriced, _ := r.GetConfig("test-unpriced")
	usage := &types.Usage{PromptTokens: 100, CompletionTokens: 100, TotalTokens: 200}
	if _, ok := r.CalculateExactCost(unpriced, usage); ok {
		t.Error("model without pricing must not produce an exact cost")
	}
}

func TestCalculateCost_ApproximateFallback(t *testing.T) {
	r := testRegistry()
	unpriced, _ := r.GetConfig("test-unpriced")
	usage := &types.Usage{PromptTokens: 600, CompletionTokens: 400, TotalTokens: 1000}

	cost, ok := r.CalculateCost(unpriced, usage)
	if !ok {
		t.Fatal("approximate cost must be produced whenever usage is known")
	}
	// Blended flat rate over total tokens.
	if !almostEqual(cost, 1000*approxCostPer1K/1000) {
		t.Errorf("unexpected approximate cost %f", cost)
	}

	if _, ok := r.CalculateCost(unpriced, nil); ok {
		t.Error("no usage means no cost figure at all")
	}
}

func TestCalculateCost_UsesPricingWhenPresent(t *testing.T) {
	r := testRegistry()
	cfg, _ := r.GetConfig("gpt-4o")
	usage := &types.Usage{PromptTokens: 1000, CompletionTokens: 1000, TotalTokens: 2000}

	cost, ok := r.CalculateCost(cfg, usage)
	if !ok {
		t.Fatal("expected a cost figure")
	}
	if !almostEqual(cost, 0.005+0.015) {
		t.Errorf("expected 0.020, got %f", cost)
	}
}

func TestModels(t *testing.T) {
	r := testRegistry()
	models := r.Models()
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
}
