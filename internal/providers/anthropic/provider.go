package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"

	"github.com/maxr0ssi/llm-router/internal/providers"
	"github.com/maxr0ssi/llm-router/internal/types"
)

const providerName = "anthropic"

// Config holds Anthropic-specific configuration.
type Config struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Provider implements the Backend contract for Anthropic Claude. It has
// no usage-emitting stream variant; the router synthesizes the uniform
// shape for callers that request usage.
type Provider struct {
	client *anthropic.Client
	config *Config
	logger *logrus.Logger
}

// New creates an Anthropic backend.
func New(config *Config, logger *logrus.Logger) *Provider {
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	return &Provider{
		client: &client,
		config: config,
		logger: logger,
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// IsAvailable reports configured readiness. No network call.
func (p *Provider) IsAvailable() bool {
	return p.config.APIKey != ""
}

// Generate performs a synchronous generation.
func (p *Provider) Generate(ctx context.Context, params *types.GenerationParams) (*types.GenerationResponse, error) {
	resp, err := p.client.Messages.New(ctx, p.buildRequest(params))
	if err != nil {
		p.logger.WithError(err).WithField("model", params.Model).Error("Anthropic completion failed")
		return nil, classifyError(err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &types.GenerationResponse{
		Text:         text,
		Model:        string(resp.Model),
		Provider:     providerName,
		FinishReason: string(resp.StopReason),
		Usage:        convertUsage(resp.Usage),
	}, nil
}

// GenerateStream streams text chunks as the model produces them.
func (p *Provider) GenerateStream(ctx context.Context, params *types.GenerationParams) (<-chan types.StreamChunk, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.buildRequest(params))

	chunks := make(chan types.StreamChunk, 16)
	go func() {
		defer close(chunks)
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			chunk := types.StreamChunk{Provider: providerName, Model: params.Model}

			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					chunk.Text = delta.Text
				default:
					continue
				}
			case anthropic.MessageDeltaEvent:
				chunk.FinishReason = string(ev.Delta.StopReason)
				if chunk.FinishReason == "" {
					continue
				}
			default:
				continue
			}

			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil {
			select {
			case chunks <- types.StreamChunk{Provider: providerName, Err: classifyError(err)}:
			case <-ctx.Done():
			}
		}
	}()
	return chunks, nil
}

func (p *Provider) buildRequest(params *types.GenerationParams) anthropic.MessageNewParams {
	var system string
	var messages []anthropic.MessageParam
	for _, msg := range params.Messages {
		switch msg.Role {
		case "system":
			system = msg.Content
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(params.Model),
		Messages:  messages,
		MaxTokens: int64(params.MaxTokens),
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = 1024 // Anthropic requires max_tokens
	}
	if system != "" {
		req.System = []anthropic.TextBlockParam{{Text: system, Type: "text"}}
	}
	if params.Temperature > 0 {
		req.Temperature = anthropic.Float(float64(params.Temperature))
	}
	if params.TopP > 0 {
		req.TopP = anthropic.Float(float64(params.TopP))
	}
	if len(params.Stop) > 0 {
		req.StopSequences = params.Stop
	}
	return req
}

func convertUsage(u anthropic.Usage) *types.Usage {
	usage := &types.Usage{
		PromptTokens:     int(u.InputTokens),
		CompletionTokens: int(u.OutputTokens),
		TotalTokens:      int(u.InputTokens + u.OutputTokens),
	}
	if u.CacheReadInputTokens > 0 {
		usage.CachedTokens = int(u.CacheReadInputTokens)
		usage.CacheInfo = map[string]string{"type": "prompt_cache"}
	}
	return usage
}

// classifyError maps SDK failures to the typed taxonomy.
func classifyError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &types.ProviderError{
			Provider:   providerName,
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Error(),
			Retryable:  types.RetryableStatus(apiErr.StatusCode),
			RetryAfter: retryAfterHint(apiErr.Response),
			Err:        err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &types.ProviderError{
			Provider:   providerName,
			StatusCode: 408,
			Message:    "request timed out",
			Retryable:  true,
			Err:        err,
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &types.ProviderError{
		Provider:  providerName,
		Message:   "connection failed",
		Retryable: true,
		Err:       err,
	}
}

// retryAfterHint reads the server's Retry-After header, accepting both
// the delta-seconds and the HTTP-date form. Zero means no hint.
func retryAfterHint(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	value := resp.Header.Get("Retry-After")
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

var _ providers.Backend = (*Provider)(nil)
