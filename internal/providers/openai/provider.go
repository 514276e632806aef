package openai

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/maxr0ssi/llm-router/internal/providers"
	"github.com/maxr0ssi/llm-router/internal/types"
)

const providerName = "openai"

// Config holds OpenAI-specific configuration.
type Config struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	OrgID   string        `yaml:"org_id"`
	Timeout time.Duration `yaml:"timeout"`
}

// Provider implements the Backend contract for OpenAI, including the
// usage-emitting stream variant.
type Provider struct {
	client *openai.Client
	config *Config
	logger *logrus.Logger
}

// New creates an OpenAI backend.
func New(config *Config, logger *logrus.Logger) *Provider {
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.OrgID != "" {
		clientConfig.OrgID = config.OrgID
	}

	return &Provider{
		client: openai.NewClientWithConfig(clientConfig),
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
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(params, false, false))
	if err != nil {
		p.logger.WithError(err).WithField("model", params.Model).Error("OpenAI completion failed")
		return nil, classifyError(err)
	}

	out := &types.GenerationResponse{
		Model:    resp.Model,
		Provider: providerName,
		Usage:    convertUsage(&resp.Usage),
	}
	if len(resp.Choices) > 0 {
		out.Text = resp.Choices[0].Message.Content
		out.FinishReason = string(resp.Choices[0].FinishReason)
	}
	return out, nil
}

// GenerateStream streams text chunks without usage accounting.
func (p *Provider) GenerateStream(ctx context.Context, params *types.GenerationParams) (<-chan types.StreamChunk, error) {
	return p.stream(ctx, params, false)
}

// GenerateStreamWithUsage streams text chunks with final usage on the
// terminal element.
func (p *Provider) GenerateStreamWithUsage(ctx context.Context, params *types.GenerationParams) (<-chan types.StreamChunk, error) {
	return p.stream(ctx, params, true)
}

func (p *Provider) stream(ctx context.Context, params *types.GenerationParams, withUsage bool) (<-chan types.StreamChunk, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, p.buildRequest(params, true, withUsage))
	if err != nil {
		p.logger.WithError(err).WithField("model", params.Model).Error("OpenAI stream setup failed")
		return nil, classifyError(err)
	}

	chunks := make(chan types.StreamChunk, 16)
	go func() {
		defer close(chunks)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					select {
					case chunks <- types.StreamChunk{Provider: providerName, Err: classifyError(err)}:
					case <-ctx.Done():
					}
				}
				return
			}

			chunk := types.StreamChunk{Provider: providerName, Model: resp.Model}
			if len(resp.Choices) > 0 {
				chunk.Text = resp.Choices[0].Delta.Content
				chunk.FinishReason = string(resp.Choices[0].FinishReason)
			}
			if resp.Usage != nil {
				chunk.Usage = convertUsage(resp.Usage)
				chunk.UsageFinal = true
			}
			if chunk.Text == "" && chunk.Usage == nil && chunk.FinishReason == "" {
				continue
			}
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return chunks, nil
}

func (p *Provider) buildRequest(params *types.GenerationParams, stream, withUsage bool) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(params.Messages))
	for _, msg := range params.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
			Name:    msg.Name,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:       params.Model,
		Messages:    messages,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		TopP:        params.TopP,
		Stop:        params.Stop,
		Stream:      stream,
	}
	if withUsage {
		req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	return req
}

func convertUsage(u *openai.Usage) *types.Usage {
	if u == nil {
		return nil
	}
	usage := &types.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
	if u.PromptTokensDetails != nil && u.PromptTokensDetails.CachedTokens > 0 {
		usage.CachedTokens = u.PromptTokensDetails.CachedTokens
		usage.CacheInfo = map[string]string{"type": "prompt_cache"}
	}
	return usage
}

// classifyError maps SDK failures to the typed taxonomy, deciding
// retryability here so nothing downstream inspects message text.
func classifyError(err error) error {
	// go-openai errors expose no response headers, so a server
	// Retry-After hint is not recoverable here; the retry manager
	// falls back to exponential backoff.
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &types.ProviderError{
			Provider:   providerName,
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
			Retryable:  types.RetryableStatus(apiErr.HTTPStatusCode),
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
	// Transport-level failure with no HTTP status: treat as a transient
	// connection error.
	return &types.ProviderError{
		Provider:  providerName,
		Message:   "connection failed",
		Retryable: true,
		Err:       err,
	}
}

var _ providers.UsageStreamingBackend = (*Provider)(nil)
