package routing

import (
	"github.com/maxr0ssi/llm-router/internal/retry"
	"github.com/maxr0ssi/llm-router/internal/streaming"
	"github.com/maxr0ssi/llm-router/internal/types"
)

// Options carries per-request overrides. All fields are optional; nil
// or zero values fall back to router defaults.
type Options struct {
	// Params overrides sampling parameters for this request.
	Params *types.RequestParams

	// Streaming configures chunk shaping and reconnect behavior for
	// streaming requests. Ignored by Generate.
	Streaming *types.StreamingOptions

	// RetryPolicy overrides the router's retry policy.
	RetryPolicy *retry.Policy

	// BypassAvailability skips the lightweight availability gate.
	BypassAvailability bool

	// RequestID correlates logs and events. Generated when empty.
	RequestID string

	// Callbacks receive lifecycle events during CollectStream.
	Callbacks []streaming.Callback
}

func (o *Options) params() *types.RequestParams {
	if o == nil {
		return nil
	}
	return o.Params
}

func (o *Options) streaming() *types.StreamingOptions {
	if o == nil {
		return nil
	}
	return o.Streaming
}

func (o *Options) retryPolicy() *retry.Policy {
	if o == nil {
		return nil
	}
	return o.RetryPolicy
}

// resolveStreamConfig folds per-request streaming overrides into the
// router's reconnect defaults.
func resolveStreamConfig(defaults retry.StreamConfig, so *types.StreamingOptions) retry.StreamConfig {
	cfg := defaults
	if so == nil {
		return cfg
	}
	if so.MaxConnectionAttempts != nil {
		cfg.MaxConnectionAttempts = *so.MaxConnectionAttempts
	}
	if so.ConnectionTimeout != nil {
		cfg.ConnectionTimeout = *so.ConnectionTimeout
	}
	if so.ReadTimeout != nil {
		cfg.ReadTimeout = *so.ReadTimeout
	}
	if so.ReconnectOnError != nil {
		cfg.ReconnectOnError = *so.ReconnectOnError
	}
	if so.PreservePartialResponse != nil {
		cfg.PreservePartialResponse = *so.PreservePartialResponse
	}
	return cfg
}
