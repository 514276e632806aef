package routing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/maxr0ssi/llm-router/internal/breaker"
	"github.com/maxr0ssi/llm-router/internal/providers"
	"github.com/maxr0ssi/llm-router/internal/registry"
	"github.com/maxr0ssi/llm-router/internal/retry"
	"github.com/maxr0ssi/llm-router/internal/streaming"
	"github.com/maxr0ssi/llm-router/internal/types"
)

// Config holds router-level defaults.
type Config struct {
	// BypassAvailability skips the lightweight availability gate for
	// every request. Per-request Options can also bypass it.
	BypassAvailability bool
}

type backendEntry struct {
	backend providers.Backend
	// usage is non-nil when the backend can emit final token usage on
	// its stream. Resolved once at registration, never re-probed.
	usage providers.UsageStreamingBackend
}

// Router dispatches generation requests to the backend that serves the
// requested model, wrapping every call in the per-provider circuit
// breaker and the retry manager.
type Router struct {
	registry *registry.Registry
	retries  *retry.Manager
	streams  *retry.StreamManager
	breakers *breaker.Manager
	config   Config
	logger   *logrus.Logger

	mu       sync.RWMutex
	backends map[string]backendEntry
}

// New creates a router. Backends are registered separately.
func New(reg *registry.Registry, retries *retry.Manager, streams *retry.StreamManager, breakers *breaker.Manager, config Config, logger *logrus.Logger) *Router {
	return &Router{
		registry: reg,
		retries:  retries,
		streams:  streams,
		breakers: breakers,
		config:   config,
		logger:   logger,
		backends: make(map[string]backendEntry),
	}
}

// RegisterBackend adds a backend under its own name. The usage-streaming
// capability is resolved here, once.
func (r *Router) RegisterBackend(b providers.Backend) {
	entry := backendEntry{backend: b}
	if ub, ok := b.(providers.UsageStreamingBackend); ok {
		entry.usage = ub
	}

	r.mu.Lock()
	r.backends[b.Name()] = entry
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"provider":     b.Name(),
		"usage_stream": entry.usage != nil,
	}).Info("Backend registered")
}

// Backend returns a registered backend by provider name.
func (r *Router) Backend(name string) (providers.Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.backends[name]
	return entry.backend, ok
}

// Generate routes a synchronous request: config lookup, availability
// gate, parameter normalization, then the retry loop inside the breaker
// guard, so a request records exactly one outcome on the breaker no
// matter how many attempts it consumed. The response carries cost
// figures when pricing is configured for the model.
func (r *Router) Generate(ctx context.Context, modelID string, messages []types.Message, opts *Options) (*types.GenerationResponse, error) {
	requestID := r.requestID(opts)

	cfg, entry, err := r.resolve(modelID, opts)
	if err != nil {
		return nil, err
	}

	params := r.registry.NormalizeParams(messages, opts.params(), cfg)
	br := r.breakers.GetOrCreate(cfg.Provider, nil)

	start := time.Now()
	var resp *types.GenerationResponse
	err = br.Call(ctx, func(ctx context.Context) error {
		return r.retries.Execute(ctx, requestID, cfg.Provider, opts.retryPolicy(), func(ctx context.Context) error {
			out, genErr := entry.backend.Generate(ctx, params)
			if genErr != nil {
				return genErr
			}
			resp = out
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	resp.Provider = cfg.Provider
	resp.RequestID = requestID
	r.attachCost(cfg, resp)

	r.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"provider":   cfg.Provider,
		"model":      modelID,
		"duration":   time.Since(start),
		"cost_usd":   resp.CostUSD,
	}).Info("Generation completed")
	return resp, nil
}

// GenerateStream routes a streaming request and returns the shaped chunk
// channel. Connection failures and mid-stream errors reconnect according
// to the resolved stream config; delivered chunks are never replayed, and
// the first chunk after a reconnect carries Reconnected=true.
func (r *Router) GenerateStream(ctx context.Context, modelID string, messages []types.Message, opts *Options) (<-chan types.StreamChunk, error) {
	requestID := r.requestID(opts)

	cfg, entry, err := r.resolve(modelID, opts)
	if err != nil {
		return nil, err
	}
	return r.openStream(ctx, requestID, cfg, entry, messages, opts), nil
}

// openStream builds the breaker-gated stream factory and hands it to the
// stream manager. The request id is resolved by the caller so the whole
// request, events included, correlates under one id.
func (r *Router) openStream(ctx context.Context, requestID string, cfg *types.ModelConfig, entry backendEntry, messages []types.Message, opts *Options) <-chan types.StreamChunk {
	so := opts.streaming()
	if so != nil {
		so.Normalize()
	}
	params := r.registry.NormalizeParams(messages, opts.params(), cfg)
	br := r.breakers.GetOrCreate(cfg.Provider, nil)

	wantUsage := so != nil && so.IncludeUsage
	open := entry.backend.GenerateStream
	if wantUsage && entry.usage != nil {
		open = entry.usage.GenerateStreamWithUsage
	}

	factory := func(ctx context.Context) (<-chan types.StreamChunk, error) {
		if allowErr := br.Allow(); allowErr != nil {
			return nil, allowErr
		}
		src, openErr := open(ctx, params)
		br.Record(openErr == nil)
		return src, openErr
	}

	streamCfg := resolveStreamConfig(r.streams.Config(), so)
	out := r.streams.Stream(ctx, requestID, cfg.Provider, &streamCfg, factory)
	if wantUsage && entry.usage == nil {
		out = synthesizeUsageMarker(out)
	}
	return streaming.Shape(ctx, out, so)
}

// CollectStream runs a streaming request to completion and assembles the
// result: full text (JSON-parsed in JSON mode), usage, reconnect count
// and time-to-first-token. Lifecycle callbacks from opts fire in order.
func (r *Router) CollectStream(ctx context.Context, modelID string, messages []types.Message, opts *Options) (*streaming.Result, error) {
	requestID := r.requestID(opts)

	cfg, entry, err := r.resolve(modelID, opts)
	if err != nil {
		return nil, err
	}

	stream := r.openStream(ctx, requestID, cfg, entry, messages, opts)

	so := opts.streaming()
	streamCfg := resolveStreamConfig(r.streams.Config(), so)
	adapter := streaming.NewChunkAdapter(cfg.Provider, modelID, so, streamCfg.PreservePartialResponse, r.logger)

	events := streaming.NewEventManager(r.logger)
	if opts != nil && len(opts.Callbacks) > 0 {
		for _, cb := range opts.Callbacks {
			events.Register(cb)
		}
		deferred := so != nil && so.DeferredEvents
		events.Attach(streaming.NewEventProcessor(requestID, deferred, r.logger))
	}

	return streaming.Collect(ctx, stream, adapter, events)
}

// ProviderStatus describes one provider as seen by the router.
type ProviderStatus struct {
	Provider  string           `json:"provider"`
	Available bool             `json:"available"`
	Circuit   breaker.Snapshot `json:"circuit"`
}

// Status reports every registered provider, sorted by name. Breaker
// fields are zero for providers that have not taken traffic yet.
func (r *Router) Status() []ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make([]ProviderStatus, 0, len(r.backends))
	for name, entry := range r.backends {
		status := ProviderStatus{
			Provider:  name,
			Available: entry.backend.IsAvailable(),
		}
		if br, ok := r.breakers.Get(name); ok {
			status.Circuit = br.Snapshot()
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Provider < statuses[j].Provider })
	return statuses
}

// Models lists every configured model.
func (r *Router) Models() []types.ModelConfig {
	return r.registry.Models()
}

// ModelConfig returns the configuration for one model id.
func (r *Router) ModelConfig(modelID string) (*types.ModelConfig, error) {
	return r.registry.GetConfig(modelID)
}

// RetryMetrics returns a point-in-time snapshot of retry activity.
func (r *Router) RetryMetrics() retry.MetricsSnapshot {
	return r.retries.Metrics()
}

// resolve maps a model id to its config and backend and applies the
// availability gate. Unknown models fail fast without touching any
// provider.
func (r *Router) resolve(modelID string, opts *Options) (*types.ModelConfig, backendEntry, error) {
	cfg, err := r.registry.GetConfig(modelID)
	if err != nil {
		return nil, backendEntry{}, err
	}

	r.mu.RLock()
	entry, ok := r.backends[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, backendEntry{}, &types.AvailabilityError{
			ModelID:  modelID,
			Provider: cfg.Provider,
			Reason:   "provider not registered",
		}
	}

	bypass := r.config.BypassAvailability || (opts != nil && opts.BypassAvailability)
	if !bypass && !entry.backend.IsAvailable() {
		return nil, backendEntry{}, &types.AvailabilityError{
			ModelID:  modelID,
			Provider: cfg.Provider,
			Reason:   "provider not configured",
		}
	}
	return cfg, entry, nil
}

func (r *Router) requestID(opts *Options) string {
	if opts != nil && opts.RequestID != "" {
		return opts.RequestID
	}
	return uuid.NewString()
}

// attachCost fills the cost fields: exact breakdown when pricing and
// usage are both present, flat approximation when only usage is, and
// zeroes otherwise.
func (r *Router) attachCost(cfg *types.ModelConfig, resp *types.GenerationResponse) {
	if bd, ok := r.registry.CalculateExactCost(cfg, resp.Usage); ok {
		resp.CostBreakdown = bd
		resp.CostUSD = bd.TotalCost
		return
	}
	if cost, ok := r.registry.CalculateCost(cfg, resp.Usage); ok {
		resp.CostUSD = cost
	}
}

// synthesizeUsageMarker gives streams from usage-incapable backends the
// same terminal shape as usage-capable ones: a final chunk with
// UsageFinal set and nil Usage, emitted only when the stream completed
// without a terminal error.
func synthesizeUsageMarker(src <-chan types.StreamChunk) <-chan types.StreamChunk {
	out := make(chan types.StreamChunk)
	go func() {
		defer close(out)
		failed := false
		sawUsage := false
		for chunk := range src {
			if chunk.Err != nil {
				failed = true
			}
			if chunk.UsageFinal {
				sawUsage = true
			}
			out <- chunk
		}
		if !failed && !sawUsage {
			out <- types.StreamChunk{UsageFinal: true}
		}
	}()
	return out
}
