package providers

import (
	"context"

	"github.com/maxr0ssi/llm-router/internal/types"
)

// Backend is the capability contract every provider adapter implements.
// Generate and GenerateStream classify their failures once, at this
// boundary, into typed errors carrying the provider name, status code and
// an explicit retryable flag.
type Backend interface {
	Name() string

	// Generate performs one synchronous generation.
	Generate(ctx context.Context, params *types.GenerationParams) (*types.GenerationResponse, error)

	// GenerateStream returns a finite lazy sequence of chunks. The channel
	// closes on normal completion; a mid-sequence failure surfaces as a
	// final chunk with Err set.
	GenerateStream(ctx context.Context, params *types.GenerationParams) (<-chan types.StreamChunk, error)

	// IsAvailable reports configured readiness without any network call.
	IsAvailable() bool
}

// UsageStreamingBackend is the optional usage-emitting stream variant.
// The router resolves this capability once at backend registration, never
// by per-call introspection.
type UsageStreamingBackend interface {
	Backend

	// GenerateStreamWithUsage streams chunks with final token usage on the
	// terminal element.
	GenerateStreamWithUsage(ctx context.Context, params *types.GenerationParams) (<-chan types.StreamChunk, error)
}
