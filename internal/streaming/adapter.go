package streaming

import (
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/maxr0ssi/llm-router/internal/types"
)

// ChunkAdapter normalizes raw backend chunks into uniform chunks tagged
// with provider and model identity, and accumulates the logical text.
// For JSON-mode requests the fully accumulated text is parsed once at
// completion; a parse failure is recovered locally and the caller simply
// receives the raw text.
type ChunkAdapter struct {
	provider string
	model    string

	jsonMode        bool
	preservePartial bool
	debugCapture    bool

	buf    strings.Builder
	raw    []types.StreamChunk
	logger *logrus.Logger
}

// NewChunkAdapter creates an adapter for one stream.
func NewChunkAdapter(provider, model string, opts *types.StreamingOptions, preservePartial bool, logger *logrus.Logger) *ChunkAdapter {
	a := &ChunkAdapter{
		provider:        provider,
		model:           model,
		preservePartial: preservePartial,
		logger:          logger,
	}
	if opts != nil {
		a.jsonMode = opts.JSONMode
		a.debugCapture = opts.DebugCapture
	}
	return a
}

// Adapt tags a chunk with provider and model identity and folds its text
// into the accumulated response. A reconnect boundary resets the
// accumulation when partial responses are not preserved.
func (a *ChunkAdapter) Adapt(chunk types.StreamChunk) types.StreamChunk {
	if chunk.Reconnected && !a.preservePartial {
		a.buf.Reset()
	}
	chunk.Provider = a.provider
	chunk.Model = a.model
	if a.debugCapture {
		a.raw = append(a.raw, chunk)
	}
	a.buf.WriteString(chunk.Text)
	return chunk
}

// Text returns the accumulated text. In JSON mode the complete text is
// validated as a single document; when it does not parse, the raw text is
// returned unchanged and the failure is logged, never surfaced.
func (a *ChunkAdapter) Text() string {
	text := a.buf.String()
	if !a.jsonMode {
		return text
	}
	trimmed := strings.TrimSpace(text)
	var doc json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
		a.logger.WithFields(logrus.Fields{
			"provider": a.provider,
			"model":    a.model,
		}).WithError(err).Debug("JSON-mode output did not parse, returning raw text")
		return text
	}
	return trimmed
}

// Document returns the accumulated text parsed as a JSON document, when
// JSON mode is on and the parse succeeds.
func (a *ChunkAdapter) Document() (json.RawMessage, bool) {
	if !a.jsonMode {
		return nil, false
	}
	trimmed := strings.TrimSpace(a.buf.String())
	var doc json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
		return nil, false
	}
	return doc, true
}

// Captured returns the raw chunks retained under debug capture.
func (a *ChunkAdapter) Captured() []types.StreamChunk {
	return a.raw
}
