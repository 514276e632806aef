package streaming

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxr0ssi/llm-router/internal/types"
)

func TestChunkAdapter_TagsIdentity(t *testing.T) {
	a := NewChunkAdapter("openai", "gpt-4o", nil, true, testLogger())

	out := a.Adapt(types.StreamChunk{Text: "hello"})

	assert.Equal(t, "openai", out.Provider)
	assert.Equal(t, "gpt-4o", out.Model)
	assert.Equal(t, "hello", out.Text)
	assert.Equal(t, "hello", a.Text())
}

func TestChunkAdapter_AccumulatesText(t *testing.T) {
	a := NewChunkAdapter("openai", "gpt-4o", nil, true, testLogger())

	a.Adapt(types.StreamChunk{Text: "one "})
	a.Adapt(types.StreamChunk{Text: "two "})
	a.Adapt(types.StreamChunk{Text: "three"})

	assert.Equal(t, "one two three", a.Text())
}

func TestChunkAdapter_ReconnectResetsWhenPartialNotPreserved(t *testing.T) {
	a := NewChunkAdapter("openai", "gpt-4o", nil, false, testLogger())

	a.Adapt(types.StreamChunk{Text: "partial "})
	a.Adapt(types.StreamChunk{Text: "fresh ", Reconnected: true})
	a.Adapt(types.StreamChunk{Text: "start"})

	assert.Equal(t, "fresh start", a.Text())
}

func TestChunkAdapter_ReconnectKeepsPartialWhenPreserved(t *testing.T) {
	a := NewChunkAdapter("openai", "gpt-4o", nil, true, testLogger())

	a.Adapt(types.StreamChunk{Text: "first "})
	a.Adapt(types.StreamChunk{Text: "second", Reconnected: true})

	assert.Equal(t, "first second", a.Text())
}

func TestChunkAdapter_JSONMode(t *testing.T) {
	opts := &types.StreamingOptions{JSONMode: true}
	a := NewChunkAdapter("openai", "gpt-4o", opts, true, testLogger())

	a.Adapt(types.StreamChunk{Text: `  {"answer": `})
	a.Adapt(types.StreamChunk{Text: `42}` + "\n"})

	assert.Equal(t, `{"answer": 42}`, a.Text())

	doc, ok := a.Document()
	require.True(t, ok)
	assert.JSONEq(t, `{"answer": 42}`, string(doc))
}

func TestChunkAdapter_JSONModeParseFailureFallsBackToRawText(t *testing.T) {
	opts := &types.StreamingOptions{JSONMode: true}
	a := NewChunkAdapter("openai", "gpt-4o", opts, true, testLogger())

	a.Adapt(types.StreamChunk{Text: `{"truncated": `})

	// The raw text comes back unchanged; no error surfaces.
	assert.Equal(t, `{"truncated": `, a.Text())

	_, ok := a.Document()
	assert.False(t, ok)
}

func TestChunkAdapter_DocumentRequiresJSONMode(t *testing.T) {
	a := NewChunkAdapter("openai", "gpt-4o", nil, true, testLogger())
	a.Adapt(types.StreamChunk{Text: `{"valid": true}`})

	_, ok := a.Document()
	assert.False(t, ok)
}

func TestChunkAdapter_DebugCapture(t *testing.T) {
	opts := &types.StreamingOptions{DebugCapture: true}
	a := NewChunkAdapter("openai", "gpt-4o", opts, true, testLogger())

	a.Adapt(types.StreamChunk{Text: "a"})
	a.Adapt(types.StreamChunk{Text: "b", Reconnected: true})

	captured := a.Captured()
	require.Len(t, captured, 2)
	assert.Equal(t, "a", captured[0].Text)
	assert.True(t, captured[1].Reconnected)

	// Capture off by default.
	b := NewChunkAdapter("openai", "gpt-4o", nil, true, testLogger())
	b.Adapt(types.StreamChunk{Text: "x"})
	assert.Empty(t, b.Captured())
}
