package streaming

import (
	"context"
	"time"

	"github.com/maxr0ssi/llm-router/internal/types"
)

// Result is the aggregate of a fully drained stream.
type Result struct {
	Text         string        `json:"text"`
	Usage        *types.Usage  `json:"usage,omitempty"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Chunks       int           `json:"chunks"`
	Reconnects   int           `json:"reconnects"`
	TTFT         time.Duration `json:"ttft"`
	Duration     time.Duration `json:"duration"`
}

// Collect drains a stream into accumulated text, final usage and derived
// metrics, feeding the event manager as chunks arrive. Both adapter and
// events may be nil when the caller only wants the aggregate. Collect
// returns the terminal error when the stream ends with one; the partial
// result is still returned.
func Collect(ctx context.Context, stream <-chan types.StreamChunk, adapter *ChunkAdapter, events *EventManager) (*Result, error) {
	start := time.Now()
	result := &Result{}

	for {
		select {
		case chunk, ok := <-stream:
			if !ok {
				result.Duration = time.Since(start)
				if adapter != nil {
					result.Text = adapter.Text()
				}
				if events != nil {
					events.Usage(result.Usage)
					events.Complete()
				}
				return result, nil
			}
			if chunk.Err != nil {
				result.Duration = time.Since(start)
				if adapter != nil {
					result.Text = adapter.Text()
				}
				if events != nil {
					events.Error(chunk.Err)
				}
				return result, chunk.Err
			}

			if adapter != nil {
				chunk = adapter.Adapt(chunk)
			}
			if chunk.Reconnected {
				result.Reconnects++
			}
			if chunk.Usage != nil {
				result.Usage = chunk.Usage
			}
			if chunk.FinishReason != "" {
				result.FinishReason = chunk.FinishReason
			}
			if chunk.Text != "" {
				if result.Chunks == 0 {
					result.TTFT = time.Since(start)
				}
				result.Chunks++
				if events != nil {
					events.Delta(chunk.Provider, chunk.Model, chunk.Text)
				}
			}

		case <-ctx.Done():
			result.Duration = time.Since(start)
			if adapter != nil {
				result.Text = adapter.Text()
			}
			if events != nil {
				events.Error(ctx.Err())
			}
			return result, ctx.Err()
		}
	}
}
