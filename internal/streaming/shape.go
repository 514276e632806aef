package streaming

import (
	"context"
	"strings"
	"time"

	"github.com/maxr0ssi/llm-router/internal/types"
)

// Shape applies the request-scoped delivery controls to a stream:
// batching coalesces up to BatchSize consecutive text chunks into one,
// and MinChunkInterval enforces a minimum delay between deliveries.
// Options are assumed normalized; a nil or no-op options value returns
// the input unchanged.
func Shape(ctx context.Context, in <-chan types.StreamChunk, opts *types.StreamingOptions) <-chan types.StreamChunk {
	if opts == nil || (opts.BatchSize <= 1 && opts.MinChunkInterval == 0) {
		return in
	}

	out := make(chan types.StreamChunk)
	go func() {
		defer close(out)

		var (
			batch      strings.Builder
			pending    types.StreamChunk
			hasPending bool
			batched    int
			lastEmit   time.Time
		)

		emit := func(chunk types.StreamChunk) bool {
			if opts.MinChunkInterval > 0 && !lastEmit.IsZero() {
				if wait := opts.MinChunkInterval - time.Since(lastEmit); wait > 0 {
					select {
					case <-time.After(wait):
					case <-ctx.Done():
						return false
					}
				}
			}
			select {
			case out <- chunk:
				lastEmit = time.Now()
				return true
			case <-ctx.Done():
				return false
			}
		}

		flush := func() bool {
			if !hasPending {
				return true
			}
			pending.Text = batch.String()
			ok := emit(pending)
			batch.Reset()
			hasPending = false
			batched = 0
			return ok
		}

		for {
			select {
			case chunk, ok := <-in:
				if !ok {
					flush()
					return
				}
				// Terminal and marker chunks pass through unbatched so
				// errors, usage and reconnect boundaries keep their
				// position in the sequence.
				if chunk.Err != nil || chunk.Usage != nil || chunk.UsageFinal || chunk.Reconnected || chunk.FinishReason != "" {
					if !flush() {
						return
					}
					if !emit(chunk) {
						return
					}
					continue
				}

				if !hasPending {
					pending = chunk
					hasPending = true
				}
				batch.WriteString(chunk.Text)
				batched++
				if batched >= opts.BatchSize {
					if !flush() {
						return
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
