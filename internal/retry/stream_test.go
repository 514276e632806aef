package retry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/maxr0ssi/llm-router/internal/types"
)

func fastStreamConfig(attempts int) StreamConfig {
	return StreamConfig{
		MaxConnectionAttempts:   attempts,
		ConnectionTimeout:       200 * time.Millisecond,
		ReadTimeout:             200 * time.Millisecond,
		ReconnectOnError:        true,
		PreservePartialResponse: true,
	}
}

// scriptedFactory returns one producer per connection attempt. Each script
// entry is the chunk sequence for that attempt; a non-nil terminal error
// is emitted as an error chunk.
func scriptedFactory(scripts [][]types.StreamChunk) StreamFactory {
	attempt := 0
	return func(ctx context.Context) (<-chan types.StreamChunk, error) {
		script := scripts[attempt]
		attempt++

		out := make(chan types.StreamChunk, len(script))
		go func() {
			defer close(out)
			for _, chunk := range script {
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out, nil
	}
}

func drain(t *testing.T, stream <-chan types.StreamChunk) ([]types.StreamChunk, error) {
	t.Helper()
	var chunks []types.StreamChunk
	for chunk := range stream {
		if chunk.Err != nil {
			return chunks, chunk.Err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func TestStream_CompletesWithoutReconnect(t *testing.T) {
	m := NewStreamManager(fastStreamConfig(3), testLogger())

	factory := scriptedFactory([][]types.StreamChunk{
		{{Text: "hello"}, {Text: " world"}, {FinishReason: "stop"}},
	})

	chunks, err := drain(t, m.Stream(context.Background(), "req-1", "openai", nil, factory))
	if err != nil {
		t.Fatalf("unexpected terminal error: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for _, chunk := range chunks {
		if chunk.Reconnected {
			t.Error("no chunk should be marked reconnected on a clean stream")
		}
	}
}

func TestStream_ReconnectResumesWithoutReplay(t *testing.T) {
	m := NewStreamManager(fastStreamConfig(3), testLogger())

	midStream := &types.StreamConnectionError{Provider: "openai", Reason: "connection reset"}
	factory := scriptedFactory([][]types.StreamChunk{
		{{Text: "a"}, {Text: "b"}, {Err: midStream}},
		{{Text: "c"}, {Text: "d"}},
	})

	chunks, err := drain(t, m.Stream(context.Background(), "req-1", "openai", nil, factory))
	if err != nil {
		t.Fatalf("unexpected terminal error: %v", err)
	}

	var sb strings.Builder
	for _, chunk := range chunks {
		sb.WriteString(chunk.Text)
	}
	if sb.String() != "abcd" {
		t.Errorf("expected assembled text abcd, got %q", sb.String())
	}

	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	if chunks[0].Reconnected || chunks[1].Reconnected {
		t.Error("pre-failure chunks must not be marked reconnected")
	}
	if !chunks[2].Reconnected {
		t.Error("first chunk after reconnect must be marked")
	}
	if chunks[3].Reconnected {
		t.Error("only the first post-reconnect chunk is marked")
	}
}

func TestStream_NonRetryableErrorStops(t *testing.T) {
	m := NewStreamManager(fastStreamConfig(3), testLogger())

	permanent := &types.ProviderError{
		Provider:   "openai",
		StatusCode: 400,
		Message:    "bad request",
		Retryable:  false,
	}
	factory := scriptedFactory([][]types.StreamChunk{
		{{Text: "a"}, {Err: permanent}},
	})

	chunks, err := drain(t, m.Stream(context.Background(), "req-1", "openai", nil, factory))
	if err == nil {
		t.Fatal("expected terminal error")
	}
	var pe *types.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %T", err)
	}
	if len(chunks) != 1 || chunks[0].Text != "a" {
		t.Errorf("expected the delivered chunk before failure, got %v", chunks)
	}
}

func TestStream_ReconnectDisabledStops(t *testing.T) {
	config := fastStreamConfig(3)
	config.ReconnectOnError = false
	m := NewStreamManager(config, testLogger())

	factory := scriptedFactory([][]types.StreamChunk{
		{{Text: "a"}, {Err: &types.StreamConnectionError{Provider: "openai", Reason: "reset"}}},
	})

	_, err := drain(t, m.Stream(context.Background(), "req-1", "openai", nil, factory))
	if err == nil {
		t.Fatal("expected terminal error when reconnection is disabled")
	}
}

func TestStream_AttemptBudgetExhausted(t *testing.T) {
	m := NewStreamManager(fastStreamConfig(2), testLogger())

	failure := &types.StreamConnectionError{Provider: "openai", Reason: "reset"}
	factory := scriptedFactory([][]types.StreamChunk{
		{{Err: failure}},
		{{Err: failure}},
	})

	_, err := drain(t, m.Stream(context.Background(), "req-1", "openai", nil, factory))
	var se *types.StreamConnectionError
	if !errors.As(err, &se) {
		t.Fatalf("expected StreamConnectionError after exhaustion, got %v", err)
	}
}

func TestStream_ConnectionTimeout(t *testing.T) {
	config := fastStreamConfig(1)
	config.ConnectionTimeout = 20 * time.Millisecond
	m := NewStreamManager(config, testLogger())

	factory := func(ctx context.Context) (<-chan types.StreamChunk, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := drain(t, m.Stream(context.Background(), "req-1", "openai", nil, factory))
	var se *types.StreamConnectionError
	if !errors.As(err, &se) {
		t.Fatalf("expected StreamConnectionError for setup timeout, got %v", err)
	}
	if !types.IsRetryable(err) {
		t.Error("connection timeout must be classified retryable")
	}
}

func TestStream_ReadTimeoutTriggersReconnect(t *testing.T) {
	config := fastStreamConfig(2)
	config.ReadTimeout = 30 * time.Millisecond
	m := NewStreamManager(config, testLogger())

	attempt := 0
	factory := func(ctx context.Context) (<-chan types.StreamChunk, error) {
		attempt++
		out := make(chan types.StreamChunk, 2)
		if attempt == 1 {
			// Stall forever: no chunk, no close.
			return out, nil
		}
		out <- types.StreamChunk{Text: "recovered"}
		close(out)
		return out, nil
	}

	chunks, err := drain(t, m.Stream(context.Background(), "req-1", "openai", nil, factory))
	if err != nil {
		t.Fatalf("unexpected terminal error: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Text != "recovered" {
		t.Fatalf("expected recovery chunk after read timeout, got %v", chunks)
	}
	if !chunks[0].Reconnected {
		t.Error("recovery chunk should be marked reconnected")
	}
}

func TestStream_ContextCancellation(t *testing.T) {
	m := NewStreamManager(fastStreamConfig(3), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	factory := func(ctx context.Context) (<-chan types.StreamChunk, error) {
		out := make(chan types.StreamChunk)
		go func() {
			defer close(out)
			for {
				select {
				case out <- types.StreamChunk{Text: "x"}:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out, nil
	}

	stream := m.Stream(ctx, "req-1", "openai", nil, factory)
	<-stream
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-stream:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not close after context cancellation")
		}
	}
}
