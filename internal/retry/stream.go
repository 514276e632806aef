package retry

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maxr0ssi/llm-router/internal/types"
)

// StreamConfig controls reconnect-on-error behavior for a streamed
// generation. Timeouts here are distinct from the synchronous retry
// policy: ConnectionTimeout bounds stream setup, ReadTimeout bounds each
// chunk read.
type StreamConfig struct {
	MaxConnectionAttempts   int           `yaml:"max_connection_attempts" json:"max_connection_attempts"`
	ConnectionTimeout       time.Duration `yaml:"connection_timeout" json:"connection_timeout"`
	ReadTimeout             time.Duration `yaml:"read_timeout" json:"read_timeout"`
	ReconnectOnError        bool          `yaml:"reconnect_on_error" json:"reconnect_on_error"`
	PreservePartialResponse bool          `yaml:"preserve_partial_response" json:"preserve_partial_response"`
}

// DefaultStreamConfig returns the process defaults, all overridable via
// configuration or per-request streaming options.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		MaxConnectionAttempts:   3,
		ConnectionTimeout:       10 * time.Second,
		ReadTimeout:             30 * time.Second,
		ReconnectOnError:        true,
		PreservePartialResponse: true,
	}
}

// StreamFactory opens one streaming attempt. Implementations must consult
// the circuit breaker and fail fast with a CircuitOpenError (non-retryable)
// when it is open.
type StreamFactory func(ctx context.Context) (<-chan types.StreamChunk, error)

// StreamManager wraps a stream factory with reconnect-on-error semantics.
// Chunks already delivered are never replayed: after a reconnect the
// manager resumes forwarding newly produced chunks only, marking the first
// one so consumers can decide what to do with partial output.
type StreamManager struct {
	config StreamConfig
	logger *logrus.Logger
}

// NewStreamManager creates a streaming retry manager with the given
// default configuration.
func NewStreamManager(config StreamConfig, logger *logrus.Logger) *StreamManager {
	if config.MaxConnectionAttempts < 1 {
		config.MaxConnectionAttempts = 1
	}
	return &StreamManager{config: config, logger: logger}
}

// Config returns the manager's default stream configuration.
func (m *StreamManager) Config() StreamConfig {
	return m.config
}

// Stream produces a lazy, finite chunk sequence from the factory. On a
// mid-stream retryable failure with attempts remaining and reconnection
// enabled, it reconnects and continues; on exhaustion or a non-retryable
// failure it emits one terminal chunk carrying the last error and closes.
func (m *StreamManager) Stream(ctx context.Context, requestID, provider string, override *StreamConfig, factory StreamFactory) <-chan types.StreamChunk {
	config := m.config
	if override != nil {
		config = *override
		if config.MaxConnectionAttempts < 1 {
			config.MaxConnectionAttempts = 1
		}
	}

	out := make(chan types.StreamChunk)
	go func() {
		defer close(out)

		var lastErr error
		for attempt := 1; attempt <= config.MaxConnectionAttempts; attempt++ {
			reconnected := attempt > 1

			src, cancelAttempt, err := m.connect(ctx, provider, config, factory)
			if err != nil {
				lastErr = err
				if m.shouldStop(ctx, config, attempt, err) {
					m.emitError(ctx, out, provider, lastErr)
					return
				}
				m.logger.WithFields(logrus.Fields{
					"request_id": requestID,
					"provider":   provider,
					"attempt":    attempt,
				}).WithError(err).Warn("Stream connection failed, reconnecting")
				continue
			}

			completed, err := m.forward(ctx, provider, config, src, out, reconnected)
			cancelAttempt()
			if completed {
				return
			}
			if err == nil {
				// Context cancelled while forwarding.
				return
			}
			lastErr = err
			if m.shouldStop(ctx, config, attempt, err) {
				m.emitError(ctx, out, provider, lastErr)
				return
			}
			m.logger.WithFields(logrus.Fields{
				"request_id": requestID,
				"provider":   provider,
				"attempt":    attempt,
			}).WithError(err).Warn("Stream failed mid-sequence, reconnecting")
		}

		m.emitError(ctx, out, provider, lastErr)
	}()
	return out
}

// connect invokes the factory, bounding stream setup by the connection
// timeout. A timeout counts as a retryable connection failure. The
// returned cancel terminates this attempt's producer; callers invoke it
// when the attempt ends, before any reconnect.
func (m *StreamManager) connect(ctx context.Context, provider string, config StreamConfig, factory StreamFactory) (<-chan types.StreamChunk, context.CancelFunc, error) {
	type result struct {
		src <-chan types.StreamChunk
		err error
	}

	connectCtx, cancel := context.WithCancel(ctx)
	done := make(chan result, 1)
	go func() {
		src, err := factory(connectCtx)
		done <- result{src: src, err: err}
	}()

	timer := time.NewTimer(config.ConnectionTimeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			cancel()
			return nil, nil, res.err
		}
		return res.src, cancel, nil
	case <-timer.C:
		cancel()
		return nil, nil, &types.StreamConnectionError{
			Provider: provider,
			Reason:   "connection setup timed out",
		}
	case <-ctx.Done():
		cancel()
		return nil, nil, ctx.Err()
	}
}

// forward relays chunks until the source closes (completed=true), fails
// mid-sequence, or a read exceeds the read timeout. Error chunks from the
// source are consumed here and converted into the reconnect decision; they
// are not forwarded downstream.
func (m *StreamManager) forward(ctx context.Context, provider string, config StreamConfig, src <-chan types.StreamChunk, out chan<- types.StreamChunk, reconnected bool) (bool, error) {
	timer := time.NewTimer(config.ReadTimeout)
	defer timer.Stop()

	first := true
	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(config.ReadTimeout)

		select {
		case chunk, ok := <-src:
			if !ok {
				return true, nil
			}
			if chunk.Err != nil {
				return false, chunk.Err
			}
			if reconnected && first {
				chunk.Reconnected = true
			}
			first = false
			select {
			case out <- chunk:
			case <-ctx.Done():
				return false, nil
			}
		case <-timer.C:
			return false, &types.StreamConnectionError{
				Provider: provider,
				Reason:   "chunk read timed out",
			}
		case <-ctx.Done():
			return false, nil
		}
	}
}

// shouldStop decides whether a failure ends the stream instead of
// triggering a reconnect.
func (m *StreamManager) shouldStop(ctx context.Context, config StreamConfig, attempt int, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	if !config.ReconnectOnError {
		return true
	}
	if attempt >= config.MaxConnectionAttempts {
		return true
	}
	return !types.IsRetryable(err)
}

func (m *StreamManager) emitError(ctx context.Context, out chan<- types.StreamChunk, provider string, err error) {
	if err == nil {
		err = &types.StreamConnectionError{Provider: provider, Reason: "stream failed"}
	}
	select {
	case out <- types.StreamChunk{Provider: provider, Err: err}:
	case <-ctx.Done():
	}
}
