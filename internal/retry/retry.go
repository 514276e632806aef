package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maxr0ssi/llm-router/internal/types"
)

// Policy controls bounded-attempt execution for a single operation. One
// process-wide default is configured on the manager; callers may override
// it per request.
type Policy struct {
	MaxAttempts       int           `yaml:"max_attempts" json:"max_attempts"`
	InitialDelay      time.Duration `yaml:"initial_delay" json:"initial_delay"`
	BackoffFactor     float64       `yaml:"backoff_factor" json:"backoff_factor"`
	MaxDelay          time.Duration `yaml:"max_delay" json:"max_delay"`
	RespectRetryAfter bool          `yaml:"respect_retry_after" json:"respect_retry_after"`
}

// DefaultPolicy returns the process defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		InitialDelay:      500 * time.Millisecond,
		BackoffFactor:     2.0,
		MaxDelay:          30 * time.Second,
		RespectRetryAfter: true,
	}
}

// Manager runs operations with bounded retries and exponential backoff,
// accumulating process-wide metrics. Safe for concurrent use from many
// in-flight requests.
type Manager struct {
	policy  Policy
	metrics *Metrics
	logger  *logrus.Logger
}

// NewManager creates a retry manager with the given default policy.
func NewManager(policy Policy, logger *logrus.Logger) *Manager {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Manager{
		policy:  policy,
		metrics: newMetrics(),
		logger:  logger,
	}
}

// Metrics returns a snapshot of the accumulated retry counters.
func (m *Manager) Metrics() MetricsSnapshot {
	return m.metrics.snapshot()
}

// Execute invokes op up to policy.MaxAttempts times. Only failures
// classified transient consume a retry; everything else propagates
// immediately. Delay before attempt n>=2 is
// min(MaxDelay, InitialDelay * BackoffFactor^(n-2)), overridden by a
// server-supplied retry-after hint when the policy respects it. On
// exhaustion the last failure is re-raised wrapped with the attempt count.
func (m *Manager) Execute(ctx context.Context, requestID, provider string, override *Policy, op func(context.Context) error) error {
	policy := m.policy
	if override != nil {
		policy = *override
		if policy.MaxAttempts < 1 {
			policy.MaxAttempts = 1
		}
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := backoffDelay(policy, attempt)
			if policy.RespectRetryAfter {
				if hint, ok := types.RetryAfterHint(lastErr); ok {
					delay = hint
				}
			}
			m.metrics.recordDelay(delay)

			m.logger.WithFields(logrus.Fields{
				"request_id": requestID,
				"provider":   provider,
				"attempt":    attempt,
				"delay_ms":   delay.Milliseconds(),
			}).Debug("Retrying after backoff delay")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		m.metrics.recordAttempt()
		err := op(ctx)
		if err == nil {
			m.metrics.recordSuccess()
			return nil
		}
		lastErr = err
		m.metrics.recordFailure(failureKind(err))

		if !types.IsRetryable(err) {
			m.logger.WithFields(logrus.Fields{
				"request_id": requestID,
				"provider":   provider,
				"attempt":    attempt,
			}).WithError(err).Debug("Non-retryable failure, propagating")
			return err
		}
	}

	m.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"provider":   provider,
		"attempts":   policy.MaxAttempts,
	}).WithError(lastErr).Warn("Retry budget exhausted")

	return &types.RetryExhaustedError{
		Provider:  provider,
		RequestID: requestID,
		Attempts:  policy.MaxAttempts,
		Err:       lastErr,
	}
}

// backoffDelay computes the delay before the given attempt (attempt >= 2).
func backoffDelay(policy Policy, attempt int) time.Duration {
	multiplier := math.Pow(policy.BackoffFactor, float64(attempt-2))
	delay := time.Duration(float64(policy.InitialDelay) * multiplier)
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}

// failureKind buckets an error for metrics. Classification comes from the
// typed error, never from message content.
func failureKind(err error) string {
	var pe *types.ProviderError
	if errors.As(err, &pe) {
		switch {
		case pe.StatusCode == 429:
			return "rate_limited"
		case pe.StatusCode == 408:
			return "timeout"
		case pe.StatusCode >= 500:
			return "server"
		default:
			return "permanent"
		}
	}
	var se *types.StreamConnectionError
	if errors.As(err, &se) {
		return "connection"
	}
	var oe *types.CircuitOpenError
	if errors.As(err, &oe) {
		return "circuit_open"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "other"
}
