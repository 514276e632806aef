package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/maxr0ssi/llm-router/internal/types"
)

// State is the breaker's position in its lifecycle.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds the trip and recovery thresholds for one breaker.
// Immutable once the breaker is created.
type Config struct {
	// FailureThreshold trips the breaker after this many consecutive
	// failures.
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`

	// FailureRateThreshold additionally trips the breaker when the
	// failure rate over a full sliding window exceeds this fraction.
	// Zero disables the rate check.
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" json:"failure_rate_threshold"`

	// SuccessThreshold closes a half-open breaker after this many
	// consecutive probe successes.
	SuccessThreshold int `yaml:"success_threshold" json:"success_threshold"`

	// Timeout is how long an open breaker waits before allowing probes.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// WindowSize is the number of recent outcomes kept for the rate check.
	WindowSize int `yaml:"window_size" json:"window_size"`
}

// DefaultConfig returns the per-provider breaker defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:     5,
		FailureRateThreshold: 0.5,
		SuccessThreshold:     2,
		Timeout:              30 * time.Second,
		WindowSize:           20,
	}
}

// Snapshot is a read-only view of a breaker's state and counters.
type Snapshot struct {
	Provider            string  `json:"provider"`
	State               string  `json:"state"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	TotalRequests       int64   `json:"total_requests"`
	TotalFailures       int64   `json:"total_failures"`
	TotalSuccesses      int64   `json:"total_successes"`
	WindowFailureRate   float64 `json:"window_failure_rate"`
}

// Breaker isolates one provider: CLOSED passes calls through, OPEN blocks
// them without any network attempt, HALF_OPEN admits a limited number of
// probes after the cooldown. One breaker per provider name, process
// lifetime, owned by the Manager.
type Breaker struct {
	name   string
	config Config

	mu                  sync.Mutex
	state               State
	openedAt            time.Time
	consecutiveFailures int
	probeSuccesses      int
	probesInFlight      int
	totalRequests       int64
	totalFailures       int64
	totalSuccesses      int64

	// Sliding window of recent outcomes, true = failure.
	window      []bool
	windowIndex int
	windowCount int

	now func() time.Time
}

// New creates a breaker for the named provider.
func New(name string, config Config) *Breaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold < 1 {
		config.SuccessThreshold = 1
	}
	if config.WindowSize < 1 {
		config.WindowSize = 1
	}
	return &Breaker{
		name:   name,
		config: config,
		state:  StateClosed,
		window: make([]bool, config.WindowSize),
		now:    time.Now,
	}
}

// Call atomically decides pass/block, executes op if passing, and records
// the outcome. When blocked it raises a CircuitOpenError without making
// any attempt.
func (b *Breaker) Call(ctx context.Context, op func(context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := op(ctx)
	b.Record(err == nil)
	return err
}

// Allow decides whether a call may proceed. Exposed separately so stream
// factories can fail fast before opening a connection; every Allow must be
// paired with a Record.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.config.Timeout {
			return &types.CircuitOpenError{Provider: b.name}
		}
		// Cooldown elapsed: move to half-open and admit this call as the
		// first probe.
		b.state = StateHalfOpen
		b.probeSuccesses = 0
		b.probesInFlight = 0
		fallthrough
	case StateHalfOpen:
		if b.probesInFlight >= b.config.SuccessThreshold {
			return &types.CircuitOpenError{Provider: b.name}
		}
		b.probesInFlight++
	}

	b.totalRequests++
	return nil
}

// Record registers a call outcome and drives state transitions.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.window[b.windowIndex] = !success
	b.windowIndex = (b.windowIndex + 1) % len(b.window)
	if b.windowCount < len(b.window) {
		b.windowCount++
	}

	if success {
		b.totalSuccesses++
		b.consecutiveFailures = 0
	} else {
		b.totalFailures++
		b.consecutiveFailures++
	}

	switch b.state {
	case StateHalfOpen:
		if b.probesInFlight > 0 {
			b.probesInFlight--
		}
		if !success {
			// Any probe failure reopens immediately and restarts the timer.
			b.trip()
			return
		}
		b.probeSuccesses++
		if b.probeSuccesses >= b.config.SuccessThreshold {
			b.reset()
		}
	case StateClosed:
		if !success && b.shouldTrip() {
			b.trip()
		}
	}
}

// State returns the current state, transitioning OPEN to HALF_OPEN when
// the cooldown has elapsed so snapshots reflect reality.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.config.Timeout {
		return StateHalfOpen
	}
	return b.state
}

// Snapshot returns a read-only copy of the breaker's counters.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.state
	if state == StateOpen && b.now().Sub(b.openedAt) >= b.config.Timeout {
		state = StateHalfOpen
	}
	return Snapshot{
		Provider:            b.name,
		State:               state.String(),
		ConsecutiveFailures: b.consecutiveFailures,
		TotalRequests:       b.totalRequests,
		TotalFailures:       b.totalFailures,
		TotalSuccesses:      b.totalSuccesses,
		WindowFailureRate:   b.failureRate(),
	}
}

// shouldTrip checks the consecutive-failure and windowed-rate conditions.
// Caller holds the lock.
func (b *Breaker) shouldTrip() bool {
	if b.consecutiveFailures >= b.config.FailureThreshold {
		return true
	}
	if b.config.FailureRateThreshold > 0 && b.windowCount >= len(b.window) {
		return b.failureRate() > b.config.FailureRateThreshold
	}
	return false
}

// failureRate computes the failure fraction of the filled window. Caller
// holds the lock.
func (b *Breaker) failureRate() float64 {
	if b.windowCount == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < b.windowCount; i++ {
		if b.window[i] {
			failures++
		}
	}
	return float64(failures) / float64(b.windowCount)
}

// trip opens the breaker and restarts the cooldown timer. Caller holds
// the lock.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.probeSuccesses = 0
	b.probesInFlight = 0
}

// reset returns the breaker to CLOSED with fresh stats. Caller holds the
// lock.
func (b *Breaker) reset() {
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.probeSuccesses = 0
	b.probesInFlight = 0
	b.window = make([]bool, b.config.WindowSize)
	b.windowIndex = 0
	b.windowCount = 0
}
