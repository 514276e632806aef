package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maxr0ssi/llm-router/internal/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func testConfig() Config {
	return Config{
		FailureThreshold:     3,
		FailureRateThreshold: 0.5,
		SuccessThreshold:     2,
		Timeout:              30 * time.Second,
		WindowSize:           10,
	}
}

// fakeClock drives the breaker's cooldown without sleeping.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(config Config) (*Breaker, *fakeClock) {
	b := New("openai", config)
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	b.now = clock.Now
	return b, clock
}

func failN(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		if err := b.Allow(); err == nil {
			b.Record(false)
		}
	}
}

func TestBreaker_StartsClosed(t *testing.T) {
	b, _ := newTestBreaker(testConfig())
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %v", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("closed breaker must admit calls: %v", err)
	}
	b.Record(true)
}

func TestBreaker_TripsOnConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(testConfig())

	failN(b, 2)
	if b.State() != StateClosed {
		t.Fatal("should remain closed below the threshold")
	}

	failN(b, 1)
	if b.State() != StateOpen {
		t.Fatalf("expected open after 3 consecutive failures, got %v", b.State())
	}

	err := b.Allow()
	var oe *types.CircuitOpenError
	if !errors.As(err, &oe) {
		t.Fatalf("open breaker must fail fast with CircuitOpenError, got %v", err)
	}
	if oe.Provider != "openai" {
		t.Errorf("expected provider openai, got %s", oe.Provider)
	}
}

func TestBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	b, _ := newTestBreaker(testConfig())

	failN(b, 2)
	if err := b.Allow(); err != nil {
		t.Fatal(err)
	}
	b.Record(true)
	failN(b, 2)

	if b.State() != StateClosed {
		t.Fatal("interleaved success must reset the consecutive failure count")
	}
}

func TestBreaker_TripsOnWindowFailureRate(t *testing.T) {
	config := testConfig()
	config.FailureThreshold = 100 // rate check only
	b, _ := newTestBreaker(config)

	// Fill the 10-slot window: 6 failures, 4 successes, alternating so the
	// consecutive count never accumulates.
	outcomes := []bool{false, true, false, true, false, true, false, true, false, false}
	for _, success := range outcomes {
		if err := b.Allow(); err != nil {
			t.Fatal(err)
		}
		b.Record(success)
	}

	if b.State() != StateOpen {
		t.Fatalf("expected open at 60%% window failure rate, got %v", b.State())
	}
}

func TestBreaker_RateCheckNeedsFullWindow(t *testing.T) {
	config := testConfig()
	config.FailureThreshold = 100
	b, _ := newTestBreaker(config)

	// 5 failures in a partially filled window must not trip.
	for i := 0; i < 5; i++ {
		if err := b.Allow(); err != nil {
			t.Fatal(err)
		}
		b.Record(i%2 == 0)
	}
	if b.State() != StateClosed {
		t.Fatal("rate check must wait for a full window")
	}
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	b, clock := newTestBreaker(testConfig())

	failN(b, 3)
	if b.State() != StateOpen {
		t.Fatal("expected open")
	}

	clock.Advance(29 * time.Second)
	if err := b.Allow(); err == nil {
		t.Fatal("cooldown not elapsed, call must be blocked")
	}

	clock.Advance(2 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half_open after cooldown, got %v", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("half-open breaker must admit a probe: %v", err)
	}
	b.Record(true)
}

func TestBreaker_HalfOpenLimitsProbes(t *testing.T) {
	b, clock := newTestBreaker(testConfig())

	failN(b, 3)
	clock.Advance(31 * time.Second)

	// SuccessThreshold=2 probes in flight at once.
	if err := b.Allow(); err != nil {
		t.Fatal(err)
	}
	if err := b.Allow(); err != nil {
		t.Fatal(err)
	}
	if err := b.Allow(); err == nil {
		t.Fatal("third concurrent probe must be rejected")
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(testConfig())

	failN(b, 3)
	clock.Advance(31 * time.Second)

	if err := b.Allow(); err != nil {
		t.Fatal(err)
	}
	b.Record(false)

	if b.State() != StateOpen {
		t.Fatal("probe failure must reopen immediately")
	}

	// Timer restarted: still blocked until another full cooldown.
	clock.Advance(29 * time.Second)
	if err := b.Allow(); err == nil {
		t.Fatal("reopened breaker must wait a full cooldown again")
	}
	clock.Advance(2 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatal("probe should be admitted after the restarted cooldown")
	}
	b.Record(true)
}

func TestBreaker_ClosesAfterProbeSuccesses(t *testing.T) {
	b, clock := newTestBreaker(testConfig())

	failN(b, 3)
	clock.Advance(31 * time.Second)

	for i := 0; i < 2; i++ {
		if err := b.Allow(); err != nil {
			t.Fatal(err)
		}
		b.Record(true)
	}

	if b.State() != StateClosed {
		t.Fatalf("expected closed after %d probe successes, got %v", 2, b.State())
	}

	snap := b.Snapshot()
	if snap.ConsecutiveFailures != 0 {
		t.Error("reset must clear the consecutive failure count")
	}
	if snap.WindowFailureRate != 0 {
		t.Error("reset must clear the outcome window")
	}
}

func TestBreaker_Call(t *testing.T) {
	b, _ := newTestBreaker(testConfig())

	boom := &types.ProviderError{Provider: "openai", StatusCode: 500, Retryable: true}
	for i := 0; i < 3; i++ {
		err := b.Call(context.Background(), func(ctx context.Context) error { return boom })
		if !errors.Is(err, boom) {
			t.Fatalf("expected op error back, got %v", err)
		}
	}

	err := b.Call(context.Background(), func(ctx context.Context) error {
		t.Fatal("op must not run while the breaker is open")
		return nil
	})
	var oe *types.CircuitOpenError
	if !errors.As(err, &oe) {
		t.Fatalf("expected CircuitOpenError, got %v", err)
	}
}

func TestBreaker_SnapshotCounters(t *testing.T) {
	b, _ := newTestBreaker(testConfig())

	for i := 0; i < 4; i++ {
		if err := b.Allow(); err != nil {
			t.Fatal(err)
		}
		b.Record(i < 2)
	}

	snap := b.Snapshot()
	if snap.Provider != "openai" {
		t.Errorf("expected provider openai, got %s", snap.Provider)
	}
	if snap.TotalRequests != 4 || snap.TotalSuccesses != 2 || snap.TotalFailures != 2 {
		t.Errorf("unexpected counters: %+v", snap)
	}
	if snap.ConsecutiveFailures != 2 {
		t.Errorf("expected 2 consecutive failures, got %d", snap.ConsecutiveFailures)
	}
	if snap.WindowFailureRate != 0.5 {
		t.Errorf("expected 0.5 window failure rate, got %f", snap.WindowFailureRate)
	}
}

func TestManager_OneBreakerPerProvider(t *testing.T) {
	m := NewManager(testConfig(), testLogger())

	a := m.GetOrCreate("openai", nil)
	b := m.GetOrCreate("openai", nil)
	if a != b {
		t.Fatal("expected the same breaker instance per provider")
	}

	c := m.GetOrCreate("anthropic", nil)
	if c == a {
		t.Fatal("providers must get isolated breakers")
	}

	// Failures on one provider never affect the other.
	failN(a, 3)
	if a.State() != StateOpen {
		t.Fatal("expected openai breaker open")
	}
	if c.State() != StateClosed {
		t.Fatal("anthropic breaker must be unaffected")
	}

	snaps := m.AllSnapshots()
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	if snaps["openai"].State != "open" || snaps["anthropic"].State != "closed" {
		t.Errorf("unexpected snapshot states: %+v", snaps)
	}
}
