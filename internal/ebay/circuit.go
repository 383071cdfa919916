package ebay

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/donaldgifford/ebay-mcp/internal/metrics"
)

// Circuit breaker defaults.
const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 60 * time.Second
)

// CircuitState is the breaker state of one endpoint.
type CircuitState string

// Circuit states.
const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

func (s CircuitState) gauge() float64 {
	switch s {
	case CircuitHalfOpen:
		return 1
	case CircuitOpen:
		return 2
	default:
		return 0
	}
}

type circuit struct {
	state      CircuitState
	failures   int
	openedAt   time.Time
	probing    bool
	generation uint64
}

// CircuitBreakers tracks one breaker per endpoint key. All transitions for
// all keys go through a single mutex.
type CircuitBreakers struct {
	threshold int
	recovery  time.Duration
	nowFunc   func() time.Time
	logger    *slog.Logger

	mu       sync.Mutex
	circuits map[string]*circuit
}

// CircuitOption configures CircuitBreakers.
type CircuitOption func(*CircuitBreakers)

// WithCircuitNowFunc overrides the time function for testing.
func WithCircuitNowFunc(f func() time.Time) CircuitOption {
	return func(b *CircuitBreakers) {
		b.nowFunc = f
	}
}

// WithCircuitLogger sets the logger used for state transitions.
func WithCircuitLogger(l *slog.Logger) CircuitOption {
	return func(b *CircuitBreakers) {
		b.logger = l
	}
}

// NewCircuitBreakers creates breakers that open after threshold consecutive
// failures and allow a single probe after recovery has elapsed.
func NewCircuitBreakers(threshold int, recovery time.Duration, opts ...CircuitOption) *CircuitBreakers {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if recovery <= 0 {
		recovery = DefaultRecoveryTimeout
	}
	b := &CircuitBreakers{
		threshold: threshold,
		recovery:  recovery,
		nowFunc:   time.Now,
		logger:    slog.New(slog.DiscardHandler),
		circuits:  make(map[string]*circuit),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CircuitPermit is the right to make one call through a breaker. Exactly one
// of Success, Failure or Release should be called; later calls are no-ops.
type CircuitPermit struct {
	b          *CircuitBreakers
	key        string
	generation uint64
	probe      bool
	once       sync.Once
}

// Allow returns a permit for a call to key, or a *CircuitOpenError while
// the circuit is open or a half-open probe is already in flight.
func (b *CircuitBreakers) Allow(key string) (*CircuitPermit, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(key)
	now := b.nowFunc()

	switch c.state {
	case CircuitOpen:
		retryAt := c.openedAt.Add(b.recovery)
		if now.Before(retryAt) {
			return nil, &CircuitOpenError{Endpoint: key, RetryAt: retryAt}
		}
		b.transition(key, c, CircuitHalfOpen)
		c.probing = true
		return &CircuitPermit{b: b, key: key, generation: c.generation, probe: true}, nil
	case CircuitHalfOpen:
		if c.probing {
			return nil, &CircuitOpenError{Endpoint: key, RetryAt: now}
		}
		c.probing = true
		return &CircuitPermit{b: b, key: key, generation: c.generation, probe: true}, nil
	default:
		return &CircuitPermit{b: b, key: key, generation: c.generation}, nil
	}
}

// Success records a successful call: the failure count resets and a
// half-open circuit closes.
func (p *CircuitPermit) Success() {
	p.once.Do(func() { p.b.record(p, outcomeSuccess) })
}

// Failure records a failed call. Crossing the threshold, or failing a probe,
// opens the circuit.
func (p *CircuitPermit) Failure() {
	p.once.Do(func() { p.b.record(p, outcomeFailure) })
}

// Release returns the permit without counting an outcome. A half-open probe
// slot becomes available again.
func (p *CircuitPermit) Release() {
	p.once.Do(func() { p.b.record(p, outcomeNeutral) })
}

type outcome int

const (
	outcomeNeutral outcome = iota
	outcomeSuccess
	outcomeFailure
)

func (b *CircuitBreakers) record(p *CircuitPermit, o outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(p.key)
	// Outcomes from before the last transition are stale.
	if c.generation != p.generation {
		return
	}
	if p.probe {
		c.probing = false
	}

	switch o {
	case outcomeSuccess:
		c.failures = 0
		if c.state != CircuitClosed {
			b.transition(p.key, c, CircuitClosed)
		}
	case outcomeFailure:
		c.failures++
		if c.state == CircuitHalfOpen || c.failures >= b.threshold {
			c.openedAt = b.nowFunc()
			b.transition(p.key, c, CircuitOpen)
			metrics.CircuitTripsTotal.WithLabelValues(p.key).Inc()
		}
	case outcomeNeutral:
	}
}

// transition must be called with b.mu held.
func (b *CircuitBreakers) transition(key string, c *circuit, to CircuitState) {
	from := c.state
	c.state = to
	c.generation++
	if to == CircuitClosed {
		c.openedAt = time.Time{}
	}
	metrics.CircuitState.WithLabelValues(key).Set(to.gauge())
	b.logger.Info("circuit state changed",
		"endpoint", key,
		"from", from,
		"to", to,
		"failures", c.failures,
	)
}

func (b *CircuitBreakers) get(key string) *circuit {
	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{state: CircuitClosed}
		b.circuits[key] = c
	}
	return c
}

// CircuitSnapshot is a read-only view of one endpoint's breaker.
type CircuitSnapshot struct {
	EndpointKey  string       `json:"endpoint_key"`
	State        CircuitState `json:"state"`
	FailureCount int          `json:"failure_count"`
	OpenedAt     *time.Time   `json:"opened_at,omitempty"`
}

// State returns the snapshot for key. An open circuit whose recovery timeout
// has elapsed reports HALF_OPEN.
func (b *CircuitBreakers) State(key string) CircuitSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.circuits[key]
	if !ok {
		return CircuitSnapshot{EndpointKey: key, State: CircuitClosed}
	}
	return b.snapshot(key, c)
}

// Snapshots returns every tracked breaker, sorted by endpoint key.
func (b *CircuitBreakers) Snapshots() []CircuitSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]CircuitSnapshot, 0, len(b.circuits))
	for key, c := range b.circuits {
		out = append(out, b.snapshot(key, c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndpointKey < out[j].EndpointKey })
	return out
}

func (b *CircuitBreakers) snapshot(key string, c *circuit) CircuitSnapshot {
	s := CircuitSnapshot{EndpointKey: key, State: c.state, FailureCount: c.failures}
	if c.state == CircuitOpen && !b.nowFunc().Before(c.openedAt.Add(b.recovery)) {
		s.State = CircuitHalfOpen
	}
	if !c.openedAt.IsZero() {
		at := c.openedAt
		s.OpenedAt = &at
	}
	return s
}

// Reset closes every circuit.
func (b *CircuitBreakers) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, c := range b.circuits {
		c.failures = 0
		c.probing = false
		if c.state != CircuitClosed {
			b.transition(key, c, CircuitClosed)
		}
	}
}
