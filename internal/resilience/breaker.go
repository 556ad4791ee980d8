package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/mclima/stock-intel-service/internal/adapter/observability"
	"github.com/mclima/stock-intel-service/internal/domain"
)

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32
	SuccessThreshold uint32
	Timeout          time.Duration
}

// BreakerStats is a point-in-time snapshot of breaker counters.
type BreakerStats struct {
	State            string
	TotalCalls       uint32
	TotalSuccesses   uint32
	TotalFailures    uint32
	LastStateChange  time.Time
}

// CircuitBreaker wraps sony/gobreaker behind the Closed/Open/HalfOpen
// contract of spec §4.3: Execute, Reset, and statistics, with all state
// transitions performed under gobreaker's own single mutex region.
type CircuitBreaker struct {
	mu       sync.Mutex
	cb       *gobreaker.CircuitBreaker[any]
	settings gobreaker.Settings
	name     string
}

// NewCircuitBreaker builds a CircuitBreaker from cfg.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.SuccessThreshold,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.RecordCircuitBreakerStatus(name, gaugeValue(to))
		},
	}
	return &CircuitBreaker{
		cb:       gobreaker.NewCircuitBreaker[any](settings),
		settings: settings,
		name:     cfg.Name,
	}
}

// gaugeValue maps a gobreaker state to the 0=closed/1=open/2=half-open
// encoding CircuitBreakerStatus exposes.
func gaugeValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// Execute runs fn guarded by the breaker. When the breaker is Open, Execute
// returns a *domain.ServiceError wrapping domain.ErrCircuitOpen without
// calling fn.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	b.mu.Lock()
	cb := b.cb
	b.mu.Unlock()

	_, err := cb.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.NewCircuitOpenError(b.name + ": circuit open")
	}
	return err
}

// Reset forces the breaker back to Closed with cleared counters by
// swapping in a fresh underlying breaker with identical settings.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cb = gobreaker.NewCircuitBreaker[any](b.settings)
}

// Stats returns the current breaker counters and state.
func (b *CircuitBreaker) Stats() BreakerStats {
	b.mu.Lock()
	cb := b.cb
	b.mu.Unlock()
	counts := cb.Counts()
	return BreakerStats{
		State:           stateString(cb.State()),
		TotalCalls:      counts.Requests,
		TotalSuccesses:  counts.TotalSuccesses,
		TotalFailures:   counts.TotalFailures,
		LastStateChange: time.Now(),
	}
}

func stateString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
