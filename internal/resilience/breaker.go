// Package resilience guards outbound fetches with a circuit breaker so a host that keeps failing
// is short-circuited instead of tying up request goroutines until the fetch timeout.
package resilience

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// BreakerConfig holds the settings of a circuit breaker.
type BreakerConfig struct {
	Name string

	// MaxRequests is the number of requests let through while half-open.
	MaxRequests uint32

	// Interval is the cyclic period after which closed-state counts are cleared.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration

	// FailureThreshold is the failure ratio (0..1) that trips the breaker.
	FailureThreshold float64

	// MinRequests must be reached before the ratio is considered.
	MinRequests uint32

	// IsSuccessful reports whether a returned error still counts as a healthy call. Nil means only
	// a nil error does.
	IsSuccessful func(err error) bool
}

func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      10,
	}
}

type Breaker struct {
	breaker *gobreaker.CircuitBreaker
	name    string
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	settings := gobreaker.Settings{
		Name:         cfg.Name,
		MaxRequests:  cfg.MaxRequests,
		Interval:     cfg.Interval,
		Timeout:      cfg.Timeout,
		IsSuccessful: cfg.IsSuccessful,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	}

	return &Breaker{
		breaker: gobreaker.NewCircuitBreaker(settings),
		name:    cfg.Name,
	}
}

// Execute runs fn through the breaker. When open it fails fast with gobreaker.ErrOpenState,
// prefixed with the breaker name.
func Execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	out, err := b.breaker.Execute(func() (interface{}, error) {
		v, err := fn()
		return v, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return zero, fmt.Errorf("%s: %w", b.Name(), err)
	}
	if err != nil {
		return zero, err
	}
	v, _ := out.(T)
	return v, nil
}

func (b *Breaker) Name() string {
	return b.name
}

func (b *Breaker) State() gobreaker.State {
	return b.breaker.State()
}
