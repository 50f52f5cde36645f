package external

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// CircuitBreakerConfig represents circuit breaker configuration
type CircuitBreakerConfig struct {
	MaxRequests  uint32        `json:"max_requests"`
	Interval     time.Duration `json:"interval"`
	Timeout      time.Duration `json:"timeout"`
	MinRequests  uint32        `json:"min_requests"`
	FailureRatio float64       `json:"failure_ratio"`
}

// DefaultCircuitBreakerConfig trips after 3 requests with at least 60% failures and retries
// again after a minute.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxRequests:  5,
		Interval:     30 * time.Second,
		Timeout:      60 * time.Second,
		MinRequests:  3,
		FailureRatio: 0.6,
	}
}

// CircuitBreakerStats is a snapshot of one breaker for health reporting.
type CircuitBreakerStats struct {
	Name                string `json:"name"`
	State               string `json:"state"`
	Requests            uint32 `json:"requests"`
	TotalFailures       uint32 `json:"total_failures"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
}

func newCircuitBreaker(name string, config CircuitBreakerConfig, logger *logrus.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= config.MinRequests && failureRatio >= config.FailureRatio
		},
		// A caller giving up is not an upstream fault.
		IsSuccessful: func(err error) bool {
			var abandoned *abandonedError
			return err == nil || errors.Is(err, context.Canceled) || errors.As(err, &abandoned)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})
}

// abandonedError marks a failure observed after the caller's context was done, such as an
// analyze budget expiring mid-call.
type abandonedError struct {
	err error
}

func (e *abandonedError) Error() string { return e.err.Error() }
func (e *abandonedError) Unwrap() error { return e.err }

// execute runs fn under the breaker and reports an open breaker as an unavailable service.
// Failures that happen once ctx is done are not counted against the upstream.
func execute[T any](ctx context.Context, cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	out, err := cb.Execute(func() (interface{}, error) {
		v, err := fn()
		if err != nil && ctx.Err() != nil {
			return v, &abandonedError{err: err}
		}
		return v, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%s service unavailable (circuit breaker open): %w", cb.Name(), err)
		}
		var abandoned *abandonedError
		if errors.As(err, &abandoned) {
			return zero, abandoned.err
		}
		return zero, err
	}
	v, ok := out.(T)
	if !ok {
		return zero, fmt.Errorf("%s returned unexpected result type %T", cb.Name(), out)
	}
	return v, nil
}

func statsOf(cb *gobreaker.CircuitBreaker) CircuitBreakerStats {
	counts := cb.Counts()
	return CircuitBreakerStats{
		Name:                cb.Name(),
		State:               cb.State().String(),
		Requests:            counts.Requests,
		TotalFailures:       counts.TotalFailures,
		ConsecutiveFailures: counts.ConsecutiveFailures,
	}
}
