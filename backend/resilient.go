package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"argus/core"
	"argus/metrics"
	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RetryPolicy controls retries of unreachable-backend failures.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryPolicy matches the connector defaults: three retries with
// exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
	}
}

// BreakerConfig configures the circuit breaker in front of the backend.
type BreakerConfig struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker.
	FailureThreshold uint32
}

// DefaultBreakerConfig returns the breaker used when none is configured.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "elasticsearch",
		MaxRequests:      1,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// ResilientConnector wraps a Connector with rate limiting, a circuit breaker
// and retries. Only Unreachable failures are retried, and only Unreachable or
// Timeout failures count against the breaker.
type ResilientConnector struct {
	inner   Connector
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	policy  RetryPolicy
	logger  *zap.SugaredLogger
}

// NewResilientConnector wraps inner. ratePerSecond <= 0 disables limiting.
func NewResilientConnector(inner Connector, policy RetryPolicy, breakerCfg BreakerConfig, ratePerSecond float64, logger *zap.SugaredLogger) *ResilientConnector {
	limit := rate.Inf
	burst := 1
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
		burst = int(ratePerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	if breakerCfg.Name == "" {
		breakerCfg.Name = DefaultBreakerConfig().Name
	}
	threshold := breakerCfg.FailureThreshold
	if threshold == 0 {
		threshold = DefaultBreakerConfig().FailureThreshold
	}

	settings := gobreaker.Settings{
		Name:        breakerCfg.Name,
		MaxRequests: breakerCfg.MaxRequests,
		Interval:    breakerCfg.Interval,
		Timeout:     breakerCfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			kind := core.KindOf(err)
			return kind != core.ErrorKindUnreachable && kind != core.ErrorKindTimeout
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			setBreakerMetric(name, to)
			logger.Warnw("Backend circuit breaker changed state", "name", name, "from", from.String(), "to", to.String())
		},
	}
	cb := gobreaker.NewCircuitBreaker(settings)
	setBreakerMetric(breakerCfg.Name, cb.State())

	return &ResilientConnector{
		inner:   inner,
		breaker: cb,
		limiter: rate.NewLimiter(limit, burst),
		policy:  policy,
		logger:  logger,
	}
}

// RunQuery runs req through the limiter, breaker and retry loop.
func (r *ResilientConnector) RunQuery(ctx context.Context, req Request) (Result, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, classifyTransportError(ctx, ctxErr)
		}
		// The wait would outlast the deadline.
		return Result{}, core.TimeoutError(fmt.Errorf("rate limit wait: %w", err))
	}

	var result Result
	operation := func() error {
		out, err := r.breaker.Execute(func() (interface{}, error) {
			return r.inner.RunQuery(ctx, req)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(core.UnreachableError(fmt.Errorf("backend circuit breaker: %w", err)))
			}
			if !core.IsRetryable(err) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		result = out.(Result)
		return nil
	}

	notify := func(err error, next time.Duration) {
		metrics.BackendRetries.Inc()
		r.logger.Warnw("Retrying backend query", "error", err, "backoff", next)
	}

	err := backoff.RetryNotify(operation, r.backoff(ctx), notify)
	metrics.BackendRequests.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			var execErr *core.ExecutionError
			if !errors.As(err, &execErr) {
				return Result{}, classifyTransportError(ctx, err)
			}
		}
		return Result{}, err
	}
	return result, nil
}

// Ping forwards to the wrapped connector without retries.
func (r *ResilientConnector) Ping(ctx context.Context) error {
	return r.inner.Ping(ctx)
}

// BreakerState reports the breaker state name.
func (r *ResilientConnector) BreakerState() string {
	return r.breaker.State().String()
}

func (r *ResilientConnector) backoff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if r.policy.InitialInterval > 0 {
		exp.InitialInterval = r.policy.InitialInterval
	}
	if r.policy.MaxInterval > 0 {
		exp.MaxInterval = r.policy.MaxInterval
	}
	if r.policy.Multiplier > 0 {
		exp.Multiplier = r.policy.Multiplier
	}
	// The retry count bounds the loop; the context bounds the time.
	exp.MaxElapsedTime = 0
	exp.Reset()

	retries := r.policy.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	return string(core.KindOf(err))
}

func setBreakerMetric(name string, state gobreaker.State) {
	var v float64
	switch state {
	case gobreaker.StateClosed:
		v = 0
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(v)
}
