package apiclient

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/pipeline-console/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RetryInterceptor resends transient failures (network errors and 5xx)
// up to MaxRetries additional times. Everything else fails after one attempt.
type RetryInterceptor struct {
	maxRetries int
	newBackOff func() backoff.BackOff
}

// NewRetryInterceptor creates a retry interceptor.
func NewRetryInterceptor(maxRetries int, strategy BackoffStrategy, delay, maxDelay time.Duration) *RetryInterceptor {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &RetryInterceptor{
		maxRetries: maxRetries,
		newBackOff: func() backoff.BackOff {
			return newBackOff(strategy, delay, maxDelay)
		},
	}
}

func (r *RetryInterceptor) Wrap(next SendFunc) SendFunc {
	return func(ctx context.Context, req *Request) (*Response, error) {
		if req.noRetry || r.maxRetries == 0 {
			req.attempts++
			return next(ctx, req)
		}

		operation := func() (*Response, error) {
			req.attempts++

			resp, err := next(ctx, req)
			if err == nil {
				return resp, nil
			}

			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}

			if apiErr, ok := AsAPIError(err); ok && apiErr.Retryable() {
				return nil, err
			}

			return nil, backoff.Permanent(err)
		}

		notify := func(err error, next time.Duration) {
			telemetry.GetMetrics().RequestRetriesTotal.Add(ctx, 1,
				metric.WithAttributes(attribute.String("method", req.Method)))

			log.Debug().
				Err(err).
				Str("method", req.Method).
				Str("path", req.Path).
				Int("attempt", req.attempts).
				Dur("delay", next).
				Msg("retrying request")
		}

		resp, err := backoff.Retry(ctx, operation,
			backoff.WithBackOff(r.newBackOff()),
			backoff.WithMaxTries(uint(r.maxRetries+1)),
			backoff.WithMaxElapsedTime(0),
			backoff.WithNotify(notify),
		)
		if err != nil {
			var permanent *backoff.PermanentError
			if errors.As(err, &permanent) {
				err = permanent.Unwrap()
			}
			return nil, err
		}

		return resp, nil
	}
}

func newBackOff(strategy BackoffStrategy, delay, maxDelay time.Duration) backoff.BackOff {
	switch strategy {
	case BackoffFixed:
		return backoff.NewConstantBackOff(delay)
	case BackoffLinear:
		return &linearBackOff{step: delay, max: maxDelay}
	default:
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = delay
		b.MaxInterval = maxDelay
		b.Multiplier = 2
		b.RandomizationFactor = 0.2
		return b
	}
}

// linearBackOff waits step, 2*step, 3*step ... capped at max.
type linearBackOff struct {
	step  time.Duration
	max   time.Duration
	count int
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.count++
	d := time.Duration(l.count) * l.step
	if l.max > 0 && d > l.max {
		return l.max
	}
	return d
}

func (l *linearBackOff) Reset() {
	l.count = 0
}
