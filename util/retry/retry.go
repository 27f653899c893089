// Package retry runs blocking calls against external stores with bounded,
// context aware backoff.
package retry

import (
	"context"
	"time"

	"github.com/bsv-blockchain/tokencache/ulogger"
)

type Options struct {
	retryCount          int
	backoffMultiplier   int
	backoffDurationType time.Duration
	message             string
	exponential         bool
	backoffFactor       float64
	maxBackoff          time.Duration
	infinite            bool
	retryable           func(error) bool
}

type Option func(*Options)

func WithRetryCount(count int) Option {
	return func(o *Options) {
		o.retryCount = count
	}
}

func WithBackoffMultiplier(multiplier int) Option {
	return func(o *Options) {
		o.backoffMultiplier = multiplier
	}
}

// WithBackoffDurationType sets the unit of the linear backoff, and the initial
// backoff of the exponential one.
func WithBackoffDurationType(duration time.Duration) Option {
	return func(o *Options) {
		o.backoffDurationType = duration
	}
}

func WithMessage(message string) Option {
	return func(o *Options) {
		o.message = message
	}
}

func WithExponentialBackoff() Option {
	return func(o *Options) {
		o.exponential = true
	}
}

func WithBackoffFactor(factor float64) Option {
	return func(o *Options) {
		o.backoffFactor = factor
	}
}

func WithMaxBackoff(maxBackoff time.Duration) Option {
	return func(o *Options) {
		o.maxBackoff = maxBackoff
	}
}

// WithInfiniteRetry retries until the call succeeds or the context is done.
func WithInfiniteRetry() Option {
	return func(o *Options) {
		o.infinite = true
	}
}

// WithRetryable stops retrying as soon as fn reports an error as permanent.
func WithRetryable(fn func(error) bool) Option {
	return func(o *Options) {
		o.retryable = fn
	}
}

// Retry calls f until it succeeds, the attempts are used up, a permanent error
// is returned or ctx is done. The last error is returned on failure, or the
// context error when the context ended the retries.
func Retry[T any](ctx context.Context, logger ulogger.Logger, f func() (T, error), opts ...Option) (T, error) {
	options := &Options{
		retryCount:          3,
		backoffMultiplier:   2,
		backoffDurationType: time.Second,
		message:             "retrying",
		backoffFactor:       2.0,
		maxBackoff:          30 * time.Second,
	}

	for _, opt := range opts {
		opt(options)
	}

	var (
		result  T
		err     error
		backoff = options.backoffDurationType
	)

	for attempt := 0; options.infinite || attempt < options.retryCount; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}

		result, err = f()
		if err == nil {
			return result, nil
		}

		if options.retryable != nil && !options.retryable(err) {
			return result, err
		}

		if !options.infinite && attempt == options.retryCount-1 {
			break
		}

		logger.Warnf("%s (attempt %d): %v", options.message, attempt+1, err)

		if options.exponential {
			if sleepErr := sleepFunc(ctx, backoff); sleepErr != nil {
				return result, sleepErr
			}

			backoff = CappedExponentialBackoff(backoff, options.backoffFactor, options.maxBackoff)
		} else if sleepErr := BackoffAndSleep(ctx, attempt, options.backoffMultiplier, options.backoffDurationType); sleepErr != nil {
			return result, sleepErr
		}
	}

	return result, err
}
