package chain

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/photon-storage/go-common/log"
)

// RetryPolicy bounds the exponential backoff around chain reads.
type RetryPolicy struct {
	InitialInterval time.Duration `yaml:"initial_interval" envconfig:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval" envconfig:"max_interval"`
	MaxAttempts     uint64        `yaml:"max_attempts" envconfig:"max_attempts"`
}

// DefaultRetryPolicy doubles from 500ms up to 5s over five attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxAttempts:     5,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	def := DefaultRetryPolicy()
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = def.MaxInterval
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = def.MaxAttempts
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(b, p.MaxAttempts-1), ctx)
}

// Retry runs op until it succeeds, the attempts of policy are spent or
// ctx is done. The last error is returned on failure.
func Retry[T any](
	ctx context.Context,
	policy RetryPolicy,
	name string,
	op func(ctx context.Context) (T, error),
) (T, error) {
	return backoff.RetryNotifyWithData(
		func() (T, error) {
			v, err := op(ctx)
			if err != nil && ctx.Err() != nil {
				return v, backoff.Permanent(err)
			}
			return v, err
		},
		policy.backOff(ctx),
		func(err error, next time.Duration) {
			log.Debug("chain call failed, retrying",
				"call", name,
				"next", next,
				"error", err,
			)
		},
	)
}
