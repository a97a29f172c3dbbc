package embedding

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultRetryAttempts is the number of retries after the first failure
const DefaultRetryAttempts = 2

// RetryingProvider retries transient provider failures with exponential backoff
type RetryingProvider struct {
	Provider
	attempts    uint64
	initialWait time.Duration
}

// NewRetryingProvider wraps p; attempts is the number of retries after the first call
func NewRetryingProvider(p Provider, attempts int) *RetryingProvider {
	if attempts < 0 {
		attempts = 0
	}

	return &RetryingProvider{Provider: p, attempts: uint64(attempts), initialWait: 200 * time.Millisecond}
}

func (r *RetryingProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	var vec []float32

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.initialWait

	op := func() error {
		var err error

		vec, err = r.Provider.GenerateEmbedding(ctx, text)
		if errors.Is(err, ErrDisabled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}

		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, r.attempts), ctx)); err != nil {
		return nil, err
	}

	return vec, nil
}
