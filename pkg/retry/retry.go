// Package retry runs store operations again when they fail for transient
// reasons, with capped exponential backoff.
package retry

import (
	"context"
	"time"

	goretry "github.com/sethvargo/go-retry"

	"github.com/angelmondragon/shopcore-backend/pkg/config"
	"github.com/angelmondragon/shopcore-backend/pkg/db"
	pkgerrors "github.com/angelmondragon/shopcore-backend/pkg/errors"
)

const (
	defaultBaseDelay = 200 * time.Millisecond
	defaultMaxDelay  = 5 * time.Second
	jitterPercent    = 20
)

// Policy bounds how often and how patiently an operation is retried.
// MaxAttempts counts the first call.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable overrides the default classification.
	Retryable func(error) bool
}

// FromConfig builds the policy used for reservation releases.
func FromConfig(cfg config.ReservationConfig) Policy {
	return Policy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	}
}

// IsRetryable is the default classification: transient store errors and
// errors coded as dependency failures.
func IsRetryable(err error) bool {
	if db.IsTransient(err) {
		return true
	}
	return pkgerrors.IsCode(err, pkgerrors.CodeDependency)
}

func (p Policy) backoff() goretry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	b := goretry.NewExponential(base)
	b = goretry.WithJitterPercent(jitterPercent, b)
	b = goretry.WithCappedDuration(maxDelay, b)
	return goretry.WithMaxRetries(uint64(attempts-1), b)
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// run out or ctx is done. The last error from fn is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	classify := p.Retryable
	if classify == nil {
		classify = IsRetryable
	}
	return goretry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && classify(err) {
			return goretry.RetryableError(err)
		}
		return err
	})
}
