package publish

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

const (
	DefaultTransientRetries = 3
	DefaultBaseDelay        = 2 * time.Second
	DefaultBackoffMaxDelay  = time.Minute
	DefaultBackoffFactor    = 2.0
	DefaultJitterFactor     = 0.5
)

// Backoff computes exponential delays with jitter between retries.
type Backoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64
	// Jitter spreads each delay by up to this fraction either way (0-1).
	Jitter float64
}

// DefaultBackoff returns the backoff used between transient publish retries.
func DefaultBackoff() Backoff {
	return Backoff{
		BaseDelay: DefaultBaseDelay,
		MaxDelay:  DefaultBackoffMaxDelay,
		Factor:    DefaultBackoffFactor,
		Jitter:    DefaultJitterFactor,
	}
}

// Delay returns the wait before retry number attempt, counting from 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	delay := float64(b.BaseDelay) * math.Pow(factor, float64(attempt-1))
	if b.Jitter > 0 {
		delay *= 1 + b.Jitter*(2*rand.Float64()-1)
	}
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	if delay < 0 {
		delay = float64(b.BaseDelay)
	}
	return time.Duration(delay)
}

// RetryPolicy retries an operation whose error satisfies Retryable. Before
// each retry it waits Backoff (when set) and then calls Reauth (when set).
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	Retryable  func(error) bool
	// Backoff returns the wait before retry number attempt (from 1).
	Backoff func(attempt int) time.Duration
	// Reauth runs before each retry. A Reauth failure ends the attempt.
	Reauth func(ctx context.Context) error
}

// AuthRetryPolicy retries once after re-authenticating when the session
// has expired.
func AuthRetryPolicy(reauth func(ctx context.Context) error) RetryPolicy {
	return RetryPolicy{
		MaxRetries: 1,
		Retryable:  IsAuthExpired,
		Reauth:     reauth,
	}
}

// TransientRetryPolicy retries network failures and throttling with
// exponential backoff. Throttled attempts wait twice as long.
func TransientRetryPolicy(b Backoff) RetryPolicy {
	return RetryPolicy{
		MaxRetries: DefaultTransientRetries,
		Retryable:  IsTransient,
		Backoff: func(attempt int) time.Duration {
			return b.Delay(attempt)
		},
	}
}

// IsTransient reports whether err is worth retrying after a pause. An error
// some policy already gave up on is not.
func IsTransient(err error) bool {
	var pe *PublishError
	if errors.As(err, &pe) && !pe.Retryable {
		return false
	}
	switch ClassifyError(err) {
	case ErrCategoryRetryable, ErrCategoryThrottled:
		return true
	}
	return false
}

// Do runs op and applies the policy. When retries are exhausted the last
// error is returned as a non-retryable *PublishError.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return err
		}
		if attempt >= p.MaxRetries {
			return &PublishError{
				Op:  "retry",
				Err: fmt.Errorf("giving up after %d attempt(s): %w", attempt+1, err),
			}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p.Backoff != nil {
			wait := p.Backoff(attempt + 1)
			if ClassifyError(err) == ErrCategoryThrottled {
				wait *= 2
			}
			if serr := sleepRetry(ctx, wait); serr != nil {
				return serr
			}
		}
		if p.Reauth != nil {
			if rerr := p.Reauth(ctx); rerr != nil {
				return &PublishError{
					Op:  "reauthenticate",
					Err: fmt.Errorf("%v (after: %w)", rerr, err),
				}
			}
		}
	}
}

func sleepRetry(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retrying applies a RetryPolicy to every remote write of the wrapped
// Publisher.
type Retrying struct {
	Publisher
	Policy RetryPolicy
}

// WithAuthRetry wraps p so that an expired session is re-established and the
// same request retried once.
func WithAuthRetry(p Publisher) *Retrying {
	return &Retrying{Publisher: p, Policy: AuthRetryPolicy(p.Reauthenticate)}
}

// WithTransientRetry wraps p so that network failures and throttling are
// retried with backoff.
func WithTransientRetry(p Publisher, b Backoff) *Retrying {
	return &Retrying{Publisher: p, Policy: TransientRetryPolicy(b)}
}

func (r *Retrying) PublishSingle(ctx context.Context, image, caption string) (res Result, err error) {
	err = r.Policy.Do(ctx, func(ctx context.Context) error {
		res, err = r.Publisher.PublishSingle(ctx, image, caption)
		return err
	})
	return res, err
}

func (r *Retrying) PublishAlbum(ctx context.Context, images []string, caption string) (res Result, err error) {
	err = r.Policy.Do(ctx, func(ctx context.Context) error {
		res, err = r.Publisher.PublishAlbum(ctx, images, caption)
		return err
	})
	return res, err
}

func (r *Retrying) PublishStory(ctx context.Context, image string) (res Result, err error) {
	err = r.Policy.Do(ctx, func(ctx context.Context) error {
		res, err = r.Publisher.PublishStory(ctx, image)
		return err
	})
	return res, err
}
