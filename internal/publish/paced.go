package publish

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// Pacing defaults.
const (
	DefaultMinDelay  = 2 * time.Second
	DefaultMaxDelay  = 5 * time.Second
	DefaultPostLogin = 5 * time.Second
)

// Paced inserts a random delay in [MinDelay, MaxDelay] before every remote
// write and waits PostLogin after a successful re-authentication. A rate
// limiter keeps at least MinDelay between writes even when several callers
// share the publisher.
type Paced struct {
	Publisher
	MinDelay  time.Duration
	MaxDelay  time.Duration
	PostLogin time.Duration

	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
	jitter  func() float64
}

// NewPaced wraps p with the default delays.
func NewPaced(p Publisher) *Paced {
	return NewPacedWith(p, DefaultMinDelay, DefaultMaxDelay, DefaultPostLogin)
}

// NewPacedWith wraps p with explicit delays. Zero delays disable pacing.
func NewPacedWith(p Publisher, min, max, postLogin time.Duration) *Paced {
	if max < min {
		max = min
	}
	limit := rate.Inf
	if min > 0 {
		limit = rate.Every(min)
	}
	return &Paced{
		Publisher: p,
		MinDelay:  min,
		MaxDelay:  max,
		PostLogin: postLogin,
		limiter:   rate.NewLimiter(limit, 1),
		sleep:     sleepCtx,
		jitter:    rand.Float64,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

func (p *Paced) delay() time.Duration {
	span := p.MaxDelay - p.MinDelay
	return p.MinDelay + time.Duration(p.jitter()*float64(span))
}

func (p *Paced) wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	return p.sleep(ctx, p.delay())
}

func (p *Paced) PublishSingle(ctx context.Context, image, caption string) (Result, error) {
	if err := p.wait(ctx); err != nil {
		return Result{}, err
	}
	return p.Publisher.PublishSingle(ctx, image, caption)
}

func (p *Paced) PublishAlbum(ctx context.Context, images []string, caption string) (Result, error) {
	if err := p.wait(ctx); err != nil {
		return Result{}, err
	}
	return p.Publisher.PublishAlbum(ctx, images, caption)
}

func (p *Paced) PublishStory(ctx context.Context, image string) (Result, error) {
	if err := p.wait(ctx); err != nil {
		return Result{}, err
	}
	return p.Publisher.PublishStory(ctx, image)
}

func (p *Paced) Reauthenticate(ctx context.Context) error {
	if err := p.wait(ctx); err != nil {
		return err
	}
	if err := p.Publisher.Reauthenticate(ctx); err != nil {
		return err
	}
	return p.sleep(ctx, p.PostLogin)
}
