package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

var ErrRateLimited = errors.New("rate limit exceeded")

const (
	ResourceContent = "content"
	ResourceSMS     = "sms"
)

// Backoff controls how long a Guard keeps asking the limiter before it gives
// up. After the n-th rejected attempt it sleeps Base * 2^n, capped at Max.
// Waiting out the SMS spacing does not use up an attempt.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{
		Attempts: 3,
		Base:     time.Second,
		Max:      30 * time.Second,
	}
}

func (b Backoff) delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	d := b.Base << attempt
	if d <= 0 || (b.Max > 0 && d > b.Max) {
		return b.Max
	}
	return d
}

// Guard wraps the non-blocking limiter checks with bounded exponential
// backoff. Callers of the content generator and SMS gateway go through a
// Guard; the Limiter itself never sleeps.
type Guard struct {
	limiter  *Limiter
	backoff  Backoff
	sleep    func(ctx context.Context, d time.Duration) error
	onReject func(resource string)
	logger   *slog.Logger
}

type GuardOption func(*Guard)

// WithSleepFunc overrides the wait between attempts. Tests use it to avoid
// real delays.
func WithSleepFunc(fn func(ctx context.Context, d time.Duration) error) GuardOption {
	return func(g *Guard) { g.sleep = fn }
}

// WithRejectHook is called once per rejected attempt.
func WithRejectHook(fn func(resource string)) GuardOption {
	return func(g *Guard) { g.onReject = fn }
}

func WithLogger(logger *slog.Logger) GuardOption {
	return func(g *Guard) { g.logger = logger }
}

func NewGuard(limiter *Limiter, backoff Backoff, opts ...GuardOption) *Guard {
	if backoff.Attempts <= 0 {
		backoff.Attempts = 1
	}
	g := &Guard{
		limiter: limiter,
		backoff: backoff,
		sleep:   sleepContext,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AcquireContent reserves budget for one generation call.
func (g *Guard) AcquireContent(ctx context.Context, estimatedTokens int) error {
	return g.acquire(ctx, ResourceContent, func() (bool, time.Duration) {
		return g.limiter.CheckContentBudget(estimatedTokens), 0
	})
}

// AcquireSms reserves budget for one SMS send. A send held back only by the
// minimum spacing waits for the slot instead of spending an attempt, so
// concurrent callers in one process never exhaust each other's retries.
func (g *Guard) AcquireSms(ctx context.Context) error {
	return g.acquire(ctx, ResourceSMS, g.limiter.TrySms)
}

func (g *Guard) acquire(ctx context.Context, resource string, check func() (bool, time.Duration)) error {
	for attempt := 1; attempt <= g.backoff.Attempts; {
		ok, slot := check()
		if ok {
			return nil
		}
		if slot > 0 {
			if err := g.sleep(ctx, slot); err != nil {
				return err
			}
			continue
		}
		if g.onReject != nil {
			g.onReject(resource)
		}
		if attempt == g.backoff.Attempts {
			break
		}

		wait := g.backoff.delay(attempt)
		g.logger.WarnContext(ctx, "rate limit reached, backing off",
			"resource", resource,
			"attempt", attempt,
			"wait", wait.String(),
		)
		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
		attempt++
	}

	g.logger.ErrorContext(ctx, "rate limit retries exhausted", "resource", resource)
	return ErrRateLimited
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
