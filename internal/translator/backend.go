package translator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/valpere/tabletran/internal/credential"
	"github.com/valpere/tabletran/internal/language"
	"github.com/valpere/tabletran/internal/retry"
	"github.com/valpere/tabletran/internal/unit"
)

// Checker validates a stage output beyond its shape, e.g. its language.
type Checker func(u *unit.Unit, target language.Target) error

// Options are shared by both backend variants.
type Options struct {
	// Name identifies the backend in logs and summaries; defaults to the
	// provider name.
	Name    string
	Policy  retry.Policy
	Timeout time.Duration
	Check   Checker
	Logger  *slog.Logger
}

// caller runs the acquire, call, classify and retry loop shared by every
// backend.
type caller struct {
	name     string
	provider Provider
	pool     *credential.Pool
	policy   retry.Policy
	timeout  time.Duration
	check    Checker
	logger   *slog.Logger
	sleep    func(context.Context, time.Duration) error
}

func newCaller(p Provider, pool *credential.Pool, opts Options) caller {
	name := opts.Name
	if name == "" {
		name = p.Name()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return caller{
		name:     name,
		provider: p,
		pool:     pool,
		policy:   opts.Policy,
		timeout:  opts.Timeout,
		check:    opts.Check,
		logger:   logger.With("backend", name),
		sleep:    retry.Sleep,
	}
}

// call runs req through the retry policy. The total number of attempts is
// bounded by MaxAttempts times the pool size.
func (c *caller) call(ctx context.Context, req Request) (*unit.Unit, error) {
	budget := c.policy.MaxTotalAttempts(c.pool.Size())

	var (
		lastErr   error
		lastClass retry.Class
		onKey     int
	)
	for total := 1; total <= budget; total++ {
		key, err := c.pool.Acquire(ctx)
		if err != nil {
			if errors.Is(err, credential.ErrExhausted) {
				return nil, &CallError{Backend: c.name, Class: retry.Quota, Attempts: total - 1, Err: err}
			}
			return nil, err
		}

		out, err := c.attempt(ctx, key, req)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr, lastClass = err, Classify(err)
		onKey++

		switch c.policy.Decide(lastClass, onKey, req.HasFallback) {
		case retry.Rotate:
			c.logger.Warn("quota error, rotating credential",
				"unit", req.Unit.ID, "lang", req.Target.Code, "key", key.Label(), "error", err)
			c.pool.MarkExhausted(key)
			onKey = 0
			if err := c.sleep(ctx, c.policy.QuotaDelay); err != nil {
				return nil, err
			}
		case retry.Retry:
			d := c.policy.Backoff(onKey)
			c.logger.Debug("retrying",
				"unit", req.Unit.ID, "lang", req.Target.Code, "attempt", onKey,
				"class", lastClass, "backoff", d, "error", err)
			if err := c.sleep(ctx, d); err != nil {
				return nil, err
			}
		case retry.GiveUp:
			return nil, &CallError{Backend: c.name, Class: lastClass, Attempts: total, Err: lastErr}
		}
	}
	return nil, &CallError{Backend: c.name, Class: lastClass, Attempts: budget, Err: lastErr}
}

func (c *caller) attempt(ctx context.Context, key credential.Key, req Request) (*unit.Unit, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	out, err := c.provider.Call(ctx, key.Token, req)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("%w: empty result", ErrValidation)
	}
	if !unit.SameShape(req.Unit, out) {
		return nil, fmt.Errorf("%w: shape %s, want %s", ErrValidation, out.Shape(), req.Unit.Shape())
	}
	if c.check != nil {
		if err := c.check(out, req.Target); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	out.ID = req.Unit.ID
	out.Context = req.Unit.Context
	return out, nil
}

// HighThroughput dispatches batches over a bounded worker pool, optionally
// paced to a fixed request rate.
type HighThroughput struct {
	caller
	concurrency int
	limiter     *rate.Limiter
}

// NewHighThroughput builds the batch backend. concurrency below 1 means one
// worker; dispatchRPS of zero disables pacing.
func NewHighThroughput(p Provider, pool *credential.Pool, concurrency int, dispatchRPS float64, opts Options) *HighThroughput {
	if concurrency < 1 {
		concurrency = 1
	}
	b := &HighThroughput{caller: newCaller(p, pool, opts), concurrency: concurrency}
	if dispatchRPS > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(dispatchRPS), concurrency)
	}
	return b
}

func (b *HighThroughput) Name() string { return b.name }

func (b *HighThroughput) Translate(ctx context.Context, req Request) (*unit.Unit, error) {
	return b.call(ctx, req)
}

func (b *HighThroughput) TranslateBatch(ctx context.Context, reqs []Request, onResult func(int, *unit.Unit, error)) {
	var g errgroup.Group
	g.SetLimit(b.concurrency)

	for i, req := range reqs {
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				onResult(i, nil, err)
				continue
			}
		}
		g.Go(func() error {
			out, err := b.call(ctx, req)
			onResult(i, out, err)
			return nil
		})
	}
	_ = g.Wait()
}

// RateLimited issues one request at a time. It is meant for the strictly
// rate-limited refinement provider, whose pool does the throttling.
type RateLimited struct {
	caller
}

func NewRateLimited(p Provider, pool *credential.Pool, opts Options) *RateLimited {
	return &RateLimited{caller: newCaller(p, pool, opts)}
}

func (b *RateLimited) Name() string { return b.name }

func (b *RateLimited) Translate(ctx context.Context, req Request) (*unit.Unit, error) {
	return b.call(ctx, req)
}

func (b *RateLimited) TranslateBatch(ctx context.Context, reqs []Request, onResult func(int, *unit.Unit, error)) {
	for i, req := range reqs {
		if err := ctx.Err(); err != nil {
			onResult(i, nil, err)
			continue
		}
		out, err := b.call(ctx, req)
		onResult(i, out, err)
	}
}
