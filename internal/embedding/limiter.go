package embedding

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hyperjump/kura/internal/errs"
)

// LimiterOptions tune the LimitedEmbedder wrapper. Zero values pick the
// defaults noted per field.
type LimiterOptions struct {
	MaxAttempts   int           // retry budget per call, default 3
	Backoff       time.Duration // first retry delay, doubles each retry, default 200ms
	Timeout       time.Duration // per provider call, default 30s
	MaxConcurrent int           // concurrent provider calls, default 4
	RateLimit     float64       // provider calls per second, 0 = unlimited
	CacheSize     int           // embeddings cached by text, 0 = no cache
}

func (o LimiterOptions) withDefaults() LimiterOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 200 * time.Millisecond
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 4
	}
	return o
}

// LimitedEmbedder wraps a provider with an LRU cache, bounded retries with
// exponential backoff, a per-call timeout, a concurrency cap, and an
// optional rate limit. Failures that survive the retry budget come back as
// *errs.EmbeddingError.
type LimitedEmbedder struct {
	inner   Embedder
	opts    LimiterOptions
	cache   *Cache
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// NewLimitedEmbedder wraps inner.
func NewLimitedEmbedder(inner Embedder, opts LimiterOptions) *LimitedEmbedder {
	opts = opts.withDefaults()
	e := &LimitedEmbedder{
		inner: inner,
		opts:  opts,
		cache: NewCache(opts.CacheSize),
		sem:   semaphore.NewWeighted(int64(opts.MaxConcurrent)),
	}
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return e
}

// Embed returns the embedding for text, from cache when possible.
func (e *LimitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := e.cache.Get(text); ok {
		return vec, nil
	}

	var lastErr error
	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := e.opts.Backoff << (attempt - 2)
			if err := sleepContext(ctx, delay); err != nil {
				return nil, errs.Embedding("embed", attempt-1, lastErr)
			}
		}

		vec, err := e.attempt(ctx, text)
		if err == nil {
			e.cache.Set(text, vec)
			return vec, nil
		}
		lastErr = err

		// A mismatched width is the provider's steady state, not a blip.
		if _, ok := err.(*dimensionError); ok {
			return nil, errs.Embedding("embed", attempt, err)
		}
		if ctx.Err() != nil {
			return nil, errs.Embedding("embed", attempt, lastErr)
		}
	}
	return nil, errs.Embedding("embed", e.opts.MaxAttempts, lastErr)
}

func (e *LimitedEmbedder) attempt(ctx context.Context, text string) ([]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	vec, err := e.inner.Embed(callCtx, text)
	if err != nil {
		return nil, err
	}
	if want := e.inner.Dimensions(); want > 0 && len(vec) != want {
		return nil, &dimensionError{want: want, got: len(vec)}
	}
	return vec, nil
}

// EmbedBatch embeds all texts concurrently, bounded by MaxConcurrent.
// All-or-nothing: the first failure cancels the rest. Batch callers that
// need per-item isolation call Embed per item instead.
func (e *LimitedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxConcurrent)
	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			vec, err := e.Embed(gctx, text)
			if err != nil {
				return err
			}
			vecs[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vecs, nil
}

// Dimensions returns the provider's embedding dimension.
func (e *LimitedEmbedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Close closes the provider.
func (e *LimitedEmbedder) Close() error {
	return e.inner.Close()
}

type dimensionError struct {
	want, got int
}

func (e *dimensionError) Error() string {
	return fmt.Sprintf("provider returned %d dimensions, want %d", e.got, e.want)
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
