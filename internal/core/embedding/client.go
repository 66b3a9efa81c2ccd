package embedding

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/markdave123-py/docpipe/internal/core"
	"github.com/markdave123-py/docpipe/internal/core/retry"
)

// Config tunes the client.
//
// Dim:         expected vector size; 0 skips the check.
// Concurrency: max provider calls in flight.
// RPS:         provider calls per second; 0 means unlimited.
type Config struct {
	Dim         int
	Concurrency int
	RPS         float64
	Retry       retry.Policy
}

// Client wraps an EmbeddingProvider with retry, rate limiting and a concurrency cap.
// It persists nothing.
type Client struct {
	provider core.EmbeddingProvider
	cfg      Config
	sem      *semaphore.Weighted
	limiter  *rate.Limiter
}

func NewClient(provider core.EmbeddingProvider, cfg Config) *Client {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), max(1, int(cfg.RPS)))
	}
	return &Client{
		provider: provider,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.Concurrency)),
		limiter:  limiter,
	}
}

// Embed returns one vector per text, in input order. Transient provider failures
// are retried; once the retry budget is spent the error is returned.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return retry.Value(ctx, c.cfg.Retry, "embed", func(ctx context.Context) ([][]float32, error) {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer c.sem.Release(1)

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		vecs, err := c.provider.EmbedTexts(ctx, texts)
		if err != nil {
			return nil, err
		}
		if err := c.validate(texts, vecs); err != nil {
			return nil, err
		}
		return vecs, nil
	})
}

// EmbedBatches splits texts into provider-sized calls and stitches the results
// back together in order.
func (c *Client) EmbedBatches(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if batchSize <= 0 || len(texts) <= batchSize {
		return c.Embed(ctx, texts)
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)

	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		g.Go(func() error {
			vecs, err := c.Embed(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embed texts %d-%d: %w", start, end-1, err)
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) validate(texts []string, vecs [][]float32) error {
	if len(vecs) != len(texts) {
		return fmt.Errorf("%w: got %d vectors for %d texts", core.ErrProvider, len(vecs), len(texts))
	}
	if c.cfg.Dim <= 0 {
		return nil
	}
	for i, v := range vecs {
		if len(v) != c.cfg.Dim {
			return fmt.Errorf("%w: vector %d has dimension %d, want %d", core.ErrProvider, i, len(v), c.cfg.Dim)
		}
	}
	return nil
}
