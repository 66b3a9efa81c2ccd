package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/markdave123-py/docpipe/internal/core"
)

// Policy controls exponential backoff. After a failed attempt the caller waits
// delay + rand[0, Jitter), then delay doubles.
type Policy struct {
	Retries      int
	InitialDelay time.Duration
	Jitter       time.Duration
}

// DefaultPolicy is 5 retries starting at one second with up to 100ms of jitter.
func DefaultPolicy() Policy {
	return Policy{Retries: 5, InitialDelay: time.Second, Jitter: 100 * time.Millisecond}
}

// Do runs fn until it succeeds, the retries are spent, the context is done, or
// fn returns a permanent error (core.ErrNotFound, core.ErrProvider).
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	delay := p.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= p.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent(lastErr) || ctx.Err() != nil {
			return lastErr
		}
		if attempt == p.Retries {
			break
		}

		wait := delay
		if p.Jitter > 0 {
			wait += rand.N(p.Jitter)
		}
		slog.Warn("retrying after failure", "op", op, "attempt", attempt+1, "wait", wait, "error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
	}

	return fmt.Errorf("%s: %w: %w", op, core.ErrRetriesExhausted, lastErr)
}

func permanent(err error) bool {
	return errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrProvider)
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
