package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/docpipe/internal/core"
)

func fastPolicy(retries int) Policy {
	return Policy{Retries: retries, InitialDelay: time.Millisecond}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), "embed", func(ctx context.Context) error {
		calls++
		if calls <= 2 {
			return core.ErrRateLimited
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(2), "embed", func(ctx context.Context) error {
		calls++
		return core.ErrTimeout
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, core.ErrRetriesExhausted)
	assert.ErrorIs(t, err, core.ErrTimeout)
}

func TestDo_NotFoundIsPermanent(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), "update", func(ctx context.Context) error {
		calls++
		return fmt.Errorf("chunk abc: %w", core.ErrNotFound)
	})

	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.NotErrorIs(t, err, core.ErrRetriesExhausted)
	assert.Equal(t, 1, calls)
}

func TestDo_ProviderErrorIsPermanent(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), "embed", func(ctx context.Context) error {
		calls++
		return fmt.Errorf("gemini batch embed: %w: invalid argument", core.ErrProvider)
	})

	assert.ErrorIs(t, err, core.ErrProvider)
	assert.NotErrorIs(t, err, core.ErrRetriesExhausted)
	assert.Equal(t, 1, calls)
}

func TestDo_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{Retries: 5, InitialDelay: time.Hour}

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, p, "slow", func(ctx context.Context) error {
			calls++
			return errors.New("boom")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("retry did not stop after cancel")
	}
	assert.Equal(t, 1, calls)
}

func TestValue_ReturnsResult(t *testing.T) {
	calls := 0
	v, err := Value(context.Background(), fastPolicy(3), "value", func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("flaky")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
