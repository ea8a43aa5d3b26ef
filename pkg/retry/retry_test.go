package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errFlaky = errors.New("flaky")
	errFatal = errors.New("fatal")
)

func isFlaky(err error) bool { return errors.Is(err, errFlaky) }

func fastRetrier(attempts int) *Retrier {
	return New(Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		RetryIf:      isFlaky,
	})
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := fastRetrier(4).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ReturnsLastErrorAfterLastAttempt(t *testing.T) {
	calls := 0
	err := fastRetrier(2).Do(context.Background(), func(context.Context) error {
		calls++
		return errFlaky
	})
	assert.Equal(t, 2, calls)
	assert.Same(t, errFlaky, err)
}

func TestDo_StopsOnRejectedError(t *testing.T) {
	calls := 0
	err := fastRetrier(5).Do(context.Background(), func(context.Context) error {
		calls++
		return errFatal
	})
	assert.Equal(t, 1, calls)
	assert.Same(t, errFatal, err)
}

func TestDo_NothingRetriedWithoutRetryIf(t *testing.T) {
	calls := 0
	err := New(Config{MaxAttempts: 3}).Do(context.Background(), func(context.Context) error {
		calls++
		return errFlaky
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, errFlaky)
}

func TestDo_OnRetry(t *testing.T) {
	var retried []int
	calls := 0
	cfg := StoreConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.RetryIf = isFlaky
	cfg.OnRetry = func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) }

	err := New(cfg).Do(context.Background(), func(context.Context) error {
		calls++
		return errFlaky
	})
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_HonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := fastRetrier(3).Do(ctx, func(context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestDoWithData(t *testing.T) {
	calls := 0
	v, err := DoWithData(context.Background(), fastRetrier(3), func(context.Context) (int64, error) {
		calls++
		if calls == 1 {
			return 0, errFlaky
		}
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
}

func TestDelay_CappedAtMax(t *testing.T) {
	r := New(Config{InitialDelay: time.Second, MaxDelay: 3 * time.Second})
	assert.Equal(t, time.Second, r.delay(1))
	assert.Equal(t, 2*time.Second, r.delay(2))
	assert.Equal(t, 3*time.Second, r.delay(5))
}

func TestIdentityProviderConfig_BacksOffSlowerThanStore(t *testing.T) {
	assert.Greater(t, IdentityProviderConfig().InitialDelay, StoreConfig().InitialDelay)
	assert.Equal(t, 3, IdentityProviderConfig().MaxAttempts)
}
