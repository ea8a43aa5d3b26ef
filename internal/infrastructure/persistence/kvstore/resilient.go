package kvstore

import (
	"context"
	"errors"
	"time"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/pkg/circuitbreaker"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/pkg/logger"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/pkg/retry"
)

// ResilientStore guards a backend with a circuit breaker and retries the
// idempotent operations. Incr is never retried: a lost reply after a
// successful increment would otherwise burn a second number.
type ResilientStore struct {
	inner   CountingStore
	breaker *circuitbreaker.CircuitBreaker
	retrier *retry.Retrier
}

// NewResilientStore wraps inner. Nil breaker or retrier select the presets.
func NewResilientStore(inner CountingStore, breaker *circuitbreaker.CircuitBreaker, retrier *retry.Retrier, log *logger.Logger) *ResilientStore {
	if log == nil {
		log = logger.Nop()
	}
	if breaker == nil {
		cfg := circuitbreaker.StoreConfig()
		cfg.IsFailure = isBackendFailure
		cfg.OnStateChange = func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}
		breaker = circuitbreaker.New(cfg)
	}
	if retrier == nil {
		cfg := retry.StoreConfig()
		cfg.RetryIf = isTransient
		cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
			log.Warn("retrying store operation",
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Err(err),
			)
		}
		retrier = retry.New(cfg)
	}
	return &ResilientStore{inner: inner, breaker: breaker, retrier: retrier}
}

var _ CountingStore = (*ResilientStore)(nil)

func (s *ResilientStore) Get(ctx context.Context, key string) ([]byte, error) {
	return retry.DoWithData(ctx, s.retrier, func(ctx context.Context) ([]byte, error) {
		var v []byte
		err := s.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			v, err = s.inner.Get(ctx, key)
			return err
		})
		return v, err
	})
}

func (s *ResilientStore) Set(ctx context.Context, key string, value []byte) error {
	return s.retrier.Do(ctx, func(ctx context.Context) error {
		return s.breaker.Execute(ctx, func(ctx context.Context) error {
			return s.inner.Set(ctx, key, value)
		})
	})
}

func (s *ResilientStore) Del(ctx context.Context, key string) error {
	return s.retrier.Do(ctx, func(ctx context.Context) error {
		return s.breaker.Execute(ctx, func(ctx context.Context) error {
			return s.inner.Del(ctx, key)
		})
	})
}

func (s *ResilientStore) GetByPrefix(ctx context.Context, prefix string) ([]Entry, error) {
	return retry.DoWithData(ctx, s.retrier, func(ctx context.Context) ([]Entry, error) {
		var out []Entry
		err := s.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			out, err = s.inner.GetByPrefix(ctx, prefix)
			return err
		})
		return out, err
	})
}

func (s *ResilientStore) Incr(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.inner.Incr(ctx, key)
		return err
	})
	return n, err
}

// Ping bypasses the breaker so health checks see the backend directly.
func (s *ResilientStore) Ping(ctx context.Context) error {
	if p, ok := s.inner.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// BreakerState exposes the breaker state for health reporting.
func (s *ResilientStore) BreakerState() circuitbreaker.State {
	return s.breaker.State()
}

// isBackendFailure counts errors that say something about backend health.
func isBackendFailure(err error) bool {
	return !errors.Is(err, ErrKeyNotFound) && !errors.Is(err, ErrNotInteger)
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if circuitbreaker.IsRejected(err) {
		return false
	}
	return isBackendFailure(err)
}
