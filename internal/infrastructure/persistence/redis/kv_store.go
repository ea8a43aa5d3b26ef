package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/infrastructure/persistence/kvstore"
)

const scanBatch = 100

// KVStore implements kvstore.CountingStore with plain Redis strings.
type KVStore struct {
	rdb *redis.Client
}

// NewKVStore creates a KVStore on c.
func NewKVStore(c *Client) *KVStore {
	return &KVStore{rdb: c.rdb}
}

var _ kvstore.CountingStore = (*KVStore)(nil)

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, kvstore.ErrKeyNotFound
		}
		return nil, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return data, nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) Del(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: del %s: %w", key, err)
	}
	return nil
}

// GetByPrefix walks SCAN MATCH prefix* and fetches values in MGET batches.
// Keys deleted between SCAN and MGET are skipped.
func (s *KVStore) GetByPrefix(ctx context.Context, prefix string) ([]kvstore.Entry, error) {
	seen := make(map[string]struct{})
	var keys []string

	iter := s.rdb.Scan(ctx, 0, escapeGlob(prefix)+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		// SCAN may return a key more than once.
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: scan %s: %w", prefix, err)
	}
	sort.Strings(keys)

	out := make([]kvstore.Entry, 0, len(keys))
	for start := 0; start < len(keys); start += scanBatch {
		end := min(start+scanBatch, len(keys))
		batch := keys[start:end]

		values, err := s.rdb.MGet(ctx, batch...).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: mget %s: %w", prefix, err)
		}
		for i, v := range values {
			str, ok := v.(string)
			if !ok {
				continue
			}
			out = append(out, kvstore.Entry{Key: batch[i], Value: []byte(str)})
		}
	}
	return out, nil
}

// Incr uses INCR, which stores the counter as a decimal string. Get on a
// counter key therefore returns a valid JSON number.
func (s *KVStore) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		if strings.Contains(err.Error(), "not an integer") {
			return 0, fmt.Errorf("%w: %s", kvstore.ErrNotInteger, key)
		}
		return 0, fmt.Errorf("redis: incr %s: %w", key, err)
	}
	return n, nil
}

func (s *KVStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// escapeGlob quotes the glob metacharacters SCAN MATCH understands.
func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
