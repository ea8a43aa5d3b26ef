package postgres

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/infrastructure/persistence/kvstore"
)

// KVStore implements kvstore.CountingStore on the kv_store table.
type KVStore struct {
	conn *Connection
}

// NewKVStore creates a KVStore. Migrations must have been applied.
func NewKVStore(conn *Connection) *KVStore {
	return &KVStore{conn: conn}
}

var _ kvstore.CountingStore = (*KVStore)(nil)

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := s.conn.QueryRow(ctx, `SELECT value::text FROM kv_store WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if IsNoRows(err) {
			return nil, kvstore.ErrKeyNotFound
		}
		return nil, fmt.Errorf("postgres: get %s: %w", key, err)
	}
	return []byte(value), nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO kv_store (key, value, updated_at)
		VALUES ($1, $2::jsonb, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, key, string(value))
	if err != nil {
		return fmt.Errorf("postgres: set %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) Del(ctx context.Context, key string) error {
	if _, err := s.conn.Exec(ctx, `DELETE FROM kv_store WHERE key = $1`, key); err != nil {
		return fmt.Errorf("postgres: del %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) GetByPrefix(ctx context.Context, prefix string) ([]kvstore.Entry, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT key, value::text FROM kv_store
		WHERE key LIKE $1 ESCAPE '\'
		ORDER BY key
	`, escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("postgres: scan %s: %w", prefix, err)
	}
	defer rows.Close()

	out := make([]kvstore.Entry, 0)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		out = append(out, kvstore.Entry{Key: key, Value: []byte(value)})
	}
	return out, rows.Err()
}

// Incr atomically increments a JSON number, creating it at 1.
func (s *KVStore) Incr(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.conn.QueryRow(ctx, `
		INSERT INTO kv_store (key, value, updated_at)
		VALUES ($1, '1'::jsonb, NOW())
		ON CONFLICT (key) DO UPDATE
		SET value = to_jsonb((kv_store.value #>> '{}')::bigint + 1), updated_at = NOW()
		RETURNING (value #>> '{}')::bigint
	`, key).Scan(&n)
	if err != nil {
		if IsInvalidTextRepresentation(err) {
			return 0, fmt.Errorf("%w: %s", kvstore.ErrNotInteger, key)
		}
		return 0, fmt.Errorf("postgres: incr %s: %w", key, err)
	}
	return n, nil
}

// Ping checks the pool.
func (s *KVStore) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADVISORY LOCKS
// ══════════════════════════════════════════════════════════════════════════════

const (
	lockPollMin = 10 * time.Millisecond
	lockPollMax = 200 * time.Millisecond
)

// AdvisoryLocker implements kvstore.Locker with session advisory locks. A
// held lock pins one connection of a pool reserved for locks; waiters poll
// pg_try_advisory_lock and hold no connection between attempts. Work done
// under the lock uses the data pool, which lock holders never occupy.
type AdvisoryLocker struct {
	conn *Connection
}

// NewAdvisoryLocker creates an AdvisoryLocker on lockConn, which must not be
// the pool used by KVStore.
func NewAdvisoryLocker(lockConn *Connection) *AdvisoryLocker {
	return &AdvisoryLocker{conn: lockConn}
}

var _ kvstore.Locker = (*AdvisoryLocker)(nil)

// Lock polls pg_try_advisory_lock on the key's 64-bit hash until it wins or
// ctx ends. The lock dies with its session, so ttl is not needed.
func (l *AdvisoryLocker) Lock(ctx context.Context, key string, _ time.Duration) (func(), error) {
	delay := lockPollMin
	for {
		c, err := l.tryLock(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %v", kvstore.ErrLockTimeout, key, ctx.Err())
			}
			return nil, fmt.Errorf("postgres: lock %s: %w", key, err)
		}
		if c != nil {
			var once sync.Once
			return func() {
				once.Do(func() { l.release(c, key) })
			}, nil
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%w: %s: %v", kvstore.ErrLockTimeout, key, ctx.Err())
		case <-t.C:
		}
		delay = min(delay*2, lockPollMax)
	}
}

// tryLock returns the connection holding the lock, or nil when another
// session holds it.
func (l *AdvisoryLocker) tryLock(ctx context.Context, key string) (*pgxpool.Conn, error) {
	c, err := l.conn.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}
	var won bool
	if err := c.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtextextended($1, 0))`, key).Scan(&won); err != nil {
		c.Release()
		return nil, err
	}
	if !won {
		c.Release()
		return nil, nil
	}
	return c, nil
}

func (l *AdvisoryLocker) release(c *pgxpool.Conn, key string) {
	unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.Exec(unlockCtx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, key); err != nil {
		// The session still holds the lock; drop the connection to free it.
		_ = c.Conn().Close(unlockCtx)
	}
	c.Release()
}
