// Package kvstore maps the fluency and certificate repositories onto a flat
// key-value store. Backends (memory, Postgres, Redis) only need to provide
// Get, Set, Del, a prefix scan and an atomic increment.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrKeyNotFound is returned by Get when the key does not exist.
	ErrKeyNotFound = errors.New("kvstore: key not found")

	// ErrNotInteger is returned by Incr when the stored value is not an integer.
	ErrNotInteger = errors.New("kvstore: value is not an integer")

	// ErrLockTimeout is returned when a lock cannot be acquired before ctx ends.
	ErrLockTimeout = errors.New("kvstore: lock acquisition timed out")
)

// ══════════════════════════════════════════════════════════════════════════════
// INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// Entry is one key-value pair returned by a prefix scan.
type Entry struct {
	Key   string
	Value []byte
}

// Store is the minimal key-value contract. Values are JSON documents.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Del(ctx context.Context, key string) error

	// GetByPrefix returns every entry whose key starts with prefix, ordered
	// by key. Backends without ordered scans sort before returning.
	GetByPrefix(ctx context.Context, prefix string) ([]Entry, error)
}

// Counter is an atomic increment. A missing key counts from zero.
type Counter interface {
	Incr(ctx context.Context, key string) (int64, error)
}

// CountingStore is a Store that can also count.
type CountingStore interface {
	Store
	Counter
}

// Pinger reports backend liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Locker provides mutual exclusion on a key. Locks held by a crashed holder
// expire after ttl on backends that support expiry.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
