package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/fluency"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/shared"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/pkg/logger"
)

// maxKeyCollisions bounds the timestamp bump loop in Append.
const maxKeyCollisions = 1000

// HistoryRepository implements fluency.HistoryRepository.
type HistoryRepository struct {
	store Store
	log   *logger.Logger
}

// NewHistoryRepository creates a HistoryRepository.
func NewHistoryRepository(store Store, log *logger.Logger) *HistoryRepository {
	if log == nil {
		log = logger.Nop()
	}
	return &HistoryRepository{store: store, log: log.With(logger.Component("history_repo"))}
}

var _ fluency.HistoryRepository = (*HistoryRepository)(nil)

// Append writes the entry under fluency-history:{userId}:{changedAt}. If that
// key is taken, changedAt is advanced by one nanosecond until a free key is
// found. Callers hold the user's lock, so the existence check does not race.
func (r *HistoryRepository) Append(ctx context.Context, entry *fluency.HistoryEntry) error {
	if entry == nil || !shared.ValidID(entry.UserID) {
		return shared.ErrInvalidUserID
	}

	at := entry.ChangedAt.UTC()
	key := HistoryKey(entry.UserID, at)
	for i := 0; ; i++ {
		_, err := r.store.Get(ctx, key)
		if errors.Is(err, ErrKeyNotFound) {
			break
		}
		if err != nil {
			return fmt.Errorf("check history key %s: %w", key, err)
		}
		if i >= maxKeyCollisions {
			return fmt.Errorf("append history for %s: %w", entry.UserID, shared.ErrConcurrentModification)
		}
		at = at.Add(time.Nanosecond)
		key = HistoryKey(entry.UserID, at)
	}

	entry.ChangedAt = at
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode history entry: %w", err)
	}
	if err := r.store.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("append history for %s: %w", entry.UserID, err)
	}
	entry.Key = key
	return nil
}

// Delete removes one entry.
func (r *HistoryRepository) Delete(ctx context.Context, key string) error {
	if err := r.store.Del(ctx, key); err != nil {
		return fmt.Errorf("delete history entry %s: %w", key, err)
	}
	return nil
}

// ListForUser returns the user's history, newest first.
func (r *HistoryRepository) ListForUser(ctx context.Context, userID string) ([]*fluency.HistoryEntry, error) {
	out := make([]*fluency.HistoryEntry, 0)
	if !shared.ValidID(userID) {
		return out, nil
	}

	entries, err := r.store.GetByPrefix(ctx, HistoryPrefix(userID))
	if err != nil {
		return nil, fmt.Errorf("list history for %s: %w", userID, err)
	}

	for _, e := range entries {
		var h fluency.HistoryEntry
		if err := json.Unmarshal(e.Value, &h); err != nil {
			r.log.Warn("skipping malformed history entry", logger.String("key", e.Key), logger.Err(err))
			continue
		}
		h.Key = e.Key
		out = append(out, &h)
	}
	fluency.SortNewestFirst(out)
	return out, nil
}
