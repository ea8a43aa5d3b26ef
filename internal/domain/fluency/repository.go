package fluency

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in infrastructure/persistence/kvstore.
// ══════════════════════════════════════════════════════════════════════════════

// ProfileRepository reads and writes learner profiles.
type ProfileRepository interface {
	// Get returns ErrProfileNotFound when no record exists for userID
	// or userID is not a valid ID.
	Get(ctx context.Context, userID string) (*Profile, error)

	// Save overwrites the whole record, including unmodelled fields.
	Save(ctx context.Context, profile *Profile) error

	// List returns every learner profile. Records that cannot be decoded are skipped.
	List(ctx context.Context) ([]*Profile, error)
}

// HistoryRepository appends and reads fluency history.
type HistoryRepository interface {
	// Append stores the entry under a key unique to the user and timestamp
	// and sets entry.Key.
	Append(ctx context.Context, entry *HistoryEntry) error

	// Delete removes an entry by key. Only used to undo an Append whose
	// surrounding change could not be committed.
	Delete(ctx context.Context, key string) error

	// ListForUser returns the user's entries sorted newest first.
	// An unknown user yields an empty slice.
	ListForUser(ctx context.Context, userID string) ([]*HistoryEntry, error)
}

// UserLock serializes writes to one learner's fluency state.
type UserLock interface {
	// Acquire blocks until the lock is held or ctx is done.
	Acquire(ctx context.Context, userID string) (release func(), err error)
}
