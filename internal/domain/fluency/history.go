package fluency

import (
	"sort"
	"time"
)

// Reasons recorded on history entries written by the system.
const (
	ReasonInitialAssignment = "initial assignment"
	ReasonBulkMigration     = "bulk migration"
	ReasonLazyMigration     = "lazy migration"
)

// HistoryEntry is one append-only record of a level change.
type HistoryEntry struct {
	UserID        string    `json:"userId"`
	PreviousLevel *Level    `json:"previousLevel"`
	NewLevel      Level     `json:"newLevel"`
	ChangedAt     time.Time `json:"changedAt"`
	ChangedBy     string    `json:"changedBy"`
	ChangedByName string    `json:"changedByName"`
	Reason        string    `json:"reason,omitempty"`

	// Key is the storage key of the entry; set by repositories on read and append.
	Key string `json:"-"`
}

// NewInitialEntry records the first assignment of a level; PreviousLevel is null.
func NewInitialEntry(userID string, level Level, at time.Time, by, byName, reason string) *HistoryEntry {
	return &HistoryEntry{
		UserID:        userID,
		PreviousLevel: nil,
		NewLevel:      level,
		ChangedAt:     at.UTC(),
		ChangedBy:     by,
		ChangedByName: byName,
		Reason:        reason,
	}
}

// NewTransitionEntry records a move from previous to next.
func NewTransitionEntry(userID string, previous, next Level, at time.Time, by, byName string) *HistoryEntry {
	prev := previous
	return &HistoryEntry{
		UserID:        userID,
		PreviousLevel: &prev,
		NewLevel:      next,
		ChangedAt:     at.UTC(),
		ChangedBy:     by,
		ChangedByName: byName,
	}
}

// IsInitial reports whether the entry is a first assignment.
func (e *HistoryEntry) IsInitial() bool {
	return e.PreviousLevel == nil
}

// SortNewestFirst orders entries by ChangedAt descending. Equal timestamps are
// ordered by storage key descending so the result is deterministic.
func SortNewestFirst(entries []*HistoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.ChangedAt.Equal(b.ChangedAt) {
			return a.ChangedAt.After(b.ChangedAt)
		}
		return a.Key > b.Key
	})
}
