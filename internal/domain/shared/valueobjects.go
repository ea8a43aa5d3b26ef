// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"strings"
	"time"
	"unicode"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// SystemActorID is recorded as the actor of automatic changes.
const SystemActorID = "system"

// SystemActorName is the display name of SystemActorID.
const SystemActorName = "System"

// IDSeparator separates segments of storage keys. IDs may never contain it.
const IDSeparator = ":"

// ValidID reports whether id can be used as an opaque identifier:
// non-empty, at most 128 bytes, free of separators, whitespace and control characters.
func ValidID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	if strings.Contains(id, IDSeparator) {
		return false
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// ═══════════════════════════════════════════════════════════════════════════
// Time Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// SortableTimestampLayout is a fixed-width UTC layout whose lexical order
// matches chronological order.
const SortableTimestampLayout = "2006-01-02T15:04:05.000000000Z"

// SortableTimestamp formats t in SortableTimestampLayout.
func SortableTimestamp(t time.Time) string {
	return t.UTC().Format(SortableTimestampLayout)
}
