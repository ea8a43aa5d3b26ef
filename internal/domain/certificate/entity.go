// Package certificate models the level certificates issued when a learner
// is promoted to a higher CEFR level.
package certificate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/fluency"
)

// NumberPrefix starts every certificate number.
const NumberPrefix = "DLA"

// Certificate is stored under certificate:{userId}:{certificateId}.
type Certificate struct {
	ID                string        `json:"id"`
	UserID            string        `json:"userId"`
	UserName          string        `json:"userName"`
	Level             fluency.Level `json:"level"`
	IssuedAt          time.Time     `json:"issuedAt"`
	IssuedBy          string        `json:"issuedBy"`
	CertificateNumber string        `json:"certificateNumber"`
}

// FormatNumber renders DLA-{year}-{level}-{seq}, zero-padding seq to six
// digits. Sequences past 999999 are printed in full.
func FormatNumber(year int, level fluency.Level, seq int64) string {
	return fmt.Sprintf("%s-%d-%s-%06d", NumberPrefix, year, level, seq)
}

// SortOldestFirst orders certificates by issue time ascending, ties by ID.
func SortOldestFirst(certs []*Certificate) {
	sort.SliceStable(certs, func(i, j int) bool {
		a, b := certs[i], certs[j]
		if !a.IssuedAt.Equal(b.IssuedAt) {
			return a.IssuedAt.Before(b.IssuedAt)
		}
		return a.ID < b.ID
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// Repository persists issued certificates.
type Repository interface {
	Save(ctx context.Context, cert *Certificate) error

	// Get returns ErrCertificateNotFound unless a record exists at exactly
	// certificate:{userID}:{certID}.
	Get(ctx context.Context, userID, certID string) (*Certificate, error)

	// ListForUser returns certificates oldest first; empty for unknown users.
	ListForUser(ctx context.Context, userID string) ([]*Certificate, error)
}

// NumberAllocator hands out per (year, level) sequence numbers starting at 1.
// Concurrent callers never receive the same number.
type NumberAllocator interface {
	Next(ctx context.Context, year int, level fluency.Level) (int64, error)
}
