package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/certificate"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/fluency"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/shared"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/pkg/logger"
)

// CertificateRepository implements certificate.Repository.
type CertificateRepository struct {
	store Store
	log   *logger.Logger
}

// NewCertificateRepository creates a CertificateRepository.
func NewCertificateRepository(store Store, log *logger.Logger) *CertificateRepository {
	if log == nil {
		log = logger.Nop()
	}
	return &CertificateRepository{store: store, log: log.With(logger.Component("certificate_repo"))}
}

var _ certificate.Repository = (*CertificateRepository)(nil)

// Save writes cert to certificate:{userID}:{certID}, replacing any earlier
// value under that key. Both ids must be valid.
func (r *CertificateRepository) Save(ctx context.Context, cert *certificate.Certificate) error {
	if cert == nil || !shared.ValidID(cert.UserID) || !shared.ValidID(cert.ID) {
		return shared.ErrInvalidUserID
	}
	raw, err := json.Marshal(cert)
	if err != nil {
		return fmt.Errorf("encode certificate: %w", err)
	}
	if err := r.store.Set(ctx, CertificateKey(cert.UserID, cert.ID), raw); err != nil {
		return fmt.Errorf("save certificate %s: %w", cert.ID, err)
	}
	return nil
}

// Get reads exactly certificate:{userID}:{certID}.
func (r *CertificateRepository) Get(ctx context.Context, userID, certID string) (*certificate.Certificate, error) {
	if !shared.ValidID(userID) || !shared.ValidID(certID) {
		return nil, shared.ErrCertificateNotFound
	}
	raw, err := r.store.Get(ctx, CertificateKey(userID, certID))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, shared.ErrCertificateNotFound
		}
		return nil, fmt.Errorf("get certificate %s: %w", certID, err)
	}
	var c certificate.Certificate
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode certificate %s: %w", certID, err)
	}
	return &c, nil
}

// ListForUser returns the user's certificates, oldest first.
func (r *CertificateRepository) ListForUser(ctx context.Context, userID string) ([]*certificate.Certificate, error) {
	out := make([]*certificate.Certificate, 0)
	if !shared.ValidID(userID) {
		return out, nil
	}
	entries, err := r.store.GetByPrefix(ctx, CertificatePrefix(userID))
	if err != nil {
		return nil, fmt.Errorf("list certificates for %s: %w", userID, err)
	}
	for _, e := range entries {
		var c certificate.Certificate
		if err := json.Unmarshal(e.Value, &c); err != nil {
			r.log.Warn("skipping malformed certificate", logger.String("key", e.Key), logger.Err(err))
			continue
		}
		out = append(out, &c)
	}
	certificate.SortOldestFirst(out)
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// NUMBER ALLOCATOR
// ══════════════════════════════════════════════════════════════════════════════

// CounterAllocator implements certificate.NumberAllocator on an atomic counter.
type CounterAllocator struct {
	counter Counter
}

// NewCounterAllocator creates a CounterAllocator.
func NewCounterAllocator(counter Counter) *CounterAllocator {
	return &CounterAllocator{counter: counter}
}

var _ certificate.NumberAllocator = (*CounterAllocator)(nil)

// Next increments certificate-counter:{year}:{level}.
func (a *CounterAllocator) Next(ctx context.Context, year int, level fluency.Level) (int64, error) {
	n, err := a.counter.Incr(ctx, CounterKey(year, level))
	if err != nil {
		if errors.Is(err, ErrNotInteger) {
			return 0, shared.ErrCounterCorrupted.Wrap(err)
		}
		return 0, fmt.Errorf("allocate certificate number: %w", err)
	}
	return n, nil
}
