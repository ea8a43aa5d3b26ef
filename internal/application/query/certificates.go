package query

import (
	"context"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/certificate"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/fluency"
)

// ══════════════════════════════════════════════════════════════════════════════
// CERTIFICATE QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// ListCertificatesQuery lists one learner's certificates.
type ListCertificatesQuery struct {
	UserID string
}

// GetCertificateQuery reads one certificate under one learner.
type GetCertificateQuery struct {
	UserID        string
	CertificateID string
}

// CertificatesHandler handles both certificate queries.
type CertificatesHandler struct {
	repo certificate.Repository
}

// NewCertificatesHandler creates a new handler.
func NewCertificatesHandler(repo certificate.Repository) *CertificatesHandler {
	return &CertificatesHandler{repo: repo}
}

// List returns certificates oldest first, empty for learners without any.
func (h *CertificatesHandler) List(ctx context.Context, q ListCertificatesQuery) ([]*certificate.Certificate, error) {
	certs, err := h.repo.ListForUser(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	certificate.SortOldestFirst(certs)
	return certs, nil
}

// Get returns ErrCertificateNotFound unless the certificate belongs to the user.
func (h *CertificatesHandler) Get(ctx context.Context, q GetCertificateQuery) (*certificate.Certificate, error) {
	return h.repo.Get(ctx, q.UserID, q.CertificateID)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEVELS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// ListLevels returns the ladder metadata in ascending order.
func ListLevels() []fluency.Metadata {
	return fluency.AllMetadata()
}
