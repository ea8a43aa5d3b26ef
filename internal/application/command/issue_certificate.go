package command

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/certificate"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/fluency"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/shared"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/pkg/logger"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ISSUE CERTIFICATE COMMAND
// Issues a numbered certificate for a level. Numbers are sequential per
// (year, level); a number whose certificate could not be stored is burned,
// never reused.
// ══════════════════════════════════════════════════════════════════════════════

// IssueCertificateCommand contains the data to issue a certificate.
type IssueCertificateCommand struct {
	UserID   string
	UserName string
	Level    fluency.Level
	IssuedBy string
}

// Validate validates the command.
func (c IssueCertificateCommand) Validate() error {
	if !shared.ValidID(c.UserID) {
		return shared.ErrInvalidUserID
	}
	if !c.Level.IsValid() {
		return shared.ErrInvalidLevel
	}
	if c.IssuedBy == "" {
		return shared.WrapError("certificate", "Issue", shared.ErrInvalidInput, "Issuer is required", nil)
	}
	return nil
}

// IssueCertificateResult contains the issued certificate.
type IssueCertificateResult struct {
	Certificate *certificate.Certificate
}

// IDGenerator returns a new certificate ID.
type IDGenerator func() (uuid.UUID, error)

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// IssueCertificateHandler handles IssueCertificateCommand.
type IssueCertificateHandler struct {
	repo      certificate.Repository
	allocator certificate.NumberAllocator
	clock     timeutil.Clock
	location  *time.Location
	newID     IDGenerator
	publisher shared.EventPublisher
	log       *logger.Logger
}

// IssueCertificateOption configures an IssueCertificateHandler.
type IssueCertificateOption func(*IssueCertificateHandler)

// WithIDGenerator replaces the UUIDv7 generator.
func WithIDGenerator(gen IDGenerator) IssueCertificateOption {
	return func(h *IssueCertificateHandler) { h.newID = gen }
}

// WithLocation sets the time zone that decides the certificate year.
func WithLocation(loc *time.Location) IssueCertificateOption {
	return func(h *IssueCertificateHandler) {
		if loc != nil {
			h.location = loc
		}
	}
}

// NewIssueCertificateHandler creates a new IssueCertificateHandler.
func NewIssueCertificateHandler(
	repo certificate.Repository,
	allocator certificate.NumberAllocator,
	clock timeutil.Clock,
	publisher shared.EventPublisher,
	log *logger.Logger,
	opts ...IssueCertificateOption,
) *IssueCertificateHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if publisher == nil {
		publisher = shared.NoopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	h := &IssueCertificateHandler{
		repo:      repo,
		allocator: allocator,
		clock:     clock,
		location:  time.UTC,
		newID:     uuid.NewV7,
		publisher: publisher,
		log:       log.With(logger.Component("issue_certificate")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle executes the command.
func (h *IssueCertificateHandler) Handle(ctx context.Context, cmd IssueCertificateCommand) (*IssueCertificateResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	now := h.clock.Now().UTC()
	year := timeutil.YearIn(now, h.location)

	id, err := h.newID()
	if err != nil {
		return nil, shared.ErrCertificateIssueFailed.Wrap(fmt.Errorf("generate id: %w", err))
	}

	seq, err := h.allocator.Next(ctx, year, cmd.Level)
	if err != nil {
		return nil, shared.ErrCertificateIssueFailed.Wrap(err)
	}

	cert := &certificate.Certificate{
		ID:                id.String(),
		UserID:            cmd.UserID,
		UserName:          cmd.UserName,
		Level:             cmd.Level,
		IssuedAt:          now,
		IssuedBy:          cmd.IssuedBy,
		CertificateNumber: certificate.FormatNumber(year, cmd.Level, seq),
	}

	if err := h.repo.Save(ctx, cert); err != nil {
		h.log.Error("certificate number burned",
			logger.UserID(cmd.UserID),
			logger.CertificateNumber(cert.CertificateNumber),
			logger.Err(err),
		)
		return nil, shared.ErrCertificateIssueFailed.Wrap(err)
	}

	h.log.Info("certificate issued",
		logger.UserID(cmd.UserID),
		logger.FluencyLevel(cmd.Level.String()),
		logger.CertificateNumber(cert.CertificateNumber),
		logger.ActorID(cmd.IssuedBy),
	)
	_ = h.publisher.Publish(shared.NewCertificateIssuedEvent(
		cert.UserID, cert.ID, cert.CertificateNumber, cert.Level.String(), cert.IssuedBy, now,
	))

	return &IssueCertificateResult{Certificate: cert}, nil
}
