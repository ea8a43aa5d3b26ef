// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"time"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/fluency"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/shared"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET FLUENCY LEVEL QUERY
// Returns a learner's current level. Profiles without a level read as A1 and,
// when lazy migration is on, are initialized on the way.
// ══════════════════════════════════════════════════════════════════════════════

// GetFluencyLevelQuery contains the learner to read.
type GetFluencyLevelQuery struct {
	UserID string
}

// FluencyLevelDTO is the current level of a learner.
type FluencyLevelDTO struct {
	UserID                string           `json:"userId"`
	FluencyLevel          fluency.Level    `json:"fluencyLevel"`
	FluencyLevelUpdatedAt *time.Time       `json:"fluencyLevelUpdatedAt"`
	FluencyLevelUpdatedBy string           `json:"fluencyLevelUpdatedBy,omitempty"`
	Metadata              fluency.Metadata `json:"metadata"`
}

// NewFluencyLevelDTO builds the DTO from a profile.
func NewFluencyLevelDTO(p *fluency.Profile) *FluencyLevelDTO {
	level := p.EffectiveLevel()
	return &FluencyLevelDTO{
		UserID:                p.ID,
		FluencyLevel:          level,
		FluencyLevelUpdatedAt: p.FluencyLevelUpdatedAt,
		FluencyLevelUpdatedBy: p.FluencyLevelUpdatedBy,
		Metadata:              level.Metadata(),
	}
}

// LazyInitializer assigns the default level to a profile found without one.
// It must never change an existing level.
type LazyInitializer interface {
	InitializeLazily(ctx context.Context, userID string) (*fluency.Profile, error)
}

// GetFluencyLevelHandler handles GetFluencyLevelQuery.
type GetFluencyLevelHandler struct {
	profiles    fluency.ProfileRepository
	initializer LazyInitializer
	log         *logger.Logger
}

// NewGetFluencyLevelHandler creates a new handler. A nil initializer turns
// lazy migration off.
func NewGetFluencyLevelHandler(profiles fluency.ProfileRepository, initializer LazyInitializer, log *logger.Logger) *GetFluencyLevelHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GetFluencyLevelHandler{
		profiles:    profiles,
		initializer: initializer,
		log:         log.With(logger.Component("get_fluency_level")),
	}
}

// Handle executes the query.
func (h *GetFluencyLevelHandler) Handle(ctx context.Context, q GetFluencyLevelQuery) (*FluencyLevelDTO, error) {
	if !shared.ValidID(q.UserID) {
		return nil, shared.ErrProfileNotFound
	}
	profile, err := h.profiles.Get(ctx, q.UserID)
	if err != nil {
		return nil, err
	}

	if !profile.HasLevel() && h.initializer != nil {
		migrated, err := h.initializer.InitializeLazily(ctx, q.UserID)
		if err != nil {
			// The default is still correct for the caller; the next read retries.
			h.log.Warn("lazy fluency migration failed", logger.UserID(q.UserID), logger.Err(err))
		} else {
			profile = migrated
		}
	}

	return NewFluencyLevelDTO(profile), nil
}
