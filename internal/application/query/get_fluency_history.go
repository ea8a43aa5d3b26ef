package query

import (
	"context"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/fluency"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET FLUENCY HISTORY QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetFluencyHistoryQuery contains the learner whose history to read.
type GetFluencyHistoryQuery struct {
	UserID string
}

// GetFluencyHistoryHandler handles GetFluencyHistoryQuery.
type GetFluencyHistoryHandler struct {
	profiles fluency.ProfileRepository
	history  fluency.HistoryRepository
}

// NewGetFluencyHistoryHandler creates a new handler.
func NewGetFluencyHistoryHandler(profiles fluency.ProfileRepository, history fluency.HistoryRepository) *GetFluencyHistoryHandler {
	return &GetFluencyHistoryHandler{profiles: profiles, history: history}
}

// Handle returns the entries newest first. A known learner without entries
// gets an empty slice; an unknown learner gets ErrProfileNotFound.
func (h *GetFluencyHistoryHandler) Handle(ctx context.Context, q GetFluencyHistoryQuery) ([]*fluency.HistoryEntry, error) {
	if !shared.ValidID(q.UserID) {
		return nil, shared.ErrProfileNotFound
	}
	if _, err := h.profiles.Get(ctx, q.UserID); err != nil {
		return nil, err
	}
	entries, err := h.history.ListForUser(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	fluency.SortNewestFirst(entries)
	return entries, nil
}
