package command

import (
	"context"
	"fmt"
	"time"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/certificate"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/fluency"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/identity"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/shared"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/pkg/logger"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SET FLUENCY LEVEL COMMAND
// Moves a learner one step along the ladder. Only teachers may do this.
// Upgrades issue a certificate in the same operation; downgrades never do.
// ══════════════════════════════════════════════════════════════════════════════

// SetFluencyLevelCommand contains the data to change a learner's level.
type SetFluencyLevelCommand struct {
	Caller identity.Caller
	UserID string

	// Level is the raw requested code; parsed after the profile is found.
	Level string
}

// SetFluencyLevelResult contains the outcome of a level change.
type SetFluencyLevelResult struct {
	UserID        string
	PreviousLevel fluency.Level
	NewLevel      fluency.Level
	UpdatedAt     time.Time
	UpdatedBy     string

	// Certificate is set only for upgrades.
	Certificate *certificate.Certificate
}

// CertificateIssuer issues a certificate for an upgrade.
type CertificateIssuer interface {
	Handle(ctx context.Context, cmd IssueCertificateCommand) (*IssueCertificateResult, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// SetFluencyLevelHandler handles SetFluencyLevelCommand.
type SetFluencyLevelHandler struct {
	profiles  fluency.ProfileRepository
	history   fluency.HistoryRepository
	lock      fluency.UserLock
	issuer    CertificateIssuer
	clock     timeutil.Clock
	publisher shared.EventPublisher
	log       *logger.Logger
}

// NewSetFluencyLevelHandler creates a new SetFluencyLevelHandler. A nil
// issuer disables certificate issuance.
func NewSetFluencyLevelHandler(
	profiles fluency.ProfileRepository,
	history fluency.HistoryRepository,
	lock fluency.UserLock,
	issuer CertificateIssuer,
	clock timeutil.Clock,
	publisher shared.EventPublisher,
	log *logger.Logger,
) *SetFluencyLevelHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if publisher == nil {
		publisher = shared.NoopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SetFluencyLevelHandler{
		profiles:  profiles,
		history:   history,
		lock:      lock,
		issuer:    issuer,
		clock:     clock,
		publisher: publisher,
		log:       log.With(logger.Component("set_fluency_level")),
	}
}

// Handle executes the command. Checks run in order: role, profile existence,
// level code, transition. Nothing is written before all of them pass.
func (h *SetFluencyLevelHandler) Handle(ctx context.Context, cmd SetFluencyLevelCommand) (*SetFluencyLevelResult, error) {
	if err := identity.RequireRole(cmd.Caller, identity.RoleTeacher); err != nil {
		return nil, err
	}
	if !shared.ValidID(cmd.UserID) {
		return nil, shared.ErrProfileNotFound
	}

	release, err := h.lock.Acquire(ctx, cmd.UserID)
	if err != nil {
		return nil, fmt.Errorf("set_fluency_level: %w", err)
	}
	defer release()

	profile, err := h.profiles.Get(ctx, cmd.UserID)
	if err != nil {
		return nil, err
	}
	next, err := fluency.ParseLevel(cmd.Level)
	if err != nil {
		return nil, err
	}
	previous := profile.EffectiveLevel()
	if err := fluency.ValidateTransition(previous, next); err != nil {
		return nil, err
	}

	byName := h.changedByName(ctx, cmd.Caller)
	snapshot := profile.Clone()
	now := h.clock.Now()

	entry := fluency.NewTransitionEntry(cmd.UserID, previous, next, now, cmd.Caller.UserID, byName)
	if err := h.history.Append(ctx, entry); err != nil {
		return nil, shared.ErrFluencyWriteFailed.Wrap(err)
	}

	profile.ApplyLevel(next, now, cmd.Caller.UserID)
	if err := h.profiles.Save(ctx, profile); err != nil {
		undoHistory(ctx, h.history, entry, h.log)
		return nil, shared.ErrFluencyWriteFailed.Wrap(err)
	}

	upgrade := fluency.IsUpgrade(previous, next)
	res := &SetFluencyLevelResult{
		UserID:        cmd.UserID,
		PreviousLevel: previous,
		NewLevel:      next,
		UpdatedAt:     *profile.FluencyLevelUpdatedAt,
		UpdatedBy:     cmd.Caller.UserID,
	}

	if upgrade && h.issuer != nil {
		issued, err := h.issuer.Handle(ctx, IssueCertificateCommand{
			UserID:   cmd.UserID,
			UserName: profile.Name,
			Level:    next,
			IssuedBy: cmd.Caller.UserID,
		})
		if err != nil {
			h.rollback(ctx, snapshot, entry)
			return nil, err
		}
		res.Certificate = issued.Certificate
	}

	h.log.Info("fluency level changed",
		logger.UserID(cmd.UserID),
		logger.ActorID(cmd.Caller.UserID),
		logger.String("previous_level", previous.String()),
		logger.FluencyLevel(next.String()),
		logger.Bool("upgrade", upgrade),
	)
	_ = h.publisher.Publish(shared.NewFluencyLevelChangedEvent(
		cmd.UserID, previous.String(), next.String(), cmd.Caller.UserID, byName, upgrade, now,
	))

	return res, nil
}

// rollback restores the profile and drops the history entry after a
// committed change could not get its certificate.
func (h *SetFluencyLevelHandler) rollback(ctx context.Context, snapshot *fluency.Profile, entry *fluency.HistoryEntry) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	if err := h.profiles.Save(cctx, snapshot); err != nil {
		h.log.Error("failed to restore profile after certificate failure",
			logger.UserID(snapshot.ID),
			logger.Err(err),
		)
		// Keep the history entry: it matches the level still stored.
		return
	}
	undoHistory(ctx, h.history, entry, h.log)
}

// changedByName resolves the admin's display name at call time.
func (h *SetFluencyLevelHandler) changedByName(ctx context.Context, caller identity.Caller) string {
	if admin, err := h.profiles.Get(ctx, caller.UserID); err == nil && admin.Name != "" {
		return admin.Name
	}
	return actorName(caller)
}
