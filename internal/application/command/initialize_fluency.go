// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"time"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/fluency"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/identity"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/shared"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/pkg/logger"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/pkg/timeutil"
)

// compensationTimeout bounds undo writes, which run even if the request
// context is already cancelled.
const compensationTimeout = 5 * time.Second

// ══════════════════════════════════════════════════════════════════════════════
// INITIALIZE FLUENCY COMMAND
// Assigns the default level to a learner that has none yet. Called at signup,
// on the first read of an unmigrated profile and by bulk migration.
// ══════════════════════════════════════════════════════════════════════════════

// InitializeFluencyCommand contains the data to initialize a learner's level.
type InitializeFluencyCommand struct {
	UserID string

	// Actor is recorded as changedBy. identity.System() for automatic paths.
	Actor identity.Caller

	// Reason is stored on the history entry.
	Reason string
}

// Validate validates the command.
func (c InitializeFluencyCommand) Validate() error {
	if !shared.ValidID(c.UserID) {
		return shared.ErrInvalidUserID
	}
	if c.Actor.UserID == "" {
		return shared.WrapError("fluency", "Initialize", shared.ErrInvalidInput, "Actor is required", nil)
	}
	return nil
}

// InitializeFluencyResult contains the outcome of an initialization.
type InitializeFluencyResult struct {
	UserID string

	// Initialized is false when the profile already had a level.
	Initialized bool

	Profile *fluency.Profile
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// InitializeFluencyHandler handles InitializeFluencyCommand.
type InitializeFluencyHandler struct {
	profiles  fluency.ProfileRepository
	history   fluency.HistoryRepository
	lock      fluency.UserLock
	clock     timeutil.Clock
	publisher shared.EventPublisher
	log       *logger.Logger
}

// NewInitializeFluencyHandler creates a new InitializeFluencyHandler.
func NewInitializeFluencyHandler(
	profiles fluency.ProfileRepository,
	history fluency.HistoryRepository,
	lock fluency.UserLock,
	clock timeutil.Clock,
	publisher shared.EventPublisher,
	log *logger.Logger,
) *InitializeFluencyHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if publisher == nil {
		publisher = shared.NoopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &InitializeFluencyHandler{
		profiles:  profiles,
		history:   history,
		lock:      lock,
		clock:     clock,
		publisher: publisher,
		log:       log.With(logger.Component("initialize_fluency")),
	}
}

// Handle executes the command. It never changes an existing level.
func (h *InitializeFluencyHandler) Handle(ctx context.Context, cmd InitializeFluencyCommand) (*InitializeFluencyResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	release, err := h.lock.Acquire(ctx, cmd.UserID)
	if err != nil {
		return nil, fmt.Errorf("initialize_fluency: %w", err)
	}
	defer release()

	// Re-read under the lock; another writer may have set the level.
	profile, err := h.profiles.Get(ctx, cmd.UserID)
	if err != nil {
		return nil, err
	}
	if profile.HasLevel() {
		return &InitializeFluencyResult{UserID: cmd.UserID, Profile: profile}, nil
	}

	if profile.FluencyLevel != "" {
		h.log.Warn("replacing unrecognised fluency level",
			logger.UserID(cmd.UserID),
			logger.String("stored_level", profile.FluencyLevel.String()),
		)
	}

	now := h.clock.Now()
	entry := fluency.NewInitialEntry(cmd.UserID, fluency.DefaultLevel, now, cmd.Actor.UserID, actorName(cmd.Actor), cmd.Reason)
	if err := h.history.Append(ctx, entry); err != nil {
		return nil, shared.ErrFluencyWriteFailed.Wrap(err)
	}

	profile.ApplyLevel(fluency.DefaultLevel, now, cmd.Actor.UserID)
	if err := h.profiles.Save(ctx, profile); err != nil {
		undoHistory(ctx, h.history, entry, h.log)
		return nil, shared.ErrFluencyWriteFailed.Wrap(err)
	}

	h.log.Info("fluency level initialized",
		logger.UserID(cmd.UserID),
		logger.ActorID(cmd.Actor.UserID),
		logger.FluencyLevel(fluency.DefaultLevel.String()),
		logger.String("reason", cmd.Reason),
	)
	_ = h.publisher.Publish(shared.NewFluencyInitializedEvent(
		cmd.UserID, fluency.DefaultLevel.String(), cmd.Actor.UserID, cmd.Reason, now,
	))

	return &InitializeFluencyResult{UserID: cmd.UserID, Initialized: true, Profile: profile}, nil
}

// InitializeLazily initializes a profile found without a level on read.
func (h *InitializeFluencyHandler) InitializeLazily(ctx context.Context, userID string) (*fluency.Profile, error) {
	res, err := h.Handle(ctx, InitializeFluencyCommand{
		UserID: userID,
		Actor:  identity.System(),
		Reason: fluency.ReasonLazyMigration,
	})
	if err != nil {
		return nil, err
	}
	return res.Profile, nil
}

// undoHistory removes an appended entry whose change was not committed.
func undoHistory(ctx context.Context, history fluency.HistoryRepository, entry *fluency.HistoryEntry, log *logger.Logger) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	if err := history.Delete(cctx, entry.Key); err != nil {
		log.Error("failed to remove uncommitted history entry",
			logger.UserID(entry.UserID),
			logger.String("key", entry.Key),
			logger.Err(err),
		)
	}
}

// actorName is the display name recorded for a caller.
func actorName(c identity.Caller) string {
	switch {
	case c.Name != "":
		return c.Name
	case c.Email != "":
		return c.Email
	case c.UserID == shared.SystemActorID:
		return shared.SystemActorName
	default:
		return "Unknown"
	}
}
