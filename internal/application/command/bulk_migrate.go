package command

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/fluency"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/identity"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/shared"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/pkg/logger"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/pkg/timeutil"
)

// DefaultMigrationConcurrency bounds parallel profile initializations.
const DefaultMigrationConcurrency = 8

// ══════════════════════════════════════════════════════════════════════════════
// BULK MIGRATE COMMAND
// Initializes every learner that has no fluency level yet. Safe to re-run:
// profiles that already have a level are not written.
// ══════════════════════════════════════════════════════════════════════════════

// BulkMigrateCommand contains the caller running the migration.
type BulkMigrateCommand struct {
	Caller identity.Caller
}

// BulkMigrateResult contains the migration counters.
type BulkMigrateResult struct {
	MigratedCount int
	SkippedCount  int

	// FailedCount profiles hit a write error and remain unmigrated.
	FailedCount int
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// BulkMigrateHandler handles BulkMigrateCommand.
type BulkMigrateHandler struct {
	profiles    fluency.ProfileRepository
	initializer *InitializeFluencyHandler
	clock       timeutil.Clock
	publisher   shared.EventPublisher
	concurrency int
	log         *logger.Logger
}

// NewBulkMigrateHandler creates a new BulkMigrateHandler.
func NewBulkMigrateHandler(
	profiles fluency.ProfileRepository,
	initializer *InitializeFluencyHandler,
	clock timeutil.Clock,
	publisher shared.EventPublisher,
	log *logger.Logger,
) *BulkMigrateHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if publisher == nil {
		publisher = shared.NoopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &BulkMigrateHandler{
		profiles:    profiles,
		initializer: initializer,
		clock:       clock,
		publisher:   publisher,
		concurrency: DefaultMigrationConcurrency,
		log:         log.With(logger.Component("bulk_migrate")),
	}
}

// Handle executes the command.
func (h *BulkMigrateHandler) Handle(ctx context.Context, cmd BulkMigrateCommand) (*BulkMigrateResult, error) {
	if err := identity.RequireRole(cmd.Caller, identity.RoleTeacher); err != nil {
		return nil, err
	}

	profiles, err := h.profiles.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("bulk_migrate: list profiles: %w", err)
	}

	var migrated, skipped, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)

	for _, p := range profiles {
		if p.HasLevel() {
			skipped.Add(1)
			continue
		}
		userID := p.ID
		g.Go(func() error {
			res, err := h.initializer.Handle(gctx, InitializeFluencyCommand{
				UserID: userID,
				Actor:  cmd.Caller,
				Reason: fluency.ReasonBulkMigration,
			})
			switch {
			case err != nil:
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				h.log.Warn("profile migration failed", logger.UserID(userID), logger.Err(err))
			case res.Initialized:
				migrated.Add(1)
			default:
				skipped.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("bulk_migrate: %w", err)
	}

	res := &BulkMigrateResult{
		MigratedCount: int(migrated.Load()),
		SkippedCount:  int(skipped.Load()),
		FailedCount:   int(failed.Load()),
	}
	h.log.Info("bulk fluency migration completed",
		logger.ActorID(cmd.Caller.UserID),
		logger.Int("migrated", res.MigratedCount),
		logger.Int("skipped", res.SkippedCount),
		logger.Int("failed", res.FailedCount),
	)
	_ = h.publisher.Publish(shared.NewBulkMigrationCompletedEvent(
		cmd.Caller.UserID, res.MigratedCount, res.SkippedCount, res.FailedCount, h.clock.Now(),
	))
	return res, nil
}
