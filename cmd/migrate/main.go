// Package main runs one-shot maintenance: schema migrations for the Postgres
// store and the bulk fluency migration that gives every learner without a
// level the starting level.
//
// Usage:
//
//	migrate                      apply pending schema migrations
//	migrate -status              list schema migrations
//	migrate -rollback            revert the latest schema migration
//	migrate -bulk-fluency -admin <teacher-id>
//	migrate -grant-teacher <user-id>
//
// Self-signup only creates students; -grant-teacher promotes the first
// teacher, who can then register further teachers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/config"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/application/command"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/bootstrap"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/identity"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/infrastructure/persistence/postgres"
)

type options struct {
	status      bool
	rollback    bool
	bulkFluency bool
	adminID     string
	grantID     string
}

func main() {
	var opts options
	flag.BoolVar(&opts.status, "status", false, "print schema migration status and exit")
	flag.BoolVar(&opts.rollback, "rollback", false, "revert the most recent schema migration")
	flag.BoolVar(&opts.bulkFluency, "bulk-fluency", false, "assign the starting level to every learner without one")
	flag.StringVar(&opts.adminID, "admin", "", "teacher user id recorded as the actor of the bulk migration (default: system)")
	flag.StringVar(&opts.grantID, "grant-teacher", "", "give the teacher role to an existing user id")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := bootstrap.NewSlog(cfg, os.Stdout)

	if opts.grantID != "" {
		return grantTeacher(ctx, cfg, log, opts.grantID)
	}
	if opts.bulkFluency {
		return bulkFluency(ctx, cfg, log, opts.adminID)
	}
	return schema(ctx, cfg, log, opts)
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEMA MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

func schema(ctx context.Context, cfg *config.Config, log *slog.Logger, opts options) error {
	if cfg.Store.Backend != config.StorePostgres {
		log.Info("store backend has no schema, nothing to do", "backend", cfg.Store.Backend)
		return nil
	}

	conn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL, postgres.PoolOptions{MaxConns: 2})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	migrator := postgres.NewMigrator(conn)

	switch {
	case opts.rollback:
		if err := migrator.Rollback(ctx); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		log.Info("rolled back latest migration")
	case opts.status:
		// handled below
	default:
		n, err := migrator.Migrate(ctx)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		log.Info("migrations applied", "count", n)
	}

	status, err := migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to read migration status: %w", err)
	}
	for _, m := range status {
		state := "pending"
		if m.IsApplied {
			state = "applied " + m.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%03d  %-28s %s\n", m.Version, m.Name, state)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// BULK FLUENCY MIGRATION
// ══════════════════════════════════════════════════════════════════════════════

func bulkFluency(ctx context.Context, cfg *config.Config, log *slog.Logger, adminID string) error {
	appLog := bootstrap.NewLogger(cfg, os.Stdout)
	defer appLog.Sync()

	app, err := bootstrap.New(ctx, cfg, appLog, log, bootstrap.Options{SkipIdentity: true})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer func() { _ = app.Close() }()

	caller, err := resolveAdmin(ctx, app, adminID)
	if err != nil {
		return err
	}

	res, err := app.BulkMigrate.Handle(ctx, command.BulkMigrateCommand{Caller: caller})
	if err != nil {
		return fmt.Errorf("bulk migration failed: %w", err)
	}

	log.Info("bulk fluency migration completed",
		"actor", caller.UserID,
		"migrated", res.MigratedCount,
		"skipped", res.SkippedCount,
		"failed", res.FailedCount,
	)
	if res.FailedCount > 0 {
		return fmt.Errorf("%d profiles could not be migrated, re-run to retry", res.FailedCount)
	}
	return nil
}

// resolveAdmin returns the system caller when id is empty, otherwise the
// stored profile of id, which must hold the teacher role.
func resolveAdmin(ctx context.Context, app *bootstrap.App, id string) (identity.Caller, error) {
	if id == "" {
		return identity.System(), nil
	}
	p, err := app.Profiles.Get(ctx, id)
	if err != nil {
		return identity.Caller{}, fmt.Errorf("load admin %q: %w", id, err)
	}
	caller := identity.Caller{UserID: p.ID, Email: p.Email, Name: p.Name, Role: p.EffectiveRole()}
	if !caller.IsTeacher() {
		return identity.Caller{}, fmt.Errorf("admin %q is not a teacher", id)
	}
	return caller, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ROLES
// ══════════════════════════════════════════════════════════════════════════════

func grantTeacher(ctx context.Context, cfg *config.Config, log *slog.Logger, userID string) error {
	appLog := bootstrap.NewLogger(cfg, os.Stdout)
	defer appLog.Sync()

	app, err := bootstrap.New(ctx, cfg, appLog, log, bootstrap.Options{SkipIdentity: true})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer func() { _ = app.Close() }()

	p, err := app.Profiles.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user %q: %w", userID, err)
	}
	if p.Role == identity.RoleTeacher {
		log.Info("user already holds the teacher role", "user_id", userID)
		return nil
	}
	p.Role = identity.RoleTeacher
	if err := app.Profiles.Save(ctx, p); err != nil {
		return fmt.Errorf("save user %q: %w", userID, err)
	}
	log.Info("teacher role granted", "user_id", userID)
	return nil
}
