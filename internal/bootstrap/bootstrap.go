// Package bootstrap wires configuration, storage, identity and the
// application handlers into a runnable service. Both binaries use it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/config"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/application/command"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/application/eventhandler"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/application/query"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/identity"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/shared"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/infrastructure/auth"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/infrastructure/external/supabase"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/infrastructure/messaging"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/infrastructure/persistence/kvstore"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/infrastructure/persistence/postgres"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/infrastructure/persistence/redis"
	httpserver "github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/interface/http"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/interface/http/handlers"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/pkg/logger"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/pkg/timeutil"
)

// eventBus is implemented by both the in-memory and the Redis event bus.
type eventBus interface {
	shared.EventBus
	Close() error
	Metrics() *messaging.EventBusMetrics
}

// App holds every wired component. Close releases them in reverse order.
type App struct {
	Config *config.Config
	Log    *logger.Logger
	Slog   *slog.Logger

	Store        *kvstore.ResilientStore
	Profiles     *kvstore.ProfileRepository
	History      *kvstore.HistoryRepository
	Certificates *kvstore.CertificateRepository
	Bus          eventBus
	Audit        *eventhandler.AuditTrailHandler

	// Commands
	InitializeFluency *command.InitializeFluencyHandler
	IssueCertificate  *command.IssueCertificateHandler
	SetFluencyLevel   *command.SetFluencyLevelHandler
	BulkMigrate       *command.BulkMigrateHandler
	RegisterLearner   *command.RegisterLearnerHandler

	// Queries
	GetFluencyLevel   *query.GetFluencyLevelHandler
	GetFluencyHistory *query.GetFluencyHistoryHandler
	CertificateQuery  *query.CertificatesHandler

	Authenticator identity.Authenticator
	Provisioner   identity.Provisioner
	Health        *handlers.DependencyChecker

	admin  *supabase.AdminClient
	local  *auth.LocalIdentityProvider
	client *redis.Client

	closers []func() error
}

// Options tunes what New wires.
type Options struct {
	// SkipIdentity leaves the authenticator and provisioner unset. Used by
	// the migration CLI, which never serves requests.
	SkipIdentity bool
}

// New builds the application from cfg. On error everything opened so far
// is closed again.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, slogger *slog.Logger, opts Options) (app *App, err error) {
	if log == nil {
		log = logger.Nop()
	}
	if slogger == nil {
		slogger = slog.Default()
	}
	a := &App{
		Config: cfg,
		Log:    log,
		Slog:   slogger,
		Health: handlers.NewDependencyChecker(cfg.App.Version, cfg.HTTP.HealthCheckTimeout),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	inner, locker, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Store = kvstore.NewResilientStore(inner, nil, nil, log)
	a.Health.Require("store", a.Store)

	a.Profiles = kvstore.NewProfileRepository(a.Store, log)
	a.History = kvstore.NewHistoryRepository(a.Store, log)
	a.Certificates = kvstore.NewCertificateRepository(a.Store, log)

	if err := a.openEventBus(ctx); err != nil {
		return nil, err
	}

	a.wireHandlers(locker)

	if !opts.SkipIdentity {
		if err := a.wireIdentity(); err != nil {
			return nil, err
		}
	}

	return a, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STORAGE
// ══════════════════════════════════════════════════════════════════════════════

func (a *App) openStore(ctx context.Context) (kvstore.CountingStore, kvstore.Locker, error) {
	cfg := a.Config
	log := a.Log.With(logger.Component("bootstrap"))

	switch cfg.Store.Backend {
	case config.StorePostgres:
		conn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL, postgres.PoolOptions{
			MaxConns:        int32(cfg.Database.MaxConns),
			MinConns:        int32(cfg.Database.MinConns),
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		a.closers = append(a.closers, func() error { conn.Close(); return nil })

		if cfg.Database.AutoMigrate {
			n, err := postgres.NewMigrator(conn).Migrate(ctx)
			if err != nil {
				return nil, nil, fmt.Errorf("run migrations: %w", err)
			}
			log.Info("migrations applied", logger.Int("count", n))
		}

		lockConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL, postgres.PoolOptions{
			MaxConns:        int32(cfg.Database.LockConns),
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres for locks: %w", err)
		}
		a.closers = append(a.closers, func() error { lockConn.Close(); return nil })

		log.Info("using postgres store",
			logger.Int("max_conns", cfg.Database.MaxConns),
			logger.Int("lock_conns", cfg.Database.LockConns),
		)
		return postgres.NewKVStore(conn), postgres.NewAdvisoryLocker(lockConn), nil

	case config.StoreRedis:
		client, err := a.redisClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		log.Info("using redis store")
		return redis.NewKVStore(client), redis.NewLocker(client), nil

	default:
		log.Warn("using in-memory store, data is lost on restart")
		return kvstore.NewMemoryStore(), kvstore.NewLocalLocker(), nil
	}
}

// redisClient opens the shared Redis pool on first use.
func (a *App) redisClient(ctx context.Context) (*redis.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	rc := a.Config.Redis
	cfg := redis.DefaultConfig()
	cfg.URL = rc.URL
	cfg.Host = rc.Host
	cfg.Port = rc.Port
	cfg.Password = rc.Password
	cfg.DB = rc.DB
	cfg.PoolSize = rc.PoolSize
	cfg.MinIdleConns = rc.MinIdleConns
	if rc.DialTimeout > 0 {
		cfg.DialTimeout = rc.DialTimeout
	}
	if rc.ReadTimeout > 0 {
		cfg.ReadTimeout = rc.ReadTimeout
	}
	if rc.WriteTimeout > 0 {
		cfg.WriteTimeout = rc.WriteTimeout
	}

	client, err := redis.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.client = client
	a.closers = append(a.closers, client.Close)
	a.Health.Watch("redis", client)
	return client, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENTS
// ══════════════════════════════════════════════════════════════════════════════

func (a *App) openEventBus(ctx context.Context) error {
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = a.Slog
	busCfg.EnableMetrics = a.Config.Observability.MetricsEnabled

	if a.Config.Store.RedisEvents {
		client, err := a.redisClient(ctx)
		if err != nil {
			return err
		}
		bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         redis.NewPubSub(client),
			ChannelName:    a.Config.Redis.EventChannel,
			LocalBusConfig: busCfg,
			Logger:         a.Slog,
		})
		if err != nil {
			return fmt.Errorf("start redis event bus: %w", err)
		}
		a.Bus = bus
	} else {
		a.Bus = messaging.NewInMemoryEventBus(busCfg)
	}
	a.closers = append(a.closers, a.Bus.Close)

	a.Audit = eventhandler.NewAuditTrailHandler(a.Slog)
	if err := a.Audit.Register(a.Bus); err != nil {
		return fmt.Errorf("register audit trail: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (a *App) wireHandlers(locker kvstore.Locker) {
	cfg := a.Config
	flags := cfg.Features
	if flags == nil {
		flags = config.NewFeatureFlags()
	}
	clock := timeutil.SystemClock{}
	lock := kvstore.NewUserLock(locker, cfg.Store.LockTTL)

	a.InitializeFluency = command.NewInitializeFluencyHandler(a.Profiles, a.History, lock, clock, a.Bus, a.Log)
	a.IssueCertificate = command.NewIssueCertificateHandler(
		a.Certificates, kvstore.NewCounterAllocator(a.Store), clock, a.Bus, a.Log,
		command.WithLocation(cfg.App.Location),
	)

	// Interface values stay nil unless the feature is on for someone.
	var issuer command.CertificateIssuer
	if flags.IsEnabled(config.FeatureCertificateIssuance, nil) {
		issuer = rolloutIssuer{next: a.IssueCertificate, flags: flags}
	}
	a.SetFluencyLevel = command.NewSetFluencyLevelHandler(a.Profiles, a.History, lock, issuer, clock, a.Bus, a.Log)
	a.BulkMigrate = command.NewBulkMigrateHandler(a.Profiles, a.InitializeFluency, clock, a.Bus, a.Log)

	var lazy query.LazyInitializer
	if flags.IsEnabled(config.FeatureLazyMigration, nil) {
		lazy = rolloutInitializer{next: a.InitializeFluency, profiles: a.Profiles, flags: flags}
	}
	a.GetFluencyLevel = query.NewGetFluencyLevelHandler(a.Profiles, lazy, a.Log)
	a.GetFluencyHistory = query.NewGetFluencyHistoryHandler(a.Profiles, a.History)
	a.CertificateQuery = query.NewCertificatesHandler(a.Certificates)
}

func (a *App) wireIdentity() error {
	cfg := a.Config.Auth

	verifier, err := auth.NewJWTVerifier(auth.JWTVerifierConfig{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   cfg.JWTLeeway,
	})
	if err != nil {
		return fmt.Errorf("create jwt verifier: %w", err)
	}
	a.Authenticator = auth.NewProfileAuthenticator(verifier, a.Profiles, a.Log)

	switch cfg.Provider {
	case config.AuthSupabase:
		admin, err := supabase.NewAdminClient(supabase.Config{
			URL:            cfg.SupabaseURL,
			ServiceRoleKey: cfg.SupabaseServiceRoleKey,
			Timeout:        cfg.RequestTimeout,
			Logger:         a.Log,
		})
		if err != nil {
			return fmt.Errorf("create supabase admin client: %w", err)
		}
		a.admin = admin
		a.Provisioner = admin
		a.Health.Watch("identity_provider", admin)
	default:
		a.local = auth.NewLocalIdentityProvider(verifier, 0)
		a.Provisioner = a.local
		a.Log.Warn("using local identity provider, accounts are lost on restart")
	}

	flags := a.Config.Features
	if flags == nil || flags.IsEnabled(config.FeatureSignup, nil) {
		a.RegisterLearner = command.NewRegisterLearnerHandler(
			a.Provisioner, a.Profiles, a.InitializeFluency, timeutil.SystemClock{}, a.Bus, a.Log,
		)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP
// ══════════════════════════════════════════════════════════════════════════════

// HTTPConfig maps the configuration onto the server settings.
func (a *App) HTTPConfig() httpserver.Config {
	c := a.Config
	return httpserver.Config{
		Addr:               c.HTTP.Addr(),
		ReadTimeout:        c.HTTP.ReadTimeout,
		WriteTimeout:       c.HTTP.WriteTimeout,
		IdleTimeout:        c.HTTP.IdleTimeout,
		ShutdownTimeout:    c.App.ShutdownTimeout,
		CORSOrigins:        c.HTTP.CORSOrigins,
		MaxBodyBytes:       c.HTTP.MaxBodyBytes,
		RateLimitPerMinute: c.HTTP.RateLimitPerMinute,
	}
}

// HTTPDependencies returns the server dependencies. Routes behind disabled
// feature flags are left out.
func (a *App) HTTPDependencies() httpserver.Dependencies {
	deps := httpserver.Dependencies{
		Authenticator:     a.Authenticator,
		SetFluencyLevel:   a.SetFluencyLevel,
		GetFluencyLevel:   a.GetFluencyLevel,
		GetFluencyHistory: a.GetFluencyHistory,
		Certificates:      a.CertificateQuery,
		RegisterLearner:   a.RegisterLearner,
		HealthChecker:     a.Health,
		Logger:            a.Log,
		Version:           a.Config.App.Version,
	}
	if flags := a.Config.Features; flags == nil || flags.IsEnabled(config.FeatureBulkMigration, nil) {
		deps.BulkMigrate = a.BulkMigrate
	}
	if a.local != nil {
		deps.SignIn = a.local
	}
	if a.Config.Observability.MetricsEnabled {
		deps.Metrics = a.Metrics
	}
	return deps
}

// Metrics returns the counters served on /metrics.
func (a *App) Metrics() map[string]any {
	out := map[string]any{
		"audit_events":  a.Audit.Counts(),
		"store_breaker": a.Store.BreakerState().String(),
	}
	if m := a.Bus.Metrics(); m != nil {
		out["event_bus"] = m.Snapshot()
	}
	if a.admin != nil {
		out["identity_provider_breaker"] = a.admin.BreakerState().String()
	}
	return out
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// ══════════════════════════════════════════════════════════════════════════════
// LOGGING
// ══════════════════════════════════════════════════════════════════════════════

// NewLogger builds the zap-backed application logger.
func NewLogger(cfg *config.Config, w io.Writer) *logger.Logger {
	if w == nil {
		w = os.Stdout
	}
	return logger.New(logger.Options{
		Output:    w,
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		Format:    cfg.Observability.LogFormat,
		AddCaller: cfg.App.Debug,
	}).With(
		logger.String("service", cfg.App.Name),
		logger.String("env", string(cfg.App.Environment)),
	)
}

// NewSlog builds the slog logger used by process wiring and the event bus,
// and installs it as the default.
func NewSlog(cfg *config.Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	switch cfg.Observability.LogLevel {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	log := slog.New(handler).With("service", cfg.App.Name)
	slog.SetDefault(log)
	return log
}
