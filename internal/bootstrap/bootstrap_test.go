package bootstrap

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/config"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/application/command"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/application/query"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/fluency"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/identity"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/shared"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/pkg/logger"
)

func newApp(t *testing.T, env map[string]string) *App {
	t.Helper()
	for k, v := range env {
		t.Setenv(k, v)
	}
	cfg, err := config.FromEnv()
	require.NoError(t, err)

	app, err := New(context.Background(), cfg, logger.Nop(), nil, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func seedProfile(t *testing.T, app *App, id string, role identity.Role, level fluency.Level) {
	t.Helper()
	at := time.Now().Add(-time.Hour)
	p := fluency.NewProfile(id, id, id+"@school.nl", role, at)
	if level != "" {
		p.ApplyLevel(level, at, shared.SystemActorID)
	}
	require.NoError(t, app.Profiles.Save(context.Background(), p))
}

func TestNew_DefaultsWireEverything(t *testing.T) {
	app := newApp(t, nil)

	assert.NotNil(t, app.Authenticator)
	assert.NotNil(t, app.RegisterLearner)
	assert.NotNil(t, app.local)
	assert.Nil(t, app.admin)

	deps := app.HTTPDependencies()
	assert.NotNil(t, deps.BulkMigrate)
	assert.NotNil(t, deps.SignIn)
	assert.NotNil(t, deps.Metrics)
	assert.Equal(t, ":8080", app.HTTPConfig().Addr)

	status := app.Health.Check(context.Background())
	assert.True(t, status.Healthy)
	assert.Contains(t, status.Checks, "store")
}

func TestNew_UpgradePublishesToAudit(t *testing.T) {
	app := newApp(t, nil)
	seedProfile(t, app, "t1", identity.RoleTeacher, fluency.C1)
	seedProfile(t, app, "s1", identity.RoleStudent, fluency.A1)

	teacher := identity.Caller{UserID: "t1", Role: identity.RoleTeacher}
	res, err := app.SetFluencyLevel.Handle(context.Background(), command.SetFluencyLevelCommand{
		Caller: teacher, UserID: "s1", Level: "A2",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Certificate)
	assert.Contains(t, res.Certificate.CertificateNumber, "-A2-000001")

	// The bus is asynchronous.
	require.Eventually(t, func() bool {
		c := app.Audit.Counts()
		return c[string(shared.EventFluencyLevelChanged)] == 1 && c[string(shared.EventCertificateIssued)] == 1
	}, time.Second, 10*time.Millisecond)

	m := app.Metrics()
	assert.Equal(t, "closed", m["store_breaker"])
	assert.Contains(t, m, "event_bus")
}

func TestNew_FeatureFlagsGateWiring(t *testing.T) {
	app := newApp(t, map[string]string{
		"FEATURE_SIGNUP_ENABLED":         "false",
		"FEATURE_CERTIFICATE_ISSUANCE":   "false",
		"FEATURE_FLUENCY_BULK_MIGRATION": "false",
		"FEATURE_FLUENCY_LAZY_MIGRATION": "false",
		"METRICS_ENABLED":                "false",
	})
	seedProfile(t, app, "t1", identity.RoleTeacher, fluency.C1)
	seedProfile(t, app, "s1", identity.RoleStudent, fluency.A1)

	assert.Nil(t, app.RegisterLearner)
	deps := app.HTTPDependencies()
	assert.Nil(t, deps.RegisterLearner)
	assert.Nil(t, deps.BulkMigrate)
	assert.Nil(t, deps.Metrics)

	res, err := app.SetFluencyLevel.Handle(context.Background(), command.SetFluencyLevelCommand{
		Caller: identity.Caller{UserID: "t1", Role: identity.RoleTeacher}, UserID: "s1", Level: "A2",
	})
	require.NoError(t, err)
	assert.Nil(t, res.Certificate)

	// Without lazy migration the read leaves the profile unmigrated.
	seedProfile(t, app, "s2", identity.RoleStudent, "")
	_, err = app.GetFluencyLevel.Handle(context.Background(), query.GetFluencyLevelQuery{UserID: "s2"})
	require.NoError(t, err)
	p, err := app.Profiles.Get(context.Background(), "s2")
	require.NoError(t, err)
	assert.False(t, p.HasLevel())
}

// splitByRollout returns one learner id inside and one outside the rollout
// of feature.
func splitByRollout(t *testing.T, app *App, feature, prefix string) (in, out string) {
	t.Helper()
	for i := 0; i < 200 && (in == "" || out == ""); i++ {
		id := fmt.Sprintf("%s%d", prefix, i)
		if app.Config.Features.EnabledFor(feature, id) {
			in = id
		} else {
			out = id
		}
	}
	require.NotEmpty(t, in)
	require.NotEmpty(t, out)
	return in, out
}

func TestNew_PartialRolloutIsPerLearner(t *testing.T) {
	app := newApp(t, map[string]string{
		"FEATURE_CERTIFICATE_ISSUANCE":   "50",
		"FEATURE_FLUENCY_LAZY_MIGRATION": "50",
	})
	ctx := context.Background()
	seedProfile(t, app, "t1", identity.RoleTeacher, fluency.C1)
	teacher := identity.Caller{UserID: "t1", Role: identity.RoleTeacher}

	in, out := splitByRollout(t, app, config.FeatureCertificateIssuance, "s")
	for _, id := range []string{in, out} {
		seedProfile(t, app, id, identity.RoleStudent, fluency.A1)
	}
	res, err := app.SetFluencyLevel.Handle(ctx, command.SetFluencyLevelCommand{Caller: teacher, UserID: in, Level: "A2"})
	require.NoError(t, err)
	assert.NotNil(t, res.Certificate)

	res, err = app.SetFluencyLevel.Handle(ctx, command.SetFluencyLevelCommand{Caller: teacher, UserID: out, Level: "A2"})
	require.NoError(t, err)
	assert.Nil(t, res.Certificate)
	assert.Equal(t, fluency.A2, res.NewLevel)

	in, out = splitByRollout(t, app, config.FeatureLazyMigration, "n")
	for _, id := range []string{in, out} {
		seedProfile(t, app, id, identity.RoleStudent, "")
	}
	for id, migrated := range map[string]bool{in: true, out: false} {
		dto, err := app.GetFluencyLevel.Handle(ctx, query.GetFluencyLevelQuery{UserID: id})
		require.NoError(t, err)
		assert.Equal(t, fluency.A1, dto.FluencyLevel)
		p, err := app.Profiles.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, migrated, p.HasLevel(), id)
	}
}

func TestNew_SkipIdentity(t *testing.T) {
	cfg, err := config.FromEnv()
	require.NoError(t, err)

	app, err := New(context.Background(), cfg, nil, nil, Options{SkipIdentity: true})
	require.NoError(t, err)
	defer app.Close()

	assert.Nil(t, app.Authenticator)
	assert.Nil(t, app.RegisterLearner)
	assert.NotNil(t, app.BulkMigrate)
}

func TestNew_UnreachablePostgresFails(t *testing.T) {
	cfg, err := config.FromEnv()
	require.NoError(t, err)
	cfg.Store.Backend = config.StorePostgres
	cfg.Database.URL = "postgres://u:p@127.0.0.1:1/db?sslmode=disable&connect_timeout=1"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = New(ctx, cfg, nil, nil, Options{})
	assert.ErrorContains(t, err, "connect to postgres")
}

func TestNewLogger(t *testing.T) {
	cfg, err := config.FromEnv()
	require.NoError(t, err)

	var buf bytes.Buffer
	NewLogger(cfg, &buf).Info("hello", logger.UserID("u1"))
	assert.Contains(t, buf.String(), `"user_id":"u1"`)
	assert.Contains(t, buf.String(), `"service"`)
}
