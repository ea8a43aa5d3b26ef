//go:build integration

package bootstrap

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/config"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/application/command"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/fluency"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/identity"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/shared"
)

func TestPostgres_ConcurrentLevelChangesBeyondPoolSize_Integration(t *testing.T) {
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("dla_test"),
		tcpostgres.WithUsername("dla_test"),
		tcpostgres.WithPassword("dla_test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cfg, err := config.FromEnv()
	require.NoError(t, err)
	cfg.Store.Backend = config.StorePostgres
	cfg.Database.URL = dsn
	cfg.Database.MaxConns = 2
	cfg.Database.MinConns = 0
	cfg.Database.LockConns = 1
	cfg.Database.AutoMigrate = true

	app, err := New(ctx, cfg, nil, nil, Options{SkipIdentity: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	seedProfile(t, app, "t1", identity.RoleTeacher, fluency.C1)
	seedProfile(t, app, "s1", identity.RoleStudent, fluency.A1)

	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	const requests = 12
	errs := make(chan error, requests)
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := app.SetFluencyLevel.Handle(runCtx, command.SetFluencyLevelCommand{
				Caller: identity.Caller{UserID: "t1", Role: identity.RoleTeacher},
				UserID: "s1",
				Level:  "A2",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	require.NoError(t, runCtx.Err(), "level changes did not finish")

	// A1 to A2 is accepted once; every later request sees A2 and is rejected.
	accepted := 0
	for err := range errs {
		if err == nil {
			accepted++
			continue
		}
		assert.ErrorIs(t, err, shared.ErrInvalidTransition)
	}
	assert.Equal(t, 1, accepted)

	p, err := app.Profiles.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, fluency.A2, p.FluencyLevel)

	entries, err := app.History.ListForUser(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, fluency.A2, entries[0].NewLevel)

	certs, err := app.Certificates.ListForUser(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, certs, 1)

	// Bulk migration runs its workers against the same small pools.
	for _, id := range []string{"n1", "n2", "n3", "n4", "n5", "n6", "n7", "n8", "n9", "n10"} {
		seedProfile(t, app, id, identity.RoleStudent, "")
	}
	res, err := app.BulkMigrate.Handle(runCtx, command.BulkMigrateCommand{Caller: identity.System()})
	require.NoError(t, err)
	assert.Equal(t, 10, res.MigratedCount)
	assert.Zero(t, res.FailedCount)
}
