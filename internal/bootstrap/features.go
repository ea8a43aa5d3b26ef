package bootstrap

import (
	"context"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/config"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/application/command"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/application/query"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/fluency"
)

// rolloutIssuer issues certificates only for learners inside the
// certificate.issuance rollout. Upgrades of other learners succeed without one.
type rolloutIssuer struct {
	next  command.CertificateIssuer
	flags *config.FeatureFlags
}

func (r rolloutIssuer) Handle(ctx context.Context, cmd command.IssueCertificateCommand) (*command.IssueCertificateResult, error) {
	if !r.flags.EnabledFor(config.FeatureCertificateIssuance, cmd.UserID) {
		return &command.IssueCertificateResult{}, nil
	}
	return r.next.Handle(ctx, cmd)
}

// rolloutInitializer migrates on read only for learners inside the
// fluency.lazy_migration rollout. Other profiles are returned as stored.
type rolloutInitializer struct {
	next     query.LazyInitializer
	profiles fluency.ProfileRepository
	flags    *config.FeatureFlags
}

func (r rolloutInitializer) InitializeLazily(ctx context.Context, userID string) (*fluency.Profile, error) {
	if !r.flags.EnabledFor(config.FeatureLazyMigration, userID) {
		return r.profiles.Get(ctx, userID)
	}
	return r.next.InitializeLazily(ctx, userID)
}
