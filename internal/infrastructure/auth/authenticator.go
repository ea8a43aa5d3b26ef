package auth

import (
	"context"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/fluency"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/identity"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/shared"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/pkg/logger"
)

// ProfileAuthenticator resolves the token through a verifier and then lets
// the stored profile decide the role. Tokens of accounts without a profile
// keep the role from their claims.
type ProfileAuthenticator struct {
	verifier identity.Authenticator
	profiles fluency.ProfileRepository
	log      *logger.Logger
}

// NewProfileAuthenticator creates a new ProfileAuthenticator.
func NewProfileAuthenticator(verifier identity.Authenticator, profiles fluency.ProfileRepository, log *logger.Logger) *ProfileAuthenticator {
	if log == nil {
		log = logger.Nop()
	}
	return &ProfileAuthenticator{
		verifier: verifier,
		profiles: profiles,
		log:      log.With(logger.Component("authenticator")),
	}
}

// Authenticate implements identity.Authenticator.
func (a *ProfileAuthenticator) Authenticate(ctx context.Context, token string) (identity.Caller, error) {
	caller, err := a.verifier.Authenticate(ctx, token)
	if err != nil {
		return identity.Caller{}, err
	}

	profile, err := a.profiles.Get(ctx, caller.UserID)
	switch {
	case err == nil:
		caller.Role = profile.EffectiveRole()
		if profile.Name != "" {
			caller.Name = profile.Name
		}
		if caller.Email == "" {
			caller.Email = profile.Email
		}
	case shared.IsNotFound(err):
	default:
		// Fail closed: the claim role only applies when no profile exists.
		a.log.Warn("profile lookup failed during authentication", logger.UserID(caller.UserID), logger.Err(err))
		return identity.Caller{}, err
	}
	return caller, nil
}
