// Package auth resolves bearer tokens into callers and provides a local
// identity provider for development.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/identity"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/shared"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLAIMS
// Supabase access tokens carry the account id in sub and the signup metadata
// in user_metadata.
// ══════════════════════════════════════════════════════════════════════════════

// UserMetadata is the user_metadata claim.
type UserMetadata struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

// Claims are the access token claims read by the verifier.
type Claims struct {
	Email        string       `json:"email,omitempty"`
	UserMetadata UserMetadata `json:"user_metadata"`
	jwt.RegisteredClaims
}

// DefaultAudience is the audience Supabase puts on user access tokens.
const DefaultAudience = "authenticated"

// ══════════════════════════════════════════════════════════════════════════════
// VERIFIER
// ══════════════════════════════════════════════════════════════════════════════

// JWTVerifierConfig configures a JWTVerifier.
type JWTVerifierConfig struct {
	// Secret is the HS256 signing secret shared with the identity provider.
	Secret string

	// Issuer and Audience are checked when non-empty.
	Issuer   string
	Audience string

	Leeway time.Duration

	// TokenTTL is the lifetime of tokens created by Issue.
	TokenTTL time.Duration

	Clock timeutil.Clock
}

// JWTVerifier implements identity.Authenticator for HS256 tokens.
type JWTVerifier struct {
	secret []byte
	cfg    JWTVerifierConfig
	parser *jwt.Parser
}

// NewJWTVerifier creates a verifier. The secret must not be empty.
func NewJWTVerifier(cfg JWTVerifierConfig) (*JWTVerifier, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.SystemClock{}
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithTimeFunc(cfg.Clock.Now),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &JWTVerifier{
		secret: []byte(cfg.Secret),
		cfg:    cfg,
		parser: jwt.NewParser(opts...),
	}, nil
}

// Authenticate verifies token and returns the caller it names. The role comes
// from user_metadata and defaults to student.
func (v *JWTVerifier) Authenticate(_ context.Context, token string) (identity.Caller, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return identity.Caller{}, shared.ErrMissingToken
	}

	claims := &Claims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return identity.Caller{}, shared.ErrInvalidToken.Wrap(err)
	}
	if !parsed.Valid || !shared.ValidID(claims.Subject) {
		return identity.Caller{}, shared.ErrInvalidToken
	}

	return identity.Caller{
		UserID: claims.Subject,
		Email:  claims.Email,
		Name:   claims.UserMetadata.Name,
		Role:   identity.ParseRole(claims.UserMetadata.Role),
	}, nil
}

// Issue signs a token for caller. Used by the local identity provider and tests.
func (v *JWTVerifier) Issue(caller identity.Caller) (string, error) {
	now := v.cfg.Clock.Now()
	claims := Claims{
		Email: caller.Email,
		UserMetadata: UserMetadata{
			Name: caller.Name,
			Role: caller.Role.String(),
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.UserID,
			Issuer:    v.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.cfg.TokenTTL)),
		},
	}
	if v.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{v.cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
