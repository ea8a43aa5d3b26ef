package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/identity"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LOCAL IDENTITY PROVIDER
// An in-process stand-in for the hosted identity service. Accounts live in
// memory with bcrypt password hashes; tokens are signed by the JWTVerifier so
// they authenticate like provider tokens.
// ══════════════════════════════════════════════════════════════════════════════

type localAccount struct {
	id           string
	passwordHash []byte
	name         string
	role         identity.Role
}

// LocalIdentityProvider implements identity.Provisioner and SignIn.
type LocalIdentityProvider struct {
	verifier *JWTVerifier
	cost     int

	mu       sync.RWMutex
	accounts map[string]*localAccount // by email
}

// NewLocalIdentityProvider creates a provider issuing tokens with verifier.
// A cost of 0 uses bcrypt.DefaultCost.
func NewLocalIdentityProvider(verifier *JWTVerifier, cost int) *LocalIdentityProvider {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &LocalIdentityProvider{
		verifier: verifier,
		cost:     cost,
		accounts: make(map[string]*localAccount),
	}
}

// CreateAccount implements identity.Provisioner.
func (p *LocalIdentityProvider) CreateAccount(_ context.Context, account identity.NewAccount) (string, error) {
	email := strings.ToLower(strings.TrimSpace(account.Email))

	hash, err := bcrypt.GenerateFromPassword([]byte(account.Password), p.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.accounts[email]; ok {
		return "", shared.ErrIdentityExists
	}
	id := uuid.NewString()
	p.accounts[email] = &localAccount{
		id:           id,
		passwordHash: hash,
		name:         account.Name,
		role:         account.Role,
	}
	return id, nil
}

// SignIn checks the password and returns a signed access token.
func (p *LocalIdentityProvider) SignIn(_ context.Context, email, password string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	p.mu.RLock()
	acc, ok := p.accounts[email]
	p.mu.RUnlock()
	if !ok {
		return "", shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(password)); err != nil {
		return "", shared.ErrInvalidCredentials
	}

	return p.verifier.Issue(identity.Caller{
		UserID: acc.id,
		Email:  email,
		Name:   acc.name,
		Role:   acc.role,
	})
}

// Ping implements a health check; the local provider is always up.
func (p *LocalIdentityProvider) Ping(context.Context) error {
	return nil
}
