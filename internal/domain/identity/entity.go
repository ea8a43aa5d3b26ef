// Package identity models who is calling the system and what they may do.
//
// Authentication itself is delegated to an external provider; this package only
// holds the resolved Caller, the closed set of roles and the single role guard
// used by every privileged operation.
package identity

import (
	"context"
	"strings"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROLES
// ══════════════════════════════════════════════════════════════════════════════

// Role is the application role of an account.
type Role string

const (
	// RoleStudent is the default role of every learner.
	RoleStudent Role = "student"

	// RoleTeacher administers fluency levels.
	RoleTeacher Role = "teacher"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	return r == RoleStudent || r == RoleTeacher
}

// String returns the role code.
func (r Role) String() string {
	return string(r)
}

// ParseRole normalizes s into a Role. Unknown or empty values fall back to RoleStudent.
func ParseRole(s string) Role {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return RoleStudent
	}
	return r
}

// ══════════════════════════════════════════════════════════════════════════════
// CALLER
// ══════════════════════════════════════════════════════════════════════════════

// Caller is an authenticated principal.
type Caller struct {
	UserID string
	Email  string
	Name   string
	Role   Role
}

// IsTeacher reports whether the caller holds the teacher role.
func (c Caller) IsTeacher() bool {
	return c.Role == RoleTeacher
}

// System returns the caller used for automatic changes (signup, lazy migration).
func System() Caller {
	return Caller{
		UserID: shared.SystemActorID,
		Name:   shared.SystemActorName,
		Role:   RoleTeacher,
	}
}

// RequireRole returns ErrTeacherRoleRequired unless c holds role.
func RequireRole(c Caller, role Role) error {
	if c.UserID == "" {
		return shared.ErrMissingToken
	}
	if c.Role != role {
		return shared.ErrTeacherRoleRequired
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROVIDER INTERFACES
// Implemented in infrastructure/auth and infrastructure/external/supabase.
// ══════════════════════════════════════════════════════════════════════════════

// Authenticator resolves a bearer token into a Caller.
type Authenticator interface {
	// Authenticate returns ErrMissingToken or ErrInvalidToken on failure.
	Authenticate(ctx context.Context, token string) (Caller, error)
}

// NewAccount describes an account to be created at the identity provider.
type NewAccount struct {
	Email    string
	Password string
	Name     string
	Role     Role
}

// Provisioner creates accounts at the identity provider.
type Provisioner interface {
	// CreateAccount returns the provider-assigned user ID.
	// Returns ErrIdentityExists when the email is taken.
	CreateAccount(ctx context.Context, account NewAccount) (string, error)
}
