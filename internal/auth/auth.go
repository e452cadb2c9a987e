// Package auth resolves bearer tokens presented over the socket to
// principals and enforces the role gate for agent operations.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"

	apperrors "github.com/relaydesk/relaydesk/internal/common/errors"
	"github.com/relaydesk/relaydesk/internal/store"
)

// Role values recognized by the gate.
const (
	RoleAgent = "agent"
	RoleAdmin = "admin"
)

// Principal is an authenticated agent or admin.
type Principal struct {
	UserID      string   `json:"userId"`
	Email       string   `json:"email,omitempty"`
	Name        string   `json:"name,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions,omitempty"`
}

// HasRole reports whether the principal carries the role.
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// CanOperate reports whether the principal may take agent actions.
func (p *Principal) CanOperate() bool {
	return p.HasRole(RoleAgent) || p.HasRole(RoleAdmin)
}

// Authenticator validates tokens against the user store, with an optional
// deployment-level admin secret as a break-glass credential.
type Authenticator struct {
	store       store.Gateway
	adminSecret string
}

// New creates an Authenticator. adminSecret may be empty to disable the
// shared-secret path.
func New(st store.Gateway, adminSecret string) *Authenticator {
	return &Authenticator{store: st, adminSecret: adminSecret}
}

// Authenticate resolves a token to a principal. The admin secret is checked
// first so it keeps working when the user store is unreachable.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, apperrors.Unauthorized("missing token")
	}

	if a.adminSecret != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(a.adminSecret)) == 1 {
		return &Principal{
			UserID: "admin",
			Name:   "Administrator",
			Roles:  []string{RoleAdmin, RoleAgent},
		}, nil
	}

	user, err := a.store.GetUserByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.Unauthorized("invalid token")
	}
	if err != nil {
		return nil, err
	}

	if user.AccountStatus != "active" {
		return nil, apperrors.Forbidden("account is not active")
	}

	principal := &Principal{
		UserID:      user.UserID,
		Email:       user.Email,
		Name:        user.Name,
		Roles:       user.Roles,
		Permissions: user.Permissions,
	}
	if !principal.CanOperate() {
		return nil, apperrors.Forbidden("agent or admin role required")
	}
	return principal, nil
}
