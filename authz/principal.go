package authz

import (
	"context"
	"strings"

	"ara/core"
)

// Principal is the authenticated caller together with the authorities computed for it.
type Principal struct {
	UserID       int64            `json:"user_id"`
	Login        string           `json:"login"`
	ProviderName string           `json:"provider_name"`
	Profile      core.UserProfile `json:"profile"`
	Authorities  Authorities      `json:"authorities"`
}

// NewPrincipal computes a fresh principal for user.
func NewPrincipal(user *core.User) Principal {
	return Principal{
		UserID:       user.ID,
		Login:        user.Login,
		ProviderName: user.ProviderName,
		Profile:      user.Profile,
		Authorities:  RecomputeAuthorities(user.Profile, user),
	}
}

// Validate checks the identity fields required to act on the caller's own account.
func (p *Principal) Validate() error {
	if p == nil {
		return core.NewBadRequest(core.ResourceUser, core.KeyUserAuthentication, "user is not authenticated")
	}
	if strings.TrimSpace(p.Login) == "" {
		return core.NewBadRequest(core.ResourceUser, core.KeyUserAuthentication, "authenticated user has no login")
	}
	if strings.TrimSpace(p.ProviderName) == "" {
		return core.NewBadRequest(core.ResourceUser, core.KeyUserAuthentication, "authenticated user has no provider")
	}
	return nil
}

// IsSuperAdmin reports whether the principal holds the SUPER_ADMIN authority.
func (p Principal) IsSuperAdmin() bool {
	return p.Authorities.Has(ProfileAuthority(core.ProfileSuperAdmin))
}

// IsAuditor reports whether the principal holds the AUDITOR authority.
func (p Principal) IsAuditor() bool {
	return p.Authorities.Has(ProfileAuthority(core.ProfileAuditor))
}

// RoleOn returns the role granted on projectCode by the principal's authorities.
func (p Principal) RoleOn(projectCode string) (core.ScopeRole, bool) {
	for _, a := range p.Authorities {
		code, role, ok := ParseScopeAuthority(a)
		if ok && code == projectCode {
			return role, true
		}
	}
	return "", false
}

// ProjectCodes returns the codes of the projects the principal is scoped on.
func (p Principal) ProjectCodes() []string {
	var codes []string
	for _, a := range p.Authorities {
		if code, _, ok := ParseScopeAuthority(a); ok {
			codes = append(codes, code)
		}
	}
	return codes
}

// CanRead reports whether the principal may read the project's data.
func (p Principal) CanRead(projectCode string) bool {
	if p.IsSuperAdmin() || p.IsAuditor() {
		return true
	}
	_, ok := p.RoleOn(projectCode)
	return ok
}

// CanWrite reports whether the principal may modify the project's data.
// Auditors are read-only.
func (p Principal) CanWrite(projectCode string) bool {
	if p.IsSuperAdmin() {
		return true
	}
	role, ok := p.RoleOn(projectCode)
	return ok && role.AtLeast(core.RoleMaintainer)
}

// CanAdminister reports whether the principal may manage the project's members and settings.
func (p Principal) CanAdminister(projectCode string) bool {
	if p.IsSuperAdmin() {
		return true
	}
	role, ok := p.RoleOn(projectCode)
	return ok && role == core.RoleAdmin
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom extracts the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	if !ok {
		return nil, false
	}
	return &p, true
}
