package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ara/authz"
	"ara/core"
	"ara/metrics"
	"ara/storage"

	"go.uber.org/zap"
)

// UserStorage defines user persistence needed by UserScopeServiceImpl.
type UserStorage interface {
	GetUser(ctx context.Context, login, providerName string) (*core.User, error)
	SaveUser(ctx context.Context, user *core.User) error
	MutateUser(ctx context.Context, login, providerName string, mutate storage.UserMutation) (*core.User, error)
	ListUsers(ctx context.Context, providerName string) ([]core.User, error)
}

// ProjectDirectory is the project lookup used by UserScopeServiceImpl.
type ProjectDirectory interface {
	ProjectResolver
	List(ctx context.Context) ([]core.Project, error)
}

// Standard claim names looked up at login
const (
	ClaimEmail      = "email"
	ClaimGivenName  = "given_name"
	ClaimFamilyName = "family_name"
	ClaimPicture    = "picture"
)

// OIDCClaims holds the standard claims exposed by an OpenID Connect ID token.
type OIDCClaims struct {
	Email      string
	GivenName  string
	FamilyName string
	Picture    string
}

func (c *OIDCClaims) get(claim string) string {
	if c == nil {
		return ""
	}
	switch claim {
	case ClaimEmail:
		return c.Email
	case ClaimGivenName:
		return c.GivenName
	case ClaimFamilyName:
		return c.FamilyName
	case ClaimPicture:
		return c.Picture
	default:
		return ""
	}
}

// LoginIdentity is what an identity provider tells about the user logging in.
// OIDC is nil for plain OAuth2 providers.
type LoginIdentity struct {
	Login      string
	OIDC       *OIDCClaims
	Attributes map[string]any
}

// UserScopeServiceImpl manages user accounts and their project scopes.
//
// AUTHORITIES:
// Authorities are recomputed from the persisted profile and scopes after every change and
// returned in a new authz.Principal. Nothing is cached: the caller installs the returned
// principal (the API layer re-issues the session token with it).
type UserScopeServiceImpl struct {
	users    UserStorage
	projects ProjectDirectory
	setup    *ProviderSetup
	logger   *zap.SugaredLogger
}

// NewUserScopeService creates the service. A nil setup disables login templates.
func NewUserScopeService(users UserStorage, projects ProjectDirectory, setup *ProviderSetup, logger *zap.SugaredLogger) *UserScopeServiceImpl {
	if users == nil {
		panic("users is required")
	}
	if projects == nil {
		panic("projects is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	if setup == nil {
		setup = &ProviderSetup{}
	}
	return &UserScopeServiceImpl{users: users, projects: projects, setup: setup, logger: logger}
}

// UpdateScope grants the calling user role on projectCode, replacing any role it already
// holds there, and returns the principal with recomputed authorities.
func (s *UserScopeServiceImpl) UpdateScope(ctx context.Context, principal *authz.Principal, projectCode string, role core.ScopeRole) (authz.Principal, error) {
	project, err := s.checkScopeRequest(ctx, projectCode, &role)
	if err != nil {
		return authz.Principal{}, err
	}
	if err := principal.Validate(); err != nil {
		return authz.Principal{}, err
	}
	user, err := s.mutate(ctx, principal.Login, principal.ProviderName, "update_scope", func(user *core.User) error {
		setScope(user, project, role)
		return nil
	})
	if err != nil {
		return authz.Principal{}, err
	}

	s.logger.Infow("Scope updated", "action", "update_scope", "outcome", "success",
		"username", user.Login, "project", project.Code, "role", role)
	return authz.NewPrincipal(user), nil
}

// RemoveScope withdraws the calling user's scope on projectCode.
// It fails without writing anything if the user has no scope there.
func (s *UserScopeServiceImpl) RemoveScope(ctx context.Context, principal *authz.Principal, projectCode string) (authz.Principal, error) {
	project, err := s.checkScopeRequest(ctx, projectCode, nil)
	if err != nil {
		return authz.Principal{}, err
	}
	if err := principal.Validate(); err != nil {
		return authz.Principal{}, err
	}
	user, err := s.mutate(ctx, principal.Login, principal.ProviderName, "remove_scope", func(user *core.User) error {
		if !removeScope(user, project.Code) {
			return core.NewBadRequest(core.ResourceUser, core.KeyProjectNotInScopes,
				fmt.Sprintf("project %s is not in the user scopes", project.Code))
		}
		return nil
	})
	if err != nil {
		return authz.Principal{}, err
	}

	s.logger.Infow("Scope removed", "action", "remove_scope", "outcome", "success",
		"username", user.Login, "project", project.Code)
	return authz.NewPrincipal(user), nil
}

// ManageUserAtLogin finds or creates the user behind identity and returns its principal.
//
// BUSINESS LOGIC:
// 1. A known (login, provider) user keeps its profile and scopes; its claims are refreshed
// 2. Otherwise the provider's login template, if any, gives the profile and scopes
// 3. Otherwise a SCOPED_USER without scopes is created
// The user is persisted in every case.
func (s *UserScopeServiceImpl) ManageUserAtLogin(ctx context.Context, identity LoginIdentity, providerName string) (authz.Principal, error) {
	login := strings.TrimSpace(identity.Login)
	if login == "" || strings.TrimSpace(providerName) == "" {
		return authz.Principal{}, core.NewBadRequest(core.ResourceUser, core.KeyUserAuthentication,
			"login and provider are required")
	}

	custom := s.setup.CustomAttributes(providerName)
	refresh := func(user *core.User) error {
		applyClaims(user, identity, custom)
		return nil
	}

	// Known users are refreshed in place so a concurrent scope change is not overwritten
	source := "existing"
	user, err := s.users.MutateUser(ctx, login, providerName, refresh)
	if errors.Is(err, storage.ErrUserNotFound) {
		var matched bool
		user, matched, err = s.setup.MatchTemplate(ctx, providerName, login, s.projects)
		if err != nil {
			return authz.Principal{}, fmt.Errorf("failed to apply login template: %w", err)
		}
		source = "template"
		if !matched {
			user = &core.User{Login: login, ProviderName: providerName, Profile: core.ProfileScopedUser}
			source = "new"
		}
		applyClaims(user, identity, custom)
		err = s.users.SaveUser(ctx, user)
	}
	if err != nil {
		return authz.Principal{}, fmt.Errorf("failed to save user: %w", err)
	}

	metrics.Logins.WithLabelValues(providerName, source).Inc()
	s.logger.Infow("User logged in", "action", "login", "outcome", "success",
		"username", login, "provider", providerName, "source", source)
	return authz.NewPrincipal(user), nil
}

// applyClaims copies the identity's profile claims onto user, keeping values the
// provider did not send
func applyClaims(user *core.User, identity LoginIdentity, custom map[string]string) {
	if v := claimValue(identity, custom, ClaimEmail); v != "" {
		user.Email = v
	}
	if v := claimValue(identity, custom, ClaimGivenName); v != "" {
		user.FirstName = v
	}
	if v := claimValue(identity, custom, ClaimFamilyName); v != "" {
		user.LastName = v
	}
	if v := claimValue(identity, custom, ClaimPicture); v != "" {
		user.PictureURL = v
	}
}

// claimValue resolves a claim from the OIDC token, then the attribute of the same name,
// then the provider's custom attribute for it.
func claimValue(identity LoginIdentity, custom map[string]string, claim string) string {
	if v := strings.TrimSpace(identity.OIDC.get(claim)); v != "" {
		return v
	}
	if v := attributeString(identity.Attributes, claim); v != "" {
		return v
	}
	if name, ok := custom[claim]; ok {
		return attributeString(identity.Attributes, name)
	}
	return ""
}

func attributeString(attributes map[string]any, name string) string {
	if s, ok := attributes[name].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// GetCurrentUser returns the persisted account of the principal
func (s *UserScopeServiceImpl) GetCurrentUser(ctx context.Context, principal *authz.Principal) (*core.User, error) {
	return s.currentUser(ctx, principal)
}

// ResolvePrincipal recomputes the principal of an authenticated identity from the stored
// profile and scopes, so changes made by anyone since the token was issued apply at once.
func (s *UserScopeServiceImpl) ResolvePrincipal(ctx context.Context, login, providerName string) (authz.Principal, error) {
	identity := authz.Principal{Login: login, ProviderName: providerName}
	user, err := s.currentUser(ctx, &identity)
	if err != nil {
		return authz.Principal{}, err
	}
	return authz.NewPrincipal(user), nil
}

// UpdateUserProfile changes the profile of another user of the caller's provider.
// Only a super admin may do it, and never on their own account.
func (s *UserScopeServiceImpl) UpdateUserProfile(ctx context.Context, principal *authz.Principal, login string, profile core.UserProfile) (*core.User, error) {
	if err := principal.Validate(); err != nil {
		return nil, err
	}
	if !principal.IsSuperAdmin() {
		return nil, core.NewForbidden(core.ResourceUser, "only a super admin can change user profiles")
	}
	if !profile.IsValid() {
		return nil, core.NewBadRequest(core.ResourceUser, core.KeyValidation, "profile must be SUPER_ADMIN, AUDITOR or SCOPED_USER")
	}
	if login == principal.Login {
		return nil, core.NewBadRequest(core.ResourceUser, core.KeyProfileUnchangeable, "you cannot change your own profile")
	}

	user, err := s.mutate(ctx, login, principal.ProviderName, "update_profile", func(user *core.User) error {
		user.Profile = profile
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Infow("User profile updated", "action", "update_profile", "outcome", "success",
		"username", principal.Login, "target", login, "profile", profile)
	return user, nil
}

// UpdateDefaultProject sets the project shown after login; an empty code clears it
func (s *UserScopeServiceImpl) UpdateDefaultProject(ctx context.Context, principal *authz.Principal, projectCode string) (*core.User, error) {
	if err := principal.Validate(); err != nil {
		return nil, err
	}

	projectCode = strings.TrimSpace(projectCode)
	if projectCode != "" {
		if _, err := s.projects.FindByCode(ctx, projectCode); err != nil {
			return nil, err
		}
		if !principal.CanRead(projectCode) {
			return nil, core.NewForbidden(core.ResourceProject, fmt.Sprintf("no access to project %s", projectCode))
		}
	}

	return s.mutate(ctx, principal.Login, principal.ProviderName, "update_default_project", func(user *core.User) error {
		user.DefaultProjectCode = projectCode
		return nil
	})
}

// ListUsers returns the users of the caller's provider
func (s *UserScopeServiceImpl) ListUsers(ctx context.Context, principal *authz.Principal) ([]core.User, error) {
	if err := principal.Validate(); err != nil {
		return nil, err
	}
	users, err := s.users.ListUsers(ctx, principal.ProviderName)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// ListScopedUsers returns the scoped users of the caller's provider, optionally only those
// holding role and/or a scope on projectCode.
func (s *UserScopeServiceImpl) ListScopedUsers(ctx context.Context, principal *authz.Principal, role core.ScopeRole, projectCode string) ([]core.User, error) {
	if role != "" && !role.IsValid() {
		return nil, core.NewBadRequest(core.ResourceUser, core.KeyRoleMissing, "role must be ADMIN, MAINTAINER or MEMBER")
	}
	users, err := s.ListUsers(ctx, principal)
	if err != nil {
		return nil, err
	}

	filtered := make([]core.User, 0)
	for _, u := range users {
		if u.Profile != core.ProfileScopedUser {
			continue
		}
		if role == "" && projectCode == "" {
			filtered = append(filtered, u)
			continue
		}
		for _, scope := range u.Scopes {
			if (role == "" || scope.Role == role) && (projectCode == "" || scope.ProjectCode == projectCode) {
				filtered = append(filtered, u)
				break
			}
		}
	}
	return filtered, nil
}

// CurrentUserProjects lists every project for super admins and auditors,
// and the scoped projects for everyone else.
func (s *UserScopeServiceImpl) CurrentUserProjects(ctx context.Context, principal *authz.Principal) ([]core.Project, error) {
	if err := principal.Validate(); err != nil {
		return nil, err
	}
	all, err := s.projects.List(ctx)
	if err != nil {
		return nil, err
	}
	if principal.IsSuperAdmin() || principal.IsAuditor() {
		return all, nil
	}

	projects := make([]core.Project, 0)
	for _, p := range all {
		if _, ok := principal.RoleOn(p.Code); ok {
			projects = append(projects, p)
		}
	}
	return projects, nil
}

// UpdateUserScope grants role on projectCode to another scoped user.
// The caller must administer the project.
func (s *UserScopeServiceImpl) UpdateUserScope(ctx context.Context, principal *authz.Principal, login, projectCode string, role core.ScopeRole) (*core.User, error) {
	project, err := s.checkScopeRequest(ctx, projectCode, &role)
	if err != nil {
		return nil, err
	}
	if err := s.checkMemberManager(principal, project.Code); err != nil {
		return nil, err
	}
	user, err := s.mutate(ctx, login, principal.ProviderName, "update_user_scope", func(user *core.User) error {
		if err := checkScopable(user); err != nil {
			return err
		}
		setScope(user, project, role)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Infow("User scope updated", "action", "update_user_scope", "outcome", "success",
		"username", principal.Login, "target", login, "project", project.Code, "role", role)
	return user, nil
}

// RemoveUserScope withdraws another user's scope on projectCode
func (s *UserScopeServiceImpl) RemoveUserScope(ctx context.Context, principal *authz.Principal, login, projectCode string) (*core.User, error) {
	project, err := s.checkScopeRequest(ctx, projectCode, nil)
	if err != nil {
		return nil, err
	}
	if err := s.checkMemberManager(principal, project.Code); err != nil {
		return nil, err
	}
	user, err := s.mutate(ctx, login, principal.ProviderName, "remove_user_scope", func(user *core.User) error {
		if err := checkScopable(user); err != nil {
			return err
		}
		if !removeScope(user, project.Code) {
			return core.NewBadRequest(core.ResourceUser, core.KeyProjectNotInScopes,
				fmt.Sprintf("project %s is not in the scopes of %s", project.Code, login))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Infow("User scope removed", "action", "remove_user_scope", "outcome", "success",
		"username", principal.Login, "target", login, "project", project.Code)
	return user, nil
}

// checkScopeRequest validates the project code and role (when given) and loads the project
func (s *UserScopeServiceImpl) checkScopeRequest(ctx context.Context, projectCode string, role *core.ScopeRole) (*core.Project, error) {
	projectCode = strings.TrimSpace(projectCode)
	if projectCode == "" {
		return nil, core.NewBadRequest(core.ResourceProject, core.KeyProjectCodeBlank, "project code is required")
	}
	if role != nil && !role.IsValid() {
		return nil, core.NewBadRequest(core.ResourceUser, core.KeyRoleMissing, "role must be ADMIN, MAINTAINER or MEMBER")
	}
	return s.projects.FindByCode(ctx, projectCode)
}

// currentUser loads the account behind the principal
func (s *UserScopeServiceImpl) currentUser(ctx context.Context, principal *authz.Principal) (*core.User, error) {
	if err := principal.Validate(); err != nil {
		return nil, err
	}
	return s.findUser(ctx, principal.Login, principal.ProviderName)
}

// checkMemberManager verifies the principal may manage the members of projectCode
func (s *UserScopeServiceImpl) checkMemberManager(principal *authz.Principal, projectCode string) error {
	if err := principal.Validate(); err != nil {
		return err
	}
	if !principal.CanAdminister(projectCode) {
		return core.NewForbidden(core.ResourceUser, fmt.Sprintf("you cannot manage the members of %s", projectCode))
	}
	return nil
}

// checkScopable rejects users whose global profile makes scopes meaningless
func checkScopable(user *core.User) error {
	if user.Profile != core.ProfileScopedUser {
		return core.NewBadRequest(core.ResourceUser, core.KeyValidation,
			fmt.Sprintf("%s has the %s profile and cannot hold scopes", user.Login, user.Profile))
	}
	return nil
}

func (s *UserScopeServiceImpl) findUser(ctx context.Context, login, providerName string) (*core.User, error) {
	user, err := s.users.GetUser(ctx, login, providerName)
	if errors.Is(err, storage.ErrUserNotFound) {
		return nil, core.NewNotFound(core.ResourceUser, fmt.Sprintf("user %s not found", login))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

// mutate applies fn to the stored user inside one storage transaction.
// Business rule failures returned by fn are counted as rejected and nothing is written.
func (s *UserScopeServiceImpl) mutate(ctx context.Context, login, providerName, operation string, fn storage.UserMutation) (*core.User, error) {
	user, err := s.users.MutateUser(ctx, login, providerName, fn)
	var appErr *core.AppError
	switch {
	case err == nil:
		metrics.ScopeChanges.WithLabelValues(operation, "success").Inc()
		return user, nil
	case errors.Is(err, storage.ErrUserNotFound):
		metrics.ScopeChanges.WithLabelValues(operation, "rejected").Inc()
		return nil, core.NewNotFound(core.ResourceUser, fmt.Sprintf("user %s not found", login))
	case errors.As(err, &appErr):
		metrics.ScopeChanges.WithLabelValues(operation, "rejected").Inc()
		return nil, err
	default:
		metrics.ScopeChanges.WithLabelValues(operation, "failure").Inc()
		return nil, fmt.Errorf("failed to save user: %w", err)
	}
}

// setScope updates the assignment matched by project code, or appends one
func setScope(user *core.User, project *core.Project, role core.ScopeRole) {
	if i := user.FindScope(project.Code); i >= 0 {
		user.Scopes[i].Role = role
		return
	}
	user.Scopes = append(user.Scopes, core.ScopeAssignment{
		UserID:      user.ID,
		ProjectID:   project.ID,
		ProjectCode: project.Code,
		ProjectName: project.Name,
		Role:        role,
	})
}

func removeScope(user *core.User, projectCode string) bool {
	i := user.FindScope(projectCode)
	if i < 0 {
		return false
	}
	user.Scopes = append(user.Scopes[:i:i], user.Scopes[i+1:]...)
	return true
}
