package service

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"ara/core"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed provider_setup.schema.json
var providerSetupSchema string

// ProviderSetup is the per-provider configuration consulted when an unknown user logs in.
type ProviderSetup struct {
	Providers []ProviderConfig `yaml:"providers"`
}

type ProviderConfig struct {
	Registration string      `yaml:"registration"`
	Users        UsersConfig `yaml:"users"`
}

type UsersConfig struct {
	CreateNewProjectOnInit bool `yaml:"create_new_project_on_init"`
	// CustomAttributes maps a standard claim (email, given_name, family_name, picture)
	// to the attribute name this provider uses instead.
	CustomAttributes map[string]string `yaml:"custom_attributes"`
	Profiles         []UserTemplate    `yaml:"profiles"`
}

// UserTemplate predefines the profile and scopes of a login
type UserTemplate struct {
	Login   string          `yaml:"login"`
	Profile string          `yaml:"profile"`
	Scopes  []ScopeTemplate `yaml:"scopes"`
}

type ScopeTemplate struct {
	Scope    string   `yaml:"scope"`
	Projects []string `yaml:"projects"`
}

// ProjectResolver finds a project by code and creates missing ones
type ProjectResolver interface {
	FindByCode(ctx context.Context, code string) (*core.Project, error)
	Create(ctx context.Context, project *core.Project) (*core.Project, error)
}

// LoadProviderSetup reads and validates a provider setup file.
// An empty path yields an empty setup.
func LoadProviderSetup(path string) (*ProviderSetup, error) {
	if path == "" {
		return &ProviderSetup{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider setup %s: %w", path, err)
	}
	return ParseProviderSetup(data)
}

// ParseProviderSetup decodes YAML and validates it against the embedded JSON schema
func ParseProviderSetup(data []byte) (*ProviderSetup, error) {
	var document any
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("invalid provider setup YAML: %w", err)
	}
	if document == nil {
		return &ProviderSetup{}, nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(providerSetupSchema),
		gojsonschema.NewGoLoader(document),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to validate provider setup: %w", err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return nil, fmt.Errorf("invalid provider setup: %s", strings.Join(problems, "; "))
	}

	var setup ProviderSetup
	if err := yaml.Unmarshal(data, &setup); err != nil {
		return nil, fmt.Errorf("failed to decode provider setup: %w", err)
	}
	return &setup, nil
}

// Provider returns the configuration registered under name, or nil
func (ps *ProviderSetup) Provider(name string) *ProviderConfig {
	if ps == nil {
		return nil
	}
	for i := range ps.Providers {
		if ps.Providers[i].Registration == name {
			return &ps.Providers[i]
		}
	}
	return nil
}

// CustomAttributes returns the claim renames of a provider, never nil
func (ps *ProviderSetup) CustomAttributes(providerName string) map[string]string {
	if p := ps.Provider(providerName); p != nil && p.Users.CustomAttributes != nil {
		return p.Users.CustomAttributes
	}
	return map[string]string{}
}

// MatchTemplate builds a new user from the template of login, if the provider defines one.
//
// Only scoped users get scopes. When a project is listed under several roles the highest
// role wins. Unknown projects are skipped, or created with a generated name when the
// provider sets create_new_project_on_init.
func (ps *ProviderSetup) MatchTemplate(ctx context.Context, providerName, login string, projects ProjectResolver) (*core.User, bool, error) {
	provider := ps.Provider(providerName)
	if provider == nil || strings.TrimSpace(login) == "" {
		return nil, false, nil
	}

	var template *UserTemplate
	for i := range provider.Users.Profiles {
		if provider.Users.Profiles[i].Login == login {
			template = &provider.Users.Profiles[i]
			break
		}
	}
	if template == nil {
		return nil, false, nil
	}

	profile, ok := core.ParseUserProfile(template.Profile)
	if !ok {
		profile = core.ProfileScopedUser
	}
	user := &core.User{Login: login, ProviderName: providerName, Profile: profile}
	if profile != core.ProfileScopedUser {
		return user, true, nil
	}

	// Highest role per project, keeping the order projects first appear in
	best := make(map[string]core.ScopeRole)
	var codes []string
	for _, scope := range template.Scopes {
		role, ok := core.ParseScopeRole(scope.Scope)
		if !ok {
			role = core.RoleMember
		}
		for _, code := range scope.Projects {
			current, seen := best[code]
			if !seen {
				codes = append(codes, code)
				best[code] = role
			} else if role.Rank() < current.Rank() {
				best[code] = role
			}
		}
	}

	for _, code := range codes {
		project, err := ps.resolveProject(ctx, provider, code, projects)
		if err != nil {
			return nil, false, err
		}
		if project == nil {
			continue
		}
		user.Scopes = append(user.Scopes, core.ScopeAssignment{
			ProjectID:   project.ID,
			ProjectCode: project.Code,
			ProjectName: project.Name,
			Role:        best[code],
		})
	}
	return user, true, nil
}

func (ps *ProviderSetup) resolveProject(ctx context.Context, provider *ProviderConfig, code string, projects ProjectResolver) (*core.Project, error) {
	project, err := projects.FindByCode(ctx, code)
	if err == nil {
		return project, nil
	}
	if !core.IsKind(err, core.KindNotFound) {
		return nil, err
	}
	if !provider.Users.CreateNewProjectOnInit {
		return nil, nil
	}

	project, err = projects.Create(ctx, &core.Project{Code: code, Name: GeneratedProjectName(code)})
	if err != nil {
		var appErr *core.AppError
		if errors.As(err, &appErr) && appErr.Kind == core.KindBadRequest {
			// A code that is not a valid project code is skipped like an unknown project
			return nil, nil
		}
		return nil, fmt.Errorf("failed to create project %s: %w", code, err)
	}
	return project, nil
}

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// GeneratedProjectName derives a readable name from a code:
// "my-great_project" becomes "My Great Project (generated)".
func GeneratedProjectName(code string) string {
	words := make([]string, 0)
	for _, word := range nonAlphanumeric.Split(code, -1) {
		if word == "" {
			continue
		}
		words = append(words, strings.ToUpper(word[:1])+word[1:])
	}
	return strings.Join(words, " ") + " (generated)"
}
