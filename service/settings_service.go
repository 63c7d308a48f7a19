package service

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"ara/core"
	"ara/storage"

	"go.uber.org/zap"
)

// ReferenceStorage stores the teams, countries and types of a project.
// Defined here (consumer package) following Interface Segregation Principle.
type ReferenceStorage interface {
	CreateTeam(ctx context.Context, team *core.Team) error
	ListTeams(ctx context.Context, projectID int64) ([]core.Team, error)
	CreateCountry(ctx context.Context, country *core.Country) error
	ListCountries(ctx context.Context, projectID int64) ([]core.Country, error)
	CreateType(ctx context.Context, t *core.Type) error
	ListTypes(ctx context.Context, projectID int64) ([]core.Type, error)
}

// referenceCodePattern restricts country and type codes, which also appear in
// comma-separated country lists and in run identifiers.
var referenceCodePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

// SettingsServiceImpl manages the per-project reference data.
type SettingsServiceImpl struct {
	storage ReferenceStorage
	logger  *zap.SugaredLogger
}

// NewSettingsService panics if a dependency is nil
func NewSettingsService(storage ReferenceStorage, logger *zap.SugaredLogger) *SettingsServiceImpl {
	if storage == nil {
		panic("storage is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &SettingsServiceImpl{storage: storage, logger: logger}
}

func (s *SettingsServiceImpl) CreateTeam(ctx context.Context, projectID int64, team *core.Team) (*core.Team, error) {
	team.Name = strings.TrimSpace(team.Name)
	if team.Name == "" {
		return nil, core.NewBadRequest(core.ResourceTeam, core.KeyValidation, "team name is required")
	}
	team.ProjectID = projectID
	if err := s.storage.CreateTeam(ctx, team); err != nil {
		return nil, translateSettingsError(core.ResourceTeam, "name", err)
	}
	s.logger.Infow("Team created", "project_id", projectID, "team", team.Name)
	return team, nil
}

func (s *SettingsServiceImpl) ListTeams(ctx context.Context, projectID int64) ([]core.Team, error) {
	teams, err := s.storage.ListTeams(ctx, projectID)
	if err != nil {
		return nil, core.NewInternal("failed to list teams", err)
	}
	return teams, nil
}

func (s *SettingsServiceImpl) CreateCountry(ctx context.Context, projectID int64, country *core.Country) (*core.Country, error) {
	country.Code = strings.ToLower(strings.TrimSpace(country.Code))
	country.Name = strings.TrimSpace(country.Name)
	if err := checkReference(core.ResourceCountry, country.Code, country.Name); err != nil {
		return nil, err
	}
	country.ProjectID = projectID
	if err := s.storage.CreateCountry(ctx, country); err != nil {
		return nil, translateSettingsError(core.ResourceCountry, "code", err)
	}
	s.logger.Infow("Country created", "project_id", projectID, "country", country.Code)
	return country, nil
}

func (s *SettingsServiceImpl) ListCountries(ctx context.Context, projectID int64) ([]core.Country, error) {
	countries, err := s.storage.ListCountries(ctx, projectID)
	if err != nil {
		return nil, core.NewInternal("failed to list countries", err)
	}
	return countries, nil
}

// CreateType rejects a type that is both a browser and a mobile type.
func (s *SettingsServiceImpl) CreateType(ctx context.Context, projectID int64, t *core.Type) (*core.Type, error) {
	t.Code = strings.ToLower(strings.TrimSpace(t.Code))
	t.Name = strings.TrimSpace(t.Name)
	if err := checkReference(core.ResourceType, t.Code, t.Name); err != nil {
		return nil, err
	}
	if t.IsBrowser && t.IsMobile {
		return nil, core.NewBadRequest(core.ResourceType, core.KeyValidation, "a type cannot be both browser and mobile")
	}
	t.ProjectID = projectID
	if err := s.storage.CreateType(ctx, t); err != nil {
		return nil, translateSettingsError(core.ResourceType, "code", err)
	}
	s.logger.Infow("Type created", "project_id", projectID, "type", t.Code)
	return t, nil
}

func (s *SettingsServiceImpl) ListTypes(ctx context.Context, projectID int64) ([]core.Type, error) {
	types, err := s.storage.ListTypes(ctx, projectID)
	if err != nil {
		return nil, core.NewInternal("failed to list types", err)
	}
	return types, nil
}

func checkReference(resource, code, name string) error {
	if !referenceCodePattern.MatchString(code) {
		return core.NewBadRequest(resource, core.KeyValidation, "code must be 1 to 32 lowercase letters, digits, '-' or '_'")
	}
	if name == "" {
		return core.NewBadRequest(resource, core.KeyValidation, "name is required")
	}
	return nil
}

func translateSettingsError(resource, property string, err error) error {
	if errors.Is(err, storage.ErrConstraintViolation) {
		return core.NewNotUnique(resource, property, resource+" "+property+" is already used in this project")
	}
	return core.NewInternal("failed to create "+resource, err)
}
