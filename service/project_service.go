package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"ara/core"
	"ara/metrics"
	"ara/storage"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const projectCacheSize = 256

var projectCodePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,31}$`)

// ProjectStorage defines project persistence needed by ProjectServiceImpl.
type ProjectStorage interface {
	CreateProject(ctx context.Context, project *core.Project) error
	UpdateProject(ctx context.Context, project *core.Project) error
	GetProjectByCode(ctx context.Context, code string) (*core.Project, error)
	ListProjects(ctx context.Context) ([]core.Project, error)
}

// ProjectServiceImpl manages projects and resolves project codes to IDs
// through an LRU cache, invalidated whenever a project is written.
type ProjectServiceImpl struct {
	storage ProjectStorage
	cache   *lru.Cache[string, core.Project]
	logger  *zap.SugaredLogger
}

func NewProjectService(storage ProjectStorage, logger *zap.SugaredLogger) *ProjectServiceImpl {
	if storage == nil {
		panic("storage is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	cache, err := lru.New[string, core.Project](projectCacheSize)
	if err != nil {
		// Only fails on a non-positive size
		panic(fmt.Sprintf("failed to create project cache: %v", err))
	}
	return &ProjectServiceImpl{storage: storage, cache: cache, logger: logger}
}

// Create validates and stores a new project
func (s *ProjectServiceImpl) Create(ctx context.Context, project *core.Project) (*core.Project, error) {
	p := *project
	p.Code = strings.TrimSpace(p.Code)
	p.Name = strings.TrimSpace(p.Name)
	if !projectCodePattern.MatchString(p.Code) {
		return nil, core.NewBadRequest(core.ResourceProject, core.KeyValidation,
			"code must be 1 to 32 lowercase letters, digits or dashes")
	}
	if p.Name == "" {
		return nil, core.NewBadRequest(core.ResourceProject, core.KeyValidation, "name is required")
	}

	if err := s.storage.CreateProject(ctx, &p); err != nil {
		if errors.Is(err, storage.ErrConstraintViolation) {
			return nil, core.NewNotUnique(core.ResourceProject, "code", "a project with this code or name already exists")
		}
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	// A new default demotes the previous one
	s.cache.Purge()

	s.logger.Infow("Project created", "action", "create_project", "outcome", "success", "code", p.Code)
	return &p, nil
}

// Update renames a project or changes its default flag; the code cannot change
func (s *ProjectServiceImpl) Update(ctx context.Context, code, name string, defaultAtStartup bool) (*core.Project, error) {
	p, err := s.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	p.Name = strings.TrimSpace(name)
	p.DefaultAtStartup = defaultAtStartup
	if p.Name == "" {
		return nil, core.NewBadRequest(core.ResourceProject, core.KeyValidation, "name is required")
	}

	if err := s.storage.UpdateProject(ctx, p); err != nil {
		if errors.Is(err, storage.ErrConstraintViolation) {
			return nil, core.NewNotUnique(core.ResourceProject, "name", "a project with this name already exists")
		}
		return nil, fmt.Errorf("failed to update project: %w", err)
	}
	s.cache.Purge()
	return p, nil
}

func (s *ProjectServiceImpl) List(ctx context.Context) ([]core.Project, error) {
	projects, err := s.storage.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return projects, nil
}

// FindByCode returns a NotFound AppError for unknown codes
func (s *ProjectServiceImpl) FindByCode(ctx context.Context, code string) (*core.Project, error) {
	if p, ok := s.cache.Get(code); ok {
		metrics.CacheHits.WithLabelValues("project").Inc()
		return &p, nil
	}
	metrics.CacheMisses.WithLabelValues("project").Inc()

	p, err := s.storage.GetProjectByCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrProjectNotFound) {
			return nil, core.NewNotFound(core.ResourceProject, fmt.Sprintf("project %q not found", code))
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	s.cache.Add(code, *p)
	return p, nil
}

// CodeToID resolves a project code to its ID
func (s *ProjectServiceImpl) CodeToID(ctx context.Context, code string) (int64, error) {
	p, err := s.FindByCode(ctx, code)
	if err != nil {
		return 0, err
	}
	return p.ID, nil
}
