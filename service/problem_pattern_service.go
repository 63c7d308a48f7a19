package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ara/core"
	"ara/metrics"
	"ara/storage"

	"go.uber.org/zap"
)

// ProblemStorage defines problem and occurrence persistence needed by ProblemPatternServiceImpl.
// Defined here (consumer package) following Interface Segregation Principle.
type ProblemStorage interface {
	CreateProblem(ctx context.Context, problem *core.Problem) error
	GetProblem(ctx context.Context, projectID, id int64) (*core.Problem, error)
	CreatePattern(ctx context.Context, projectID int64, pattern *core.ProblemPattern) error
	GetPattern(ctx context.Context, projectID, patternID int64) (*core.ProblemPattern, error)
	ListPatterns(ctx context.Context, projectID int64) ([]core.ProblemPattern, error)
	DeletePattern(ctx context.Context, projectID, patternID int64) error
	InsertOccurrences(ctx context.Context, patternID int64, errorIDs []int64) (int, error)
	ErrorsProblems(ctx context.Context, errorIDs []int64) (map[int64][]core.Problem, error)
}

// ErrorMatcher evaluates patterns against the errors of a project.
type ErrorMatcher interface {
	CountMatchingErrors(ctx context.Context, projectID int64, pattern *core.ProblemPattern) (int64, error)
	FindMatchingErrors(ctx context.Context, projectID int64, pattern *core.ProblemPattern, offset, limit int) ([]core.MatchedError, error)
	MatchingErrorIDs(ctx context.Context, projectID int64, pattern *core.ProblemPattern, candidates []int64) ([]int64, error)
}

// Page bounds of FindMatchingErrors
const (
	DefaultMatchLimit = 10
	MaxMatchLimit     = 500
)

// ProblemPatternServiceImpl links errors to problems through patterns.
//
// ASSIGNMENT:
// An error occurs in a problem once per matching pattern. Occurrences are created when a
// pattern is created (against every existing error) and when executions are imported
// (every pattern of the project against the new errors only).
type ProblemPatternServiceImpl struct {
	problems ProblemStorage
	matcher  ErrorMatcher
	logger   *zap.SugaredLogger
}

func NewProblemPatternService(problems ProblemStorage, matcher ErrorMatcher, logger *zap.SugaredLogger) *ProblemPatternServiceImpl {
	if problems == nil {
		panic("problems is required")
	}
	if matcher == nil {
		panic("matcher is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &ProblemPatternServiceImpl{problems: problems, matcher: matcher, logger: logger}
}

// CountMatchingErrors counts the errors of the project matched by pattern.
// An empty pattern matches every error.
func (s *ProblemPatternServiceImpl) CountMatchingErrors(ctx context.Context, projectID int64, pattern *core.ProblemPattern) (int64, error) {
	if pattern == nil {
		pattern = &core.ProblemPattern{}
	}
	return s.matcher.CountMatchingErrors(ctx, projectID, pattern)
}

// FindMatchingErrors returns one page of the errors matched by pattern.
// A non-positive limit uses DefaultMatchLimit; limits above MaxMatchLimit are capped.
func (s *ProblemPatternServiceImpl) FindMatchingErrors(ctx context.Context, projectID int64, pattern *core.ProblemPattern, offset, limit int) ([]core.MatchedError, error) {
	if pattern == nil {
		pattern = &core.ProblemPattern{}
	}
	if offset < 0 {
		offset = 0
	}
	switch {
	case limit <= 0:
		limit = DefaultMatchLimit
	case limit > MaxMatchLimit:
		limit = MaxMatchLimit
	}
	return s.matcher.FindMatchingErrors(ctx, projectID, pattern, offset, limit)
}

// CreateProblemWithPatterns stores a problem with at least one pattern and assigns every
// currently matching error to it.
func (s *ProblemPatternServiceImpl) CreateProblemWithPatterns(ctx context.Context, projectID int64, problem *core.Problem) (*core.Problem, error) {
	p := *problem
	p.ID = 0
	p.ProjectID = projectID
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return nil, core.NewBadRequest(core.ResourceProblem, core.KeyValidation, "name is required")
	}
	if p.Status != "" && p.Status != core.ProblemOpen && p.Status != core.ProblemClosed {
		return nil, core.NewBadRequest(core.ResourceProblem, core.KeyValidation, "status must be OPEN or CLOSED")
	}
	if len(p.Patterns) == 0 {
		return nil, core.NewBadRequest(core.ResourceProblem, core.KeyPatternEmpty, "a problem needs at least one pattern")
	}
	p.Patterns = append([]core.ProblemPattern(nil), p.Patterns...)
	for i := range p.Patterns {
		p.Patterns[i].ID = 0
		if err := checkPattern(&p.Patterns[i]); err != nil {
			return nil, err
		}
	}

	if err := s.problems.CreateProblem(ctx, &p); err != nil {
		if errors.Is(err, storage.ErrConstraintViolation) {
			return nil, core.NewNotUnique(core.ResourceProblem, "name", "a problem with this name already exists")
		}
		return nil, fmt.Errorf("failed to create problem: %w", err)
	}

	assigned := 0
	for i := range p.Patterns {
		n, err := s.assign(ctx, projectID, &p.Patterns[i], nil)
		if err != nil {
			return nil, err
		}
		assigned += n
	}

	s.logger.Infow("Problem created", "action", "create_problem", "outcome", "success",
		"project_id", projectID, "problem_id", p.ID, "patterns", len(p.Patterns), "occurrences", assigned)
	return &p, nil
}

// CreatePattern adds a pattern to a problem and assigns its matching errors
func (s *ProblemPatternServiceImpl) CreatePattern(ctx context.Context, projectID, problemID int64, pattern *core.ProblemPattern) (*core.ProblemPattern, error) {
	pp := *pattern
	pp.ID = 0
	pp.ProblemID = problemID
	if err := checkPattern(&pp); err != nil {
		return nil, err
	}

	if err := s.problems.CreatePattern(ctx, projectID, &pp); err != nil {
		if errors.Is(err, storage.ErrProblemNotFound) {
			return nil, core.NewNotFound(core.ResourceProblem, fmt.Sprintf("problem %d not found", problemID))
		}
		return nil, fmt.Errorf("failed to create pattern: %w", err)
	}
	if _, err := s.assign(ctx, projectID, &pp, nil); err != nil {
		return nil, err
	}
	return &pp, nil
}

// DeletePattern removes a pattern and the occurrences it created
func (s *ProblemPatternServiceImpl) DeletePattern(ctx context.Context, projectID, patternID int64) error {
	if err := s.problems.DeletePattern(ctx, projectID, patternID); err != nil {
		if errors.Is(err, storage.ErrPatternNotFound) {
			return core.NewNotFound(core.ResourcePattern, fmt.Sprintf("pattern %d not found", patternID))
		}
		return fmt.Errorf("failed to delete pattern: %w", err)
	}
	s.logger.Infow("Pattern deleted", "action", "delete_pattern", "outcome", "success",
		"project_id", projectID, "pattern_id", patternID)
	return nil
}

// AssignPattern links every error currently matching the pattern and returns how many
// links are new.
func (s *ProblemPatternServiceImpl) AssignPattern(ctx context.Context, projectID, patternID int64) (int, error) {
	pattern, err := s.problems.GetPattern(ctx, projectID, patternID)
	if err != nil {
		if errors.Is(err, storage.ErrPatternNotFound) {
			return 0, core.NewNotFound(core.ResourcePattern, fmt.Sprintf("pattern %d not found", patternID))
		}
		return 0, fmt.Errorf("failed to load pattern: %w", err)
	}
	return s.assign(ctx, projectID, pattern, nil)
}

// AutoAssignProblemsToNewErrors matches every pattern of the project against errorIDs only
func (s *ProblemPatternServiceImpl) AutoAssignProblemsToNewErrors(ctx context.Context, projectID int64, errorIDs []int64) (int, error) {
	if len(errorIDs) == 0 {
		return 0, nil
	}
	patterns, err := s.problems.ListPatterns(ctx, projectID)
	if err != nil {
		return 0, fmt.Errorf("failed to list patterns: %w", err)
	}

	assigned := 0
	for i := range patterns {
		n, err := s.assign(ctx, projectID, &patterns[i], errorIDs)
		if err != nil {
			return assigned, err
		}
		assigned += n
	}
	if assigned > 0 {
		s.logger.Infow("Problems assigned to new errors", "action", "auto_assign", "outcome", "success",
			"project_id", projectID, "errors", len(errorIDs), "occurrences", assigned)
	}
	return assigned, nil
}

// ErrorsProblems returns the problems of each error; errors without problems map to an empty slice
func (s *ProblemPatternServiceImpl) ErrorsProblems(ctx context.Context, errorIDs []int64) (map[int64][]core.Problem, error) {
	problems, err := s.problems.ErrorsProblems(ctx, errorIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load error problems: %w", err)
	}
	for _, id := range errorIDs {
		if problems[id] == nil {
			problems[id] = []core.Problem{}
		}
	}
	return problems, nil
}

func (s *ProblemPatternServiceImpl) assign(ctx context.Context, projectID int64, pattern *core.ProblemPattern, candidates []int64) (int, error) {
	ids, err := s.matcher.MatchingErrorIDs(ctx, projectID, pattern, candidates)
	if err != nil {
		return 0, fmt.Errorf("failed to match pattern %d: %w", pattern.ID, err)
	}
	n, err := s.problems.InsertOccurrences(ctx, pattern.ID, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to assign pattern %d: %w", pattern.ID, err)
	}
	metrics.ProblemOccurrencesAssigned.Add(float64(n))
	return n, nil
}

// checkPattern trims the string constraints and rejects a pattern without any
func checkPattern(p *core.ProblemPattern) error {
	for _, field := range []*string{
		&p.FeatureFile, &p.FeatureName, &p.ScenarioName, &p.Step, &p.StepDefinition,
		&p.Release, &p.CountryCode, &p.TypeCode, &p.Platform,
	} {
		*field = strings.TrimSpace(*field)
	}
	if p.IsEmpty() {
		return core.NewBadRequest(core.ResourcePattern, core.KeyPatternEmpty, "a pattern needs at least one constraint")
	}
	return nil
}
