package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ara/core"

	"go.uber.org/zap"
)

// ExecutionStorage defines execution persistence needed by ExecutionServiceImpl.
type ExecutionStorage interface {
	ImportExecution(ctx context.Context, execution *core.Execution) ([]int64, error)
	ListExecutions(ctx context.Context, projectID int64, limit int) ([]core.Execution, error)
}

// RunSettings lists the countries and types runs may reference.
type RunSettings interface {
	ListCountries(ctx context.Context, projectID int64) ([]core.Country, error)
	ListTypes(ctx context.Context, projectID int64) ([]core.Type, error)
}

// ProblemAssigner links new errors to the problems whose patterns match them.
type ProblemAssigner interface {
	AutoAssignProblemsToNewErrors(ctx context.Context, projectID int64, errorIDs []int64) (int, error)
}

// ImportResult summarizes an imported execution
type ImportResult struct {
	Execution   *core.Execution `json:"execution"`
	ErrorCount  int             `json:"error_count"`
	Occurrences int             `json:"occurrences"`
}

// ExecutionServiceImpl imports test executions and, when enabled, assigns their errors to problems.
type ExecutionServiceImpl struct {
	storage    ExecutionStorage
	settings   RunSettings
	assigner   ProblemAssigner
	autoAssign bool
	logger     *zap.SugaredLogger
}

func NewExecutionService(storage ExecutionStorage, settings RunSettings, assigner ProblemAssigner, autoAssign bool, logger *zap.SugaredLogger) *ExecutionServiceImpl {
	if storage == nil {
		panic("storage is required")
	}
	if settings == nil {
		panic("settings is required")
	}
	if assigner == nil {
		panic("assigner is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &ExecutionServiceImpl{storage: storage, settings: settings, assigner: assigner, autoAssign: autoAssign, logger: logger}
}

// Import stores the execution tree and returns it with generated IDs.
//
// BUSINESS LOGIC:
// 1. Branch and cycle name are required, every run needs a known country and type
// 2. The whole tree is stored in one transaction
// 3. Patterns of the project are matched against the new errors only
//
// A failure in step 3 is logged and does not undo the import.
func (s *ExecutionServiceImpl) Import(ctx context.Context, projectID int64, execution *core.Execution) (*ImportResult, error) {
	exec := *execution
	exec.ID = 0
	exec.ProjectID = projectID
	exec.Branch = strings.TrimSpace(exec.Branch)
	exec.Name = strings.TrimSpace(exec.Name)
	if exec.Branch == "" || exec.Name == "" {
		return nil, core.NewBadRequest(core.ResourceExecution, core.KeyValidation, "branch and name are required")
	}
	if exec.TestDateTime.IsZero() {
		exec.TestDateTime = time.Now().UTC()
	}
	if err := s.checkRuns(ctx, projectID, exec.Runs); err != nil {
		return nil, err
	}

	errorIDs, err := s.storage.ImportExecution(ctx, &exec)
	if err != nil {
		return nil, fmt.Errorf("failed to import execution: %w", err)
	}
	result := &ImportResult{Execution: &exec, ErrorCount: len(errorIDs)}

	if s.autoAssign {
		n, err := s.assigner.AutoAssignProblemsToNewErrors(ctx, projectID, errorIDs)
		if err != nil {
			s.logger.Errorw("Failed to assign problems to imported errors",
				"project_id", projectID, "execution_id", exec.ID, "error", err)
		}
		result.Occurrences = n
	}

	s.logger.Infow("Execution imported", "action", "import_execution", "outcome", "success",
		"project_id", projectID, "execution_id", exec.ID, "errors", len(errorIDs), "occurrences", result.Occurrences)
	return result, nil
}

// List returns the latest executions of the project, newest first
func (s *ExecutionServiceImpl) List(ctx context.Context, projectID int64, limit int) ([]core.Execution, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	executions, err := s.storage.ListExecutions(ctx, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	return executions, nil
}

func (s *ExecutionServiceImpl) checkRuns(ctx context.Context, projectID int64, runs []core.Run) error {
	if len(runs) == 0 {
		return nil
	}
	countries, err := s.settings.ListCountries(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to load countries: %w", err)
	}
	types, err := s.settings.ListTypes(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to load types: %w", err)
	}
	knownCountries := make(map[string]bool, len(countries))
	for _, c := range countries {
		knownCountries[c.Code] = true
	}
	knownTypes := make(map[string]bool, len(types))
	for _, t := range types {
		knownTypes[t.Code] = true
	}

	for _, run := range runs {
		if !knownCountries[run.CountryCode] {
			return core.NewNotFound(core.ResourceCountry, fmt.Sprintf("country %q not found", run.CountryCode))
		}
		if !knownTypes[run.TypeCode] {
			return core.NewNotFound(core.ResourceType, fmt.Sprintf("type %q not found", run.TypeCode))
		}
	}
	return nil
}
