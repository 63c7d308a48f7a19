package core

import "time"

// Execution is one run of a cycle (branch + cycle name) for a release.
type Execution struct {
	ID            int64     `json:"id"`
	ProjectID     int64     `json:"project_id"`
	Branch        string    `json:"branch"`
	Name          string    `json:"name"`
	Release       string    `json:"release"`
	TestDateTime  time.Time `json:"test_date_time"`
	BuildDateTime time.Time `json:"build_date_time"`
	Runs          []Run     `json:"runs,omitempty"`
}

// Run is the part of an execution played for one country and type.
type Run struct {
	ID          int64              `json:"id"`
	ExecutionID int64              `json:"execution_id"`
	CountryCode string             `json:"country_code"`
	TypeCode    string             `json:"type_code"`
	Platform    string             `json:"platform"`
	Scenarios   []ExecutedScenario `json:"scenarios,omitempty"`
}

// ExecutedScenario is one scenario played by a run.
type ExecutedScenario struct {
	ID          int64   `json:"id"`
	RunID       int64   `json:"run_id"`
	FeatureFile string  `json:"feature_file"`
	FeatureName string  `json:"feature_name"`
	Name        string  `json:"name"`
	Line        int     `json:"line"`
	Errors      []Error `json:"errors,omitempty"`
}

// Error is a failed step of an executed scenario.
type Error struct {
	ID                 int64  `json:"id"`
	ExecutedScenarioID int64  `json:"executed_scenario_id"`
	Step               string `json:"step"`
	StepDefinition     string `json:"step_definition"`
	StepLine           int    `json:"step_line"`
	Exception          string `json:"exception"`
}

// MatchedError is an error with the context a pattern was evaluated against.
// Problems is nil when no problem has been resolved for the error.
type MatchedError struct {
	Error
	FeatureFile  string    `json:"feature_file"`
	FeatureName  string    `json:"feature_name"`
	ScenarioName string    `json:"scenario_name"`
	RunID        int64     `json:"run_id"`
	CountryCode  string    `json:"country_code"`
	TypeCode     string    `json:"type_code"`
	Platform     string    `json:"platform"`
	ExecutionID  int64     `json:"execution_id"`
	Release      string    `json:"release"`
	Problems     []Problem `json:"problems"`
}
