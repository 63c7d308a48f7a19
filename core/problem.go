package core

import "time"

// ProblemStatus is the lifecycle state of a problem.
type ProblemStatus string

const (
	ProblemOpen   ProblemStatus = "OPEN"
	ProblemClosed ProblemStatus = "CLOSED"
)

// Problem is a recurring defect linked to errors through its patterns.
type Problem struct {
	ID               int64            `json:"id"`
	ProjectID        int64            `json:"project_id"`
	Name             string           `json:"name"`
	Comment          string           `json:"comment,omitempty"`
	Status           ProblemStatus    `json:"status"`
	BlamedTeamID     *int64           `json:"blamed_team_id,omitempty"`
	CreationDateTime time.Time        `json:"creation_date_time"`
	Patterns         []ProblemPattern `json:"patterns,omitempty"`
}

// ProblemPattern is a partial predicate over scenario and error attributes.
// Populated fields are combined with AND; empty strings and nil booleans impose no constraint.
type ProblemPattern struct {
	ID                       int64  `json:"id"`
	ProblemID                int64  `json:"problem_id"`
	FeatureFile              string `json:"feature_file,omitempty"`
	FeatureName              string `json:"feature_name,omitempty"`
	ScenarioName             string `json:"scenario_name,omitempty"`
	ScenarioNameStartsWith   bool   `json:"scenario_name_starts_with"`
	Step                     string `json:"step,omitempty"`
	StepStartsWith           bool   `json:"step_starts_with"`
	StepDefinition           string `json:"step_definition,omitempty"`
	StepDefinitionStartsWith bool   `json:"step_definition_starts_with"`
	Exception                string `json:"exception,omitempty"`
	Release                  string `json:"release,omitempty"`
	CountryCode              string `json:"country_code,omitempty"`
	TypeCode                 string `json:"type_code,omitempty"`
	TypeIsBrowser            *bool  `json:"type_is_browser,omitempty"`
	TypeIsMobile             *bool  `json:"type_is_mobile,omitempty"`
	Platform                 string `json:"platform,omitempty"`
}

// IsEmpty reports whether the pattern imposes no constraint at all.
func (p *ProblemPattern) IsEmpty() bool {
	return p.FeatureFile == "" && p.FeatureName == "" && p.ScenarioName == "" &&
		p.Step == "" && p.StepDefinition == "" && p.Exception == "" && p.Release == "" &&
		p.CountryCode == "" && p.TypeCode == "" && p.TypeIsBrowser == nil &&
		p.TypeIsMobile == nil && p.Platform == ""
}
