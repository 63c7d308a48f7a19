package core

// Project is a tenant of ARA: every functionality, execution and problem belongs to one.
type Project struct {
	ID               int64  `json:"id"`
	Code             string `json:"code"`
	Name             string `json:"name"`
	DefaultAtStartup bool   `json:"default_at_startup"`
}

// Team groups users and owns functionalities and problems.
type Team struct {
	ID                    int64  `json:"id"`
	ProjectID             int64  `json:"project_id"`
	Name                  string `json:"name"`
	AssignProblems        bool   `json:"assign_problems"`
	AssignFunctionalities bool   `json:"assign_functionalities"`
}

// Country is a market in which scenarios are run.
type Country struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"project_id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
}

// Type is a kind of test run (desktop browser, mobile, API...).
type Type struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"project_id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	IsBrowser bool   `json:"is_browser"`
	IsMobile  bool   `json:"is_mobile"`
}
