package core

import "time"

// Timeouts applied by handlers and background jobs
const (
	DBQueryTimeout  = 5 * time.Second
	DBHealthTimeout = 2 * time.Second
	ImportTimeout   = 30 * time.Second

	// MaxErrorMessageLength caps error messages sent to clients
	MaxErrorMessageLength = 500
)

// Resource names used in AppError.Resource
const (
	ResourceProject       = "project"
	ResourceFunctionality = "functionality"
	ResourceUser          = "user"
	ResourceProblem       = "problem"
	ResourcePattern       = "problem_pattern"
	ResourceError         = "error"
	ResourceTeam          = "team"
	ResourceCountry       = "country"
	ResourceType          = "type"
	ResourceExecution     = "execution"
)
