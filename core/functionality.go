package core

import "time"

// FunctionalityType distinguishes folders (inner nodes) from functionalities (leaves).
type FunctionalityType string

const (
	FunctionalityTypeFolder        FunctionalityType = "FOLDER"
	FunctionalityTypeFunctionality FunctionalityType = "FUNCTIONALITY"
)

// IsValid checks if the type is valid
func (t FunctionalityType) IsValid() bool {
	return t == FunctionalityTypeFolder || t == FunctionalityTypeFunctionality
}

// FunctionalitySeverity is the business criticality of a functionality.
type FunctionalitySeverity string

const (
	SeverityHigh   FunctionalitySeverity = "HIGH"
	SeverityMedium FunctionalitySeverity = "MEDIUM"
	SeverityLow    FunctionalitySeverity = "LOW"
)

// IsValid checks if the severity is valid
func (s FunctionalitySeverity) IsValid() bool {
	switch s {
	case SeverityHigh, SeverityMedium, SeverityLow:
		return true
	default:
		return false
	}
}

// Functionality is a node of the requirements tree. Siblings are ordered by Order,
// which is unique within (ProjectID, ParentID).
type Functionality struct {
	ID             int64                 `json:"id"`
	ProjectID      int64                 `json:"project_id"`
	ParentID       *int64                `json:"parent_id,omitempty"`
	Order          float64               `json:"order"`
	Type           FunctionalityType     `json:"type"`
	Name           string                `json:"name"`
	CountryCodes   string                `json:"country_codes,omitempty"`
	TeamID         *int64                `json:"team_id,omitempty"`
	Severity       FunctionalitySeverity `json:"severity,omitempty"`
	Created        string                `json:"created,omitempty"`
	Started        bool                  `json:"started"`
	NotAutomatable bool                  `json:"not_automatable"`
	Comment        string                `json:"comment,omitempty"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// SortOrder exposes the fractional order key.
func (f *Functionality) SortOrder() float64 {
	return f.Order
}

// NodeID exposes the identifier used to locate a reference node among siblings.
func (f *Functionality) NodeID() int64 {
	return f.ID
}

// IsFolder reports whether the node can hold children.
func (f *Functionality) IsFolder() bool {
	return f.Type == FunctionalityTypeFolder
}

// FunctionalityNode is a Functionality with its resolved children, as returned by the tree endpoint.
type FunctionalityNode struct {
	Functionality
	Children []*FunctionalityNode `json:"children,omitempty"`
}
