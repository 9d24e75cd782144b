package model

// ComplianceStatus is the aggregate outcome for one standard.
type ComplianceStatus string

const (
	StatusCompliant    ComplianceStatus = "compliant"
	StatusPartial      ComplianceStatus = "partial"
	StatusNonCompliant ComplianceStatus = "non_compliant"
)

// RequirementResult is the outcome of a single threshold/range check.
type RequirementResult struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Met         bool   `json:"met"`
	Detail      string `json:"detail,omitempty"`
}

// StandardResult aggregates requirement checks for one standard
// (NCC, Green Star, NABERS, IS Rating, EN 15978).
type StandardResult struct {
	Standard     string              `json:"standard"`
	Status       ComplianceStatus    `json:"status"`
	Requirements []RequirementResult `json:"requirements"`
}
