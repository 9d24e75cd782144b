package model

// ReferenceMaterial is a catalog entry with a verified emission factor.
// The pipeline treats these as read-only; they are inserted by the admin
// import path and never mutated afterwards.
type ReferenceMaterial struct {
	ID          string  `json:"id"`
	Category    string  `json:"category"`
	Subcategory string  `json:"subcategory,omitempty"`
	Unit        string  `json:"unit"`
	Factor      float64 `json:"factor"` // kgCO2e per unit, non-negative
	Source      string  `json:"source,omitempty"`
	State       string  `json:"state,omitempty"`
	Region      string  `json:"region,omitempty"`
	Name        string  `json:"name"`
}

// Confidence is the reconciliation confidence tier for a line item.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// MatchType records how a candidate was resolved against the catalog.
type MatchType string

const (
	MatchExact   MatchType = "exact"
	MatchProxy   MatchType = "proxy"
	MatchKeyword MatchType = "keyword"
	MatchNone    MatchType = "none"
)

// CandidateLineItem is an AI-proposed material line item. Everything in it
// is untrusted, in particular AIFactor, which must never be persisted
// without reconciliation.
type CandidateLineItem struct {
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Unit     string   `json:"unit"`
	Quantity float64  `json:"quantity"`
	AIFactor *float64 `json:"factor,omitempty"`
	TypeID   string   `json:"typeId,omitempty"`
}

// ValidatedLineItem is the reconciled output for one candidate.
//
// Invariant: Factor is either a value copied verbatim from some
// ReferenceMaterial, or nil. An AI-invented number never survives
// reconciliation.
type ValidatedLineItem struct {
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Unit     string  `json:"unit"`
	Quantity float64 `json:"quantity"`

	Factor         *float64   `json:"factor"`
	Source         string     `json:"source,omitempty"`
	MatchType      MatchType  `json:"matchType"`
	MatchedID      string     `json:"matchedId,omitempty"`
	Confidence     Confidence `json:"confidence"`
	IsCustom       bool       `json:"isCustom"`
	RequiresReview bool       `json:"requiresReview"`
	ReviewReason   string     `json:"reviewReason,omitempty"`
}
