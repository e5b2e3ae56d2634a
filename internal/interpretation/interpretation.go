// Package interpretation holds the result types of the interpreter and the
// pure derivations between them: urgency and risk levels, recommendations,
// cohort anomalies and the final Interpretation record.
package interpretation

import (
	"time"

	"github.com/nneupane1/telemetry-agent/internal/evidence"
	"github.com/nneupane1/telemetry-agent/internal/telemetry"
)

// Urgency ranks a recommendation.
type Urgency string

const (
	UrgencyLow    Urgency = "LOW"
	UrgencyMedium Urgency = "MEDIUM"
	UrgencyHigh   Urgency = "HIGH"
)

// RiskLevel ranks a whole interpretation.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskElevated RiskLevel = "ELEVATED"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Confidence thresholds. Comparisons are inclusive so ties resolve toward the
// higher level.
const (
	HighThreshold     = 0.85
	MediumThreshold   = 0.6
	CriticalThreshold = 0.9
)

// ExecutionMode records which stage runner produced an interpretation.
type ExecutionMode string

const (
	ModeGraph      ExecutionMode = "graph"
	ModeSequential ExecutionMode = "sequential"
)

// NarrativeSource records which narrative candidate was surfaced.
type NarrativeSource string

const (
	NarrativeDeterministic NarrativeSource = "deterministic"
	NarrativeGenerative    NarrativeSource = "generative"
)

// Recommendation is an action backed by an ordered evidence list
// (strongest first).
type Recommendation struct {
	Title           string                `json:"title"`
	Rationale       string                `json:"rationale"`
	Urgency         Urgency               `json:"urgency"`
	SuggestedAction string                `json:"suggested_action,omitempty"`
	SourceModel     telemetry.SourceModel `json:"source_model,omitempty"`
	Family          string                `json:"family"`
	Confidence      float64               `json:"confidence"`
	Evidence        []evidence.Evidence   `json:"evidence"`
}

// Metric is a named cohort measurement.
type Metric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Anomaly is a cohort signal strong enough to flag.
type Anomaly struct {
	SignalCode     string                  `json:"signal_code"`
	Description    string                  `json:"description"`
	Family         string                  `json:"family"`
	Severity       Urgency                 `json:"severity"`
	Confidence     float64                 `json:"confidence"`
	MeanConfidence float64                 `json:"mean_confidence"`
	Count          int                     `json:"count"`
	Sources        []telemetry.SourceModel `json:"sources"`
}

// CohortDetail carries the fleet-level findings of a cohort interpretation.
type CohortDetail struct {
	Description      string          `json:"description,omitempty"`
	Metrics          []Metric        `json:"metrics"`
	Anomalies        []Anomaly       `json:"anomalies"`
	RiskDistribution map[Urgency]int `json:"risk_distribution"`
}

// Interpretation is the final record for one VIN or cohort. Values returned
// by Assemble share no memory with their inputs.
type Interpretation struct {
	SubjectType     telemetry.SubjectType `json:"subject_type"`
	SubjectID       string                `json:"subject_id"`
	Summary         string                `json:"summary"`
	NarrativeSource NarrativeSource       `json:"narrative_source"`
	RiskLevel       RiskLevel             `json:"risk_level"`
	Recommendations []Recommendation      `json:"recommendations"`
	EvidenceSummary evidence.Summary      `json:"evidence_summary"`
	Cohort          *CohortDetail         `json:"cohort,omitempty"`
	Rejections      []telemetry.Rejection `json:"rejections,omitempty"`
	ModelVersion    string                `json:"model_version"`
	ExecutionMode   ExecutionMode         `json:"execution_mode"`
	RequestID       string                `json:"request_id"`
	GeneratedAt     time.Time             `json:"generated_at"`
}

// Decision is an operator verdict on an interpretation.
type Decision string

const (
	DecisionApproved    Decision = "APPROVED"
	DecisionRejected    Decision = "REJECTED"
	DecisionNeedsReview Decision = "NEEDS_REVIEW"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	switch d {
	case DecisionApproved, DecisionRejected, DecisionNeedsReview:
		return true
	}
	return false
}

// ApprovalRecord is an append-only audit entry.
type ApprovalRecord struct {
	ID           string                `json:"id"`
	SubjectType  telemetry.SubjectType `json:"subject_type"`
	SubjectID    string                `json:"subject_id"`
	Decision     Decision              `json:"decision"`
	Comment      string                `json:"comment,omitempty"`
	Actor        string                `json:"actor"`
	Timestamp    time.Time             `json:"timestamp"`
	ModelVersion string                `json:"model_version,omitempty"`
}
