// Package display provides human-readable names for machine codes.
//
// Rule: code is for machines, words are for humans.
// Use these functions in CLI output and MCP text replies.
// Keep raw codes for JSON fields, map keys, and equality comparisons.
package display

import (
	"strings"

	"github.com/nneupane1/telemetry-agent/internal/interpretation"
	"github.com/nneupane1/telemetry-agent/internal/telemetry"
)

// --- Rejection reasons ---

var reasons = map[telemetry.Reason]string{
	telemetry.ReasonMissingField:      "Missing field",
	telemetry.ReasonInvalidSubject:    "Invalid subject id",
	telemetry.ReasonSubjectMismatch:   "Row belongs to another subject",
	telemetry.ReasonInvalidSource:     "Unknown source model",
	telemetry.ReasonInvalidSignalCode: "Malformed signal code",
	telemetry.ReasonInvalidConfidence: "Confidence is not a number",
	telemetry.ReasonConfidenceRange:   "Confidence outside [0, 1]",
	telemetry.ReasonInvalidTimestamp:  "Unreadable timestamp",
	telemetry.ReasonFutureTimestamp:   "Timestamp in the future",
	telemetry.ReasonSchemaViolation:   "Schema violation",
}

// Reason returns the human-readable name for a rejection reason.
// Unknown codes are returned as-is.
func Reason(r telemetry.Reason) string {
	if name, ok := reasons[r]; ok {
		return name
	}
	return string(r)
}

// ReasonWithCode returns "Missing field (missing_field)" format.
func ReasonWithCode(r telemetry.Reason) string {
	if name, ok := reasons[r]; ok {
		return name + " (" + string(r) + ")"
	}
	return string(r)
}

// --- Pipeline ---

var stages = map[string]string{
	"evidence":              "Evidence",
	"metrics_and_anomalies": "Metrics and anomalies",
	"summary":               "Summary",
	"cohort_summary":        "Cohort summary",
	"recommendations":       "Recommendations",
	"consolidation":         "Consolidation",
	"interpretation":        "Interpretation",
}

// Stage returns the human-readable name for a stage node.
// "evidence.MH" -> "Evidence (Machine Health)", "summary" -> "Summary".
func Stage(node string) string {
	base, source, _ := strings.Cut(node, ".")
	name, ok := stages[base]
	if !ok {
		return node
	}
	if source == "" {
		return name
	}
	return name + " (" + interpretation.SourceName(telemetry.SourceModel(source)) + ")"
}

// StagePath converts stage nodes to a human-readable path.
// ["summary", "recommendations"] -> "Summary → Recommendations"
func StagePath(nodes []string) string {
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = Stage(n)
	}
	return strings.Join(names, " → ")
}

// Mode names the runner that produced an interpretation.
func Mode(m interpretation.ExecutionMode) string {
	switch m {
	case interpretation.ModeGraph:
		return "Graph"
	case interpretation.ModeSequential:
		return "Sequential (fallback)"
	}
	return string(m)
}

// --- Levels ---

// Risk returns "High" for RiskHigh. Unknown levels are returned as-is.
func Risk(r interpretation.RiskLevel) string {
	switch r {
	case interpretation.RiskLow:
		return "Low"
	case interpretation.RiskElevated:
		return "Elevated"
	case interpretation.RiskHigh:
		return "High"
	case interpretation.RiskCritical:
		return "Critical"
	}
	return string(r)
}

// Urgency returns "Medium" for UrgencyMedium.
func Urgency(u interpretation.Urgency) string {
	switch u {
	case interpretation.UrgencyLow:
		return "Low"
	case interpretation.UrgencyMedium:
		return "Medium"
	case interpretation.UrgencyHigh:
		return "High"
	}
	return string(u)
}

// Narrative names where a summary came from.
func Narrative(n interpretation.NarrativeSource) string {
	switch n {
	case interpretation.NarrativeDeterministic:
		return "Rule-based"
	case interpretation.NarrativeGenerative:
		return "Generated"
	}
	return string(n)
}

// --- Operator decisions ---

var decisions = map[interpretation.Decision]string{
	interpretation.DecisionApproved:    "Approved",
	interpretation.DecisionRejected:    "Rejected",
	interpretation.DecisionNeedsReview: "Needs review",
}

// Decision returns the human-readable name for an operator decision.
func Decision(d interpretation.Decision) string {
	if name, ok := decisions[d]; ok {
		return name
	}
	return string(d)
}

// Source returns "Machine Health (MH)" format.
func Source(m telemetry.SourceModel) string {
	name := interpretation.SourceName(m)
	if name == string(m) {
		return name
	}
	return name + " (" + string(m) + ")"
}
