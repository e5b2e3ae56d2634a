package format_test

import (
	"strings"
	"testing"
	"time"

	"github.com/nneupane1/telemetry-agent/internal/evidence"
	"github.com/nneupane1/telemetry-agent/internal/format"
	"github.com/nneupane1/telemetry-agent/internal/interpretation"
	"github.com/nneupane1/telemetry-agent/internal/mart"
	"github.com/nneupane1/telemetry-agent/internal/telemetry"
)

// contains ignores case: go-pretty upper-cases headers and footers.
func contains(out, want string) bool {
	return strings.Contains(strings.ToLower(out), strings.ToLower(want))
}

func vinResult() *interpretation.Interpretation {
	at := time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)
	return &interpretation.Interpretation{
		SubjectType:     telemetry.SubjectVIN,
		SubjectID:       "WVWZZZ1JZXW000001",
		Summary:         "Battery degradation observed.",
		NarrativeSource: interpretation.NarrativeDeterministic,
		RiskLevel:       interpretation.RiskHigh,
		Recommendations: []interpretation.Recommendation{{
			Title:           "Inspect battery",
			Urgency:         interpretation.UrgencyHigh,
			Confidence:      0.91,
			SuggestedAction: "Schedule a workshop inspection.",
			Evidence:        []evidence.Evidence{{SignalCode: "HI-1001"}},
		}},
		EvidenceSummary: evidence.Summary{
			telemetry.MachineHealth: {Count: 2, MeanConfidence: 0.655, MaxConfidence: 0.91, FirstSeen: at, LastSeen: at, Signals: map[string]int{"HI-1001": 1, "HI-2002": 1}},
		},
		Rejections:    []telemetry.Rejection{{Index: 3, RowID: "bad", Reason: telemetry.ReasonConfidenceRange, Detail: "1.4"}},
		ExecutionMode: interpretation.ModeGraph,
		RequestID:     "id-1",
		GeneratedAt:   at,
	}
}

func TestInterpretation_VIN(t *testing.T) {
	out := format.Interpretation(vinResult(), format.ASCII)
	for _, want := range []string{
		"WVWZZZ1JZXW000001", "High", "Rule-based", "Graph",
		"Recommendations", "Inspect battery", "0.91",
		"Machine Health (MH)", "Total",
		"Rejected rows", "Confidence outside [0, 1]",
	} {
		if !contains(out, want) {
			t.Errorf("missing %q in output:\n%s", want, out)
		}
	}
	if contains(out, "Anomalies") {
		t.Errorf("VIN output should have no anomaly section:\n%s", out)
	}
}

func TestInterpretation_CohortMarkdown(t *testing.T) {
	res := &interpretation.Interpretation{
		SubjectType:   telemetry.SubjectCohort,
		SubjectID:     "EU_DIESEL",
		RiskLevel:     interpretation.RiskCritical,
		ExecutionMode: interpretation.ModeSequential,
		Cohort: &interpretation.CohortDetail{
			Description: "Diesel fleet",
			Metrics:     []interpretation.Metric{{Name: "mean_confidence", Value: 0.775}},
			Anomalies: []interpretation.Anomaly{{
				SignalCode: "HI-1001", Family: "BATTERY", Severity: interpretation.UrgencyHigh,
				Confidence: 0.93, MeanConfidence: 0.93, Count: 1,
				Sources: []telemetry.SourceModel{telemetry.MachineHealth, telemetry.FailureImpact},
			}},
		},
	}
	out := format.Interpretation(res, format.Markdown)
	for _, want := range []string{"Critical", "Sequential (fallback)", "Diesel fleet", "mean_confidence", "HI-1001", "MH,FIM", "| "} {
		if !contains(out, want) {
			t.Errorf("missing %q in output:\n%s", want, out)
		}
	}
	if contains(out, "Rejected rows") {
		t.Errorf("no rejections expected:\n%s", out)
	}
}

func TestCohortsApprovalsCapabilities(t *testing.T) {
	cohorts := format.Cohorts([]mart.Cohort{
		{ID: "BEV_2024", VINCount: 3},
		{ID: "EU_DIESEL", Description: "Diesel fleet", VINCount: 42},
	}, format.ASCII)
	for _, want := range []string{"BEV_2024", "Diesel fleet", "2 cohorts", "45"} {
		if !contains(cohorts, want) {
			t.Errorf("missing %q in cohorts:\n%s", want, cohorts)
		}
	}

	approvals := format.Approvals([]interpretation.ApprovalRecord{{
		SubjectType: telemetry.SubjectVIN, SubjectID: "WVWZZZ1JZXW000001",
		Decision: interpretation.DecisionNeedsReview, Actor: "ops",
		Timestamp: time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC),
	}}, format.ASCII)
	for _, want := range []string{"Needs review", "ops", "2026-02-20 12:00Z", "VIN WVWZZZ1JZXW000001"} {
		if !contains(approvals, want) {
			t.Errorf("missing %q in approvals:\n%s", want, approvals)
		}
	}

	caps := format.Capabilities([]format.Capability{
		{Name: "graph", Available: true},
		{Name: "generative", Cause: "no generator configured"},
	}, format.ASCII)
	for _, want := range []string{"✓", "✗", "no generator configured"} {
		if !contains(caps, want) {
			t.Errorf("missing %q in capabilities:\n%s", want, caps)
		}
	}
}

func TestPipeline(t *testing.T) {
	out := format.Pipeline("vin", []string{"evidence.MH", "summary"}, format.ASCII)
	for _, want := range []string{"Pipeline vin", "Evidence (Machine Health)", "Summary"} {
		if !contains(out, want) {
			t.Errorf("missing %q:\n%s", want, out)
		}
	}
}
