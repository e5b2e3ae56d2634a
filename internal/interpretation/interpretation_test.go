package interpretation

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nneupane1/telemetry-agent/internal/evidence"
	"github.com/nneupane1/telemetry-agent/internal/telemetry"
)

var t0 = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

func ev(src telemetry.SourceModel, code, family string, conf float64) evidence.Evidence {
	return evidence.Evidence{
		SourceModel: src, SignalCode: code, SignalDescription: code + " description",
		Family: family, Confidence: conf, ConfidenceBand: "band", ObservedAt: t0, RowID: code,
	}
}

func TestUrgencyFor_Thresholds(t *testing.T) {
	tests := []struct {
		conf float64
		want Urgency
	}{
		{0.95, UrgencyHigh},
		{0.9, UrgencyHigh},
		{0.85, UrgencyHigh},
		{0.8499, UrgencyMedium},
		{0.65, UrgencyMedium},
		{0.6, UrgencyMedium},
		{0.5999, UrgencyLow},
		{0.3, UrgencyLow},
		{0, UrgencyLow},
		{1, UrgencyHigh},
	}
	for _, tt := range tests {
		if got := UrgencyFor(tt.conf); got != tt.want {
			t.Errorf("UrgencyFor(%v) = %s, want %s", tt.conf, got, tt.want)
		}
	}
}

func TestRiskFor(t *testing.T) {
	rec := func(u Urgency, c float64) Recommendation { return Recommendation{Urgency: u, Confidence: c} }
	tests := []struct {
		name string
		recs []Recommendation
		want RiskLevel
	}{
		{"none", nil, RiskLow},
		{"low only", []Recommendation{rec(UrgencyLow, 0.3)}, RiskLow},
		{"medium", []Recommendation{rec(UrgencyLow, 0.3), rec(UrgencyMedium, 0.7)}, RiskElevated},
		{"high below critical", []Recommendation{rec(UrgencyHigh, 0.8999)}, RiskHigh},
		{"high at critical boundary", []Recommendation{rec(UrgencyMedium, 0.7), rec(UrgencyHigh, 0.9)}, RiskCritical},
		{"medium with high confidence is not critical", []Recommendation{rec(UrgencyMedium, 0.95)}, RiskElevated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RiskFor(tt.recs); got != tt.want {
				t.Errorf("RiskFor = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRecommend_SingleEvidenceUrgency(t *testing.T) {
	tests := []struct {
		conf float64
		want Urgency
	}{
		{0.95, UrgencyHigh},
		{0.65, UrgencyMedium},
		{0.3, UrgencyLow},
	}
	for _, tt := range tests {
		recs := Recommend([]evidence.Evidence{ev(telemetry.MachineHealth, "HI-1", "ENGINE", tt.conf)})
		if len(recs) != 1 || recs[0].Urgency != tt.want {
			t.Errorf("confidence %v: recs = %+v, want one %s", tt.conf, recs, tt.want)
		}
	}
}

func TestRecommend_ScenarioHighRisk(t *testing.T) {
	recs := Recommend([]evidence.Evidence{
		ev(telemetry.MachineHealth, "HI-0040", "COOLING", 0.40),
		ev(telemetry.MachineHealth, "HI-0091", "BATTERY", 0.91),
	})
	if len(recs) != 1 {
		t.Fatalf("got %d recommendations, want 1", len(recs))
	}
	r := recs[0]
	if r.Urgency != UrgencyHigh {
		t.Errorf("urgency = %s, want HIGH", r.Urgency)
	}
	if r.Confidence != 0.655 {
		t.Errorf("confidence = %v, want 0.655", r.Confidence)
	}
	if r.Evidence[0].SignalCode != "HI-0091" {
		t.Errorf("first evidence = %s, want the 0.91 item", r.Evidence[0].SignalCode)
	}
	if r.Family != "BATTERY" || r.Title != "Inspect Battery system immediately" {
		t.Errorf("family/title = %q/%q", r.Family, r.Title)
	}
	if got := RiskFor(recs); got != RiskHigh {
		t.Errorf("risk = %s, want HIGH", got)
	}
}

func TestRecommend_CanonicalSourceOrder(t *testing.T) {
	recs := Recommend([]evidence.Evidence{
		ev(telemetry.FailureImpact, "F", "X", 0.5),
		ev(telemetry.MachineHealth, "M", "X", 0.5),
	})
	if len(recs) != 2 || recs[0].SourceModel != telemetry.MachineHealth || recs[1].SourceModel != telemetry.FailureImpact {
		t.Errorf("sources = %+v", recs)
	}
}

func TestDominantFamily_TieBreaks(t *testing.T) {
	got := DominantFamily([]evidence.Evidence{
		ev("MH", "a", "ZETA", 0.8),
		ev("MH", "b", "ALPHA", 0.8),
		ev("MH", "c", "ZETA", 0.1),
	})
	if got != "ZETA" {
		t.Errorf("DominantFamily = %s, want ZETA (more observations)", got)
	}
	got = DominantFamily([]evidence.Evidence{ev("MH", "a", "ZETA", 0.8), ev("MH", "b", "ALPHA", 0.8)})
	if got != "ALPHA" {
		t.Errorf("DominantFamily = %s, want ALPHA (alphabetical)", got)
	}
}

func TestTopSignalsAndPercent(t *testing.T) {
	got := TopSignals([]evidence.Evidence{
		ev("MH", "A", "X", 0.29), ev("MH", "B", "X", 0.91), ev("MP", "C", "X", 0.5), ev("MP", "D", "X", 0.1),
	}, 3)
	if got != "B (91%), C (50%), A (29%)" {
		t.Errorf("TopSignals = %q", got)
	}
	if TopSignals(nil, 3) != "none" {
		t.Error("TopSignals(nil) != none")
	}
}

func TestFamilyTitle(t *testing.T) {
	tests := map[string]string{
		"BRAKE_SYSTEM": "Brake System",
		"ELECTRICAL":   "Electrical",
		"UNCLASSIFIED": "Unclassified",
		"":             "Unclassified",
	}
	for in, want := range tests {
		if got := FamilyTitle(in); got != want {
			t.Errorf("FamilyTitle(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCohortDerivations(t *testing.T) {
	items := []evidence.Evidence{
		ev("MH", "A", "BRAKES", 0.9),
		ev("MP", "A", "BRAKES", 0.5),
		ev("MH", "B", "ENGINE", 0.7),
		ev("FIM", "C", "ENGINE", 0.2),
	}
	anoms := Anomalies(items)
	if len(anoms) != 2 || anoms[0].SignalCode != "A" || anoms[0].Severity != UrgencyHigh || anoms[1].Severity != UrgencyMedium {
		t.Fatalf("anomalies = %+v", anoms)
	}
	if anoms[0].Count != 2 || anoms[0].MeanConfidence != 0.7 {
		t.Errorf("anomaly A stats = %+v", anoms[0])
	}
	if got := CohortRisk(anoms); got != RiskHigh {
		t.Errorf("CohortRisk = %s, want HIGH", got)
	}
	want := map[Urgency]int{UrgencyHigh: 1, UrgencyMedium: 1, UrgencyLow: 2}
	if diff := cmp.Diff(want, RiskDistribution(items)); diff != "" {
		t.Errorf("distribution mismatch (-want +got):\n%s", diff)
	}

	recs := CohortRecommendations(items, anoms)
	if len(recs) != 2 || recs[0].Family != "BRAKES" || recs[0].Urgency != UrgencyHigh {
		t.Fatalf("cohort recs = %+v", recs)
	}
	if len(recs[0].Evidence) != 2 || recs[0].Evidence[0].Confidence != 0.9 {
		t.Errorf("BRAKES evidence = %+v", recs[0].Evidence)
	}

	metrics := CohortMetrics(items)
	if metrics[0].Name != "evidence_count" || metrics[0].Value != 4 {
		t.Errorf("metrics[0] = %+v", metrics[0])
	}
	if metrics[1].Value != 3 {
		t.Errorf("distinct_signals = %v, want 3", metrics[1].Value)
	}
}

func TestCohortRisk_Levels(t *testing.T) {
	a := func(code string, sev Urgency) Anomaly { return Anomaly{SignalCode: code, Severity: sev} }
	tests := []struct {
		name  string
		anoms []Anomaly
		want  RiskLevel
	}{
		{"none", nil, RiskLow},
		{"medium only", []Anomaly{a("A", UrgencyMedium)}, RiskElevated},
		{"two high", []Anomaly{a("A", UrgencyHigh), a("B", UrgencyHigh)}, RiskHigh},
		{"three high codes", []Anomaly{a("A", UrgencyHigh), a("B", UrgencyHigh), a("C", UrgencyHigh)}, RiskCritical},
	}
	for _, tt := range tests {
		if got := CohortRisk(tt.anoms); got != tt.want {
			t.Errorf("%s: CohortRisk = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestAssemble_IsolatedFromInputs(t *testing.T) {
	recs := Recommend([]evidence.Evidence{ev("MH", "A", "X", 0.9)})
	summary := evidence.Consolidate(recs[0].Evidence)
	cohort := &CohortDetail{
		Metrics:          []Metric{{Name: "m", Value: 1}},
		Anomalies:        []Anomaly{{SignalCode: "A", Sources: []telemetry.SourceModel{"MH"}}},
		RiskDistribution: map[Urgency]int{UrgencyHigh: 1},
	}
	got := Assemble(Parts{
		Subject:         telemetry.Subject{Type: telemetry.SubjectVIN, ID: "V"},
		Summary:         "text",
		RiskLevel:       RiskCritical,
		Recommendations: recs,
		EvidenceSummary: summary,
		Cohort:          cohort,
		ModelVersion:    "v1",
		GeneratedAt:     t0,
	})

	recs[0].Evidence[0].SignalCode = "MUTATED"
	summary["MH"].Signals["A"] = 42
	cohort.Anomalies[0].Sources[0] = "FIM"
	cohort.RiskDistribution[UrgencyHigh] = 9

	if got.Recommendations[0].Evidence[0].SignalCode != "A" {
		t.Error("recommendation evidence shared with input")
	}
	if got.EvidenceSummary["MH"].Signals["A"] != 1 {
		t.Error("evidence summary shared with input")
	}
	if got.Cohort.Anomalies[0].Sources[0] != "MH" || got.Cohort.RiskDistribution[UrgencyHigh] != 1 {
		t.Error("cohort detail shared with input")
	}
	if got.SubjectType != telemetry.SubjectVIN || got.ModelVersion != "v1" {
		t.Errorf("header = %s/%s", got.SubjectType, got.ModelVersion)
	}
}

func TestDecisionValid(t *testing.T) {
	for _, d := range []Decision{DecisionApproved, DecisionRejected, DecisionNeedsReview} {
		if !d.Valid() {
			t.Errorf("%s should be valid", d)
		}
	}
	if Decision("MAYBE").Valid() {
		t.Error("MAYBE should be invalid")
	}
}
