package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nneupane1/telemetry-agent/internal/evidence"
	"github.com/nneupane1/telemetry-agent/internal/interpretation"
	"github.com/nneupane1/telemetry-agent/internal/telemetry"
	"github.com/nneupane1/telemetry-agent/pkg/framework"
)

// ErrMissingInput reports a stage that ran before the stage it reads from.
var ErrMissingInput = errors.New("orchestrate: upstream stage output missing")

// StageFunc is one pure pipeline step. It reads s and returns what it adds;
// it must not modify s or anything reachable from it.
type StageFunc func(ctx context.Context, s *State) (Delta, error)

// StageFactory builds a stage from its DSL declaration.
type StageFactory func(def framework.NodeDef) (StageFunc, error)

// Registry maps node families to stage factories.
type Registry map[string]StageFactory

// Stage families.
const (
	FamilyEvidence        = "evidence"
	FamilyCohortBranch    = "metrics_and_anomalies"
	FamilySummary         = "summary"
	FamilyCohortSummary   = "cohort_summary"
	FamilyRecommendations = "recommendations"
	FamilyConsolidation   = "consolidation"
	FamilyInterpretation  = "interpretation"
)

// DefaultRegistry returns the built-in stages.
func DefaultRegistry() Registry {
	return Registry{
		FamilyEvidence:        branchStage,
		FamilyCohortBranch:    branchStage,
		FamilySummary:         func(framework.NodeDef) (StageFunc, error) { return summaryStage, nil },
		FamilyCohortSummary:   func(framework.NodeDef) (StageFunc, error) { return cohortSummaryStage, nil },
		FamilyRecommendations: func(framework.NodeDef) (StageFunc, error) { return recommendationsStage, nil },
		FamilyConsolidation:   func(framework.NodeDef) (StageFunc, error) { return consolidationStage, nil },
		FamilyInterpretation:  func(framework.NodeDef) (StageFunc, error) { return interpretationStage, nil },
	}
}

// branchStage selects one source model's evidence. The "source" param names
// the model.
func branchStage(def framework.NodeDef) (StageFunc, error) {
	src := telemetry.SourceModel(strings.ToUpper(strings.TrimSpace(def.Params["source"])))
	if !src.Valid() {
		return nil, fmt.Errorf("stage %s: unknown source model %q", def.Name, def.Params["source"])
	}
	return func(_ context.Context, s *State) (Delta, error) {
		ev := evidence.FilterSource(s.Input.Evidence, src)
		b := &Branch{Source: src, Evidence: ev}
		if len(ev) > 0 {
			st := evidence.Consolidate(ev)[src]
			b.Stats = &st
		}
		return Delta{Branch: b}, nil
	}, nil
}

// joinBranches concatenates branch evidence in canonical source order.
func joinBranches(s *State) ([]evidence.Evidence, error) {
	var out []evidence.Evidence
	for _, src := range telemetry.SourceModels {
		b, ok := s.Branches[src]
		if !ok {
			return nil, fmt.Errorf("%w: branch %s", ErrMissingInput, src)
		}
		out = append(out, b.Evidence...)
	}
	return out, nil
}

func summaryStage(_ context.Context, s *State) (Delta, error) {
	ev, err := joinBranches(s)
	if err != nil {
		return Delta{}, err
	}
	return Delta{Summary: &Summary{
		Evidence: ev,
		Family:   interpretation.DominantFamily(ev),
		Signals:  evidence.BySignal(ev),
	}}, nil
}

func recommendationsStage(_ context.Context, s *State) (Delta, error) {
	if s.Summary == nil {
		return Delta{}, fmt.Errorf("%w: summary", ErrMissingInput)
	}
	return Delta{Recommendations: &Recommendations{Items: interpretation.Recommend(s.Summary.Evidence)}}, nil
}

func consolidationStage(_ context.Context, s *State) (Delta, error) {
	if s.Summary == nil {
		return Delta{}, fmt.Errorf("%w: summary", ErrMissingInput)
	}
	if s.Recommendations == nil {
		return Delta{}, fmt.Errorf("%w: recommendations", ErrMissingInput)
	}
	return Delta{Consolidation: &Consolidation{
		EvidenceSummary: evidence.Consolidate(s.Summary.Evidence),
		RiskLevel:       interpretation.RiskFor(s.Recommendations.Items),
	}}, nil
}

// cohortSummaryStage joins the branches and derives every cohort-level
// finding at once: metrics, anomalies, recommendations and risk.
func cohortSummaryStage(_ context.Context, s *State) (Delta, error) {
	ev, err := joinBranches(s)
	if err != nil {
		return Delta{}, err
	}
	anomalies := interpretation.Anomalies(ev)
	detail := &interpretation.CohortDetail{
		Description:      s.Input.Description,
		Metrics:          interpretation.CohortMetrics(ev),
		Anomalies:        anomalies,
		RiskDistribution: interpretation.RiskDistribution(ev),
	}

	summary := make(evidence.Summary)
	for _, src := range telemetry.SourceModels {
		if st := s.Branches[src].Stats; st != nil {
			summary[src] = *st
		}
	}

	return Delta{
		Summary: &Summary{
			Evidence: ev,
			Family:   interpretation.DominantFamily(ev),
			Signals:  evidence.BySignal(ev),
			Cohort:   detail,
		},
		Recommendations: &Recommendations{Items: interpretation.CohortRecommendations(ev, anomalies)},
		Consolidation: &Consolidation{
			EvidenceSummary: summary,
			RiskLevel:       interpretation.CohortRisk(anomalies),
		},
	}, nil
}

func interpretationStage(_ context.Context, s *State) (Delta, error) {
	switch {
	case s.Summary == nil:
		return Delta{}, fmt.Errorf("%w: summary", ErrMissingInput)
	case s.Recommendations == nil:
		return Delta{}, fmt.Errorf("%w: recommendations", ErrMissingInput)
	case s.Consolidation == nil:
		return Delta{}, fmt.Errorf("%w: consolidation", ErrMissingInput)
	}
	return Delta{Findings: &Findings{
		Subject:         s.Input.Subject,
		RiskLevel:       s.Consolidation.RiskLevel,
		Family:          s.Summary.Family,
		Evidence:        s.Summary.Evidence,
		Recommendations: s.Recommendations.Items,
		EvidenceSummary: s.Consolidation.EvidenceSummary,
		Cohort:          s.Summary.Cohort,
	}}, nil
}
