package interpretation

import (
	"time"

	"github.com/nneupane1/telemetry-agent/internal/evidence"
	"github.com/nneupane1/telemetry-agent/internal/telemetry"
)

// Parts are the stage outputs an Interpretation is assembled from.
type Parts struct {
	Subject         telemetry.Subject
	Summary         string
	NarrativeSource NarrativeSource
	RiskLevel       RiskLevel
	Recommendations []Recommendation
	EvidenceSummary evidence.Summary
	Cohort          *CohortDetail
	Rejections      []telemetry.Rejection
	ModelVersion    string
	ExecutionMode   ExecutionMode
	RequestID       string
	GeneratedAt     time.Time
}

// Assemble packages parts into an Interpretation. It performs no I/O and
// deep-copies every slice and map, so later changes to parts never reach the
// returned value.
func Assemble(p Parts) Interpretation {
	recs := make([]Recommendation, len(p.Recommendations))
	for i, r := range p.Recommendations {
		recs[i] = cloneRecommendation(r)
	}
	summary := p.EvidenceSummary.Clone()
	if summary == nil {
		summary = evidence.Summary{}
	}
	return Interpretation{
		SubjectType:     p.Subject.Type,
		SubjectID:       p.Subject.ID,
		Summary:         p.Summary,
		NarrativeSource: p.NarrativeSource,
		RiskLevel:       p.RiskLevel,
		Recommendations: recs,
		EvidenceSummary: summary,
		Cohort:          cloneCohort(p.Cohort),
		Rejections:      append([]telemetry.Rejection(nil), p.Rejections...),
		ModelVersion:    p.ModelVersion,
		ExecutionMode:   p.ExecutionMode,
		RequestID:       p.RequestID,
		GeneratedAt:     p.GeneratedAt.UTC(),
	}
}

func cloneRecommendation(r Recommendation) Recommendation {
	r.Evidence = append([]evidence.Evidence(nil), r.Evidence...)
	return r
}

func cloneCohort(c *CohortDetail) *CohortDetail {
	if c == nil {
		return nil
	}
	out := &CohortDetail{
		Description:      c.Description,
		Metrics:          append([]Metric(nil), c.Metrics...),
		Anomalies:        make([]Anomaly, len(c.Anomalies)),
		RiskDistribution: make(map[Urgency]int, len(c.RiskDistribution)),
	}
	for i, a := range c.Anomalies {
		a.Sources = append([]telemetry.SourceModel(nil), a.Sources...)
		out.Anomalies[i] = a
	}
	for k, v := range c.RiskDistribution {
		out.RiskDistribution[k] = v
	}
	return out
}
