package interpretation

import (
	"fmt"
	"sort"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nneupane1/telemetry-agent/internal/evidence"
	"github.com/nneupane1/telemetry-agent/internal/telemetry"
)

// CriticalAnomalyCodes is how many distinct HIGH-severity anomaly codes make
// a cohort CRITICAL.
const CriticalAnomalyCodes = 3

// FamilyTitle renders a family tag such as "BRAKE_SYSTEM" as "Brake System".
func FamilyTitle(family string) string {
	if family == "" {
		return "Unclassified"
	}
	words := make([]rune, 0, len(family))
	for _, r := range family {
		if r == '_' || r == '-' {
			r = ' '
		}
		words = append(words, r)
	}
	// A Caser keeps state between calls and must not be shared across goroutines.
	return cases.Title(language.English).String(string(words))
}

// Anomalies flags every signal whose strongest observation reaches MEDIUM
// urgency. Result order: severity, then confidence, then signal code.
func Anomalies(ev []evidence.Evidence) []Anomaly {
	var out []Anomaly
	for _, st := range evidence.BySignal(ev) {
		sev := UrgencyFor(st.MaxConfidence)
		if sev == UrgencyLow {
			continue
		}
		out = append(out, Anomaly{
			SignalCode:     st.SignalCode,
			Description:    st.Description,
			Family:         st.Family,
			Severity:       sev,
			Confidence:     st.MaxConfidence,
			MeanConfidence: st.MeanConfidence,
			Count:          st.Count,
			Sources:        st.Sources,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if ri, rj := urgencyRank(out[i].Severity), urgencyRank(out[j].Severity); ri != rj {
			return ri > rj
		}
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].SignalCode < out[j].SignalCode
	})
	return out
}

// RiskDistribution counts evidence items per urgency band. All three bands
// are always present.
func RiskDistribution(ev []evidence.Evidence) map[Urgency]int {
	out := map[Urgency]int{UrgencyLow: 0, UrgencyMedium: 0, UrgencyHigh: 0}
	for _, e := range ev {
		out[UrgencyFor(e.Confidence)]++
	}
	return out
}

// CohortRisk derives a cohort's risk level from its anomalies.
func CohortRisk(anomalies []Anomaly) RiskLevel {
	if len(anomalies) == 0 {
		return RiskLow
	}
	high := make(map[string]bool)
	for _, a := range anomalies {
		if a.Severity == UrgencyHigh {
			high[a.SignalCode] = true
		}
	}
	switch {
	case len(high) >= CriticalAnomalyCodes:
		return RiskCritical
	case len(high) > 0:
		return RiskHigh
	default:
		return RiskElevated
	}
}

// CohortMetrics summarises a cohort's evidence as named measurements in a
// fixed order.
func CohortMetrics(ev []evidence.Evidence) []Metric {
	var sum float64
	high := 0
	for _, e := range ev {
		sum += e.Confidence
		if UrgencyFor(e.Confidence) == UrgencyHigh {
			high++
		}
	}
	mean, share := 0.0, 0.0
	if len(ev) > 0 {
		mean = evidence.Round4(sum / float64(len(ev)))
		share = evidence.Round4(float64(high) / float64(len(ev)))
	}
	out := []Metric{
		{Name: "evidence_count", Value: float64(len(ev))},
		{Name: "distinct_signals", Value: float64(len(evidence.Codes(ev)))},
		{Name: "mean_confidence", Value: mean},
		{Name: "high_confidence_share", Value: share},
	}
	summary := evidence.Consolidate(ev)
	for _, src := range telemetry.SourceModels {
		if st, ok := summary[src]; ok {
			out = append(out, Metric{Name: fmt.Sprintf("mean_confidence_%s", src), Value: st.MeanConfidence})
		}
	}
	return out
}

// CohortRecommendations groups anomalies by family. Each recommendation takes
// the worst severity in its family and cites the family's evidence.
func CohortRecommendations(ev []evidence.Evidence, anomalies []Anomaly) []Recommendation {
	type group struct {
		family string
		sev    Urgency
		confs  []float64
		codes  map[string]bool
	}
	var order []*group
	byFamily := make(map[string]*group)
	for _, a := range anomalies {
		g, ok := byFamily[a.Family]
		if !ok {
			g = &group{family: a.Family, sev: a.Severity, codes: make(map[string]bool)}
			byFamily[a.Family] = g
			order = append(order, g)
		}
		if urgencyRank(a.Severity) > urgencyRank(g.sev) {
			g.sev = a.Severity
		}
		g.confs = append(g.confs, a.Confidence)
		g.codes[a.SignalCode] = true
	}

	out := make([]Recommendation, 0, len(order))
	for _, g := range order {
		var cited []evidence.Evidence
		for _, e := range ev {
			if g.codes[e.SignalCode] {
				cited = append(cited, e)
			}
		}
		cited = evidence.ByConfidence(cited)
		var sum float64
		for _, c := range g.confs {
			sum += c
		}
		out = append(out, Recommendation{
			Title:           "Fleet review: " + title(g.sev, g.family),
			Rationale:       fmt.Sprintf("%d anomalous %s signal(s) across the cohort; strongest %s.", len(g.codes), FamilyTitle(g.family), TopSignals(cited, 1)),
			Urgency:         g.sev,
			SuggestedAction: actions[g.sev],
			Family:          g.family,
			Confidence:      evidence.Round4(sum / float64(len(g.confs))),
			Evidence:        cited,
		})
	}
	return out
}

func urgencyRank(u Urgency) int {
	switch u {
	case UrgencyHigh:
		return 2
	case UrgencyMedium:
		return 1
	}
	return 0
}
