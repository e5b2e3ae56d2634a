package interpretation

import (
	"fmt"
	"strings"

	"github.com/nneupane1/telemetry-agent/internal/evidence"
	"github.com/nneupane1/telemetry-agent/internal/telemetry"
)

// UrgencyFor maps the strongest evidence confidence to an urgency.
func UrgencyFor(maxConfidence float64) Urgency {
	switch {
	case maxConfidence >= HighThreshold:
		return UrgencyHigh
	case maxConfidence >= MediumThreshold:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

// RiskFor derives the VIN risk level from its recommendations.
func RiskFor(recs []Recommendation) RiskLevel {
	risk := RiskLow
	for _, r := range recs {
		switch r.Urgency {
		case UrgencyHigh:
			if r.Confidence >= CriticalThreshold {
				return RiskCritical
			}
			risk = RiskHigh
		case UrgencyMedium:
			if risk == RiskLow {
				risk = RiskElevated
			}
		}
	}
	return risk
}

var sourceNames = map[telemetry.SourceModel]string{
	telemetry.MachineHealth:         "Machine Health",
	telemetry.MaintenancePrediction: "Maintenance Prediction",
	telemetry.FailureImpact:         "Failure Impact",
}

// SourceName is the display name of a source model.
func SourceName(m telemetry.SourceModel) string {
	if n, ok := sourceNames[m]; ok {
		return n
	}
	return string(m)
}

var actions = map[Urgency]string{
	UrgencyHigh:   "Schedule a workshop inspection within 48 hours and hold the vehicle from long-haul assignments.",
	UrgencyMedium: "Add the affected components to the next planned maintenance visit.",
	UrgencyLow:    "No action required; keep monitoring the signal trend.",
}

// Recommend builds one recommendation per source model present in ev, in
// canonical source order. Each recommendation lists its evidence strongest
// first; its urgency follows the strongest item and its confidence is the
// mean of all items.
func Recommend(ev []evidence.Evidence) []Recommendation {
	var out []Recommendation
	for _, src := range telemetry.SourceModels {
		group := evidence.ByConfidence(evidence.FilterSource(ev, src))
		if len(group) == 0 {
			continue
		}
		top := group[0]
		var sum float64
		for _, e := range group {
			sum += e.Confidence
		}
		urgency := UrgencyFor(top.Confidence)
		family := DominantFamily(group)

		out = append(out, Recommendation{
			Title:           title(urgency, family),
			Rationale:       rationale(src, group),
			Urgency:         urgency,
			SuggestedAction: actions[urgency],
			SourceModel:     src,
			Family:          family,
			Confidence:      evidence.Round4(sum / float64(len(group))),
			Evidence:        group,
		})
	}
	return out
}

// DominantFamily returns the family of the strongest evidence. Ties go to the
// family with more observations, then alphabetical order.
func DominantFamily(ev []evidence.Evidence) string {
	type agg struct {
		max   float64
		count int
	}
	fams := make(map[string]*agg)
	for _, e := range ev {
		a, ok := fams[e.Family]
		if !ok {
			a = &agg{}
			fams[e.Family] = a
		}
		a.count++
		if e.Confidence > a.max {
			a.max = e.Confidence
		}
	}
	best := ""
	var bestAgg *agg
	for fam, a := range fams {
		switch {
		case bestAgg == nil,
			a.max > bestAgg.max,
			a.max == bestAgg.max && a.count > bestAgg.count,
			a.max == bestAgg.max && a.count == bestAgg.count && fam < best:
			best, bestAgg = fam, a
		}
	}
	return best
}

func title(u Urgency, family string) string {
	f := FamilyTitle(family)
	switch u {
	case UrgencyHigh:
		return "Inspect " + f + " system immediately"
	case UrgencyMedium:
		return "Plan maintenance for " + f + " system"
	default:
		return "Monitor " + f + " signals"
	}
}

func rationale(src telemetry.SourceModel, group []evidence.Evidence) string {
	top := group[0]
	noun := "signal"
	if len(group) != 1 {
		noun = "signals"
	}
	return fmt.Sprintf("%s reported %d %s; strongest is %s (%s) at %s confidence (%s).",
		SourceName(src), len(group), noun, top.SignalCode, top.SignalDescription, Percent(top.Confidence), top.ConfidenceBand)
}

// Percent formats a confidence as a truncated whole percentage.
func Percent(c float64) string {
	return fmt.Sprintf("%d%%", int(c*100+1e-9))
}

// TopSignals formats the n strongest signals as "CODE (NN%)".
func TopSignals(ev []evidence.Evidence, n int) string {
	ranked := evidence.ByConfidence(ev)
	if len(ranked) == 0 {
		return "none"
	}
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	parts := make([]string, len(ranked))
	for i, e := range ranked {
		parts[i] = fmt.Sprintf("%s (%s)", e.SignalCode, Percent(e.Confidence))
	}
	return strings.Join(parts, ", ")
}
