package narrative

import (
	"fmt"
	"strings"

	"github.com/nneupane1/telemetry-agent/internal/interpretation"
)

const promptPreamble = `You write short maintenance briefings for fleet engineers.
Use only the facts listed below. Mention only the signal codes listed under Evidence.
State the risk level explicitly. Do not speculate and do not hedge.
Write 2 to 4 sentences of plain prose.`

// BuildPrompt renders the generative prompt. It carries only resolved
// evidence, recommendations and cohort findings; raw rows and extra fields
// never enter it.
func BuildPrompt(in Input) string {
	var b strings.Builder
	b.WriteString(promptPreamble)
	b.WriteString("\n\n")

	subject := "VIN"
	if in.Cohort != nil {
		subject = "Cohort"
	}
	fmt.Fprintf(&b, "Subject: %s %s\n", subject, in.Subject.ID)
	fmt.Fprintf(&b, "Risk level: %s\n", in.RiskLevel)
	if in.Family != "" {
		fmt.Fprintf(&b, "Dominant failure family: %s\n", interpretation.FamilyTitle(in.Family))
	}

	b.WriteString("\nEvidence:\n")
	if len(in.Evidence) == 0 {
		b.WriteString("- none\n")
	}
	for _, e := range in.Evidence {
		fmt.Fprintf(&b, "- [%s] %s %s: %s confidence (%s)\n",
			e.SourceModel, e.SignalCode, e.SignalDescription, interpretation.Percent(e.Confidence), e.ConfidenceBand)
	}

	if len(in.Recommendations) > 0 {
		b.WriteString("\nRecommendations:\n")
		for _, r := range in.Recommendations {
			fmt.Fprintf(&b, "- %s (%s urgency): %s\n", r.Title, r.Urgency, r.SuggestedAction)
		}
	}

	if in.Cohort != nil {
		b.WriteString("\nCohort metrics:\n")
		for _, m := range in.Cohort.Metrics {
			fmt.Fprintf(&b, "- %s = %s\n", m.Name, trimFloat(m.Value))
		}
		if len(in.Cohort.Anomalies) > 0 {
			b.WriteString("\nAnomalies:\n")
			for _, a := range in.Cohort.Anomalies {
				fmt.Fprintf(&b, "- %s %s: %s severity, %d observations\n", a.SignalCode, a.Description, a.Severity, a.Count)
			}
		}
	}
	return b.String()
}
