package narrative

import (
	"bytes"
	"strconv"
	"strings"
	"text/template"

	"github.com/nneupane1/telemetry-agent/internal/interpretation"
	"github.com/nneupane1/telemetry-agent/internal/reference"
	"github.com/nneupane1/telemetry-agent/internal/telemetry"
)

// templateKey selects a template by subject kind, risk level and whether the
// dominant family is classified.
type templateKey struct {
	subject    telemetry.SubjectType
	risk       interpretation.RiskLevel
	classified bool
}

type templateData struct {
	ID      string
	Risk    interpretation.RiskLevel
	Family  string
	Top     string
	Action  string
	Metrics string
	Count   int
	High    int
}

var vinTemplates = map[interpretation.RiskLevel]string{
	interpretation.RiskCritical: `VIN {{.ID}} is at CRITICAL risk: high-confidence predictive anomalies concentrate in the {{.Family}} system. Dominant signals: {{.Top}}.{{if .Action}} {{.Action}}{{end}}`,
	interpretation.RiskHigh:     `VIN {{.ID}} shows multiple high-confidence predictive anomalies (HIGH risk), led by the {{.Family}} system. Dominant signals: {{.Top}}.{{if .Action}} {{.Action}}{{end}}`,
	interpretation.RiskElevated: `VIN {{.ID}} shows ELEVATED predictive risk with active anomaly signals in the {{.Family}} system. Dominant signals: {{.Top}}.{{if .Action}} {{.Action}}{{end}}`,
	interpretation.RiskLow:      `VIN {{.ID}} currently has no high-confidence anomaly cluster (LOW risk). Observed signals: {{.Top}}.`,
}

var vinUnclassifiedTemplates = map[interpretation.RiskLevel]string{
	interpretation.RiskCritical: `VIN {{.ID}} is at CRITICAL risk from high-confidence signals that have no reference classification. Dominant signals: {{.Top}}. Escalate for manual diagnosis.`,
	interpretation.RiskHigh:     `VIN {{.ID}} shows high-confidence anomalies (HIGH risk) from signals without a reference classification. Dominant signals: {{.Top}}. Escalate for manual diagnosis.`,
	interpretation.RiskElevated: `VIN {{.ID}} shows ELEVATED predictive risk from signals without a reference classification. Dominant signals: {{.Top}}.`,
	interpretation.RiskLow:      `VIN {{.ID}} currently has no high-confidence anomaly cluster (LOW risk). Observed signals: {{.Top}}.`,
}

var cohortTemplates = map[interpretation.RiskLevel]string{
	interpretation.RiskCritical: `Cohort {{.ID}} is at CRITICAL risk: {{.High}} distinct high-severity anomalies, concentrated in the {{.Family}} system, require immediate fleet triage. Key metrics: {{.Metrics}}.`,
	interpretation.RiskHigh:     `Cohort {{.ID}} has high-severity anomaly concentration (HIGH risk) in the {{.Family}} system requiring immediate triage. Key metrics: {{.Metrics}}.`,
	interpretation.RiskElevated: `Cohort {{.ID}} has emerging anomaly patterns (ELEVATED risk) that should be monitored, mostly in the {{.Family}} system. Key metrics: {{.Metrics}}.`,
	interpretation.RiskLow:      `Cohort {{.ID}} remains stable with no significant anomaly concentration (LOW risk). Key metrics: {{.Metrics}}.`,
}

var templates = compileTemplates()

func compileTemplates() map[templateKey]*template.Template {
	out := make(map[templateKey]*template.Template)
	add := func(subject telemetry.SubjectType, classified bool, set map[interpretation.RiskLevel]string) {
		for risk, text := range set {
			name := string(subject) + "/" + string(risk)
			out[templateKey{subject, risk, classified}] = template.Must(template.New(name).Parse(text))
		}
	}
	add(telemetry.SubjectVIN, true, vinTemplates)
	add(telemetry.SubjectVIN, false, vinUnclassifiedTemplates)
	add(telemetry.SubjectCohort, true, cohortTemplates)
	add(telemetry.SubjectCohort, false, cohortTemplates)
	return out
}

func renderTemplate(in Input) string {
	risk := in.RiskLevel
	if risk == "" {
		risk = interpretation.RiskLow
	}
	classified := in.Family != "" && in.Family != reference.FamilyUnclassified
	tmpl, ok := templates[templateKey{in.Subject.Type, risk, classified}]
	if !ok {
		tmpl = templates[templateKey{telemetry.SubjectVIN, risk, classified}]
	}

	data := templateData{
		ID:     in.Subject.ID,
		Risk:   risk,
		Family: interpretation.FamilyTitle(in.Family),
		Top:    interpretation.TopSignals(in.Evidence, 3),
	}
	if len(in.Recommendations) > 0 {
		data.Action = firstUrgent(in.Recommendations).SuggestedAction
	}
	if in.Cohort != nil {
		data.Metrics = formatMetrics(in.Cohort.Metrics, 3)
		data.Count = len(in.Cohort.Anomalies)
		for _, a := range in.Cohort.Anomalies {
			if a.Severity == interpretation.UrgencyHigh {
				data.High++
			}
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		// Templates are compiled at init and only read plain fields.
		return strings.TrimSpace(in.Subject.String() + " risk level " + string(risk) + ".")
	}
	return normalizeSpace(buf.String())
}

func firstUrgent(recs []interpretation.Recommendation) interpretation.Recommendation {
	best := recs[0]
	for _, r := range recs[1:] {
		if rank(r.Urgency) > rank(best.Urgency) {
			best = r
		}
	}
	return best
}

func rank(u interpretation.Urgency) int {
	switch u {
	case interpretation.UrgencyHigh:
		return 2
	case interpretation.UrgencyMedium:
		return 1
	}
	return 0
}

func formatMetrics(metrics []interpretation.Metric, n int) string {
	if len(metrics) == 0 {
		return "no dominant metrics"
	}
	if len(metrics) > n {
		metrics = metrics[:n]
	}
	parts := make([]string, len(metrics))
	for i, m := range metrics {
		parts[i] = m.Name + "=" + trimFloat(m.Value)
	}
	return strings.Join(parts, ", ")
}

func trimFloat(v float64) string {
	s := strings.TrimRight(strings.TrimRight(strconv.FormatFloat(v, 'f', 4, 64), "0"), ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
