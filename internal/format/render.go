package format

import (
	"fmt"
	"strings"

	"github.com/nneupane1/telemetry-agent/internal/display"
	"github.com/nneupane1/telemetry-agent/internal/interpretation"
	"github.com/nneupane1/telemetry-agent/internal/mart"
	"github.com/nneupane1/telemetry-agent/internal/telemetry"
)

// Interpretation renders res as a sequence of tables separated by blank
// lines. Sections with no rows are omitted.
func Interpretation(res *interpretation.Interpretation, m Mode) string {
	var b strings.Builder
	write := func(tb TableBuilder) {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(tb.String())
	}

	head := NewTable(m)
	head.Title(fmt.Sprintf("%s %s", res.SubjectType, res.SubjectID))
	head.Header("Field", "Value")
	head.Row("Risk", display.Risk(res.RiskLevel))
	head.Row("Summary", res.Summary)
	head.Row("Narrative", display.Narrative(res.NarrativeSource))
	head.Row("Pipeline", display.Mode(res.ExecutionMode))
	head.Row("Model version", OrDash(res.ModelVersion))
	head.Row("Request", res.RequestID)
	head.Row("Generated", Timestamp(res.GeneratedAt))
	if res.Cohort != nil && res.Cohort.Description != "" {
		head.Row("Cohort", res.Cohort.Description)
	}
	head.Columns(ColumnConfig{Number: 2, MaxWidth: 80})
	write(head)

	if len(res.Recommendations) > 0 {
		write(recommendationTable(res.Recommendations, m))
	}
	if len(res.EvidenceSummary) > 0 {
		write(evidenceTable(res, m))
	}
	if res.Cohort != nil {
		if len(res.Cohort.Metrics) > 0 {
			tb := NewTable(m)
			tb.Title("Cohort metrics")
			tb.Header("Metric", "Value")
			for _, mt := range res.Cohort.Metrics {
				tb.Row(mt.Name, fmt.Sprintf("%.4g", mt.Value))
			}
			tb.Columns(ColumnConfig{Number: 2, Align: AlignRight})
			write(tb)
		}
		if len(res.Cohort.Anomalies) > 0 {
			write(anomalyTable(res.Cohort.Anomalies, m))
		}
	}
	if len(res.Rejections) > 0 {
		write(rejectionTable(res.Rejections, m))
	}
	return b.String()
}

func recommendationTable(recs []interpretation.Recommendation, m Mode) TableBuilder {
	tb := NewTable(m)
	tb.Title("Recommendations")
	tb.Header("#", "Urgency", "Title", "Confidence", "Evidence", "Action")
	for i, r := range recs {
		tb.Row(i+1, display.Urgency(r.Urgency), r.Title, Confidence(r.Confidence), len(r.Evidence), OrDash(r.SuggestedAction))
	}
	tb.Columns(
		ColumnConfig{Number: 1, Align: AlignRight},
		ColumnConfig{Number: 3, MaxWidth: 40},
		ColumnConfig{Number: 4, Align: AlignRight},
		ColumnConfig{Number: 5, Align: AlignRight},
		ColumnConfig{Number: 6, MaxWidth: 50},
	)
	return tb
}

func evidenceTable(res *interpretation.Interpretation, m Mode) TableBuilder {
	tb := NewTable(m)
	tb.Title("Evidence by source")
	tb.Header("Source", "Rows", "Mean", "Max", "First seen", "Last seen", "Signals")
	total := 0
	for _, src := range telemetry.SourceModels {
		st, ok := res.EvidenceSummary[src]
		if !ok {
			continue
		}
		total += st.Count
		tb.Row(display.Source(src), st.Count, Confidence(st.MeanConfidence), Confidence(st.MaxConfidence),
			Timestamp(st.FirstSeen), Timestamp(st.LastSeen), len(st.Signals))
	}
	tb.Footer("Total", total, "", "", "", "", "")
	tb.Columns(
		ColumnConfig{Number: 2, Align: AlignRight},
		ColumnConfig{Number: 3, Align: AlignRight},
		ColumnConfig{Number: 4, Align: AlignRight},
		ColumnConfig{Number: 7, Align: AlignRight},
	)
	return tb
}

func anomalyTable(anomalies []interpretation.Anomaly, m Mode) TableBuilder {
	tb := NewTable(m)
	tb.Title("Anomalies")
	tb.Header("Signal", "Description", "Family", "Severity", "Max", "Mean", "Rows", "Sources")
	for _, a := range anomalies {
		sources := make([]string, len(a.Sources))
		for i, s := range a.Sources {
			sources[i] = string(s)
		}
		tb.Row(a.SignalCode, Truncate(a.Description, 48), interpretation.FamilyTitle(a.Family), display.Urgency(a.Severity),
			Confidence(a.Confidence), Confidence(a.MeanConfidence), a.Count, strings.Join(sources, ","))
	}
	tb.Columns(
		ColumnConfig{Number: 5, Align: AlignRight},
		ColumnConfig{Number: 6, Align: AlignRight},
		ColumnConfig{Number: 7, Align: AlignRight},
	)
	return tb
}

func rejectionTable(rejections []telemetry.Rejection, m Mode) TableBuilder {
	tb := NewTable(m)
	tb.Title("Rejected rows")
	tb.Header("Index", "Row", "Reason", "Detail")
	for _, r := range rejections {
		tb.Row(r.Index, OrDash(r.RowID), display.Reason(r.Reason), Truncate(r.Detail, 60))
	}
	tb.Columns(ColumnConfig{Number: 1, Align: AlignRight})
	return tb
}

// Cohorts renders the cohort catalogue.
func Cohorts(cohorts []mart.Cohort, m Mode) string {
	tb := NewTable(m)
	tb.Header("Cohort", "Description", "VINs")
	total := 0
	for _, c := range cohorts {
		total += c.VINCount
		tb.Row(c.ID, OrDash(c.Description), c.VINCount)
	}
	tb.Footer(fmt.Sprintf("%d cohorts", len(cohorts)), "", total)
	tb.Columns(ColumnConfig{Number: 3, Align: AlignRight})
	return tb.String()
}

// Approvals renders ledger entries oldest first, as stored.
func Approvals(records []interpretation.ApprovalRecord, m Mode) string {
	tb := NewTable(m)
	tb.Header("Time", "Subject", "Decision", "Actor", "Comment", "Model")
	for _, r := range records {
		tb.Row(Timestamp(r.Timestamp), fmt.Sprintf("%s %s", r.SubjectType, r.SubjectID),
			display.Decision(r.Decision), r.Actor, Truncate(OrDash(r.Comment), 50), OrDash(r.ModelVersion))
	}
	return tb.String()
}

// Capability is one probed feature.
type Capability struct {
	Name      string
	Available bool
	Cause     string
}

// Capabilities renders probe results.
func Capabilities(caps []Capability, m Mode) string {
	tb := NewTable(m)
	tb.Header("Capability", "Available", "Cause")
	for _, c := range caps {
		tb.Row(c.Name, BoolMark(c.Available), OrDash(c.Cause))
	}
	tb.Columns(ColumnConfig{Number: 2, Align: AlignCenter})
	return tb.String()
}

// Pipeline renders the stage order of a plan.
func Pipeline(name string, stages []string, m Mode) string {
	tb := NewTable(m)
	tb.Title("Pipeline " + name)
	tb.Header("#", "Node", "Stage")
	for i, s := range stages {
		tb.Row(i+1, s, display.Stage(s))
	}
	tb.Columns(ColumnConfig{Number: 1, Align: AlignRight})
	return tb.String()
}
