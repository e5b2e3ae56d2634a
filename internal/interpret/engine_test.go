package interpret

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/nneupane1/telemetry-agent/internal/config"
	"github.com/nneupane1/telemetry-agent/internal/interpretation"
	"github.com/nneupane1/telemetry-agent/internal/llm"
	"github.com/nneupane1/telemetry-agent/internal/mart"
	"github.com/nneupane1/telemetry-agent/internal/narrative"
	"github.com/nneupane1/telemetry-agent/internal/orchestrate"
	"github.com/nneupane1/telemetry-agent/internal/reference"
	"github.com/nneupane1/telemetry-agent/internal/store"
	"github.com/nneupane1/telemetry-agent/internal/telemetry"
	"github.com/nneupane1/telemetry-agent/pkg/framework"
)

const (
	vin        = "WVWZZZ1JZXW000001"
	unknownVIN = "WVWZZZ1JZXW000002"
	cohortID   = "EU_DIESEL"
)

var now = time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)

const marts = `{
  "vins": [
    {"vin": "WVWZZZ1JZXW000001", "mh": [
      {"row_id": "r1", "signal_code": "HI-1001", "confidence": 0.91, "observed_at": "2026-02-19T08:00:00Z"},
      {"row_id": "r2", "signal_code": "HI-2002", "confidence": 0.40, "observed_at": "2026-02-19T09:00:00Z"}
    ]},
    {"vin": "WVWZZZ1JZXW000002", "fim": [
      {"row_id": "u1", "signal_code": "ZZ-9999", "confidence": 0.7, "observed_at": "2026-02-19T08:00:00Z"}
    ]},
    {"vin": "WVWZZZ1JZXW000003", "mp": [
      {"row_id": "ok", "signal_code": "HI-1001", "confidence": 0.5, "observed_at": "2026-02-19T08:00:00Z"},
      {"row_id": "bad", "signal_code": "HI-1001", "confidence": 1.4, "observed_at": "2026-02-19T08:00:00Z"}
    ]}
  ],
  "cohorts": [
    {"cohort_id": "EU_DIESEL", "description": "Euro 6 diesel vans", "vin_count": 2,
     "mh":  [{"row_id": "c1", "signal_code": "HI-1001", "confidence": 0.93, "observed_at": "2026-02-18T08:00:00Z"}],
     "fim": [{"row_id": "c2", "signal_code": "HI-2002", "confidence": 0.62, "observed_at": "2026-02-18T09:00:00Z"}]}
  ]
}`

func refs() *reference.Resolver {
	return reference.NewResolver(reference.Merge(
		reference.Layer{Name: "catalog", Patches: map[string]reference.Patch{
			"HI-1001": {Label: "Battery voltage drop"},
			"HI-2002": {Label: "Coolant temperature drift"},
			"HI-3003": {Label: "Brake pad wear"},
		}},
		reference.Layer{Name: "family", Patches: map[string]reference.Patch{
			"HI-1001": {Family: "BATTERY"},
			"HI-2002": {Family: "COOLING"},
			"HI-3003": {Family: "BRAKES"},
		}},
		reference.Layer{Name: "confidence", Bands: []reference.Band{
			{Min: 0, Max: 0.59, Label: "low"},
			{Min: 0.6, Max: 0.84, Label: "medium"},
			{Min: 0.85, Max: 1, Label: "high"},
		}},
	))
}

type countingGenerator struct {
	mu    sync.Mutex
	text  string
	calls int
}

func (g *countingGenerator) GenerateText(context.Context, string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.text, nil
}

func (g *countingGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func newEngine(t *testing.T, mutate func(*config.Config, *Deps)) *Engine {
	t.Helper()
	src, err := mart.NewSampleSourceFromBytes([]byte(marts), mart.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	var seq int
	d := Deps{
		Source:     src,
		References: refs(),
		Ledger:     store.NewMemStore(),
		Clock:      func() time.Time { return now },
		NewID: func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		},
	}
	if mutate != nil {
		mutate(&cfg, &d)
	}
	d.Config = cfg
	e, err := New(context.Background(), d)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func opts(e *Engine) Options { return DefaultOptions(e.cfg) }

func TestInterpretVIN_Scenario(t *testing.T) {
	e := newEngine(t, nil)
	got, err := e.InterpretVIN(context.Background(), strings.ToLower(vin), opts(e))
	if err != nil {
		t.Fatalf("InterpretVIN: %v", err)
	}
	if got.RiskLevel != interpretation.RiskHigh {
		t.Errorf("risk = %s, want HIGH", got.RiskLevel)
	}
	if len(got.Recommendations) != 1 {
		t.Fatalf("recommendations = %d, want 1", len(got.Recommendations))
	}
	rec := got.Recommendations[0]
	if rec.Urgency != interpretation.UrgencyHigh || rec.Evidence[0].Confidence != 0.91 || rec.Evidence[0].RowID != "r1" {
		t.Errorf("recommendation = %+v", rec)
	}
	mh := got.EvidenceSummary[telemetry.MachineHealth]
	if mh.Count != 2 || mh.MeanConfidence != 0.655 {
		t.Errorf("MH summary = %+v, want count 2 mean 0.655", mh)
	}
	if got.SubjectID != vin || got.SubjectType != telemetry.SubjectVIN {
		t.Errorf("subject = %s %s", got.SubjectType, got.SubjectID)
	}
	if got.ExecutionMode != interpretation.ModeGraph || got.NarrativeSource != interpretation.NarrativeDeterministic {
		t.Errorf("mode/narrative = %s/%s", got.ExecutionMode, got.NarrativeSource)
	}
	if got.ModelVersion != config.DefaultModelVersion || got.RequestID != "id-1" || !got.GeneratedAt.Equal(now) {
		t.Errorf("stamps = %q %q %v", got.ModelVersion, got.RequestID, got.GeneratedAt)
	}
	if !strings.Contains(got.Summary, vin) {
		t.Errorf("summary does not name the VIN: %q", got.Summary)
	}
}

func TestInterpretVIN_UnknownCodeIsUnclassified(t *testing.T) {
	e := newEngine(t, nil)
	got, err := e.InterpretVIN(context.Background(), unknownVIN, opts(e))
	if err != nil {
		t.Fatalf("InterpretVIN: %v", err)
	}
	ev := got.Recommendations[0].Evidence[0]
	if ev.SignalDescription != "ZZ-9999" || ev.Family != reference.FamilyUnclassified {
		t.Errorf("unknown code resolved to %q / %q", ev.SignalDescription, ev.Family)
	}
}

func TestInterpretVIN_GraphDisabled(t *testing.T) {
	gen := &countingGenerator{text: "irrelevant"}
	e := newEngine(t, func(c *config.Config, d *Deps) {
		c.Features.GraphEnabled = false
		c.Features.GenerativeEnabled = true
		d.Generator = gen
	})
	if caps := e.Capabilities(); caps.Graph || caps.GraphCause == "" || !caps.Generative {
		t.Errorf("capabilities = %+v", caps)
	}

	o := opts(e)
	o.AllowFallback = false
	_, err := e.InterpretVIN(context.Background(), vin, o)
	var oe *orchestrate.OrchestrationUnavailableError
	if !errors.As(err, &oe) || !errors.Is(err, orchestrate.ErrOrchestrationUnavailable) {
		t.Fatalf("err = %v, want OrchestrationUnavailable", err)
	}
	if gen.Calls() != 0 {
		t.Errorf("narrative generator called %d times on an unavailable pipeline", gen.Calls())
	}

	o.AllowFallback = true
	got, err := e.InterpretVIN(context.Background(), vin, o)
	if err != nil {
		t.Fatalf("fallback run: %v", err)
	}
	if got.ExecutionMode != interpretation.ModeSequential {
		t.Errorf("mode = %s, want sequential", got.ExecutionMode)
	}
}

var ignoreStamps = cmpopts.IgnoreFields(interpretation.Interpretation{}, "RequestID", "GeneratedAt")

func TestInterpret_IdempotentAndModeEquivalent(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()
	for _, call := range []func(Options) (*interpretation.Interpretation, error){
		func(o Options) (*interpretation.Interpretation, error) { return e.InterpretVIN(ctx, vin, o) },
		func(o Options) (*interpretation.Interpretation, error) { return e.InterpretCohort(ctx, cohortID, o) },
	} {
		first, err := call(opts(e))
		if err != nil {
			t.Fatal(err)
		}
		second, err := call(opts(e))
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(first, second, ignoreStamps); diff != "" {
			t.Errorf("repeat interpretation differs (-first +second):\n%s", diff)
		}

		o := opts(e)
		o.Mode = interpretation.ModeSequential
		seq, err := call(o)
		if err != nil {
			t.Fatal(err)
		}
		if seq.ExecutionMode != interpretation.ModeSequential {
			t.Errorf("forced mode = %s", seq.ExecutionMode)
		}
		if diff := cmp.Diff(first, seq, ignoreStamps, cmpopts.IgnoreFields(interpretation.Interpretation{}, "ExecutionMode")); diff != "" {
			t.Errorf("graph and sequential differ (-graph +sequential):\n%s", diff)
		}
	}
}

func TestInterpret_ValidationModes(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()

	got, err := e.InterpretVIN(ctx, "WVWZZZ1JZXW000003", opts(e))
	if err != nil {
		t.Fatalf("lenient: %v", err)
	}
	if len(got.Rejections) != 1 || got.Rejections[0].RowID != "bad" || got.Rejections[0].Reason != telemetry.ReasonConfidenceRange {
		t.Errorf("rejections = %+v", got.Rejections)
	}
	if got.EvidenceSummary[telemetry.MaintenancePrediction].Count != 1 {
		t.Errorf("valid row not kept: %+v", got.EvidenceSummary)
	}

	o := opts(e)
	o.StrictValidation = true
	_, err = e.InterpretVIN(ctx, "WVWZZZ1JZXW000003", o)
	var ve *telemetry.ValidationError
	if !errors.As(err, &ve) || ve.RowID != "bad" || !errors.Is(err, telemetry.ErrValidation) {
		t.Errorf("strict: err = %v, want ValidationError for row bad", err)
	}

	strictCfg := newEngine(t, func(c *config.Config, _ *Deps) { c.Features.StrictValidation = true })
	relaxed := opts(strictCfg)
	relaxed.StrictValidation = false
	if _, err := strictCfg.InterpretVIN(ctx, "WVWZZZ1JZXW000003", relaxed); !errors.Is(err, telemetry.ErrValidation) {
		t.Errorf("configured strict mode was relaxed by a request: %v", err)
	}
}

func TestInterpret_InvalidSubject(t *testing.T) {
	e := newEngine(t, nil)
	for _, call := range []func() error{
		func() error { _, err := e.InterpretVIN(context.Background(), "NOT-A-VIN", opts(e)); return err },
		func() error { _, err := e.InterpretCohort(context.Background(), "x", opts(e)); return err },
	} {
		err := call()
		var ie *InvalidSubjectError
		if !errors.As(err, &ie) || !errors.Is(err, telemetry.ErrValidation) {
			t.Errorf("err = %v, want InvalidSubjectError", err)
		}
	}
}

func TestInterpretCohort(t *testing.T) {
	e := newEngine(t, nil)
	got, err := e.InterpretCohort(context.Background(), cohortID, opts(e))
	if err != nil {
		t.Fatalf("InterpretCohort: %v", err)
	}
	if got.SubjectType != telemetry.SubjectCohort || got.Cohort == nil {
		t.Fatalf("not a cohort interpretation: %+v", got)
	}
	if got.Cohort.Description != "Euro 6 diesel vans" {
		t.Errorf("description = %q", got.Cohort.Description)
	}
	if got.RiskLevel != interpretation.RiskHigh {
		t.Errorf("risk = %s, want HIGH", got.RiskLevel)
	}
	if len(got.Cohort.Anomalies) == 0 || got.Cohort.Anomalies[0].SignalCode != "HI-1001" {
		t.Errorf("anomalies = %+v", got.Cohort.Anomalies)
	}

	cohorts, err := e.ListCohorts(context.Background())
	if err != nil || len(cohorts) != 1 || cohorts[0].VINCount != 2 {
		t.Errorf("ListCohorts = %+v, %v", cohorts, err)
	}
}

const groundedText = "VIN WVWZZZ1JZXW000001 is at HIGH risk. Machine Health (MH) reports HI-1001 battery voltage drop at 91% and HI-2002 coolant drift at 40%. Inspect the Battery system now and keep Cooling under observation."

func TestInterpret_GenerativeNarrative(t *testing.T) {
	tests := []struct {
		name     string
		gen      *llm.Static
		wantCap  bool
		wantFrom interpretation.NarrativeSource
	}{
		{"grounded text wins", &llm.Static{Text: groundedText}, true, interpretation.NarrativeGenerative},
		{"ungrounded code rejected", &llm.Static{Text: strings.Replace(groundedText, "HI-2002", "HI-3003", 1)}, true, interpretation.NarrativeDeterministic},
		{"failed probe disables provider", &llm.Static{Text: groundedText, Err: errors.New("401")}, false, interpretation.NarrativeDeterministic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, func(c *config.Config, d *Deps) {
				c.Features.GenerativeEnabled = true
				d.Generator = tt.gen
			})
			if e.Capabilities().Generative != tt.wantCap {
				t.Errorf("generative capability = %t", e.Capabilities().Generative)
			}
			got, err := e.InterpretVIN(context.Background(), vin, opts(e))
			if err != nil {
				t.Fatal(err)
			}
			if got.NarrativeSource != tt.wantFrom {
				t.Errorf("narrative source = %s, want %s (summary %q)", got.NarrativeSource, tt.wantFrom, got.Summary)
			}
			if tt.wantCap && len(tt.gen.Prompts()) != 1 {
				t.Errorf("prompts = %d, want 1", len(tt.gen.Prompts()))
			}
		})
	}
}

func TestRecordApproval(t *testing.T) {
	ledger := store.NewMemStore()
	e := newEngine(t, func(_ *config.Config, d *Deps) { d.Ledger = ledger })
	ctx := context.Background()

	rec, err := e.RecordApproval(ctx, ApprovalRequest{
		SubjectType: telemetry.SubjectVIN, SubjectID: strings.ToLower(vin),
		Decision: "approved", Comment: " looks right ", Actor: "fleet-ops",
	})
	if err != nil {
		t.Fatalf("RecordApproval: %v", err)
	}
	want := interpretation.ApprovalRecord{
		ID: "id-1", SubjectType: telemetry.SubjectVIN, SubjectID: vin, Decision: interpretation.DecisionApproved,
		Comment: "looks right", Actor: "fleet-ops", Timestamp: now, ModelVersion: config.DefaultModelVersion,
	}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Errorf("record (-want +got):\n%s", diff)
	}
	listed, _ := e.ListApprovals(ctx, store.Filter{SubjectID: vin})
	if diff := cmp.Diff([]interpretation.ApprovalRecord{want}, listed); diff != "" {
		t.Errorf("ledger (-want +got):\n%s", diff)
	}

	if _, err := e.RecordApproval(ctx, ApprovalRequest{SubjectType: telemetry.SubjectVIN, SubjectID: vin, Decision: "MAYBE", Actor: "a"}); !errors.Is(err, store.ErrInvalidRecord) {
		t.Errorf("bad decision: err = %v", err)
	}
	if _, err := e.RecordApproval(ctx, ApprovalRequest{SubjectType: telemetry.SubjectCohort, SubjectID: "?", Decision: "APPROVED", Actor: "a"}); !errors.Is(err, telemetry.ErrValidation) {
		t.Errorf("bad subject: err = %v", err)
	}
}

func TestReloadReferences(t *testing.T) {
	e := newEngine(t, nil)
	if err := e.ReloadReferences(t.TempDir()); !errors.Is(err, reference.ErrMissingDictionary) {
		t.Errorf("empty dir: err = %v, want ErrMissingDictionary", err)
	}
	if e.refs.Snapshot().Len() != 3 {
		t.Error("failed reload replaced the dictionary")
	}
}

func TestStages(t *testing.T) {
	e := newEngine(t, nil)
	name, stages, err := e.Stages(telemetry.SubjectVIN)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"evidence.MH", "evidence.MP", "evidence.FIM", "summary", "recommendations", "consolidation", "interpretation"}
	if name != "vin" {
		t.Errorf("name = %q", name)
	}
	if diff := cmp.Diff(want, stages); diff != "" {
		t.Errorf("vin stages (-want +got):\n%s", diff)
	}
	if _, stages, err = e.Stages(telemetry.SubjectCohort); err != nil || stages[len(stages)-1] != "interpretation" {
		t.Errorf("cohort stages = %v, %v", stages, err)
	}
}

var _ narrative.Generator = (*countingGenerator)(nil)

func TestObserverSeesGraphWalk(t *testing.T) {
	rec := &framework.EventRecorder{}
	e := newEngine(t, func(_ *config.Config, d *Deps) { d.Observer = rec })
	before := rec.Count(framework.EventWalkComplete)
	if _, err := e.InterpretVIN(context.Background(), vin, opts(e)); err != nil {
		t.Fatal(err)
	}
	if got := rec.Count(framework.EventWalkComplete) - before; got != 1 {
		t.Errorf("walks completed = %d, want 1", got)
	}
	var exited bool
	for _, ev := range rec.Events(framework.EventNodeExit) {
		exited = exited || (ev.Graph == "vin" && ev.Node == "interpretation")
	}
	if !exited {
		t.Error("no node_exit for the interpretation stage")
	}
}
