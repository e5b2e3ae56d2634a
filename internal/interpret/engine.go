// Package interpret is the interpreter's entry point. An Engine turns a VIN
// or cohort id into an Interpretation: rows are loaded from the mart,
// validated, resolved into evidence, run through the stage pipeline and
// given a narrative. It also forwards operator decisions to the approval
// ledger.
package interpret

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nneupane1/telemetry-agent/internal/config"
	"github.com/nneupane1/telemetry-agent/internal/evidence"
	"github.com/nneupane1/telemetry-agent/internal/interpretation"
	"github.com/nneupane1/telemetry-agent/internal/logging"
	"github.com/nneupane1/telemetry-agent/internal/mart"
	"github.com/nneupane1/telemetry-agent/internal/metrics"
	"github.com/nneupane1/telemetry-agent/internal/narrative"
	"github.com/nneupane1/telemetry-agent/internal/orchestrate"
	"github.com/nneupane1/telemetry-agent/internal/reference"
	"github.com/nneupane1/telemetry-agent/internal/store"
	"github.com/nneupane1/telemetry-agent/internal/telemetry"
	"github.com/nneupane1/telemetry-agent/pkg/framework"
)

const tracerName = "github.com/nneupane1/telemetry-agent/internal/interpret"

// Prober is implemented by collaborators whose availability is checked once
// at startup.
type Prober interface {
	Probe(ctx context.Context) error
}

// Deps are the collaborators of an Engine. Source and References are
// required; the rest have working defaults.
type Deps struct {
	Config     config.Config
	Source     mart.Source
	References *reference.Resolver
	// Ledger receives approval records. Defaults to an in-memory ledger.
	Ledger store.Store
	// Generator enables the generative narrative when the generative
	// feature flag is on. If it also implements Prober it is probed once.
	Generator narrative.Generator
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
	// Registry overrides the stage implementations.
	Registry orchestrate.Registry
	// Observer also receives graph walk events; they are always logged at
	// debug level under the "graph" component.
	Observer framework.WalkObserver
	Clock    func() time.Time
	NewID    func() string
}

// Capabilities is the outcome of the startup probes.
type Capabilities struct {
	Graph           bool   `json:"graph"`
	GraphCause      string `json:"graph_cause,omitempty"`
	Generative      bool   `json:"generative"`
	GenerativeCause string `json:"generative_cause,omitempty"`
	AllowFallback   bool   `json:"allow_fallback"`
}

// Engine serves interpretation requests. It is safe for concurrent use; the
// only state shared between requests is the reference resolver and the
// configuration captured at construction.
type Engine struct {
	cfg       config.Config
	source    mart.Source
	refs      *reference.Resolver
	ledger    store.Store
	validator *telemetry.Validator
	composer  *narrative.Composer
	executor  *orchestrate.Executor
	plans     orchestrate.Plans
	caps      Capabilities
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	now       func() time.Time
	newID     func() string
	logger    *slog.Logger
}

// New wires an Engine and runs the capability probes.
func New(ctx context.Context, d Deps) (*Engine, error) {
	if d.Source == nil {
		return nil, errors.New("interpret: a mart source is required")
	}
	if d.References == nil {
		return nil, errors.New("interpret: a reference resolver is required")
	}
	cfg := d.Config
	logger := logging.New("interpret")

	e := &Engine{
		cfg:     cfg,
		source:  d.Source,
		refs:    d.References,
		ledger:  d.Ledger,
		metrics: d.Metrics,
		tracer:  d.Tracer,
		now:     d.Clock,
		newID:   d.NewID,
		logger:  logger,
	}
	if e.ledger == nil {
		e.ledger = store.NewMemStore()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}

	vopts := []telemetry.Option{
		telemetry.WithClock(e.now),
		telemetry.WithClockSkew(cfg.Validation.ClockSkew),
		telemetry.WithMetrics(d.Metrics),
	}
	if cfg.Validation.CohortPattern != "" {
		re, err := regexp.Compile(cfg.Validation.CohortPattern)
		if err != nil {
			return nil, fmt.Errorf("interpret: cohort pattern: %w", err)
		}
		vopts = append(vopts, telemetry.WithCohortPattern(re))
	}
	validator, err := telemetry.NewValidator(vopts...)
	if err != nil {
		return nil, fmt.Errorf("interpret: %w", err)
	}
	e.validator = validator

	selector, err := narrative.NewSelector(narrative.SelectorConfig{
		MinLength:          cfg.Narrative.MinLength,
		SpeculativeMarkers: cfg.Narrative.SpeculativeMarkers,
		CodePattern:        cfg.Narrative.CodePattern,
	})
	if err != nil {
		return nil, fmt.Errorf("interpret: %w", err)
	}
	copts := []narrative.ComposerOption{narrative.WithMetrics(d.Metrics)}
	switch {
	case !cfg.Features.GenerativeEnabled:
		e.caps.GenerativeCause = "generative narrative disabled"
	case d.Generator == nil:
		e.caps.GenerativeCause = "no generator configured"
	default:
		if p, ok := d.Generator.(Prober); ok {
			if perr := p.Probe(ctx); perr != nil {
				e.caps.GenerativeCause = perr.Error()
				logger.Warn("generative narrative provider unavailable", "error", perr.Error())
				break
			}
		}
		e.caps.Generative = true
		copts = append(copts, narrative.WithGenerator(d.Generator))
	}
	e.composer = narrative.NewComposer(selector, copts...)

	reg := d.Registry
	if reg == nil {
		reg = orchestrate.DefaultRegistry()
	}
	plans, err := orchestrate.BuiltinPlans(reg)
	if err != nil {
		return nil, fmt.Errorf("interpret: %w", err)
	}
	e.plans = plans

	graph := orchestrate.NewGraphRunner(
		orchestrate.WithTracer(e.tracer),
		orchestrate.WithMetrics(d.Metrics),
		orchestrate.WithObserver(framework.Observers{&framework.LogObserver{Logger: logging.New("graph")}, d.Observer}),
	)
	capability := orchestrate.ProbeGraph(cfg.Features.GraphEnabled, graph, plans.All()...)
	e.caps.Graph = capability.Available
	if capability.Cause != nil {
		e.caps.GraphCause = capability.Cause.Error()
	}
	e.caps.AllowFallback = cfg.Features.AllowFallback
	e.executor = orchestrate.NewExecutor(orchestrate.ExecutorConfig{
		Graph:         graph,
		Capability:    capability,
		AllowFallback: cfg.Features.AllowFallback,
		Tracer:        e.tracer,
		Metrics:       d.Metrics,
	})

	logger.Info("interpreter ready",
		"graph", e.caps.Graph, "fallback", e.caps.AllowFallback, "generative", e.caps.Generative,
		"references", d.References.Snapshot().Len(), "model_version", cfg.ModelVersion)
	return e, nil
}

// Capabilities reports what the startup probes found.
func (e *Engine) Capabilities() Capabilities { return e.caps }

// InterpretVIN interprets one vehicle.
func (e *Engine) InterpretVIN(ctx context.Context, vin string, opts Options) (*interpretation.Interpretation, error) {
	return e.interpret(ctx, telemetry.Subject{Type: telemetry.SubjectVIN, ID: telemetry.NormalizeVIN(vin)}, opts)
}

// InterpretCohort interprets one cohort.
func (e *Engine) InterpretCohort(ctx context.Context, cohortID string, opts Options) (*interpretation.Interpretation, error) {
	return e.interpret(ctx, telemetry.Subject{Type: telemetry.SubjectCohort, ID: strings.TrimSpace(cohortID)}, opts)
}

func (e *Engine) interpret(ctx context.Context, subject telemetry.Subject, opts Options) (res *interpretation.Interpretation, err error) {
	requestID := e.newID()
	logger := e.logger.With("request_id", requestID, "subject", subject.String())
	ctx, span := e.tracer.Start(ctx, "interpret "+strings.ToLower(string(subject.Type)), trace.WithAttributes(
		attribute.String("subject.type", string(subject.Type)),
		attribute.String("request.id", requestID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.String("risk.level", string(res.RiskLevel)),
				attribute.String("pipeline.mode", string(res.ExecutionMode)),
			)
		}
		span.End()
	}()

	if !e.validator.ValidSubject(subject.Type, subject.ID) {
		return nil, &InvalidSubjectError{Subject: subject}
	}
	plan, err := e.plans.For(subject.Type)
	if err != nil {
		return nil, err
	}

	// Pin one reference snapshot so a concurrent reload cannot split a
	// request across two dictionaries.
	refs := e.refs.Snapshot()

	raw, err := e.source.LoadRows(ctx, subject, e.cfg.Data.WindowDays)
	if err != nil {
		return nil, fmt.Errorf("interpret %s: load rows: %w", subject, err)
	}
	mode := telemetry.ModeFor(opts.StrictValidation || e.cfg.Features.StrictValidation)
	rows, rejected, err := e.validator.Validate(subject, raw, mode)
	if err != nil {
		return nil, err
	}
	ev := evidence.AssembleWith(refs, rows)

	var description string
	if subject.Type == telemetry.SubjectCohort {
		if c, ok, derr := e.source.Describe(ctx, subject.ID); derr != nil {
			logger.Warn("cohort description unavailable", "error", derr.Error())
		} else if ok {
			description = c.Description
		}
	}

	result, err := e.executor.Execute(ctx, plan, orchestrate.Input{
		Subject:     subject,
		Evidence:    ev,
		Description: description,
	}, orchestrate.ExecOptions{AllowFallback: opts.AllowFallback, Mode: opts.Mode})
	if err != nil {
		return nil, err
	}
	f := result.Findings

	story := e.composer.Compose(ctx, narrative.Input{
		Subject:         subject,
		RiskLevel:       f.RiskLevel,
		Family:          f.Family,
		Evidence:        f.Evidence,
		Recommendations: f.Recommendations,
		Cohort:          f.Cohort,
		KnownCodes:      refs.Codes(),
	}, e.narrativeTimeout(opts))

	out := interpretation.Assemble(interpretation.Parts{
		Subject:         subject,
		Summary:         story.Text,
		NarrativeSource: story.Source,
		RiskLevel:       f.RiskLevel,
		Recommendations: f.Recommendations,
		EvidenceSummary: f.EvidenceSummary,
		Cohort:          f.Cohort,
		Rejections:      rejected,
		ModelVersion:    e.cfg.ModelVersion,
		ExecutionMode:   result.Mode,
		RequestID:       requestID,
		GeneratedAt:     e.now(),
	})
	logger.Info("interpretation complete",
		"risk_level", string(out.RiskLevel), "mode", string(out.ExecutionMode),
		"evidence", len(ev), "rejected", len(rejected), "narrative", string(out.NarrativeSource))
	return &out, nil
}

func (e *Engine) narrativeTimeout(opts Options) time.Duration {
	if opts.NarrativeTimeoutMS > 0 {
		return time.Duration(opts.NarrativeTimeoutMS) * time.Millisecond
	}
	return e.cfg.LLM.Timeout
}

// Stages returns the node names of the plan for t in declaration order.
func (e *Engine) Stages(t telemetry.SubjectType) (string, []string, error) {
	plan, err := e.plans.For(t)
	if err != nil {
		return "", nil, err
	}
	names := make([]string, len(plan.Stages))
	for i, s := range plan.Stages {
		names[i] = s.Name
	}
	return plan.Name(), names, nil
}

// ListCohorts returns the cohort catalogue of the mart.
func (e *Engine) ListCohorts(ctx context.Context) ([]mart.Cohort, error) {
	cohorts, err := e.source.ListCohorts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cohorts: %w", err)
	}
	return cohorts, nil
}

// ReloadReferences swaps in a freshly loaded dictionary set. Requests in
// flight finish on the set they started with.
func (e *Engine) ReloadReferences(dir string) error {
	set, err := reference.LoadDir(dir)
	if err != nil {
		return err
	}
	e.refs.Reload(set)
	e.logger.Info("reference dictionaries reloaded", "dir", dir, "codes", set.Len())
	return nil
}
