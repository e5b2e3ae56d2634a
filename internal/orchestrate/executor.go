package orchestrate

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nneupane1/telemetry-agent/internal/interpretation"
	"github.com/nneupane1/telemetry-agent/internal/logging"
	"github.com/nneupane1/telemetry-agent/internal/metrics"
)

// Capability is the outcome of probing the graph runtime once at startup.
type Capability struct {
	Available bool
	Cause     error // why the runtime is unavailable
}

// ProbeGraph checks whether r can serve plans. A disabled runtime is never
// probed.
func ProbeGraph(enabled bool, r *GraphRunner, plans ...*Plan) Capability {
	if !enabled {
		return Capability{Cause: ErrGraphDisabled}
	}
	if r == nil {
		return Capability{Cause: errors.New("no graph runner")}
	}
	if err := r.Prepare(plans...); err != nil {
		return Capability{Cause: err}
	}
	return Capability{Available: true}
}

// ExecutorConfig wires an Executor.
type ExecutorConfig struct {
	Graph      StageRunner
	Sequential StageRunner
	Capability Capability
	// AllowFallback is the process-wide permission to fall back to the
	// sequential runner. A request can only narrow it.
	AllowFallback bool
	Tracer        trace.Tracer
	Metrics       *metrics.Metrics
}

// ExecOptions are per-request choices.
type ExecOptions struct {
	AllowFallback bool
	// Mode forces a runner. Empty means graph first.
	Mode interpretation.ExecutionMode
}

// Result is a completed run.
type Result struct {
	Findings *Findings
	State    *State
	Mode     interpretation.ExecutionMode
	// FallbackCause is set when the sequential runner stood in for the graph.
	FallbackCause error
}

// Executor applies the mode-selection policy:
//
//   - graph is the default runner
//   - when the graph runtime is unavailable or fails, the sequential runner
//     takes over only if both the configuration and the request allow it;
//     otherwise the run fails with *OrchestrationUnavailableError before
//     (or instead of) any sequential stage
//   - a sequential failure is final and surfaces as *InterpretationFailedError
type Executor struct {
	graph         StageRunner
	sequential    StageRunner
	capability    Capability
	allowFallback bool
	tracer        trace.Tracer
	metrics       *metrics.Metrics
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	e := &Executor{
		graph:         cfg.Graph,
		sequential:    cfg.Sequential,
		capability:    cfg.Capability,
		allowFallback: cfg.AllowFallback,
		tracer:        cfg.Tracer,
		metrics:       cfg.Metrics,
	}
	if e.sequential == nil {
		e.sequential = NewSequentialRunner(WithTracer(cfg.Tracer), WithMetrics(cfg.Metrics))
	}
	if e.graph == nil && e.capability.Available {
		e.capability = Capability{Cause: errors.New("no graph runner")}
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	return e
}

// GraphAvailable reports the probed capability.
func (e *Executor) GraphAvailable() bool { return e.capability.Available }

// Execute runs plan over in.
func (e *Executor) Execute(ctx context.Context, plan *Plan, in Input, opts ExecOptions) (res *Result, err error) {
	subject := string(in.Subject.Type)
	ctx, span := e.tracer.Start(ctx, "pipeline "+plan.Name(), trace.WithAttributes(
		attribute.String("subject.type", subject),
		attribute.Int("evidence.count", len(in.Evidence)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("pipeline.mode", string(res.Mode)))
		}
		span.End()
	}()

	logger := logging.New("orchestrate").With("pipeline", plan.Name(), "subject", in.Subject.String())
	fallback := e.allowFallback && opts.AllowFallback

	if opts.Mode == interpretation.ModeSequential {
		return e.runSequential(ctx, plan, in, nil)
	}

	if !e.capability.Available {
		cause := e.capability.Cause
		if cause == nil {
			cause = ErrGraphDisabled
		}
		if !fallback {
			e.metrics.Run(subject, string(interpretation.ModeGraph), "unavailable")
			logger.Error("graph runtime unavailable and fallback not permitted", "error", cause.Error())
			return nil, &OrchestrationUnavailableError{Cause: cause}
		}
		e.metrics.Fallback(subject, "unavailable")
		logger.Warn("graph runtime unavailable, running sequentially", "error", cause.Error())
		return e.runSequential(ctx, plan, in, cause)
	}

	s := NewState(in)
	gerr := e.graph.Run(ctx, plan, s)
	if gerr == nil {
		if s.Findings == nil {
			gerr = &StageError{Phase: PhaseResult, Err: fmt.Errorf("%w: findings", ErrMissingInput)}
		} else {
			e.metrics.Run(subject, string(interpretation.ModeGraph), "ok")
			return &Result{Findings: s.Findings, State: s, Mode: interpretation.ModeGraph}, nil
		}
	}
	e.metrics.Run(subject, string(interpretation.ModeGraph), "error")
	if cerr := ctx.Err(); cerr != nil {
		return nil, fmt.Errorf("pipeline %s: %w", plan.Name(), cerr)
	}
	if !fallback {
		logger.Error("graph run failed and fallback not permitted", "error", gerr.Error())
		return nil, &OrchestrationUnavailableError{Cause: gerr}
	}
	e.metrics.Fallback(subject, "error")
	logger.Warn("graph run failed, running sequentially", "error", gerr.Error())
	return e.runSequential(ctx, plan, in, gerr)
}

func (e *Executor) runSequential(ctx context.Context, plan *Plan, in Input, cause error) (*Result, error) {
	subject := string(in.Subject.Type)
	s := NewState(in)
	err := e.sequential.Run(ctx, plan, s)
	if err == nil && s.Findings == nil {
		err = &StageError{Phase: PhaseResult, Err: fmt.Errorf("%w: findings", ErrMissingInput)}
	}
	if err != nil {
		e.metrics.Run(subject, string(interpretation.ModeSequential), "error")
		if cerr := ctx.Err(); cerr != nil {
			return nil, fmt.Errorf("pipeline %s: %w", plan.Name(), cerr)
		}
		failed := &InterpretationFailedError{Phase: PhaseExecute, Cause: err}
		var se *StageError
		if errors.As(err, &se) {
			failed.Stage, failed.Phase = se.Stage, se.Phase
		}
		return nil, failed
	}
	e.metrics.Run(subject, string(interpretation.ModeSequential), "ok")
	return &Result{Findings: s.Findings, State: s, Mode: interpretation.ModeSequential, FallbackCause: cause}, nil
}
