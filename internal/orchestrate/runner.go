package orchestrate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nneupane1/telemetry-agent/internal/interpretation"
	"github.com/nneupane1/telemetry-agent/internal/metrics"
	"github.com/nneupane1/telemetry-agent/pkg/framework"
)

const tracerName = "github.com/nneupane1/telemetry-agent/internal/orchestrate"

// StageRunner executes a plan against a fresh State.
type StageRunner interface {
	Mode() interpretation.ExecutionMode
	Run(ctx context.Context, plan *Plan, s *State) error
}

type runnerOptions struct {
	tracer      trace.Tracer
	metrics     *metrics.Metrics
	observer    framework.WalkObserver
	concurrency int
}

// RunnerOption configures a runner.
type RunnerOption func(*runnerOptions)

// WithTracer sets the span tracer. The default is the global otel tracer,
// which is a no-op unless a provider is installed.
func WithTracer(t trace.Tracer) RunnerOption { return func(o *runnerOptions) { o.tracer = t } }

// WithMetrics records stage latency.
func WithMetrics(m *metrics.Metrics) RunnerOption { return func(o *runnerOptions) { o.metrics = m } }

// WithObserver receives graph walk events. Sequential runs emit none.
func WithObserver(obs framework.WalkObserver) RunnerOption {
	return func(o *runnerOptions) { o.observer = obs }
}

// WithConcurrency bounds concurrent stages per wave in graph mode.
func WithConcurrency(n int) RunnerOption { return func(o *runnerOptions) { o.concurrency = n } }

func newRunnerOptions(opts []RunnerOption) runnerOptions {
	o := runnerOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	return o
}

// runStage calls one stage inside a span. A panicking stage is reported as
// an error like any other failure.
func (o runnerOptions) runStage(ctx context.Context, mode interpretation.ExecutionMode, st Stage, s *State) (d Delta, err error) {
	ctx, span := o.tracer.Start(ctx, "stage "+st.Name, trace.WithAttributes(
		attribute.String("stage.family", st.Family),
		attribute.String("pipeline.mode", string(mode)),
	))
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		o.metrics.Stage(st.Name, string(mode), time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	return st.Run(ctx, s)
}

// SequentialRunner runs stages one at a time in declaration order. It is the
// terminal fallback.
type SequentialRunner struct {
	opts runnerOptions
}

func NewSequentialRunner(opts ...RunnerOption) *SequentialRunner {
	return &SequentialRunner{opts: newRunnerOptions(opts)}
}

func (r *SequentialRunner) Mode() interpretation.ExecutionMode { return interpretation.ModeSequential }

func (r *SequentialRunner) Run(ctx context.Context, plan *Plan, s *State) error {
	for _, st := range plan.Stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		d, err := r.opts.runStage(ctx, interpretation.ModeSequential, st, s)
		if err != nil {
			return &StageError{Stage: st.Name, Phase: PhaseExecute, Err: err}
		}
		if err := s.Apply(d); err != nil {
			return &StageError{Stage: st.Name, Phase: PhaseMerge, Err: err}
		}
	}
	return nil
}

// GraphRunner runs plans on the framework graph runtime. Graphs are built
// once per plan and reused.
type GraphRunner struct {
	opts runnerOptions

	mu     sync.RWMutex
	graphs map[*Plan]*framework.DefaultGraph
}

func NewGraphRunner(opts ...RunnerOption) *GraphRunner {
	return &GraphRunner{opts: newRunnerOptions(opts), graphs: make(map[*Plan]*framework.DefaultGraph)}
}

func (r *GraphRunner) Mode() interpretation.ExecutionMode { return interpretation.ModeGraph }

// Prepare builds the graphs of plans ahead of time. An error means the graph
// runtime cannot serve those plans.
func (r *GraphRunner) Prepare(plans ...*Plan) error {
	for _, p := range plans {
		if _, err := r.graph(p); err != nil {
			return err
		}
	}
	return nil
}

func (r *GraphRunner) graph(p *Plan) (*framework.DefaultGraph, error) {
	r.mu.RLock()
	g, ok := r.graphs[p]
	r.mu.RUnlock()
	if ok {
		return g, nil
	}

	var gopts []framework.GraphOption
	if r.opts.observer != nil {
		gopts = append(gopts, framework.WithObserver(r.opts.observer))
	}
	if r.opts.concurrency > 0 {
		gopts = append(gopts, framework.WithConcurrency(r.opts.concurrency))
	}
	g, err := p.Def.BuildGraph(p.nodeRegistry(), gopts...)
	if err != nil {
		return nil, fmt.Errorf("build graph %q: %w", p.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.graphs[p]; ok {
		return existing, nil
	}
	r.graphs[p] = g
	return g, nil
}

func (r *GraphRunner) Run(ctx context.Context, plan *Plan, s *State) error {
	g, err := r.graph(plan)
	if err != nil {
		return err
	}
	w := &waveWalker{opts: r.opts, state: s, pending: make(map[string]Delta)}
	return g.Walk(ctx, w)
}

// waveWalker runs stages concurrently within a wave and merges their deltas
// after the wave, in the wave's declaration order. State is only written in
// Join, so stages of one wave all see the same State.
type waveWalker struct {
	opts  runnerOptions
	state *State

	mu      sync.Mutex
	pending map[string]Delta
}

func (w *waveWalker) Handle(ctx context.Context, node framework.Node) error {
	sn, ok := node.(stageNode)
	if !ok {
		return fmt.Errorf("node %q is not a pipeline stage", node.Name())
	}
	d, err := w.opts.runStage(ctx, interpretation.ModeGraph, sn.stage, w.state)
	if err != nil {
		return &StageError{Stage: sn.stage.Name, Phase: PhaseExecute, Err: err}
	}
	w.mu.Lock()
	w.pending[node.Name()] = d
	w.mu.Unlock()
	return nil
}

func (w *waveWalker) Join(_ context.Context, _ int, nodes []framework.Node) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, n := range nodes {
		d := w.pending[n.Name()]
		delete(w.pending, n.Name())
		if err := w.state.Apply(d); err != nil {
			return &StageError{Stage: n.Name(), Phase: PhaseMerge, Err: err}
		}
	}
	return nil
}
