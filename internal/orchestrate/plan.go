// Package orchestrate runs the interpretation stage pipeline.
//
// A pipeline is declared in the framework YAML DSL. Each node is a pure stage
// that reads the accumulated State and returns a Delta. The same Plan runs
// on the graph runtime (independent branches concurrently, deltas merged
// per wave in declaration order) or sequentially in declaration order; both
// produce the same State.
package orchestrate

import (
	_ "embed"
	"fmt"

	"github.com/nneupane1/telemetry-agent/internal/telemetry"
	"github.com/nneupane1/telemetry-agent/pkg/framework"
)

//go:embed pipelines/vin.yaml
var vinPipelineYAML []byte

//go:embed pipelines/cohort.yaml
var cohortPipelineYAML []byte

// Stage is a resolved pipeline node.
type Stage struct {
	Name   string
	Family string
	Run    StageFunc
}

// stageNode exposes a Stage to the graph runtime.
type stageNode struct {
	stage Stage
}

func (n stageNode) Name() string   { return n.stage.Name }
func (n stageNode) Family() string { return n.stage.Family }

// Plan is a validated pipeline with every stage bound to its function.
type Plan struct {
	Def    *framework.PipelineDef
	Stages []Stage // declaration order
	index  map[string]int
}

// NewPlan binds def's nodes to stages from reg, looking factories up by
// family first, then by node name.
func NewPlan(def *framework.PipelineDef, reg Registry) (*Plan, error) {
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", def.Pipeline, err)
	}
	p := &Plan{Def: def, index: make(map[string]int, len(def.Nodes))}
	for _, nd := range def.Nodes {
		factory, ok := reg[nd.Family]
		if !ok {
			factory = reg[nd.Name]
		}
		if factory == nil {
			return nil, fmt.Errorf("pipeline %q: no stage for family %q (node %q)", def.Pipeline, nd.Family, nd.Name)
		}
		run, err := factory(nd)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", def.Pipeline, err)
		}
		p.index[nd.Name] = len(p.Stages)
		p.Stages = append(p.Stages, Stage{Name: nd.Name, Family: nd.Family, Run: run})
	}
	return p, nil
}

// LoadPlan parses a YAML pipeline and binds it.
func LoadPlan(data []byte, reg Registry) (*Plan, error) {
	def, err := framework.LoadPipeline(data)
	if err != nil {
		return nil, err
	}
	return NewPlan(def, reg)
}

func (p *Plan) Name() string { return p.Def.Pipeline }

// Stage returns the named stage.
func (p *Plan) Stage(name string) (Stage, bool) {
	i, ok := p.index[name]
	if !ok {
		return Stage{}, false
	}
	return p.Stages[i], true
}

// nodeRegistry resolves DSL nodes back to this plan's stages.
func (p *Plan) nodeRegistry() framework.NodeRegistry {
	lookup := func(def framework.NodeDef) (framework.Node, error) {
		st, ok := p.Stage(def.Name)
		if !ok {
			return nil, fmt.Errorf("stage %q not bound", def.Name)
		}
		return stageNode{stage: st}, nil
	}
	reg := make(framework.NodeRegistry, len(p.Stages))
	for _, st := range p.Stages {
		reg[st.Family] = lookup
	}
	return reg
}

// Plans holds one plan per subject type.
type Plans map[telemetry.SubjectType]*Plan

// BuiltinPlans binds the embedded VIN and cohort pipelines.
func BuiltinPlans(reg Registry) (Plans, error) {
	vin, err := LoadPlan(vinPipelineYAML, reg)
	if err != nil {
		return nil, fmt.Errorf("load embedded vin pipeline: %w", err)
	}
	cohort, err := LoadPlan(cohortPipelineYAML, reg)
	if err != nil {
		return nil, fmt.Errorf("load embedded cohort pipeline: %w", err)
	}
	return Plans{telemetry.SubjectVIN: vin, telemetry.SubjectCohort: cohort}, nil
}

// For returns the plan for a subject type.
func (ps Plans) For(t telemetry.SubjectType) (*Plan, error) {
	p, ok := ps[t]
	if !ok {
		return nil, fmt.Errorf("orchestrate: no pipeline for subject type %q", t)
	}
	return p, nil
}

// All returns the plans in a fixed order.
func (ps Plans) All() []*Plan {
	var out []*Plan
	for _, t := range []telemetry.SubjectType{telemetry.SubjectVIN, telemetry.SubjectCohort} {
		if p, ok := ps[t]; ok {
			out = append(out, p)
		}
	}
	return out
}
