package framework

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// PipelineDef is the DSL structure for declaring a pipeline graph.
// Nodes are listed in a valid execution order: every edge must point from a
// node to one declared after it. That order doubles as the sequential
// schedule, so a pipeline can run without building a Graph at all.
type PipelineDef struct {
	Pipeline    string    `yaml:"pipeline"`
	Description string    `yaml:"description,omitempty"`
	Nodes       []NodeDef `yaml:"nodes"`
	Edges       []EdgeDef `yaml:"edges"`
}

// NodeDef declares a node in the pipeline.
type NodeDef struct {
	Name   string            `yaml:"name"`
	Family string            `yaml:"family,omitempty"`
	Params map[string]string `yaml:"params,omitempty"`
}

// EdgeDef declares a dependency between two nodes.
type EdgeDef struct {
	ID   string `yaml:"id,omitempty"`
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// NodeRegistry maps node family names (or node names) to Node factories.
type NodeRegistry map[string]func(def NodeDef) (Node, error)

// LoadPipeline parses a YAML pipeline definition and validates it.
func LoadPipeline(data []byte) (*PipelineDef, error) {
	var def PipelineDef
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse pipeline YAML: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", def.Pipeline, err)
	}
	return &def, nil
}

// MarshalYAML serializes a PipelineDef back to YAML.
func (def *PipelineDef) MarshalYAML() ([]byte, error) {
	return yaml.Marshal(def)
}

// Validate checks referential integrity of the pipeline definition:
//   - pipeline name is non-empty
//   - at least one node exists and node names are unique
//   - all edge From/To reference existing nodes
//   - every edge points forward in declaration order
func (def *PipelineDef) Validate() error {
	if def.Pipeline == "" {
		return fmt.Errorf("pipeline name is required")
	}
	if len(def.Nodes) == 0 {
		return fmt.Errorf("at least one node is required")
	}

	position := make(map[string]int, len(def.Nodes))
	for i, n := range def.Nodes {
		if n.Name == "" {
			return fmt.Errorf("node name is required")
		}
		if _, dup := position[n.Name]; dup {
			return fmt.Errorf("duplicate node name %q", n.Name)
		}
		position[n.Name] = i
	}

	edgeIDs := make(map[string]bool, len(def.Edges))
	for _, e := range def.Edges {
		key := e.edge().Key()
		if edgeIDs[key] {
			return fmt.Errorf("duplicate edge %q", key)
		}
		edgeIDs[key] = true

		from, ok := position[e.From]
		if !ok {
			return fmt.Errorf("edge %s references unknown source node %q", key, e.From)
		}
		to, ok := position[e.To]
		if !ok {
			return fmt.Errorf("edge %s references unknown target node %q", key, e.To)
		}
		if from >= to {
			return fmt.Errorf("edge %s points backwards: %q must be declared before %q", key, e.From, e.To)
		}
	}
	return nil
}

// Order returns node names in declaration order.
func (def *PipelineDef) Order() []string {
	out := make([]string, len(def.Nodes))
	for i, n := range def.Nodes {
		out[i] = n.Name
	}
	return out
}

// BuildGraph constructs a Graph from a PipelineDef. Factories are looked up
// by node family first, then by node name.
func (def *PipelineDef) BuildGraph(registry NodeRegistry, opts ...GraphOption) (*DefaultGraph, error) {
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}

	nodes := make([]Node, 0, len(def.Nodes))
	for _, nd := range def.Nodes {
		factory, ok := registry[nd.Family]
		if !ok {
			factory = registry[nd.Name]
		}
		if factory == nil {
			return nil, fmt.Errorf("no node factory for family %q (node %q)", nd.Family, nd.Name)
		}
		n, err := factory(nd)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", nd.Name, err)
		}
		nodes = append(nodes, n)
	}

	edges := make([]Edge, 0, len(def.Edges))
	for _, ed := range def.Edges {
		edges = append(edges, ed.edge())
	}

	return NewGraph(def.Pipeline, nodes, edges, opts...)
}

func (e EdgeDef) edge() Edge { return Edge{ID: e.ID, From: e.From, To: e.To} }
