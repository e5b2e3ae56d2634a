package framework

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Graph is a directed acyclic graph of Nodes connected by dependency Edges.
// Nodes with no path between them belong to the same wave and may run
// concurrently.
type Graph interface {
	Name() string
	Nodes() []Node
	Edges() []Edge
	NodeByName(name string) (Node, bool)
	Upstream(nodeName string) []string
	Waves() [][]Node
	Walk(ctx context.Context, walker Walker) error
}

// DefaultGraph is the reference Graph implementation. Node definition order
// is preserved inside every wave so that walk events and joins are
// deterministic.
type DefaultGraph struct {
	name      string
	nodes     []Node
	edges     []Edge
	nodeIndex map[string]Node
	upstream  map[string][]string // to-node -> from-nodes in definition order
	waves     [][]Node
	observer  WalkObserver
	limit     int
}

// GraphOption configures a DefaultGraph during construction.
type GraphOption func(*DefaultGraph)

// WithObserver attaches an observer that receives every walk event.
func WithObserver(obs WalkObserver) GraphOption {
	return func(g *DefaultGraph) {
		g.observer = obs
	}
}

// WithConcurrency bounds how many nodes of one wave run at the same time.
// Zero or a negative value means no bound.
func WithConcurrency(limit int) GraphOption {
	return func(g *DefaultGraph) {
		g.limit = limit
	}
}

// NewGraph constructs a DefaultGraph from nodes and edges. It fails when an
// edge references a missing node, a node name repeats, or the edges form a
// cycle.
func NewGraph(name string, nodes []Node, edges []Edge, opts ...GraphOption) (*DefaultGraph, error) {
	g := &DefaultGraph{
		name:      name,
		nodes:     nodes,
		edges:     edges,
		nodeIndex: make(map[string]Node, len(nodes)),
		upstream:  make(map[string][]string),
	}
	for _, opt := range opts {
		opt(g)
	}

	for _, n := range nodes {
		if _, dup := g.nodeIndex[n.Name()]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateNode, n.Name())
		}
		g.nodeIndex[n.Name()] = n
	}
	for _, e := range edges {
		if _, ok := g.nodeIndex[e.From]; !ok {
			return nil, fmt.Errorf("%w: edge %s references source %q", ErrNodeNotFound, e.Key(), e.From)
		}
		if _, ok := g.nodeIndex[e.To]; !ok {
			return nil, fmt.Errorf("%w: edge %s references target %q", ErrNodeNotFound, e.Key(), e.To)
		}
		if e.From == e.To {
			return nil, fmt.Errorf("%w: edge %s loops on %q", ErrCycle, e.Key(), e.From)
		}
		g.upstream[e.To] = append(g.upstream[e.To], e.From)
	}

	waves, err := layer(nodes, g.upstream)
	if err != nil {
		return nil, err
	}
	g.waves = waves
	return g, nil
}

func (g *DefaultGraph) Name() string  { return g.name }
func (g *DefaultGraph) Nodes() []Node { return g.nodes }
func (g *DefaultGraph) Edges() []Edge { return g.edges }

func (g *DefaultGraph) NodeByName(name string) (Node, bool) {
	n, ok := g.nodeIndex[name]
	return n, ok
}

func (g *DefaultGraph) Upstream(nodeName string) []string {
	return g.upstream[nodeName]
}

// Waves returns the execution layers: every node sits one wave after the
// latest of its dependencies.
func (g *DefaultGraph) Waves() [][]Node {
	out := make([][]Node, len(g.waves))
	for i, w := range g.waves {
		out[i] = append([]Node(nil), w...)
	}
	return out
}

// Walk visits every node exactly once, wave by wave. Nodes of a wave are
// handed to the walker concurrently; the walk waits for the whole wave
// before starting the next one. The first node error cancels the rest of its
// wave and aborts the walk with a *NodeError.
//
// If the walker implements WaveJoiner, Join is called after each wave
// completes so that results can be merged in a fixed order.
func (g *DefaultGraph) Walk(ctx context.Context, walker Walker) error {
	obs := g.observer
	walkStart := time.Now()
	emitEvent(obs, WalkEvent{Type: EventWalkStart, Graph: g.name})

	for i, wave := range g.waves {
		if err := ctx.Err(); err != nil {
			emitEvent(obs, WalkEvent{Type: EventWalkError, Graph: g.name, Wave: i, Error: err})
			return err
		}

		emitEvent(obs, WalkEvent{Type: EventWaveStart, Graph: g.name, Wave: i, Metadata: map[string]any{"nodes": nodeNames(wave)}})

		eg, egctx := errgroup.WithContext(ctx)
		if g.limit > 0 {
			eg.SetLimit(g.limit)
		}
		for _, node := range wave {
			eg.Go(func() error {
				emitEvent(obs, WalkEvent{Type: EventNodeEnter, Graph: g.name, Node: node.Name(), Wave: i})
				start := time.Now()
				err := walker.Handle(egctx, node)
				emitEvent(obs, WalkEvent{Type: EventNodeExit, Graph: g.name, Node: node.Name(), Wave: i, Elapsed: time.Since(start), Error: err})
				if err != nil {
					return &NodeError{Node: node.Name(), Err: err}
				}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			emitEvent(obs, WalkEvent{Type: EventWalkError, Graph: g.name, Wave: i, Error: err})
			return err
		}

		if joiner, ok := walker.(WaveJoiner); ok {
			if err := joiner.Join(ctx, i, wave); err != nil {
				emitEvent(obs, WalkEvent{Type: EventWalkError, Graph: g.name, Wave: i, Error: err})
				return fmt.Errorf("join wave %d: %w", i, err)
			}
			emitEvent(obs, WalkEvent{Type: EventWaveJoin, Graph: g.name, Wave: i})
		}
	}

	emitEvent(obs, WalkEvent{Type: EventWalkComplete, Graph: g.name, Elapsed: time.Since(walkStart)})
	return nil
}

// layer assigns each node to wave 1+max(wave of its dependencies) using
// Kahn's algorithm. Nodes left unassigned are part of a cycle.
func layer(nodes []Node, upstream map[string][]string) ([][]Node, error) {
	level := make(map[string]int, len(nodes))
	remaining := make(map[string]int, len(nodes))
	downstream := make(map[string][]string)
	for _, n := range nodes {
		remaining[n.Name()] = len(upstream[n.Name()])
		for _, from := range upstream[n.Name()] {
			downstream[from] = append(downstream[from], n.Name())
		}
	}

	var queue []string
	for _, n := range nodes {
		if remaining[n.Name()] == 0 {
			queue = append(queue, n.Name())
		}
	}
	placed := 0
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		placed++
		for _, to := range downstream[name] {
			if level[name]+1 > level[to] {
				level[to] = level[name] + 1
			}
			remaining[to]--
			if remaining[to] == 0 {
				queue = append(queue, to)
			}
		}
	}
	if placed != len(nodes) {
		return nil, fmt.Errorf("%w: %d of %d nodes unreachable in topological order", ErrCycle, len(nodes)-placed, len(nodes))
	}

	var waves [][]Node
	for _, n := range nodes {
		l := level[n.Name()]
		for len(waves) <= l {
			waves = append(waves, nil)
		}
		waves[l] = append(waves[l], n)
	}
	return waves, nil
}

func nodeNames(nodes []Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name()
	}
	return out
}
