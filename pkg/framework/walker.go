package framework

import "context"

// Node is a unit of work in a Graph. The framework only schedules nodes;
// what visiting one means is up to the Walker.
type Node interface {
	Name() string
	Family() string
}

// Walker processes nodes during a walk. Handle may be called concurrently
// for nodes of the same wave.
type Walker interface {
	Handle(ctx context.Context, node Node) error
}

// WalkerFunc adapts a plain function to the Walker interface.
type WalkerFunc func(ctx context.Context, node Node) error

func (f WalkerFunc) Handle(ctx context.Context, node Node) error { return f(ctx, node) }

// WaveJoiner is implemented by walkers that buffer per-node results and
// merge them once their wave has finished. Join runs on the walking
// goroutine, never concurrently with Handle.
type WaveJoiner interface {
	Join(ctx context.Context, wave int, nodes []Node) error
}

// BasicNode is a Node carrying only its identity.
type BasicNode struct {
	NodeName   string
	NodeFamily string
}

func (n BasicNode) Name() string   { return n.NodeName }
func (n BasicNode) Family() string { return n.NodeFamily }
