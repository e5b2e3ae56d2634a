package framework

import (
	"errors"
	"fmt"
)

var (
	// ErrNodeNotFound is returned when a referenced node does not exist in the graph.
	ErrNodeNotFound = errors.New("framework: node not found")

	// ErrDuplicateNode is returned when two nodes share a name.
	ErrDuplicateNode = errors.New("framework: duplicate node")

	// ErrCycle is returned when the edges do not describe a DAG.
	ErrCycle = errors.New("framework: dependency cycle")
)

// NodeError is returned by Walk when a node handler fails. It names the node
// so callers can report the failing stage.
type NodeError struct {
	Node string
	Err  error
}

func (e *NodeError) Error() string { return fmt.Sprintf("node %s: %v", e.Node, e.Err) }

func (e *NodeError) Unwrap() error { return e.Err }
