package framework

import "fmt"

// Edge is a dependency between two Nodes: To may only run after From has
// completed.
type Edge struct {
	ID   string
	From string
	To   string
}

// Key returns the edge ID, or "from->to" when no ID was declared.
func (e Edge) Key() string {
	if e.ID != "" {
		return e.ID
	}
	return fmt.Sprintf("%s->%s", e.From, e.To)
}
