package sweep

var applyLogf = dispatchLogf

// Applier writes a chosen assignment back onto the live graph.
type Applier struct {
	graph LiveGraph
}

// NewApplier creates an Applier for graph.
func NewApplier(graph LiveGraph) *Applier {
	return &Applier{graph: graph}
}

// Apply sets each setting's widget on the live graph and marks the canvas
// dirty. Nodes or widgets that no longer exist are skipped. Apply only
// assigns values, so applying the same assignment twice leaves the graph as
// applying it once. It returns the number of widgets set.
func (a *Applier) Apply(assignment Assignment) int {
	applied := 0
	for _, s := range assignment {
		if _, ok := a.graph.LookupNode(s.NodeID); !ok {
			continue
		}
		if a.graph.SetWidgetValue(s.NodeID, s.ParamName, s.Value) {
			applied++
		}
	}
	a.graph.MarkCanvasDirty()
	applyLogf("applied %d/%d settings: %s", applied, len(assignment), assignment.Label())
	return applied
}
