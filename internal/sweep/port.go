package sweep

import (
	"context"
	"encoding/json"
	"strconv"
)

// OutputNodeTypes are the node types whose output is collected per job.
var OutputNodeTypes = []string{"SaveImage", "PreviewImage"}

// Widget is one input on a live node.
type Widget struct {
	Name    string        `json:"name"`
	Type    string        `json:"type"`
	Value   any           `json:"value"`
	Options WidgetOptions `json:"options"`
}

// Node is a live graph node as seen by the engine.
type Node struct {
	ID      int      `json:"id"`
	Type    string   `json:"type"`
	Title   string   `json:"title,omitempty"`
	Widgets []Widget `json:"widgets"`
}

// Widget returns the widget with the given name.
func (n Node) Widget(name string) (Widget, bool) {
	for _, w := range n.Widgets {
		if w.Name == name {
			return w, true
		}
	}
	return Widget{}, false
}

// PromptNode is one node of the submittable execution graph.
type PromptNode struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// SerializedGraph is the execution graph in submittable form. Prompt is keyed
// by the decimal node id. Workflow is the opaque editor graph that the host
// stores alongside the job.
type SerializedGraph struct {
	Prompt   map[string]*PromptNode `json:"prompt"`
	Workflow json.RawMessage        `json:"workflow,omitempty"`
}

// Node returns the prompt node for id.
func (g *SerializedGraph) Node(id int) (*PromptNode, bool) {
	n, ok := g.Prompt[strconv.Itoa(id)]
	return n, ok && n != nil
}

// JobQueue is the host's execution queue.
type JobQueue interface {
	// SnapshotExecutionGraph returns a fresh, caller-owned copy of the
	// current graph in submittable form.
	SnapshotExecutionGraph(ctx context.Context) (*SerializedGraph, error)

	// SubmitJob queues the graph and returns the job id. An empty id with a
	// nil error means the host accepted the request but returned no id.
	SubmitJob(ctx context.Context, graph *SerializedGraph, clientID string) (string, error)

	// ClearQueue removes pending jobs.
	ClearQueue(ctx context.Context) error

	// InterruptActiveJob stops the job currently executing.
	InterruptActiveJob(ctx context.Context) error
}

// OutputSource reports finished job outputs.
type OutputSource interface {
	// GetJobOutput returns the output URL of outputNodeID for the job, or ""
	// when the output is not ready yet.
	GetJobOutput(ctx context.Context, jobID string, outputNodeID int) (string, error)
}

// LiveGraph is the editor's live node graph.
type LiveGraph interface {
	ListSelectedNodes() []Node
	VisibleNodes() []Node
	LookupNode(id int) (Node, bool)
	// SetWidgetValue sets a widget by name and reports whether it exists.
	SetWidgetValue(nodeID int, name string, value any) bool
	MarkCanvasDirty()
	// ResolveSingleOutputNode returns the only output node among nodes.
	ResolveSingleOutputNode(nodes []Node) (int, bool)
}

// HostGraphPort is everything the engine needs from the host.
type HostGraphPort interface {
	JobQueue
	OutputSource
	LiveGraph
}

// ResolveOutputNode returns the id of the single node among nodes whose type
// is an output type. Zero or several candidates report false.
func ResolveOutputNode(nodes []Node) (int, bool) {
	found := -1
	count := 0
	for _, n := range nodes {
		for _, t := range OutputNodeTypes {
			if n.Type == t {
				found = n.ID
				count++
				break
			}
		}
	}
	if count != 1 {
		return 0, false
	}
	return found, true
}
