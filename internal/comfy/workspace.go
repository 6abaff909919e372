package comfy

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/samber/lo"

	"github.com/banshee-data/genlab/internal/sweep"
)

// Node modes that exclude a node from execution.
const (
	ModeAlways = 0
	ModeNever  = 2
	ModeBypass = 4
)

// Widget types that never reach the execution graph.
var nonSerialWidgets = []string{"button", "image", "preview"}

// NodeInput is a linkable input slot. Link is nil when unconnected.
type NodeInput struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	Link *int   `json:"link"`
}

// GraphNode is one node of the live graph as sent by the browser bridge.
type GraphNode struct {
	ID      int            `json:"id"`
	Type    string         `json:"type"`
	Title   string         `json:"title,omitempty"`
	Mode    int            `json:"mode,omitempty"`
	Widgets []sweep.Widget `json:"widgets"`
	Inputs  []NodeInput    `json:"inputs,omitempty"`
}

// Link connects an output slot of one node to an input slot of another.
type Link struct {
	ID         int    `json:"id"`
	OriginID   int    `json:"origin_id"`
	OriginSlot int    `json:"origin_slot"`
	TargetID   int    `json:"target_id"`
	TargetSlot int    `json:"target_slot"`
	Type       string `json:"type,omitempty"`
}

// Graph is the full live graph document exchanged with the browser bridge.
type Graph struct {
	Nodes    []GraphNode     `json:"nodes"`
	Links    []Link          `json:"links"`
	Selected []int           `json:"selected"`
	Workflow json.RawMessage `json:"workflow,omitempty"`
	Version  int64           `json:"version"`
}

// Workspace is the in-memory mirror of the editor's live graph. It is safe
// for concurrent use.
type Workspace struct {
	mu       sync.RWMutex
	nodes    []*GraphNode
	byID     map[int]*GraphNode
	links    map[int]Link
	selected []int
	workflow json.RawMessage
	version  int64
}

// NewWorkspace creates an empty workspace.
func NewWorkspace() *Workspace {
	return &Workspace{
		byID:  make(map[int]*GraphNode),
		links: make(map[int]Link),
	}
}

// Replace swaps in g as the live graph. Selected ids that do not name a node
// are dropped. Duplicate node ids are rejected.
func (w *Workspace) Replace(g Graph) error {
	nodes := make([]*GraphNode, 0, len(g.Nodes))
	byID := make(map[int]*GraphNode, len(g.Nodes))
	for i := range g.Nodes {
		n := cloneNode(g.Nodes[i])
		if _, dup := byID[n.ID]; dup {
			return fmt.Errorf("duplicate node id %d", n.ID)
		}
		nodes = append(nodes, n)
		byID[n.ID] = n
	}
	links := make(map[int]Link, len(g.Links))
	for _, l := range g.Links {
		links[l.ID] = l
	}
	selected := lo.Uniq(lo.Filter(g.Selected, func(id int, _ int) bool {
		_, ok := byID[id]
		return ok
	}))

	w.mu.Lock()
	defer w.mu.Unlock()
	w.nodes = nodes
	w.byID = byID
	w.links = links
	w.selected = selected
	w.workflow = append(json.RawMessage(nil), g.Workflow...)
	w.version++
	return nil
}

// Select replaces the selection. Unknown ids are dropped.
func (w *Workspace) Select(ids []int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.selected = lo.Uniq(lo.Filter(ids, func(id int, _ int) bool {
		_, ok := w.byID[id]
		return ok
	}))
}

// Graph returns a copy of the live graph.
func (w *Workspace) Graph() Graph {
	w.mu.RLock()
	defer w.mu.RUnlock()
	g := Graph{
		Nodes:    make([]GraphNode, len(w.nodes)),
		Links:    make([]Link, 0, len(w.links)),
		Selected: append([]int{}, w.selected...),
		Workflow: append(json.RawMessage(nil), w.workflow...),
		Version:  w.version,
	}
	for i, n := range w.nodes {
		g.Nodes[i] = *cloneNode(*n)
	}
	for _, n := range w.nodes {
		for _, in := range n.Inputs {
			if in.Link == nil {
				continue
			}
			if l, ok := w.links[*in.Link]; ok {
				g.Links = append(g.Links, l)
			}
		}
	}
	return g
}

// Version increases every time the graph is replaced or the canvas is
// marked dirty. The bridge compares it to decide when to reload.
func (w *Workspace) Version() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.version
}

// ListSelectedNodes returns the selected nodes in selection order.
func (w *Workspace) ListSelectedNodes() []sweep.Node {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]sweep.Node, 0, len(w.selected))
	for _, id := range w.selected {
		if n, ok := w.byID[id]; ok {
			out = append(out, toSweepNode(n))
		}
	}
	return out
}

// VisibleNodes returns every node on the canvas in graph order.
func (w *Workspace) VisibleNodes() []sweep.Node {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return lo.Map(w.nodes, func(n *GraphNode, _ int) sweep.Node { return toSweepNode(n) })
}

// LookupNode returns the node with the given id.
func (w *Workspace) LookupNode(id int) (sweep.Node, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	n, ok := w.byID[id]
	if !ok {
		return sweep.Node{}, false
	}
	return toSweepNode(n), true
}

// SetWidgetValue sets the named widget on node id.
func (w *Workspace) SetWidgetValue(id int, name string, value any) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.byID[id]
	if !ok {
		return false
	}
	for i := range n.Widgets {
		if n.Widgets[i].Name == name {
			n.Widgets[i].Value = value
			return true
		}
	}
	return false
}

// MarkCanvasDirty bumps the graph version.
func (w *Workspace) MarkCanvasDirty() {
	w.mu.Lock()
	w.version++
	w.mu.Unlock()
}

// ResolveSingleOutputNode returns the only output node among nodes.
func (w *Workspace) ResolveSingleOutputNode(nodes []sweep.Node) (int, bool) {
	return sweep.ResolveOutputNode(nodes)
}

// ExecutionGraph derives the submittable graph from the live graph: one
// prompt node per active node with its widget values as inputs, and each
// connected input as a [origin id, origin slot] reference. Nodes that are
// muted or bypassed are left out along with links from them. The result
// shares no memory with the workspace.
func (w *Workspace) ExecutionGraph() (*sweep.SerializedGraph, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	active := func(n *GraphNode) bool { return n.Mode != ModeNever && n.Mode != ModeBypass }

	prompt := make(map[string]*sweep.PromptNode, len(w.nodes))
	for _, n := range w.nodes {
		if !active(n) {
			continue
		}
		inputs := make(map[string]any, len(n.Widgets)+len(n.Inputs))
		for _, wd := range n.Widgets {
			if wd.Value == nil || lo.Contains(nonSerialWidgets, wd.Type) {
				continue
			}
			v, err := copyValue(wd.Value)
			if err != nil {
				return nil, fmt.Errorf("node %d widget %s: %w", n.ID, wd.Name, err)
			}
			inputs[wd.Name] = v
		}
		for _, in := range n.Inputs {
			if in.Link == nil {
				continue
			}
			l, ok := w.links[*in.Link]
			if !ok {
				continue
			}
			origin, ok := w.byID[l.OriginID]
			if !ok || !active(origin) {
				continue
			}
			inputs[in.Name] = []any{strconv.Itoa(l.OriginID), l.OriginSlot}
		}
		prompt[strconv.Itoa(n.ID)] = &sweep.PromptNode{ClassType: n.Type, Inputs: inputs}
	}

	return &sweep.SerializedGraph{
		Prompt:   prompt,
		Workflow: append(json.RawMessage(nil), w.workflow...),
	}, nil
}

// copyValue returns v unchanged for scalars and a JSON deep copy otherwise.
func copyValue(v any) (any, error) {
	switch v.(type) {
	case string, float64, float32, int, int64, bool:
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func toSweepNode(n *GraphNode) sweep.Node {
	return sweep.Node{
		ID:      n.ID,
		Type:    n.Type,
		Title:   n.Title,
		Widgets: append([]sweep.Widget{}, n.Widgets...),
	}
}

func cloneNode(n GraphNode) *GraphNode {
	cp := n
	cp.Widgets = append([]sweep.Widget{}, n.Widgets...)
	cp.Inputs = make([]NodeInput, len(n.Inputs))
	for i, in := range n.Inputs {
		cp.Inputs[i] = in
		if in.Link != nil {
			id := *in.Link
			cp.Inputs[i].Link = &id
		}
	}
	return &cp
}
