package sweep

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
)

// fakeHost is an in-memory HostGraphPort.
type fakeHost struct {
	mu sync.Mutex

	prompt    map[string]*PromptNode
	nodes     map[int]*Node
	selected  []int
	submitted []*SerializedGraph
	nextID    int
	failAt    map[int]error // submission index -> error
	emptyAt   map[int]bool  // submission index -> no job id
	ready     map[string]string
	outErr    map[string]error
	outCalls  int
	dirty     int
	cleared   int
	interrupt int

	// onGetOutput, when set, runs at the start of every GetJobOutput call.
	onGetOutput func(jobID string)
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		prompt:  map[string]*PromptNode{},
		nodes:   map[int]*Node{},
		failAt:  map[int]error{},
		emptyAt: map[int]bool{},
		ready:   map[string]string{},
		outErr:  map[string]error{},
	}
}

func (h *fakeHost) addNode(n Node, inputs map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := n
	h.nodes[n.ID] = &cp
	if inputs != nil {
		h.prompt[strconv.Itoa(n.ID)] = &PromptNode{ClassType: n.Type, Inputs: inputs}
	}
}

func (h *fakeHost) setReady(jobID, url string) {
	h.mu.Lock()
	h.ready[jobID] = url
	h.mu.Unlock()
}

func (h *fakeHost) SnapshotExecutionGraph(ctx context.Context) (*SerializedGraph, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	// Deep copy through JSON like a real host serialisation would.
	data, err := json.Marshal(h.prompt)
	if err != nil {
		return nil, err
	}
	var prompt map[string]*PromptNode
	if err := json.Unmarshal(data, &prompt); err != nil {
		return nil, err
	}
	return &SerializedGraph{Prompt: prompt}, nil
}

func (h *fakeHost) SubmitJob(ctx context.Context, graph *SerializedGraph, clientID string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	idx := len(h.submitted)
	h.submitted = append(h.submitted, graph)
	if err := h.failAt[idx]; err != nil {
		return "", err
	}
	if h.emptyAt[idx] {
		return "", nil
	}
	h.nextID++
	return fmt.Sprintf("job-%d", h.nextID), nil
}

func (h *fakeHost) ClearQueue(ctx context.Context) error {
	h.mu.Lock()
	h.cleared++
	h.mu.Unlock()
	return nil
}

func (h *fakeHost) InterruptActiveJob(ctx context.Context) error {
	h.mu.Lock()
	h.interrupt++
	h.mu.Unlock()
	return nil
}

func (h *fakeHost) GetJobOutput(ctx context.Context, jobID string, outputNodeID int) (string, error) {
	if h.onGetOutput != nil {
		h.onGetOutput(jobID)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outCalls++
	if err := h.outErr[jobID]; err != nil {
		return "", err
	}
	return h.ready[jobID], nil
}

func (h *fakeHost) ListSelectedNodes() []Node {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Node
	for _, id := range h.selected {
		if n, ok := h.nodes[id]; ok {
			out = append(out, *n)
		}
	}
	return out
}

func (h *fakeHost) VisibleNodes() []Node {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Node
	for _, n := range h.nodes {
		out = append(out, *n)
	}
	return out
}

func (h *fakeHost) LookupNode(id int) (Node, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, ok := h.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

func (h *fakeHost) SetWidgetValue(nodeID int, name string, value any) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, ok := h.nodes[nodeID]
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

func (h *fakeHost) MarkCanvasDirty() {
	h.mu.Lock()
	h.dirty++
	h.mu.Unlock()
}

func (h *fakeHost) ResolveSingleOutputNode(nodes []Node) (int, bool) {
	return ResolveOutputNode(nodes)
}

func (h *fakeHost) widgetValue(nodeID int, name string) any {
	n, ok := h.LookupNode(nodeID)
	if !ok {
		return nil
	}
	w, _ := n.Widget(name)
	return w.Value
}

var _ HostGraphPort = (*fakeHost)(nil)
