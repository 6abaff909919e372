package genlab

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/genlab/internal/comfy"
	"github.com/banshee-data/genlab/internal/store"
	"github.com/banshee-data/genlab/internal/sweep"
	"github.com/banshee-data/genlab/internal/timeutil"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func ptrF(v float64) *float64 { return &v }

// testGraph has a sampler, a prompt, a hires sampler and a single save node.
// Nodes 3 and 6 start selected.
func testGraph() comfy.Graph {
	return comfy.Graph{
		Nodes: []comfy.GraphNode{
			{ID: 3, Type: "KSampler", Widgets: []sweep.Widget{
				{Name: "seed", Type: "number", Value: 42.0},
				{Name: "steps", Type: "number", Value: 20.0, Options: sweep.WidgetOptions{Min: ptrF(1), Max: ptrF(10000), Step: ptrF(10)}},
				{Name: "cfg", Type: "number", Value: 8.0, Options: sweep.WidgetOptions{Max: ptrF(100), Step: ptrF(1)}},
				{Name: "sampler_name", Type: "combo", Value: "euler", Options: sweep.WidgetOptions{Values: []any{"euler", "heun", "lms", "dpmpp_2m"}}},
				{Name: "run", Type: "button"},
			}},
			{ID: 6, Type: "CLIPTextEncode", Widgets: []sweep.Widget{
				{Name: "text", Type: "customtext", Value: "a lighthouse"},
			}},
			{ID: 12, Type: "KSampler", Title: "Hires pass", Widgets: []sweep.Widget{
				{Name: "steps", Type: "number", Value: 12.0, Options: sweep.WidgetOptions{Min: ptrF(1), Max: ptrF(40), Step: ptrF(10)}},
				{Name: "cfg", Type: "number", Value: 6.0, Options: sweep.WidgetOptions{Max: ptrF(100), Step: ptrF(1)}},
			}},
			{ID: 9, Type: "SaveImage", Widgets: []sweep.Widget{
				{Name: "filename_prefix", Type: "text", Value: "genlab"},
			}},
		},
		Selected: []int{3, 6},
	}
}

// fakeHost serves the live graph from a real workspace and fakes the queue.
type fakeHost struct {
	*comfy.Workspace

	mu          sync.Mutex
	submitted   []*sweep.SerializedGraph
	failAt      map[int]bool
	ready       map[string]string
	cleared     int
	interrupted int
	onSubmit    func(n int)
}

func newFakeHost(t *testing.T, g comfy.Graph) *fakeHost {
	t.Helper()
	ws := comfy.NewWorkspace()
	require.NoError(t, ws.Replace(g))
	return &fakeHost{Workspace: ws, failAt: map[int]bool{}, ready: map[string]string{}}
}

func (h *fakeHost) SnapshotExecutionGraph(ctx context.Context) (*sweep.SerializedGraph, error) {
	return h.ExecutionGraph()
}

func (h *fakeHost) SubmitJob(ctx context.Context, g *sweep.SerializedGraph, clientID string) (string, error) {
	h.mu.Lock()
	n := len(h.submitted)
	h.submitted = append(h.submitted, g)
	fail, hook := h.failAt[n], h.onSubmit
	h.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if fail {
		return "", errors.New("queue full")
	}
	return fmt.Sprintf("job-%d", n+1), nil
}

func (h *fakeHost) GetJobOutput(ctx context.Context, jobID string, outputNodeID int) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready[jobID], nil
}

func (h *fakeHost) ClearQueue(ctx context.Context) error {
	h.mu.Lock()
	h.cleared++
	h.mu.Unlock()
	return nil
}

func (h *fakeHost) InterruptActiveJob(ctx context.Context) error {
	h.mu.Lock()
	h.interrupted++
	h.mu.Unlock()
	return nil
}

func (h *fakeHost) setReady(handles ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range handles {
		h.ready[id] = "http://host/view?filename=" + id + ".png&subfolder=&type=output"
	}
}

func (h *fakeHost) submissions() []*sweep.SerializedGraph {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*sweep.SerializedGraph{}, h.submitted...)
}

type trackedEvent struct {
	Type      string
	MessageID string
	Data      map[string]any
}

type fakeAssistant struct {
	mu       sync.Mutex
	variants []string
	err      error
	inputs   []string
	events   []trackedEvent
}

func (a *fakeAssistant) GenerateTextVariants(ctx context.Context, text string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inputs = append(a.inputs, text)
	if a.err != nil {
		return nil, a.err
	}
	return append([]string{}, a.variants...), nil
}

func (a *fakeAssistant) TrackEvent(eventType, messageID string, data map[string]any) {
	a.mu.Lock()
	a.events = append(a.events, trackedEvent{Type: eventType, MessageID: messageID, Data: data})
	a.mu.Unlock()
}

func (a *fakeAssistant) eventTypes() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.events))
	for i, e := range a.events {
		out[i] = e.Type
	}
	return out
}

func (a *fakeAssistant) last() trackedEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.events[len(a.events)-1]
}

type fixture struct {
	host      *fakeHost
	clock     *timeutil.MockClock
	assistant *fakeAssistant
	db        *store.DB
	panel     *Panel
}

func newFixture(t *testing.T, g comfy.Graph) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "genlab.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		host:      newFakeHost(t, g),
		clock:     timeutil.NewMockClock(epoch),
		assistant: &fakeAssistant{},
		db:        db,
	}
	f.panel = f.newPanel()
	t.Cleanup(f.panel.Close)
	return f
}

// newPanel builds another panel sharing the fixture's host, clock and store.
func (f *fixture) newPanel() *Panel {
	return New(f.host, Options{
		Clock:     f.clock,
		Assistant: f.assistant,
		Snapshots: store.NewSnapshotStore(f.db.DB),
		Runs:      store.NewRunStore(f.db.DB),
		ClientID:  "genlab-test",
	})
}

// configure walks the panel to confirmation with 3 steps x 2 cfg x 2
// samplers on node 3.
func (f *fixture) configure(t *testing.T) {
	t.Helper()
	p := f.panel
	require.NoError(t, p.Next())
	require.NoError(t, p.SetNumericRange(3, "steps", sweep.NumericRange{Min: 10, Max: 30, Step: 10}))
	require.NoError(t, p.SetValues(3, "cfg", []any{7.0, "8"}))
	present, err := p.ToggleValue(3, "sampler_name", "lms")
	require.NoError(t, err)
	require.False(t, present)
	require.NoError(t, p.Next())
	require.Equal(t, ScreenConfirmation, p.Screen())
}

func node(t *testing.T, h *fakeHost, id int) sweep.Node {
	t.Helper()
	n, ok := h.LookupNode(id)
	require.True(t, ok, "node %d", id)
	return n
}

func widgetValue(t *testing.T, h *fakeHost, id int, name string) any {
	t.Helper()
	w, ok := node(t, h, id).Widget(name)
	require.True(t, ok, "widget %d/%s", id, name)
	return w.Value
}
