package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/genlab/internal/comfy"
	"github.com/banshee-data/genlab/internal/genlab"
	"github.com/banshee-data/genlab/internal/monitoring"
	"github.com/banshee-data/genlab/internal/store"
	"github.com/banshee-data/genlab/internal/sweep"
	"github.com/banshee-data/genlab/internal/timeutil"
)

func ptrF(v float64) *float64 { return &v }

// fakeComfy answers the host endpoints the panel uses. Prompts get ids
// p-1, p-2, ... and have output once marked ready.
type fakeComfy struct {
	mu      sync.Mutex
	queued  int
	ready   map[string]bool
	cleared int
}

func (f *fakeComfy) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /prompt", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.queued++
		id := fmt.Sprintf("p-%d", f.queued)
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"prompt_id": id})
	})
	mux.HandleFunc("GET /history/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		f.mu.Lock()
		ready := f.ready[id]
		f.mu.Unlock()
		if !ready {
			w.Write([]byte(`{}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{id: map[string]any{
			"outputs": map[string]any{"9": map[string]any{
				"images": []map[string]string{{"filename": id + ".png", "subfolder": "", "type": "output"}},
			}},
		}})
	})
	mux.HandleFunc("POST /queue", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.cleared++
		f.mu.Unlock()
	})
	mux.HandleFunc("POST /interrupt", func(w http.ResponseWriter, r *http.Request) {})
	return mux
}

func (f *fakeComfy) setReady(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.ready[id] = true
	}
}

func testGraph() comfy.Graph {
	return comfy.Graph{
		Nodes: []comfy.GraphNode{
			{ID: 3, Type: "KSampler", Widgets: []sweep.Widget{
				{Name: "seed", Type: "number", Value: 42.0},
				{Name: "steps", Type: "number", Value: 20.0, Options: sweep.WidgetOptions{Min: ptrF(1), Max: ptrF(150), Step: ptrF(10)}},
				{Name: "cfg", Type: "number", Value: 8.0, Options: sweep.WidgetOptions{Max: ptrF(100), Step: ptrF(1)}},
				{Name: "sampler_name", Type: "combo", Value: "euler", Options: sweep.WidgetOptions{Values: []any{"euler", "heun"}}},
			}},
			{ID: 6, Type: "CLIPTextEncode", Widgets: []sweep.Widget{
				{Name: "text", Type: "customtext", Value: "a lighthouse"},
			}},
			{ID: 9, Type: "SaveImage", Widgets: []sweep.Widget{
				{Name: "filename_prefix", Type: "text", Value: "genlab"},
			}},
		},
		Selected: []int{3, 6},
	}
}

type testEnv struct {
	comfy *fakeComfy
	clock *timeutil.MockClock
	ws    *comfy.Workspace
	panel *genlab.Panel
	srv   *Server
	http  *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fc := &fakeComfy{ready: map[string]bool{}}
	hostSrv := httptest.NewServer(fc.handler())
	t.Cleanup(hostSrv.Close)

	db, err := store.Open(filepath.Join(t.TempDir(), "genlab.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ws := comfy.NewWorkspace()
	clock := timeutil.NewMockClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	runs := store.NewRunStore(db.DB)
	panel := genlab.New(comfy.NewHost(ws, comfy.NewClient(hostSrv.Client(), hostSrv.URL)), genlab.Options{
		Clock:     clock,
		Snapshots: store.NewSnapshotStore(db.DB),
		Runs:      runs,
		ClientID:  "genlab-test",
	})
	t.Cleanup(panel.Close)

	s := NewServer(panel, ws, runs)
	apiSrv := httptest.NewServer(s.Router())
	t.Cleanup(apiSrv.Close)

	return &testEnv{comfy: fc, clock: clock, ws: ws, panel: panel, srv: s, http: apiSrv}
}

// do sends a JSON request and decodes a JSON response into out when non-nil.
func (e *testEnv) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.http.URL+path, rd)
	require.NoError(t, err)
	resp, err := e.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type errorBody struct {
	Error string `json:"error"`
}

func TestServer_SweepRoundTrip(t *testing.T) {
	e := newTestEnv(t)

	var put map[string]any
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/api/graph", testGraph(), &put))
	assert.EqualValues(t, 1, put["version"])

	var st genlab.State
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/genlab/state", nil, &st))
	assert.Equal(t, "parameter_pick", st.ScreenName)
	assert.Equal(t, []string{"steps", "cfg", "sampler_name"}, st.SelectedParams)
	assert.Equal(t, []string{"seed", "steps", "cfg", "sampler_name", "text"}, st.AvailableParams)

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/genlab/next", nil, &st))
	assert.Equal(t, genlab.ScreenValueConfiguration, st.Screen)

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/api/genlab/nodes/3/params/steps/range",
		sweep.NumericRange{Min: 10, Max: 20, Step: 10}, &st))
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/api/genlab/nodes/3/params/cfg/values",
		map[string]any{"values": []any{7}}, &st))
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/api/genlab/nodes/3/params/sampler_name/values",
		map[string]any{"values": []any{"euler"}}, &st))
	assert.Equal(t, 2, st.TotalCount)

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/genlab/next", nil, &st))
	assert.Equal(t, genlab.ScreenConfirmation, st.Screen)

	var started struct {
		SessionID string       `json:"session_id"`
		State     genlab.State `json:"state"`
	}
	require.Equal(t, http.StatusAccepted, e.do(t, http.MethodPost, "/api/genlab/start", nil, &started))
	require.NotEmpty(t, started.SessionID)
	e.panel.Wait()

	e.comfy.setReady("p-1", "p-2")
	e.clock.Advance(sweep.DefaultPollInterval)

	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/genlab/state", nil, &st))
	require.Equal(t, genlab.ScreenResultGallery, st.Screen)
	require.NotNil(t, st.Session)
	assert.Equal(t, started.SessionID, st.Session.ID)
	assert.Equal(t, 9, st.Session.OutputNodeID)
	assert.Equal(t, sweep.PollCompleted, st.Session.Status)
	assert.Contains(t, st.Session.Results[1].URL, "filename=p-2.png")

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/genlab/results/select", map[string]int{"index": 1}, &st))
	assert.Equal(t, 1, st.SelectedResult)

	var applied struct {
		Applied int `json:"applied"`
	}
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/genlab/results/apply", nil, &applied))
	assert.Equal(t, 3, applied.Applied)

	var g comfy.Graph
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/graph", nil, &g))
	assert.Equal(t, 20.0, g.Nodes[0].Widgets[1].Value)
	assert.Equal(t, 7.0, g.Nodes[0].Widgets[2].Value)

	var runs []store.RunSummary
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/runs", nil, &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, started.SessionID, runs[0].SessionID)
	assert.Equal(t, string(sweep.PollCompleted), runs[0].Status)

	var rec store.RunRecord
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/runs/"+runs[0].RunID, nil, &rec))
	assert.Equal(t, 2, rec.Completed)

	var notFound errorBody
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/runs/nope", nil, &notFound))
	assert.Contains(t, notFound.Error, "nope")
}

func TestServer_ErrorMapping(t *testing.T) {
	e := newTestEnv(t)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/api/graph", testGraph(), nil))

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"wrong screen", http.MethodPost, "/api/genlab/start", nil, http.StatusConflict},
		{"previous on first screen", http.MethodPost, "/api/genlab/previous", nil, http.StatusConflict},
		{"apply without result", http.MethodPost, "/api/genlab/results/apply", nil, http.StatusConflict},
		{"bad node id", http.MethodPut, "/api/genlab/nodes/x/params/steps/values", map[string]any{"values": []any{1}}, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/runs?limit=ten", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body errorBody
			assert.Equal(t, tt.status, e.do(t, tt.method, tt.path, tt.body, &body))
			assert.NotEmpty(t, body.Error)
		})
	}

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/genlab/next", nil, nil))

	editTests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"unknown node", http.MethodPut, "/api/genlab/nodes/9/params/steps/values", map[string]any{"values": []any{1}}, http.StatusNotFound},
		{"unselected param", http.MethodPut, "/api/genlab/nodes/3/params/seed/values", map[string]any{"values": []any{1}}, http.StatusNotFound},
		{"range on combo", http.MethodPut, "/api/genlab/nodes/3/params/sampler_name/range", sweep.NumericRange{Min: 1, Max: 2}, http.StatusBadRequest},
		{"invalid json", http.MethodPut, "/api/genlab/nodes/3/params/steps/values", "not an object", http.StatusBadRequest},
		// Defaults give 10 steps x 10 cfg x 2 samplers.
		{"next over the cap", http.MethodPost, "/api/genlab/next", nil, http.StatusConflict},
	}
	for _, tt := range editTests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, e.do(t, tt.method, tt.path, tt.body, nil))
		})
	}

	var st genlab.State
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/genlab/state", nil, &st))
	assert.Equal(t, genlab.ScreenValueConfiguration, st.Screen)
	assert.Contains(t, st.Error, "too many combinations")
}

func TestServer_TextEditing(t *testing.T) {
	e := newTestEnv(t)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/api/graph", testGraph(), nil))

	var toggled struct {
		Selected bool `json:"selected"`
	}
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/genlab/params/text/toggle", nil, &toggled))
	assert.True(t, toggled.Selected)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/genlab/next", nil, nil))

	base := "/api/genlab/nodes/6/params/text"
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, base+"/texts/0", map[string]string{"text": "a lighthouse"}, nil))
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, base+"/texts", nil, nil))
	var st genlab.State
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, base+"/texts/1", map[string]string{"text": "a lighthouse at dusk"}, &st))

	var textCard genlab.ParamCard
	for _, n := range st.Nodes {
		for _, pc := range n.Params {
			if n.NodeID == 6 && pc.Name == "text" {
				textCard = pc
			}
		}
	}
	assert.Equal(t, []any{"a lighthouse", "a lighthouse at dusk"}, textCard.Values)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodDelete, base+"/texts/5", nil, nil))
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodDelete, base+"/texts/0", nil, nil))

	// No assistant is configured.
	assert.Equal(t, http.StatusServiceUnavailable, e.do(t, http.MethodPost, base+"/variants", map[string]string{"seed": "lighthouse"}, nil))

	require.Equal(t, http.StatusOK, e.do(t, http.MethodDelete, "/api/genlab/nodes/6", nil, &st))
	require.Len(t, st.Nodes, 1)
	assert.Equal(t, 3, st.Nodes[0].NodeID)
}

func TestServer_Selection(t *testing.T) {
	e := newTestEnv(t)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/api/graph", testGraph(), nil))

	var sel struct {
		Selected []int `json:"selected"`
	}
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/api/graph/selection", map[string]any{"selected": []int{9, 42}}, &sel))
	assert.Equal(t, []int{9}, sel.Selected)

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/api/graph/selection", map[string]any{"selected": []int{}}, nil))
	var body errorBody
	assert.Equal(t, http.StatusConflict, e.do(t, http.MethodPost, "/api/genlab/next", nil, &body))
	assert.Contains(t, body.Error, "no nodes selected")
}

func TestServer_ProgressChart(t *testing.T) {
	e := newTestEnv(t)

	rec := httptest.NewRecorder()
	e.srv.handleProgressChart(rec, httptest.NewRequest(http.MethodGet, "/debug/genlab/progress", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "no sweep")

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/api/graph", testGraph(), nil))
	require.NoError(t, e.panel.Next())
	require.NoError(t, e.panel.SetValues(3, "steps", []any{10.0, 20.0}))
	require.NoError(t, e.panel.SetValues(3, "cfg", []any{7.0}))
	require.NoError(t, e.panel.SetValues(3, "sampler_name", []any{"euler"}))
	require.NoError(t, e.panel.Next())
	_, err := e.panel.Start(0)
	require.NoError(t, err)
	e.panel.Wait()
	e.comfy.setReady("p-1")
	e.clock.Advance(sweep.DefaultPollInterval)

	rec = httptest.NewRecorder()
	e.srv.handleProgressChart(rec, httptest.NewRequest(http.MethodGet, "/debug/genlab/progress", nil))
	body := rec.Body.String()
	assert.Contains(t, body, "1/2 ready")
	assert.Contains(t, body, colorReady)
	assert.Contains(t, body, colorPending)
	assert.True(t, strings.Contains(body, "steps=10"), "job labels missing")
}

func TestStatusCodeColor(t *testing.T) {
	assert.Equal(t, colorBoldGreen+"200"+colorReset, statusCodeColor(200))
	assert.Equal(t, colorYellow+"304"+colorReset, statusCodeColor(304))
	assert.Equal(t, colorBoldRed+"409"+colorReset, statusCodeColor(409))
	assert.Equal(t, "100", statusCodeColor(100))
}

func TestLoggingMiddleware(t *testing.T) {
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	defer monitoring.SetLogger(nil)

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/genlab/state?x=1", nil))

	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "[api]")
	assert.Contains(t, lines[0], "418")
	assert.Contains(t, lines[0], "/api/genlab/state?x=1")
}
