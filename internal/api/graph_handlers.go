package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/banshee-data/genlab/internal/comfy"
	"github.com/banshee-data/genlab/internal/httputil"
)

func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.ws.Graph())
}

// handlePutGraph replaces the live graph with the one pushed by the browser
// bridge.
func (s *Server) handlePutGraph(w http.ResponseWriter, r *http.Request) {
	var g comfy.Graph
	if err := httputil.DecodeJSON(r, &g); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.ws.Replace(g); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"version": s.ws.Version()})
}

type selectionRequest struct {
	Selected []int `json:"selected"`
}

func (s *Server) handlePutSelection(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	s.ws.Select(req.Selected)
	httputil.WriteJSONOK(w, map[string]any{"selected": s.ws.Graph().Selected})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		httputil.ServiceUnavailable(w, "run history is not configured")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			httputil.BadRequest(w, "invalid 'limit' parameter; must be an integer")
			return
		}
		limit = n
	}
	runs, err := s.runs.ListRuns(limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		httputil.ServiceUnavailable(w, "run history is not configured")
		return
	}
	runID := chi.URLParam(r, "runID")
	rec, err := s.runs.GetRun(runID)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if rec == nil {
		httputil.NotFound(w, "run not found: "+runID)
		return
	}
	httputil.WriteJSONOK(w, rec)
}
