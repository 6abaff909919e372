package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/banshee-data/genlab/internal/httputil"
	"github.com/banshee-data/genlab/internal/sweep"
)

// writeState answers with the panel state after a successful operation.
func (s *Server) writeState(w http.ResponseWriter) {
	httputil.WriteJSONOK(w, s.panel.State())
}

// paramTarget reads the {nodeID} and {param} path segments.
func paramTarget(r *http.Request) (int, string, error) {
	nodeID, err := strconv.Atoi(chi.URLParam(r, "nodeID"))
	if err != nil {
		return 0, "", fmt.Errorf("invalid node id %q", chi.URLParam(r, "nodeID"))
	}
	return nodeID, chi.URLParam(r, "param"), nil
}

func textIndex(r *http.Request) (int, error) {
	i, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		return 0, fmt.Errorf("invalid text index %q", chi.URLParam(r, "index"))
	}
	return i, nil
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeState(w)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	ok, err := s.panel.Restore()
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"restored": ok, "state": s.panel.State()})
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	if err := s.panel.Next(); err != nil {
		writeError(w, err)
		return
	}
	s.writeState(w)
}

func (s *Server) handlePrevious(w http.ResponseWriter, r *http.Request) {
	if err := s.panel.Previous(); err != nil {
		writeError(w, err)
		return
	}
	s.writeState(w)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	s.panel.Close()
	s.writeState(w)
}

func (s *Server) handleToggleParam(w http.ResponseWriter, r *http.Request) {
	selected, err := s.panel.ToggleParam(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"selected": selected, "state": s.panel.State()})
}

func (s *Server) handleCloseNode(w http.ResponseWriter, r *http.Request) {
	nodeID, err := strconv.Atoi(chi.URLParam(r, "nodeID"))
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid node id %q", chi.URLParam(r, "nodeID")))
		return
	}
	if err := s.panel.CloseNode(nodeID); err != nil {
		writeError(w, err)
		return
	}
	s.writeState(w)
}

type valuesRequest struct {
	Values []any `json:"values"`
}

func (s *Server) handleSetValues(w http.ResponseWriter, r *http.Request) {
	nodeID, param, err := paramTarget(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	var req valuesRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.panel.SetValues(nodeID, param, req.Values); err != nil {
		writeError(w, err)
		return
	}
	s.writeState(w)
}

func (s *Server) handleSetRange(w http.ResponseWriter, r *http.Request) {
	nodeID, param, err := paramTarget(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	var req sweep.NumericRange
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.panel.SetNumericRange(nodeID, param, req); err != nil {
		writeError(w, err)
		return
	}
	s.writeState(w)
}

type toggleValueRequest struct {
	Value any `json:"value"`
}

func (s *Server) handleToggleValue(w http.ResponseWriter, r *http.Request) {
	nodeID, param, err := paramTarget(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	var req toggleValueRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	present, err := s.panel.ToggleValue(nodeID, param, req.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"present": present, "state": s.panel.State()})
}

func (s *Server) handleSelectAll(w http.ResponseWriter, r *http.Request) {
	nodeID, param, err := paramTarget(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.panel.SelectAll(nodeID, param); err != nil {
		writeError(w, err)
		return
	}
	s.writeState(w)
}

func (s *Server) handleAddText(w http.ResponseWriter, r *http.Request) {
	nodeID, param, err := paramTarget(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.panel.AddText(nodeID, param); err != nil {
		writeError(w, err)
		return
	}
	s.writeState(w)
}

type textRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSetText(w http.ResponseWriter, r *http.Request) {
	nodeID, param, err := paramTarget(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	index, err := textIndex(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	var req textRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.panel.SetText(nodeID, param, index, req.Text); err != nil {
		writeError(w, err)
		return
	}
	s.writeState(w)
}

func (s *Server) handleRemoveText(w http.ResponseWriter, r *http.Request) {
	nodeID, param, err := paramTarget(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	index, err := textIndex(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.panel.RemoveText(nodeID, param, index); err != nil {
		writeError(w, err)
		return
	}
	s.writeState(w)
}

type variantsRequest struct {
	Seed string `json:"seed"`
}

func (s *Server) handleGenerateVariants(w http.ResponseWriter, r *http.Request) {
	nodeID, param, err := paramTarget(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	var req variantsRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	texts, err := s.panel.GenerateTextVariants(r.Context(), nodeID, param, req.Seed)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"variants": texts})
}

type applyVariantsRequest struct {
	Indices []int `json:"indices"`
}

func (s *Server) handleApplyVariants(w http.ResponseWriter, r *http.Request) {
	nodeID, param, err := paramTarget(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	var req applyVariantsRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.panel.ApplyTextVariants(nodeID, param, req.Indices); err != nil {
		writeError(w, err)
		return
	}
	s.writeState(w)
}

type startRequest struct {
	OutputNodeID int `json:"output_node_id"`
}

// handleStart accepts an empty body, which resolves the output node from the
// graph.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
	}
	sessionID, err := s.panel.Start(req.OutputNodeID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]any{"session_id": sessionID, "state": s.panel.State()})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.panel.Cancel(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	s.writeState(w)
}

type selectResultRequest struct {
	Index int `json:"index"`
}

func (s *Server) handleSelectResult(w http.ResponseWriter, r *http.Request) {
	var req selectResultRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.panel.SelectResult(req.Index); err != nil {
		writeError(w, err)
		return
	}
	s.writeState(w)
}

func (s *Server) handleApplyResult(w http.ResponseWriter, r *http.Request) {
	applied, err := s.panel.ApplySelected(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"applied": applied, "state": s.panel.State()})
}
