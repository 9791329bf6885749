package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"

	"github.com/sanonone/scalenav/pkg/engine"
	"github.com/sanonone/scalenav/pkg/navigator"
	"github.com/sanonone/scalenav/pkg/orchestrator"
)

// registerHTTPHandlers sets up the routes of the session API.
func (s *Server) registerHTTPHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("GET /embedding", s.handleEmbedding)
	mux.HandleFunc("PUT /roi", s.handleSetROI)
	mux.HandleFunc("POST /update", s.handleUpdate)
	mux.HandleFunc("POST /step", s.handleStep)
	mux.HandleFunc("POST /viewport/back", s.handleViewportBack)
	mux.HandleFunc("POST /viewport/forward", s.handleViewportForward)
	mux.HandleFunc("PUT /budget", s.handleBudget)
	mux.HandleFunc("PUT /pause", s.handlePause)
	mux.HandleFunc("POST /selection/{side}", s.handleSelection)

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	e := s.Engine
	s.writeHTTPResponse(w, http.StatusOK, StateResponse{
		Level:     e.ScaleLevel(),
		Landmarks: e.Landmarks(),
		ROI:       roiRequest(e.ROI()),
		Budget:    budgetResponse(e.Budget()),
		Busy:      e.IsBusy(),
		Viewports: e.Sequence().Len(),
		Step:      e.Sequence().Current(),
	})
}

func (s *Server) handleEmbedding(w http.ResponseWriter, r *http.Request) {
	coords := s.Engine.Embedding()
	ids := make([]uint32, len(coords)/2)
	for dataID, entry := range s.Engine.IDMapping() {
		if int(entry.Pos) < len(ids) {
			ids[entry.Pos] = dataID
		}
	}
	s.writeHTTPResponse(w, http.StatusOK, EmbeddingResponse{Coords: coords, DataPoints: ids})
}

func (s *Server) handleSetROI(w http.ResponseWriter, r *http.Request) {
	var req ROIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	s.Engine.SetROI(req.ROI())
	s.writeHTTPResponse(w, http.StatusOK, roiRequest(s.Engine.ROI()))
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	res, err := s.Engine.Update(r.Context())
	s.writeUpdate(w, res, err)
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	var req StepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	dir, err := navigator.ParseDirection(req.Direction)
	if err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.Engine.Step(r.Context(), dir)
	s.writeUpdate(w, res, err)
}

func (s *Server) handleViewportBack(w http.ResponseWriter, r *http.Request) {
	res, err := s.Engine.StepBack(r.Context())
	s.writeUpdate(w, res, err)
}

func (s *Server) handleViewportForward(w http.ResponseWriter, r *http.Request) {
	res, err := s.Engine.StepForward(r.Context())
	s.writeUpdate(w, res, err)
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	var req BudgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	e := s.Engine
	if req.Mode != nil {
		mode, err := navigator.ParseMode(*req.Mode)
		if err != nil {
			s.writeHTTPError(w, http.StatusBadRequest, err.Error())
			return
		}
		e.SetBudgetMode(mode)
	}
	switch {
	case req.Min != nil && req.Max != nil:
		e.SetBudgetRange(*req.Min, *req.Max)
	case req.Min != nil:
		e.SetBudgetMin(*req.Min)
	case req.Max != nil:
		e.SetBudgetRange(e.Budget().Min, *req.Max)
	}
	if req.Target != nil {
		e.SetBudgetTarget(*req.Target)
	}
	if req.Heuristic != nil {
		e.SetHeuristic(*req.Heuristic)
	}
	s.writeHTTPResponse(w, http.StatusOK, budgetResponse(e.Budget()))
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req PauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	s.Engine.PauseUpdates(req.Paused)
	s.writeHTTPResponse(w, http.StatusOK, req)
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	var req SelectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	var resp SelectionResponse
	switch r.PathValue("side") {
	case "embedding":
		resp.Mirrored, resp.Propagated = s.Engine.SelectEmbedding(req.IDs)
	case "data":
		resp.Mirrored, resp.Propagated = s.Engine.SelectData(req.IDs)
	default:
		s.writeHTTPError(w, http.StatusNotFound, "Unknown selection side, use 'embedding' or 'data'")
		return
	}
	if resp.Mirrored == nil {
		resp.Mirrored = []uint32{}
	}
	s.writeHTTPResponse(w, http.StatusOK, resp)
}

// --- Response helpers ---

func (s *Server) writeUpdate(w http.ResponseWriter, res engine.UpdateResult, err error) {
	switch {
	case err == nil:
		s.writeHTTPResponse(w, http.StatusOK, updateResponse(res))
	case errors.Is(err, orchestrator.ErrBusy):
		s.writeHTTPError(w, http.StatusConflict, orchestrator.IsRunning.String())
	case errors.Is(err, engine.ErrRoiNotGood):
		s.writeHTTPError(w, http.StatusConflict, orchestrator.RoiNotGoodForUpdate.String())
	case errors.Is(err, engine.ErrUpdatesPaused):
		s.writeHTTPError(w, http.StatusConflict, orchestrator.UpdatesPaused.String())
	case errors.Is(err, navigator.ErrLevelOutOfRange), errors.Is(err, engine.ErrNoViewportStep):
		s.writeHTTPError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeHTTPError(w, http.StatusInternalServerError, err.Error())
	}
}

func budgetResponse(b navigator.Budget) BudgetResponse {
	return BudgetResponse{Min: b.Min, Max: b.Max, Target: b.Target, Mode: b.Mode.String(), Heuristic: b.Heuristic}
}

func (s *Server) writeHTTPResponse(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeHTTPError(w http.ResponseWriter, statusCode int, message string) {
	s.writeHTTPResponse(w, statusCode, map[string]string{"error": message})
}
