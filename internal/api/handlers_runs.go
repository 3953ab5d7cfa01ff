package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"riskrun/internal/models"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req models.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	run, err := s.orch.CreateRun(r.Context(), &req)
	if err != nil {
		s.writeErr(w, err, zap.String("run_id", req.RunID))
		return
	}
	writeAPIResponse(w, map[string]string{"run_id": run.RunID, "status": run.Status})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]
	run, err := s.orch.GetRun(r.Context(), runID)
	if err != nil {
		s.writeErr(w, err, zap.String("run_id", runID))
		return
	}
	writeAPIResponse(w, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if runs == nil {
		runs = []models.Run{}
	}
	writeAPIResponse(w, runs)
}

func (s *Server) handleListRunTasks(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]
	// 404 on unknown runs rather than returning an empty task list.
	if _, err := s.orch.GetRun(r.Context(), runID); err != nil {
		s.writeErr(w, err, zap.String("run_id", runID))
		return
	}
	tasks, err := s.store.ListRunTasks(r.Context(), runID)
	if err != nil {
		s.writeErr(w, err, zap.String("run_id", runID))
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	writeAPIResponse(w, tasks)
}
