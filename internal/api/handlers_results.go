package api

import (
	"fmt"
	"net/http"

	"riskrun/internal/models"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]
	scenarioID := r.URL.Query().Get("scenario_id")
	if scenarioID == "" {
		scenarioID = models.ScenarioBase
	}

	summary, err := s.store.Summary(r.Context(), runID, scenarioID)
	if err != nil {
		s.writeErr(w, err, zap.String("run_id", runID), zap.String("scenario_id", scenarioID))
		return
	}
	writeAPIResponse(w, summary)
}

func (s *Server) handleCube(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]
	q := r.URL.Query()

	measure := q.Get("measure")
	if measure == "" {
		s.writeErr(w, fmt.Errorf("measure query parameter is required: %w", models.ErrInvalidInput))
		return
	}
	groupBy := q.Get("by")
	if groupBy == "" {
		groupBy = "product_type"
	}
	scenarioID := q.Get("scenario_id")
	if scenarioID == "" {
		scenarioID = models.ScenarioBase
	}

	cells, err := s.store.Cube(r.Context(), runID, measure, groupBy, scenarioID)
	if err != nil {
		s.writeErr(w, err,
			zap.String("run_id", runID),
			zap.String("measure", measure),
			zap.String("group_by", groupBy))
		return
	}
	if cells == nil {
		cells = []models.CubeCell{}
	}
	writeAPIResponse(w, cells)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Error("health check failed", zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"ok": false}`)
		return
	}
	fmt.Fprint(w, `{"ok": true}`)
}
