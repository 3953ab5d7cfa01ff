package api

import "github.com/gorilla/mux"

func registerRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/health", s.handleHealth).Methods("GET", "OPTIONS")

	r.HandleFunc("/api/v1/marketdata/snapshots", s.handleCreateMarketSnapshot).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/v1/marketdata/snapshots/{id}", s.handleGetMarketSnapshot).Methods("GET", "OPTIONS")

	r.HandleFunc("/api/v1/positions/snapshot", s.handleCreatePositionSnapshot).Methods("POST", "OPTIONS")

	r.HandleFunc("/api/v1/runs", s.handleCreateRun).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/v1/runs", s.handleListRuns).Methods("GET")
	r.HandleFunc("/api/v1/runs/{run_id}", s.handleGetRun).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/runs/{run_id}/tasks", s.handleListRunTasks).Methods("GET", "OPTIONS")

	r.HandleFunc("/api/v1/results/{run_id}/summary", s.handleSummary).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/results/{run_id}/cube", s.handleCube).Methods("GET", "OPTIONS")
}
