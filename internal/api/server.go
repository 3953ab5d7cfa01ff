package api

import (
	"context"
	"fmt"
	"net/http"

	"riskrun/internal/models"
	"riskrun/internal/orchestrator"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Store is everything the HTTP handlers read and write directly; run
// creation goes through the orchestrator instead.
type Store interface {
	Ping(ctx context.Context) error
	UpsertMarketSnapshot(ctx context.Context, snap *models.MarketSnapshot) error
	GetMarketSnapshot(ctx context.Context, snapshotID string) (*models.MarketSnapshot, error)
	UpsertPositionSnapshot(ctx context.Context, snap *models.PositionSnapshot) error
	GetPositionSnapshot(ctx context.Context, snapshotID string) (*models.PositionSnapshot, error)
	ListRuns(ctx context.Context, limit int) ([]models.Run, error)
	ListRunTasks(ctx context.Context, runID string) ([]models.Task, error)
	Summary(ctx context.Context, runID, scenarioID string) (*models.RunSummary, error)
	Cube(ctx context.Context, runID, measure, groupBy, scenarioID string) ([]models.CubeCell, error)
}

type Server struct {
	store      Store
	orch       *orchestrator.Orchestrator
	log        *zap.Logger
	httpServer *http.Server
}

func NewServer(store Store, orch *orchestrator.Orchestrator, port int, log *zap.Logger) *Server {
	s := &Server{store: store, orch: orch, log: log}

	r := mux.NewRouter()
	r.Use(commonMiddleware)
	registerRoutes(r, s)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
	return s
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func commonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
