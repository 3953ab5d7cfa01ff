package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"riskrun/internal/canonical"
	"riskrun/internal/models"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type createSnapshotRequest struct {
	SnapshotID string                 `json:"snapshot_id"`
	Payload    models.SnapshotPayload `json:"payload"`
}

func (s *Server) handleCreateMarketSnapshot(w http.ResponseWriter, r *http.Request) {
	var req createSnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.SnapshotID == "" {
		s.writeErr(w, fmt.Errorf("snapshot_id is required: %w", models.ErrInvalidInput))
		return
	}
	if len(req.Payload.Curves) == 0 && len(req.Payload.FXSpots) == 0 {
		s.writeErr(w, fmt.Errorf("payload must contain curves or fx_spots: %w", models.ErrInvalidInput))
		return
	}

	hash, err := canonical.Hash(req.Payload)
	if err != nil {
		s.writeErr(w, err, zap.String("snapshot_id", req.SnapshotID))
		return
	}

	snap := &models.MarketSnapshot{
		SnapshotID:  req.SnapshotID,
		PayloadHash: hash,
		Payload:     req.Payload,
	}
	if err := s.store.UpsertMarketSnapshot(r.Context(), snap); err != nil {
		s.writeErr(w, err, zap.String("snapshot_id", req.SnapshotID))
		return
	}
	writeAPIResponse(w, map[string]string{"snapshot_id": req.SnapshotID, "payload_hash": hash})
}

func (s *Server) handleGetMarketSnapshot(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snap, err := s.store.GetMarketSnapshot(r.Context(), id)
	if err != nil {
		s.writeErr(w, err, zap.String("snapshot_id", id))
		return
	}
	writeAPIResponse(w, snap)
}

type createPositionsRequest struct {
	PositionSnapshotID string            `json:"position_snapshot_id"`
	Positions          []models.Position `json:"positions"`
}

func (s *Server) handleCreatePositionSnapshot(w http.ResponseWriter, r *http.Request) {
	var req createPositionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.PositionSnapshotID == "" {
		s.writeErr(w, fmt.Errorf("position_snapshot_id is required: %w", models.ErrInvalidInput))
		return
	}
	if len(req.Positions) == 0 {
		s.writeErr(w, fmt.Errorf("positions must be non-empty: %w", models.ErrInvalidInput))
		return
	}
	for _, pos := range req.Positions {
		if pos.PositionID == "" || pos.ProductType == "" {
			s.writeErr(w, fmt.Errorf("every position needs position_id and product_type: %w", models.ErrInvalidInput))
			return
		}
	}

	hash, err := canonical.Hash(req.Positions)
	if err != nil {
		s.writeErr(w, err, zap.String("position_snapshot_id", req.PositionSnapshotID))
		return
	}

	snap := &models.PositionSnapshot{
		PositionSnapshotID: req.PositionSnapshotID,
		PayloadHash:        hash,
		Positions:          req.Positions,
	}
	if err := s.store.UpsertPositionSnapshot(r.Context(), snap); err != nil {
		s.writeErr(w, err, zap.String("position_snapshot_id", req.PositionSnapshotID))
		return
	}
	writeAPIResponse(w, map[string]string{"position_snapshot_id": req.PositionSnapshotID, "payload_hash": hash})
}
