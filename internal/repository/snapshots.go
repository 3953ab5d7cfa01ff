package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"riskrun/internal/models"

	"github.com/jackc/pgx/v5"
)

// UpsertMarketSnapshot stores a snapshot under its content hash. Re-posting
// the same id with the same hash is a no-op; the same id with a different
// hash is a conflict because snapshots are immutable.
func (r *Repository) UpsertMarketSnapshot(ctx context.Context, snap *models.MarketSnapshot) error {
	payload, err := json.Marshal(snap.Payload)
	if err != nil {
		return fmt.Errorf("marshal snapshot payload: %w", err)
	}

	var existingHash string
	err = r.db.QueryRow(ctx, `
		INSERT INTO marketdata_snapshot (snapshot_id, payload_hash, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (snapshot_id) DO UPDATE SET payload_hash = marketdata_snapshot.payload_hash
		RETURNING payload_hash`,
		snap.SnapshotID, snap.PayloadHash, payload,
	).Scan(&existingHash)
	if err != nil {
		return fmt.Errorf("upsert market snapshot %s: %w", snap.SnapshotID, err)
	}
	if existingHash != snap.PayloadHash {
		return fmt.Errorf("snapshot %s already exists with different payload: %w", snap.SnapshotID, models.ErrConflict)
	}
	return nil
}

func (r *Repository) GetMarketSnapshot(ctx context.Context, snapshotID string) (*models.MarketSnapshot, error) {
	var (
		snap    models.MarketSnapshot
		payload []byte
	)
	err := r.db.QueryRow(ctx, `
		SELECT snapshot_id, payload_hash, payload, created_at
		FROM marketdata_snapshot WHERE snapshot_id = $1`,
		snapshotID,
	).Scan(&snap.SnapshotID, &snap.PayloadHash, &payload, &snap.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("market snapshot %s: %w", snapshotID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get market snapshot %s: %w", snapshotID, err)
	}
	if err := json.Unmarshal(payload, &snap.Payload); err != nil {
		return nil, fmt.Errorf("decode market snapshot %s: %w", snapshotID, err)
	}
	return &snap, nil
}

// UpsertPositionSnapshot follows the same immutability contract as market
// snapshots.
func (r *Repository) UpsertPositionSnapshot(ctx context.Context, snap *models.PositionSnapshot) error {
	payload, err := json.Marshal(snap.Positions)
	if err != nil {
		return fmt.Errorf("marshal positions payload: %w", err)
	}

	var existingHash string
	err = r.db.QueryRow(ctx, `
		INSERT INTO position_snapshot (position_snapshot_id, payload_hash, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (position_snapshot_id) DO UPDATE SET payload_hash = position_snapshot.payload_hash
		RETURNING payload_hash`,
		snap.PositionSnapshotID, snap.PayloadHash, payload,
	).Scan(&existingHash)
	if err != nil {
		return fmt.Errorf("upsert position snapshot %s: %w", snap.PositionSnapshotID, err)
	}
	if existingHash != snap.PayloadHash {
		return fmt.Errorf("position snapshot %s already exists with different payload: %w", snap.PositionSnapshotID, models.ErrConflict)
	}
	return nil
}

func (r *Repository) GetPositionSnapshot(ctx context.Context, snapshotID string) (*models.PositionSnapshot, error) {
	var (
		snap    models.PositionSnapshot
		payload []byte
	)
	err := r.db.QueryRow(ctx, `
		SELECT position_snapshot_id, payload_hash, payload, created_at
		FROM position_snapshot WHERE position_snapshot_id = $1`,
		snapshotID,
	).Scan(&snap.PositionSnapshotID, &snap.PayloadHash, &payload, &snap.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("position snapshot %s: %w", snapshotID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get position snapshot %s: %w", snapshotID, err)
	}
	if err := json.Unmarshal(payload, &snap.Positions); err != nil {
		return nil, fmt.Errorf("decode position snapshot %s: %w", snapshotID, err)
	}
	return &snap, nil
}
