package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"riskrun/internal/canonical"
	"riskrun/internal/models"
	"riskrun/internal/repository"
)

// Seeds a local database with a demo market snapshot and position snapshot
// so a run can be submitted immediately. Safe to re-run: everything is
// content-addressed upserts.
func main() {
	positionsPath := flag.String("positions", "testdata/positions_demo.json", "path to positions JSON array")
	schemaPath := flag.String("schema", "schema.sql", "path to schema file")
	flag.Parse()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	repo, err := repository.NewRepository(dbURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()

	if err := repo.Migrate(*schemaPath); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	market := models.SnapshotPayload{
		Curves: map[string]models.Curve{
			"USD-OIS": {
				Currency: "USD",
				Kind:     models.CurveKindRates,
				Nodes: []models.CurveNode{
					{TenorYears: 0.25, Rate: 0.048},
					{TenorYears: 1, Rate: 0.047},
					{TenorYears: 2, Rate: 0.045},
					{TenorYears: 5, Rate: 0.043},
					{TenorYears: 10, Rate: 0.042},
					{TenorYears: 30, Rate: 0.041},
				},
			},
			"EUR-OIS": {
				Currency: "EUR",
				Kind:     models.CurveKindRates,
				Nodes: []models.CurveNode{
					{TenorYears: 0.25, Rate: 0.036},
					{TenorYears: 1, Rate: 0.034},
					{TenorYears: 5, Rate: 0.031},
					{TenorYears: 10, Rate: 0.03},
				},
			},
			"GBP-OIS": {
				Currency: "GBP",
				Kind:     models.CurveKindRates,
				Nodes: []models.CurveNode{
					{TenorYears: 0.25, Rate: 0.05},
					{TenorYears: 1, Rate: 0.048},
					{TenorYears: 5, Rate: 0.044},
				},
			},
			"USD-CORP": {
				Currency: "USD",
				Kind:     models.CurveKindSpread,
				Nodes: []models.CurveNode{
					{TenorYears: 1, Rate: 0.008},
					{TenorYears: 5, Rate: 0.012},
					{TenorYears: 10, Rate: 0.015},
				},
			},
			"EUR-CORP": {
				Currency: "EUR",
				Kind:     models.CurveKindSpread,
				Nodes: []models.CurveNode{
					{TenorYears: 1, Rate: 0.01},
					{TenorYears: 5, Rate: 0.014},
				},
			},
		},
		FXSpots: map[string]float64{
			"EURUSD": 1.0921,
			"GBPUSD": 1.2744,
			"USDJPY": 147.35,
		},
	}

	marketHash, err := canonical.Hash(market)
	if err != nil {
		log.Fatalf("Failed to hash market payload: %v", err)
	}
	marketSnap := &models.MarketSnapshot{
		SnapshotID:  "eod-demo",
		PayloadHash: marketHash,
		Payload:     market,
	}
	if err := repo.UpsertMarketSnapshot(ctx, marketSnap); err != nil {
		log.Fatalf("Failed to upsert market snapshot: %v", err)
	}
	fmt.Printf("Market snapshot 'eod-demo' seeded (hash %s)\n", marketHash[:12])

	data, err := os.ReadFile(*positionsPath)
	if err != nil {
		log.Fatalf("Failed to read positions file: %v", err)
	}
	var positions []models.Position
	if err := json.Unmarshal(data, &positions); err != nil {
		log.Fatalf("Failed to decode positions file: %v", err)
	}

	posHash, err := canonical.Hash(positions)
	if err != nil {
		log.Fatalf("Failed to hash positions: %v", err)
	}
	posSnap := &models.PositionSnapshot{
		PositionSnapshotID: "positions-demo",
		PayloadHash:        posHash,
		Positions:          positions,
	}
	if err := repo.UpsertPositionSnapshot(ctx, posSnap); err != nil {
		log.Fatalf("Failed to upsert position snapshot: %v", err)
	}
	fmt.Printf("Position snapshot 'positions-demo' seeded with %d positions\n", len(positions))
}
