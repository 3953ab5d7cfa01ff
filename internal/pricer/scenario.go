package pricer

import (
	"fmt"

	"riskrun/internal/models"
)

// Scenario bump sizes.
const (
	RatesBump  = 0.0001 // one basis point
	SpreadBump = 0.0025
	FXBump     = 0.01 // multiplicative, spot * (1 + FXBump)
)

// ApplyScenario returns an independent copy of the snapshot with the
// scenario's bumps applied. The input is never mutated; applying BASE
// returns a copy hash-equal to the original. Scenarios do not compose.
func ApplyScenario(snap models.SnapshotPayload, scenarioID string) (models.SnapshotPayload, error) {
	out := copySnapshot(snap)

	switch scenarioID {
	case models.ScenarioBase:
		// identity
	case models.ScenarioRatesParallel:
		bumpCurves(out.Curves, models.CurveKindRates, RatesBump)
	case models.ScenarioSpread:
		bumpCurves(out.Curves, models.CurveKindSpread, SpreadBump)
	case models.ScenarioFXSpot:
		for pair, spot := range out.FXSpots {
			out.FXSpots[pair] = spot * (1 + FXBump)
		}
	default:
		return models.SnapshotPayload{}, fmt.Errorf("scenario %q: %w", scenarioID, models.ErrInvalidInput)
	}
	return out, nil
}

func bumpCurves(curves map[string]models.Curve, kind string, bump float64) {
	for name, c := range curves {
		if c.Kind != kind {
			continue
		}
		for i := range c.Nodes {
			c.Nodes[i].Rate += bump
		}
		curves[name] = c
	}
}

func copySnapshot(snap models.SnapshotPayload) models.SnapshotPayload {
	out := models.SnapshotPayload{
		Curves: make(map[string]models.Curve, len(snap.Curves)),
	}
	for name, c := range snap.Curves {
		nodes := make([]models.CurveNode, len(c.Nodes))
		copy(nodes, c.Nodes)
		out.Curves[name] = models.Curve{Currency: c.Currency, Kind: c.Kind, Nodes: nodes}
	}
	if snap.FXSpots != nil {
		out.FXSpots = make(map[string]float64, len(snap.FXSpots))
		for pair, spot := range snap.FXSpots {
			out.FXSpots[pair] = spot
		}
	}
	return out
}
