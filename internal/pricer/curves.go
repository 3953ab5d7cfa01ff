package pricer

import (
	"fmt"
	"math"

	"riskrun/internal/models"
)

// findCurve returns the first curve of the given kind for a currency.
// Snapshots are expected to carry at most one curve per (currency, kind).
func findCurve(snap models.SnapshotPayload, currency, kind string) (models.Curve, bool) {
	for _, c := range snap.Curves {
		if c.Currency == currency && c.Kind == kind {
			return c, true
		}
	}
	return models.Curve{}, false
}

// zeroRate linearly interpolates the curve at tenor t, with flat
// extrapolation beyond the first and last nodes.
func zeroRate(curve models.Curve, t float64) float64 {
	nodes := curve.Nodes
	if len(nodes) == 0 {
		return 0
	}
	if t <= nodes[0].TenorYears {
		return nodes[0].Rate
	}
	last := nodes[len(nodes)-1]
	if t >= last.TenorYears {
		return last.Rate
	}
	for i := 1; i < len(nodes); i++ {
		if t <= nodes[i].TenorYears {
			lo, hi := nodes[i-1], nodes[i]
			w := (t - lo.TenorYears) / (hi.TenorYears - lo.TenorYears)
			return lo.Rate + w*(hi.Rate-lo.Rate)
		}
	}
	return last.Rate
}

// discountFactor uses semiannual compounding, matching the bond coupon
// convention so a par bond on a flat curve prices to par.
func discountFactor(rate, t float64) float64 {
	return math.Pow(1+rate/2, -2*t)
}

// discounter bundles the rate and spread curves for a currency with an
// internal parallel bump used for sensitivity re-pricing.
type discounter struct {
	rates    models.Curve
	spread   models.Curve
	rateBump float64
}

// newDiscounter builds the discount curve for a currency. includeSpread
// adds the credit-spread curve when the snapshot carries one; credit-risky
// products (bonds, loans) discount on zero+spread, FX forwards on zero only.
func newDiscounter(snap models.SnapshotPayload, currency string, includeSpread bool) (*discounter, error) {
	rates, ok := findCurve(snap, currency, models.CurveKindRates)
	if !ok {
		return nil, fmt.Errorf("no %s rates curve in snapshot", currency)
	}
	d := &discounter{rates: rates}
	if includeSpread {
		if spread, ok := findCurve(snap, currency, models.CurveKindSpread); ok {
			d.spread = spread
		}
	}
	return d, nil
}

func (d *discounter) withBump(bump float64) *discounter {
	bumped := *d
	bumped.rateBump = bump
	return &bumped
}

func (d *discounter) df(t float64) float64 {
	rate := zeroRate(d.rates, t) + d.rateBump
	if len(d.spread.Nodes) > 0 {
		rate += zeroRate(d.spread, t)
	}
	return discountFactor(rate, t)
}
