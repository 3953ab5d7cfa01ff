package pricer

import (
	"fmt"

	"riskrun/internal/models"
)

// PriceFXForward values a cash-settled FX forward in the quote currency:
// PV = notional * (spot - strike) * df_quote(T).
//
// Instrument attributes: pair (e.g. "EURUSD"), strike, maturity_years.
// The position notional is in the base currency; the snapshot must carry a
// spot for the pair and a rates curve for the quote currency.
//
// FX_DELTA is the value change for a 1% spot move, matching the
// FX_SPOT_1PCT scenario bump.
func PriceFXForward(pos models.Position, instrument map[string]any, snap models.SnapshotPayload, measures []string, scenarioID string) (map[string]float64, error) {
	notional := pos.Attributes.Notional
	pair := strField(instrument, "pair")
	strike := numField(instrument, "strike", 0)
	maturity := numField(instrument, "maturity_years", 0)

	if len(pair) != 6 {
		return nil, &Error{ProductType: pos.ProductType, PositionID: pos.PositionID, Reason: fmt.Sprintf("invalid fx pair %q", pair)}
	}
	spot, ok := snap.FXSpots[pair]
	if !ok {
		return nil, &Error{ProductType: pos.ProductType, PositionID: pos.PositionID, Reason: fmt.Sprintf("no spot for pair %s in snapshot", pair)}
	}

	quoteCcy := pair[3:]
	disc, err := newDiscounter(snap, quoteCcy, false)
	if err != nil {
		return nil, &Error{ProductType: pos.ProductType, PositionID: pos.PositionID, Reason: err.Error()}
	}

	pv := notional * (spot - strike) * disc.df(maturity)

	out := make(map[string]float64, len(measures))
	for _, m := range measures {
		switch m {
		case models.MeasurePV:
			out[m] = pv
		case models.MeasureDV01:
			bumpedPV := notional * (spot - strike) * disc.withBump(RatesBump).df(maturity)
			out[m] = (pv - bumpedPV) / RatesBump
		case models.MeasureFXDelta:
			bumpedPV := notional * (spot*(1+FXBump) - strike) * disc.df(maturity)
			out[m] = bumpedPV - pv
		case models.MeasureAccruedInterest:
			out[m] = 0
		default:
			return nil, &Error{ProductType: pos.ProductType, PositionID: pos.PositionID, Reason: fmt.Sprintf("unsupported measure %s", m)}
		}
	}
	return out, nil
}
